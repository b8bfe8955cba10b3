package culprit

import (
	"context"
	"fmt"
	"math"

	"github.com/olekukonko/tablewriter"
)

// If no failed/passed statistics exist yet, this rate (1 failed run out of 30) is
// assumed when deriving a confident number of retries.
const lowerFailureRate = 1.0 / 30

// BayesianSearch finds the culprit of a transient failure. From the pass/fail history
// observed so far it computes, for every candidate commit, the probability that the
// failure was introduced there, jumps to the median of that distribution and retries
// the test often enough that an all-pass verdict is trustworthy at the configured
// confidence. Once a commit passes cleanly, the remaining gap is walked linearly.
//
// Warm-start counts from the config are folded into the same running totals as
// in-run observations. Whether historical counts should be weighted differently is an
// open accuracy question; they are treated as fungible here.
type BayesianSearch struct {
	search

	// Index of the newest commit confirmed by direct testing to fail. Moves only
	// toward the older end of the range.
	lastFailedCommit int

	// Tolerated probability of a false all-pass verdict, i.e. 1 - confidence.
	falsePassTolerance float64

	failedTests int // Warm-start failure count from the config
	passedTests int // Warm-start pass count from the config
}

func newBayesianSearch(in *infra) (*BayesianSearch, error) {
	commits, err := in.commitsInRange()
	if err != nil {
		return nil, err
	}
	// Every commit is assumed to have been tested once and passed. The assumption
	// makes a single seeded pass per commit the unit of distance in the probability
	// model.
	for i := range commits {
		commits[i].Passed = 1
	}

	b := &BayesianSearch{
		search: search{
			infra:   in,
			commits: commits,
			log:     in.log.WithField("strategy", StrategyBayesian),
		},
		falsePassTolerance: 1 - in.cfg.Confidence,
		failedTests:        in.cfg.Failed,
		passedTests:        in.cfg.Passed,
	}
	// The newest commit must prove for real that the failure reproduces at all.
	b.updateCommitStat(0, -1, 0)
	return b, nil
}

func (b *BayesianSearch) TestNextCommit(ctx context.Context) (int, bool, error) {
	median := b.medianPosition()
	if median == len(b.commits) {
		return b.finishExhaustedRange(), true, nil
	}
	b.log.Infof("---------- Median to analyze: %d", median)
	b.log.Info(b.commits[median].Commit.String())
	b.log.Infof("Commits in range: %d", median-b.lastFailedCommit)
	b.log.Debug("Analyzed commits:")
	b.logRangeWithProbabilities(b.lastFailedCommit, median, b.log.Debug)

	if err := b.runSetup(ctx, median); err != nil {
		return median, false, err
	}
	retries := b.retriesNumber()
	passed, err := b.runTestMultipleTimes(ctx, median, retries)
	if err != nil {
		return median, false, err
	}

	b.log.Debug("Analysis results:")
	b.logRangeWithProbabilities(b.lastFailedCommit, median, b.log.Debug)

	if !passed {
		b.lastFailedCommit = median
		return median, false, nil
	}

	// The commit passed all retries: the culprit lies strictly between the last
	// failed commit and the median. Refine with a linear walk.
	failurePosition, err := b.searchFailureInRange(ctx, median)
	if err != nil {
		return failurePosition, false, err
	}

	b.log.Debug("Final trace:")
	totalSteps := b.logCommitRange(0, median+1, b.log.Debug)
	b.log.Debugf("Total steps in range: %d", totalSteps)

	b.log.Info("---------- Final range with probabilities:")
	b.printFinalRange(failurePosition, median)

	return failurePosition, true, nil
}

// medianPosition picks the next commit to verify. Until the newest commit has failed
// at least once, that commit itself is tested to confirm the issue reproduces. A
// computed median colliding with the last failed commit is bumped by one to force
// progress; a median one past the end of the range means every commit failed.
func (b *BayesianSearch) medianPosition() int {
	if b.commits[0].Failed == 0 {
		b.log.Info("---------- Stage: Running the first commit to be sure the failure is reproducible")
		return 0
	}
	median := b.calculateMedianPosition(0.5)
	if median == b.lastFailedCommit {
		median++
	}
	return median
}

// finishExhaustedRange reports the terminal outcome for a range in which every commit
// failed. The oldest analyzed commit is the best answer the range allows, but the
// failure was likely introduced even earlier.
func (b *BayesianSearch) finishExhaustedRange() int {
	last := len(b.commits) - 1
	b.log.Info("---------- Every commit in the analyzed range failed")
	b.logCommitRange(0, len(b.commits), b.log.Debug)
	b.log.Infof("The issue is probably introduced before %s.\nExtend the analyzed range to locate the exact commit", b.commits[last].Commit.Hash)
	return last
}

// calculateMedianPosition walks candidate indices starting at the last failed commit,
// accumulating probability mass until it exceeds the target, and returns the first
// index at which the cumulative distribution crosses it.
func (b *BayesianSearch) calculateMedianPosition(cdfProbability float64) int {
	cdf := 0.0
	i := b.lastFailedCommit
	for cdf <= cdfProbability && i < len(b.commits) {
		cdf += b.probabilityOfCommit(i)
		i++
	}
	return i - 1
}

// probabilityOfCommit returns the probability that the failure was introduced at the
// given commit, based on the passes observed strictly after the last failed commit up
// to and including the candidate.
func (b *BayesianSearch) probabilityOfCommit(commitNumber int) float64 {
	passedAfterLastFailure := 0
	for i := b.lastFailedCommit + 1; i <= commitNumber; i++ {
		passedAfterLastFailure += b.commits[i].Passed
	}
	failed, passed := b.failedPassedTotalCount()
	return probabilityOfFailure(failed, passed, passedAfterLastFailure)
}

// probabilityOfFailure implements expression (20) from
// http://www.coppit.org/papers/isolating_intermittent_failures.pdf: the probability
// that the culprit lies exactly passedCommitsCount observed passes behind the last
// known failure, given failed failures and passed passes overall.
func probabilityOfFailure(failed, passed, passedCommitsCount int) float64 {
	res := 1.0
	for i := passed + 1; i <= passed+failed+1; i++ {
		res *= float64(i) / float64(i+passedCommitsCount)
	}
	return float64(failed+1) * res / float64(passed+failed+2+passedCommitsCount)
}

// searchFailureInRange walks the commits strictly between the last failed commit and
// end, testing each with the confident number of retries. The first commit whose
// retries all pass marks the boundary: the culprit is the commit right before it, or
// end-1 if the whole sub-range keeps reproducing the failure.
func (b *BayesianSearch) searchFailureInRange(ctx context.Context, end int) (int, error) {
	retries := b.retriesNumber()
	failed, passed := b.failedPassedTotalCount()
	b.log.Info("Final range:")
	b.logRangeWithProbabilities(b.lastFailedCommit, end, b.log.Info)
	b.log.Infof("   Last failed: %d", b.lastFailedCommit)
	b.log.Infof("   Last passed: %d", end)
	b.log.Infof("   Total Passed: %d, Failed: %d", passed, failed)
	b.log.Infof("   Confident retries: %d", retries)

	b.log.Info("---------- Stage: Running linear issue search inside the range")
	for i := b.lastFailedCommit + 1; i < end; i++ {
		if err := b.runSetup(ctx, i); err != nil {
			return i, err
		}
		clean, err := b.runTestMultipleTimes(ctx, i, retries)
		if err != nil {
			return i, err
		}
		if clean {
			return i - 1, nil
		}
	}
	return end - 1, nil
}

// failedPassedTotalCount returns the warm-start counts plus everything recorded up to
// and including the last failed commit.
func (b *BayesianSearch) failedPassedTotalCount() (failed, passed int) {
	f, p := b.failedPassedCount(b.lastFailedCommit)
	return b.failedTests + f, b.passedTests + p
}

// failedPassedCount sums the counters of commits 0 through commitNumber inclusive.
func (b *BayesianSearch) failedPassedCount(commitNumber int) (failed, passed int) {
	for i := 0; i <= commitNumber; i++ {
		passed += b.commits[i].Passed
		failed += b.commits[i].Failed
	}
	return failed, passed
}

// retriesNumber derives how many retries are needed so that the probability of a bad
// commit passing all of them by chance stays below the false-pass tolerance. With
// fewer than 30 total observations the estimate falls back to the conservative
// default failure rate to avoid instability.
func (b *BayesianSearch) retriesNumber() int {
	failed, passed := b.failedPassedTotalCount()
	if failed+passed < int(1/lowerFailureRate) {
		return calculateRetries(1, int(1/lowerFailureRate), b.falsePassTolerance)
	}
	return calculateRetries(failed, passed, b.falsePassTolerance)
}

func calculateRetries(failed, passed int, falsePassTolerance float64) int {
	if failed == 0 {
		return 0
	}
	failureRate := float64(failed) / float64(failed+passed)
	return int(math.Log(falsePassTolerance)/math.Log(1-failureRate) + 1)
}

func (b *BayesianSearch) logRangeWithProbabilities(start, end int, logf func(args ...interface{})) {
	for i := start; i <= end; i++ {
		logf(i, " ", b.commits[i].String(), fmt.Sprintf(" probability: %.4f", b.probabilityOfCommit(i)))
	}
}

// printFinalRange renders the table of per-commit probabilities for the narrowed
// range. A failure position of -1 means the issue never reproduced, which is reported
// as a normal terminal outcome rather than an error.
func (b *BayesianSearch) printFinalRange(failurePosition, end int) {
	var failureRate float64
	var passed, totalFailed, totalPassed int

	position := failurePosition
	if failurePosition != -1 {
		totalFailed, totalPassed = b.failedPassedCount(position)
		failureRate = float64(totalFailed) / float64(totalFailed+totalPassed)
		passed = b.commits[position+1].Passed
	} else {
		position = 0
		totalFailed, totalPassed = b.commits[position].Failed, b.commits[position].Passed
		failureRate = lowerFailureRate
		passed = totalPassed
		b.log.Infof("The issue is not reproduced locally after %d retries.\nYou can try to increase the \"--confidence\" level or should re-run the test on different infrastructure", totalPassed)
	}

	b.log.Infof("Failure rate: %.2f", failureRate)
	b.log.Infof("Total Passed: %d, Failed: %d", totalPassed, totalFailed)

	table := tablewriter.NewWriter(b.log.Logger.Out)
	table.SetHeader([]string{"Probability", "Hash", "Message"})
	table.SetBorder(false)
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)

	appendCommit := func(prob float64, c Commit) {
		table.Append([]string{fmt.Sprintf("%.4f", prob), c.Hash, c.Message})
	}

	appendCommit(1-math.Pow(1-failureRate, float64(passed)), b.commits[position].Commit)
	for i := position + 1; i <= end; i++ {
		appendCommit(math.Pow(1-failureRate, float64(passed))*failureRate, b.commits[i].Commit)
		passed++
	}
	table.Render()
}
