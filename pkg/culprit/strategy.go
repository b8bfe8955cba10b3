package culprit

import (
	"context"

	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
)

// A Strategy decides which commit to verify next and when the search is over.
type Strategy interface {
	// TestNextCommit checks out and tests one more commit. The returned index points
	// into Commits. When done is true the index identifies the culprit commit, or is
	// -1 if the issue could not be reproduced at all.
	TestNextCommit(ctx context.Context) (index int, done bool, err error)

	// Commits returns the annotated commit range the strategy operates on.
	Commits() []CommitStatus
}

// search carries the state and helpers shared by both strategies: the commit range
// with its counters and the test execution plumbing.
type search struct {
	infra   *infra
	commits []CommitStatus
	log     *logrus.Entry
}

func (s *search) Commits() []CommitStatus {
	return s.commits
}

func (s *search) runSetup(ctx context.Context, commitNumber int) error {
	return s.infra.checkoutAndSetup(ctx, s.commits[commitNumber].Commit)
}

// runTestMultipleTimes runs the test command up to timesToRun times at the given
// commit, in batches of the configured parallelism, stopping at the first failing
// batch. Every batch updates the commit's counters: a clean batch adds one pass per
// launched execution, a failing batch adds a single failure.
func (s *search) runTestMultipleTimes(ctx context.Context, commitNumber, timesToRun int) (bool, error) {
	parallel := s.infra.runner.Workers()
	s.log.Infof("---------- Stage: Run test %d times", timesToRun)

	var bar *progressbar.ProgressBar
	if s.infra.showProgress && timesToRun > 1 {
		bar = progressbar.NewOptions(timesToRun,
			progressbar.OptionShowCount(),
			progressbar.OptionSetWidth(40),
			progressbar.OptionSetDescription("Verifying commit "+s.commits[commitNumber].Commit.Hash),
		)
		defer bar.Clear()
	}

	n := timesToRun
	for n > 0 {
		status := s.commits[commitNumber]
		s.log.Infof("Verifying commit: %d, hash: %s, iteration: %d, date: %s, message: %s",
			commitNumber, status.Commit.Hash, timesToRun-n, status.Commit.Date.Format("2006-01-02 15:04:05"), status.Commit.Message)

		p := min(n, parallel)
		n -= parallel

		passed, err := s.infra.runTestBatch(ctx)
		if err != nil {
			return false, err
		}
		if bar != nil {
			bar.Add(p)
		}
		if !passed {
			s.updateCommitStat(commitNumber, 0, 1)
			s.log.Info("Test Failed")
			return false, nil
		}
		s.updateCommitStat(commitNumber, p, 0)
		s.log.Info("Test Passed")
	}
	return true, nil
}

func (s *search) updateCommitStat(commitNumber, passed, failed int) {
	s.commits[commitNumber].Passed += passed
	s.commits[commitNumber].Failed += failed
}

// logCommitRange logs the statuses of commits in [start, end) and returns the total
// number of recorded test executions in that range.
func (s *search) logCommitRange(start, end int, logf func(args ...interface{})) int {
	totalSteps := 0
	for i := start; i < end; i++ {
		logf(i, " ", s.commits[i].String())
		totalSteps += s.commits[i].Passed + s.commits[i].Failed
	}
	return totalSteps
}
