package culprit

import "context"

// BisectSearch is a classic binary search over the commit range. It assumes the
// failure reproduces on every run, so every commit is tested exactly once and the
// known-bad/known-good boundaries halve the range each round.
type BisectSearch struct {
	search

	start int // Known-bad boundary, moves only forward
	end   int // Known-good boundary, moves only backward
}

func newBisectSearch(in *infra) (*BisectSearch, error) {
	commits, err := in.commitsInRange()
	if err != nil {
		return nil, err
	}

	b := &BisectSearch{
		search: search{
			infra:   in,
			commits: commits,
			log:     in.log.WithField("strategy", StrategyBisect),
		},
		start: 0,
		end:   len(commits) - 1,
	}
	// The newest commit is assumed to fail and the oldest to pass; they are never
	// tested for real.
	b.updateCommitStat(b.start, 0, 1)
	b.updateCommitStat(b.end, 1, 0)
	return b, nil
}

func (b *BisectSearch) TestNextCommit(ctx context.Context) (int, bool, error) {
	if b.end-b.start < 2 {
		b.log.Info("Bisect search result:")
		b.logCommitRange(b.start, b.end+1, b.log.Info)
		return b.end - 1, true, nil
	}

	median := b.start + (b.end-b.start)/2
	b.log.Infof("Median: %d", median)

	if err := b.runSetup(ctx, median); err != nil {
		return median, false, err
	}
	passed, err := b.runTestMultipleTimes(ctx, median, 1)
	if err != nil {
		return median, false, err
	}
	if passed {
		b.end = median
	} else {
		b.start = median
	}

	return median, false, nil
}
