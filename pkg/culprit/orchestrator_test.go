package culprit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(StrategyBisect)
	cfg.Cmd = ""
	vcs := &fakeVCS{commits: makeCommits(4)}

	bisect, err := New(cfg, vcs, &fakeRunner{vcs: vcs, verdict: failsBelow(2)}, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig, "Invalid config not rejected")
	assert.Nil(t, bisect, "Got a driver despite the invalid config")
	assert.Zero(t, vcs.checkouts, "VCS touched before validation")
}

func TestRunBisectEndToEnd(t *testing.T) {
	in, vcs, _ := testInfra(testConfig(StrategyBisect), 10, 16)

	bisect, err := New(in.cfg, in.vcs, in.runner, nil)
	assert.Nil(t, err, "Creating the driver failed")

	result, err := bisect.Run(context.Background())
	assert.Nil(t, err, "Search failed")

	assert.True(t, result.Reproduced, "Deterministic failure not reproduced")
	assert.Equal(t, 9, result.Index, "Wrong culprit index")
	assert.Equal(t, "c09", result.Commit.Hash, "Wrong culprit commit")
	assert.Equal(t, "info of c09", result.Info, "Culprit info not filled in")
	assert.Equal(t, 1, vcs.resets, "Working copy not restored exactly once")
}

func TestRunBayesianEndToEnd(t *testing.T) {
	in, vcs, _ := testInfra(testConfig(StrategyBayesian), 5, 10)

	bisect, err := New(in.cfg, in.vcs, in.runner, nil)
	assert.Nil(t, err, "Creating the driver failed")

	result, err := bisect.Run(context.Background())
	assert.Nil(t, err, "Search failed")

	assert.True(t, result.Reproduced, "Deterministic failure not reproduced")
	assert.Equal(t, 4, result.Index, "Wrong culprit index")
	assert.Equal(t, "c04", result.Commit.Hash, "Wrong culprit commit")
	assert.Equal(t, 1, vcs.resets, "Working copy not restored exactly once")
}

func TestRunNotReproduced(t *testing.T) {
	in, vcs, _ := testInfra(testConfig(StrategyBayesian), 0, 10)

	bisect, err := New(in.cfg, in.vcs, in.runner, nil)
	assert.Nil(t, err, "Creating the driver failed")

	result, err := bisect.Run(context.Background())
	assert.Nil(t, err, "Search failed")

	assert.False(t, result.Reproduced, "An always-passing issue counts as reproduced")
	assert.Equal(t, -1, result.Index, "Expected the not-reproduced marker index")
	assert.Equal(t, 1, vcs.resets, "Working copy not restored exactly once")
}

func TestRunPrepareFailureAborts(t *testing.T) {
	cfg := testConfig(StrategyBisect)
	cfg.PrepareCmd = "prepare"
	vcs := &fakeVCS{commits: makeCommits(16)}
	runner := &fakeRunner{vcs: vcs, verdict: func(cmd string, _, _ int) bool {
		return cmd != "prepare"
	}}

	bisect, err := New(cfg, vcs, runner, nil)
	assert.Nil(t, err, "Creating the driver failed")

	_, err = bisect.Run(context.Background())
	assert.ErrorIs(t, err, ErrSetup, "Prepare failure did not abort the search")
	assert.Equal(t, 1, runner.executions, "Tests ran despite the failed prepare stage")
	assert.Equal(t, 1, vcs.resets, "Working copy not restored after the abort")
}

func TestRunSetupFailureAborts(t *testing.T) {
	cfg := testConfig(StrategyBisect)
	cfg.SetupCmd = "setup"
	vcs := &fakeVCS{commits: makeCommits(16)}
	runner := &fakeRunner{vcs: vcs, verdict: func(cmd string, commit, _ int) bool {
		return cmd != "setup" && commit >= 10
	}}

	bisect, err := New(cfg, vcs, runner, nil)
	assert.Nil(t, err, "Creating the driver failed")

	_, err = bisect.Run(context.Background())
	assert.ErrorIs(t, err, ErrSetup, "Setup failure did not abort the search")
	assert.Equal(t, 1, vcs.resets, "Working copy not restored after the abort")
}

func TestRunSetupRunsOncePerCheckout(t *testing.T) {
	cfg := testConfig(StrategyBisect)
	cfg.SetupCmd = "setup"
	vcs := &fakeVCS{commits: makeCommits(16)}
	runner := &fakeRunner{vcs: vcs, verdict: func(cmd string, commit, _ int) bool {
		return cmd == "setup" || commit >= 10
	}}

	bisect, err := New(cfg, vcs, runner, nil)
	assert.Nil(t, err, "Creating the driver failed")

	_, err = bisect.Run(context.Background())
	assert.Nil(t, err, "Search failed")

	// One setup per tested commit, one test per tested commit.
	assert.Equal(t, 4, runner.cmdCounts["setup"], "Setup command run count mismatch")
	assert.Equal(t, 4, runner.cmdCounts[cfg.Cmd], "Test command run count mismatch")
	assert.Equal(t, 4, vcs.checkouts, "Checkout count mismatch")
}

func TestRunEmptyRangeFails(t *testing.T) {
	vcs := &fakeVCS{}

	bisect, err := New(testConfig(StrategyBisect), vcs, &fakeRunner{vcs: vcs, verdict: failsBelow(0)}, nil)
	assert.Nil(t, err, "Creating the driver failed")

	_, err = bisect.Run(context.Background())
	assert.ErrorIs(t, err, ErrRangeResolution, "Empty commit range not reported")
	assert.Equal(t, 1, vcs.resets, "Working copy not restored after the abort")
}

func TestRunPublishesProgress(t *testing.T) {
	in, _, _ := testInfra(testConfig(StrategyBisect), 10, 16)

	bisect, err := New(in.cfg, in.vcs, in.runner, nil)
	assert.Nil(t, err, "Creating the driver failed")

	var snapshots []Progress
	bisect.OnProgress = func(p Progress) {
		snapshots = append(snapshots, p)
	}

	result, err := bisect.Run(context.Background())
	assert.Nil(t, err, "Search failed")

	assert.NotEmpty(t, snapshots, "No progress published")
	for i, s := range snapshots {
		assert.Equal(t, StrategyBisect, s.Strategy, "Wrong strategy in snapshot")
		assert.Len(t, s.Commits, 16, "Wrong commit count in snapshot")
		if i > 0 {
			assert.GreaterOrEqual(t, s.Executions, snapshots[i-1].Executions, "Execution count went backwards")
		}
	}

	last := snapshots[len(snapshots)-1]
	assert.True(t, last.Done, "Final snapshot not marked done")
	assert.Equal(t, result.Index, last.LastTested, "Final snapshot disagrees with the result")
}
