package culprit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// VCS is the version control collaborator the search core consumes. The engine never
// runs git itself; it only asks for commits, checkouts and metadata.
type VCS interface {
	// CommitsInRange enumerates the commits selected by the spec, newest first, so
	// that index 0 is the known-bad side of the range and the highest index the
	// known-good side.
	CommitsInRange(spec RangeSpec) ([]Commit, error)

	// Checkout switches every working copy to the given commit.
	Checkout(hash string) error

	// CommitInfo returns formatted metadata of a commit for display.
	CommitInfo(hash string) (string, error)

	// ResetOriginalState restores the working copy's original branch and commit.
	ResetOriginalState() error
}

// Runner executes the user's shell commands. One call to Run launches the command once
// in every worker's working copy and reports whether the whole batch exited clean.
// A test timeout counts as a failing batch, not an error; errors are reserved for
// conditions that must abort the search, such as an unkillable process.
type Runner interface {
	Run(ctx context.Context, cmd string) (bool, error)

	// Workers returns the number of concurrent executions one Run call fans out to.
	Workers() int
}

// infra bundles the config with the collaborators and offers the few composite
// operations the strategies need. It owns no search state.
type infra struct {
	cfg    *Config
	vcs    VCS
	runner Runner
	log    *logrus.Logger

	showProgress bool
}

func (in *infra) commitsInRange() ([]CommitStatus, error) {
	commits, err := in.vcs.CommitsInRange(in.cfg.RangeSpec())
	if err != nil {
		return nil, errors.Join(ErrRangeResolution, err)
	}
	if len(commits) == 0 {
		return nil, fmt.Errorf("%w: no commits matched", ErrRangeResolution)
	}
	in.log.Infof("Commits in range to analyze: %d, hashes [%s - %s]", len(commits), commits[len(commits)-1].Hash, commits[0].Hash)

	statuses := make([]CommitStatus, len(commits))
	for i, c := range commits {
		statuses[i] = CommitStatus{Commit: c}
	}
	return statuses, nil
}

// checkoutAndSetup switches all working copies to the commit and runs the setup
// command. A non-zero setup exit is fatal to the whole search.
func (in *infra) checkoutAndSetup(ctx context.Context, commit Commit) error {
	in.log.Infof("---------- Checkout commit %s", commit.Hash)
	if err := in.vcs.Checkout(commit.Hash); err != nil {
		return errors.Join(ErrCheckout, err)
	}
	return in.runSetup(ctx)
}

func (in *infra) runSetup(ctx context.Context) error {
	if in.cfg.SetupCmd == "" {
		return nil
	}
	in.log.Info("---------- Stage: Setup Start")
	start := time.Now()
	ok, err := in.runner.Run(ctx, in.cfg.SetupCmd)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %q exited non-zero", ErrSetup, in.cfg.SetupCmd)
	}
	in.log.Infof("---------- Stage: Setup End. Total time: %.2f sec", time.Since(start).Seconds())
	return nil
}

// runTestBatch executes the test command once per worker and reports the batch verdict.
func (in *infra) runTestBatch(ctx context.Context) (bool, error) {
	if in.cfg.RunSetupEveryTime {
		if err := in.runSetup(ctx); err != nil {
			return false, err
		}
	}
	return in.runner.Run(ctx, in.cfg.Cmd)
}

// runPrepare runs the one-time prepare command. A non-zero exit aborts the run.
func (in *infra) runPrepare(ctx context.Context) error {
	if in.cfg.PrepareCmd == "" {
		return nil
	}
	in.log.Info("---------- Stage: Prepare")
	ok, err := in.runner.Run(ctx, in.cfg.PrepareCmd)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: prepare command %q exited non-zero", ErrSetup, in.cfg.PrepareCmd)
	}
	return nil
}
