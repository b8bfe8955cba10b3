package culprit

import (
	"context"
	"io"

	"github.com/sirupsen/logrus"
)

// A Bisect drives one issue search: it runs the prepare command once, steps the
// configured strategy until it signals completion and reports the culprit.
type Bisect struct {
	// OnProgress, if set, is invoked after every strategy step with a snapshot of the
	// search state. It is called from the search goroutine.
	OnProgress func(Progress)

	// ShowProgress enables a terminal progress bar for multi-retry test batches.
	ShowProgress bool

	infra *infra
}

// A Result describes a finished search.
type Result struct {
	// Index of the culprit in the analyzed range, or -1 if the issue never reproduced.
	Index int

	// The commit that introduced the failure. Only meaningful if Reproduced is true.
	Commit Commit

	// Info holds formatted metadata of the culprit commit for display.
	Info string

	// Reproduced is false if the issue could not be reproduced locally at all.
	Reproduced bool
}

// A Progress snapshot is published to [Bisect.OnProgress] after every step.
type Progress struct {
	Strategy   string         `json:"strategy"`
	LastTested int            `json:"lastTested"` // Index of the most recently verified commit
	Executions int            `json:"executions"` // Total recorded test executions, seeds included
	Done       bool           `json:"done"`
	Commits    []CommitStatus `json:"commits"`
}

// New validates the config and creates a search driver using the passed
// collaborators. A nil log mutes all output.
func New(cfg *Config, vcs VCS, runner Runner, log *logrus.Logger) (*Bisect, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logrus.New()
		log.SetOutput(io.Discard)
	}

	return &Bisect{
		infra: &infra{
			cfg:    cfg,
			vcs:    vcs,
			runner: runner,
			log:    log,
		},
	}, nil
}

// Run performs the whole search. The working copy is restored to its original state
// before Run returns, also when the search fails.
func (b *Bisect) Run(ctx context.Context) (*Result, error) {
	log := b.infra.log
	b.infra.showProgress = b.ShowProgress

	defer func() {
		if err := b.infra.vcs.ResetOriginalState(); err != nil {
			log.Warnf("Couldn't reset the working copy to its original state - %v", err)
		}
	}()

	if err := b.infra.runPrepare(ctx); err != nil {
		return nil, err
	}

	log.Infof("Issue search strategy: %s", b.infra.cfg.Strategy)
	var strategy Strategy
	var err error
	switch b.infra.cfg.Strategy {
	case StrategyBayesian:
		strategy, err = newBayesianSearch(b.infra)
	case StrategyBisect:
		strategy, err = newBisectSearch(b.infra)
	}
	if err != nil {
		return nil, err
	}

	var testedCommit int
	for {
		var done bool
		testedCommit, done, err = strategy.TestNextCommit(ctx)
		if err != nil {
			return nil, err
		}
		b.publishProgress(strategy, testedCommit, done)
		if done {
			break
		}
	}

	log.Infof("Failure position: ~ %d", testedCommit)
	if testedCommit == -1 {
		return &Result{Index: -1}, nil
	}

	result := &Result{
		Index:      testedCommit,
		Commit:     strategy.Commits()[testedCommit].Commit,
		Reproduced: true,
	}
	result.Info, err = b.infra.vcs.CommitInfo(result.Commit.Hash)
	if err != nil {
		log.Warnf("Couldn't get culprit commit info - %v", err)
	}
	return result, nil
}

func (b *Bisect) publishProgress(strategy Strategy, lastTested int, done bool) {
	if b.OnProgress == nil {
		return
	}

	commits := strategy.Commits()
	snapshot := Progress{
		Strategy:   b.infra.cfg.Strategy,
		LastTested: lastTested,
		Done:       done,
		Commits:    append([]CommitStatus(nil), commits...),
	}
	for _, c := range commits {
		snapshot.Executions += c.Passed + c.Failed
	}
	b.OnProgress(snapshot)
}
