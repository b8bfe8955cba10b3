package culprit_test

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/culprit-dev/culprit/internal/runner"
	"github.com/culprit-dev/culprit/internal/vcs"
	"github.com/culprit-dev/culprit/pkg/culprit"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

// The full pipeline against a real repository: a generated history whose test script
// starts failing on every run at a known commit, searched with the binary strategy.
func TestBisectOnGeneratedHistory(t *testing.T) {
	log := logrus.New()
	log.SetOutput(io.Discard)

	dir := t.TempDir()
	baseline, err := vcs.GenerateFlakyHistory(dir, 3, 3, 1)
	assert.Nil(t, err, "Couldn't generate test history")

	repo, err := vcs.Open(dir, 1, log)
	assert.Nil(t, err, "Couldn't open test repository")

	config := &culprit.Config{
		Cmd:         "bash " + vcs.SelfcheckScript,
		Strategy:    culprit.StrategyBisect,
		StartCommit: baseline,
		Confidence:  0.99,
		Parallel:    1,
		Timeout:     time.Minute,
	}

	bisect, err := culprit.New(config, repo, runner.NewExec(repo.Workspaces(), config.Timeout, "", log, nil), log)
	assert.Nil(t, err, "Creating the driver failed")

	result, err := bisect.Run(context.Background())
	assert.Nil(t, err, "Search failed")

	assert.True(t, result.Reproduced, "Deterministic failure not reproduced")
	assert.Equal(t, "Failure script 0", result.Commit.Message, "Wrong culprit commit")
	assert.Contains(t, result.Info, result.Commit.Hash, "Culprit info not filled in")
}
