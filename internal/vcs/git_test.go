package vcs

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/culprit-dev/culprit/pkg/culprit"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// testRepo generates a synthetic history of 10 good and 20 flaky commits on top of a
// baseline commit and opens it.
func testRepo(t *testing.T) (*Git, string) {
	dir := t.TempDir()
	baseline, err := GenerateFlakyHistory(dir, 10, 20, 5)
	assert.Nil(t, err, "Couldn't generate test history")

	g, err := Open(dir, 1, testLogger())
	assert.Nil(t, err, "Couldn't open test repository")
	return g, baseline
}

func TestCommitsInRangeFromStartCommit(t *testing.T) {
	g, baseline := testRepo(t)

	commits, err := g.CommitsInRange(culprit.RangeSpec{StartCommit: baseline})
	assert.Nil(t, err, "Range enumeration failed")

	// The start commit itself is excluded, everything newer is included, newest first.
	assert.Len(t, commits, 30, "Wrong commit count")
	assert.Equal(t, "Failure script 19", commits[0].Message, "Wrong newest commit")
	assert.Equal(t, "Good script 0", commits[len(commits)-1].Message, "Wrong oldest commit")
	for i := 1; i < len(commits); i++ {
		assert.True(t, commits[i].Date.Before(commits[i-1].Date), "Commits not ordered newest first")
	}
}

func TestCommitsInRangeRequiresBounds(t *testing.T) {
	g, _ := testRepo(t)

	_, err := g.CommitsInRange(culprit.RangeSpec{})
	assert.NotNil(t, err, "Unbounded range not rejected")
}

func TestCommitsInRangeMessageFilter(t *testing.T) {
	g, baseline := testRepo(t)

	commits, err := g.CommitsInRange(culprit.RangeSpec{StartCommit: baseline, MessageFilter: "Failure"})
	assert.Nil(t, err, "Range enumeration failed")

	assert.Len(t, commits, 20, "Message filter not applied")
	for _, c := range commits {
		assert.Contains(t, c.Message, "Failure", "Filtered-out commit included: %s", c.Message)
	}
}

func TestCommitsInRangeEndCommit(t *testing.T) {
	g, baseline := testRepo(t)

	full, err := g.CommitsInRange(culprit.RangeSpec{StartCommit: baseline})
	assert.Nil(t, err, "Range enumeration failed")

	commits, err := g.CommitsInRange(culprit.RangeSpec{StartCommit: baseline, EndCommit: full[5].Hash})
	assert.Nil(t, err, "Range enumeration failed")

	assert.Len(t, commits, 25, "Wrong commit count below the end commit")
	assert.Equal(t, full[5].Hash, commits[0].Hash, "Range does not start at the end commit")
}

func TestCommitsInRangeDateBounds(t *testing.T) {
	g, _ := testRepo(t)
	yesterday := time.Now().AddDate(0, 0, -1).Format("2006-01-02")
	older := time.Now().AddDate(0, 0, -2).Format("2006-01-02")

	// All generated commits are from today, so an after bound of yesterday covers the
	// whole history including the baseline commit.
	commits, err := g.CommitsInRange(culprit.RangeSpec{After: yesterday})
	assert.Nil(t, err, "Range enumeration failed")
	assert.Len(t, commits, 31, "Date-bounded range misses commits")

	commits, err = g.CommitsInRange(culprit.RangeSpec{After: older, Before: yesterday})
	assert.Nil(t, err, "Range enumeration failed")
	assert.Empty(t, commits, "Before bound not applied")
}

func TestCheckoutAndReset(t *testing.T) {
	g, baseline := testRepo(t)

	commits, err := g.CommitsInRange(culprit.RangeSpec{StartCommit: baseline})
	assert.Nil(t, err, "Range enumeration failed")

	oldest := commits[len(commits)-1]
	err = g.Checkout(oldest.Hash)
	assert.Nil(t, err, "Checkout failed")

	script, err := os.ReadFile(filepath.Join(g.Workspaces()[0], SelfcheckScript))
	assert.Nil(t, err, "Couldn't read checked-out script")
	assert.Equal(t, "echo .\n", string(script), "Checkout produced wrong working copy state")

	err = g.ResetOriginalState()
	assert.Nil(t, err, "Reset failed")

	script, err = os.ReadFile(filepath.Join(g.Workspaces()[0], SelfcheckScript))
	assert.Nil(t, err, "Couldn't read restored script")
	assert.Contains(t, string(script), "RANDOM", "Original working copy state not restored")
}

func TestCommitInfo(t *testing.T) {
	g, baseline := testRepo(t)

	commits, err := g.CommitsInRange(culprit.RangeSpec{StartCommit: baseline})
	assert.Nil(t, err, "Range enumeration failed")

	info, err := g.CommitInfo(commits[0].Hash)
	assert.Nil(t, err, "CommitInfo failed")

	assert.Contains(t, info, commits[0].Hash, "Info misses the commit hash")
	assert.Contains(t, info, "Failure script 19", "Info misses the commit message")
	assert.Contains(t, info, "culprit selfcheck", "Info misses the author")
}

func TestParallelWorkspaces(t *testing.T) {
	dir := t.TempDir()
	baseline, err := GenerateFlakyHistory(dir, 3, 3, 5)
	assert.Nil(t, err, "Couldn't generate test history")

	g, err := Open(dir, 2, testLogger())
	assert.Nil(t, err, "Couldn't open test repository")
	defer g.Close()

	workspaces := g.Workspaces()
	assert.Len(t, workspaces, 2, "Wrong workspace count")

	commits, err := g.CommitsInRange(culprit.RangeSpec{StartCommit: baseline})
	assert.Nil(t, err, "Range enumeration failed")

	// A checkout must switch every workspace copy.
	oldest := commits[len(commits)-1]
	err = g.Checkout(oldest.Hash)
	assert.Nil(t, err, "Checkout failed")
	for _, workspace := range workspaces {
		script, err := os.ReadFile(filepath.Join(workspace, SelfcheckScript))
		assert.Nil(t, err, "Couldn't read script in %s", workspace)
		assert.Equal(t, "echo .\n", string(script), "Workspace %s not switched", workspace)
	}
}
