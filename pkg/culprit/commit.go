package culprit

import (
	"fmt"
	"time"
)

// A Commit is a single revision inside the range under analysis. It is created by the
// VCS collaborator when the range is enumerated and never mutated afterwards.
type Commit struct {
	Hash    string // Abbreviated or full commit hash
	Message string // First line of the commit message
	Date    time.Time
}

func (c Commit) String() string {
	return fmt.Sprintf("commit %s date: %s message: %s", c.Hash, c.Date.Format(time.DateTime), c.Message)
}

// A CommitStatus wraps a commit with running tallies of how many independent test
// executions at that commit passed and failed so far.
type CommitStatus struct {
	Commit Commit
	Passed int
	Failed int
}

// Tested reports whether at least one test execution was recorded for this commit.
// Synthetic seed annotations count as executions.
func (c CommitStatus) Tested() bool {
	return c.Passed+c.Failed > 0
}

func (c CommitStatus) String() string {
	return fmt.Sprintf("CommitStatus[hash: %s, passed: %d, failed: %d]", c.Commit.Hash, c.Passed, c.Failed)
}
