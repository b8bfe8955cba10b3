package vcs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// SelfcheckScript is the file the synthetic history commits into the repository.
const SelfcheckScript = "self_check_script.sh"

// GenerateFlakyHistory initializes a git repository at dir holding a shell script
// whose behavior changes over the history: after a baseline commit come goodCommits
// revisions where the script always succeeds, followed by flakyCommits revisions
// where it fails with probability 1/failureDenominator. The returned hash is the
// baseline commit, usable as the older range bound for a search over the generated
// history.
func GenerateFlakyHistory(dir string, goodCommits, flakyCommits, failureDenominator int) (baseline string, err error) {
	repo, err := git.PlainInit(dir, false)
	if err != nil {
		return "", errors.Join(fmt.Errorf("initializing selfcheck repository at %s failed", dir), err)
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return "", err
	}

	// Spread commit timestamps out so the history has a usable date ordering.
	when := time.Now().Add(-time.Duration(goodCommits+flakyCommits+1) * time.Minute)
	commit := func(msg string) (string, error) {
		if _, err := worktree.Add(SelfcheckScript); err != nil {
			return "", err
		}
		hash, err := worktree.Commit(msg, &git.CommitOptions{
			Author: &object.Signature{
				Name:  "culprit selfcheck",
				Email: "selfcheck@culprit.invalid",
				When:  when,
			},
		})
		when = when.Add(time.Minute)
		if err != nil {
			return "", err
		}
		return hash.String(), nil
	}

	script := filepath.Join(dir, SelfcheckScript)
	if err := os.WriteFile(script, []byte("echo baseline\n"), 0o755); err != nil {
		return "", err
	}
	baseline, err = commit("Baseline script")
	if err != nil {
		return "", err
	}

	for i := 0; i < goodCommits; i++ {
		if err := os.WriteFile(script, []byte("echo "+strings.Repeat(".", i+1)+"\n"), 0o755); err != nil {
			return "", err
		}
		if _, err := commit(fmt.Sprintf("Good script %d", i)); err != nil {
			return "", err
		}
	}

	for i := 0; i < flakyCommits; i++ {
		body := fmt.Sprintf(`if [ $(( ( RANDOM %% %d ) + 1 )) == 1 ]
 then
 echo "An error occurred" 1>&2
 exit 1
 else echo %s
 fi
`, failureDenominator, strings.Repeat(".", i+1))
		if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
			return "", err
		}
		if _, err := commit(fmt.Sprintf("Failure script %d", i)); err != nil {
			return "", err
		}
	}

	return baseline, nil
}
