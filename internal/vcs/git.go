// Package vcs implements the version control collaborator of the search engine on top
// of go-git, plus the workspace cloning needed for parallel test execution.
package vcs

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/culprit-dev/culprit/pkg/culprit"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/otiai10/copy"
	"github.com/sirupsen/logrus"
)

// Git is a [culprit.VCS] backed by one or more working copies of the same repository.
// With a parallelism of N, N-1 additional copies of the working copy are created so
// that every worker process operates on isolated filesystem state. Checkouts are
// applied to all copies.
type Git struct {
	root       string
	workspaces []string
	repos      []*git.Repository

	originalHead plumbing.Hash
	originalRef  plumbing.ReferenceName // Empty if HEAD was detached

	log *logrus.Logger
}

// Open opens the repository containing path and prepares parallel workspace copies.
// The original HEAD is recorded so it can be restored once the search is over.
func Open(path string, parallel int, log *logrus.Logger) (*Git, error) {
	repo, err := git.PlainOpenWithOptions(path, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, errors.Join(fmt.Errorf("opening repository at %s failed", path), err)
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return nil, err
	}
	root := worktree.Filesystem.Root()

	g := &Git{
		root:       root,
		workspaces: []string{root},
		repos:      []*git.Repository{repo},
		log:        log,
	}

	head, err := repo.Head()
	if err != nil {
		return nil, errors.Join(fmt.Errorf("reading HEAD of %s failed", root), err)
	}
	g.originalHead = head.Hash()
	if head.Name().IsBranch() {
		g.originalRef = head.Name()
	}

	for i := 1; i < parallel; i++ {
		dir, err := os.MkdirTemp("", "culprit-workspace-")
		if err != nil {
			return nil, err
		}
		log.Infof("Cloning working copy %d to %s...", i, dir)
		if err := copy.Copy(root, dir, copy.Options{
			Specials:     true,
			NumOfWorkers: int64(parallel),
		}); err != nil {
			return nil, errors.Join(fmt.Errorf("copying working copy to %s failed", dir), err)
		}
		clone, err := git.PlainOpen(dir)
		if err != nil {
			return nil, errors.Join(fmt.Errorf("opening working copy at %s failed", dir), err)
		}
		g.workspaces = append(g.workspaces, dir)
		g.repos = append(g.repos, clone)
	}

	return g, nil
}

// Workspaces returns the directories test commands should execute in, one per worker.
func (g *Git) Workspaces() []string {
	return g.workspaces
}

// CommitsInRange walks the first-parent chain from the newer end of the range towards
// the older one and returns the matching commits newest first.
func (g *Git) CommitsInRange(spec culprit.RangeSpec) ([]culprit.Commit, error) {
	if spec.StartCommit == "" && spec.After == "" {
		return nil, fmt.Errorf("no range bounds given: need a start commit or an after date")
	}

	var filter *regexp.Regexp
	if spec.MessageFilter != "" {
		var err error
		filter, err = regexp.Compile(spec.MessageFilter)
		if err != nil {
			return nil, errors.Join(fmt.Errorf("invalid commit message filter %q", spec.MessageFilter), err)
		}
	}

	var startHash plumbing.Hash
	if spec.StartCommit != "" {
		hash, err := g.repos[0].ResolveRevision(plumbing.Revision(spec.StartCommit))
		if err != nil {
			return nil, errors.Join(fmt.Errorf("resolving start commit %q failed", spec.StartCommit), err)
		}
		startHash = *hash
	}

	endHash := g.originalHead
	if spec.EndCommit != "" {
		hash, err := g.repos[0].ResolveRevision(plumbing.Revision(spec.EndCommit))
		if err != nil {
			return nil, errors.Join(fmt.Errorf("resolving end commit %q failed", spec.EndCommit), err)
		}
		endHash = *hash
	}

	after, err := parseDateBound(spec.After)
	if err != nil {
		return nil, err
	}
	before, err := parseDateBound(spec.Before)
	if err != nil {
		return nil, err
	}

	var commits []culprit.Commit
	current, err := g.repos[0].CommitObject(endHash)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("reading commit %s failed", endHash), err)
	}
	for {
		// The start commit itself is excluded, matching start..end semantics.
		if spec.StartCommit != "" && current.Hash == startHash {
			break
		}
		if !after.IsZero() && current.Committer.When.Before(after) {
			break
		}
		newerThanBound := !before.IsZero() && current.Committer.When.After(before)
		if !newerThanBound && (filter == nil || filter.MatchString(current.Message)) {
			commits = append(commits, culprit.Commit{
				Hash:    current.Hash.String(),
				Message: firstLine(current.Message),
				Date:    current.Committer.When,
			})
		}

		if current.NumParents() == 0 {
			if spec.StartCommit != "" {
				return nil, fmt.Errorf("start commit %s is not a first-parent ancestor of %s", spec.StartCommit, endHash)
			}
			break
		}
		current, err = current.Parent(0)
		if err != nil {
			return nil, err
		}
	}

	return commits, nil
}

// Checkout force-switches every workspace to the given commit.
func (g *Git) Checkout(hash string) error {
	for i, repo := range g.repos {
		resolved, err := repo.ResolveRevision(plumbing.Revision(hash))
		if err != nil {
			return errors.Join(fmt.Errorf("resolving commit %q in %s failed", hash, g.workspaces[i]), err)
		}
		worktree, err := repo.Worktree()
		if err != nil {
			return err
		}
		if err := worktree.Checkout(&git.CheckoutOptions{Hash: *resolved, Force: true}); err != nil {
			return errors.Join(fmt.Errorf("checkout of %s in %s failed", hash, g.workspaces[i]), err)
		}
	}
	return nil
}

// CommitInfo returns commit metadata formatted for display.
func (g *Git) CommitInfo(hash string) (string, error) {
	resolved, err := g.repos[0].ResolveRevision(plumbing.Revision(hash))
	if err != nil {
		return "", err
	}
	commit, err := g.repos[0].CommitObject(*resolved)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "commit %s\n", commit.Hash)
	fmt.Fprintf(&sb, "Author: %s <%s>\n", commit.Author.Name, commit.Author.Email)
	fmt.Fprintf(&sb, "Date:   %s\n\n", commit.Author.When.Format("Mon Jan 2 15:04:05 2006 -0700"))
	for _, line := range strings.Split(strings.TrimRight(commit.Message, "\n"), "\n") {
		fmt.Fprintf(&sb, "    %s\n", line)
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

// ResetOriginalState restores the primary working copy to the branch and commit it
// was on before the search started.
func (g *Git) ResetOriginalState() error {
	worktree, err := g.repos[0].Worktree()
	if err != nil {
		return err
	}
	opts := &git.CheckoutOptions{Force: true}
	if g.originalRef != "" {
		opts.Branch = g.originalRef
	} else {
		opts.Hash = g.originalHead
	}
	return worktree.Checkout(opts)
}

// Close removes the temporary workspace copies created for parallel execution.
func (g *Git) Close() error {
	var errs []error
	for _, dir := range g.workspaces[1:] {
		if err := os.RemoveAll(dir); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func parseDateBound(bound string) (time.Time, error) {
	if bound == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{"2006-01-02", "2006-1-2", time.RFC3339} {
		if t, err := time.Parse(layout, bound); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("could not parse date bound %q", bound)
}

func firstLine(message string) string {
	if i := strings.IndexByte(message, '\n'); i != -1 {
		return message[:i]
	}
	return message
}
