// Package runner implements the command execution collaborator of the search engine:
// shell subprocesses on the host, or containers when sandboxed execution is requested.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/culprit-dev/culprit/pkg/culprit"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// killGracePeriod is how long a process group gets to exit after SIGTERM before it is
// killed outright.
var killGracePeriod = 10 * time.Second

// Exec runs user commands as shell subprocesses, one per workspace. All process
// output is mirrored to the command log; a per-execution timeout terminates the whole
// process group of a runaway command.
type Exec struct {
	workspaces   []string
	timeout      time.Duration
	errorPattern string

	log    *logrus.Logger
	cmdLog *cmdLogger
}

// NewExec creates a runner executing in the passed workspaces. Command output is
// written to cmdLog, which may be nil.
func NewExec(workspaces []string, timeout time.Duration, errorPattern string, log *logrus.Logger, cmdLog io.Writer) *Exec {
	return &Exec{
		workspaces:   workspaces,
		timeout:      timeout,
		errorPattern: errorPattern,
		log:          log,
		cmdLog:       newCmdLogger(cmdLog, log),
	}
}

func (e *Exec) Workers() int {
	return len(e.workspaces)
}

// Run launches the command once in every workspace and waits for all of them. The
// batch passes only if every process exits zero. A timed-out process fails the batch
// and terminates its siblings, but is not an error: only an unkillable process or a
// launch failure aborts the search.
func (e *Exec) Run(ctx context.Context, command string) (bool, error) {
	e.cmdLog.printf("-- Running command: %s\n", command)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var failedLock sync.Mutex
	failed := false

	group := new(errgroup.Group)
	for _, workspace := range e.workspaces {
		workspace := workspace
		group.Go(func() error {
			ok, err := e.runOne(ctx, command, workspace)
			if err != nil {
				cancel()
				return err
			}
			if !ok {
				failedLock.Lock()
				failed = true
				failedLock.Unlock()
				// A failed worker decides the batch; no point letting siblings finish.
				cancel()
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return false, err
	}
	return !failed, nil
}

func (e *Exec) runOne(ctx context.Context, command, workspace string) (bool, error) {
	cmd := exec.Command("sh", "-c", command)
	cmd.Dir = workspace
	// Own process group, so a timeout can take the command's children down with it.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var stderr bytes.Buffer
	cmd.Stdout = e.cmdLog.tee()
	cmd.Stderr = io.MultiWriter(&stderr, e.cmdLog.tee())

	if err := cmd.Start(); err != nil {
		return false, errors.Join(fmt.Errorf("starting %q in %s failed", command, workspace), err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	timer := time.NewTimer(e.timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		if err == nil {
			return true, nil
		}
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return false, errors.Join(fmt.Errorf("waiting for %q in %s failed", command, workspace), err)
		}
		e.log.Infof("Command exited non-zero in %s: %v", workspace, err)
		if e.errorPattern != "" && !strings.Contains(stderr.String(), e.errorPattern) {
			// The failure doesn't match the pattern the user is hunting.
			return true, nil
		}
		return false, nil
	case <-timer.C:
		e.log.Warnf("Time out expired: %s. Killing process group of pid %d", e.timeout, cmd.Process.Pid)
		if err := e.terminate(cmd, done); err != nil {
			return false, errors.Join(culprit.ErrProcessKill, err)
		}
		return false, nil
	case <-ctx.Done():
		if err := e.terminate(cmd, done); err != nil {
			return false, errors.Join(culprit.ErrProcessKill, err)
		}
		return false, nil
	}
}

// terminate stops the command's process group: SIGTERM first, SIGKILL if the command
// has not exited by the end of the grace period.
func (e *Exec) terminate(cmd *exec.Cmd, done <-chan error) error {
	pgid, err := syscall.Getpgid(cmd.Process.Pid)
	if err != nil {
		return err
	}
	if err := signalGroup(pgid, syscall.SIGTERM); err != nil {
		return err
	}

	grace := time.NewTimer(killGracePeriod)
	defer grace.Stop()
	select {
	case <-done:
		return nil
	case <-grace.C:
	}

	e.log.Warnf("Process group %d did not exit on SIGTERM. Killing it", pgid)
	if err := signalGroup(pgid, syscall.SIGKILL); err != nil {
		return err
	}
	<-done
	return nil
}

func signalGroup(pgid int, sig syscall.Signal) error {
	if err := syscall.Kill(-pgid, sig); err != nil && !errors.Is(err, syscall.ESRCH) {
		return err
	}
	return nil
}
