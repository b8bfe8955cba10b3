package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"github.com/culprit-dev/culprit/pkg/culprit"
	"github.com/dchest/uniuri"
	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/strslice"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/archive"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/opencontainers/go-digest"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// workspaceMount is where a worker's working copy appears inside its sandbox.
const workspaceMount = "/workspace"

// Docker runs user commands inside throwaway containers instead of directly on the
// host, one container per workspace and execution. The sandbox image is either taken
// as-is or built once up front from a dockerfile and tagged by its content digest.
// All containers carry the culprit=1 label so `culprit clean` can find leftovers.
type Docker struct {
	image      string
	workspaces []string

	timeout      time.Duration
	errorPattern string

	sem *semaphore.Weighted
	cli *client.Client

	log    *logrus.Logger
	cmdLog *cmdLogger
}

// DockerOptions configures a sandboxed runner.
type DockerOptions struct {
	// Image is the sandbox image to run commands in. Ignored if Dockerfile is set.
	Image string
	// Dockerfile, if non-empty, is built once and used as the sandbox image.
	Dockerfile string

	Workspaces   []string
	Timeout      time.Duration
	ErrorPattern string

	// MaxConcurrent bounds how many sandboxes may run at once, 0 meaning one per
	// workspace.
	MaxConcurrent int64

	Log    *logrus.Logger
	CmdLog io.Writer
}

// NewDocker creates a sandboxed runner, building the sandbox image first if a
// dockerfile was given.
func NewDocker(ctx context.Context, opts DockerOptions) (*Docker, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, errors.Join(fmt.Errorf("failed to create docker client"), err)
	}

	maxConcurrent := opts.MaxConcurrent
	if maxConcurrent == 0 {
		maxConcurrent = int64(len(opts.Workspaces))
	}

	d := &Docker{
		image:        opts.Image,
		workspaces:   opts.Workspaces,
		timeout:      opts.Timeout,
		errorPattern: opts.ErrorPattern,
		sem:          semaphore.NewWeighted(maxConcurrent),
		cli:          cli,
		log:          opts.Log,
		cmdLog:       newCmdLogger(opts.CmdLog, opts.Log),
	}

	if opts.Dockerfile != "" {
		d.image, err = d.buildImage(ctx, opts.Dockerfile)
		if err != nil {
			return nil, err
		}
	}
	if d.image == "" {
		return nil, fmt.Errorf("no sandbox image or dockerfile given")
	}

	return d, nil
}

func (d *Docker) Workers() int {
	return len(d.workspaces)
}

// Run launches the command once per workspace, each inside its own container, and
// reports the batch verdict. A container exceeding the timeout is killed and counts
// as a failing execution.
func (d *Docker) Run(ctx context.Context, command string) (bool, error) {
	d.cmdLog.printf("-- Running sandboxed command: %s\n", command)

	var failed bool
	group, groupCtx := errgroup.WithContext(ctx)
	results := make([]bool, len(d.workspaces))
	for i, workspace := range d.workspaces {
		i, workspace := i, workspace
		group.Go(func() error {
			if err := d.sem.Acquire(groupCtx, 1); err != nil {
				return err
			}
			defer d.sem.Release(1)
			ok, err := d.runContainer(groupCtx, command, workspace)
			results[i] = ok
			return err
		})
	}
	if err := group.Wait(); err != nil {
		return false, err
	}
	for _, ok := range results {
		if !ok {
			failed = true
		}
	}
	return !failed, nil
}

func (d *Docker) runContainer(ctx context.Context, command, workspace string) (bool, error) {
	containerName := "culprit-" + uniuri.New()

	resp, err := d.cli.ContainerCreate(ctx, &container.Config{
		Image:      d.image,
		Cmd:        strslice.StrSlice{"sh", "-c", command},
		WorkingDir: workspaceMount,
		Labels:     map[string]string{"culprit": "1"},
	}, &container.HostConfig{
		Binds: []string{workspace + ":" + workspaceMount},
	}, nil, nil, containerName)
	if err != nil {
		return false, errors.Join(fmt.Errorf("creating container %s of image %s failed", containerName, d.image), err)
	}
	defer func() {
		if err := d.cli.ContainerRemove(context.Background(), resp.ID, container.RemoveOptions{Force: true}); err != nil {
			d.log.Warnf("Failed to remove container %s - %v", containerName, err)
		}
	}()

	if err := d.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return false, errors.Join(fmt.Errorf("starting container %s failed", containerName), err)
	}
	d.log.Debugf("Started container %s in %s", containerName, workspace)

	waitCh, errCh := d.cli.ContainerWait(ctx, resp.ID, container.WaitConditionNotRunning)

	timer := time.NewTimer(d.timeout)
	defer timer.Stop()

	var exitCode int64
	select {
	case status := <-waitCh:
		exitCode = status.StatusCode
	case err := <-errCh:
		return false, errors.Join(fmt.Errorf("waiting for container %s failed", containerName), err)
	case <-timer.C:
		d.log.Warnf("Time out expired: %s. Killing container %s", d.timeout, containerName)
		if err := d.cli.ContainerKill(context.Background(), resp.ID, "KILL"); err != nil {
			return false, errors.Join(culprit.ErrProcessKill, err)
		}
		return false, nil
	case <-ctx.Done():
		if err := d.cli.ContainerKill(context.Background(), resp.ID, "KILL"); err != nil {
			return false, errors.Join(culprit.ErrProcessKill, err)
		}
		return false, nil
	}

	stderr, err := d.collectLogs(ctx, resp.ID)
	if err != nil {
		d.log.Warnf("Failed to collect logs of container %s - %v", containerName, err)
	}

	if exitCode == 0 {
		return true, nil
	}
	d.log.Infof("Container %s exited with code %d", containerName, exitCode)
	if d.errorPattern != "" && !strings.Contains(stderr, d.errorPattern) {
		return true, nil
	}
	return false, nil
}

func (d *Docker) collectLogs(ctx context.Context, containerID string) (string, error) {
	logs, err := d.cli.ContainerLogs(ctx, containerID, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return "", err
	}
	defer logs.Close()

	var stderr bytes.Buffer
	_, err = stdcopy.StdCopy(d.cmdLog.tee(), io.MultiWriter(&stderr, d.cmdLog.tee()), logs)
	return stderr.String(), err
}

// buildImage builds the sandbox image from the dockerfile contents, tags it by the
// dockerfile's digest and returns the tag. The first workspace serves as build
// context, the way a throwaway Dockerfile is written into it.
func (d *Docker) buildImage(ctx context.Context, dockerfile string) (string, error) {
	imageName := "culprit:" + digest.FromString(dockerfile).Encoded()

	buildDir := d.workspaces[0]
	if err := os.WriteFile(path.Join(buildDir, "Dockerfile"), []byte(dockerfile), 0o644); err != nil {
		return "", err
	}
	buildCtx, err := archive.TarWithOptions(buildDir, &archive.TarOptions{})
	if err != nil {
		return "", errors.Join(fmt.Errorf("creating build context from %s failed", buildDir), err)
	}

	d.log.Infof("Building sandbox image %s", imageName)
	buildRes, err := d.cli.ImageBuild(ctx, buildCtx, types.ImageBuildOptions{
		Tags:        []string{imageName},
		ForceRemove: true,
		Labels:      map[string]string{"culprit": "1"},
	})
	if err != nil {
		return "", errors.Join(fmt.Errorf("building sandbox image %s failed", imageName), err)
	}
	out, err := io.ReadAll(buildRes.Body)
	buildRes.Body.Close()
	if err != nil {
		return "", err
	}
	d.log.Tracef("Image build output:\n%s", out)

	// The build API streams json messages; a trailing errorDetail means it failed.
	lines := strings.Split(strings.TrimRight(string(out), "\n"), "\n")
	if strings.HasPrefix(lines[len(lines)-1], `{"errorDetail"`) {
		return "", fmt.Errorf("sandbox image build of %s failed, build output: %s", imageName, out)
	}

	return imageName, nil
}
