package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/culprit-dev/culprit/internal/runner"
	"github.com/culprit-dev/culprit/internal/server"
	"github.com/culprit-dev/culprit/internal/vcs"
	"github.com/culprit-dev/culprit/pkg/culprit"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var bisectFlags struct {
	configPath string

	strategy    string
	after       string
	before      string
	startCommit string
	endCommit   string

	confidence float64
	failed     int
	passed     int

	grepCommits string
	grepError   string

	parallel int
	timeout  time.Duration

	setupCmd          string
	prepareCmd        string
	runSetupEveryTime bool

	repoPath string

	dockerImage    string
	dockerfilePath string

	statusPort int
}

var bisectCmd = &cobra.Command{
	Use:   `bisect [flags] "cmd"`,
	Short: "Search a commit range for the commit that introduced a test failure",
	Long: `Search a commit range for the commit that introduced a test failure.

Two kinds of issues can be searched for: transient and permanent. Permanent issues
reproduce on every run, while transient ones may demand dozens of runs to show up.
By default the transient-issue search is performed ("--strategy bayesian"); for
permanent issues pass "--strategy bisect".

The search passes through several stages:
  - run the prepare command (once, before the whole test cycle)
  - run the setup command (after each commit checkout)
  - check that the newest commit in the range actually fails
  - repeatedly check out and analyze the median commit until a non-failing one is found
  - walk the range between the non-failing and the last failed commit linearly

The options --confidence, --failed, --passed and --parallel only apply to the
bayesian strategy.

The detailed command execution log is written to culprit_<date-time>.log in the
current directory.

Usage examples:

  culprit bisect --after 2024-05-10 "make test"
  culprit bisect --after 2024-05-10 --before 2024-05-12 "make test"
  culprit bisect --start-commit 547bd9c4dd --end-commit 3feaa5f359 "make test"
  culprit bisect --confidence 0.9 --setup-cmd "make build" "make test"
  culprit bisect --failed 2 --passed 8 --after 2024-05-10 "make test"
  culprit bisect --after 2024-05-10 --parallel 3 "make test"
  culprit bisect --after 2024-05-10 --docker-image golang:1.22 "go test ./..."`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		log := newLogger()

		config, err := bisectConfig(args)
		if err != nil {
			log.Fatalf("Invalid arguments - %v", err)
		}

		repo, err := vcs.Open(bisectFlags.repoPath, config.Parallel, log)
		if err != nil {
			log.Fatalf("Couldn't open repository - %v", err)
		}
		defer repo.Close()

		logFileName := fmt.Sprintf("culprit_%s.log", time.Now().Format("20060102150405"))
		logFile, err := os.Create(logFileName)
		if err != nil {
			log.Fatalf("Couldn't create command log file - %v", err)
		}
		defer logFile.Close()
		if abs, err := filepath.Abs(logFileName); err == nil {
			log.Infof("The log file with commands output: %s", abs)
		}

		testRunner, err := newRunner(cmd, config, repo, log, logFile)
		if err != nil {
			log.Fatalf("Couldn't create test runner - %v", err)
		}

		bisect, err := culprit.New(config, repo, testRunner, log)
		if err != nil {
			log.Fatalf("Couldn't start bisection - %v", err)
		}
		bisect.ShowProgress = verbosity == 0

		var statusServer *server.Server
		if bisectFlags.statusPort != 0 {
			statusServer, err = server.New(bisectFlags.statusPort)
			if err != nil {
				log.Fatalf("Couldn't start status server - %v", err)
			}
			bisect.OnProgress = statusServer.Publish
		}

		result, err := bisect.Run(cmd.Context())
		if err != nil {
			log.Fatalf("Bisection failed - %v", err)
		}
		if statusServer != nil {
			statusServer.SetResult(result)
		}

		if !result.Reproduced {
			return
		}
		log.Infof("Culprit commit:\n%s", result.Info)
	},
}

// bisectConfig builds the search config from the config file and flags, flags taking
// precedence for the test command given as positional argument.
func bisectConfig(args []string) (*culprit.Config, error) {
	if bisectFlags.configPath != "" {
		f, err := os.Open(bisectFlags.configPath)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		config, err := culprit.GetConfigFromFile(f)
		if err != nil {
			return nil, err
		}
		if len(args) == 1 {
			config.Cmd = args[0]
		}
		return config, nil
	}

	if len(args) != 1 {
		return nil, fmt.Errorf("a test command is required unless --config is given")
	}
	return &culprit.Config{
		Cmd:      args[0],
		Strategy: bisectFlags.strategy,

		After:       bisectFlags.after,
		Before:      bisectFlags.before,
		StartCommit: bisectFlags.startCommit,
		EndCommit:   bisectFlags.endCommit,

		Confidence: bisectFlags.confidence,
		Failed:     bisectFlags.failed,
		Passed:     bisectFlags.passed,

		CommitsFilter: bisectFlags.grepCommits,
		ErrorPattern:  bisectFlags.grepError,

		Parallel: bisectFlags.parallel,
		Timeout:  bisectFlags.timeout,

		SetupCmd:          bisectFlags.setupCmd,
		PrepareCmd:        bisectFlags.prepareCmd,
		RunSetupEveryTime: bisectFlags.runSetupEveryTime,
	}, nil
}

// newRunner picks host subprocess execution or docker sandboxes based on the flags.
func newRunner(cmd *cobra.Command, config *culprit.Config, repo *vcs.Git, log *logrus.Logger, logFile *os.File) (culprit.Runner, error) {
	if bisectFlags.dockerImage == "" && bisectFlags.dockerfilePath == "" {
		return runner.NewExec(repo.Workspaces(), config.Timeout, config.ErrorPattern, log, logFile), nil
	}

	var dockerfile string
	if bisectFlags.dockerfilePath != "" {
		contents, err := os.ReadFile(bisectFlags.dockerfilePath)
		if err != nil {
			return nil, err
		}
		dockerfile = string(contents)
	}
	return runner.NewDocker(cmd.Context(), runner.DockerOptions{
		Image:      bisectFlags.dockerImage,
		Dockerfile: dockerfile,

		Workspaces:   repo.Workspaces(),
		Timeout:      config.Timeout,
		ErrorPattern: config.ErrorPattern,

		Log:    log,
		CmdLog: logFile,
	})
}

func init() {
	rootCmd.AddCommand(bisectCmd)

	bisectCmd.Flags().StringVar(&bisectFlags.configPath, "config", "", "Read the search parameters from a yaml file")

	bisectCmd.Flags().StringVar(&bisectFlags.strategy, "strategy", culprit.StrategyBayesian, `Strategy for the issue search, "bayesian" or "bisect"`)
	bisectCmd.Flags().StringVar(&bisectFlags.after, "after", "", "Start date of the commit range to analyze")
	bisectCmd.Flags().StringVar(&bisectFlags.before, "before", "", "End date of the commit range to analyze")
	bisectCmd.Flags().StringVar(&bisectFlags.startCommit, "start-commit", "", "Start commit hash of the range to analyze (excluded)")
	bisectCmd.Flags().StringVar(&bisectFlags.endCommit, "end-commit", "", "End commit hash of the range to analyze")

	bisectCmd.Flags().Float64Var(&bisectFlags.confidence, "confidence", 0.99, "Confidence that the reported commit is the culprit, in (0.0, 1.0)")
	bisectCmd.Flags().IntVar(&bisectFlags.failed, "failed", 0, "Known number of failed runs of the command since the transient issue appeared")
	bisectCmd.Flags().IntVar(&bisectFlags.passed, "passed", 0, "Known number of passed runs of the command since the transient issue appeared")

	bisectCmd.Flags().StringVar(&bisectFlags.grepCommits, "grep-commits", "", "Only analyze commits whose log message matches the pattern")
	bisectCmd.Flags().StringVar(&bisectFlags.grepError, "grep-error", "", "Only count failures whose error output contains the text")

	bisectCmd.Flags().IntVar(&bisectFlags.parallel, "parallel", 1, "Execute the test command in N processes in parallel")
	bisectCmd.Flags().DurationVar(&bisectFlags.timeout, "timeout", time.Hour, "Timeout for a single test execution")

	bisectCmd.Flags().StringVar(&bisectFlags.setupCmd, "setup-cmd", "", "Command to execute after each commit checkout")
	bisectCmd.Flags().StringVar(&bisectFlags.prepareCmd, "prepare-cmd", "", "Command to execute once before the search starts")
	bisectCmd.Flags().BoolVar(&bisectFlags.runSetupEveryTime, "run-setup-every-time", false, "Run the setup command before every test run")

	bisectCmd.Flags().StringVar(&bisectFlags.repoPath, "repo", ".", "Path to the repository to bisect")

	bisectCmd.Flags().StringVar(&bisectFlags.dockerImage, "docker-image", "", "Run all commands inside containers of this image")
	bisectCmd.Flags().StringVar(&bisectFlags.dockerfilePath, "dockerfile", "", "Build the sandbox image from this dockerfile and run all commands inside it")

	bisectCmd.Flags().IntVar(&bisectFlags.statusPort, "status-port", 0, "Serve live search progress on this port")

	bisectCmd.MarkFlagsMutuallyExclusive("docker-image", "dockerfile")
	bisectCmd.MarkFlagsMutuallyExclusive("after", "start-commit")
}
