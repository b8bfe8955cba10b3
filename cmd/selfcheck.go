package cmd

import (
	"os"
	"time"

	"github.com/culprit-dev/culprit/internal/runner"
	"github.com/culprit-dev/culprit/internal/vcs"
	"github.com/culprit-dev/culprit/pkg/culprit"
	"github.com/spf13/cobra"
)

var selfcheckStrategy string

var selfcheckCmd = &cobra.Command{
	Use:   "selfcheck",
	Short: "Verify the search algorithm against a generated flaky repository",
	Long: `Verify the search algorithm end to end. A throwaway git repository is generated
whose history starts with commits where a test script always succeeds, followed by
commits where it fails intermittently. The search is then run over that history and
must single out the first intermittently failing commit.`,
	Run: func(cmd *cobra.Command, args []string) {
		log := newLogger()

		dir, err := os.MkdirTemp("", "culprit-selfcheck-")
		if err != nil {
			log.Fatalf("Couldn't create selfcheck directory - %v", err)
		}
		defer os.RemoveAll(dir)

		// A denominator of 1 makes the generated script fail every run, which is the
		// kind of issue the bisect strategy is for.
		failureDenominator := 5
		if selfcheckStrategy == culprit.StrategyBisect {
			failureDenominator = 1
		}

		log.Infof("Generating flaky history in %s", dir)
		baseline, err := vcs.GenerateFlakyHistory(dir, 10, 20, failureDenominator)
		if err != nil {
			log.Fatalf("Couldn't generate flaky history - %v", err)
		}

		config := &culprit.Config{
			Cmd:         "bash " + vcs.SelfcheckScript,
			Strategy:    selfcheckStrategy,
			StartCommit: baseline,
			Confidence:  0.99,
			Parallel:    1,
			Timeout:     time.Minute,
		}

		repo, err := vcs.Open(dir, config.Parallel, log)
		if err != nil {
			log.Fatalf("Couldn't open generated repository - %v", err)
		}
		defer repo.Close()

		testRunner := runner.NewExec(repo.Workspaces(), config.Timeout, config.ErrorPattern, log, nil)

		bisect, err := culprit.New(config, repo, testRunner, log)
		if err != nil {
			log.Fatalf("Couldn't start selfcheck search - %v", err)
		}
		bisect.ShowProgress = verbosity == 0

		result, err := bisect.Run(cmd.Context())
		if err != nil {
			log.Fatalf("Selfcheck search failed - %v", err)
		}
		if !result.Reproduced {
			log.Fatalf("Selfcheck failed: the generated issue was not reproduced")
		}

		log.Infof("Selfcheck found:\n%s", result.Info)
		log.Infof("Expected culprit message: %q", "Failure script 0")
	},
}

func init() {
	rootCmd.AddCommand(selfcheckCmd)

	selfcheckCmd.Flags().StringVar(&selfcheckStrategy, "strategy", culprit.StrategyBayesian, "Strategy to verify")
}
