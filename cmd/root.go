package cmd

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
)

var verbosity int

var rootCmd = &cobra.Command{
	Use:   "culprit",
	Short: "Find the commit that introduced a deterministic or transient test failure",
	Long:  ``,
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "Increase output verbosity, can be given multiple times")
}

// newLogger creates the logger all commands print through, with the level picked by
// the persistent verbosity flag.
func newLogger() *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&prefixed.TextFormatter{
		FullTimestamp: true,
	})

	if verbosity == 0 {
		log.SetLevel(logrus.InfoLevel)
	} else if verbosity == 1 {
		log.SetLevel(logrus.DebugLevel)
	} else {
		log.SetLevel(logrus.TraceLevel)
	}

	return log
}
