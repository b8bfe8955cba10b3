package runner

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// cmdLogger mirrors the output of user commands to the per-run command log file and,
// at debug verbosity, to the logger. Workers write concurrently, so all writes are
// serialized.
type cmdLogger struct {
	mu  sync.Mutex
	w   io.Writer
	log *logrus.Logger
}

func newCmdLogger(w io.Writer, log *logrus.Logger) *cmdLogger {
	if w == nil {
		w = io.Discard
	}
	return &cmdLogger{w: w, log: log}
}

func (c *cmdLogger) printf(format string, args ...interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.w, format, args...)
}

// tee returns a writer forwarding everything written to it through the logger.
func (c *cmdLogger) tee() io.Writer {
	return writerFunc(func(p []byte) (int, error) {
		c.mu.Lock()
		c.w.Write(p)
		c.mu.Unlock()
		if c.log.IsLevelEnabled(logrus.DebugLevel) {
			for _, line := range strings.Split(strings.TrimRight(string(p), "\n"), "\n") {
				c.log.Debug(line)
			}
		}
		return len(p), nil
	})
}

type writerFunc func(p []byte) (int, error)

func (w writerFunc) Write(p []byte) (int, error) {
	return w(p)
}
