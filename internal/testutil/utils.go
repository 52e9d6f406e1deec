package testutil

import (
	"log"
	"os"
	"testing"
)

// TestLogger returns a logger for exercising components that expect an
// injected *log.Logger. It writes to stdout while the test runs and is
// pointed at stderr afterwards, since fan-out goroutines may outlive
// the test that spawned them.
func TestLogger(t *testing.T) *log.Logger {
	logger := log.New(os.Stdout, "[chatterbox-test] ", log.LstdFlags)
	t.Cleanup(func() {
		logger.SetOutput(os.Stderr)
	})
	return logger
}
