package scheduler

import (
	"fmt"
	"os"
	"testing"

	"go.uber.org/goleak"
)

// TestMain checks for leaked goroutines once the package's tests finish, so
// a scheduler tick loop or timer that outlives its Stop call shows up as a
// test failure instead of silently piling up in some other package's run.
func TestMain(m *testing.M) {
	status := m.Run()

	if status == 0 {
		if err := goleak.Find(); err != nil {
			fmt.Fprintf(os.Stderr, "goleak: errors on successful test run: %v\n", err)
			status = 1
		}
	}

	os.Exit(status)
}
