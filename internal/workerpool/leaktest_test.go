package workerpool

import (
	"fmt"
	"os"
	"testing"

	"go.uber.org/goleak"
)

// TestMain checks for leaked goroutines once the package's tests finish.
// Every spawner used in this package's tests is a fake one, so there's no
// real child process whose stdio-pumping goroutines could legitimately
// outlive the test and need to be excluded here.
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
