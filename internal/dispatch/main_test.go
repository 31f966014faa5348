package dispatch

import (
	"testing"

	"go.uber.org/goleak"
)

// TestMain verifies that no worker, sweeper, or adapter-timeout goroutine
// started by a test in this package outlives it.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
