package sos

import (
	"testing"

	"go.uber.org/goleak"
)

// TestMain verifies that no countdown or poll goroutine started by a test
// in this package outlives it.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
