package workerpool

import (
	"testing"

	"go.uber.org/goleak"
)

// TestMain enables goroutine leak detection for all tests in this package.
// Every run must have joined its workers before returning.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		// ants starts a default pool from its package init.
		goleak.IgnoreAnyFunction("github.com/panjf2000/ants/v2.(*Pool).purgeStaleWorkers"),
		goleak.IgnoreAnyFunction("github.com/panjf2000/ants/v2.(*Pool).ticktock"),
	)
}
