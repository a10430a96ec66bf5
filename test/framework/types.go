package framework

import (
	"context"
	"time"
)

// TestingT is an interface matching testing.T, so assertion helpers
// work against both *testing.T and subtests without importing "testing"
// into the framework package itself.
type TestingT interface {
	Logf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Fatalf(format string, args ...interface{})
	FailNow()
	Failed() bool
	Name() string
	Helper()
}

// TestContext provides utilities for test execution: a bounded context
// plus a cleanup stack, mirroring testing.T's own Cleanup but usable
// from plain helper functions that only have a TestingT.
type TestContext struct {
	T       TestingT
	Ctx     context.Context
	Cancel  context.CancelFunc
	Timeout time.Duration

	cleanup []func()
}

// NewTestContext builds a TestContext with the given timeout.
func NewTestContext(t TestingT, timeout time.Duration) *TestContext {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	return &TestContext{T: t, Ctx: ctx, Cancel: cancel, Timeout: timeout}
}

// AddCleanup registers fn to run when Close is called, in LIFO order.
func (tc *TestContext) AddCleanup(fn func()) {
	tc.cleanup = append(tc.cleanup, fn)
}

// Close cancels the context and runs registered cleanups LIFO.
func (tc *TestContext) Close() {
	tc.Cancel()
	for i := len(tc.cleanup) - 1; i >= 0; i-- {
		tc.cleanup[i]()
	}
}
