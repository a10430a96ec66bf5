package framework

import (
	"context"
	"strings"
	"time"

	"github.com/cuemby/vrift/pkg/client"
)

// Assertions provides test assertion helpers, generic ones plus a
// handful specific to vrift's manifest/CAS domain.
type Assertions struct {
	t TestingT
}

// NewAssertions creates a new Assertions instance.
func NewAssertions(t TestingT) *Assertions {
	return &Assertions{t: t}
}

// ManifestEntryExists asserts that path resolves to a manifest entry.
func (a *Assertions) ManifestEntryExists(c *client.Client, path string) {
	a.t.Helper()

	_, found, err := c.ManifestGet(path)
	if err != nil {
		a.t.Fatalf("ManifestGet(%s): %v", path, err)
	}
	if !found {
		a.t.Fatalf("manifest entry %s does not exist", path)
	}
}

// ManifestEntryAbsent asserts that path has no manifest entry.
func (a *Assertions) ManifestEntryAbsent(c *client.Client, path string) {
	a.t.Helper()

	_, found, err := c.ManifestGet(path)
	if err != nil {
		a.t.Fatalf("ManifestGet(%s): %v", path, err)
	}
	if found {
		a.t.Fatalf("manifest entry %s still exists, expected it gone", path)
	}
}

// GenerationAdvanced asserts that the daemon's current generation is
// strictly greater than after.
func (a *Assertions) GenerationAdvanced(c *client.Client, after uint64) {
	a.t.Helper()

	gen, _, _, err := c.Status()
	if err != nil {
		a.t.Fatalf("Status: %v", err)
	}
	if gen <= after {
		a.t.Fatalf("generation did not advance: have %d, want > %d", gen, after)
	}
}

// Eventually repeatedly runs a condition until it returns true or timeout occurs.
func (a *Assertions) Eventually(condition func() bool, timeout, interval time.Duration, msg string) {
	a.t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.t.Fatalf("timeout waiting for condition: %s (timeout: %v)", msg, timeout)
		case <-ticker.C:
			if condition() {
				return
			}
		}
	}
}

// EventuallyWithContext is like Eventually but uses a provided context.
func (a *Assertions) EventuallyWithContext(ctx context.Context, condition func() bool, interval time.Duration, msg string) {
	a.t.Helper()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.t.Fatalf("context cancelled waiting for condition: %s (error: %v)", msg, ctx.Err())
		case <-ticker.C:
			if condition() {
				return
			}
		}
	}
}

// NoError asserts that the error is nil.
func (a *Assertions) NoError(err error, msg string) {
	a.t.Helper()
	if err != nil {
		a.t.Fatalf("%s: %v", msg, err)
	}
}

// Error asserts that the error is not nil.
func (a *Assertions) Error(err error, msg string) {
	a.t.Helper()
	if err == nil {
		a.t.Fatalf("%s: expected error but got nil", msg)
	}
}

// Equal asserts that two values are equal.
func (a *Assertions) Equal(expected, actual interface{}, msg string) {
	a.t.Helper()
	if expected != actual {
		a.t.Fatalf("%s: expected %v, got %v", msg, expected, actual)
	}
}

// NotEqual asserts that two values are not equal.
func (a *Assertions) NotEqual(expected, actual interface{}, msg string) {
	a.t.Helper()
	if expected == actual {
		a.t.Fatalf("%s: expected values to be different, but both are %v", msg, expected)
	}
}

// True asserts that a condition is true.
func (a *Assertions) True(condition bool, msg string) {
	a.t.Helper()
	if !condition {
		a.t.Fatalf("%s: expected true, got false", msg)
	}
}

// False asserts that a condition is false.
func (a *Assertions) False(condition bool, msg string) {
	a.t.Helper()
	if condition {
		a.t.Fatalf("%s: expected false, got true", msg)
	}
}

// Contains asserts that a string contains a substring.
func (a *Assertions) Contains(haystack, needle, msg string) {
	a.t.Helper()
	if !strings.Contains(haystack, needle) {
		a.t.Fatalf("%s: expected %q to contain %q", msg, haystack, needle)
	}
}

// NotContains asserts that a string does not contain a substring.
func (a *Assertions) NotContains(haystack, needle, msg string) {
	a.t.Helper()
	if strings.Contains(haystack, needle) {
		a.t.Fatalf("%s: expected %q not to contain %q", msg, haystack, needle)
	}
}

// Len asserts that a slice, map, or string has a specific length.
func (a *Assertions) Len(obj interface{}, expected int, msg string) {
	a.t.Helper()

	var length int
	switch v := obj.(type) {
	case []interface{}:
		length = len(v)
	case []string:
		length = len(v)
	case map[string]interface{}:
		length = len(v)
	case string:
		length = len(v)
	default:
		a.t.Fatalf("%s: unsupported type for Len assertion: %T", msg, obj)
		return
	}

	if length != expected {
		a.t.Fatalf("%s: expected length %d, got %d", msg, expected, length)
	}
}

// Nil asserts that a value is nil.
func (a *Assertions) Nil(obj interface{}, msg string) {
	a.t.Helper()
	if obj != nil {
		a.t.Fatalf("%s: expected nil, got %v", msg, obj)
	}
}

// NotNil asserts that a value is not nil.
func (a *Assertions) NotNil(obj interface{}, msg string) {
	a.t.Helper()
	if obj == nil {
		a.t.Fatalf("%s: expected non-nil value", msg)
	}
}

// Logf logs a formatted message (non-failing).
func (a *Assertions) Logf(format string, args ...interface{}) {
	a.t.Helper()
	a.t.Logf(format, args...)
}

// Step logs a test step, for visibility in scenario output.
func (a *Assertions) Step(step string) {
	a.t.Helper()
	a.t.Logf("\n==> %s", step)
}

// Errorf logs an error and fails the test.
func (a *Assertions) Errorf(format string, args ...interface{}) {
	a.t.Helper()
	a.t.Errorf(format, args...)
}

// Fatalf logs a fatal error and stops the test immediately.
func (a *Assertions) Fatalf(format string, args ...interface{}) {
	a.t.Helper()
	a.t.Fatalf(format, args...)
}
