// Package testutil provides polling helpers for tests that observe
// asynchronous work such as callback delivery or remote task execution.
package testutil

import (
	"batchkit/internal/batch"
	"context"
	"testing"
	"time"
)

// WaitOptions configures the polling helpers.
type WaitOptions struct {
	Timeout  time.Duration
	Interval time.Duration
}

// WaitOption is a functional option for the polling helpers.
type WaitOption func(*WaitOptions)

// WithTimeout sets the maximum wait time (default: 30s).
func WithTimeout(d time.Duration) WaitOption {
	return func(o *WaitOptions) {
		o.Timeout = d
	}
}

// WithInterval sets the polling interval (default: 100ms).
func WithInterval(d time.Duration) WaitOption {
	return func(o *WaitOptions) {
		o.Interval = d
	}
}

func defaultOptions() WaitOptions {
	return WaitOptions{
		Timeout:  30 * time.Second,
		Interval: 100 * time.Millisecond,
	}
}

func resolve(opts []WaitOption) WaitOptions {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WaitFor polls until condition returns true or timeout is reached.
// Returns true if condition was met, false on timeout.
func WaitFor(tb testing.TB, condition func() bool, opts ...WaitOption) bool {
	tb.Helper()
	_, ok := WaitForValue(tb, func() (struct{}, bool) {
		return struct{}{}, condition()
	}, opts...)
	return ok
}

// WaitForValue polls fetch until it reports ok and returns the value it
// produced. On timeout it returns the last value seen and false.
func WaitForValue[T any](tb testing.TB, fetch func() (T, bool), opts ...WaitOption) (T, bool) {
	tb.Helper()
	o := resolve(opts)

	deadline := time.Now().Add(o.Timeout)
	var last T
	for {
		v, ok := fetch()
		if ok {
			return v, true
		}
		last = v
		if !time.Now().Add(o.Interval).Before(deadline) {
			return last, false
		}
		time.Sleep(o.Interval)
	}
}

// Counter is satisfied by *atomic.Int64.
type Counter interface {
	Load() int64
}

// WaitForCount polls until counter reaches target or timeout is reached.
func WaitForCount(tb testing.TB, counter Counter, target int64, opts ...WaitOption) bool {
	tb.Helper()
	return WaitFor(tb, func() bool {
		return counter.Load() >= target
	}, opts...)
}

// MustWaitFor polls until condition returns true or fails the test on timeout.
func MustWaitFor(tb testing.TB, condition func() bool, opts ...WaitOption) {
	tb.Helper()
	if !WaitFor(tb, condition, opts...) {
		tb.Fatal("timed out waiting for condition")
	}
}

// MustWaitForCount polls until counter reaches target or fails the test on timeout.
func MustWaitForCount(tb testing.TB, counter Counter, target int64, opts ...WaitOption) {
	tb.Helper()
	if !WaitForCount(tb, counter, target, opts...) {
		tb.Fatalf("timed out waiting for counter to reach %d (current: %d)", target, counter.Load())
	}
}

// TaskLister is the part of batch.JobInspector the task helpers need.
type TaskLister interface {
	ListTasks(ctx context.Context, job batch.JobName) ([]batch.TaskStatus, error)
}

// Finished reports whether state is terminal.
func Finished(state string) bool {
	return state == batch.StateCompleted || state == batch.StateFailed
}

// MustWaitForTasks polls job until it has want tasks that all reached a
// terminal state, and returns their statuses. It fails the test on timeout.
func MustWaitForTasks(tb testing.TB, lister TaskLister, job batch.JobName, want int, opts ...WaitOption) []batch.TaskStatus {
	tb.Helper()
	statuses, ok := WaitForValue(tb, func() ([]batch.TaskStatus, bool) {
		statuses, err := lister.ListTasks(context.Background(), job)
		if err != nil || len(statuses) != want {
			return statuses, false
		}
		for _, s := range statuses {
			if !Finished(s.State) {
				return statuses, false
			}
		}
		return statuses, true
	}, opts...)
	if !ok {
		tb.Fatalf("timed out waiting for %d finished tasks of job %s (last: %+v)", want, job, statuses)
	}
	return statuses
}
