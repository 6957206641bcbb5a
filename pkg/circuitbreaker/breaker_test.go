package circuitbreaker

import (
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestBreaker(cfg Config) (*Breaker, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	b := New("store", cfg)
	b.now = clock.Now
	return b, clock
}

var errUnavailable = errors.New("unavailable")

func TestConfig_WithDefaults(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name          string
		in            Config
		wantThreshold int
		wantCooldown  time.Duration
	}{
		{"zero values", Config{}, 5, 30 * time.Second},
		{"negative values", Config{Threshold: -1, Cooldown: -1}, 5, 30 * time.Second},
		{"valid values preserved", Config{Threshold: 2, Cooldown: time.Second}, 2, time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := tt.in.withDefaults()
			if got.Threshold != tt.wantThreshold || got.Cooldown != tt.wantCooldown {
				t.Errorf("withDefaults() = %d/%v, want %d/%v", got.Threshold, got.Cooldown, tt.wantThreshold, tt.wantCooldown)
			}
		})
	}
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	t.Parallel()
	b, _ := newTestBreaker(Config{Threshold: 3, Cooldown: time.Minute})

	b.RecordFailure()
	b.RecordFailure()
	if b.State() != Closed || !b.Allow() {
		t.Fatalf("expected closed breaker before threshold, got %s", b.State())
	}

	b.RecordFailure()
	if b.State() != Open {
		t.Fatalf("expected open state after threshold, got %s", b.State())
	}
	if b.Allow() {
		t.Error("expected Allow() to reject while open")
	}
	if b.Failures() != 3 {
		t.Errorf("Failures() = %d, want 3", b.Failures())
	}
}

func TestBreaker_SuccessResetsCount(t *testing.T) {
	t.Parallel()
	b, _ := newTestBreaker(Config{Threshold: 2})

	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	if b.State() != Closed {
		t.Errorf("expected closed state, got %s", b.State())
	}
}

func TestBreaker_HalfOpenAllowsSingleProbe(t *testing.T) {
	t.Parallel()
	b, clock := newTestBreaker(Config{Threshold: 1, Cooldown: time.Minute})

	b.RecordFailure()
	clock.Advance(59 * time.Second)
	if b.Allow() {
		t.Fatal("expected Allow() to reject before cooldown")
	}

	clock.Advance(time.Second)
	if !b.Allow() {
		t.Fatal("expected probe to be allowed after cooldown")
	}
	if b.State() != HalfOpen {
		t.Fatalf("expected half-open state, got %s", b.State())
	}
	if b.Allow() {
		t.Error("expected second request to be rejected while the probe is in flight")
	}
}

func TestBreaker_ProbeOutcome(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		record func(*Breaker)
		want   State
	}{
		{"success closes", (*Breaker).RecordSuccess, Closed},
		{"failure reopens", (*Breaker).RecordFailure, Open},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			b, clock := newTestBreaker(Config{Threshold: 3, Cooldown: time.Second})
			for range 3 {
				b.RecordFailure()
			}
			clock.Advance(time.Second)
			if !b.Allow() {
				t.Fatal("expected probe to be allowed")
			}

			tt.record(b)
			if b.State() != tt.want {
				t.Errorf("state = %s, want %s", b.State(), tt.want)
			}
		})
	}
}

func TestBreaker_Do(t *testing.T) {
	t.Parallel()
	b, _ := newTestBreaker(Config{Threshold: 2, Cooldown: time.Minute})

	calls := 0
	fail := func() error {
		calls++
		return errUnavailable
	}
	for range 2 {
		if err := b.Do(fail); !errors.Is(err, errUnavailable) {
			t.Fatalf("Do() error = %v, want errUnavailable", err)
		}
	}
	if err := b.Do(fail); !errors.Is(err, ErrOpen) {
		t.Errorf("Do() error = %v, want ErrOpen", err)
	}
	if calls != 2 {
		t.Errorf("fn called %d times, want 2", calls)
	}
}

func TestBreaker_DoIgnoresNonFailures(t *testing.T) {
	t.Parallel()
	errRejected := errors.New("rejected")
	b, clock := newTestBreaker(Config{
		Threshold: 1,
		Cooldown:  time.Second,
		IsFailure: func(err error) bool { return !errors.Is(err, errRejected) },
	})

	reject := func() error { return errRejected }
	for range 3 {
		_ = b.Do(reject)
	}
	if b.State() != Closed {
		t.Fatalf("expected ignored errors to keep the breaker closed, got %s", b.State())
	}

	_ = b.Do(func() error { return errUnavailable })
	clock.Advance(time.Second)

	// An ignored error on the probe releases it without closing the breaker.
	_ = b.Do(reject)
	if b.State() != HalfOpen {
		t.Fatalf("expected half-open state, got %s", b.State())
	}
	if !b.Allow() {
		t.Error("expected a new probe after the released one")
	}
}

func TestBreaker_OnStateChange(t *testing.T) {
	t.Parallel()
	type change struct {
		name     string
		from, to State
	}
	var changes []change
	b, clock := newTestBreaker(Config{
		Threshold: 1,
		Cooldown:  time.Second,
		OnStateChange: func(name string, from, to State) {
			changes = append(changes, change{name, from, to})
		},
	})

	b.RecordSuccess()
	b.RecordFailure()
	clock.Advance(time.Second)
	b.Allow()
	b.RecordSuccess()

	want := []change{
		{"store", Closed, Open},
		{"store", Open, HalfOpen},
		{"store", HalfOpen, Closed},
	}
	if len(changes) != len(want) {
		t.Fatalf("changes = %v, want %v", changes, want)
	}
	for i := range want {
		if changes[i] != want[i] {
			t.Errorf("changes[%d] = %v, want %v", i, changes[i], want[i])
		}
	}
}

func TestBreaker_Reset(t *testing.T) {
	t.Parallel()
	b, _ := newTestBreaker(Config{Threshold: 1})

	b.RecordFailure()
	b.Reset()
	if b.State() != Closed || b.Failures() != 0 || !b.Allow() {
		t.Errorf("expected closed breaker after Reset, got %s with %d failures", b.State(), b.Failures())
	}
}

func TestBreaker_StateString(t *testing.T) {
	t.Parallel()
	tests := []struct {
		state State
		want  string
	}{
		{Closed, "closed"},
		{Open, "open"},
		{HalfOpen, "half-open"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", int(tt.state), got, tt.want)
		}
	}
}

func TestRegistry_GetCreatesBreaker(t *testing.T) {
	t.Parallel()
	r := NewRegistry(Config{Threshold: 1})

	a := r.Get("a.example")
	if a != r.Get("a.example") {
		t.Error("expected the same breaker for the same key")
	}
	if a == r.Get("b.example") {
		t.Error("expected distinct breakers for distinct keys")
	}
}

func TestRegistry_DoAndStats(t *testing.T) {
	t.Parallel()
	r := NewRegistry(Config{Threshold: 1, Cooldown: time.Minute})

	_ = r.Do("a.example", func() error { return errUnavailable })
	_ = r.Do("b.example", func() error { return nil })
	if err := r.Do("a.example", func() error { return nil }); !errors.Is(err, ErrOpen) {
		t.Errorf("Do() error = %v, want ErrOpen", err)
	}

	stats := r.Stats()
	if stats.Total != 2 || stats.Open != 1 || stats.Closed != 1 || stats.HalfOpen != 0 {
		t.Errorf("Stats() = %+v", stats)
	}
}
