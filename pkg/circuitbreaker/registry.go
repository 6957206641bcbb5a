package circuitbreaker

import "sync"

// Registry holds one breaker per key, typically a remote host. Breakers are
// created on first use and share the registry's Config.
type Registry struct {
	config   Config
	breakers sync.Map // string -> *Breaker
}

// NewRegistry creates a registry whose breakers use cfg.
func NewRegistry(cfg Config) *Registry {
	return &Registry{config: cfg}
}

// Get returns the breaker for key, creating it if needed.
func (r *Registry) Get(key string) *Breaker {
	if b, ok := r.breakers.Load(key); ok {
		return b.(*Breaker)
	}
	b, _ := r.breakers.LoadOrStore(key, New(key, r.config))
	return b.(*Breaker)
}

// Do runs fn through the breaker for key.
func (r *Registry) Do(key string, fn func() error) error {
	return r.Get(key).Do(fn)
}

// Stats counts breakers by state.
type Stats struct {
	Total    int
	Open     int
	HalfOpen int
	Closed   int
}

// Stats takes a snapshot of every breaker's state.
func (r *Registry) Stats() Stats {
	var stats Stats
	r.breakers.Range(func(_, v any) bool {
		stats.Total++
		switch v.(*Breaker).State() {
		case Open:
			stats.Open++
		case HalfOpen:
			stats.HalfOpen++
		default:
			stats.Closed++
		}
		return true
	})
	return stats
}
