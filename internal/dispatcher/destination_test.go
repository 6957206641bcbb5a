package dispatcher

import "testing"

func TestDestinationKey(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		rawURL string
		want   string
	}{
		{"explicit port", "http://localhost:8080/webhook", "localhost:8080"},
		{"https default port", "https://example.com/callback", "example.com:443"},
		{"http default port", "http://example.com/callback", "example.com:80"},
		{"host is lower-cased", "https://Hooks.Example.COM/a", "hooks.example.com:443"},
		{"path and query ignored", "http://api.example.com:3000/v1/events?key=123", "api.example.com:3000"},
		{"ipv6", "http://[::1]:9000/hook", "[::1]:9000"},
		{"malformed URL is its own key", "://invalid", "://invalid"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := destinationKey(tt.rawURL); got != tt.want {
				t.Errorf("destinationKey(%q) = %q, want %q", tt.rawURL, got, tt.want)
			}
		})
	}
}

func TestDestinationKey_SharesBreaker(t *testing.T) {
	t.Parallel()
	d := NewMemory(MemoryConfig{BufferSize: 1, Workers: 1}, nil)
	defer closeDispatcher(t, d)

	a := d.breakers.Get(destinationKey("https://hooks.example.com/a"))
	b := d.breakers.Get(destinationKey("https://HOOKS.example.com:443/b"))
	if a != b {
		t.Error("expected equivalent destinations to share a circuit breaker")
	}
}
