package storage

import (
	"batchkit/internal/apperrors"
	"batchkit/pkg/backoff"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cespare/xxhash/v2"
)

// objectStore is a minimal PUT/HEAD object store.
type objectStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    atomic.Int32
	fail    atomic.Int32 // number of PUTs to answer with status
	status  int
	auth    string
}

func newObjectStore() *objectStore {
	return &objectStore{objects: make(map[string][]byte), status: http.StatusServiceUnavailable}
}

func (s *objectStore) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.auth = r.Header.Get("Authorization")
	s.mu.Unlock()

	switch r.Method {
	case http.MethodHead:
		s.mu.Lock()
		_, ok := s.objects[r.URL.Path]
		s.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	case http.MethodPut:
		s.puts.Add(1)
		if s.fail.Load() > 0 {
			s.fail.Add(-1)
			w.WriteHeader(s.status)
			return
		}
		body, _ := io.ReadAll(r.Body)
		s.mu.Lock()
		s.objects[r.URL.Path] = body
		s.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func newClient(t *testing.T, serverURL string, maxRetries int) *Client {
	t.Helper()
	c, err := New(Config{
		BaseURL:    serverURL + "/batch",
		MaxRetries: maxRetries,
		Token:      "secret",
		Backoff:    &backoff.Config{Initial: time.Millisecond, Max: time.Millisecond},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

func TestClient_UploadFile(t *testing.T) {
	t.Parallel()
	store := newObjectStore()
	server := httptest.NewServer(store)
	defer server.Close()

	c := newClient(t, server.URL, 3)
	local := writeFile(t, "users.csv", "john\npradeep\n")

	ref, err := c.UploadFile(context.Background(), local)
	if err != nil {
		t.Fatalf("UploadFile() error = %v", err)
	}
	if ref.Path != "users.csv" {
		t.Errorf("Path = %q, want base name", ref.Path)
	}
	want := c.ObjectURL(xxhash.Sum64String("john\npradeep\n"), "users.csv")
	if ref.Source != want {
		t.Errorf("Source = %q, want %q", ref.Source, want)
	}
	if !strings.HasPrefix(ref.Source, server.URL+"/batch/") {
		t.Errorf("Source %q not under base URL", ref.Source)
	}

	store.mu.Lock()
	stored := len(store.objects)
	auth := store.auth
	store.mu.Unlock()
	if stored != 1 {
		t.Errorf("store has %d objects, want 1", stored)
	}
	if auth != "Bearer secret" {
		t.Errorf("Authorization = %q", auth)
	}
}

func TestClient_UploadSkipsExisting(t *testing.T) {
	t.Parallel()
	store := newObjectStore()
	server := httptest.NewServer(store)
	defer server.Close()

	c := newClient(t, server.URL, 3)
	local := writeFile(t, "model.bin", "weights")

	first, err := c.UploadFile(context.Background(), local)
	if err != nil {
		t.Fatalf("UploadFile() error = %v", err)
	}
	for range 2 {
		ref, err := c.UploadFile(context.Background(), local)
		if err != nil {
			t.Fatalf("UploadFile() error = %v", err)
		}
		if ref != first {
			t.Errorf("skipped upload returned %+v, want %+v", ref, first)
		}
	}
	if got := store.puts.Load(); got != 1 {
		t.Errorf("PUT count = %d, want 1", got)
	}
}

func TestClient_UploadRetriesServerErrors(t *testing.T) {
	t.Parallel()
	store := newObjectStore()
	store.fail.Store(2)
	server := httptest.NewServer(store)
	defer server.Close()

	c := newClient(t, server.URL, 3)
	if _, err := c.UploadFile(context.Background(), writeFile(t, "a.txt", "a")); err != nil {
		t.Fatalf("UploadFile() error = %v", err)
	}
	if got := store.puts.Load(); got != 3 {
		t.Errorf("PUT count = %d, want 3", got)
	}
}

func TestClient_UploadDoesNotRetryClientErrors(t *testing.T) {
	t.Parallel()
	store := newObjectStore()
	store.status = http.StatusForbidden
	store.fail.Store(10)
	server := httptest.NewServer(store)
	defer server.Close()

	c := newClient(t, server.URL, 3)
	_, err := c.UploadFile(context.Background(), writeFile(t, "a.txt", "a"))

	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusForbidden {
		t.Fatalf("UploadFile() error = %v, want 403 StatusError", err)
	}
	if got := store.puts.Load(); got != 1 {
		t.Errorf("PUT count = %d, want 1", got)
	}
}

func TestClient_CircuitOpensAfterRepeatedFailures(t *testing.T) {
	t.Parallel()
	store := newObjectStore()
	store.fail.Store(1000)
	server := httptest.NewServer(store)
	defer server.Close()

	c := newClient(t, server.URL, 0)
	local := writeFile(t, "a.txt", "a")
	for range defaultBreakerThreshold {
		if _, err := c.UploadFile(context.Background(), local); err == nil {
			t.Fatal("expected upload to fail")
		}
	}

	before := store.puts.Load()
	if _, err := c.UploadFile(context.Background(), local); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("UploadFile() error = %v, want ErrCircuitOpen", err)
	}
	if store.puts.Load() != before {
		t.Error("request sent while circuit open")
	}
}

func TestClient_ClientErrorsKeepCircuitClosed(t *testing.T) {
	t.Parallel()
	store := newObjectStore()
	store.status = http.StatusForbidden
	store.fail.Store(1000)
	server := httptest.NewServer(store)
	defer server.Close()

	c := newClient(t, server.URL, 0)
	local := writeFile(t, "a.txt", "a")
	for range defaultBreakerThreshold + 1 {
		if _, err := c.UploadFile(context.Background(), local); errors.Is(err, ErrCircuitOpen) {
			t.Fatal("circuit opened on client errors")
		}
	}
	if got := store.puts.Load(); got != int32(defaultBreakerThreshold+1) {
		t.Errorf("PUT count = %d, want %d", got, defaultBreakerThreshold+1)
	}
}

func TestClient_UploadMissingFile(t *testing.T) {
	t.Parallel()
	c := newClient(t, "http://127.0.0.1:1", 0)

	_, err := c.UploadFile(context.Background(), filepath.Join(t.TempDir(), "missing.txt"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("UploadFile() error = %v, want os.ErrNotExist", err)
	}
	if _, err := c.UploadFile(context.Background(), t.TempDir()); !errors.Is(err, apperrors.ErrValidation) {
		t.Errorf("UploadFile(dir) error = %v, want ErrValidation", err)
	}
}

func TestClient_ResolveExisting(t *testing.T) {
	t.Parallel()
	c := newClient(t, "http://127.0.0.1:1", 0)

	tests := []struct {
		name     string
		source   string
		dest     string
		wantPath string
		wantErr  bool
	}{
		{"explicit path", "https://blobs.example/models/w.bin", "models/w.bin", "models/w.bin", false},
		{"default path", "https://blobs.example/models/w.bin", "", "w.bin", false},
		{"relative source", "models/w.bin", "", "", true},
		{"unsupported scheme", "ftp://blobs.example/w.bin", "", "", true},
		{"absolute dest", "https://blobs.example/w.bin", "/etc/w.bin", "", true},
		{"escaping dest", "https://blobs.example/w.bin", "../w.bin", "", true},
		{"unclean dest", "https://blobs.example/w.bin", "a//w.bin", "", true},
	}

	for _, tt := range tests {
		ref, err := c.ResolveExisting(context.Background(), tt.source, tt.dest)
		if tt.wantErr {
			if !errors.Is(err, apperrors.ErrValidation) {
				t.Errorf("%s: error = %v, want ErrValidation", tt.name, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("%s: unexpected error %v", tt.name, err)
			continue
		}
		if ref.Path != tt.wantPath || ref.Source != tt.source {
			t.Errorf("%s: ResolveExisting() = %+v", tt.name, ref)
		}
	}
}

func TestNew_InvalidURL(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"", "blobs:9000", "ftp://blobs/batch"} {
		if _, err := New(Config{BaseURL: raw}); err == nil {
			t.Errorf("New(%q) expected error", raw)
		}
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("STORAGE_URL", "http://blobs:9000/batch")
	t.Setenv("STORAGE_MAX_RETRIES", "5")
	t.Setenv("STORAGE_HTTP_TIMEOUT", "5s")

	cfg := LoadConfigFromEnv()
	if cfg.BaseURL != "http://blobs:9000/batch" || cfg.MaxRetries != 5 || cfg.HTTPTimeout != 5*time.Second {
		t.Errorf("cfg = %+v", cfg)
	}
}
