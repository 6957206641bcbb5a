// Package storage uploads task input files to an HTTP object store.
//
// Objects are content addressed: a file is stored under
// "<xxhash64 of its content>/<base name>", so a file that is already present
// is never uploaded twice.
package storage

import (
	"batchkit/internal/apperrors"
	"batchkit/internal/workload"
	"batchkit/pkg/backoff"
	"batchkit/pkg/circuitbreaker"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
)

// ErrCircuitOpen is returned when the store has failed too often recently.
var ErrCircuitOpen = circuitbreaker.ErrOpen

// StatusError is an unexpected HTTP response from the store.
type StatusError struct {
	Method     string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: HTTP %d", e.Method, e.StatusCode)
}

// isClientError reports whether the store rejected the request itself.
func isClientError(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode >= 400 && se.StatusCode < 500
}

// Client implements batch.StorageService against an HTTP object store
// accepting PUT and HEAD on object URLs.
type Client struct {
	base     *url.URL
	http     *http.Client
	breakers *circuitbreaker.Registry
	config   Config
	logger   *slog.Logger
}

// New creates a storage client for cfg.BaseURL.
func New(cfg Config) (*Client, error) {
	cfg = cfg.withDefaults()
	base, err := url.Parse(cfg.BaseURL)
	if err != nil || (base.Scheme != "http" && base.Scheme != "https") || base.Host == "" {
		return nil, fmt.Errorf("invalid storage URL %q", cfg.BaseURL)
	}

	logger := slog.With("component", "storage")
	return &Client{
		base: base,
		http: &http.Client{
			Timeout: cfg.HTTPTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		breakers: circuitbreaker.NewRegistry(circuitbreaker.Config{
			Threshold: defaultBreakerThreshold,
			Cooldown:  defaultBreakerCooldown,
			IsFailure: func(err error) bool { return !isClientError(err) },
			OnStateChange: func(host string, from, to circuitbreaker.State) {
				logger.Warn("Storage circuit state changed", "host", host, "from", from, "to", to)
			},
		}),
		config: cfg,
		logger: logger,
	}, nil
}

// UploadFile stores the file at localPath unless an object with the same
// content and name already exists. The returned Path is the base name.
func (c *Client) UploadFile(ctx context.Context, localPath string) (workload.ResourceFile, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return workload.ResourceFile{}, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return workload.ResourceFile{}, err
	}
	if info.IsDir() {
		return workload.ResourceFile{}, apperrors.Validation("files", localPath+" is a directory")
	}

	digest := xxhash.New()
	if _, err := io.Copy(digest, f); err != nil {
		return workload.ResourceFile{}, fmt.Errorf("failed to hash %s: %w", localPath, err)
	}

	name := filepath.Base(localPath)
	object := c.ObjectURL(digest.Sum64(), name)
	ref := workload.ResourceFile{Source: object, Path: name}
	logger := c.logger.With("file", localPath, "object", object)

	uploaded := false
	err = c.breakers.Do(c.base.Host, func() error {
		if exists, err := c.exists(ctx, object); err == nil && exists {
			return nil
		}
		uploaded = true
		return backoff.Retry(ctx, c.config.MaxRetries, c.config.Backoff, func(ctx context.Context, attempt int) error {
			if attempt > 0 {
				logger.Debug("Retrying upload", "attempt", attempt)
			}
			body := io.NewSectionReader(f, 0, info.Size())
			err := c.put(ctx, object, body, info.Size())
			if isClientError(err) {
				return backoff.Permanent(err)
			}
			return err
		})
	})
	if err != nil {
		return workload.ResourceFile{}, err
	}
	if uploaded {
		logger.Debug("File uploaded", "bytes", info.Size())
	} else {
		logger.Debug("Upload skipped, object exists")
	}
	return ref, nil
}

// ResolveExisting references an object already in storage. source must be
// an absolute http(s) URL; dest defaults to the base name of its path and
// must stay inside the task working directory.
func (c *Client) ResolveExisting(_ context.Context, source, dest string) (workload.ResourceFile, error) {
	u, err := url.Parse(source)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return workload.ResourceFile{}, apperrors.Validation("attached.source", fmt.Sprintf("source %q must be an absolute http(s) URL", source))
	}
	if dest == "" {
		dest = path.Base(u.Path)
	}
	if err := ValidateDestination(dest); err != nil {
		return workload.ResourceFile{}, err
	}
	return workload.ResourceFile{Source: source, Path: dest}, nil
}

// ValidateDestination checks that dest is a clean relative path that stays
// inside the working directory.
func ValidateDestination(dest string) error {
	switch {
	case dest == "" || dest == "." || dest == "/":
		return apperrors.Validation("attached.path", "destination path is required")
	case path.IsAbs(dest):
		return apperrors.Validation("attached.path", fmt.Sprintf("destination %q must be relative", dest))
	case path.Clean(dest) != dest:
		return apperrors.Validation("attached.path", fmt.Sprintf("destination %q is not a clean path", dest))
	case dest == ".." || strings.HasPrefix(dest, "../"):
		return apperrors.Validation("attached.path", fmt.Sprintf("destination %q escapes the working directory", dest))
	}
	return nil
}

// ObjectURL returns the URL of the object with content hash sum and name.
func (c *Client) ObjectURL(sum uint64, name string) string {
	return c.base.JoinPath(fmt.Sprintf("%016x", sum), name).String()
}

func (c *Client) exists(ctx context.Context, object string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, object, nil)
	if err != nil {
		return false, err
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return true, nil
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	default:
		return false, &StatusError{Method: http.MethodHead, StatusCode: resp.StatusCode}
	}
}

func (c *Client) put(ctx context.Context, object string, body io.Reader, size int64) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, object, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.ContentLength = size
	req.Header.Set("Content-Type", "application/octet-stream")
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return &StatusError{Method: http.MethodPut, StatusCode: resp.StatusCode}
}

func (c *Client) authorize(req *http.Request) {
	if c.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.Token)
	}
}

// Ready checks that the store answers requests.
func (c *Client) Ready(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.base.String(), nil)
	if err != nil {
		return err
	}
	c.authorize(req)
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode >= 500 {
		return &StatusError{Method: http.MethodHead, StatusCode: resp.StatusCode}
	}
	return nil
}
