// Package fetch performs bounded-retry HTTP GETs and downloads release
// blobs into the raw artifact store.
//
// Every transport error and every non-2xx status is retried with
// exponential backoff until the attempt budget is spent. URLs that fail
// the validator are never requested.
package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/hazyhaar/relwatch/horosafe"
	"github.com/hazyhaar/relwatch/relwatch/internal/artifact"
	"github.com/hazyhaar/relwatch/relwatch/internal/state"
)

// ErrBlocked is returned when the URL validator refuses a URL.
var ErrBlocked = errors.New("fetch: URL blocked")

// ErrPersist wraps failures to store a downloaded blob.
var ErrPersist = errors.New("fetch: persist raw artifact")

// Error is the terminal failure of a retried GET.
type Error struct {
	URL        string
	Attempts   int
	StatusCode int // last HTTP status, 0 on transport failure
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: http %d after %d attempt(s)", e.URL, e.StatusCode, e.Attempts)
	}
	return fmt.Sprintf("fetch %s: %v after %d attempt(s)", e.URL, e.Err, e.Attempts)
}

func (e *Error) Unwrap() error { return e.Err }

// Config configures the fetcher.
type Config struct {
	Attempts  int           // Total tries per GET. Default: 5.
	BaseDelay time.Duration // Wait before the 2nd try; doubles after. Default: 1s.
	MaxDelay  time.Duration // Backoff ceiling. Default: 30s.
	Timeout   time.Duration // Per-attempt timeout. Default: 60s.
	MaxBytes  int64         // Max response body size. Default: 64MB.
	UserAgent string
	// Jitter adds up to this fraction of each wait at random (0..1).
	Jitter float64
	// URLValidator validates URLs before fetch and on every redirect.
	// Default: horosafe.ValidateURL.
	URLValidator func(string) error
	// Sleep waits between attempts. Default: a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
	// OnAttempt, if set, is called after every attempt with the caller's
	// context and the attempt's error (nil on success).
	OnAttempt func(ctx context.Context, url string, attempt int, err error)
}

func (c *Config) defaults() {
	if c.Attempts <= 0 {
		c.Attempts = 5
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 30 * time.Second
	}
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = 64 << 20
	}
	if c.UserAgent == "" {
		c.UserAgent = "relwatch/1.0"
	}
	if c.URLValidator == nil {
		c.URLValidator = horosafe.ValidateURL
	}
	if c.Jitter < 0 || c.Jitter > 1 {
		c.Jitter = 0
	}
	if c.Sleep == nil {
		c.Sleep = sleepCtx
	}
}

// Response is a successful GET.
type Response struct {
	URL         string // final URL after redirects
	StatusCode  int
	ContentType string
	Body        []byte
	Attempts    int
}

// Fetcher performs GETs with retry and SSRF protection on redirects.
type Fetcher struct {
	client *http.Client
	config Config
}

// New creates a Fetcher.
func New(cfg Config) *Fetcher {
	cfg.defaults()
	validate := cfg.URLValidator
	return &Fetcher{
		client: &http.Client{
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return fmt.Errorf("too many redirects (%d)", len(via))
				}
				if err := validate(req.URL.String()); err != nil {
					return fmt.Errorf("redirect blocked (SSRF): %w", err)
				}
				return nil
			},
		},
		config: cfg,
	}
}

// Get retrieves url, retrying transient failures. The returned error is an
// *Error unless the URL was blocked or ctx ended.
func (f *Fetcher) Get(ctx context.Context, url string) (*Response, error) {
	if err := f.config.URLValidator(url); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrBlocked, url, err)
	}

	var last *Error
	for attempt := 1; attempt <= f.config.Attempts; attempt++ {
		if attempt > 1 {
			if err := f.config.Sleep(ctx, f.backoff(attempt-1)); err != nil {
				return nil, err
			}
		}
		resp, status, err := f.once(ctx, url)
		if f.config.OnAttempt != nil {
			f.config.OnAttempt(ctx, url, attempt, err)
		}
		if err == nil {
			resp.Attempts = attempt
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		last = &Error{URL: url, Attempts: attempt, StatusCode: status, Err: err}
	}
	return nil, last
}

// backoff returns the wait after the n-th failed attempt: BaseDelay·2^(n-1),
// capped at MaxDelay, plus jitter.
func (f *Fetcher) backoff(n int) time.Duration {
	d := f.config.BaseDelay
	for i := 1; i < n && d < f.config.MaxDelay; i++ {
		d *= 2
	}
	d = min(d, f.config.MaxDelay)
	if f.config.Jitter > 0 {
		d += time.Duration(rand.Float64() * f.config.Jitter * float64(d))
	}
	return d
}

func (f *Fetcher) once(ctx context.Context, url string) (*Response, int, error) {
	ctx, cancel := context.WithTimeout(ctx, f.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("User-Agent", f.config.UserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, resp.StatusCode, fmt.Errorf("http %d", resp.StatusCode)
	}

	body, err := horosafe.LimitedReadAll(resp.Body, f.config.MaxBytes)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read body: %w", err)
	}
	return &Response{
		URL:         resp.Request.URL.String(),
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
	}, 0, nil
}

// RawArtifact is a downloaded release blob, already persisted.
type RawArtifact struct {
	Version  state.Version
	Body     []byte
	Path     string
	SHA256   string
	Attempts int
	Reused   bool
}

// RawStore persists raw blobs. Implemented by *artifact.Store.
type RawStore interface {
	PutRaw(v state.Version, body []byte) (artifact.Blob, error)
}

// Download fetches v.ContentLocator and stores the bytes in raw before
// returning. Nothing is stored when the download fails.
func (f *Fetcher) Download(ctx context.Context, v state.Version, raw RawStore) (*RawArtifact, error) {
	resp, err := f.Get(ctx, v.ContentLocator)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(resp.Body)
	a := &RawArtifact{
		Version:  v,
		Body:     resp.Body,
		SHA256:   hex.EncodeToString(sum[:]),
		Attempts: resp.Attempts,
	}
	blob, err := raw.PutRaw(v, resp.Body)
	if err != nil {
		return a, fmt.Errorf("%w: %w", ErrPersist, err)
	}
	a.Path = blob.Path
	a.Reused = blob.Reused
	return a, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
