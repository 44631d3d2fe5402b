package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/ZebulonRouseFrantzich/caskr/internal/release"
	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"
)

const (
	// DefaultTimeout is the default HTTP request timeout
	DefaultTimeout = 5 * time.Minute
	// DefaultRetries is the default number of download retries
	DefaultRetries = 3
	// DefaultUserAgent is the User-Agent header sent with requests
	DefaultUserAgent = "caskr/1.0"
	// maxRedirects caps redirect chains (GitHub downloads redirect once or twice).
	maxRedirects = 10
)

// ErrEmptyBody is returned when the server answers 200 with no content.
var ErrEmptyBody = errors.New("empty response body")

// StatusError reports a non-200 response.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status code %d", e.URL, e.Code)
}

// Fetcher handles HTTP downloads with retry logic
type Fetcher struct {
	client    *http.Client
	cacheDir  string
	userAgent string
	retries   int
	backoff   time.Duration
	progress  io.Writer
	logger    *zap.Logger
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithRetries sets the number of retries after the first attempt.
func WithRetries(n int) Option {
	return func(f *Fetcher) { f.retries = n }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(f *Fetcher) { f.client.Timeout = d }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(f *Fetcher) { f.userAgent = ua }
}

// WithProgress renders a progress bar to w. A nil writer disables it.
func WithProgress(w io.Writer) Option {
	return func(f *Fetcher) { f.progress = w }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(f *Fetcher) { f.logger = l }
}

// WithTransport replaces the HTTP transport, keeping the redirect policy.
func WithTransport(rt http.RoundTripper) Option {
	return func(f *Fetcher) { f.client.Transport = rt }
}

// New creates a fetcher caching into cacheDir.
func New(cacheDir string, opts ...Option) *Fetcher {
	f := &Fetcher{
		client: &http.Client{
			Timeout: DefaultTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("too many redirects")
				}
				return nil
			},
		},
		cacheDir:  cacheDir,
		userAgent: DefaultUserAgent,
		retries:   DefaultRetries,
		backoff:   time.Second,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// CachePath returns where the artifact at rawURL is cached.
func (f *Fetcher) CachePath(name, version, rawURL string) string {
	return filepath.Join(f.cacheDir, name, version, basename(rawURL))
}

// Fetch downloads the release artifact, reusing a cached copy when present.
func (f *Fetcher) Fetch(ctx context.Context, rel *release.Release) (string, error) {
	if rel == nil {
		return "", fmt.Errorf("release is nil")
	}
	return f.fetchInto(ctx, rel.Name, rel.Version, rel.URL)
}

// FetchSignature downloads the detached signature of rel.
func (f *Fetcher) FetchSignature(ctx context.Context, rel *release.Release) (string, error) {
	if rel == nil || rel.SignatureURL == "" {
		return "", fmt.Errorf("no signature URL available")
	}
	return f.fetchInto(ctx, rel.Name, rel.Version, rel.SignatureURL)
}

func (f *Fetcher) fetchInto(ctx context.Context, name, version, rawURL string) (string, error) {
	cachePath := f.CachePath(name, version, rawURL)

	if fileExists(cachePath) {
		f.logger.Debug("using cached artifact", zap.String("path", cachePath))
		return cachePath, nil
	}

	if err := f.DownloadToFile(ctx, rawURL, cachePath); err != nil {
		return "", fmt.Errorf("download %s: %w", name, err)
	}
	return cachePath, nil
}

// Evict removes the cached artifact, e.g. after a checksum mismatch.
func (f *Fetcher) Evict(name, version, rawURL string) error {
	if err := os.Remove(f.CachePath(name, version, rawURL)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("evict cache entry: %w", err)
	}
	return nil
}

// DownloadToFile downloads a URL to a specific file path
func (f *Fetcher) DownloadToFile(ctx context.Context, rawURL, destPath string) error {
	var lastErr error

	for attempt := 0; attempt <= f.retries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if attempt > 0 {
			// 1s, 2s, 4s
			backoff := f.backoff * time.Duration(1<<uint(attempt-1))
			f.logger.Warn("retrying download",
				zap.String("url", rawURL),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", backoff),
				zap.Error(lastErr))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := f.downloadOnce(ctx, rawURL, destPath)
		if err == nil {
			return nil
		}

		lastErr = err

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !retryable(err) {
			return err
		}
	}

	return fmt.Errorf("download failed after %d retries: %w", f.retries, lastErr)
}

func (f *Fetcher) downloadOnce(ctx context.Context, rawURL, destPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	f.logger.Debug("downloading", zap.String("url", rawURL))

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &StatusError{URL: rawURL, Code: resp.StatusCode}
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("create dest dir: %w", err)
	}

	tmpPath := destPath + ".tmp"
	tmpFile, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	cleanupNeeded := true
	defer func() {
		tmpFile.Close()
		if cleanupNeeded {
			os.Remove(tmpPath)
		}
	}()

	var w io.Writer = tmpFile
	if f.progress != nil {
		bar := progressbar.NewOptions64(resp.ContentLength,
			progressbar.OptionSetWriter(f.progress),
			progressbar.OptionSetDescription(basename(rawURL)),
			progressbar.OptionShowBytes(true),
			progressbar.OptionSetWidth(40),
			progressbar.OptionThrottle(100*time.Millisecond),
		)
		defer bar.Finish()
		w = io.MultiWriter(tmpFile, bar)
	}

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return fmt.Errorf("copy response body: %w", err)
	}
	if n == 0 {
		return ErrEmptyBody
	}

	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}

	cleanupNeeded = false
	return nil
}

// retryable reports whether another attempt could succeed. Client errors
// other than 408 and 429 are final.
func retryable(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		code := statusErr.Code
		if code >= 400 && code < 500 {
			return code == http.StatusRequestTimeout || code == http.StatusTooManyRequests
		}
	}
	return true
}

// basename returns the last path element of a URL, ignoring query strings.
func basename(rawURL string) string {
	if u, err := url.Parse(rawURL); err == nil && u.Path != "" {
		return path.Base(u.Path)
	}
	return path.Base(rawURL)
}

// fileExists checks if a file exists and is not empty
func fileExists(p string) bool {
	info, err := os.Stat(p)
	if err != nil {
		return false
	}
	return !info.IsDir() && info.Size() > 0
}
