// Package release turns a manifest into concrete, per-architecture download
// locations, discovering the newest upstream version when the manifest asks
// for "latest".
package release

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ZebulonRouseFrantzich/caskr/internal/manifest"
	"github.com/ZebulonRouseFrantzich/caskr/internal/platform"
	"go.uber.org/zap"
)

var (
	// ErrNoVersion means the livecheck source was reachable but contained no
	// version matching the pattern.
	ErrNoVersion = errors.New("no matching version found")
	// ErrFeed means the livecheck source could not be read.
	ErrFeed = errors.New("release feed unavailable")
	// ErrUnknownVersion means the requested release does not exist upstream.
	ErrUnknownVersion = errors.New("release not found")
	// ErrUnsupportedArch is returned for architectures outside amd64/arm64.
	ErrUnsupportedArch = errors.New("unsupported architecture")
)

const (
	// DefaultAPIBase is the GitHub REST API root.
	DefaultAPIBase = "https://api.github.com"
	// DefaultTimeout bounds a single livecheck request.
	DefaultTimeout = 30 * time.Second
	// DefaultUserAgent is the User-Agent header sent with requests.
	DefaultUserAgent = "caskr/1.0"
)

// Release is a manifest resolved for one architecture.
type Release struct {
	Name    string
	Version string
	Arch    string
	URL     string
	// SHA256 is the expected digest; empty when NoCheck is set.
	SHA256       string
	NoCheck      bool
	SignatureURL string
}

// Resolver resolves manifests to releases.
type Resolver struct {
	client    *http.Client
	apiBase   string
	userAgent string
	logger    *zap.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithHTTPClient sets the client used for livecheck requests.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Resolver) { r.client = c }
}

// WithAPIBase overrides the GitHub API root (used by github_latest).
func WithAPIBase(base string) Option {
	return func(r *Resolver) { r.apiBase = strings.TrimRight(base, "/") }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(r *Resolver) { r.userAgent = ua }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

// NewResolver creates a resolver with the given options.
func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{
		client:    &http.Client{Timeout: DefaultTimeout},
		apiBase:   DefaultAPIBase,
		userAgent: DefaultUserAgent,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ExpandURL substitutes {version} and {arch} in a URL template.
func ExpandURL(template, version, arch string) string {
	return strings.NewReplacer("{version}", version, "{arch}", arch).Replace(template)
}

// ResolveVersion returns the manifest version, or the newest upstream
// version when the manifest says "latest".
func (r *Resolver) ResolveVersion(ctx context.Context, m *manifest.Manifest) (string, error) {
	if !m.IsLatest() {
		return m.Version, nil
	}
	return r.Latest(ctx, m)
}

// Resolve resolves m for arch.
func (r *Resolver) Resolve(ctx context.Context, m *manifest.Manifest, arch string) (*Release, error) {
	version, err := r.ResolveVersion(ctx, m)
	if err != nil {
		return nil, fmt.Errorf("resolve version: %w", err)
	}
	return ForVersion(m, version, arch)
}

// ForVersion builds the release of m at a concrete version for arch. The
// manifest digest is attached only when the version is the pinned one.
func ForVersion(m *manifest.Manifest, version, arch string) (*Release, error) {
	normalized, err := platform.NormalizeArch(arch)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedArch, arch)
	}

	rel := &Release{
		Name:    m.Name,
		Version: version,
		Arch:    normalized,
		URL:     ExpandURL(m.URL, version, normalized),
		NoCheck: m.SHA256.NoCheck,
	}

	if !rel.NoCheck && version == m.Version {
		digest, err := m.SHA256.For(normalized)
		if err != nil {
			return nil, err
		}
		rel.SHA256 = digest
	}

	if m.Signature != nil {
		rel.SignatureURL = ExpandURL(m.Signature.URL, version, normalized)
	}

	return rel, nil
}
