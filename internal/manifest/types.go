package manifest

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Manifest describes one prebuilt binary and how to install and remove it.
type Manifest struct {
	Name     string `json:"name"`
	Desc     string `json:"desc,omitempty"`
	Homepage string `json:"homepage,omitempty"`

	// Version is a literal version or VersionLatest.
	Version string `json:"version"`

	SHA256 Checksums `json:"sha256"`

	// URL is the download template; {version} and {arch} are substituted.
	URL string `json:"url"`

	Livecheck Livecheck `json:"livecheck"`

	// Binary is the artifact name; Target optionally renames it on install.
	Binary string `json:"binary"`
	Target string `json:"target,omitempty"`

	Signature  *Signature `json:"signature,omitempty"`
	Postflight Postflight `json:"postflight"`

	// Zap lists user state removed only by a full zap.
	Zap []string `json:"zap,omitempty"`

	// Path is the file the manifest was loaded from, if any.
	Path string `json:"-"`
}

// Checksums holds the expected SHA-256 digests of a manifest.
type Checksums struct {
	NoCheck bool              `json:"no_check,omitempty"`
	Default string            `json:"default,omitempty"`
	ByArch  map[string]string `json:"by_arch,omitempty"`
}

// For returns the expected digest for arch. An empty string with a nil
// error means verification is skipped (no_check).
func (c Checksums) For(arch string) (string, error) {
	if c.NoCheck {
		return "", nil
	}
	if digest, ok := c.ByArch[arch]; ok && digest != "" {
		return strings.ToLower(digest), nil
	}
	if c.Default != "" {
		return strings.ToLower(c.Default), nil
	}
	return "", fmt.Errorf("no sha256 digest for architecture %s", arch)
}

// IsPinned reports whether any digest is configured.
func (c Checksums) IsPinned() bool {
	return !c.NoCheck && (c.Default != "" || len(c.ByArch) > 0)
}

// Livecheck configures discovery of the newest upstream version.
type Livecheck struct {
	URL      string `json:"url,omitempty"`
	Regex    string `json:"regex,omitempty"`
	Strategy string `json:"strategy,omitempty"`
}

// Signature configures optional OpenPGP verification of the artifact.
type Signature struct {
	// URL is a template like Manifest.URL pointing at a detached signature.
	URL string `json:"url"`
	// Keyring is the path to an armored or binary public keyring (supports ~).
	Keyring string `json:"keyring"`
}

// Postflight holds the post-install hooks.
type Postflight struct {
	ClearQuarantine bool        `json:"clear_quarantine"`
	Mode            os.FileMode `json:"mode"`
}

// TargetName returns the installed file name.
func (m *Manifest) TargetName() string {
	if m.Target != "" {
		return m.Target
	}
	return m.Binary
}

// FileMode returns the permission applied to the installed binary.
func (m *Manifest) FileMode() os.FileMode {
	if m.Postflight.Mode == 0 {
		return DefaultMode
	}
	return m.Postflight.Mode
}

// IsLatest reports whether the version floats to the newest release.
func (m *Manifest) IsLatest() bool {
	return m.Version == VersionLatest
}

var (
	namePattern    = regexp.MustCompile(`^[a-z0-9][a-z0-9._+-]*$`)
	digestPattern  = regexp.MustCompile(`^[0-9a-fA-F]{64}$`)
	versionPattern = regexp.MustCompile(`^[0-9A-Za-z][0-9A-Za-z._+-]*$`)
)

// ValidationError represents a manifest validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return "manifest validation failed for " + e.Field + ": " + e.Message
	}
	return "manifest validation failed: " + e.Message
}

// Validate checks the manifest for missing fields and unsafe values.
func (m *Manifest) Validate() error {
	if m.Name == "" {
		return &ValidationError{Field: "name", Message: "name is required"}
	}
	if !namePattern.MatchString(m.Name) {
		return &ValidationError{Field: "name", Message: fmt.Sprintf("invalid name %q", m.Name)}
	}

	if m.Version == "" {
		return &ValidationError{Field: "version", Message: "version is required"}
	}
	if !m.IsLatest() && !versionPattern.MatchString(m.Version) {
		return &ValidationError{Field: "version", Message: fmt.Sprintf("invalid version %q", m.Version)}
	}

	if err := validateURL(m.URL); err != nil {
		return &ValidationError{Field: "url", Message: err.Error()}
	}
	if m.Homepage != "" {
		if err := validateURL(m.Homepage); err != nil {
			return &ValidationError{Field: "homepage", Message: err.Error()}
		}
	}

	if err := validateFileName(m.Binary); err != nil {
		return &ValidationError{Field: "binary", Message: err.Error()}
	}
	if m.Target != "" {
		if err := validateFileName(m.Target); err != nil {
			return &ValidationError{Field: "target", Message: err.Error()}
		}
	}

	if err := m.validateChecksums(); err != nil {
		return err
	}

	if m.Livecheck.Regex != "" {
		re, err := regexp.Compile(m.Livecheck.Regex)
		if err != nil {
			return &ValidationError{Field: "livecheck.regex", Message: err.Error()}
		}
		if re.NumSubexp() < 1 {
			return &ValidationError{Field: "livecheck.regex", Message: "regex must capture the version in a group"}
		}
	}
	if m.Livecheck.URL != "" {
		if err := validateURL(m.Livecheck.URL); err != nil {
			return &ValidationError{Field: "livecheck.url", Message: err.Error()}
		}
	}
	switch m.Livecheck.Strategy {
	case "", StrategyFeed, StrategyGitHubLatest:
	default:
		return &ValidationError{Field: "livecheck.strategy", Message: fmt.Sprintf("unknown strategy %q", m.Livecheck.Strategy)}
	}

	if m.Signature != nil {
		if err := validateURL(m.Signature.URL); err != nil {
			return &ValidationError{Field: "signature.url", Message: err.Error()}
		}
		if m.Signature.Keyring == "" {
			return &ValidationError{Field: "signature.keyring", Message: "keyring is required"}
		}
	}

	if mode := m.Postflight.Mode; mode != 0 && (mode&0o100 == 0 || mode&^os.ModePerm != 0) {
		return &ValidationError{Field: "postflight.chmod", Message: fmt.Sprintf("mode %#o must be a permission set including owner execute", m.Postflight.Mode)}
	}

	if len(m.Zap) > MaxZapTargets {
		return &ValidationError{Field: "zap", Message: fmt.Sprintf("too many zap targets (%d), maximum is %d", len(m.Zap), MaxZapTargets)}
	}
	for i, p := range m.Zap {
		if err := validateZapPath(p); err != nil {
			return &ValidationError{Field: fmt.Sprintf("zap[%d]", i), Message: err.Error()}
		}
	}

	return nil
}

func (m *Manifest) validateChecksums() error {
	c := m.SHA256
	if c.NoCheck {
		return nil
	}
	if !c.IsPinned() {
		return &ValidationError{Field: "sha256", Message: `sha256 is required (use "no_check" to skip verification)`}
	}
	if m.IsLatest() {
		return &ValidationError{Field: "sha256", Message: `version "latest" cannot pin a digest; use sha256 = "no_check"`}
	}
	if c.Default != "" && !digestPattern.MatchString(c.Default) {
		return &ValidationError{Field: "sha256", Message: fmt.Sprintf("invalid sha256 digest %q", c.Default)}
	}
	for arch, digest := range c.ByArch {
		if !digestPattern.MatchString(digest) {
			return &ValidationError{Field: "sha256." + arch, Message: fmt.Sprintf("invalid sha256 digest %q", digest)}
		}
	}
	return nil
}

func validateURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("url must use https:// or http:// scheme (got: %q)", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("url has no host")
	}
	return nil
}

func validateFileName(name string) error {
	if name == "" {
		return fmt.Errorf("file name is required")
	}
	if name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("invalid file name %q", name)
	}
	return nil
}

// validateZapPath accepts ~/ relative and absolute paths without traversal.
func validateZapPath(p string) error {
	if p == "" {
		return fmt.Errorf("path cannot be empty")
	}
	if !strings.HasPrefix(p, "~/") && !filepath.IsAbs(p) {
		return fmt.Errorf("path must start with ~/ or be absolute: %s", p)
	}
	for _, part := range strings.Split(filepath.ToSlash(p), "/") {
		if part == ".." {
			return fmt.Errorf("path traversal not allowed: %s", p)
		}
	}
	if p == "~/" || filepath.Clean(p) == "/" {
		return fmt.Errorf("refusing to zap %s", p)
	}
	return nil
}

// ExpandPath expands a leading ~/ against home.
func ExpandPath(p, home string) string {
	if p == "~" {
		return home
	}
	if strings.HasPrefix(p, "~/") {
		return filepath.Join(home, p[2:])
	}
	return p
}
