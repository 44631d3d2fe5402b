package cask

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/ZebulonRouseFrantzich/caskr/internal/fetch"
	"github.com/ZebulonRouseFrantzich/caskr/internal/installer"
	"github.com/ZebulonRouseFrantzich/caskr/internal/manifest"
	"github.com/ZebulonRouseFrantzich/caskr/internal/platform"
	"github.com/ZebulonRouseFrantzich/caskr/internal/release"
	"github.com/ZebulonRouseFrantzich/caskr/internal/state"
	"github.com/ZebulonRouseFrantzich/caskr/internal/verify"
	"go.uber.org/zap"
)

// ErrNotManaged means a binary exists at the target path but no receipt
// records caskr installing it.
var ErrNotManaged = errors.New("binary not installed by caskr")

// Manager orchestrates resolution, download, verification and installation
type Manager struct {
	resolver     *release.Resolver
	fetcher      *fetch.Fetcher
	verifier     *verify.Verifier
	installer    *installer.Installer
	store        *state.Store
	platformInfo *platform.Info
	homeDir      string
	logger       *zap.Logger
}

// Config holds the collaborators of a Manager.
type Config struct {
	Resolver  *release.Resolver
	Fetcher   *fetch.Fetcher
	Verifier  *verify.Verifier
	Installer *installer.Installer
	Store     *state.Store
	// PlatformInfo supplies the default architecture and whether
	// quarantine clearing applies.
	PlatformInfo *platform.Info
	// HomeDir expands ~/ in zap targets and keyring paths.
	HomeDir string
	Logger  *zap.Logger
}

// NewManager creates a new cask manager
func NewManager(cfg Config) (*Manager, error) {
	switch {
	case cfg.Resolver == nil:
		return nil, fmt.Errorf("Resolver is required")
	case cfg.Fetcher == nil:
		return nil, fmt.Errorf("Fetcher is required")
	case cfg.Installer == nil:
		return nil, fmt.Errorf("Installer is required")
	case cfg.Store == nil:
		return nil, fmt.Errorf("Store is required")
	case cfg.PlatformInfo == nil:
		return nil, fmt.Errorf("PlatformInfo is required")
	case cfg.HomeDir == "":
		return nil, fmt.Errorf("HomeDir is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	verifier := cfg.Verifier
	if verifier == nil {
		verifier = verify.NewVerifier(logger.Named("verify"))
	}

	return &Manager{
		resolver:     cfg.Resolver,
		fetcher:      cfg.Fetcher,
		verifier:     verifier,
		installer:    cfg.Installer,
		store:        cfg.Store,
		platformInfo: cfg.PlatformInfo,
		homeDir:      cfg.HomeDir,
		logger:       logger,
	}, nil
}

// InstallOptions controls a single install.
type InstallOptions struct {
	// Arch overrides the detected architecture.
	Arch string
	// Force reinstalls even when the same version is already installed.
	Force bool
	// SkipVerify treats the manifest as no_check for this run.
	SkipVerify bool
}

// InstallResult describes an install.
type InstallResult struct {
	Name    string
	Version string
	Arch    string
	Path    string
	// Skipped is set when the version was already installed.
	Skipped           bool
	// Verification is MethodGPG when a detached signature was checked in
	// addition to the digest.
	Verification      verify.Method
	QuarantineCleared bool
	Receipt           *state.Receipt
}

func (mgr *Manager) lock(ctx context.Context) (*state.Lock, error) {
	lock, err := state.AcquireLock(ctx, mgr.store.Dir())
	if err != nil {
		return nil, err
	}
	mgr.logger.Debug("acquired state lock", zap.String("path", lock.Path()))
	return lock, nil
}

// Install resolves, downloads, verifies and installs m.
func (mgr *Manager) Install(ctx context.Context, m *manifest.Manifest, opts InstallOptions) (*InstallResult, error) {
	arch := opts.Arch
	if arch == "" {
		arch = mgr.platformInfo.Arch
	}

	lock, err := mgr.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer lock.Release()

	rel, err := mgr.resolver.Resolve(ctx, m, arch)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", m.Name, err)
	}

	log := mgr.logger.With(
		zap.String("cask", m.Name),
		zap.String("version", rel.Version),
		zap.String("arch", rel.Arch))

	target := mgr.installer.TargetPath(m.TargetName())
	previous, _ := mgr.installedPath(m.Name)
	if !opts.Force {
		if result := mgr.alreadyInstalled(m, rel); result != nil {
			log.Info("already installed", zap.String("path", result.Path))
			return result, nil
		}
		if previous != target && fileExists(target) {
			return nil, fmt.Errorf("install %s: %w: %s (use --force to overwrite)", m.Name, ErrNotManaged, target)
		}
	}

	artifact, err := mgr.fetcher.Fetch(ctx, rel)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", m.Name, err)
	}

	expected := rel.SHA256
	switch {
	case opts.SkipVerify:
		expected = ""
		log.Warn("verification disabled for this install")
	case expected == "" && !rel.NoCheck:
		return nil, fmt.Errorf("no pinned sha256 for %s %s", m.Name, rel.Version)
	}

	verified, err := mgr.verifier.Verify(artifact, expected)
	if err != nil {
		if errors.Is(err, verify.ErrChecksumMismatch) {
			if evictErr := mgr.fetcher.Evict(rel.Name, rel.Version, rel.URL); evictErr != nil {
				log.Warn("could not evict cached artifact", zap.Error(evictErr))
			}
		}
		return nil, fmt.Errorf("verify %s: %w", m.Name, err)
	}

	signed := false
	if m.Signature != nil && !opts.SkipVerify {
		if err := mgr.verifySignature(ctx, m, rel, artifact); err != nil {
			return nil, fmt.Errorf("verify %s: %w", m.Name, err)
		}
		signed = true
	}

	installed, err := mgr.installer.Install(ctx, installer.Request{
		Source:          artifact,
		Binary:          m.Binary,
		Target:          m.TargetName(),
		Mode:            m.FileMode(),
		ClearQuarantine: m.Postflight.ClearQuarantine && mgr.platformInfo.IsMacOS(),
	})
	if err != nil {
		return nil, fmt.Errorf("install %s: %w", m.Name, err)
	}

	receipt := mgr.store.NewReceipt(m.Name, rel.Version)
	receipt.Arch = rel.Arch
	receipt.URL = rel.URL
	receipt.BinaryPath = installed.Path
	receipt.StagedPath = installed.StagedPath
	receipt.SHA256 = verified.Actual
	receipt.Verified = verified.Verified() || signed
	receipt.QuarantineCleared = installed.QuarantineCleared
	if err := mgr.store.Save(receipt); err != nil {
		return nil, fmt.Errorf("write receipt: %w", err)
	}

	if previous != "" && previous != installed.Path {
		if _, err := mgr.installer.Remove(previous); err != nil {
			log.Warn("could not remove previously installed binary", zap.String("path", previous), zap.Error(err))
		}
	}

	method := verified.Method
	if signed {
		method = verify.MethodGPG
	}

	log.Info("installed", zap.String("path", installed.Path), zap.String("verification", string(method)))

	return &InstallResult{
		Name:              m.Name,
		Version:           rel.Version,
		Arch:              rel.Arch,
		Path:              installed.Path,
		Verification:      method,
		QuarantineCleared: installed.QuarantineCleared,
		Receipt:           receipt,
	}, nil
}

// alreadyInstalled returns a skipped result when the receipt matches rel
// and the binary is still present.
func (mgr *Manager) alreadyInstalled(m *manifest.Manifest, rel *release.Release) *InstallResult {
	receipt, err := mgr.store.Load(m.Name)
	if err != nil || receipt.Version != rel.Version || receipt.Arch != rel.Arch {
		return nil
	}
	path := mgr.installer.TargetPath(m.TargetName())
	if receipt.BinaryPath != path {
		return nil
	}
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() || info.Mode().Perm()&0o111 == 0 {
		return nil
	}
	return &InstallResult{
		Name:              m.Name,
		Version:           receipt.Version,
		Arch:              receipt.Arch,
		Path:              path,
		Skipped:           true,
		QuarantineCleared: receipt.QuarantineCleared,
		Receipt:           receipt,
	}
}

func (mgr *Manager) verifySignature(ctx context.Context, m *manifest.Manifest, rel *release.Release, artifact string) error {
	sigPath, err := mgr.fetcher.FetchSignature(ctx, rel)
	if err != nil {
		return fmt.Errorf("fetch signature: %w", err)
	}
	keyring := manifest.ExpandPath(m.Signature.Keyring, mgr.homeDir)
	return mgr.verifier.VerifySignature(artifact, sigPath, keyring)
}

// installedPath returns the binary path recorded in name's receipt.
func (mgr *Manager) installedPath(name string) (string, bool) {
	receipt, err := mgr.store.Load(name)
	if err != nil || receipt.BinaryPath == "" {
		return "", false
	}
	return receipt.BinaryPath, true
}

func fileExists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

// Receipt returns the install receipt of name.
func (mgr *Manager) Receipt(name string) (*state.Receipt, error) {
	return mgr.store.Load(name)
}

// List returns every installed cask.
func (mgr *Manager) List() ([]*state.Receipt, error) {
	return mgr.store.List()
}

// BinDir returns the directory binaries are installed into.
func (mgr *Manager) BinDir() string {
	return mgr.installer.BinDir()
}
