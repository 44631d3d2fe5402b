// Package bump updates a manifest to a new upstream version: it downloads
// the release for every architecture, hashes it and rewrites the version
// and digests in the Lua source in place.
package bump

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/ZebulonRouseFrantzich/caskr/internal/fetch"
	"github.com/ZebulonRouseFrantzich/caskr/internal/git"
	"github.com/ZebulonRouseFrantzich/caskr/internal/manifest"
	"github.com/ZebulonRouseFrantzich/caskr/internal/platform"
	"github.com/ZebulonRouseFrantzich/caskr/internal/release"
	"github.com/ZebulonRouseFrantzich/caskr/internal/verify"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// BackupSuffix is appended to the manifest path while it is rewritten.
const BackupSuffix = ".backup"

// ErrFloatingVersion is returned for manifests whose version is "latest".
var ErrFloatingVersion = errors.New(`manifest tracks "latest"; nothing to bump`)

// Options controls a bump.
type Options struct {
	// Version is the target version; empty or "latest" queries livecheck.
	Version string
	// Force rewrites even when the manifest is already at Version.
	Force bool
	// Commit stages and commits the manifest in its git repository.
	Commit bool
	// Push publishes the commit to the origin remote. It implies Commit.
	Push bool
}

// Result describes a bump.
type Result struct {
	Name       string
	Path       string
	OldVersion string
	Version    string
	// Digests maps architecture (or manifest.DigestDefault) to sha256.
	Digests   map[string]string
	UpToDate  bool
	Committed bool
	Commit    string
	Pushed    bool
}

// Bumper rewrites manifests.
type Bumper struct {
	parser   *manifest.Parser
	resolver *release.Resolver
	fetcher  *fetch.Fetcher
	newGit   func(dir string) git.Git
	logger   *zap.Logger
}

// Config holds the collaborators of a Bumper.
type Config struct {
	Parser   *manifest.Parser
	Resolver *release.Resolver
	Fetcher  *fetch.Fetcher
	// Git opens the repository containing dir; defaults to git.NewClient.
	Git    func(dir string) git.Git
	Logger *zap.Logger
}

// New creates a Bumper.
func New(cfg Config) (*Bumper, error) {
	if cfg.Parser == nil || cfg.Resolver == nil || cfg.Fetcher == nil {
		return nil, fmt.Errorf("Parser, Resolver and Fetcher are required")
	}
	b := &Bumper{
		parser:   cfg.Parser,
		resolver: cfg.Resolver,
		fetcher:  cfg.Fetcher,
		newGit:   cfg.Git,
		logger:   cfg.Logger,
	}
	if b.newGit == nil {
		b.newGit = func(dir string) git.Git { return git.NewClient(dir) }
	}
	if b.logger == nil {
		b.logger = zap.NewNop()
	}
	return b, nil
}

// Bump updates the manifest at path according to opts.
func (b *Bumper) Bump(ctx context.Context, path string, opts Options) (*Result, error) {
	m, err := b.parser.ParseFile(ctx, path)
	if err != nil {
		return nil, err
	}
	if m.IsLatest() {
		return nil, ErrFloatingVersion
	}

	version, err := b.targetVersion(ctx, m, opts.Version)
	if err != nil {
		return nil, err
	}

	result := &Result{Name: m.Name, Path: path, OldVersion: m.Version, Version: version}
	log := b.logger.With(zap.String("cask", m.Name), zap.String("from", m.Version), zap.String("to", version))

	if version == m.Version && !opts.Force {
		log.Info("already up to date")
		result.UpToDate = true
		return result, nil
	}

	digests, err := b.hash(ctx, m, version)
	if err != nil {
		return nil, err
	}
	result.Digests = digests

	if err := b.rewrite(ctx, path, version, digests); err != nil {
		return nil, err
	}
	log.Info("manifest updated", zap.Any("digests", digests))

	if opts.Commit || opts.Push {
		if err := b.commit(ctx, result, opts.Push); err != nil {
			return result, fmt.Errorf("commit %s: %w", m.Name, err)
		}
	}

	return result, nil
}

func (b *Bumper) targetVersion(ctx context.Context, m *manifest.Manifest, requested string) (string, error) {
	requested = strings.TrimPrefix(strings.TrimSpace(requested), "v")
	if requested != "" && requested != manifest.VersionLatest {
		if err := b.resolver.CheckVersion(ctx, m, requested); err != nil {
			return "", fmt.Errorf("check %s %s: %w", m.Name, requested, err)
		}
		return requested, nil
	}
	version, err := b.resolver.Latest(ctx, m)
	if err != nil {
		return "", fmt.Errorf("livecheck %s: %w", m.Name, err)
	}
	return version, nil
}

// hash downloads and digests the release of every architecture the
// manifest pins, concurrently.
func (b *Bumper) hash(ctx context.Context, m *manifest.Manifest, version string) (map[string]string, error) {
	if m.SHA256.NoCheck {
		return nil, nil
	}

	keys := map[string]string{}
	if len(m.SHA256.ByArch) > 0 {
		for _, arch := range platform.SupportedArchs {
			if _, ok := m.SHA256.ByArch[arch]; ok {
				keys[arch] = arch
			}
		}
	} else {
		// A single digest means the artifact does not depend on {arch}.
		keys[manifest.DigestDefault] = platform.ArchARM64
	}

	// Manifests whose URL ignores {arch} fetch one artifact for every key.
	urls := map[string][]string{}
	releases := map[string]*release.Release{}
	for key, arch := range keys {
		rel, err := release.ForVersion(m, version, arch)
		if err != nil {
			return nil, err
		}
		urls[rel.URL] = append(urls[rel.URL], key)
		releases[rel.URL] = rel
	}

	var mu sync.Mutex
	digests := make(map[string]string, len(keys))

	g, gctx := errgroup.WithContext(ctx)
	for url, rel := range releases {
		g.Go(func() error {
			artifact, err := b.fetcher.Fetch(gctx, rel)
			if err != nil {
				return fmt.Errorf("fetch %s: %w", rel.Arch, err)
			}
			digest, err := verify.SHA256File(artifact)
			if err != nil {
				return fmt.Errorf("hash %s: %w", rel.Arch, err)
			}
			b.logger.Debug("hashed artifact", zap.Strings("keys", urls[url]), zap.String("url", url), zap.String("sha256", digest))

			mu.Lock()
			for _, key := range urls[url] {
				digests[key] = digest
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return digests, nil
}

// rewrite updates the manifest through a backup copy and restores it when
// the rewritten file no longer parses.
func (b *Bumper) rewrite(ctx context.Context, path, version string, digests map[string]string) error {
	original, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read manifest: %w", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat manifest: %w", err)
	}

	updated, err := manifest.Rewrite(original, version, digests)
	if err != nil {
		return fmt.Errorf("rewrite manifest: %w", err)
	}

	backup := path + BackupSuffix
	if err := os.WriteFile(backup, original, info.Mode().Perm()); err != nil {
		return fmt.Errorf("write backup: %w", err)
	}

	if err := os.WriteFile(path, updated, info.Mode().Perm()); err != nil {
		return b.restore(path, backup, fmt.Errorf("write manifest: %w", err))
	}

	m, err := b.parser.ParseFile(ctx, path)
	if err == nil && m.Version != version {
		err = fmt.Errorf("rewritten manifest has version %q, want %q", m.Version, version)
	}
	if err != nil {
		return b.restore(path, backup, fmt.Errorf("rewritten manifest is invalid: %w", err))
	}

	if err := os.Remove(backup); err != nil {
		b.logger.Warn("could not remove backup", zap.String("path", backup), zap.Error(err))
	}
	return nil
}

func (b *Bumper) restore(path, backup string, cause error) error {
	if err := os.Rename(backup, path); err != nil {
		return fmt.Errorf("%w (restore from %s failed: %v)", cause, backup, err)
	}
	b.logger.Warn("restored manifest from backup", zap.String("path", path))
	return cause
}

// commit records the rewritten manifest in its repository and, when push
// is set, publishes it. A tree with nothing staged is left alone.
func (b *Bumper) commit(ctx context.Context, result *Result, push bool) error {
	abs, err := filepath.Abs(result.Path)
	if err != nil {
		return err
	}
	dir := filepath.Dir(abs)
	client := b.newGit(dir)

	ok, err := client.IsGitRepo(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", git.ErrNotAGitRepo, dir)
	}

	if err := client.Stage(ctx, abs); err != nil {
		return err
	}

	staged, err := client.HasStagedChanges(ctx)
	if err != nil {
		return err
	}
	if !staged {
		b.logger.Warn("no changes to commit", zap.String("path", abs))
		return nil
	}

	hash, err := client.Commit(ctx, CommitMessage(result.Name, result.Version), commitBody(result.Digests))
	if err != nil {
		return err
	}
	result.Committed = true
	result.Commit = hash

	if push {
		if err := client.Push(ctx); err != nil {
			return err
		}
		result.Pushed = true
	}
	return nil
}

// CommitMessage is the subject of the commit recording a bump.
func CommitMessage(name, version string) string {
	return fmt.Sprintf("chore(cask): update %s to v%s", name, version)
}

func commitBody(digests map[string]string) string {
	keys := make([]string, 0, len(digests))
	for k := range digests {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("sha256 %s: %s", k, digests[k]))
	}
	return strings.Join(lines, "\n")
}
