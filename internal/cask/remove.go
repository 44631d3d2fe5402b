package cask

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/ZebulonRouseFrantzich/caskr/internal/manifest"
	"go.uber.org/zap"
)

// systemDirs are never removed, whatever a manifest says.
var systemDirs = []string{
	"/", "/usr", "/usr/local", "/bin", "/sbin", "/etc", "/var", "/lib", "/boot",
	"/opt", "/opt/homebrew", "/System", "/Library", "/Applications", "/Users", "/home", "/private",
}

// RemovalItem is one path a removal would touch.
type RemovalItem struct {
	Path   string
	Exists bool
	Size   int64
	// Refused holds the reason a path will not be removed.
	Refused string
	// Unmanaged marks a binary present at the target path without a
	// receipt. It is only removed when forced.
	Unmanaged bool
}

// RemovalPlan lists what an uninstall or zap would remove.
type RemovalPlan struct {
	Name       string
	Zap        bool
	Binary     RemovalItem
	Receipt    RemovalItem
	ZapTargets []RemovalItem
}

// TotalSize sums the sizes of the existing, non-refused items.
func (p *RemovalPlan) TotalSize() int64 {
	var total int64
	for _, item := range p.items() {
		if item.Exists && item.Refused == "" && !item.Unmanaged {
			total += item.Size
		}
	}
	return total
}

// Empty reports whether nothing would be removed.
func (p *RemovalPlan) Empty() bool {
	for _, item := range p.items() {
		if item.Exists && item.Refused == "" && !item.Unmanaged {
			return false
		}
	}
	return true
}

func (p *RemovalPlan) items() []RemovalItem {
	items := []RemovalItem{p.Binary, p.Receipt}
	return append(items, p.ZapTargets...)
}

// RemovalResult reports what was removed.
type RemovalResult struct {
	Plan    *RemovalPlan
	Removed []string
	// Missing lists planned paths that were already absent.
	Missing []string
}

// UninstallOptions controls an uninstall.
type UninstallOptions struct {
	// Force removes a binary at the target path even without a receipt.
	Force bool
}

// ZapOptions controls a zap.
type ZapOptions struct {
	// DryRun computes the plan without removing anything.
	DryRun bool
	// Force has the meaning of UninstallOptions.Force.
	Force bool
}

// PlanRemoval describes what Uninstall (zap=false) or Zap (zap=true) would
// remove for m. It does not modify the filesystem.
func (mgr *Manager) PlanRemoval(m *manifest.Manifest, zap bool) *RemovalPlan {
	plan := &RemovalPlan{
		Name:    m.Name,
		Zap:     zap,
		Receipt: inspect(mgr.store.ReceiptPath(m.Name)),
	}

	if path, ok := mgr.installedPath(m.Name); ok {
		plan.Binary = inspect(path)
	} else {
		plan.Binary = inspect(mgr.installer.TargetPath(m.TargetName()))
		plan.Binary.Unmanaged = plan.Binary.Exists
	}

	if zap {
		for _, target := range m.Zap {
			path := manifest.ExpandPath(target, mgr.homeDir)
			if err := validateRemovalPath(target, path, mgr.homeDir); err != nil {
				plan.ZapTargets = append(plan.ZapTargets, RemovalItem{Path: path, Refused: err.Error()})
				continue
			}
			plan.ZapTargets = append(plan.ZapTargets, inspect(path))
		}
	}

	return plan
}

// Uninstall removes the installed binary and its receipt. The binary path
// comes from the receipt, so a later change of prefix does not orphan it.
// Zap targets are left untouched. A missing binary is reported, not an
// error; a binary caskr did not install is refused unless opts.Force.
func (mgr *Manager) Uninstall(ctx context.Context, m *manifest.Manifest, opts UninstallOptions) (*RemovalResult, error) {
	lock, err := mgr.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer lock.Release()

	return mgr.uninstall(m, mgr.PlanRemoval(m, false), opts.Force)
}

func (mgr *Manager) uninstall(m *manifest.Manifest, plan *RemovalPlan, force bool) (*RemovalResult, error) {
	result := &RemovalResult{Plan: plan}

	if plan.Binary.Unmanaged && !force {
		return nil, fmt.Errorf("uninstall %s: %w: %s (use --force to remove it)", m.Name, ErrNotManaged, plan.Binary.Path)
	}

	removed, err := mgr.installer.Remove(plan.Binary.Path)
	if err != nil {
		return nil, fmt.Errorf("uninstall %s: %w", m.Name, err)
	}
	if removed {
		result.Removed = append(result.Removed, plan.Binary.Path)
	} else {
		mgr.logger.Warn("binary not installed", zap.String("cask", m.Name), zap.String("path", plan.Binary.Path))
		result.Missing = append(result.Missing, plan.Binary.Path)
	}

	existed, err := mgr.store.Delete(m.Name)
	if err != nil {
		return nil, fmt.Errorf("uninstall %s: %w", m.Name, err)
	}
	if existed {
		result.Removed = append(result.Removed, plan.Receipt.Path)
	}

	return result, nil
}

// Zap uninstalls m and removes every zap target. Unsafe targets abort the
// zap before anything is removed.
func (mgr *Manager) Zap(ctx context.Context, m *manifest.Manifest, opts ZapOptions) (*RemovalResult, error) {
	plan := mgr.PlanRemoval(m, true)
	for _, item := range plan.ZapTargets {
		if item.Refused != "" {
			return nil, fmt.Errorf("zap %s: %s", m.Name, item.Refused)
		}
	}

	if opts.DryRun {
		return &RemovalResult{Plan: plan}, nil
	}

	lock, err := mgr.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer lock.Release()

	result, err := mgr.uninstall(m, plan, opts.Force)
	if err != nil {
		return nil, err
	}

	for _, item := range plan.ZapTargets {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if _, err := os.Lstat(item.Path); os.IsNotExist(err) {
			result.Missing = append(result.Missing, item.Path)
			continue
		}
		if err := os.RemoveAll(item.Path); err != nil {
			return result, fmt.Errorf("zap %s: remove %s: %w", m.Name, item.Path, err)
		}
		mgr.logger.Info("removed", zap.String("cask", m.Name), zap.String("path", item.Path))
		result.Removed = append(result.Removed, item.Path)
	}

	return result, nil
}

// validateRemovalPath checks that the expanded zap target path is safe to
// remove recursively. raw is the target as written in the manifest.
func validateRemovalPath(raw, path, homeDir string) error {
	for _, part := range strings.Split(filepath.ToSlash(raw), "/") {
		if part == ".." {
			return fmt.Errorf("refusing to remove %s: contains path traversal sequence", raw)
		}
	}
	if !filepath.IsAbs(path) {
		return fmt.Errorf("refusing to remove %s: not an absolute path", path)
	}

	cleaned := filepath.Clean(path)
	if homeDir != "" && cleaned == filepath.Clean(homeDir) {
		return fmt.Errorf("refusing to remove home directory %s", cleaned)
	}
	for _, sysDir := range systemDirs {
		if cleaned == sysDir {
			return fmt.Errorf("refusing to remove system directory %s", cleaned)
		}
	}
	return nil
}

func inspect(path string) RemovalItem {
	item := RemovalItem{Path: path}
	info, err := os.Lstat(path)
	if err != nil {
		return item
	}
	item.Exists = true
	if info.IsDir() {
		item.Size, _ = directorySize(path)
	} else {
		item.Size = info.Size()
	}
	return item
}

func directorySize(path string) (int64, error) {
	var size int64
	err := filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			if info, err := d.Info(); err == nil {
				size += info.Size()
			}
		}
		return nil
	})
	return size, err
}
