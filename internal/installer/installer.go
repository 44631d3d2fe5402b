// Package installer places verified artifacts into the bin directory.
//
// An install copies the artifact to a staging file next to its final
// location, applies the permission bits, renames it into place and finally
// removes the macOS quarantine attribute. The rename is atomic, so the
// target is either the previous binary or the new one, never a partial
// file.
package installer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/pkg/xattr"
	"go.uber.org/zap"
)

// QuarantineAttr is the extended attribute Gatekeeper sets on downloads.
const QuarantineAttr = "com.apple.quarantine"

// DefaultMode is applied when a request carries no mode.
const DefaultMode os.FileMode = 0o755

// RemoveAttrFunc removes an extended attribute from a file.
type RemoveAttrFunc func(path, name string) error

// Request describes one install.
type Request struct {
	// Source is the downloaded artifact (raw binary or .tar.gz).
	Source string
	// Binary is the file to pick from an archive; ignored for raw binaries.
	Binary string
	// Target is the file name inside the bin directory.
	Target string
	Mode   os.FileMode
	// ClearQuarantine removes QuarantineAttr after the rename.
	ClearQuarantine bool
}

// Result describes a completed install.
type Result struct {
	Path              string
	StagedPath        string
	Mode              os.FileMode
	QuarantineCleared bool
}

// Installer installs binaries into binDir.
type Installer struct {
	binDir     string
	removeAttr RemoveAttrFunc
	logger     *zap.Logger
}

// Option configures an Installer.
type Option func(*Installer)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(i *Installer) { i.logger = l }
}

// WithRemoveAttr overrides how extended attributes are removed.
func WithRemoveAttr(fn RemoveAttrFunc) Option {
	return func(i *Installer) { i.removeAttr = fn }
}

// New creates an installer for binDir.
func New(binDir string, opts ...Option) *Installer {
	i := &Installer{
		binDir:     binDir,
		removeAttr: xattr.Remove,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// BinDir returns the directory binaries are installed into.
func (i *Installer) BinDir() string {
	return i.binDir
}

// TargetPath returns the installed location of target.
func (i *Installer) TargetPath(target string) string {
	return filepath.Join(i.binDir, target)
}

// Install stages, chmods and renames req.Source onto the target path, then
// clears quarantine. Quarantine failures are logged, never returned.
func (i *Installer) Install(ctx context.Context, req Request) (*Result, error) {
	if req.Target == "" || filepath.Base(req.Target) != req.Target {
		return nil, fmt.Errorf("invalid target %q", req.Target)
	}
	mode := req.Mode
	if mode == 0 {
		mode = DefaultMode
	}

	if err := os.MkdirAll(i.binDir, 0o755); err != nil {
		return nil, fmt.Errorf("create bin dir: %w", err)
	}

	staged := filepath.Join(i.binDir, fmt.Sprintf(".%s.staging-%s", req.Target, uuid.NewString()))
	cleanupNeeded := true
	defer func() {
		if cleanupNeeded {
			os.Remove(staged)
		}
	}()

	archive, err := isGzip(req.Source)
	if err != nil {
		return nil, fmt.Errorf("inspect artifact: %w", err)
	}
	if archive {
		binary := req.Binary
		if binary == "" {
			binary = req.Target
		}
		if err := ExtractBinary(req.Source, staged, binary); err != nil {
			return nil, fmt.Errorf("extract artifact: %w", err)
		}
	} else if err := copyFile(req.Source, staged); err != nil {
		return nil, fmt.Errorf("stage artifact: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := SetMode(staged, mode); err != nil {
		return nil, err
	}

	dest := i.TargetPath(req.Target)
	if err := os.Rename(staged, dest); err != nil {
		return nil, fmt.Errorf("move into place: %w", err)
	}
	cleanupNeeded = false

	i.logger.Info("installed binary",
		zap.String("path", dest),
		zap.String("mode", fmt.Sprintf("%#o", mode)))

	result := &Result{Path: dest, StagedPath: staged, Mode: mode}
	if req.ClearQuarantine {
		result.QuarantineCleared = i.clearQuarantine(dest)
	}
	return result, nil
}

// clearQuarantine removes QuarantineAttr. A missing attribute counts as
// cleared; any other failure is a warning.
func (i *Installer) clearQuarantine(path string) bool {
	err := i.removeAttr(path, QuarantineAttr)
	if err == nil || errors.Is(err, xattr.ENOATTR) {
		return true
	}
	i.logger.Warn("could not clear quarantine attribute",
		zap.String("path", path),
		zap.Error(err))
	return false
}

// Remove deletes an installed binary. A bare file name is resolved inside
// the bin directory; an absolute path (from a receipt) is used as is. It
// reports whether a file was actually removed.
func (i *Installer) Remove(target string) (bool, error) {
	path := target
	if !filepath.IsAbs(path) {
		path = i.TargetPath(target)
	}
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("remove %s: %w", path, err)
	}
	i.logger.Info("removed binary", zap.String("path", path))
	return true, nil
}

// SetMode sets permissions on a file regardless of the umask.
func SetMode(path string, mode os.FileMode) error {
	if err := os.Chmod(path, mode); err != nil {
		return fmt.Errorf("set mode: %w", err)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
