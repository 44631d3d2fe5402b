// Package platform detects the host OS and architecture and exposes them to
// cask manifests as a read-only Lua table.
//
// Architectures are normalized to the names release assets use ("amd64" and
// "arm64"). The kernel architecture reported by gopsutil takes precedence
// over GOARCH when it can be read.
package platform

import "context"

// Supported architecture names.
const (
	ArchAMD64 = "amd64"
	ArchARM64 = "arm64"
)

// SupportedArchs lists every architecture a manifest may pin a digest for,
// in the order bump processes them.
var SupportedArchs = []string{ArchARM64, ArchAMD64}

// Info contains platform detection information.
type Info struct {
	OS       string // "darwin", "linux"
	Arch     string // "amd64", "arm64" (normalized)
	ArchRaw  string // architecture as reported by the kernel or GOARCH
	Platform string // platform ID from gopsutil (e.g. "darwin", "ubuntu")
	Version  string // platform version (e.g. "14.4.1", "22.04")
}

// IsLinux returns true if the platform is Linux.
func (i *Info) IsLinux() bool {
	return i.OS == "linux"
}

// IsMacOS returns true if the platform is macOS.
func (i *Info) IsMacOS() bool {
	return i.OS == "darwin"
}

// IsAMD64 returns true if the architecture is amd64.
func (i *Info) IsAMD64() bool {
	return i.Arch == ArchAMD64
}

// IsARM64 returns true if the architecture is arm64.
func (i *Info) IsARM64() bool {
	return i.Arch == ArchARM64
}

// IsAppleSilicon returns true if running on Apple Silicon (macOS + arm64).
func (i *Info) IsAppleSilicon() bool {
	return i.OS == "darwin" && i.Arch == ArchARM64
}

// Detector is the interface for platform detection.
type Detector interface {
	Detect(ctx context.Context) (*Info, error)
}

// StaticDetector returns a fixed Info. It is used when the target platform is
// chosen explicitly (caskr install --arch) and in tests.
type StaticDetector struct {
	Info *Info
	Err  error
}

// Detect returns the configured Info or error.
func (s *StaticDetector) Detect(ctx context.Context) (*Info, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	info := *s.Info
	return &info, nil
}
