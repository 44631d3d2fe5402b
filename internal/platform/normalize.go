package platform

import (
	"fmt"
	"strings"
)

// NormalizeArch converts GOARCH and kernel architecture names to the names
// used in release asset URLs.
func NormalizeArch(arch string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(arch)) {
	case "amd64", "x86_64", "x64", "intel":
		return ArchAMD64, nil
	case "arm64", "aarch64", "arm":
		return ArchARM64, nil
	default:
		return "", fmt.Errorf("unsupported architecture: %s (supported: amd64, arm64)", arch)
	}
}

// normalizePlatform converts platform IDs to lowercase for consistency.
func normalizePlatform(platform string) string {
	return strings.ToLower(strings.TrimSpace(platform))
}
