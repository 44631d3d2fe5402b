package manifest

import (
	"errors"
	"fmt"
	"regexp"
)

// ErrFieldNotFound is returned by Rewrite when a field to update is missing
// from the manifest source.
var ErrFieldNotFound = errors.New("manifest field not found")

// DigestDefault keys the single, architecture-independent digest
// (`sha256 = "<hex>"`) in the digests passed to Rewrite.
const DigestDefault = "default"

var (
	versionFieldPattern = regexp.MustCompile(`(?m)^(\s*version\s*=\s*)"[^"\n]*"`)

	// digestFieldPatterns match `arm64 = "<hex>"` style entries, including the
	// arm/intel aliases accepted by the parser.
	digestFieldPatterns = map[string]*regexp.Regexp{
		"arm64":       regexp.MustCompile(`(?m)^(\s*\[?"?(?:arm64|arm)"?\]?\s*=\s*)"[0-9a-fA-F]{64}"`),
		"amd64":       regexp.MustCompile(`(?m)^(\s*\[?"?(?:amd64|intel)"?\]?\s*=\s*)"[0-9a-fA-F]{64}"`),
		DigestDefault: regexp.MustCompile(`(?m)^(\s*sha256\s*=\s*)"[0-9a-fA-F]{64}"`),
	}
)

// Rewrite returns src with the version string replaced and, for each entry
// in digests, the matching per-architecture sha256 value replaced. Only the
// first occurrence of each field is touched. Formatting and comments are
// preserved.
func Rewrite(src []byte, version string, digests map[string]string) ([]byte, error) {
	if !versionFieldPattern.Match(src) {
		return nil, fmt.Errorf("%w: version", ErrFieldNotFound)
	}
	out := replaceFirst(versionFieldPattern, src, fmt.Sprintf("%q", version))

	for arch, digest := range digests {
		pattern, ok := digestFieldPatterns[arch]
		if !ok {
			return nil, fmt.Errorf("unsupported architecture in digests: %s", arch)
		}
		if !pattern.Match(out) {
			return nil, fmt.Errorf("%w: sha256.%s", ErrFieldNotFound, arch)
		}
		out = replaceFirst(pattern, out, fmt.Sprintf("%q", digest))
	}

	return out, nil
}

// replaceFirst replaces the first match of pattern, keeping capture group 1
// and substituting the quoted value after it.
func replaceFirst(pattern *regexp.Regexp, src []byte, quoted string) []byte {
	loc := pattern.FindSubmatchIndex(src)
	if loc == nil {
		return src
	}

	out := make([]byte, 0, len(src)+len(quoted))
	out = append(out, src[:loc[3]]...)
	out = append(out, quoted...)
	out = append(out, src[loc[1]:]...)
	return out
}
