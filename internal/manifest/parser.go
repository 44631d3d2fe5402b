package manifest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/ZebulonRouseFrantzich/caskr/internal/platform"
	lua "github.com/yuin/gopher-lua"
)

// Parser evaluates manifests with platform detection.
type Parser struct {
	detector platform.Detector
}

// NewParser creates a new manifest parser. A nil detector leaves the
// platform global undefined.
func NewParser(detector platform.Detector) *Parser {
	return &Parser{detector: detector}
}

// ParseError represents a manifest parsing error with friendly message.
type ParseError struct {
	Message string // User-friendly message
	Detail  string // Technical details (raw Lua error)
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: %s", e.Message, e.Detail)
}

// ParseFile reads and parses the manifest at path.
func (p *Parser) ParseFile(ctx context.Context, path string) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open manifest: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxManifestSize+1))
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	if len(data) > MaxManifestSize {
		return nil, &ParseError{
			Message: "manifest too large",
			Detail:  fmt.Sprintf("%s exceeds %d bytes", path, MaxManifestSize),
		}
	}

	m, err := p.ParseString(ctx, string(data))
	if err != nil {
		return nil, err
	}
	m.Path = path
	return m, nil
}

// ParseString parses a manifest from Lua source.
func (p *Parser) ParseString(ctx context.Context, luaCode string) (*Manifest, error) {
	L := newSandboxedVM()
	defer L.Close()
	L.SetContext(ctx)

	if p.detector != nil {
		info, err := p.detector.Detect(ctx)
		if err != nil {
			return nil, fmt.Errorf("platform detection failed: %w", err)
		}
		if err := platform.InjectPlatformTable(L, info); err != nil {
			return nil, fmt.Errorf("inject platform table: %w", err)
		}
	}

	if err := L.DoString(luaCode); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &ParseError{
			Message: "Lua syntax error",
			Detail:  err.Error(),
		}
	}

	return extractManifest(L)
}

// extractManifest converts the global cask table to a Manifest.
func extractManifest(L *lua.LState) (*Manifest, error) {
	value := L.GetGlobal(GlobalName)
	table, ok := value.(*lua.LTable)
	if !ok {
		return nil, &ParseError{
			Message: fmt.Sprintf("missing or invalid '%s' table", GlobalName),
			Detail:  fmt.Sprintf("expected table, got %s", value.Type()),
		}
	}

	m := &Manifest{
		Name:     getString(table, "name"),
		Desc:     getString(table, "desc"),
		Homepage: getString(table, "homepage"),
		Version:  getString(table, "version"),
		URL:      getString(table, "url"),
		Binary:   getString(table, "binary"),
		Target:   getString(table, "target"),
		Postflight: Postflight{
			ClearQuarantine: true,
			Mode:            DefaultMode,
		},
	}

	checksums, err := extractChecksums(table.RawGetString("sha256"))
	if err != nil {
		return nil, err
	}
	m.SHA256 = checksums

	if lc, ok := table.RawGetString("livecheck").(*lua.LTable); ok {
		m.Livecheck = Livecheck{
			URL:      getString(lc, "url"),
			Regex:    getString(lc, "regex"),
			Strategy: getString(lc, "strategy"),
		}
	}

	if sig, ok := table.RawGetString("signature").(*lua.LTable); ok {
		m.Signature = &Signature{
			URL:     getString(sig, "url"),
			Keyring: getString(sig, "keyring"),
		}
	}

	if pf, ok := table.RawGetString("postflight").(*lua.LTable); ok {
		if v, ok := pf.RawGetString("clear_quarantine").(lua.LBool); ok {
			m.Postflight.ClearQuarantine = bool(v)
		}
		var digits string
		switch v := pf.RawGetString("chmod").(type) {
		case lua.LString:
			digits = strings.TrimPrefix(string(v), "0o")
		case lua.LNumber:
			// Lua has no octal literals: chmod = 0755 arrives as 755.
			if float64(v) != float64(int64(v)) {
				return nil, &ParseError{Message: "invalid postflight.chmod", Detail: fmt.Sprintf("%v is not an integer", v)}
			}
			digits = strconv.FormatInt(int64(v), 10)
		}
		if digits != "" {
			mode, err := strconv.ParseUint(digits, 8, 32)
			if err != nil {
				return nil, &ParseError{
					Message: "invalid postflight.chmod",
					Detail:  fmt.Sprintf("%q is not an octal mode such as \"0755\"", digits),
				}
			}
			m.Postflight.Mode = os.FileMode(mode)
		}
	}

	m.Zap = extractStrings(table.RawGetString("zap"))

	if err := m.Validate(); err != nil {
		return nil, &ParseError{
			Message: "manifest validation failed",
			Detail:  err.Error(),
		}
	}

	return m, nil
}

// extractChecksums accepts "no_check", a single digest, or a table of
// per-architecture digests.
func extractChecksums(value lua.LValue) (Checksums, error) {
	switch v := value.(type) {
	case lua.LString:
		s := strings.TrimSpace(string(v))
		if s == NoCheck || s == ":"+NoCheck {
			return Checksums{NoCheck: true}, nil
		}
		return Checksums{Default: s}, nil
	case *lua.LTable:
		c := Checksums{ByArch: map[string]string{}}
		keyFor := map[string]string{}
		var detail string
		v.ForEach(func(key, val lua.LValue) {
			k, ok := key.(lua.LString)
			if !ok || detail != "" {
				return
			}
			arch, err := platform.NormalizeArch(string(k))
			if err != nil {
				detail = fmt.Sprintf("unknown architecture key %q", string(k))
				return
			}
			if prev, dup := keyFor[arch]; dup {
				first, second := prev, string(k)
				if first > second {
					first, second = second, first
				}
				detail = fmt.Sprintf("keys %q and %q both name %s", first, second, arch)
				return
			}
			keyFor[arch] = string(k)
			if s, ok := val.(lua.LString); ok {
				c.ByArch[arch] = strings.TrimSpace(string(s))
			}
		})
		if detail != "" {
			return Checksums{}, &ParseError{Message: "invalid sha256 table", Detail: detail}
		}
		return c, nil
	case *lua.LNilType:
		return Checksums{}, nil
	default:
		return Checksums{}, &ParseError{
			Message: "invalid sha256",
			Detail:  fmt.Sprintf("expected string or table, got %s", value.Type()),
		}
	}
}

// extractStrings returns the string elements of an array table, skipping nil
// entries left by platform.when.
func extractStrings(value lua.LValue) []string {
	table, ok := value.(*lua.LTable)
	if !ok {
		if s, ok := value.(lua.LString); ok {
			return []string{string(s)}
		}
		return nil
	}

	var out []string
	for i := 1; i <= table.MaxN(); i++ {
		if s, ok := table.RawGetInt(i).(lua.LString); ok {
			out = append(out, string(s))
		}
	}
	return out
}

func getString(table *lua.LTable, key string) string {
	if s, ok := table.RawGetString(key).(lua.LString); ok {
		return string(s)
	}
	return ""
}

// FormatError formats a manifest error for user display.
// In verbose mode, show the raw Lua error. Otherwise, show friendly message.
func FormatError(err error, verbose bool) string {
	var parseErr *ParseError
	if errors.As(err, &parseErr) {
		if verbose {
			return fmt.Sprintf("%s\n\nDetails:\n%s", parseErr.Message, parseErr.Detail)
		}
		detail := parseErr.Detail
		if idx := strings.Index(detail, "stack traceback"); idx > 0 {
			detail = strings.TrimSpace(detail[:idx])
		}
		return fmt.Sprintf("%s: %s", parseErr.Message, detail)
	}
	return err.Error()
}
