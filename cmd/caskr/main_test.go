package main

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ZebulonRouseFrantzich/caskr/internal/testutil"
)

const artifactBody = "#!/bin/sh\necho adk-code\n"

const manifestTemplate = `cask = {
  name = "adk-code",
  desc = "Agent development kit CLI",
  homepage = "https://github.com/raphaelmansuy/adk-code",
  version = "0.3.0",
  sha256 = "%s",
  url = "%s/download/v{version}/adk-code-v{version}-darwin-{arch}",
  livecheck = {
    url = "%s/releases.atom",
  },
  binary = "adk-code",
  zap = { "~/.adk-code" },
}
`

func digestOf(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

type cliFixture struct {
	env      *testutil.Env
	manifest string
}

func newCLIFixture(t *testing.T, digest string) *cliFixture {
	t.Helper()
	env := testutil.SetupTestEnv(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/releases.atom") {
			fmt.Fprint(w, `<feed><entry><link href="https://github.com/o/r/releases/tag/v0.3.0"/></entry>`+
				`<entry><link href="https://github.com/o/r/releases/tag/v0.4.1"/></entry></feed>`)
			return
		}
		fmt.Fprint(w, artifactBody)
	}))
	t.Cleanup(server.Close)

	path := filepath.Join(t.TempDir(), "adk-code.lua")
	src := fmt.Sprintf(manifestTemplate, digest, server.URL, server.URL)
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}
	return &cliFixture{env: env, manifest: path}
}

func runCLI(t *testing.T, stdin string, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, strings.NewReader(stdin), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRun_Version(t *testing.T) {
	testutil.SetupTestEnv(t)

	code, out, _ := runCLI(t, "", "version")
	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	if !strings.Contains(out, "version: "+Version) {
		t.Errorf("output = %q", out)
	}
}

func TestRun_InstallListUninstall(t *testing.T) {
	f := newCLIFixture(t, digestOf(artifactBody))

	code, out, errOut := runCLI(t, "", "--arch", "arm64", "install", f.manifest)
	if code != 0 {
		t.Fatalf("install exit code = %d, stderr = %s", code, errOut)
	}
	if !strings.Contains(out, "Installed adk-code 0.3.0 (arm64)") {
		t.Errorf("install output = %q", out)
	}

	binary := filepath.Join(f.env.BinDir(), "adk-code")
	got, err := os.ReadFile(binary)
	if err != nil {
		t.Fatalf("binary not installed: %v", err)
	}
	if string(got) != artifactBody {
		t.Errorf("binary content = %q", got)
	}

	code, out, _ = runCLI(t, "", "--arch", "arm64", "install", f.manifest)
	if code != 0 || !strings.Contains(out, "already installed") {
		t.Errorf("second install: code = %d, output = %q", code, out)
	}

	code, out, _ = runCLI(t, "", "list")
	if code != 0 {
		t.Fatalf("list exit code = %d", code)
	}
	if !strings.Contains(out, "adk-code") || !strings.Contains(out, "0.3.0") || !strings.Contains(out, "yes") {
		t.Errorf("list output = %q", out)
	}

	code, out, _ = runCLI(t, "", "uninstall", f.manifest)
	if code != 0 || !strings.Contains(out, "Uninstalled adk-code") {
		t.Errorf("uninstall: code = %d, output = %q", code, out)
	}
	if _, err := os.Stat(binary); !os.IsNotExist(err) {
		t.Error("binary still present after uninstall")
	}

	code, out, _ = runCLI(t, "", "list")
	if code != 0 || !strings.Contains(out, "No casks installed.") {
		t.Errorf("list after uninstall: code = %d, output = %q", code, out)
	}
}

func TestRun_InstallChecksumMismatch(t *testing.T) {
	f := newCLIFixture(t, strings.Repeat("0", 64))

	code, _, errOut := runCLI(t, "", "--arch", "arm64", "install", f.manifest)
	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if !strings.Contains(errOut, "Error:") || !strings.Contains(errOut, "checksum mismatch") {
		t.Errorf("stderr = %q", errOut)
	}
	if _, err := os.Stat(filepath.Join(f.env.BinDir(), "adk-code")); !os.IsNotExist(err) {
		t.Error("binary installed despite checksum mismatch")
	}
}

func TestRun_InstallSkipVerify(t *testing.T) {
	f := newCLIFixture(t, strings.Repeat("0", 64))

	code, out, errOut := runCLI(t, "", "--arch", "amd64", "install", "--skip-verify", f.manifest)
	if code != 0 {
		t.Fatalf("exit code = %d, stderr = %s", code, errOut)
	}
	if !strings.Contains(out, "checksum not verified") {
		t.Errorf("output = %q", out)
	}
}

func TestRun_Zap(t *testing.T) {
	f := newCLIFixture(t, digestOf(artifactBody))
	dataDir := filepath.Join(f.env.Home, ".adk-code")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dataDir, "history"), []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}

	if code, _, errOut := runCLI(t, "", "--arch", "arm64", "install", f.manifest); code != 0 {
		t.Fatalf("install failed: %s", errOut)
	}

	t.Run("dry run keeps everything", func(t *testing.T) {
		code, out, _ := runCLI(t, "", "zap", "--dry-run", f.manifest)
		if code != 0 {
			t.Fatalf("exit code = %d", code)
		}
		if !strings.Contains(out, dataDir) || !strings.Contains(out, "Dry run") {
			t.Errorf("output = %q", out)
		}
		if _, err := os.Stat(dataDir); err != nil {
			t.Error("dry run removed data")
		}
	})

	t.Run("declined prompt aborts", func(t *testing.T) {
		code, _, errOut := runCLI(t, "no\n", "zap", f.manifest)
		if code != 1 || !strings.Contains(errOut, "Aborted.") {
			t.Errorf("code = %d, stderr = %q", code, errOut)
		}
		if _, err := os.Stat(dataDir); err != nil {
			t.Error("declined zap removed data")
		}
	})

	t.Run("confirmed prompt removes data", func(t *testing.T) {
		code, out, errOut := runCLI(t, "yes\n", "zap", f.manifest)
		if code != 0 {
			t.Fatalf("exit code = %d, stderr = %s", code, errOut)
		}
		if !strings.Contains(out, "Zapped adk-code") {
			t.Errorf("output = %q", out)
		}
		if _, err := os.Stat(dataDir); !os.IsNotExist(err) {
			t.Error("zap target still present")
		}
		if _, err := os.Stat(filepath.Join(f.env.BinDir(), "adk-code")); !os.IsNotExist(err) {
			t.Error("binary still present after zap")
		}
	})
}

func TestRun_Livecheck(t *testing.T) {
	f := newCLIFixture(t, digestOf(artifactBody))

	code, out, errOut := runCLI(t, "", "livecheck", f.manifest)
	if code != 0 {
		t.Fatalf("exit code = %d, stderr = %s", code, errOut)
	}
	if !strings.Contains(out, "adk-code: 0.3.0 ==> 0.4.1") {
		t.Errorf("output = %q", out)
	}
}

func TestRun_Info(t *testing.T) {
	f := newCLIFixture(t, digestOf(artifactBody))

	code, out, errOut := runCLI(t, "", "info", f.manifest)
	if code != 0 {
		t.Fatalf("exit code = %d, stderr = %s", code, errOut)
	}
	for _, want := range []string{"adk-code: 0.3.0", "Agent development kit CLI", "darwin-arm64", "darwin-amd64", "~/.adk-code", "Not installed"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRun_Errors(t *testing.T) {
	testutil.SetupTestEnv(t)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"missing manifest", []string{"install", "does-not-exist"}, "manifest not found"},
		{"unsupported arch", []string{"--arch", "riscv64", "list"}, "unsupported architecture"},
		{"conflicting verbosity", []string{"-v", "-q", "list"}, "mutually exclusive"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, errOut := runCLI(t, "", tt.args...)
			if code != 1 {
				t.Errorf("exit code = %d, want 1", code)
			}
			if !strings.Contains(errOut, tt.want) {
				t.Errorf("stderr = %q, want %q", errOut, tt.want)
			}
		})
	}
}

func TestManifestPath_CasksDirectory(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	if err := os.MkdirAll("Casks", 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join("Casks", "adk-code.lua"), []byte("cask = {}"), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := manifestPath("adk-code")
	if err != nil {
		t.Fatalf("manifestPath() error = %v", err)
	}
	if got != filepath.Join("Casks", "adk-code.lua") {
		t.Errorf("manifestPath() = %q", got)
	}

	if _, err := manifestPath("missing"); err == nil {
		t.Error("expected error for unknown cask")
	}
}

func TestFormatSize(t *testing.T) {
	tests := []struct {
		bytes int64
		want  string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.0 KB"},
		{1536, "1.5 KB"},
		{5 * 1024 * 1024, "5.0 MB"},
	}
	for _, tt := range tests {
		if got := formatSize(tt.bytes); got != tt.want {
			t.Errorf("formatSize(%d) = %q, want %q", tt.bytes, got, tt.want)
		}
	}
}

func TestRun_UninstallUnmanagedBinary(t *testing.T) {
	f := newCLIFixture(t, digestOf(artifactBody))
	foreign := filepath.Join(f.env.BinDir(), "adk-code")
	if err := os.WriteFile(foreign, []byte("installed by hand"), 0o755); err != nil {
		t.Fatal(err)
	}

	code, _, errOut := runCLI(t, "", "uninstall", f.manifest)
	if code != 1 || !strings.Contains(errOut, "not installed by caskr") {
		t.Fatalf("code = %d, stderr = %q", code, errOut)
	}
	if _, err := os.Stat(foreign); err != nil {
		t.Fatal("unmanaged binary removed without --force")
	}

	code, _, errOut = runCLI(t, "", "--arch", "arm64", "install", f.manifest)
	if code != 1 || !strings.Contains(errOut, "use --force to overwrite") {
		t.Errorf("install over unmanaged binary: code = %d, stderr = %q", code, errOut)
	}

	code, out, errOut := runCLI(t, "", "uninstall", "--force", f.manifest)
	if code != 0 || !strings.Contains(out, "Uninstalled adk-code") {
		t.Errorf("forced uninstall: code = %d, output = %q, stderr = %q", code, out, errOut)
	}
	if _, err := os.Stat(foreign); !os.IsNotExist(err) {
		t.Error("forced uninstall kept the binary")
	}
}
