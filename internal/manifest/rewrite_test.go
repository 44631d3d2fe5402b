package manifest

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestRewrite(t *testing.T) {
	newArm := strings.Repeat("a", 64)
	newIntel := strings.Repeat("b", 64)

	out, err := Rewrite([]byte(adkCode), "0.4.0", map[string]string{
		"arm64": newArm,
		"amd64": newIntel,
	})
	if err != nil {
		t.Fatalf("Rewrite() error = %v", err)
	}

	m, err := NewParser(darwinDetector("arm64")).ParseString(context.Background(), string(out))
	if err != nil {
		t.Fatalf("rewritten manifest does not parse: %v", err)
	}
	if m.Version != "0.4.0" {
		t.Errorf("Version = %q", m.Version)
	}
	if got, _ := m.SHA256.For("arm64"); got != newArm {
		t.Errorf("arm64 digest = %q", got)
	}
	if got, _ := m.SHA256.For("amd64"); got != newIntel {
		t.Errorf("amd64 digest = %q", got)
	}
	if !strings.Contains(string(out), `livecheck = {`) {
		t.Error("rewrite lost unrelated content")
	}
}

func TestRewrite_Aliases(t *testing.T) {
	src := `cask = {
  version = "1.0.0",
  sha256 = {
    arm = "` + armDigest + `",
    intel = "` + intelDigest + `",
  },
}`
	out, err := Rewrite([]byte(src), "1.1.0", map[string]string{"amd64": strings.Repeat("c", 64)})
	if err != nil {
		t.Fatalf("Rewrite() error = %v", err)
	}
	if !strings.Contains(string(out), `intel = "`+strings.Repeat("c", 64)+`"`) {
		t.Errorf("intel digest not rewritten:\n%s", out)
	}
	if !strings.Contains(string(out), armDigest) {
		t.Error("arm digest should be untouched")
	}
}

func TestRewrite_MissingFields(t *testing.T) {
	if _, err := Rewrite([]byte(`cask = {}`), "1.0.0", nil); !errors.Is(err, ErrFieldNotFound) {
		t.Errorf("expected ErrFieldNotFound for version, got %v", err)
	}

	src := "cask = {\n  version = \"1.0.0\",\n  sha256 = \"no_check\",\n}\n"
	if _, err := Rewrite([]byte(src), "1.1.0", map[string]string{"arm64": strings.Repeat("a", 64)}); !errors.Is(err, ErrFieldNotFound) {
		t.Errorf("expected ErrFieldNotFound for digest, got %v", err)
	}

	out, err := Rewrite([]byte(src), "1.1.0", nil)
	if err != nil {
		t.Fatalf("Rewrite() error = %v", err)
	}
	if !strings.Contains(string(out), `version = "1.1.0"`) {
		t.Errorf("version not rewritten: %s", out)
	}
}

func TestRewrite_SingleDigest(t *testing.T) {
	src := "cask = {\n  version = \"1.0.0\",\n  sha256 = \"" + strings.Repeat("a", 64) + "\",\n}\n"

	out, err := Rewrite([]byte(src), "1.1.0", map[string]string{DigestDefault: strings.Repeat("b", 64)})
	if err != nil {
		t.Fatalf("Rewrite() error = %v", err)
	}
	want := "cask = {\n  version = \"1.1.0\",\n  sha256 = \"" + strings.Repeat("b", 64) + "\",\n}\n"
	if string(out) != want {
		t.Errorf("Rewrite() =\n%s\nwant\n%s", out, want)
	}
}
