package verify

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ProtonMail/go-crypto/openpgp" //nolint:staticcheck // Using ProtonMail's maintained fork
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func writeArtifact(t *testing.T, content string) (string, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tool-darwin-arm64")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
	sum := sha256.Sum256([]byte(content))
	return path, hex.EncodeToString(sum[:])
}

func TestVerify(t *testing.T) {
	path, digest := writeArtifact(t, "#!/bin/sh\necho hello\n")

	tests := []struct {
		name       string
		expected   string
		wantMethod Method
		wantErr    error
	}{
		{
			name:       "matching_digest",
			expected:   digest,
			wantMethod: MethodSHA256,
		},
		{
			name:       "uppercase_digest",
			expected:   strings.ToUpper(digest),
			wantMethod: MethodSHA256,
		},
		{
			name:     "mismatched_digest",
			expected: strings.Repeat("0", 64),
			wantErr:  ErrChecksumMismatch,
		},
		{
			name:       "no_check",
			expected:   "",
			wantMethod: MethodNone,
		},
	}

	v := NewVerifier(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := v.Verify(path, tt.expected)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Verify() error = %v, want %v", err, tt.wantErr)
				}
				if !strings.Contains(err.Error(), digest) {
					t.Errorf("error should include actual digest: %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Verify() error = %v", err)
			}
			if result.Method != tt.wantMethod {
				t.Errorf("Method = %v, want %v", result.Method, tt.wantMethod)
			}
			if result.Actual != digest {
				t.Errorf("Actual = %q, want %q", result.Actual, digest)
			}
			if result.Verified() != (tt.wantMethod != MethodNone) {
				t.Errorf("Verified() = %v", result.Verified())
			}
		})
	}
}

func TestVerify_NoCheckLogsWarning(t *testing.T) {
	path, _ := writeArtifact(t, "anything")

	core, logs := observer.New(zap.WarnLevel)
	if _, err := NewVerifier(zap.New(core)).Verify(path, ""); err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if logs.FilterMessageSnippet("no_check").Len() != 1 {
		t.Errorf("expected one no_check warning, got %v", logs.All())
	}
}

func TestVerify_MissingFile(t *testing.T) {
	_, err := NewVerifier(nil).Verify(filepath.Join(t.TempDir(), "missing"), "")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestSHA256File(t *testing.T) {
	path, digest := writeArtifact(t, "")
	got, err := SHA256File(path)
	if err != nil {
		t.Fatal(err)
	}
	if got != digest || got != "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855" {
		t.Errorf("SHA256File() = %q", got)
	}
}

// signingFixture creates a key, writes its public keyring and returns the
// entity used for signing.
func signingFixture(t *testing.T, armored bool) (*openpgp.Entity, string) {
	t.Helper()
	entity, err := openpgp.NewEntity("caskr test", "", "test@example.com", nil)
	if err != nil {
		t.Fatalf("NewEntity() error = %v", err)
	}

	var buf bytes.Buffer
	if armored {
		w, err := armor.Encode(&buf, openpgp.PublicKeyType, nil)
		if err != nil {
			t.Fatal(err)
		}
		if err := entity.Serialize(w); err != nil {
			t.Fatal(err)
		}
		if err := w.Close(); err != nil {
			t.Fatal(err)
		}
	} else if err := entity.Serialize(&buf); err != nil {
		t.Fatal(err)
	}

	keyringPath := filepath.Join(t.TempDir(), "tool.gpg")
	if err := os.WriteFile(keyringPath, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	return entity, keyringPath
}

func writeSignature(t *testing.T, entity *openpgp.Entity, content string, armored bool) string {
	t.Helper()
	var sig bytes.Buffer
	var err error
	if armored {
		err = openpgp.ArmoredDetachSign(&sig, entity, strings.NewReader(content), nil)
	} else {
		err = openpgp.DetachSign(&sig, entity, strings.NewReader(content), nil)
	}
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	path := filepath.Join(t.TempDir(), "tool.sig")
	if err := os.WriteFile(path, sig.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestVerifySignature(t *testing.T) {
	const content = "signed binary content"
	path, _ := writeArtifact(t, content)
	v := NewVerifier(nil)

	for _, armored := range []bool{true, false} {
		name := "binary"
		if armored {
			name = "armored"
		}
		t.Run(name, func(t *testing.T) {
			entity, keyring := signingFixture(t, armored)
			sig := writeSignature(t, entity, content, armored)

			if err := v.VerifySignature(path, sig, keyring); err != nil {
				t.Errorf("VerifySignature() error = %v", err)
			}
		})
	}
}

func TestVerifySignature_Failures(t *testing.T) {
	const content = "signed binary content"
	path, _ := writeArtifact(t, content)
	v := NewVerifier(nil)

	entity, keyring := signingFixture(t, true)
	other, _ := signingFixture(t, true)

	t.Run("tampered_content", func(t *testing.T) {
		sig := writeSignature(t, entity, content+"tampered", true)
		if err := v.VerifySignature(path, sig, keyring); !errors.Is(err, ErrSignature) {
			t.Errorf("VerifySignature() error = %v, want ErrSignature", err)
		}
	})

	t.Run("unknown_signer", func(t *testing.T) {
		sig := writeSignature(t, other, content, true)
		if err := v.VerifySignature(path, sig, keyring); !errors.Is(err, ErrSignature) {
			t.Errorf("VerifySignature() error = %v, want ErrSignature", err)
		}
	})

	t.Run("empty_keyring", func(t *testing.T) {
		empty := filepath.Join(t.TempDir(), "empty.gpg")
		if err := os.WriteFile(empty, nil, 0o644); err != nil {
			t.Fatal(err)
		}
		sig := writeSignature(t, entity, content, true)
		if err := v.VerifySignature(path, sig, empty); !errors.Is(err, ErrSignature) {
			t.Errorf("VerifySignature() error = %v, want ErrSignature", err)
		}
	})

	t.Run("missing_signature", func(t *testing.T) {
		if err := v.VerifySignature(path, filepath.Join(t.TempDir(), "none.sig"), keyring); err == nil {
			t.Error("expected error for missing signature file")
		}
	})
}
