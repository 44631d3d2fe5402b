// Package verify checks downloaded artifacts against pinned SHA-256 digests
// and, optionally, detached OpenPGP signatures.
package verify

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ProtonMail/go-crypto/openpgp" //nolint:staticcheck // Using ProtonMail's maintained fork
	"go.uber.org/zap"
)

var (
	// ErrChecksumMismatch means the artifact digest differs from the pinned one.
	ErrChecksumMismatch = errors.New("checksum mismatch")
	// ErrSignature means a detached signature did not verify.
	ErrSignature = errors.New("signature verification failed")
)

// Method identifies how an artifact was verified. Verify reports MethodNone
// or MethodSHA256; callers report MethodGPG once VerifySignature succeeds.
type Method string

const (
	MethodNone   Method = "none"
	MethodSHA256 Method = "sha256"
	MethodGPG    Method = "gpg"
)

// Result describes a successful verification.
type Result struct {
	Method Method
	// Actual is the computed SHA-256 of the artifact (always set).
	Actual string
}

// Verified reports whether any integrity check was performed.
func (r *Result) Verified() bool {
	return r != nil && r.Method != MethodNone
}

// Verifier handles cryptographic verification of artifacts
type Verifier struct {
	logger *zap.Logger
}

// NewVerifier creates a new verifier
func NewVerifier(logger *zap.Logger) *Verifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Verifier{logger: logger}
}

// Verify compares the SHA-256 of path against expected. An empty expected
// digest is the no_check trust decision: the artifact is accepted and the
// result reports MethodNone.
func (v *Verifier) Verify(path, expected string) (*Result, error) {
	actual, err := SHA256File(path)
	if err != nil {
		return nil, fmt.Errorf("calculate checksum: %w", err)
	}

	if expected == "" {
		v.logger.Warn("checksum verification skipped (no_check)",
			zap.String("path", path),
			zap.String("sha256", actual))
		return &Result{Method: MethodNone, Actual: actual}, nil
	}

	if !strings.EqualFold(actual, expected) {
		return nil, fmt.Errorf("%w:\nactual:   %s\nexpected: %s", ErrChecksumMismatch, actual, strings.ToLower(expected))
	}

	v.logger.Debug("checksum verified", zap.String("path", path), zap.String("sha256", actual))
	return &Result{Method: MethodSHA256, Actual: actual}, nil
}

// VerifySignature checks a detached signature (armored or binary) of path
// against the public keys in keyringPath.
func (v *Verifier) VerifySignature(path, sigPath, keyringPath string) error {
	keyring, err := LoadKeyring(keyringPath)
	if err != nil {
		return fmt.Errorf("%w: load keyring: %v", ErrSignature, err)
	}

	binaryFile, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open binary: %w", err)
	}
	defer binaryFile.Close()

	sigFile, err := os.Open(sigPath)
	if err != nil {
		return fmt.Errorf("open signature: %w", err)
	}
	defer sigFile.Close()

	signer, err := openpgp.CheckArmoredDetachedSignature(keyring, binaryFile, sigFile, nil)
	if err != nil {
		if _, serr := binaryFile.Seek(0, io.SeekStart); serr != nil {
			return fmt.Errorf("rewind binary: %w", serr)
		}
		if _, serr := sigFile.Seek(0, io.SeekStart); serr != nil {
			return fmt.Errorf("rewind signature: %w", serr)
		}
		signer, err = openpgp.CheckDetachedSignature(keyring, binaryFile, sigFile, nil)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSignature, err)
	}

	v.logger.Debug("signature verified",
		zap.String("path", path),
		zap.String("key", signer.PrimaryKey.KeyIdString()))
	return nil
}

// LoadKeyring reads an armored or binary OpenPGP keyring.
func LoadKeyring(path string) (openpgp.EntityList, error) {
	keyringFile, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open keyring: %w", err)
	}
	defer keyringFile.Close()

	keyring, err := openpgp.ReadArmoredKeyRing(keyringFile)
	if err != nil {
		if _, serr := keyringFile.Seek(0, io.SeekStart); serr != nil {
			return nil, fmt.Errorf("rewind keyring: %w", serr)
		}
		keyring, err = openpgp.ReadKeyRing(keyringFile)
		if err != nil {
			return nil, fmt.Errorf("read keyring: %w", err)
		}
	}

	if len(keyring) == 0 {
		return nil, fmt.Errorf("keyring is empty")
	}
	return keyring, nil
}

// SHA256File calculates the SHA256 checksum of a file
func SHA256File(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return "", err
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}
