package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotInstalled means no receipt exists for a cask.
var ErrNotInstalled = errors.New("not installed")

// Receipt records one completed install.
type Receipt struct {
	Schema     int    `json:"schema"` // Schema version for future evolution
	ID         string `json:"id"`
	Name       string `json:"name"`
	Version    string `json:"version"`
	Arch       string `json:"arch"`
	URL        string `json:"url"`
	BinaryPath string `json:"binary_path"`
	StagedPath string `json:"staged_path,omitempty"`
	SHA256     string `json:"sha256"`
	Verified   bool   `json:"verified"`
	// QuarantineCleared is false when the attribute removal failed.
	QuarantineCleared bool      `json:"quarantine_cleared"`
	InstalledAt       time.Time `json:"installed_at"`
}

// Store reads and writes receipts.
type Store struct {
	dir   string
	clock Clock
}

// NewStore creates a store rooted at stateDir.
func NewStore(stateDir string, clock Clock) *Store {
	if clock == nil {
		clock = RealClock{}
	}
	return &Store{dir: stateDir, clock: clock}
}

// Dir returns the state directory.
func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) receiptsDir() string {
	return filepath.Join(s.dir, "receipts")
}

// ReceiptPath returns where the receipt for name is stored.
func (s *Store) ReceiptPath(name string) string {
	return filepath.Join(s.receiptsDir(), name+".json")
}

// NewReceipt returns a receipt with a fresh ID and the current time.
func (s *Store) NewReceipt(name, version string) *Receipt {
	return &Receipt{
		Schema:      1,
		ID:          uuid.New().String(),
		Name:        name,
		Version:     version,
		InstalledAt: s.clock.Now().UTC(),
	}
}

// Save writes the receipt atomically, replacing any previous one.
func (s *Store) Save(r *Receipt) error {
	if r == nil || r.Name == "" {
		return fmt.Errorf("receipt has no name")
	}

	dir := s.receiptsDir()
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create receipts directory: %w", err)
	}

	finalPath := s.ReceiptPath(r.Name)
	tmpPath := finalPath + ".tmp"

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal receipt: %w", err)
	}

	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return fmt.Errorf("write temporary receipt file: %w", err)
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename receipt file: %w", err)
	}

	df, err := os.Open(dir)
	if err == nil {
		if syncErr := df.Sync(); syncErr != nil {
			df.Close()
			return fmt.Errorf("sync directory: %w", syncErr)
		}
		df.Close()
	}

	return nil
}

// Load reads the receipt for name. A missing receipt returns ErrNotInstalled.
func (s *Store) Load(name string) (*Receipt, error) {
	data, err := os.ReadFile(s.ReceiptPath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", name, ErrNotInstalled)
		}
		return nil, fmt.Errorf("read receipt: %w", err)
	}

	var r Receipt
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("unmarshal receipt %s: %w", name, err)
	}
	return &r, nil
}

// Delete removes the receipt for name and reports whether it existed.
func (s *Store) Delete(name string) (bool, error) {
	if err := os.Remove(s.ReceiptPath(name)); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("remove receipt: %w", err)
	}
	return true, nil
}

// List returns every receipt sorted by name.
func (s *Store) List() ([]*Receipt, error) {
	entries, err := os.ReadDir(s.receiptsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read receipts directory: %w", err)
	}

	var receipts []*Receipt
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		r, err := s.Load(strings.TrimSuffix(name, ".json"))
		if err != nil {
			return nil, err
		}
		receipts = append(receipts, r)
	}

	sort.Slice(receipts, func(i, j int) bool { return receipts[i].Name < receipts[j].Name })
	return receipts, nil
}
