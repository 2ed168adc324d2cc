// Package archive stores exported run artifacts (audit bundles and
// checkpoints) content-addressed: an object's ref is the SHA-256 of its
// bytes, so a fetched artifact can always be checked against the ref that
// named it. Backends cover the local filesystem, S3, and GCS.
package archive

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ErrNotFound reports a ref with no object behind it.
var ErrNotFound = errors.New("archive object not found")

// ErrTampered reports an object whose bytes no longer match its ref.
var ErrTampered = errors.New("archive object does not match its ref")

// Store is content-addressed storage for run artifacts. Refs are
// "sha256:<hex>".
type Store interface {
	// Put persists data and returns its ref. Re-putting identical bytes
	// is a no-op returning the same ref.
	Put(ctx context.Context, data []byte) (string, error)
	// Get retrieves the object behind ref.
	Get(ctx context.Context, ref string) ([]byte, error)
	// Exists checks whether ref has an object behind it.
	Exists(ctx context.Context, ref string) (bool, error)
	// Delete removes the object behind ref. Deleting a missing ref is
	// not an error.
	Delete(ctx context.Context, ref string) error
}

// makeRef hashes data into its ref and the raw hex used as storage key.
func makeRef(data []byte) (rawHex, ref string) {
	sum := sha256.Sum256(data)
	rawHex = hex.EncodeToString(sum[:])
	return rawHex, "sha256:" + rawHex
}

// parseRef validates a ref and returns its raw hex.
func parseRef(ref string) (string, error) {
	rawHex, ok := strings.CutPrefix(ref, "sha256:")
	if !ok {
		return "", fmt.Errorf("invalid ref format: %s", ref)
	}
	if _, err := hex.DecodeString(rawHex); err != nil {
		return "", fmt.Errorf("invalid ref hex: %w", err)
	}
	return rawHex, nil
}

// FileStore is a filesystem-backed Store. Objects live as
// <baseDir>/<hex>.blob, written via temp file and rename.
type FileStore struct {
	baseDir string
	mu      sync.RWMutex
}

// NewFileStore creates a content-addressed store at baseDir.
func NewFileStore(baseDir string) (*FileStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to ensure archive dir: %w", err)
	}
	return &FileStore{baseDir: baseDir}, nil
}

func (s *FileStore) Put(ctx context.Context, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rawHex, ref := makeRef(data)
	path := filepath.Join(s.baseDir, rawHex+".blob")

	if _, err := os.Stat(path); err == nil {
		return ref, nil
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write blob: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return "", fmt.Errorf("failed to commit blob: %w", err)
	}

	return ref, nil
}

func (s *FileStore) Get(ctx context.Context, ref string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rawHex, err := parseRef(ref)
	if err != nil {
		return nil, err
	}
	path := filepath.Join(s.baseDir, rawHex+".blob")

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", ref, ErrNotFound)
		}
		return nil, err
	}
	defer f.Close()

	return io.ReadAll(f)
}

func (s *FileStore) Exists(ctx context.Context, ref string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rawHex, err := parseRef(ref)
	if err != nil {
		return false, err
	}
	path := filepath.Join(s.baseDir, rawHex+".blob")

	_, err = os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func (s *FileStore) Delete(ctx context.Context, ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rawHex, err := parseRef(ref)
	if err != nil {
		return err
	}
	path := filepath.Join(s.baseDir, rawHex+".blob")

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}
