// Package evidence holds the deposit-evidence collaborator contract. Binary
// upload and serving live elsewhere; this service only ever sees an opaque
// reference and needs a delete capability for invalidated evidence.
package evidence

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Store deletes stored deposit evidence by its opaque reference.
type Store interface {
	Delete(ref string) error
}

// LocalStore deletes evidence files under a root directory. The reference is
// the path relative to the root, as recorded at upload time.
type LocalStore struct {
	Root string
}

// Delete removes the referenced file. A reference that is already gone is
// treated as success: cleanup is idempotent.
func (s *LocalStore) Delete(ref string) error {
	clean := filepath.Clean(ref)
	if strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return fmt.Errorf("evidence reference %q escapes the storage root", ref)
	}
	err := os.Remove(filepath.Join(s.Root, clean))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete evidence %q: %w", ref, err)
	}
	return nil
}

// NopStore ignores deletions, for deployments where evidence lives in an
// external object store with its own lifecycle rules.
type NopStore struct{}

// Delete implements Store.
func (NopStore) Delete(string) error { return nil }
