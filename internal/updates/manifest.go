package updates

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
)

// maxManifestBytes bounds how much of a manifest blob is read into memory.
const maxManifestBytes = 1 << 20

// Manifest describes one installable update and the package blobs it needs.
type Manifest struct {
	ID       string    `json:"id"`
	Version  string    `json:"version,omitempty"`
	Packages []Package `json:"packages"`
}

// Package is one artifact referenced by a manifest. Name is both the blob
// name in the store and the file name under the unit's artifact directory.
type Package struct {
	Name   string `json:"name"`
	SHA256 string `json:"sha256"`
	Size   int64  `json:"size,omitempty"`
}

// ParseManifest decodes and validates manifest JSON.
func ParseManifest(data []byte) (Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("decode manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return Manifest{}, err
	}
	return m, nil
}

// Validate checks that the manifest is usable for download and install.
func (m Manifest) Validate() error {
	if strings.TrimSpace(m.ID) == "" {
		return errors.New("manifest id is required")
	}
	seen := make(map[string]struct{}, len(m.Packages))
	for i, pkg := range m.Packages {
		if err := validateName(pkg.Name); err != nil {
			return fmt.Errorf("package %d: %w", i, err)
		}
		if _, dup := seen[pkg.Name]; dup {
			return fmt.Errorf("package %q listed twice", pkg.Name)
		}
		seen[pkg.Name] = struct{}{}
		if len(pkg.SHA256) != 64 {
			return fmt.Errorf("package %q: sha256 must be 64 hex characters", pkg.Name)
		}
		if pkg.Size < 0 {
			return fmt.Errorf("package %q: negative size", pkg.Name)
		}
	}
	return nil
}

func readManifestFile(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("read manifest: %w", err)
	}
	return ParseManifest(data)
}
