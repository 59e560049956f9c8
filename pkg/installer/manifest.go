// SPDX-License-Identifier: MPL-2.0

package installer

import (
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
)

// ManifestFilename is the install ledger, one per modules directory.
const ManifestFilename = "install-manifest.json"

const manifestVersion = "1"

type (
	// Manifest is the install ledger handle. Operations load it once, mutate
	// it in memory, and persist it once; it is never ambient state.
	Manifest struct {
		path string
		doc  manifestDoc
	}

	manifestDoc struct {
		Version string                   `json:"version"`
		Modules map[string]ManifestEntry `json:"modules"`
	}

	// ManifestEntry records one installed module: where it came from, where
	// it lives, and what was resolved at install time.
	ManifestEntry struct {
		Source          string `json:"source"`
		Location        string `json:"location"`
		RequestedRef    string `json:"requestedRef,omitempty"`
		ResolvedVersion string `json:"resolvedVersion,omitempty"`
		RegistryModule  string `json:"registryModule,omitempty"`
		RegistryURL     string `json:"registryURL,omitempty"`
		InstalledAt     string `json:"installedAt"`
	}
)

// ManifestPath returns the ledger path for a modules directory.
func ManifestPath(modulesDir string) string {
	return filepath.Join(modulesDir, ManifestFilename)
}

// LoadManifest reads the ledger at path. A missing file yields an empty
// manifest; unreadable or undecodable content is an error, never silently
// reset.
func LoadManifest(path string) (*Manifest, error) {
	m := &Manifest{
		path: path,
		doc: manifestDoc{
			Version: manifestVersion,
			Modules: make(map[string]ManifestEntry),
		},
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return m, nil
		}
		return nil, fmt.Errorf("failed to read install manifest: %w", err)
	}
	if err := json.Unmarshal(data, &m.doc); err != nil {
		return nil, fmt.Errorf("failed to parse install manifest %s: %w", path, err)
	}
	if m.doc.Modules == nil {
		m.doc.Modules = make(map[string]ManifestEntry)
	}
	return m, nil
}

// Save writes the ledger atomically via temp file and rename.
func (m *Manifest) Save() error {
	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return fmt.Errorf("failed to create manifest directory: %w", err)
	}

	data, err := json.MarshalIndent(m.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode install manifest: %w", err)
	}
	data = append(data, '\n')

	tmpPath := m.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write install manifest: %w", err)
	}
	if err := os.Rename(tmpPath, m.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename install manifest: %w", err)
	}
	return nil
}

// Get returns the entry for a local module name.
func (m *Manifest) Get(name string) (ManifestEntry, bool) {
	entry, ok := m.doc.Modules[name]
	return entry, ok
}

// Has reports whether a local module name is recorded.
func (m *Manifest) Has(name string) bool {
	_, ok := m.doc.Modules[name]
	return ok
}

// Set records or overwrites the entry for a local module name.
func (m *Manifest) Set(name string, entry ManifestEntry) {
	m.doc.Modules[name] = entry
}

// Remove deletes the entry for a local module name, reporting whether it
// existed.
func (m *Manifest) Remove(name string) bool {
	_, ok := m.doc.Modules[name]
	delete(m.doc.Modules, name)
	return ok
}

// Names returns all recorded local module names in ascending order.
func (m *Manifest) Names() []string {
	return slices.Sorted(maps.Keys(m.doc.Modules))
}

// Len returns the number of recorded modules.
func (m *Manifest) Len() int { return len(m.doc.Modules) }
