// SPDX-License-Identifier: MPL-2.0

package installer

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// ProvenanceFilename is written inside each installed module directory.
const ProvenanceFilename = ".provenance.json"

const provenanceSpec = "1"

// Source type tags used in provenance records.
const (
	SourceRegistryTarball = "registry-tarball"
	SourceRepoArchive     = "repo-archive"
)

type (
	// Provenance states where an installed module's bytes came from and how
	// their integrity was established. Registry-tarball installs always have
	// a verified checksum; repository installs carry best-effort evidence.
	Provenance struct {
		Spec      string              `json:"spec"`
		CreatedAt string              `json:"createdAt"`
		Source    ProvenanceSource    `json:"source"`
		Integrity ProvenanceIntegrity `json:"integrity"`
	}

	// ProvenanceSource identifies the origin. Type selects which of the
	// remaining fields are meaningful.
	ProvenanceSource struct {
		Type     string `json:"type"`
		Registry string `json:"registry,omitempty"`
		Module   string `json:"module,omitempty"`
		Version  string `json:"version,omitempty"`
		Tarball  string `json:"tarball,omitempty"`
		Repo     string `json:"repo,omitempty"`
		Ref      string `json:"ref,omitempty"`
		Commit   string `json:"commit,omitempty"`
		Subdir   string `json:"subdir,omitempty"`
	}

	// ProvenanceIntegrity records the verification evidence.
	ProvenanceIntegrity struct {
		Checksum  string `json:"checksum,omitempty"`
		SizeBytes int64  `json:"sizeBytes,omitempty"`
		Verified  bool   `json:"verified"`
	}
)

// WriteProvenance persists the record inside the module directory.
func WriteProvenance(moduleDir string, p Provenance) error {
	p.Spec = provenanceSpec
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode provenance: %w", err)
	}
	data = append(data, '\n')
	path := filepath.Join(moduleDir, ProvenanceFilename)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write provenance: %w", err)
	}
	return nil
}

// ReadProvenance loads the record from a module directory.
func ReadProvenance(moduleDir string) (Provenance, error) {
	var p Provenance
	data, err := os.ReadFile(filepath.Join(moduleDir, ProvenanceFilename))
	if err != nil {
		return p, err
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("failed to parse provenance in %s: %w", moduleDir, err)
	}
	return p, nil
}
