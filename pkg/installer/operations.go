// SPDX-License-Identifier: MPL-2.0

package installer

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/mod/semver"

	"cogmod-cli/pkg/fault"
	"cogmod-cli/pkg/modfile"
)

type (
	// UpdateOptions adjust a single update.
	UpdateOptions struct {
		// PinnedRef moves a repository install to a different ref. Empty
		// keeps the ref recorded at install time.
		PinnedRef string
	}

	// UpdateResult reports a completed update.
	UpdateResult struct {
		Name       string
		OldVersion string
		NewVersion string
		Location   string
	}

	// RemoveResult reports a completed removal.
	RemoveResult struct {
		Name     string
		Location string
	}

	// InstalledModule is one manifest row joined with its on-disk
	// descriptor, when readable.
	InstalledModule struct {
		Name       string
		Entry      ManifestEntry
		Descriptor *modfile.Descriptor
	}

	// ModuleDetail adds the provenance record for a single module.
	ModuleDetail struct {
		Name       string
		Entry      ManifestEntry
		Descriptor *modfile.Descriptor
		Provenance *Provenance
	}
)

// Changed reports whether the update moved the module to a different
// version. Versions that both read as semver compare semantically, so a
// bare 1.2.0 and its v-prefixed form count as the same release; anything
// else falls back to string equality.
func (r *UpdateResult) Changed() bool {
	oldV := modfile.CanonicalVersion(r.OldVersion)
	newV := modfile.CanonicalVersion(r.NewVersion)
	if semver.IsValid(oldV) && semver.IsValid(newV) {
		return semver.Compare(oldV, newV) != 0
	}
	return r.OldVersion != r.NewVersion
}

// Update reinstalls a recorded module from its original source, replacing
// the installed files in place. Modules never installed through the
// manifest fail with fault.ErrManifestNotFound.
func (inst *Installer) Update(ctx context.Context, name string, opts UpdateOptions) (*UpdateResult, error) {
	man, err := LoadManifest(ManifestPath(inst.modulesDir))
	if err != nil {
		return nil, err
	}
	entry, ok := man.Get(name)
	if !ok {
		return nil, &fault.Error{Kind: fault.ErrManifestNotFound, Op: "update", Path: name}
	}

	pin := entry.RequestedRef
	if opts.PinnedRef != "" {
		pin = opts.PinnedRef
	}
	result, err := inst.install(ctx, man, entry.Source, InstallOptions{
		RenameTo:  name,
		PinnedRef: pin,
		Replace:   true,
	})
	if err != nil {
		return nil, err
	}

	return &UpdateResult{
		Name:       name,
		OldVersion: entry.ResolvedVersion,
		NewVersion: result.Version,
		Location:   result.Location,
	}, nil
}

// Remove deletes a module's files and its manifest entry. The recorded
// location is honored only when it stays inside the modules directory; a
// tampered manifest must not be able to delete arbitrary paths.
func (inst *Installer) Remove(name string) (*RemoveResult, error) {
	man, err := LoadManifest(ManifestPath(inst.modulesDir))
	if err != nil {
		return nil, err
	}
	entry, ok := man.Get(name)
	if !ok {
		return nil, &fault.Error{Kind: fault.ErrManifestNotFound, Op: "remove", Path: name}
	}

	location := entry.Location
	if !insideDir(inst.modulesDir, location) {
		location = filepath.Join(inst.modulesDir, name)
		inst.logger.Warn("manifest location outside modules directory, removing by name",
			"module", name, "recorded", entry.Location)
	}
	if err := os.RemoveAll(location); err != nil {
		return nil, err
	}

	man.Remove(name)
	if err := man.Save(); err != nil {
		return nil, err
	}
	return &RemoveResult{Name: name, Location: location}, nil
}

// List returns every manifest entry with its descriptor attached when the
// installed module.yaml still reads cleanly.
func (inst *Installer) List() ([]InstalledModule, error) {
	man, err := LoadManifest(ManifestPath(inst.modulesDir))
	if err != nil {
		return nil, err
	}

	modules := make([]InstalledModule, 0, man.Len())
	for _, name := range man.Names() {
		entry, _ := man.Get(name)
		mod := InstalledModule{Name: name, Entry: entry}
		if desc, err := modfile.Load(entry.Location); err == nil {
			mod.Descriptor = desc
		}
		modules = append(modules, mod)
	}
	return modules, nil
}

// Info returns the full local record of one installed module.
func (inst *Installer) Info(name string) (*ModuleDetail, error) {
	man, err := LoadManifest(ManifestPath(inst.modulesDir))
	if err != nil {
		return nil, err
	}
	entry, ok := man.Get(name)
	if !ok {
		return nil, &fault.Error{Kind: fault.ErrManifestNotFound, Op: "info", Path: name}
	}

	detail := &ModuleDetail{Name: name, Entry: entry}
	if desc, err := modfile.Load(entry.Location); err == nil {
		detail.Descriptor = desc
	}
	if prov, err := ReadProvenance(entry.Location); err == nil {
		detail.Provenance = &prov
	}
	return detail, nil
}

// insideDir reports whether path is lexically inside dir.
func insideDir(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
