// SPDX-License-Identifier: MPL-2.0

package registry

import (
	"encoding/json"
	"fmt"
	"strings"

	"cogmod-cli/pkg/fault"
)

// Well-known schema identifiers and versions for published registry
// documents. Consumers do not enforce them; publishers stamp them.
const (
	IndexSchemaURL = "https://cognitive-modules.dev/schema/registry-v2.json"
	EntrySchemaURL = "https://cognitive-modules.dev/schema/registry-entry-v1.json"
	IndexVersion   = "2.0.0"
	SpecVersion    = "2.2"
)

type (
	// Entry is the current registry entry wire format. It doubles as the
	// publish shape: the asset builder marshals it field-for-field in this
	// order.
	Entry struct {
		Schema       string        `json:"$schema,omitempty"`
		Identity     *Identity     `json:"identity,omitempty"`
		Metadata     *Metadata     `json:"metadata,omitempty"`
		Quality      *Quality      `json:"quality,omitempty"`
		Dependencies *Dependencies `json:"dependencies,omitempty"`
		Distribution *Distribution `json:"distribution,omitempty"`
		Timestamps   *Timestamps   `json:"timestamps,omitempty"`
	}

	// Identity names a published module.
	Identity struct {
		Name        string `json:"name"`
		Namespace   string `json:"namespace,omitempty"`
		Version     string `json:"version"`
		SpecVersion string `json:"spec_version,omitempty"`
	}

	// Metadata carries the human-facing entry fields. Keywords has no
	// omitempty: published entries carry an explicit empty array.
	Metadata struct {
		Description   string   `json:"description,omitempty"`
		DescriptionZH string   `json:"description_zh,omitempty"`
		Author        string   `json:"author,omitempty"`
		Tier          string   `json:"tier,omitempty"`
		License       string   `json:"license,omitempty"`
		Repository    string   `json:"repository,omitempty"`
		Homepage      string   `json:"homepage,omitempty"`
		Keywords      []string `json:"keywords"`
	}

	// Quality carries publisher assertions about an entry.
	Quality struct {
		ConformanceLevel string `json:"conformance_level,omitempty"`
		Verified         bool   `json:"verified,omitempty"`
		Deprecated       bool   `json:"deprecated,omitempty"`
	}

	// Dependencies declares runtime requirements. Modules stays non-nil so
	// the published JSON carries an explicit empty array.
	Dependencies struct {
		RuntimeMin string   `json:"runtime_min,omitempty"`
		Modules    []string `json:"modules"`
	}

	// Distribution locates and pins the packaged bytes.
	Distribution struct {
		Tarball   string   `json:"tarball"`
		Checksum  string   `json:"checksum"`
		SizeBytes int64    `json:"size_bytes,omitempty"`
		Files     []string `json:"files,omitempty"`
	}

	// Timestamps records entry lifecycle times. DeprecatedAt marshals as
	// null while the entry is active.
	Timestamps struct {
		CreatedAt    string  `json:"created_at"`
		UpdatedAt    string  `json:"updated_at"`
		DeprecatedAt *string `json:"deprecated_at"`
	}

	// IndexDocument is the publish wire format of a whole index. The builder
	// keeps Categories and Featured non-nil so they marshal as {} and [].
	IndexDocument struct {
		Schema     string           `json:"$schema"`
		Version    string           `json:"version"`
		Updated    string           `json:"updated"`
		Modules    map[string]Entry `json:"modules"`
		Categories json.RawMessage  `json:"categories"`
		Featured   []string         `json:"featured"`
		Stats      *Stats           `json:"stats,omitempty"`
	}

	// Stats summarizes an index for dashboards.
	Stats struct {
		TotalModules   int    `json:"total_modules"`
		TotalDownloads int64  `json:"total_downloads"`
		LastUpdated    string `json:"last_updated"`
	}

	// legacyEntry is the retired flat wire format still accepted on fetch.
	legacyEntry struct {
		Description string   `json:"description"`
		Version     string   `json:"version"`
		Source      string   `json:"source"`
		Tags        []string `json:"tags"`
		Author      string   `json:"author"`
	}

	// indexEnvelope is the decode-side envelope. Entries stay raw until the
	// per-entry format probe has run.
	indexEnvelope struct {
		Version    string                     `json:"version"`
		Updated    string                     `json:"updated"`
		Modules    map[string]json.RawMessage `json:"modules"`
		Categories json.RawMessage            `json:"categories"`
	}

	// ModuleInfo is the normalized view every consumer works with. Format
	// branching between the two wire shapes happens exactly once, in
	// ParseIndex; nothing downstream re-inspects wire fields.
	ModuleInfo struct {
		Name        string
		Version     string
		Description string
		Author      string
		Source      string
		Tarball     string
		Checksum    string
		SizeBytes   int64
		Files       []string
		Keywords    []string
		Tier        string
		Deprecated  bool
	}
)

// HasDistribution reports whether the entry points at packaged bytes rather
// than (or in addition to) a repository indirection.
func (m ModuleInfo) HasDistribution() bool { return m.Tarball != "" }

// ParseIndex decodes index bytes in either wire format and normalizes every
// entry. Invalid JSON, a missing modules map, or an entry matching neither
// format fails with fault.ErrMalformedIndex.
func ParseIndex(data []byte) (*Index, error) {
	var envelope indexEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, &fault.Error{Kind: fault.ErrMalformedIndex, Op: "parse index", Err: err}
	}
	if envelope.Modules == nil {
		return nil, &fault.Error{Kind: fault.ErrMalformedIndex, Op: "parse index", Detail: "top-level modules map absent"}
	}

	modules := make(map[string]ModuleInfo, len(envelope.Modules))
	for name, raw := range envelope.Modules {
		info, err := normalizeEntry(name, raw)
		if err != nil {
			return nil, err
		}
		modules[name] = info
	}

	return &Index{
		Version:    envelope.Version,
		Updated:    envelope.Updated,
		Categories: envelope.Categories,
		modules:    modules,
	}, nil
}

// normalizeEntry probes one raw entry for its wire format and maps it to
// ModuleInfo. An entry with an identity object is current format; anything
// else must parse as a legacy entry.
func normalizeEntry(name string, raw json.RawMessage) (ModuleInfo, error) {
	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return ModuleInfo{}, malformedEntry(name, "", err)
	}
	if entry.Identity != nil {
		return normalizeCurrent(name, entry)
	}

	var legacy legacyEntry
	if err := json.Unmarshal(raw, &legacy); err != nil {
		return ModuleInfo{}, malformedEntry(name, "", err)
	}
	return normalizeLegacy(name, legacy)
}

func normalizeCurrent(name string, entry Entry) (ModuleInfo, error) {
	if entry.Identity.Name == "" || entry.Identity.Version == "" {
		return ModuleInfo{}, malformedEntry(name, "identity requires name and version", nil)
	}

	info := ModuleInfo{
		Name:    name,
		Version: entry.Identity.Version,
	}
	if meta := entry.Metadata; meta != nil {
		info.Description = meta.Description
		info.Author = meta.Author
		info.Tier = meta.Tier
		info.Keywords = meta.Keywords
	}
	if dist := entry.Distribution; dist != nil {
		info.Tarball = dist.Tarball
		info.Checksum = dist.Checksum
		info.SizeBytes = dist.SizeBytes
		info.Files = dist.Files
	}
	if q := entry.Quality; q != nil && q.Deprecated {
		info.Deprecated = true
	}
	if ts := entry.Timestamps; ts != nil && ts.DeprecatedAt != nil && *ts.DeprecatedAt != "" {
		info.Deprecated = true
	}
	return info, nil
}

func normalizeLegacy(name string, entry legacyEntry) (ModuleInfo, error) {
	if entry.Version == "" || entry.Source == "" {
		return ModuleInfo{}, malformedEntry(name, "legacy entry requires version and source", nil)
	}

	info := ModuleInfo{
		Name:        name,
		Version:     entry.Version,
		Description: entry.Description,
		Author:      entry.Author,
		Keywords:    entry.Tags,
	}
	switch {
	case strings.HasPrefix(entry.Source, "github:"):
		info.Source = entry.Source
	case strings.HasPrefix(entry.Source, "https://"), strings.HasPrefix(entry.Source, "http://"):
		// A legacy tarball URL carries no checksum; installing one fails
		// the missing-checksum gate rather than being silently trusted.
		info.Tarball = entry.Source
	default:
		return ModuleInfo{}, malformedEntry(name, fmt.Sprintf("unrecognized source %q", entry.Source), nil)
	}
	return info, nil
}

func malformedEntry(name, detail string, err error) error {
	return &fault.Error{Kind: fault.ErrMalformedIndex, Op: "parse index", Path: name, Detail: detail, Err: err}
}
