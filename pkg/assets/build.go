// SPDX-License-Identifier: MPL-2.0

// Package assets produces and checks the registry's published artifacts: one
// deterministic tarball per module plus the v2 index document that points at
// them. Build is the publisher side of the pipeline; Verify replays the
// consumer-side integrity checks against what was published.
package assets

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf16"
	"unicode/utf8"

	"cogmod-cli/pkg/archive"
	"cogmod-cli/pkg/integrity"
	"cogmod-cli/pkg/modfile"
	"cogmod-cli/pkg/registry"

	"github.com/charmbracelet/log"
)

// Publish defaults for fields the release pipeline rarely overrides.
const (
	DefaultNamespace  = "official"
	DefaultRuntimeMin = "2.2.0"
	DefaultLicense    = "MIT"

	// DefaultIndexFilename is where the index lands when BuildOptions.IndexOut
	// is empty, relative to OutDir.
	DefaultIndexFilename = "index.json"
)

type (
	// BuildOptions configures one build run.
	BuildOptions struct {
		// ModulesDir holds one subdirectory per module, each with a
		// module.yaml at its root. Subdirectories without one are skipped.
		ModulesDir string
		// OutDir receives the tarballs. Created if absent.
		OutDir string
		// IndexOut is the index file path. Empty means OutDir/index.json.
		IndexOut string

		// Tag is the release tag published tarball URLs point into. When Tag
		// and TarballBaseURL are both empty the index references bare
		// filenames, which is the local dry-run mode.
		Tag string
		// TarballBaseURL replaces the <repository>/releases/download/<tag>
		// URL prefix wholesale.
		TarballBaseURL string

		Namespace  string // identity.namespace, default "official"
		RuntimeMin string // dependencies.runtime_min, default "2.2.0"
		License    string // metadata.license, default "MIT"
		Repository string // metadata.repository, also the release URL base
		Homepage   string // metadata.homepage

		// Timestamp stamps updated, created_at, and updated_at, so CI can
		// pin a reproducible value. Empty means now, UTC, second precision.
		Timestamp string
		// Only limits the build to the named modules.
		Only []string
		// LegacyRegistryPath points at a v1 index whose description, author,
		// and tags enrich the published metadata.
		LegacyRegistryPath string

		Logger *log.Logger
	}

	// BuiltModule describes one packaged module.
	BuiltModule struct {
		Name      string
		Version   string
		Tarball   string // path of the written tarball
		Checksum  string
		SizeBytes int64
		Files     []string
	}

	// BuildResult reports what a build run produced.
	BuildResult struct {
		IndexPath string
		Modules   []BuiltModule
		Document  *registry.IndexDocument
	}
)

func (o BuildOptions) withDefaults() BuildOptions {
	if o.Namespace == "" {
		o.Namespace = DefaultNamespace
	}
	if o.RuntimeMin == "" {
		o.RuntimeMin = DefaultRuntimeMin
	}
	if o.License == "" {
		o.License = DefaultLicense
	}
	if o.Timestamp == "" {
		o.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	if o.Logger == nil {
		o.Logger = log.NewWithOptions(io.Discard, log.Options{})
	}
	return o
}

// Build packages every module under opts.ModulesDir into a deterministic
// tarball, assembles the v2 index entry for each, and writes the index
// document. Module directories are processed in name order; a failure in any
// module aborts the whole build rather than publishing a partial index.
func Build(ctx context.Context, opts BuildOptions) (*BuildResult, error) {
	opts = opts.withDefaults()
	if opts.ModulesDir == "" {
		return nil, errors.New("modules directory is required")
	}
	if opts.OutDir == "" {
		return nil, errors.New("output directory is required")
	}
	base, err := tarballBase(opts)
	if err != nil {
		return nil, err
	}
	seed, err := loadLegacySeed(opts.LegacyRegistryPath)
	if err != nil {
		return nil, err
	}
	dirs, err := moduleDirs(opts.ModulesDir)
	if err != nil {
		return nil, err
	}

	only := make(map[string]bool, len(opts.Only))
	for _, name := range opts.Only {
		if name = strings.TrimSpace(name); name != "" {
			only[name] = true
		}
	}

	if err := os.MkdirAll(opts.OutDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}

	var (
		built   []BuiltModule
		entries = make(map[string]registry.Entry)
	)
	for _, dir := range dirs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		desc, err := modfile.Load(dir)
		if err != nil {
			return nil, err
		}
		if len(only) > 0 && !only[desc.Name] {
			continue
		}
		mod, err := packageModule(dir, opts.OutDir, desc)
		if err != nil {
			return nil, fmt.Errorf("packaging %s: %w", desc.Name, err)
		}
		opts.Logger.Debug("packaged module",
			"name", mod.Name, "version", mod.Version, "files", len(mod.Files), "bytes", mod.SizeBytes)
		entries[mod.Name] = buildEntry(desc, mod, seed.module(mod.Name), base, opts)
		built = append(built, mod)
	}

	featured := make([]string, 0, len(built))
	for _, mod := range built {
		featured = append(featured, mod.Name)
	}

	doc := &registry.IndexDocument{
		Schema:     registry.IndexSchemaURL,
		Version:    registry.IndexVersion,
		Updated:    opts.Timestamp,
		Modules:    entries,
		Categories: seed.categoriesOrEmpty(),
		Featured:   featured,
		Stats: &registry.Stats{
			TotalModules:   len(entries),
			TotalDownloads: 0,
			LastUpdated:    opts.Timestamp,
		},
	}

	encoded, err := EncodeIndex(doc)
	if err != nil {
		return nil, err
	}
	indexOut := opts.IndexOut
	if indexOut == "" {
		indexOut = filepath.Join(opts.OutDir, DefaultIndexFilename)
	}
	if dir := filepath.Dir(indexOut); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating index directory: %w", err)
		}
	}
	if err := os.WriteFile(indexOut, encoded, 0o644); err != nil {
		return nil, fmt.Errorf("writing index: %w", err)
	}
	opts.Logger.Info("wrote registry index", "path", indexOut, "modules", len(entries))

	return &BuildResult{IndexPath: indexOut, Modules: built, Document: doc}, nil
}

// packageModule writes moduleDir as <name>-<version>.tar.gz under outDir and
// hashes the result. A partial tarball is removed on failure.
func packageModule(moduleDir, outDir string, desc *modfile.Descriptor) (BuiltModule, error) {
	tarPath := filepath.Join(outDir, fmt.Sprintf("%s-%s.tar.gz", desc.Name, desc.Version))
	f, err := os.Create(tarPath)
	if err != nil {
		return BuiltModule{}, err
	}
	files, err := archive.Build(moduleDir, desc.Name, f)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tarPath)
		return BuiltModule{}, err
	}

	sum, size, err := integrity.SumFile(tarPath)
	if err != nil {
		return BuiltModule{}, err
	}
	return BuiltModule{
		Name:      desc.Name,
		Version:   desc.Version,
		Tarball:   tarPath,
		Checksum:  sum.String(),
		SizeBytes: size,
		Files:     files,
	}, nil
}

func buildEntry(desc *modfile.Descriptor, mod BuiltModule, seed legacyModuleSeed, base string, opts BuildOptions) registry.Entry {
	// The legacy index carries a single description; it serves both language
	// fields, with the descriptor's responsibility line as the fallback.
	description := seed.Description
	if description == "" {
		description = desc.Responsibility
	}
	author := seed.Author
	if author == "" {
		author = "unknown"
	}
	keywords := seed.Tags
	if keywords == nil {
		keywords = []string{}
	}

	tarball := filepath.Base(mod.Tarball)
	if base != "" {
		tarball = base + "/" + tarball
	}

	return registry.Entry{
		Schema: registry.EntrySchemaURL,
		Identity: &registry.Identity{
			Name:        mod.Name,
			Namespace:   opts.Namespace,
			Version:     mod.Version,
			SpecVersion: registry.SpecVersion,
		},
		Metadata: &registry.Metadata{
			Description:   description,
			DescriptionZH: description,
			Author:        author,
			Tier:          desc.Tier,
			License:       opts.License,
			Repository:    opts.Repository,
			Homepage:      opts.Homepage,
			Keywords:      keywords,
		},
		Dependencies: &registry.Dependencies{
			RuntimeMin: opts.RuntimeMin,
			Modules:    []string{},
		},
		Distribution: &registry.Distribution{
			Tarball:   tarball,
			Checksum:  mod.Checksum,
			SizeBytes: mod.SizeBytes,
			Files:     mod.Files,
		},
		Timestamps: &registry.Timestamps{
			CreatedAt: opts.Timestamp,
			UpdatedAt: opts.Timestamp,
		},
	}
}

// tarballBase resolves the URL prefix for distribution.tarball, or "" when
// the index should reference bare filenames.
func tarballBase(opts BuildOptions) (string, error) {
	if opts.TarballBaseURL != "" {
		return strings.TrimSuffix(opts.TarballBaseURL, "/"), nil
	}
	if opts.Tag == "" {
		return "", nil
	}
	if opts.Repository == "" {
		return "", errors.New("publishing with a tag requires a repository URL")
	}
	return strings.TrimSuffix(opts.Repository, "/") + "/releases/download/" + opts.Tag, nil
}

// moduleDirs lists the subdirectories of modulesDir that carry a module.yaml,
// in name order.
func moduleDirs(modulesDir string) ([]string, error) {
	dirEntries, err := os.ReadDir(modulesDir)
	if err != nil {
		return nil, fmt.Errorf("reading modules directory: %w", err)
	}
	var dirs []string
	for _, de := range dirEntries {
		if !de.IsDir() {
			continue
		}
		dir := filepath.Join(modulesDir, de.Name())
		if modfile.Exists(dir) {
			dirs = append(dirs, dir)
		}
	}
	return dirs, nil
}

type (
	// legacySeed is the lenient read of a v1 index used for metadata
	// enrichment. Unlike registry.ParseIndex it tolerates entries that would
	// fail normalization; the builder only mines metadata from it.
	legacySeed struct {
		Modules    map[string]legacyModuleSeed `json:"modules"`
		Categories json.RawMessage             `json:"categories"`
	}

	legacyModuleSeed struct {
		Description string   `json:"description"`
		Author      string   `json:"author"`
		Tags        []string `json:"tags"`
	}
)

func loadLegacySeed(path string) (legacySeed, error) {
	if path == "" {
		return legacySeed{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return legacySeed{}, fmt.Errorf("reading legacy registry: %w", err)
	}
	var seed legacySeed
	if err := json.Unmarshal(data, &seed); err != nil {
		return legacySeed{}, fmt.Errorf("parsing legacy registry %s: %w", path, err)
	}
	return seed, nil
}

func (s legacySeed) module(name string) legacyModuleSeed { return s.Modules[name] }

func (s legacySeed) categoriesOrEmpty() json.RawMessage {
	if len(s.Categories) == 0 {
		return json.RawMessage("{}")
	}
	return s.Categories
}

// EncodeIndex marshals doc in the registry's published form: two-space
// indentation, sorted module keys, unescaped HTML, non-ASCII runes escaped to
// \uXXXX, and a trailing newline. The encoding is byte-stable for a given
// document, so republishing an unchanged registry produces an unchanged file.
func EncodeIndex(doc *registry.IndexDocument) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("encoding index: %w", err)
	}
	return asciiEscape(buf.Bytes()), nil
}

// asciiEscape rewrites every non-ASCII rune as a \uXXXX escape, using UTF-16
// surrogate pairs beyond the basic plane. JSON only permits non-ASCII bytes
// inside strings, so escaping the whole document is safe.
func asciiEscape(in []byte) []byte {
	ascii := true
	for _, b := range in {
		if b >= utf8.RuneSelf {
			ascii = false
			break
		}
	}
	if ascii {
		return in
	}

	var out bytes.Buffer
	out.Grow(len(in))
	for _, r := range string(in) {
		switch {
		case r < utf8.RuneSelf:
			out.WriteByte(byte(r))
		case r > 0xFFFF:
			hi, lo := utf16.EncodeRune(r)
			fmt.Fprintf(&out, `\u%04x\u%04x`, hi, lo)
		default:
			fmt.Fprintf(&out, `\u%04x`, r)
		}
	}
	return out.Bytes()
}
