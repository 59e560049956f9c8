// SPDX-License-Identifier: MPL-2.0

// Package installer materializes modules into a local modules directory
// from registry distributions and repository archives, recording what was
// installed in a manifest ledger and per-module provenance.
package installer

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"cogmod-cli/pkg/archive"
	"cogmod-cli/pkg/fault"
	"cogmod-cli/pkg/integrity"
	"cogmod-cli/pkg/modfile"
	"cogmod-cli/pkg/modref"
	"cogmod-cli/pkg/registry"
)

// DefaultMaxDownloadBytes caps a single fetched archive (compressed size).
const DefaultMaxDownloadBytes = 128 * 1024 * 1024

type (
	// Installer performs install, update, and remove operations against one
	// modules directory. A single operation is strictly sequential; two
	// concurrent operations on the same directory race last-writer-wins, as
	// there is no cross-process lock.
	Installer struct {
		modulesDir  string
		registryURL string
		client      *registry.Client
		refs        *RefResolver
		limits      archive.Limits
		maxDownload int64
		requireDist bool
		logger      *log.Logger
	}

	// Option configures an Installer.
	Option func(*Installer)

	// InstallOptions adjust a single install.
	InstallOptions struct {
		// RenameTo installs under this local name instead of the module's
		// own name.
		RenameTo string
		// PinnedRef overrides the ref for repository installs.
		PinnedRef string
		// Replace permits overwriting an existing module of the same name.
		Replace bool
	}

	// InstallResult reports a completed (or short-circuited) install.
	// AlreadyExists is a first-class outcome, not an error: the name was
	// taken, nothing was fetched or changed, and the caller decides whether
	// to retry with Replace.
	InstallResult struct {
		Name          string
		Version       string
		Location      string
		Source        string
		AlreadyExists bool
	}
)

// WithRegistry points the installer at a registry index.
func WithRegistry(indexURL string, client *registry.Client) Option {
	return func(inst *Installer) {
		inst.registryURL = indexURL
		if client != nil {
			inst.client = client
		}
	}
}

// WithArchiveLimits overrides the extraction quotas.
func WithArchiveLimits(limits archive.Limits) Option {
	return func(inst *Installer) { inst.limits = limits }
}

// WithMaxDownloadBytes caps fetched archive size.
func WithMaxDownloadBytes(n int64) Option {
	return func(inst *Installer) {
		if n > 0 {
			inst.maxDownload = n
		}
	}
}

// WithRequireRegistryDistribution enables the policy gate that refuses any
// install whose bytes do not come from a checksummed registry tarball.
func WithRequireRegistryDistribution(require bool) Option {
	return func(inst *Installer) { inst.requireDist = require }
}

// WithRefResolver replaces the repository ref resolver.
func WithRefResolver(refs *RefResolver) Option {
	return func(inst *Installer) {
		if refs != nil {
			inst.refs = refs
		}
	}
}

// WithLogger sets the diagnostic logger. The installer logs at debug level
// only; user-facing reporting belongs to the caller.
func WithLogger(logger *log.Logger) Option {
	return func(inst *Installer) {
		if logger != nil {
			inst.logger = logger
		}
	}
}

// New creates an installer rooted at modulesDir.
func New(modulesDir string, opts ...Option) *Installer {
	inst := &Installer{
		modulesDir:  modulesDir,
		client:      registry.NewClient(),
		refs:        NewRefResolver(),
		limits:      archive.DefaultLimits(),
		maxDownload: DefaultMaxDownloadBytes,
		logger:      log.NewWithOptions(io.Discard, log.Options{}),
	}
	for _, opt := range opts {
		opt(inst)
	}
	return inst
}

// Install resolves reference, fetches and verifies its content, and
// materializes it under the modules directory. The returned result carries
// AlreadyExists instead of an error when the local name is taken and
// Replace was not requested.
func (inst *Installer) Install(ctx context.Context, reference string, opts InstallOptions) (*InstallResult, error) {
	man, err := LoadManifest(ManifestPath(inst.modulesDir))
	if err != nil {
		return nil, err
	}
	result, err := inst.install(ctx, man, reference, opts)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// install is the manifest-handle-threaded core shared with Update. The
// handle is loaded by the caller and persisted here, once, on success.
func (inst *Installer) install(ctx context.Context, man *Manifest, reference string, opts InstallOptions) (*InstallResult, error) {
	ref, err := modref.Classify(reference)
	if err != nil {
		return nil, err
	}
	if opts.RenameTo != "" && !modref.IsModuleName(opts.RenameTo) {
		return nil, &fault.Error{
			Kind:   fault.ErrInvalidReference,
			Op:     "install",
			Path:   opts.RenameTo,
			Detail: "rename target is not a valid module name",
		}
	}

	// Short-circuit before any network work when the local name is already
	// known. Repository installs without a rename learn their name from the
	// module descriptor and are re-checked after staging.
	if name := earlyLocalName(ref, opts); name != "" && !opts.Replace {
		if existing, ok := man.Get(name); ok {
			return &InstallResult{Name: name, Location: existing.Location, AlreadyExists: true}, nil
		}
	}

	if err := os.MkdirAll(inst.modulesDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create modules directory: %w", err)
	}
	scratch, err := os.MkdirTemp(inst.modulesDir, ".install-")
	if err != nil {
		return nil, fmt.Errorf("failed to create scratch directory: %w", err)
	}
	defer func() { _ = os.RemoveAll(scratch) }()

	staged, err := inst.stage(ctx, scratch, ref, opts)
	if err != nil {
		return nil, err
	}

	localName := staged.name
	if opts.RenameTo != "" {
		localName = opts.RenameTo
	}
	dest := filepath.Join(inst.modulesDir, localName)
	if !opts.Replace {
		if man.Has(localName) {
			existing, _ := man.Get(localName)
			return &InstallResult{Name: localName, Location: existing.Location, AlreadyExists: true}, nil
		}
		if _, err := os.Lstat(dest); err == nil {
			return &InstallResult{Name: localName, Location: dest, AlreadyExists: true}, nil
		}
	}

	if err := materialize(staged.moduleRoot, dest); err != nil {
		return nil, err
	}

	// Provenance is evidence, not a gate: a write failure downgrades the
	// install to unattested rather than rolling it back.
	if err := WriteProvenance(dest, staged.provenance); err != nil {
		inst.logger.Warn("provenance not recorded", "module", localName, "err", err)
	}

	man.Set(localName, ManifestEntry{
		Source:          ref.String(),
		Location:        dest,
		RequestedRef:    staged.requestedRef,
		ResolvedVersion: staged.version,
		RegistryModule:  staged.registryModule,
		RegistryURL:     staged.registryURL,
		InstalledAt:     time.Now().UTC().Format(time.RFC3339),
	})
	if err := man.Save(); err != nil {
		return nil, err
	}

	inst.logger.Debug("installed module", "name", localName, "version", staged.version, "location", dest)
	return &InstallResult{
		Name:     localName,
		Version:  staged.version,
		Location: dest,
		Source:   ref.String(),
	}, nil
}

// stagedModule is a fetched, verified, extracted module sitting in scratch
// space, ready to be moved into place.
type stagedModule struct {
	moduleRoot     string
	name           string
	version        string
	requestedRef   string
	registryModule string
	registryURL    string
	provenance     Provenance
}

func (inst *Installer) stage(ctx context.Context, scratch string, ref modref.Ref, opts InstallOptions) (*stagedModule, error) {
	if ref.IsRepo() {
		return inst.stageRepo(ctx, scratch, ref, opts, registryContext{})
	}
	return inst.stageRegistry(ctx, scratch, ref, opts)
}

// registryContext carries registry identity through an indirected install,
// so provenance still names the entry that pointed at the repository.
type registryContext struct {
	module string
	url    string
}

func (inst *Installer) stageRegistry(ctx context.Context, scratch string, ref modref.Ref, opts InstallOptions) (*stagedModule, error) {
	if inst.registryURL == "" {
		return nil, fmt.Errorf("no registry configured; cannot resolve %q", ref.Name)
	}

	idx, err := inst.client.FetchIndex(ctx, inst.registryURL)
	if err != nil {
		return nil, err
	}
	info, ok := idx.Lookup(ref.Name)
	if !ok {
		return nil, &fault.Error{
			Kind:   fault.ErrModuleNotFound,
			Op:     "resolve module",
			Path:   ref.Name,
			Detail: "not present in registry index",
		}
	}
	if ref.Version != "" && ref.Version != info.Version {
		return nil, &fault.Error{
			Kind:   fault.ErrModuleNotFound,
			Op:     "resolve module",
			Path:   ref.Name,
			Detail: fmt.Sprintf("registry offers version %s, not %s", info.Version, ref.Version),
		}
	}
	if info.Deprecated {
		inst.logger.Warn("module is deprecated", "module", info.Name)
	}

	if !info.HasDistribution() {
		if info.Source == "" {
			return nil, &fault.Error{
				Kind:   fault.ErrModuleNotFound,
				Op:     "resolve module",
				Path:   ref.Name,
				Detail: "entry has neither a distribution nor a source",
			}
		}
		repoRef, err := parseLegacySource(info.Source)
		if err != nil {
			return nil, err
		}
		return inst.stageRepo(ctx, scratch, repoRef, opts, registryContext{module: info.Name, url: inst.registryURL})
	}

	// Distribution path: the checksum gates trust before any extracted
	// byte is used.
	if info.Checksum == "" {
		return nil, &fault.Error{Kind: fault.ErrMissingChecksum, Op: "install", Path: ref.Name}
	}
	expected, err := integrity.Parse(info.Checksum)
	if err != nil {
		return nil, fmt.Errorf("registry entry %s: %w", ref.Name, err)
	}
	tarURL, err := registry.ResolveTarballURL(inst.registryURL, info.Tarball)
	if err != nil {
		return nil, err
	}

	payload := filepath.Join(scratch, "payload.tar.gz")
	written, err := inst.fetchToFile(ctx, tarURL, payload, expected)
	if err != nil {
		return nil, err
	}
	if info.SizeBytes > 0 && written != info.SizeBytes {
		inst.logger.Warn("declared size differs from downloaded size",
			"module", info.Name, "declared", info.SizeBytes, "actual", written)
	}

	extractDir := filepath.Join(scratch, "extracted")
	if err := inst.extractPayload(payload, extractDir); err != nil {
		return nil, err
	}
	root, err := singleRootDir(extractDir)
	if err != nil {
		return nil, err
	}

	inst.logger.Debug("staged registry module", "module", info.Name, "version", info.Version, "bytes", written)
	return &stagedModule{
		moduleRoot:     filepath.Join(extractDir, root),
		name:           info.Name,
		version:        info.Version,
		registryModule: info.Name,
		registryURL:    inst.registryURL,
		provenance: Provenance{
			CreatedAt: time.Now().UTC().Format(time.RFC3339),
			Source: ProvenanceSource{
				Type:     SourceRegistryTarball,
				Registry: inst.registryURL,
				Module:   info.Name,
				Version:  info.Version,
				Tarball:  tarURL,
			},
			Integrity: ProvenanceIntegrity{
				Checksum:  expected.String(),
				SizeBytes: written,
				Verified:  true,
			},
		},
	}, nil
}

func (inst *Installer) stageRepo(ctx context.Context, scratch string, ref modref.Ref, opts InstallOptions, regCtx registryContext) (*stagedModule, error) {
	if inst.requireDist {
		return nil, fmt.Errorf("policy requires a registry distribution; refusing repository install of %s", ref)
	}

	gitRef := ref.GitRef
	if opts.PinnedRef != "" {
		gitRef = opts.PinnedRef
	}
	res, err := inst.refs.Resolve(ctx, remoteURL(ref), gitRef)
	if err != nil {
		return nil, err
	}

	tarURL := archiveURL(ref, res.Ref)
	payload := filepath.Join(scratch, "payload.tar.gz")
	written, err := inst.fetchToFile(ctx, tarURL, payload, integrity.Checksum{})
	if err != nil {
		return nil, err
	}
	// Best-effort evidence: record what was actually received, marked
	// unverified since no published digest exists to compare against.
	observed, _, err := integrity.SumFile(payload)
	if err != nil {
		return nil, err
	}

	extractDir := filepath.Join(scratch, "extracted")
	if err := inst.extractPayload(payload, extractDir); err != nil {
		return nil, err
	}
	root, err := singleRootDir(extractDir)
	if err != nil {
		return nil, err
	}

	moduleRoot := filepath.Join(extractDir, root)
	if ref.Subdir != "" {
		moduleRoot = filepath.Join(moduleRoot, filepath.FromSlash(ref.Subdir))
	}
	if !modfile.Exists(moduleRoot) {
		where := "repository root"
		if ref.Subdir != "" {
			where = "subdirectory " + ref.Subdir
		}
		return nil, &fault.Error{
			Kind:   fault.ErrModuleNotFound,
			Op:     "locate module",
			Path:   ref.String(),
			Detail: fmt.Sprintf("no %s at %s", modfile.Filename, where),
		}
	}
	desc, err := modfile.Load(moduleRoot)
	if err != nil {
		return nil, fmt.Errorf("module descriptor in %s: %w", ref.String(), err)
	}

	inst.logger.Debug("staged repository module",
		"repo", ref.Owner+"/"+ref.Repo, "ref", res.Ref, "bytes", written)
	return &stagedModule{
		moduleRoot:     moduleRoot,
		name:           desc.Name,
		version:        desc.Version,
		requestedRef:   gitRef,
		registryModule: regCtx.module,
		registryURL:    regCtx.url,
		provenance: Provenance{
			CreatedAt: time.Now().UTC().Format(time.RFC3339),
			Source: ProvenanceSource{
				Type:     SourceRepoArchive,
				Registry: regCtx.url,
				Module:   regCtx.module,
				Repo:     ref.Host + "/" + ref.Owner + "/" + ref.Repo,
				Ref:      res.Ref,
				Commit:   res.Commit,
				Subdir:   ref.Subdir,
			},
			Integrity: ProvenanceIntegrity{
				Checksum:  observed.String(),
				SizeBytes: written,
				Verified:  false,
			},
		},
	}, nil
}

func (inst *Installer) fetchToFile(ctx context.Context, rawURL, path string, expected integrity.Checksum) (written int64, err error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("failed to create download file: %w", err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()
	written, err = inst.client.Download(ctx, rawURL, f, expected, inst.maxDownload)
	return written, err
}

// extractPayload validates every member of the downloaded archive with a
// header-only scan, then extracts it. A hostile trailing entry is rejected
// before any earlier entry touches disk.
func (inst *Installer) extractPayload(payload, destDir string) error {
	f, err := os.Open(payload)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	if _, err := archive.Scan(f, inst.limits); err != nil {
		return err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return err
	}
	_, err = archive.Extract(f, destDir, inst.limits)
	return err
}

// earlyLocalName returns the local install name when it is knowable before
// staging, or "" when the module descriptor has to be read first.
func earlyLocalName(ref modref.Ref, opts InstallOptions) string {
	if opts.RenameTo != "" {
		return opts.RenameTo
	}
	if ref.Kind == modref.KindRegistry {
		return ref.Name
	}
	return ""
}

// parseLegacySource maps the retired github:owner/repo[/path][@ref] source
// indirection onto a repository reference.
func parseLegacySource(source string) (modref.Ref, error) {
	rest, found := strings.CutPrefix(source, "github:")
	if !found {
		return modref.Ref{}, &fault.Error{Kind: fault.ErrInvalidReference, Op: "parse registry source", Path: source}
	}
	ref, err := modref.Classify(rest)
	if err != nil {
		return modref.Ref{}, err
	}
	if !ref.IsRepo() {
		return modref.Ref{}, &fault.Error{
			Kind:   fault.ErrInvalidReference,
			Op:     "parse registry source",
			Path:   source,
			Detail: "expected owner/repo after github:",
		}
	}
	return ref, nil
}

// singleRootDir returns the lone top-level directory under dir. Module
// archives must have exactly one root directory and no loose files.
func singleRootDir(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	root := ""
	for _, entry := range entries {
		if !entry.IsDir() {
			return "", &fault.Error{
				Kind:   fault.ErrAmbiguousArchiveLayout,
				Op:     "inspect archive",
				Path:   entry.Name(),
				Detail: "loose file at archive root",
			}
		}
		if root != "" {
			return "", &fault.Error{
				Kind:   fault.ErrAmbiguousArchiveLayout,
				Op:     "inspect archive",
				Detail: "more than one top-level directory",
			}
		}
		root = entry.Name()
	}
	if root == "" {
		return "", &fault.Error{Kind: fault.ErrAmbiguousArchiveLayout, Op: "inspect archive", Detail: "archive is empty"}
	}
	return root, nil
}

// materialize moves the staged module into place, displacing any existing
// directory and restoring it if the move fails. Partial states never become
// the destination.
func materialize(srcDir, destDir string) error {
	backup := ""
	if _, err := os.Lstat(destDir); err == nil {
		backup = destDir + ".displaced"
		_ = os.RemoveAll(backup)
		if err := os.Rename(destDir, backup); err != nil {
			return fmt.Errorf("failed to displace existing module: %w", err)
		}
	}
	if err := os.Rename(srcDir, destDir); err != nil {
		if backup != "" {
			_ = os.Rename(backup, destDir)
		}
		return fmt.Errorf("failed to move module into place: %w", err)
	}
	if backup != "" {
		_ = os.RemoveAll(backup)
	}
	return nil
}
