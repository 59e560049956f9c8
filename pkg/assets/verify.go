// SPDX-License-Identifier: MPL-2.0

package assets

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"cogmod-cli/pkg/archive"
	"cogmod-cli/pkg/integrity"
	"cogmod-cli/pkg/registry"

	"github.com/charmbracelet/log"
	"github.com/nlepage/go-tarfs"
	"golang.org/x/sync/errgroup"
)

// Verification concurrency bounds. The cap keeps a misconfigured run from
// hammering the registry host.
const (
	DefaultVerifyConcurrency = 4
	MaxVerifyConcurrency     = 8

	// DefaultMaxTarballBytes bounds one tarball download.
	DefaultMaxTarballBytes = 128 << 20
)

// Verification phases, in the order they run for one module. A module's first
// failing phase is recorded and the later phases are skipped for it.
const (
	PhaseDownload = "download"
	PhaseChecksum = "checksum"
	PhaseSize     = "size"
	PhaseExtract  = "extract"
	PhaseFiles    = "files"
)

type (
	// VerifyOptions configures one verification run.
	VerifyOptions struct {
		// IndexURL selects remote mode: the index and every tarball are
		// fetched over HTTP. IndexPath selects local mode against files on
		// disk. Exactly one must be set.
		IndexURL  string
		IndexPath string
		// AssetsDir is where local mode finds the tarballs. Empty means the
		// index file's own directory.
		AssetsDir string

		// Concurrency bounds parallel downloads in remote mode. Zero or
		// negative means DefaultVerifyConcurrency; values above
		// MaxVerifyConcurrency clamp to it.
		Concurrency int
		// Limits applies the extraction quotas to the scan phase.
		Limits archive.Limits
		// MaxTarballBytes bounds one download. Zero means
		// DefaultMaxTarballBytes.
		MaxTarballBytes int64
		// Timeout applies per request when Verify constructs its own client.
		// A caller-supplied Client keeps its own timeout.
		Timeout time.Duration
		// CheckFiles additionally confirms every path in distribution.files
		// exists inside the tarball.
		CheckFiles bool

		Client *registry.Client
		Logger *log.Logger
	}

	// Failure records one module's first failed verification phase. Failures
	// are data, not errors: one bad module never stops the others from being
	// checked.
	Failure struct {
		Module          string `json:"module"`
		Phase           string `json:"phase"`
		TarballRef      string `json:"tarball_ref"`
		TarballResolved string `json:"tarball_resolved,omitempty"`
		Message         string `json:"message"`
	}

	// VerifyResult summarizes a run. Failures are ordered by module name, so
	// repeated runs over the same assets produce identical output.
	VerifyResult struct {
		OK       bool      `json:"ok"`
		Passed   int       `json:"passed"`
		Failed   int       `json:"failed"`
		Failures []Failure `json:"failures,omitempty"`
	}
)

func (o VerifyOptions) withDefaults() VerifyOptions {
	if o.Concurrency <= 0 {
		o.Concurrency = DefaultVerifyConcurrency
	}
	if o.Concurrency > MaxVerifyConcurrency {
		o.Concurrency = MaxVerifyConcurrency
	}
	if o.MaxTarballBytes <= 0 {
		o.MaxTarballBytes = DefaultMaxTarballBytes
	}
	if o.Logger == nil {
		o.Logger = log.NewWithOptions(io.Discard, log.Options{})
	}
	return o
}

// Verify checks every index entry that declares a distribution: the tarball
// must exist, match its declared checksum and size, and scan as safely
// extractable under the configured quotas. Entries that only point at a
// source repository have no published bytes to check and are skipped.
//
// The returned error covers run-level problems only, an unreadable index or
// a cancelled context. Per-module findings land in the result.
func Verify(ctx context.Context, opts VerifyOptions) (*VerifyResult, error) {
	opts = opts.withDefaults()
	switch {
	case opts.IndexURL != "" && opts.IndexPath != "":
		return nil, errors.New("index URL and index path are mutually exclusive")
	case opts.IndexURL != "":
		return verifyRemote(ctx, opts)
	case opts.IndexPath != "":
		return verifyLocal(ctx, opts)
	default:
		return nil, errors.New("an index URL or index path is required")
	}
}

func verifyLocal(ctx context.Context, opts VerifyOptions) (*VerifyResult, error) {
	idx, err := registry.LoadIndexFile(opts.IndexPath)
	if err != nil {
		return nil, err
	}
	assetsDir := opts.AssetsDir
	if assetsDir == "" {
		assetsDir = filepath.Dir(opts.IndexPath)
	}

	result := &VerifyResult{}
	for _, info := range distModules(idx, opts.Logger) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		local := filepath.Join(assetsDir, tarballFilename(info.Tarball))
		var fail *Failure
		if _, statErr := os.Stat(local); statErr != nil {
			fail = &Failure{Phase: PhaseDownload, Message: fmt.Sprintf("tarball missing from assets directory: %v", statErr)}
		} else {
			fail = checkTarball(local, info, opts)
		}
		result.record(info.Name, info.Tarball, local, fail, opts.Logger)
	}
	result.finish()
	return result, nil
}

func verifyRemote(ctx context.Context, opts VerifyOptions) (*VerifyResult, error) {
	client := opts.Client
	if client == nil {
		clientOpts := []registry.ClientOption{}
		if opts.Timeout > 0 {
			clientOpts = append(clientOpts, registry.WithTimeout(opts.Timeout))
		}
		client = registry.NewClient(clientOpts...)
	}
	idx, err := client.FetchIndex(ctx, opts.IndexURL)
	if err != nil {
		return nil, err
	}

	scratch, err := os.MkdirTemp("", "cogmod-verify-")
	if err != nil {
		return nil, fmt.Errorf("creating scratch directory: %w", err)
	}
	defer os.RemoveAll(scratch)

	var (
		result = &VerifyResult{}
		mu     sync.Mutex
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)
	for _, info := range distModules(idx, opts.Logger) {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			local, resolved, fail := fetchTarball(gctx, client, scratch, opts, info)
			if fail == nil {
				fail = checkTarball(local, info, opts)
			}
			if fail != nil && gctx.Err() != nil {
				// Cancellation, not a verdict about the module.
				return gctx.Err()
			}
			mu.Lock()
			result.record(info.Name, info.Tarball, resolved, fail, opts.Logger)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	result.finish()
	return result, nil
}

// fetchTarball resolves the tarball reference against the index URL and
// downloads it into the scratch directory. CreateTemp keeps scratch names
// unique, so two modules shipping the same tarball filename never collide.
func fetchTarball(ctx context.Context, client *registry.Client, scratch string, opts VerifyOptions, info registry.ModuleInfo) (local, resolved string, fail *Failure) {
	resolved, err := registry.ResolveTarballURL(opts.IndexURL, info.Tarball)
	if err != nil {
		return "", "", &Failure{Phase: PhaseDownload, Message: err.Error()}
	}
	f, err := os.CreateTemp(scratch, "tarball-*.tgz")
	if err != nil {
		return "", resolved, &Failure{Phase: PhaseDownload, Message: err.Error()}
	}
	local = f.Name()
	_, err = client.Download(ctx, resolved, f, integrity.Checksum{}, opts.MaxTarballBytes)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return "", resolved, &Failure{Phase: PhaseDownload, Message: err.Error()}
	}
	return local, resolved, nil
}

// checkTarball runs the on-disk phases against one tarball: checksum,
// declared size, extractability, and optionally the files listing. The first
// failing phase wins; later phases assume the earlier ones held.
func checkTarball(local string, info registry.ModuleInfo, opts VerifyOptions) *Failure {
	expected, err := integrity.Parse(info.Checksum)
	if err != nil {
		return &Failure{Phase: PhaseChecksum, Message: fmt.Sprintf("unusable checksum %q: %v", info.Checksum, err)}
	}
	if err := integrity.VerifyFile(local, expected); err != nil {
		return &Failure{Phase: PhaseChecksum, Message: err.Error()}
	}

	if info.SizeBytes > 0 {
		fi, err := os.Stat(local)
		if err != nil {
			return &Failure{Phase: PhaseSize, Message: err.Error()}
		}
		if fi.Size() != info.SizeBytes {
			return &Failure{Phase: PhaseSize, Message: fmt.Sprintf("tarball is %d bytes, index declares %d", fi.Size(), info.SizeBytes)}
		}
	}

	root, fail := scanTarball(local, opts.Limits)
	if fail != nil {
		return fail
	}
	if opts.CheckFiles {
		return checkListedFiles(local, root, info.Files)
	}
	return nil
}

// scanTarball validates the archive headers-only under the extraction policy
// and locates the single root directory.
func scanTarball(local string, limits archive.Limits) (string, *Failure) {
	f, err := os.Open(local)
	if err != nil {
		return "", &Failure{Phase: PhaseExtract, Message: err.Error()}
	}
	defer f.Close()

	entries, err := archive.Scan(f, limits)
	if err != nil {
		return "", &Failure{Phase: PhaseExtract, Message: err.Error()}
	}
	root, err := archive.SingleRoot(entries)
	if err != nil {
		return "", &Failure{Phase: PhaseExtract, Message: err.Error()}
	}
	return root, nil
}

// checkListedFiles opens the tarball as a filesystem and confirms every path
// in distribution.files exists under the root directory.
func checkListedFiles(local, root string, listed []string) *Failure {
	if len(listed) == 0 {
		return nil
	}
	f, err := os.Open(local)
	if err != nil {
		return &Failure{Phase: PhaseFiles, Message: err.Error()}
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		return &Failure{Phase: PhaseFiles, Message: err.Error()}
	}
	defer gz.Close()
	tfs, err := tarfs.New(gz)
	if err != nil {
		return &Failure{Phase: PhaseFiles, Message: fmt.Sprintf("opening tarball as filesystem: %v", err)}
	}

	var missing []string
	for _, name := range listed {
		if _, err := fs.Stat(tfs, path.Join(root, name)); err != nil {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return &Failure{Phase: PhaseFiles, Message: "listed files missing from tarball: " + strings.Join(missing, ", ")}
	}
	return nil
}

// distModules returns the entries that published bytes, in name order.
func distModules(idx *registry.Index, logger *log.Logger) []registry.ModuleInfo {
	var mods []registry.ModuleInfo
	for _, info := range idx.All() {
		if !info.HasDistribution() {
			logger.Debug("skipping entry without a distribution", "module", info.Name)
			continue
		}
		mods = append(mods, info)
	}
	return mods
}

// tarballFilename extracts the base filename from a tarball reference, which
// may be an absolute URL or a bare filename.
func tarballFilename(ref string) string {
	if u, err := url.Parse(ref); err == nil && u.Path != "" {
		return path.Base(u.Path)
	}
	return path.Base(ref)
}

func (r *VerifyResult) record(module, ref, resolved string, fail *Failure, logger *log.Logger) {
	if fail == nil {
		r.Passed++
		logger.Debug("verified module", "module", module)
		return
	}
	fail.Module = module
	fail.TarballRef = ref
	fail.TarballResolved = resolved
	r.Failed++
	r.Failures = append(r.Failures, *fail)
	logger.Warn("module failed verification", "module", module, "phase", fail.Phase, "message", fail.Message)
}

func (r *VerifyResult) finish() {
	slices.SortFunc(r.Failures, func(a, b Failure) int {
		return strings.Compare(a.Module, b.Module)
	})
	r.OK = r.Failed == 0
}
