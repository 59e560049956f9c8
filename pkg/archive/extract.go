// SPDX-License-Identifier: MPL-2.0

// Package archive implements the two trust-boundary operations on module
// tarballs: safe extraction of untrusted gzip-compressed ustar streams, and
// deterministic construction of the tarballs the registry distributes.
//
// Extraction rejects every entry type except regular files and directories,
// refuses names that would escape the destination root, and enforces quotas
// on file count, entry size, total size, and the decompressed stream itself,
// so a small compressed payload cannot expand into an oversized one.
package archive

import (
	"archive/tar"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"cogmod-cli/pkg/fault"
)

// Default extraction quotas. Callers can tighten or loosen them per
// operation; a zero Limits field falls back to these.
const (
	DefaultMaxFiles           = 1_000
	DefaultMaxTotalBytes      = 256 << 20
	DefaultMaxSingleFileBytes = 64 << 20
	DefaultMaxTarBytes        = 512 << 20
)

type (
	// Limits bounds what an extraction may consume. MaxTarBytes applies to
	// the decompressed stream while it is being read, which is the defense
	// against decompression bombs; the other three bound what lands on disk.
	Limits struct {
		MaxFiles           int
		MaxTotalBytes      int64
		MaxSingleFileBytes int64
		MaxTarBytes        int64
	}

	// Entry describes one validated archive member from a header-only scan.
	Entry struct {
		Name  string
		Size  int64
		IsDir bool
	}
)

// DefaultLimits returns the package default quotas.
func DefaultLimits() Limits {
	return Limits{
		MaxFiles:           DefaultMaxFiles,
		MaxTotalBytes:      DefaultMaxTotalBytes,
		MaxSingleFileBytes: DefaultMaxSingleFileBytes,
		MaxTarBytes:        DefaultMaxTarBytes,
	}
}

func (l Limits) withDefaults() Limits {
	if l.MaxFiles <= 0 {
		l.MaxFiles = DefaultMaxFiles
	}
	if l.MaxTotalBytes <= 0 {
		l.MaxTotalBytes = DefaultMaxTotalBytes
	}
	if l.MaxSingleFileBytes <= 0 {
		l.MaxSingleFileBytes = DefaultMaxSingleFileBytes
	}
	if l.MaxTarBytes <= 0 {
		l.MaxTarBytes = DefaultMaxTarBytes
	}
	return l
}

// Extract writes the gzip-compressed tar stream r into destRoot and returns
// the extracted file paths in archive member order.
//
// destRoot must be a directory dedicated to this extraction: on any failure
// every top-level path the archive introduced is removed again, so a
// malicious entry cannot leave earlier, well-formed entries behind.
func Extract(r io.Reader, destRoot string, limits Limits) (paths []string, err error) {
	limits = limits.withDefaults()

	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("reading gzip stream: %w", err)
	}
	defer func() {
		err = errors.Join(err, gz.Close())
	}()

	meter := &meteredReader{r: gz, limit: limits.MaxTarBytes}
	tr := tar.NewReader(meter)

	// Top-level names created under destRoot, for failure cleanup.
	roots := make(map[string]struct{})
	defer func() {
		if err == nil {
			return
		}
		for root := range roots {
			_ = os.RemoveAll(filepath.Join(destRoot, root))
		}
	}()

	var (
		fileCount  int
		totalBytes int64
	)
	for {
		header, nextErr := tr.Next()
		if errors.Is(nextErr, io.EOF) {
			break
		}
		if nextErr != nil {
			if meter.exceeded {
				return nil, quotaError("", fmt.Sprintf("decompressed stream exceeds %d bytes", limits.MaxTarBytes))
			}
			return nil, fmt.Errorf("reading tar stream: %w", nextErr)
		}

		name, entryErr := checkEntryName(header.Name)
		if entryErr != nil {
			return nil, entryErr
		}
		dest, entryErr := containedPath(destRoot, name)
		if entryErr != nil {
			return nil, entryErr
		}
		roots[topSegment(name)] = struct{}{}

		switch header.Typeflag {
		case tar.TypeDir:
			if mkErr := os.MkdirAll(dest, 0o755); mkErr != nil {
				return nil, fmt.Errorf("creating directory %s: %w", name, mkErr)
			}
			continue
		case tar.TypeReg:
			// Handled below.
		default:
			return nil, &fault.Error{
				Kind:   fault.ErrUnsafeArchiveEntry,
				Op:     "extract",
				Path:   header.Name,
				Detail: fmt.Sprintf("entry type %q is not a regular file", header.Typeflag),
			}
		}

		fileCount++
		if fileCount > limits.MaxFiles {
			return nil, quotaError(name, fmt.Sprintf("more than %d files", limits.MaxFiles))
		}
		if header.Size > limits.MaxSingleFileBytes {
			return nil, quotaError(name, fmt.Sprintf("entry size %d exceeds %d bytes", header.Size, limits.MaxSingleFileBytes))
		}
		totalBytes += header.Size
		if totalBytes > limits.MaxTotalBytes {
			return nil, quotaError(name, fmt.Sprintf("total size exceeds %d bytes", limits.MaxTotalBytes))
		}

		if writeErr := writeEntry(dest, header, tr, meter, limits); writeErr != nil {
			return nil, writeErr
		}
		paths = append(paths, dest)
	}

	return paths, nil
}

// Scan validates every member of the gzip-compressed tar stream without
// writing anything, applying the same name, type, and quota policy as
// Extract. Installers run it before extraction so a bad trailing entry is
// found before any earlier entry touches disk.
func Scan(r io.Reader, limits Limits) (entries []Entry, err error) {
	limits = limits.withDefaults()

	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("reading gzip stream: %w", err)
	}
	defer func() {
		err = errors.Join(err, gz.Close())
	}()

	meter := &meteredReader{r: gz, limit: limits.MaxTarBytes}
	tr := tar.NewReader(meter)

	var (
		fileCount  int
		totalBytes int64
	)
	for {
		header, nextErr := tr.Next()
		if errors.Is(nextErr, io.EOF) {
			break
		}
		if nextErr != nil {
			if meter.exceeded {
				return nil, quotaError("", fmt.Sprintf("decompressed stream exceeds %d bytes", limits.MaxTarBytes))
			}
			return nil, fmt.Errorf("reading tar stream: %w", nextErr)
		}

		name, entryErr := checkEntryName(header.Name)
		if entryErr != nil {
			return nil, entryErr
		}

		switch header.Typeflag {
		case tar.TypeDir:
			entries = append(entries, Entry{Name: name, IsDir: true})
			continue
		case tar.TypeReg:
		default:
			return nil, &fault.Error{
				Kind:   fault.ErrUnsafeArchiveEntry,
				Op:     "scan",
				Path:   header.Name,
				Detail: fmt.Sprintf("entry type %q is not a regular file", header.Typeflag),
			}
		}

		fileCount++
		if fileCount > limits.MaxFiles {
			return nil, quotaError(name, fmt.Sprintf("more than %d files", limits.MaxFiles))
		}
		if header.Size > limits.MaxSingleFileBytes {
			return nil, quotaError(name, fmt.Sprintf("entry size %d exceeds %d bytes", header.Size, limits.MaxSingleFileBytes))
		}
		totalBytes += header.Size
		if totalBytes > limits.MaxTotalBytes {
			return nil, quotaError(name, fmt.Sprintf("total size exceeds %d bytes", limits.MaxTotalBytes))
		}

		entries = append(entries, Entry{Name: name, Size: header.Size})
	}

	return entries, nil
}

// SingleRoot returns the one top-level directory all entries live under.
// Loose top-level files or multiple roots fail with
// fault.ErrAmbiguousArchiveLayout; module tarballs and repository archives
// both promise exactly one root.
func SingleRoot(entries []Entry) (string, error) {
	roots := make(map[string]struct{})
	for _, e := range entries {
		if !strings.Contains(e.Name, "/") && !e.IsDir {
			return "", &fault.Error{
				Kind:   fault.ErrAmbiguousArchiveLayout,
				Op:     "locate module root",
				Path:   e.Name,
				Detail: "loose file at the archive top level",
			}
		}
		roots[topSegment(e.Name)] = struct{}{}
	}
	if len(roots) != 1 {
		return "", &fault.Error{
			Kind:   fault.ErrAmbiguousArchiveLayout,
			Op:     "locate module root",
			Detail: fmt.Sprintf("%d top-level entries, want exactly 1", len(roots)),
		}
	}
	for root := range roots {
		return root, nil
	}
	return "", &fault.Error{Kind: fault.ErrAmbiguousArchiveLayout, Op: "locate module root", Detail: "empty archive"}
}

// checkEntryName normalizes a member name and rejects anything that could
// address a path outside the extraction root. The containment join is a
// separate, second guard; this one works on the name alone.
func checkEntryName(raw string) (string, error) {
	if raw == "" {
		return "", traversalError(raw, "empty entry name")
	}
	if strings.ContainsAny(raw, "\x00\\") {
		return "", traversalError(raw, "forbidden character in entry name")
	}
	if strings.HasPrefix(raw, "/") {
		return "", traversalError(raw, "absolute entry name")
	}
	name := path.Clean(raw)
	if name == "." {
		return "", traversalError(raw, "entry name resolves to the root itself")
	}
	for _, seg := range strings.Split(name, "/") {
		if seg == ".." {
			return "", traversalError(raw, "entry name contains a parent segment")
		}
	}
	return name, nil
}

// containedPath joins name onto destRoot and verifies the result stays
// lexically inside destRoot.
func containedPath(destRoot, name string) (string, error) {
	dest := filepath.Join(destRoot, filepath.FromSlash(name))
	rel, err := filepath.Rel(destRoot, dest)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", traversalError(name, "joined path escapes the destination root")
	}
	return dest, nil
}

func writeEntry(dest string, header *tar.Header, tr *tar.Reader, meter *meteredReader, limits Limits) (err error) {
	if mkErr := os.MkdirAll(filepath.Dir(dest), 0o755); mkErr != nil {
		return fmt.Errorf("creating parent directory for %s: %w", header.Name, mkErr)
	}

	perm := header.FileInfo().Mode().Perm()
	if perm == 0 {
		perm = 0o644
	}
	f, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("creating %s: %w", header.Name, err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("closing %s: %w", header.Name, closeErr)
		}
	}()

	// The tar reader never yields more than header.Size bytes per entry, so
	// the declared-size quota checks above also bound what lands here.
	if _, copyErr := io.Copy(f, tr); copyErr != nil {
		if meter.exceeded {
			return quotaError(header.Name, fmt.Sprintf("decompressed stream exceeds %d bytes", limits.MaxTarBytes))
		}
		return fmt.Errorf("writing %s: %w", header.Name, copyErr)
	}
	return nil
}

func topSegment(name string) string {
	if i := strings.Index(name, "/"); i >= 0 {
		return name[:i]
	}
	return name
}

func quotaError(entry, detail string) error {
	return &fault.Error{Kind: fault.ErrArchiveQuotaExceeded, Op: "extract", Path: entry, Detail: detail}
}

func traversalError(entry, detail string) error {
	return &fault.Error{Kind: fault.ErrPathTraversal, Op: "extract", Path: entry, Detail: detail}
}

// meteredReader counts decompressed bytes and fails once they pass the
// limit, stopping a decompression bomb while it streams rather than after
// it has been buffered.
type meteredReader struct {
	r        io.Reader
	limit    int64
	read     int64
	exceeded bool
}

func (m *meteredReader) Read(p []byte) (int, error) {
	n, err := m.r.Read(p)
	m.read += int64(n)
	if m.read > m.limit {
		m.exceeded = true
		return n, &fault.Error{
			Kind:   fault.ErrArchiveQuotaExceeded,
			Op:     "extract",
			Detail: fmt.Sprintf("decompressed stream exceeds %d bytes", m.limit),
		}
	}
	return n, err
}
