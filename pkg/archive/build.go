// SPDX-License-Identifier: MPL-2.0

package archive

import (
	"archive/tar"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"cogmod-cli/pkg/fault"
)

// Build writes a deterministic gzip-compressed ustar archive of moduleDir to
// w and returns the archived file paths, relative to moduleDir and sorted.
//
// Determinism rules, so the same tree always hashes to the same checksum:
// sorted member order, every member under a single rootName/ directory,
// uid/gid zero with root/root names, epoch mtimes (tar and gzip headers
// both), and modes normalized to 0644 or 0755. Symlinks and other
// non-regular files are refused rather than followed, matching what the
// extractor would reject on the consuming side.
func Build(moduleDir, rootName string, w io.Writer) (files []string, err error) {
	files, err = listFiles(moduleDir)
	if err != nil {
		return nil, err
	}

	gz := gzip.NewWriter(w)
	defer func() {
		err = errors.Join(err, gz.Close())
	}()
	tw := tar.NewWriter(gz)
	defer func() {
		err = errors.Join(err, tw.Close())
	}()

	for _, rel := range files {
		if err := addFile(tw, moduleDir, rootName, rel); err != nil {
			return nil, err
		}
	}
	return files, nil
}

func addFile(tw *tar.Writer, moduleDir, rootName, rel string) (err error) {
	src := filepath.Join(moduleDir, filepath.FromSlash(rel))
	info, err := os.Lstat(src)
	if err != nil {
		return fmt.Errorf("stat %s: %w", rel, err)
	}

	mode := int64(0o644)
	if info.Mode()&0o100 != 0 {
		mode = 0o755
	}
	header := &tar.Header{
		Typeflag: tar.TypeReg,
		Name:     rootName + "/" + rel,
		Size:     info.Size(),
		Mode:     mode,
		Uid:      0,
		Gid:      0,
		Uname:    "root",
		Gname:    "root",
		ModTime:  time.Unix(0, 0),
		Format:   tar.FormatUSTAR,
	}
	if err := tw.WriteHeader(header); err != nil {
		return fmt.Errorf("writing header for %s: %w", rel, err)
	}

	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening %s: %w", rel, err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("closing %s: %w", rel, closeErr)
		}
	}()

	if _, err := io.Copy(tw, f); err != nil {
		return fmt.Errorf("archiving %s: %w", rel, err)
	}
	return nil
}

// listFiles walks moduleDir collecting relative slash-separated file paths.
// Symlinked files and directories fail the walk outright; a symlinked
// directory could smuggle content from outside the module tree into the
// published tarball.
func listFiles(moduleDir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(moduleDir, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.Type()&fs.ModeSymlink != 0 {
			return &fault.Error{
				Kind:   fault.ErrUnsafeArchiveEntry,
				Op:     "package",
				Path:   p,
				Detail: "refusing to package symlink",
			}
		}
		if d.IsDir() {
			return nil
		}
		if !d.Type().IsRegular() {
			return &fault.Error{
				Kind:   fault.ErrUnsafeArchiveEntry,
				Op:     "package",
				Path:   p,
				Detail: "refusing to package non-regular file",
			}
		}
		if d.Name() == ".DS_Store" {
			return nil
		}
		rel, err := filepath.Rel(moduleDir, p)
		if err != nil {
			return err
		}
		files = append(files, strings.ReplaceAll(rel, string(filepath.Separator), "/"))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}
