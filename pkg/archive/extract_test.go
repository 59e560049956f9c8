// SPDX-License-Identifier: MPL-2.0

package archive

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"cogmod-cli/pkg/fault"
)

type tarEntry struct {
	name     string
	typeflag byte
	content  string
	linkname string
}

// writeTarGz builds a gzip-compressed tar stream with full control over
// entry names and typeflags, including ones the extractor must reject.
func writeTarGz(t *testing.T, entries []tarEntry) []byte {
	t.Helper()

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for _, e := range entries {
		mode := int64(0o644)
		if e.typeflag == tar.TypeDir {
			mode = 0o755
		}
		header := &tar.Header{
			Typeflag: e.typeflag,
			Name:     e.name,
			Mode:     mode,
			Size:     int64(len(e.content)),
			Linkname: e.linkname,
			ModTime:  time.Unix(0, 0),
		}
		if err := tw.WriteHeader(header); err != nil {
			t.Fatalf("writing header %q: %v", e.name, err)
		}
		if e.typeflag == tar.TypeReg {
			if _, err := tw.Write([]byte(e.content)); err != nil {
				t.Fatalf("writing content %q: %v", e.name, err)
			}
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("closing tar writer: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("closing gzip writer: %v", err)
	}
	return buf.Bytes()
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()

	var found []string
	err := filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p != dir {
			rel, _ := filepath.Rel(dir, p)
			found = append(found, rel)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("walking %s: %v", dir, err)
	}
	return found
}

func TestExtract_WritesValidEntries(t *testing.T) {
	t.Parallel()

	data := writeTarGz(t, []tarEntry{
		{name: "demo/", typeflag: tar.TypeDir},
		{name: "demo/module.yaml", typeflag: tar.TypeReg, content: "name: demo\n"},
		{name: "demo/prompts/main.md", typeflag: tar.TypeReg, content: "# prompt\n"},
	})

	dest := t.TempDir()
	paths, err := Extract(bytes.NewReader(data), dest, Limits{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(paths) != 2 {
		t.Fatalf("got %d extracted files, want 2", len(paths))
	}

	got, err := os.ReadFile(filepath.Join(dest, "demo", "module.yaml"))
	if err != nil {
		t.Fatalf("reading extracted file: %v", err)
	}
	if string(got) != "name: demo\n" {
		t.Errorf("content = %q, want %q", got, "name: demo\n")
	}
}

func TestExtract_PreservesMemberOrder(t *testing.T) {
	t.Parallel()

	data := writeTarGz(t, []tarEntry{
		{name: "demo/zz.txt", typeflag: tar.TypeReg, content: "z"},
		{name: "demo/aa.txt", typeflag: tar.TypeReg, content: "a"},
		{name: "demo/mm.txt", typeflag: tar.TypeReg, content: "m"},
	})

	dest := t.TempDir()
	paths, err := Extract(bytes.NewReader(data), dest, Limits{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{"zz.txt", "aa.txt", "mm.txt"}
	for i, p := range paths {
		if filepath.Base(p) != want[i] {
			t.Errorf("paths[%d] = %s, want basename %s", i, p, want[i])
		}
	}
}

func TestExtract_TraversalRemovesEarlierEntries(t *testing.T) {
	t.Parallel()

	// A well-formed entry followed by a traversal attempt: the failure must
	// remove the earlier entry too.
	data := writeTarGz(t, []tarEntry{
		{name: "demo/safe.txt", typeflag: tar.TypeReg, content: "ok"},
		{name: "../evil.txt", typeflag: tar.TypeReg, content: "pwn"},
	})

	parent := t.TempDir()
	dest := filepath.Join(parent, "scratch")
	if err := os.Mkdir(dest, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	_, err := Extract(bytes.NewReader(data), dest, Limits{})
	if !errors.Is(err, fault.ErrPathTraversal) {
		t.Fatalf("got error %v, want ErrPathTraversal", err)
	}

	if leftover := listDir(t, dest); len(leftover) != 0 {
		t.Errorf("destination not cleaned up, found: %v", leftover)
	}
	if _, statErr := os.Stat(filepath.Join(parent, "evil.txt")); statErr == nil {
		t.Error("traversal entry escaped the destination root")
	}
}

func TestExtract_RejectsUnsafeNames(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		entry string
	}{
		{"parent segment", "../escape.txt"},
		{"nested parent segment", "demo/../../escape.txt"},
		{"absolute path", "/etc/passwd"},
		{"backslash separator", `demo\evil.txt`},
		{"dot only", "."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			data := writeTarGz(t, []tarEntry{{name: tt.entry, typeflag: tar.TypeReg, content: "x"}})
			_, err := Extract(bytes.NewReader(data), t.TempDir(), Limits{})
			if !errors.Is(err, fault.ErrPathTraversal) {
				t.Errorf("entry %q: got error %v, want ErrPathTraversal", tt.entry, err)
			}
		})
	}
}

func TestExtract_RejectsLinkEntries(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		entry tarEntry
	}{
		{"symlink", tarEntry{name: "demo/link", typeflag: tar.TypeSymlink, linkname: "/etc/passwd"}},
		{"relative symlink", tarEntry{name: "demo/link", typeflag: tar.TypeSymlink, linkname: "../../secret"}},
		{"hard link", tarEntry{name: "demo/link", typeflag: tar.TypeLink, linkname: "demo/module.yaml"}},
		{"char device", tarEntry{name: "demo/dev", typeflag: tar.TypeChar}},
		{"fifo", tarEntry{name: "demo/fifo", typeflag: tar.TypeFifo}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			data := writeTarGz(t, []tarEntry{
				{name: "demo/ok.txt", typeflag: tar.TypeReg, content: "ok"},
				tt.entry,
			})

			dest := t.TempDir()
			_, err := Extract(bytes.NewReader(data), dest, Limits{})
			if !errors.Is(err, fault.ErrUnsafeArchiveEntry) {
				t.Fatalf("got error %v, want ErrUnsafeArchiveEntry", err)
			}
			if leftover := listDir(t, dest); len(leftover) != 0 {
				t.Errorf("destination not cleaned up, found: %v", leftover)
			}
		})
	}
}

func TestExtract_FileCountQuota(t *testing.T) {
	t.Parallel()

	data := writeTarGz(t, []tarEntry{
		{name: "demo/a.txt", typeflag: tar.TypeReg, content: "a"},
		{name: "demo/b.txt", typeflag: tar.TypeReg, content: "b"},
		{name: "demo/c.txt", typeflag: tar.TypeReg, content: "c"},
	})

	_, err := Extract(bytes.NewReader(data), t.TempDir(), Limits{MaxFiles: 2})
	if !errors.Is(err, fault.ErrArchiveQuotaExceeded) {
		t.Errorf("got error %v, want ErrArchiveQuotaExceeded", err)
	}
}

func TestExtract_SingleFileQuota(t *testing.T) {
	t.Parallel()

	data := writeTarGz(t, []tarEntry{
		{name: "demo/big.bin", typeflag: tar.TypeReg, content: strings.Repeat("x", 4096)},
	})

	_, err := Extract(bytes.NewReader(data), t.TempDir(), Limits{MaxSingleFileBytes: 1024})
	if !errors.Is(err, fault.ErrArchiveQuotaExceeded) {
		t.Errorf("got error %v, want ErrArchiveQuotaExceeded", err)
	}
}

func TestExtract_TotalBytesQuota(t *testing.T) {
	t.Parallel()

	data := writeTarGz(t, []tarEntry{
		{name: "demo/a.bin", typeflag: tar.TypeReg, content: strings.Repeat("a", 700)},
		{name: "demo/b.bin", typeflag: tar.TypeReg, content: strings.Repeat("b", 700)},
	})

	dest := t.TempDir()
	_, err := Extract(bytes.NewReader(data), dest, Limits{MaxTotalBytes: 1000})
	if !errors.Is(err, fault.ErrArchiveQuotaExceeded) {
		t.Fatalf("got error %v, want ErrArchiveQuotaExceeded", err)
	}
	if leftover := listDir(t, dest); len(leftover) != 0 {
		t.Errorf("destination not cleaned up, found: %v", leftover)
	}
}

func TestExtract_DecompressionBombBound(t *testing.T) {
	t.Parallel()

	// 8 MiB of zeros gzips to a few KiB; the decompressed-stream meter has
	// to trip while streaming, long before the payload is fully written.
	data := writeTarGz(t, []tarEntry{
		{name: "demo/zeros.bin", typeflag: tar.TypeReg, content: strings.Repeat("\x00", 8<<20)},
	})
	if len(data) > 64<<10 {
		t.Fatalf("test payload should compress small, got %d bytes", len(data))
	}

	dest := t.TempDir()
	_, err := Extract(bytes.NewReader(data), dest, Limits{MaxTarBytes: 1 << 20})
	if !errors.Is(err, fault.ErrArchiveQuotaExceeded) {
		t.Fatalf("got error %v, want ErrArchiveQuotaExceeded", err)
	}
	if leftover := listDir(t, dest); len(leftover) != 0 {
		t.Errorf("destination not cleaned up, found: %v", leftover)
	}
}

func TestExtract_NotGzip(t *testing.T) {
	t.Parallel()

	_, err := Extract(strings.NewReader("plain text, not a gzip stream"), t.TempDir(), Limits{})
	if err == nil {
		t.Fatal("expected error for non-gzip input, got nil")
	}
}

func TestScan_ReportsEntriesWithoutWriting(t *testing.T) {
	t.Parallel()

	data := writeTarGz(t, []tarEntry{
		{name: "demo/", typeflag: tar.TypeDir},
		{name: "demo/module.yaml", typeflag: tar.TypeReg, content: "name: demo\n"},
		{name: "demo/prompt.md", typeflag: tar.TypeReg, content: "hello"},
	})

	entries, err := Scan(bytes.NewReader(data), Limits{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}
	if !entries[0].IsDir {
		t.Error("entries[0] should be a directory")
	}
	if entries[1].Name != "demo/module.yaml" || entries[1].Size != int64(len("name: demo\n")) {
		t.Errorf("entries[1] = %+v, want demo/module.yaml with size %d", entries[1], len("name: demo\n"))
	}
}

func TestScan_RejectsTraversal(t *testing.T) {
	t.Parallel()

	data := writeTarGz(t, []tarEntry{
		{name: "demo/ok.txt", typeflag: tar.TypeReg, content: "ok"},
		{name: "../evil.txt", typeflag: tar.TypeReg, content: "pwn"},
	})

	_, err := Scan(bytes.NewReader(data), Limits{})
	if !errors.Is(err, fault.ErrPathTraversal) {
		t.Errorf("got error %v, want ErrPathTraversal", err)
	}
}

func TestSingleRoot(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		entries  []Entry
		want     string
		wantFail bool
	}{
		{
			name: "single root",
			entries: []Entry{
				{Name: "demo", IsDir: true},
				{Name: "demo/module.yaml"},
				{Name: "demo/sub/file.txt"},
			},
			want: "demo",
		},
		{
			name: "single root without dir entry",
			entries: []Entry{
				{Name: "repo-main/module.yaml"},
			},
			want: "repo-main",
		},
		{
			name: "two roots",
			entries: []Entry{
				{Name: "one/a.txt"},
				{Name: "two/b.txt"},
			},
			wantFail: true,
		},
		{
			name: "loose top-level file",
			entries: []Entry{
				{Name: "demo/a.txt"},
				{Name: "README.md"},
			},
			wantFail: true,
		},
		{
			name:     "empty archive",
			entries:  nil,
			wantFail: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			root, err := SingleRoot(tt.entries)
			if tt.wantFail {
				if !errors.Is(err, fault.ErrAmbiguousArchiveLayout) {
					t.Errorf("got error %v, want ErrAmbiguousArchiveLayout", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if root != tt.want {
				t.Errorf("root = %q, want %q", root, tt.want)
			}
		})
	}
}
