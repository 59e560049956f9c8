// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"cogmod-cli/pkg/archive"
	"cogmod-cli/pkg/installer"
	"cogmod-cli/pkg/integrity"
	"cogmod-cli/pkg/registry"
)

// testRegistry serves an index document plus tarballs over HTTP, standing in
// for a published registry during command tests. Entries may be republished
// while the server runs, which is how update flows see a newer version.
type testRegistry struct {
	srv *httptest.Server

	mu       sync.Mutex
	entries  map[string]json.RawMessage
	tarballs map[string][]byte
}

func newTestRegistry(t *testing.T) *testRegistry {
	t.Helper()
	tr := &testRegistry{
		entries:  make(map[string]json.RawMessage),
		tarballs: make(map[string][]byte),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/index.json", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		tr.mu.Lock()
		doc, err := json.Marshal(map[string]any{"version": "2.0.0", "modules": tr.entries})
		tr.mu.Unlock()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		_, _ = w.Write(doc)
	})
	mux.HandleFunc("/modules/", func(w http.ResponseWriter, r *http.Request) {
		tr.mu.Lock()
		data, ok := tr.tarballs[path.Base(r.URL.Path)]
		tr.mu.Unlock()
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(data)
	})

	tr.srv = httptest.NewServer(mux)
	t.Cleanup(tr.srv.Close)
	return tr
}

func (tr *testRegistry) indexURL() string { return tr.srv.URL + "/index.json" }

// publish builds a real module tarball and registers a current-format entry
// whose tarball reference resolves relative to the index URL.
func (tr *testRegistry) publish(t *testing.T, name, version string) {
	t.Helper()
	data, sum := buildTestTarball(t, name, version)
	tr.publishRaw(t, name, version, data, sum)
}

func (tr *testRegistry) publishRaw(t *testing.T, name, version string, data []byte, checksum string) {
	t.Helper()
	filename := fmt.Sprintf("%s-%s.tar.gz", name, version)
	entry := fmt.Sprintf(`{
		"identity": {"name": %q, "version": %q},
		"metadata": {"description": "a module for exercising the command layer", "tier": "core"},
		"distribution": {"tarball": %q, "checksum": %q, "size_bytes": %d}
	}`, name, version, "modules/"+filename, checksum, len(data))

	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.entries[name] = json.RawMessage(entry)
	tr.tarballs[filename] = data
}

func buildTestTarball(t *testing.T, name, version string) ([]byte, string) {
	t.Helper()
	dir := t.TempDir()
	mustWriteFile(t, filepath.Join(dir, "module.yaml"), fmt.Sprintf(
		"name: %s\nversion: %s\ntier: core\nresponsibility: exercises command flows\n", name, version))
	mustWriteFile(t, filepath.Join(dir, "prompt.md"), "# "+name+"\n")

	var buf bytes.Buffer
	if _, err := archive.Build(dir, name, &buf); err != nil {
		t.Fatalf("building tarball: %v", err)
	}
	sum, _, err := integrity.SumReader(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("hashing tarball: %v", err)
	}
	return buf.Bytes(), sum.String()
}

func mustWriteFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
}

// newTestInstaller wires an installer at a scratch modules directory against
// the test registry.
func newTestInstaller(t *testing.T, tr *testRegistry) (*installer.Installer, string) {
	t.Helper()
	modulesDir := filepath.Join(t.TempDir(), "modules")
	inst := installer.New(modulesDir, installer.WithRegistry(tr.indexURL(), registry.NewClient()))
	return inst, modulesDir
}

func TestRunInstall_RegistryModule(t *testing.T) {
	t.Parallel()

	tr := newTestRegistry(t)
	tr.publish(t, "memory-bank", "1.2.0")
	inst, modulesDir := newTestInstaller(t, tr)

	var stdout, stderr bytes.Buffer
	p := installParams{
		stdout:     &stdout,
		stderr:     &stderr,
		inst:       inst,
		references: []string{"memory-bank"},
	}

	if err := runInstall(context.Background(), p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out := stdout.String()
	for _, token := range []string{"Installed", "memory-bank", "1.2.0", modulesDir} {
		if !strings.Contains(out, token) {
			t.Errorf("stdout %q does not contain %q", out, token)
		}
	}
	if stderr.Len() != 0 {
		t.Errorf("expected empty stderr, got %q", stderr.String())
	}

	if _, err := os.Stat(filepath.Join(modulesDir, "memory-bank", "module.yaml")); err != nil {
		t.Errorf("module not materialized: %v", err)
	}
}

func TestRunInstall_AlreadyInstalled(t *testing.T) {
	t.Parallel()

	tr := newTestRegistry(t)
	tr.publish(t, "memory-bank", "1.2.0")
	inst, _ := newTestInstaller(t, tr)

	ctx := context.Background()
	first := installParams{stdout: &bytes.Buffer{}, stderr: &bytes.Buffer{}, inst: inst, references: []string{"memory-bank"}}
	if err := runInstall(ctx, first); err != nil {
		t.Fatalf("first install: %v", err)
	}

	var stdout, stderr bytes.Buffer
	second := installParams{stdout: &stdout, stderr: &stderr, inst: inst, references: []string{"memory-bank"}}
	err := runInstall(ctx, second)
	if err == nil {
		t.Fatal("expected error for duplicate install, got nil")
	}

	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("expected *ExitError, got %T", err)
	}
	if exitErr.Code != 1 {
		t.Errorf("Code = %d, want 1", exitErr.Code)
	}
	if !strings.Contains(stdout.String(), "already installed") {
		t.Errorf("stdout %q does not mention the duplicate", stdout.String())
	}
}

func TestRunInstall_ChecksumMismatch(t *testing.T) {
	t.Parallel()

	tr := newTestRegistry(t)
	data, _ := buildTestTarball(t, "memory-bank", "1.2.0")
	tr.publishRaw(t, "memory-bank", "1.2.0", data,
		"sha256:e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855")
	inst, modulesDir := newTestInstaller(t, tr)

	var stdout, stderr bytes.Buffer
	p := installParams{stdout: &stdout, stderr: &stderr, inst: inst, references: []string{"memory-bank"}}

	err := runInstall(context.Background(), p)
	if err == nil {
		t.Fatal("expected error for checksum mismatch, got nil")
	}

	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("expected *ExitError, got %T", err)
	}
	if exitErr.Code != 2 {
		t.Errorf("Code = %d, want 2 for integrity failure", exitErr.Code)
	}
	if !strings.Contains(stderr.String(), "checksum mismatch") {
		t.Errorf("stderr %q does not mention the mismatch", stderr.String())
	}

	if _, err := os.Stat(filepath.Join(modulesDir, "memory-bank")); !os.IsNotExist(err) {
		t.Error("failed install should leave nothing behind")
	}
}

func TestRunInstall_NotInRegistry(t *testing.T) {
	t.Parallel()

	tr := newTestRegistry(t)
	tr.publish(t, "memory-bank", "1.2.0")
	inst, _ := newTestInstaller(t, tr)

	var stdout, stderr bytes.Buffer
	p := installParams{stdout: &stdout, stderr: &stderr, inst: inst, references: []string{"absent"}}

	err := runInstall(context.Background(), p)
	if err == nil {
		t.Fatal("expected error for unknown module, got nil")
	}

	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("expected *ExitError, got %T", err)
	}
	if exitErr.Code != 1 {
		t.Errorf("Code = %d, want 1 for unknown module", exitErr.Code)
	}
	if !strings.Contains(stderr.String(), "module not found") {
		t.Errorf("stderr %q does not name the failure", stderr.String())
	}
}
