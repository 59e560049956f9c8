// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"cogmod-cli/pkg/installer"
	"cogmod-cli/pkg/registry"
)

func TestRunInfo_InstalledModule(t *testing.T) {
	t.Parallel()

	tr := newTestRegistry(t)
	tr.publish(t, "memory-bank", "1.2.0")
	inst, _ := newTestInstaller(t, tr)

	ctx := context.Background()
	install := installParams{stdout: &bytes.Buffer{}, stderr: &bytes.Buffer{}, inst: inst, references: []string{"memory-bank"}}
	if err := runInstall(ctx, install); err != nil {
		t.Fatalf("install: %v", err)
	}

	var stdout, stderr bytes.Buffer
	p := infoParams{
		stdout:   &stdout,
		stderr:   &stderr,
		inst:     inst,
		client:   registry.NewClient(),
		indexURL: tr.indexURL(),
		name:     "memory-bank",
	}

	if err := runInfo(ctx, p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out := stdout.String()
	for _, token := range []string{"memory-bank", "1.2.0", "Provenance", "sha256:", "checksum verified"} {
		if !strings.Contains(out, token) {
			t.Errorf("stdout %q does not contain %q", out, token)
		}
	}
}

func TestRunInfo_RegistryFallback(t *testing.T) {
	t.Parallel()

	tr := newTestRegistry(t)
	tr.publish(t, "memory-bank", "1.2.0")
	inst, _ := newTestInstaller(t, tr)

	var stdout, stderr bytes.Buffer
	p := infoParams{
		stdout:   &stdout,
		stderr:   &stderr,
		inst:     inst,
		client:   registry.NewClient(),
		indexURL: tr.indexURL(),
		name:     "memory-bank",
	}

	if err := runInfo(context.Background(), p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out := stdout.String()
	for _, token := range []string{"not installed", "1.2.0", "Distribution", "cogmod install memory-bank"} {
		if !strings.Contains(out, token) {
			t.Errorf("stdout %q does not contain %q", out, token)
		}
	}
}

func TestRunInfo_UnknownModule(t *testing.T) {
	t.Parallel()

	tr := newTestRegistry(t)
	inst, _ := newTestInstaller(t, tr)

	var stdout, stderr bytes.Buffer
	p := infoParams{
		stdout:   &stdout,
		stderr:   &stderr,
		inst:     inst,
		client:   registry.NewClient(),
		indexURL: tr.indexURL(),
		name:     "ghost",
	}

	err := runInfo(context.Background(), p)
	if err == nil {
		t.Fatal("expected error for unknown module, got nil")
	}

	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("expected *ExitError, got %T", err)
	}
	if exitErr.Code != 1 {
		t.Errorf("Code = %d, want 1", exitErr.Code)
	}
	if !strings.Contains(stderr.String(), "module not found") {
		t.Errorf("stderr %q does not name the failure", stderr.String())
	}
}

func TestProvenanceOrigin(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		prov installer.Provenance
		want string
	}{
		{
			name: "registry tarball",
			prov: installer.Provenance{Source: installer.ProvenanceSource{
				Type:     installer.SourceRegistryTarball,
				Registry: "https://example.com/index.json",
				Module:   "memory-bank",
				Version:  "1.2.0",
			}},
			want: "registry https://example.com/index.json (memory-bank@1.2.0)",
		},
		{
			name: "repo archive with commit",
			prov: installer.Provenance{Source: installer.ProvenanceSource{
				Type:   installer.SourceRepoArchive,
				Repo:   "github.com/acme/demo",
				Ref:    "v2.0.0",
				Commit: "0123456789abcdef0123456789abcdef01234567",
			}},
			want: "github.com/acme/demo@v2.0.0 (0123456789ab)",
		},
		{
			name: "repo archive without commit",
			prov: installer.Provenance{Source: installer.ProvenanceSource{
				Type: installer.SourceRepoArchive,
				Repo: "github.com/acme/demo",
				Ref:  "main",
			}},
			want: "github.com/acme/demo@main",
		},
		{
			name: "unknown type passes through",
			prov: installer.Provenance{Source: installer.ProvenanceSource{Type: "mystery"}},
			want: "mystery",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := provenanceOrigin(&tt.prov); got != tt.want {
				t.Errorf("provenanceOrigin() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestShortCommit(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "full sha abbreviated", in: "0123456789abcdef0123456789abcdef01234567", want: "0123456789ab"},
		{name: "short sha untouched", in: "0123456", want: "0123456"},
		{name: "empty untouched", in: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := shortCommit(tt.in); got != tt.want {
				t.Errorf("shortCommit(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
