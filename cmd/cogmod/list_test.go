// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"cogmod-cli/pkg/installer"
	"cogmod-cli/pkg/modfile"
)

func TestRunList_Empty(t *testing.T) {
	t.Parallel()

	tr := newTestRegistry(t)
	inst, _ := newTestInstaller(t, tr)

	var stdout, stderr bytes.Buffer
	p := listParams{stdout: &stdout, stderr: &stderr, inst: inst}
	if err := runList(p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out := stdout.String()
	if !strings.Contains(out, "No modules installed") {
		t.Errorf("stdout %q does not report the empty state", out)
	}
	if !strings.Contains(out, "cogmod install") {
		t.Errorf("stdout %q does not hint at the install command", out)
	}
}

func TestRunList_ShowsInstalled(t *testing.T) {
	t.Parallel()

	tr := newTestRegistry(t)
	tr.publish(t, "memory-bank", "1.2.0")
	inst, _ := newTestInstaller(t, tr)

	install := installParams{stdout: &bytes.Buffer{}, stderr: &bytes.Buffer{}, inst: inst, references: []string{"memory-bank"}}
	if err := runInstall(context.Background(), install); err != nil {
		t.Fatalf("install: %v", err)
	}

	var stdout, stderr bytes.Buffer
	p := listParams{stdout: &stdout, stderr: &stderr, inst: inst}
	if err := runList(p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out := stdout.String()
	for _, token := range []string{"memory-bank", "1.2.0", "core", "1 module(s) installed"} {
		if !strings.Contains(out, token) {
			t.Errorf("stdout %q does not contain %q", out, token)
		}
	}
}

func TestModuleVersion(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		entry installer.ManifestEntry
		desc  *modfile.Descriptor
		want  string
	}{
		{
			name:  "resolved version wins",
			entry: installer.ManifestEntry{ResolvedVersion: "1.2.0"},
			desc:  &modfile.Descriptor{Version: "9.9.9"},
			want:  "1.2.0",
		},
		{
			name: "descriptor fallback",
			desc: &modfile.Descriptor{Version: "3.1.0"},
			want: "3.1.0",
		},
		{
			name: "nothing known",
			want: "-",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := moduleVersion(tt.entry, tt.desc); got != tt.want {
				t.Errorf("moduleVersion() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestModuleTier(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		desc *modfile.Descriptor
		want string
	}{
		{name: "tier from descriptor", desc: &modfile.Descriptor{Tier: "core"}, want: "core"},
		{name: "empty tier", desc: &modfile.Descriptor{}, want: "-"},
		{name: "no descriptor", desc: nil, want: "-"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := moduleTier(tt.desc); got != tt.want {
				t.Errorf("moduleTier() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRelativeTime(t *testing.T) {
	t.Parallel()

	t.Run("empty stamp", func(t *testing.T) {
		t.Parallel()
		if got := relativeTime(""); got != "-" {
			t.Errorf("relativeTime(\"\") = %q, want \"-\"", got)
		}
	})

	t.Run("unparseable stamp passes through", func(t *testing.T) {
		t.Parallel()
		if got := relativeTime("yesterday-ish"); got != "yesterday-ish" {
			t.Errorf("relativeTime() = %q, want the input back", got)
		}
	})

	t.Run("recent stamp reads relative", func(t *testing.T) {
		t.Parallel()
		stamp := time.Now().Add(-2 * time.Hour).UTC().Format(time.RFC3339)
		got := relativeTime(stamp)
		if !strings.Contains(got, "ago") {
			t.Errorf("relativeTime(%q) = %q, want a relative phrase", stamp, got)
		}
	})
}
