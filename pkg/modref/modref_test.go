// SPDX-License-Identifier: MPL-2.0

package modref

import (
	"errors"
	"testing"

	"cogmod-cli/pkg/fault"
)

func TestClassify_RegistryNames(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input       string
		wantName    string
		wantVersion string
	}{
		{"demo", "demo", ""},
		{"code-reviewer", "code-reviewer", ""},
		{"demo@1.0.0", "demo", "1.0.0"},
		{"demo@1.2.0-rc.1", "demo", "1.2.0-rc.1"},
		{"a2z@v2", "a2z", "v2"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()

			ref, err := Classify(tt.input)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if ref.Kind != KindRegistry {
				t.Errorf("Kind = %v, want registry", ref.Kind)
			}
			if ref.Name != tt.wantName {
				t.Errorf("Name = %q, want %q", ref.Name, tt.wantName)
			}
			if ref.Version != tt.wantVersion {
				t.Errorf("Version = %q, want %q", ref.Version, tt.wantVersion)
			}
		})
	}
}

func TestClassify_RepoShorthand(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input      string
		wantOwner  string
		wantRepo   string
		wantSubdir string
		wantRef    string
	}{
		{"acme/tools", "acme", "tools", "", ""},
		{"acme/tools@main", "acme", "tools", "", "main"},
		{"acme/tools@v1.2.0", "acme", "tools", "", "v1.2.0"},
		{"acme/tools/modules/demo", "acme", "tools", "modules/demo", ""},
		{"acme/tools/modules/demo@release/1.2", "acme", "tools", "modules/demo", "release/1.2"},
		{"acme/tools.git", "acme", "tools", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()

			ref, err := Classify(tt.input)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if ref.Kind != KindRepoShorthand {
				t.Errorf("Kind = %v, want repo-shorthand", ref.Kind)
			}
			if ref.Host != "github.com" {
				t.Errorf("Host = %q, want github.com", ref.Host)
			}
			if ref.Owner != tt.wantOwner || ref.Repo != tt.wantRepo {
				t.Errorf("Owner/Repo = %q/%q, want %q/%q", ref.Owner, ref.Repo, tt.wantOwner, tt.wantRepo)
			}
			if ref.Subdir != tt.wantSubdir {
				t.Errorf("Subdir = %q, want %q", ref.Subdir, tt.wantSubdir)
			}
			if ref.GitRef != tt.wantRef {
				t.Errorf("GitRef = %q, want %q", ref.GitRef, tt.wantRef)
			}
		})
	}
}

func TestClassify_RepoURLs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		input      string
		wantHost   string
		wantOwner  string
		wantRepo   string
		wantSubdir string
		wantRef    string
	}{
		{
			name:      "plain https",
			input:     "https://github.com/acme/tools",
			wantHost:  "github.com",
			wantOwner: "acme",
			wantRepo:  "tools",
		},
		{
			name:      "dot git suffix",
			input:     "https://github.com/acme/tools.git",
			wantHost:  "github.com",
			wantOwner: "acme",
			wantRepo:  "tools",
		},
		{
			name:       "tree path carries ref and subdir",
			input:      "https://github.com/acme/tools/tree/main/modules/demo",
			wantHost:   "github.com",
			wantOwner:  "acme",
			wantRepo:   "tools",
			wantSubdir: "modules/demo",
			wantRef:    "main",
		},
		{
			name:      "ssh scheme",
			input:     "ssh://git@github.com/acme/tools.git",
			wantHost:  "github.com",
			wantOwner: "acme",
			wantRepo:  "tools",
		},
		{
			name:      "scp style",
			input:     "git@github.com:acme/tools.git",
			wantHost:  "github.com",
			wantOwner: "acme",
			wantRepo:  "tools",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ref, err := Classify(tt.input)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if ref.Kind != KindRepoURL {
				t.Errorf("Kind = %v, want repo-url", ref.Kind)
			}
			if ref.Host != tt.wantHost {
				t.Errorf("Host = %q, want %q", ref.Host, tt.wantHost)
			}
			if ref.Owner != tt.wantOwner || ref.Repo != tt.wantRepo {
				t.Errorf("Owner/Repo = %q/%q, want %q/%q", ref.Owner, ref.Repo, tt.wantOwner, tt.wantRepo)
			}
			if ref.Subdir != tt.wantSubdir {
				t.Errorf("Subdir = %q, want %q", ref.Subdir, tt.wantSubdir)
			}
			if ref.GitRef != tt.wantRef {
				t.Errorf("GitRef = %q, want %q", ref.GitRef, tt.wantRef)
			}
		})
	}
}

func TestClassify_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"whitespace only", "   "},
		{"uppercase registry name", "Demo"},
		{"leading hyphen", "-demo"},
		{"trailing hyphen", "demo-"},
		{"empty version", "demo@"},
		{"empty ref", "acme/tools@"},
		{"double at", "acme/tools@v1@v2"},
		{"empty repo segment", "acme//tools"},
		{"traversal as shorthand", "../../etc"},
		{"dot segment subdir", "acme/tools/./x"},
		{"parent segment subdir", "acme/tools/../x"},
		{"unsupported scheme", "ftp://github.com/acme/tools"},
		{"url without repo", "https://github.com/acme"},
		{"url without host", "https:///acme/tools"},
		{"scp without path", "git@github.com"},
		{"space inside name", "de mo"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := Classify(tt.input)
			if !errors.Is(err, fault.ErrInvalidReference) {
				t.Errorf("Classify(%q) error = %v, want ErrInvalidReference", tt.input, err)
			}
		})
	}
}

func TestRef_String(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  string
	}{
		{"demo", "demo"},
		{"demo@1.0.0", "demo@1.0.0"},
		{"acme/tools", "acme/tools"},
		{"acme/tools/modules/demo@main", "acme/tools/modules/demo@main"},
		{"https://gitlab.com/acme/tools", "https://gitlab.com/acme/tools"},
		{"git@gitlab.com:acme/tools.git", "https://gitlab.com/acme/tools"},
		{
			"https://github.com/acme/tools/tree/main/modules/demo",
			"https://github.com/acme/tools/tree/main/modules/demo",
		},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()

			ref, err := Classify(tt.input)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := ref.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRef_StringRoundTrip(t *testing.T) {
	t.Parallel()

	// The manifest records ref.String() and update re-classifies it, so the
	// round trip must preserve every field. In particular a URL reference
	// must keep its host: losing it would turn a gitlab.com install into a
	// github.com fetch on the next update.
	inputs := []string{
		"demo",
		"demo@1.0.0",
		"acme/tools",
		"acme/tools/modules/demo@main",
		"https://github.com/acme/tools",
		"https://gitlab.com/acme/tools",
		"https://codeberg.org/acme/tools/tree/v2.1.0/modules/demo",
		"git@gitlab.com:acme/tools.git",
	}

	for _, input := range inputs {
		t.Run(input, func(t *testing.T) {
			t.Parallel()

			ref, err := Classify(input)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			again, err := Classify(ref.String())
			if err != nil {
				t.Fatalf("re-classifying %q: %v", ref.String(), err)
			}
			if again != ref {
				t.Errorf("round trip changed the reference:\n  first:  %+v\n  second: %+v", ref, again)
			}
		})
	}
}

func TestRef_IsRepo(t *testing.T) {
	t.Parallel()

	repo, err := Classify("acme/tools")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	reg, err := Classify("demo")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !repo.IsRepo() {
		t.Error("shorthand reference should report IsRepo")
	}
	if reg.IsRepo() {
		t.Error("registry reference should not report IsRepo")
	}
}
