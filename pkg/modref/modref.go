// SPDX-License-Identifier: MPL-2.0

// Package modref classifies user-supplied module references. Classification
// is total and deterministic: every input string is mapped to exactly one of
// the three reference forms or rejected with fault.ErrInvalidReference.
//
// The recognized forms are:
//
//	name[@version]                 bare registry module name
//	owner/repo[/sub/dir][@ref]     repository shorthand
//	https://github.com/owner/repo  explicit repository URL (also ssh:// and
//	                               scp-style git@github.com:owner/repo)
package modref

import (
	"fmt"
	"net/url"
	"strings"

	"cogmod-cli/pkg/fault"
)

// Kind discriminates the three reference forms.
type Kind int

const (
	// KindRegistry is a bare module name resolved through the registry index.
	KindRegistry Kind = iota
	// KindRepoShorthand is an owner/repo path with optional subdirectory and ref.
	KindRepoShorthand
	// KindRepoURL is an explicit repository URL.
	KindRepoURL
)

// String returns the form name for display and logging.
func (k Kind) String() string {
	switch k {
	case KindRegistry:
		return "registry"
	case KindRepoShorthand:
		return "repo-shorthand"
	case KindRepoURL:
		return "repo-url"
	default:
		return "unknown"
	}
}

// Ref is a classified module reference. Registry references populate Name and
// optionally Version; repository references populate Host, Owner, Repo and
// optionally Subdir and GitRef.
type Ref struct {
	Kind    Kind
	Name    string
	Version string
	Host    string
	Owner   string
	Repo    string
	Subdir  string
	GitRef  string
}

// IsRepo reports whether the reference points at a repository rather than a
// registry entry.
func (r Ref) IsRepo() bool {
	return r.Kind == KindRepoShorthand || r.Kind == KindRepoURL
}

// String returns the canonical display form of the reference. Classify
// accepts every form String produces and the round trip preserves all
// fields, so the install manifest can store the string and reconstruct the
// reference later. URL references keep their host: a module installed from
// gitlab.com must never come back as GitHub shorthand on update.
func (r Ref) String() string {
	switch r.Kind {
	case KindRegistry:
		if r.Version != "" {
			return r.Name + "@" + r.Version
		}
		return r.Name
	case KindRepoURL:
		s := "https://" + r.Host + "/" + r.Owner + "/" + r.Repo
		if r.GitRef != "" {
			s += "/tree/" + r.GitRef
		}
		if r.Subdir != "" {
			s += "/" + r.Subdir
		}
		return s
	default:
		s := r.Owner + "/" + r.Repo
		if r.Subdir != "" {
			s += "/" + r.Subdir
		}
		if r.GitRef != "" {
			s += "@" + r.GitRef
		}
		return s
	}
}

// Classify maps raw to a Ref. Inputs that match none of the recognized forms
// fail with fault.ErrInvalidReference carrying the offending input.
func Classify(raw string) (Ref, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Ref{}, invalid(raw, "empty reference")
	}

	if strings.Contains(trimmed, "://") {
		return classifyURL(raw, trimmed)
	}
	if strings.HasPrefix(trimmed, "git@") {
		return classifySCP(raw, trimmed)
	}
	if strings.Contains(trimmed, "/") {
		return classifyShorthand(raw, trimmed)
	}
	return classifyRegistryName(raw, trimmed)
}

func classifyURL(raw, trimmed string) (Ref, error) {
	u, err := url.Parse(trimmed)
	if err != nil {
		return Ref{}, invalid(raw, "unparseable URL")
	}
	switch u.Scheme {
	case "http", "https", "ssh", "git":
	default:
		return Ref{}, invalid(raw, fmt.Sprintf("unsupported scheme %q", u.Scheme))
	}
	if u.Hostname() == "" {
		return Ref{}, invalid(raw, "URL has no host")
	}

	owner, repo, subdir, err := splitRepoPath(raw, u.Path)
	if err != nil {
		return Ref{}, err
	}
	return Ref{
		Kind:  KindRepoURL,
		Host:  u.Hostname(),
		Owner: owner,
		Repo:  repo,
		// A /tree/<ref>/<sub> URL keeps its remainder as a subdirectory
		// only after the ref segment is peeled off below.
		Subdir: subdir,
		GitRef: "",
	}.withTreeRef(), nil
}

// withTreeRef peels GitHub's /tree/<ref>[/sub] path convention out of Subdir.
func (r Ref) withTreeRef() Ref {
	if r.Subdir == "" {
		return r
	}
	parts := strings.Split(r.Subdir, "/")
	if parts[0] != "tree" || len(parts) < 2 {
		return r
	}
	r.GitRef = parts[1]
	r.Subdir = strings.Join(parts[2:], "/")
	return r
}

func classifySCP(raw, trimmed string) (Ref, error) {
	// scp-style: git@github.com:owner/repo[.git]
	rest := strings.TrimPrefix(trimmed, "git@")
	host, path, ok := strings.Cut(rest, ":")
	if !ok || host == "" || path == "" {
		return Ref{}, invalid(raw, "malformed scp-style git address")
	}
	owner, repo, subdir, err := splitRepoPath(raw, path)
	if err != nil {
		return Ref{}, err
	}
	if subdir != "" {
		return Ref{}, invalid(raw, "scp-style address cannot carry a subdirectory")
	}
	return Ref{Kind: KindRepoURL, Host: host, Owner: owner, Repo: repo}, nil
}

func classifyShorthand(raw, trimmed string) (Ref, error) {
	path, gitRef := splitAtRef(trimmed)
	if strings.Contains(gitRef, "@") {
		return Ref{}, invalid(raw, "more than one @ separator")
	}
	if gitRef == "" && strings.Contains(trimmed, "@") {
		return Ref{}, invalid(raw, "empty ref after @")
	}

	segments := strings.Split(path, "/")
	if len(segments) < 2 {
		return Ref{}, invalid(raw, "shorthand needs owner/repo")
	}
	owner, repo := segments[0], segments[1]
	if !isOwnerName(owner) {
		return Ref{}, invalid(raw, fmt.Sprintf("invalid owner %q", owner))
	}
	if !isRepoName(repo) {
		return Ref{}, invalid(raw, fmt.Sprintf("invalid repository %q", repo))
	}
	subdir := strings.Join(segments[2:], "/")
	if err := checkSubdir(raw, subdir); err != nil {
		return Ref{}, err
	}
	if gitRef != "" && !isGitRef(gitRef) {
		return Ref{}, invalid(raw, fmt.Sprintf("invalid ref %q", gitRef))
	}

	return Ref{
		Kind:   KindRepoShorthand,
		Host:   "github.com",
		Owner:  owner,
		Repo:   strings.TrimSuffix(repo, ".git"),
		Subdir: subdir,
		GitRef: gitRef,
	}, nil
}

func classifyRegistryName(raw, trimmed string) (Ref, error) {
	name, version := splitAtRef(trimmed)
	if version == "" && strings.Contains(trimmed, "@") {
		return Ref{}, invalid(raw, "empty version after @")
	}
	if !IsModuleName(name) {
		return Ref{}, invalid(raw, fmt.Sprintf("invalid module name %q", name))
	}
	if version != "" && !isVersion(version) {
		return Ref{}, invalid(raw, fmt.Sprintf("invalid version %q", version))
	}
	return Ref{Kind: KindRegistry, Name: name, Version: version}, nil
}

// splitRepoPath extracts owner/repo (plus any remaining subdirectory) from a
// URL path, tolerating a trailing .git on the repository segment.
func splitRepoPath(raw, path string) (owner, repo, subdir string, err error) {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	if len(segments) < 2 || segments[0] == "" || segments[1] == "" {
		return "", "", "", invalid(raw, "URL path needs owner/repo")
	}
	owner = segments[0]
	repo = strings.TrimSuffix(segments[1], ".git")
	if !isOwnerName(owner) {
		return "", "", "", invalid(raw, fmt.Sprintf("invalid owner %q", owner))
	}
	if !isRepoName(repo) {
		return "", "", "", invalid(raw, fmt.Sprintf("invalid repository %q", repo))
	}
	subdir = strings.Join(segments[2:], "/")
	if err := checkSubdir(raw, subdir); err != nil {
		return "", "", "", err
	}
	return owner, repo, subdir, nil
}

// splitAtRef cuts s at the first @, returning the part before and after.
func splitAtRef(s string) (string, string) {
	before, after, _ := strings.Cut(s, "@")
	return before, after
}

func checkSubdir(raw, subdir string) error {
	if subdir == "" {
		return nil
	}
	for _, seg := range strings.Split(subdir, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return invalid(raw, fmt.Sprintf("invalid subdirectory %q", subdir))
		}
	}
	return nil
}

func invalid(raw, detail string) error {
	return &fault.Error{Kind: fault.ErrInvalidReference, Op: "classify reference", Path: raw, Detail: detail}
}

// IsModuleName reports whether s is a publishable module name: lowercase
// alphanumerics with interior hyphens.
func IsModuleName(s string) bool {
	if s == "" {
		return false
	}
	for i, c := range s {
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		case c == '-' && i > 0:
		default:
			return false
		}
	}
	return !strings.HasSuffix(s, "-")
}

func isVersion(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '.', c == '-', c == '+':
		default:
			return false
		}
	}
	return true
}

func isOwnerName(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '-':
		default:
			return false
		}
	}
	return true
}

func isRepoName(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '-', c == '_', c == '.':
		default:
			return false
		}
	}
	return true
}

// isGitRef accepts the loose charset of branch and tag names, including the
// slashes in names like release/1.2.
func isGitRef(s string) bool {
	if s == "" || strings.HasPrefix(s, "/") || strings.HasSuffix(s, "/") {
		return false
	}
	if strings.Contains(s, "..") {
		return false
	}
	for _, c := range s {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '-', c == '_', c == '.', c == '/':
		default:
			return false
		}
	}
	return true
}
