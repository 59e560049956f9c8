// SPDX-License-Identifier: MPL-2.0

package installer

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/storage/memory"

	"cogmod-cli/pkg/fault"
	"cogmod-cli/pkg/modref"
)

type (
	// RefResolver answers "what commit does this ref point at" by listing
	// remote references in memory, without cloning. Module bytes themselves
	// arrive as archives through the extractor, never as working trees.
	RefResolver struct {
		auth transport.AuthMethod
	}

	// Resolution is a repository ref pinned to a commit.
	Resolution struct {
		// Ref is the branch or tag name the archive is fetched at.
		Ref string
		// Commit is the SHA the ref pointed at, when the remote disclosed
		// one. Empty for refs given directly as commit SHAs.
		Commit string
	}
)

// NewRefResolver creates a resolver with token authentication picked up
// from the environment when set. Remotes are always addressed over HTTPS,
// so an SSH auth method would be rejected by the transport.
func NewRefResolver() *RefResolver {
	return &RefResolver{auth: tokenAuth()}
}

// Resolve pins ref to a commit on the remote. An empty ref resolves the
// remote's default branch. A 40-hex ref is accepted as a commit SHA without
// a remote round trip.
func (r *RefResolver) Resolve(ctx context.Context, remoteURL, ref string) (Resolution, error) {
	if isCommitSHA(ref) {
		return Resolution{Ref: ref, Commit: ref}, nil
	}

	remote := git.NewRemote(memory.NewStorage(), &config.RemoteConfig{
		Name: "origin",
		URLs: []string{remoteURL},
	})
	refs, err := remote.ListContext(ctx, &git.ListOptions{Auth: r.auth})
	if err != nil {
		return Resolution{}, fmt.Errorf("failed to list refs of %s: %w", remoteURL, err)
	}

	if ref == "" {
		return defaultBranch(remoteURL, refs)
	}
	return findRef(remoteURL, refs, ref)
}

// defaultBranch follows the remote HEAD symref, falling back to the bare
// HEAD hash when the remote does not disclose a target.
func defaultBranch(remoteURL string, refs []*plumbing.Reference) (Resolution, error) {
	var headHash string
	for _, ref := range refs {
		if ref.Name() != plumbing.HEAD {
			continue
		}
		if ref.Type() == plumbing.SymbolicReference {
			branch := ref.Target().Short()
			for _, candidate := range refs {
				if candidate.Name() == ref.Target() {
					return Resolution{Ref: branch, Commit: candidate.Hash().String()}, nil
				}
			}
			return Resolution{Ref: branch}, nil
		}
		headHash = ref.Hash().String()
	}
	if headHash != "" {
		return Resolution{Ref: headHash, Commit: headHash}, nil
	}
	return Resolution{}, &fault.Error{
		Kind:   fault.ErrModuleNotFound,
		Op:     "resolve default branch",
		Path:   remoteURL,
		Detail: "remote has no HEAD",
	}
}

// findRef matches ref against remote tags and branches, tolerating the
// customary v prefix difference on tags.
func findRef(remoteURL string, refs []*plumbing.Reference, ref string) (Resolution, error) {
	names := []plumbing.ReferenceName{
		plumbing.NewTagReferenceName(ref),
		plumbing.NewBranchReferenceName(ref),
	}
	if noV, found := strings.CutPrefix(ref, "v"); found {
		names = append(names, plumbing.NewTagReferenceName(noV))
	} else {
		names = append(names, plumbing.NewTagReferenceName("v"+ref))
	}

	for _, name := range names {
		for _, candidate := range refs {
			if candidate.Name() == name {
				return Resolution{Ref: candidate.Name().Short(), Commit: candidate.Hash().String()}, nil
			}
		}
	}
	return Resolution{}, &fault.Error{
		Kind:   fault.ErrModuleNotFound,
		Op:     "resolve ref",
		Path:   remoteURL,
		Detail: fmt.Sprintf("ref %q not found on remote", ref),
	}
}

func isCommitSHA(s string) bool {
	if len(s) != 40 {
		return false
	}
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f':
		default:
			return false
		}
	}
	return true
}

// remoteURL builds the HTTPS remote for a classified repository reference.
func remoteURL(ref modref.Ref) string {
	return fmt.Sprintf("https://%s/%s/%s.git", ref.Host, ref.Owner, ref.Repo)
}

// archiveURL builds the tarball endpoint for a repository at a resolved
// ref. GitHub serves archives from codeload; other forges use the generic
// /archive/ layout.
func archiveURL(ref modref.Ref, resolvedRef string) string {
	if ref.Host == "github.com" {
		return fmt.Sprintf("https://codeload.github.com/%s/%s/tar.gz/%s", ref.Owner, ref.Repo, resolvedRef)
	}
	return fmt.Sprintf("https://%s/%s/%s/archive/%s.tar.gz", ref.Host, ref.Owner, ref.Repo, resolvedRef)
}

// tokenAuth picks up a forge token from the environment, returning nil when
// none is set. Anonymous access works for public repositories.
func tokenAuth() transport.AuthMethod {
	if token := os.Getenv("GITHUB_TOKEN"); token != "" {
		return &githttp.BasicAuth{Username: "x-access-token", Password: token}
	}
	if token := os.Getenv("GIT_TOKEN"); token != "" {
		return &githttp.BasicAuth{Username: "git", Password: token}
	}
	return nil
}
