// SPDX-License-Identifier: MPL-2.0

// Package fault defines the classified failure categories shared by the
// module install pipeline. Every error crossing a package boundary is either
// one of the sentinel categories below or a *Error wrapping one, so callers
// can branch with errors.Is without string matching.
package fault

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidReference indicates a module reference that matches no
	// recognized form (registry name, repo shorthand, or repo URL).
	ErrInvalidReference = errors.New("invalid module reference")

	// ErrModuleNotFound indicates a module absent from the registry index,
	// the remote repository, or the local installation.
	ErrModuleNotFound = errors.New("module not found")

	// ErrTimeout indicates a network operation that exceeded its deadline.
	ErrTimeout = errors.New("operation timed out")

	// ErrPayloadTooLarge indicates a download that exceeded the configured
	// byte ceiling, whether declared up front or discovered mid-stream.
	ErrPayloadTooLarge = errors.New("payload too large")

	// ErrMalformedIndex indicates a registry index that is not valid JSON or
	// lacks the required structure.
	ErrMalformedIndex = errors.New("malformed registry index")

	// ErrMissingChecksum indicates a registry entry that offers a tarball
	// without a checksum; such entries are never installable.
	ErrMissingChecksum = errors.New("distribution checksum missing")

	// ErrChecksumMismatch indicates downloaded content whose digest does not
	// match the expected checksum.
	ErrChecksumMismatch = errors.New("checksum mismatch")

	// ErrUnsafeArchiveEntry indicates an archive member of a forbidden type
	// (symlink, hard link, device node, or other non-file entry).
	ErrUnsafeArchiveEntry = errors.New("unsafe archive entry")

	// ErrPathTraversal indicates an archive member whose name would escape
	// the extraction root.
	ErrPathTraversal = errors.New("archive path traversal")

	// ErrArchiveQuotaExceeded indicates an archive that exceeded an
	// extraction quota (file count, entry size, total size, or stream size).
	ErrArchiveQuotaExceeded = errors.New("archive quota exceeded")

	// ErrAmbiguousArchiveLayout indicates an extracted archive without the
	// single top-level directory a module tarball must have.
	ErrAmbiguousArchiveLayout = errors.New("ambiguous archive layout")

	// ErrManifestNotFound indicates an operation on a module that has no
	// entry in the install manifest.
	ErrManifestNotFound = errors.New("module not present in install manifest")
)

// Error attaches context to one of the sentinel categories. Kind is always
// one of the package sentinels; Path names the entry, file, or URL involved
// when there is one. errors.Is(err, fault.ErrX) matches through both the
// Kind and any wrapped cause.
type Error struct {
	Kind   error
	Op     string
	Path   string
	Detail string
	Err    error
}

// Error returns the category message followed by whatever context is set.
func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Path != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Path)
	}
	if e.Detail != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Detail)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is this error's category, letting errors.Is
// classify without unwrapping into the cause chain.
func (e *Error) Is(target error) bool { return e.Kind == target }

// New builds a classified error with operation context.
func New(kind error, op string) *Error {
	return &Error{Kind: kind, Op: op}
}

// Wrap builds a classified error around an underlying cause.
func Wrap(kind error, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Kind extracts the sentinel category from err, or nil if err carries none.
func Kind(err error) error {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	for _, kind := range []error{
		ErrInvalidReference, ErrModuleNotFound, ErrTimeout, ErrPayloadTooLarge,
		ErrMalformedIndex, ErrMissingChecksum, ErrChecksumMismatch,
		ErrUnsafeArchiveEntry, ErrPathTraversal, ErrArchiveQuotaExceeded,
		ErrAmbiguousArchiveLayout, ErrManifestNotFound,
	} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
