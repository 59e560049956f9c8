// SPDX-License-Identifier: MPL-2.0

// Package integrity implements content verification for module payloads.
// Checksums use the canonical "sha256:<64 lowercase hex>" form everywhere:
// in registry entries, in provenance records, and in builder output.
package integrity

import (
	"errors"
	"fmt"
	"io"
	"os"

	"cogmod-cli/pkg/fault"

	"github.com/opencontainers/go-digest"
)

// ErrMalformedChecksum indicates a checksum string that does not have the
// canonical sha256 form. A registry entry carrying one is misconfigured;
// this is a different failure than content failing verification.
var ErrMalformedChecksum = errors.New("malformed checksum")

type (
	// Checksum is a validated sha256 content digest. The zero value means
	// "no checksum"; use IsZero to test for it.
	Checksum struct {
		dig digest.Digest
	}

	// MismatchError reports content whose computed digest differs from the
	// expected one. It wraps fault.ErrChecksumMismatch so callers can use
	// errors.Is for classification.
	MismatchError struct {
		Name     string
		Expected Checksum
		Got      Checksum
	}
)

// Error returns a human-readable description of the mismatch, showing both
// digests for debugging.
func (e *MismatchError) Error() string {
	return fmt.Sprintf("checksum verification failed for %s\nExpected: %s\nGot:      %s", e.Name, e.Expected, e.Got)
}

// Unwrap returns fault.ErrChecksumMismatch so callers can use errors.Is.
func (e *MismatchError) Unwrap() error { return fault.ErrChecksumMismatch }

// Parse validates s as a canonical sha256 checksum. Any other algorithm,
// uppercase hex, or wrong length is rejected with ErrMalformedChecksum.
func Parse(s string) (Checksum, error) {
	d, err := digest.Parse(s)
	if err != nil {
		return Checksum{}, fmt.Errorf("%w: %q: %v", ErrMalformedChecksum, s, err)
	}
	if d.Algorithm() != digest.SHA256 {
		return Checksum{}, fmt.Errorf("%w: %q: algorithm must be sha256", ErrMalformedChecksum, s)
	}
	return Checksum{dig: d}, nil
}

// String returns the canonical "sha256:<hex>" form, or "" for the zero value.
func (c Checksum) String() string {
	if c.IsZero() {
		return ""
	}
	return string(c.dig)
}

// Hex returns the 64-character lowercase hex portion without the prefix.
func (c Checksum) Hex() string {
	if c.IsZero() {
		return ""
	}
	return c.dig.Encoded()
}

// IsZero reports whether c carries no checksum.
func (c Checksum) IsZero() bool { return c.dig == "" }

// Equal reports whether two checksums are the same digest.
func (c Checksum) Equal(other Checksum) bool { return c.dig == other.dig }

// SumReader consumes r to EOF, returning the checksum of its contents and
// the number of bytes read. The stream is hashed as it passes through, so
// arbitrarily large inputs use constant memory.
func SumReader(r io.Reader) (Checksum, int64, error) {
	digester := digest.SHA256.Digester()
	n, err := io.Copy(digester.Hash(), r)
	if err != nil {
		return Checksum{}, n, fmt.Errorf("hashing stream: %w", err)
	}
	return Checksum{dig: digester.Digest()}, n, nil
}

// SumFile computes the checksum of the file at path by streaming it through
// the hash function.
func SumFile(path string) (Checksum, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return Checksum{}, 0, err
	}
	defer func() {
		// Read-only file handle; close errors are exotic (NFS edge cases).
		_ = f.Close()
	}()
	return SumReader(f)
}

// VerifyFile re-hashes the file at path and compares it with expected.
// Returns a *MismatchError wrapping fault.ErrChecksumMismatch on difference.
func VerifyFile(path string, expected Checksum) error {
	got, _, err := SumFile(path)
	if err != nil {
		return err
	}
	if !got.Equal(expected) {
		return &MismatchError{Name: path, Expected: expected, Got: got}
	}
	return nil
}

// Copy streams src into dst while hashing every byte exactly once, then
// compares the result with expected. When maxBytes is positive the copy
// aborts as soon as the stream exceeds it, before the remainder is read,
// returning fault.ErrPayloadTooLarge. name labels the payload in errors.
func Copy(dst io.Writer, src io.Reader, name string, expected Checksum, maxBytes int64) (int64, error) {
	reader := src
	if maxBytes > 0 {
		// One byte past the ceiling is enough to detect overflow without
		// draining the rest of an oversized stream.
		reader = io.LimitReader(src, maxBytes+1)
	}

	digester := digest.SHA256.Digester()
	written, err := io.Copy(dst, io.TeeReader(reader, digester.Hash()))
	if err != nil {
		return written, fmt.Errorf("copying %s: %w", name, err)
	}
	if maxBytes > 0 && written > maxBytes {
		return written, &fault.Error{
			Kind:   fault.ErrPayloadTooLarge,
			Op:     "download",
			Path:   name,
			Detail: fmt.Sprintf("exceeds limit of %d bytes", maxBytes),
		}
	}

	got := Checksum{dig: digester.Digest()}
	if !expected.IsZero() && !got.Equal(expected) {
		return written, &MismatchError{Name: name, Expected: expected, Got: got}
	}
	return written, nil
}
