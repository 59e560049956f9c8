// SPDX-License-Identifier: MPL-2.0

package integrity

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"cogmod-cli/pkg/fault"
)

// SHA256("hello\n"), used across the checksum tests.
const helloChecksum = "sha256:5891b5b522d5df086d0ff0b110fbd9d21bb4fc7163af34d08286a2e846f6be03"

func TestParse_Valid(t *testing.T) {
	t.Parallel()

	c, err := Parse(helloChecksum)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if c.String() != helloChecksum {
		t.Errorf("String() = %q, want %q", c.String(), helloChecksum)
	}
	if c.Hex() != strings.TrimPrefix(helloChecksum, "sha256:") {
		t.Errorf("Hex() = %q, want hex portion of %q", c.Hex(), helloChecksum)
	}
	if c.IsZero() {
		t.Error("IsZero() = true for a parsed checksum")
	}
}

func TestParse_Malformed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"bare hex without prefix", "5891b5b522d5df086d0ff0b110fbd9d21bb4fc7163af34d08286a2e846f6be03"},
		{"wrong algorithm", "sha512:5891b5b522d5df086d0ff0b110fbd9d21bb4fc7163af34d08286a2e846f6be035891b5b522d5df086d0ff0b110fbd9d21bb4fc7163af34d08286a2e846f6be03"},
		{"uppercase hex", "sha256:5891B5B522D5DF086D0FF0B110FBD9D21BB4FC7163AF34D08286A2E846F6BE03"},
		{"hex too short", "sha256:5891b5b5"},
		{"non-hex characters", "sha256:zzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzz"},
		{"trailing garbage", helloChecksum + " "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := Parse(tt.input)
			if !errors.Is(err, ErrMalformedChecksum) {
				t.Errorf("Parse(%q) error = %v, want ErrMalformedChecksum", tt.input, err)
			}
		})
	}
}

func TestSumFile(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		content  []byte
		want     string
		wantSize int64
	}{
		{
			name:     "hello newline",
			content:  []byte("hello\n"),
			want:     helloChecksum,
			wantSize: 6,
		},
		{
			name:     "empty file",
			content:  []byte(""),
			want:     "sha256:e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
			wantSize: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			path := filepath.Join(t.TempDir(), "testfile")
			if err := os.WriteFile(path, tt.content, 0o644); err != nil {
				t.Fatalf("failed to write test file: %v", err)
			}

			got, size, err := SumFile(path)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.String() != tt.want {
				t.Errorf("got checksum %q, want %q", got, tt.want)
			}
			if size != tt.wantSize {
				t.Errorf("got size %d, want %d", size, tt.wantSize)
			}
		})
	}
}

func TestVerifyFile_Match(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "testfile")
	if err := os.WriteFile(path, []byte("hello\n"), 0o644); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}

	expected, err := Parse(helloChecksum)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if err := VerifyFile(path, expected); err != nil {
		t.Errorf("expected nil error for matching checksum, got: %v", err)
	}
}

func TestVerifyFile_Mismatch(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "testfile")
	if err := os.WriteFile(path, []byte("hello\n"), 0o644); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}

	wrong, err := Parse("sha256:0000000000000000000000000000000000000000000000000000000000000000")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	err = VerifyFile(path, wrong)
	if err == nil {
		t.Fatal("expected error for mismatched checksum, got nil")
	}
	if !errors.Is(err, fault.ErrChecksumMismatch) {
		t.Errorf("errors.Is(err, fault.ErrChecksumMismatch) = false; err = %v", err)
	}

	var mismatch *MismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected *MismatchError, got %T", err)
	}
	if !mismatch.Expected.Equal(wrong) {
		t.Errorf("MismatchError.Expected = %q, want %q", mismatch.Expected, wrong)
	}
	if mismatch.Got.String() != helloChecksum {
		t.Errorf("MismatchError.Got = %q, want %q", mismatch.Got, helloChecksum)
	}
}

func TestVerifyFile_FileNotFound(t *testing.T) {
	t.Parallel()

	expected, err := Parse(helloChecksum)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	err = VerifyFile(filepath.Join(t.TempDir(), "nope.tar.gz"), expected)
	if err == nil {
		t.Fatal("expected error for nonexistent file, got nil")
	}
	if errors.Is(err, fault.ErrChecksumMismatch) {
		t.Error("expected non-checksum error for missing file, got checksum mismatch")
	}
}

func TestCopy_VerifiesWhileStreaming(t *testing.T) {
	t.Parallel()

	expected, err := Parse(helloChecksum)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	var dst bytes.Buffer
	n, err := Copy(&dst, strings.NewReader("hello\n"), "payload", expected, 1<<20)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 6 {
		t.Errorf("written = %d, want 6", n)
	}
	if dst.String() != "hello\n" {
		t.Errorf("dst = %q, want %q", dst.String(), "hello\n")
	}
}

func TestCopy_Mismatch(t *testing.T) {
	t.Parallel()

	wrong, err := Parse("sha256:1111111111111111111111111111111111111111111111111111111111111111")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	var dst bytes.Buffer
	_, err = Copy(&dst, strings.NewReader("hello\n"), "payload", wrong, 0)
	if !errors.Is(err, fault.ErrChecksumMismatch) {
		t.Errorf("got error %v, want checksum mismatch", err)
	}
}

func TestCopy_PayloadTooLarge(t *testing.T) {
	t.Parallel()

	var dst bytes.Buffer
	n, err := Copy(&dst, strings.NewReader(strings.Repeat("x", 100)), "payload", Checksum{}, 10)
	if !errors.Is(err, fault.ErrPayloadTooLarge) {
		t.Fatalf("got error %v, want payload too large", err)
	}

	// The copy must stop just past the ceiling rather than draining the stream.
	if n > 11 {
		t.Errorf("written = %d, want at most 11", n)
	}
}

func TestCopy_NoExpectedChecksum(t *testing.T) {
	t.Parallel()

	var dst bytes.Buffer
	if _, err := Copy(&dst, strings.NewReader("anything"), "payload", Checksum{}, 0); err != nil {
		t.Errorf("unexpected error with zero checksum: %v", err)
	}
}
