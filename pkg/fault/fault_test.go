// SPDX-License-Identifier: MPL-2.0

package fault

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestError_Is(t *testing.T) {
	t.Parallel()

	err := &Error{Kind: ErrPathTraversal, Op: "extract", Path: "../etc/passwd"}

	if !errors.Is(err, ErrPathTraversal) {
		t.Error("errors.Is should match the error's own category")
	}
	if errors.Is(err, ErrChecksumMismatch) {
		t.Error("errors.Is should not match a different category")
	}
}

func TestError_IsThroughWrapping(t *testing.T) {
	t.Parallel()

	inner := &Error{Kind: ErrArchiveQuotaExceeded, Op: "extract", Detail: "too many files"}
	outer := fmt.Errorf("installing demo: %w", inner)

	if !errors.Is(outer, ErrArchiveQuotaExceeded) {
		t.Error("category should be visible through fmt.Errorf wrapping")
	}

	var fe *Error
	if !errors.As(outer, &fe) {
		t.Fatal("errors.As should recover the *Error")
	}
	if fe.Kind != ErrArchiveQuotaExceeded {
		t.Errorf("Kind = %v, want ErrArchiveQuotaExceeded", fe.Kind)
	}
}

func TestError_UnwrapCause(t *testing.T) {
	t.Parallel()

	cause := errors.New("connection refused")
	err := Wrap(ErrTimeout, "fetch index", cause)

	if !errors.Is(err, ErrTimeout) {
		t.Error("category should match")
	}
	if !errors.Is(err, cause) {
		t.Error("underlying cause should remain reachable via errors.Is")
	}
}

func TestError_Message(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  *Error
		want []string
	}{
		{
			name: "kind only",
			err:  &Error{Kind: ErrMissingChecksum},
			want: []string{"distribution checksum missing"},
		},
		{
			name: "op and path",
			err:  &Error{Kind: ErrPathTraversal, Op: "extract", Path: "../../x"},
			want: []string{"extract:", "archive path traversal", "../../x"},
		},
		{
			name: "detail and cause",
			err: &Error{
				Kind:   ErrMalformedIndex,
				Op:     "fetch index",
				Detail: "top-level modules key absent",
				Err:    errors.New("unexpected end of JSON input"),
			},
			want: []string{"malformed registry index", "modules key absent", "end of JSON input"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			msg := tt.err.Error()
			for _, want := range tt.want {
				if !strings.Contains(msg, want) {
					t.Errorf("Error() = %q, want it to contain %q", msg, want)
				}
			}
		})
	}
}

func TestKind(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"typed error", &Error{Kind: ErrModuleNotFound, Op: "lookup"}, ErrModuleNotFound},
		{"wrapped typed error", fmt.Errorf("x: %w", New(ErrTimeout, "fetch")), ErrTimeout},
		{"bare sentinel", ErrPayloadTooLarge, ErrPayloadTooLarge},
		{"wrapped sentinel", fmt.Errorf("y: %w", ErrInvalidReference), ErrInvalidReference},
		{"unclassified", errors.New("plain"), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := Kind(tt.err); got != tt.want {
				t.Errorf("Kind() = %v, want %v", got, tt.want)
			}
		})
	}
}
