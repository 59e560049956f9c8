// SPDX-License-Identifier: MPL-2.0

package types

import (
	"errors"
	"fmt"
	"strconv"
)

// ErrInvalidExitCode is the sentinel wrapped by InvalidExitCodeError.
var ErrInvalidExitCode = errors.New("invalid exit code")

type (
	// ExitCode is the status the process reports to its caller, constrained
	// to the POSIX 0-255 range. The CLI reserves 0 for success, 1 for
	// user-correctable failures, and 2 for integrity and transport failures,
	// so release automation can branch on the cause of a refused install.
	ExitCode int

	// InvalidExitCodeError reports an ExitCode outside 0-255.
	InvalidExitCodeError struct {
		Value ExitCode
	}
)

// Error implements the error interface.
func (e *InvalidExitCodeError) Error() string {
	return fmt.Sprintf("exit code %d outside the 0-255 range", e.Value)
}

// Unwrap returns ErrInvalidExitCode so errors.Is can classify without
// string matching.
func (e *InvalidExitCodeError) Unwrap() error { return ErrInvalidExitCode }

// Validate rejects codes a POSIX shell would truncate.
func (c ExitCode) Validate() error {
	if c < 0 || c > 255 {
		return &InvalidExitCodeError{Value: c}
	}
	return nil
}

// IsSuccess reports whether the code signals a clean exit.
func (c ExitCode) IsSuccess() bool { return c == 0 }

// String returns the decimal form, as a shell would print it.
func (c ExitCode) String() string { return strconv.Itoa(int(c)) }
