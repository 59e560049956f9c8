// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"io"
	"log/slog"

	"cogmod-cli/internal/issue"
	"cogmod-cli/pkg/fault"
	"cogmod-cli/pkg/types"
)

// ServiceError is an error that carries optional rendering information for
// the CLI layer. When the CLI layer receives a ServiceError, it renders the
// styled error message (if present) before formatting the underlying error.
// Always create via newServiceError to enforce the Err-must-be-non-nil invariant.
type ServiceError struct {
	// Err is the underlying error (must not be nil).
	Err error
	// IssueID is the optional issue catalog ID for rendering help text.
	IssueID issue.Id
	// StyledMessage is the optional pre-rendered styled error text.
	StyledMessage string
}

// newServiceError creates a ServiceError with a nil-Err panic guard.
// All construction sites must use this instead of struct literals.
func newServiceError(err error, issueID issue.Id, styledMessage string) *ServiceError {
	if err == nil {
		panic("ServiceError: Err must not be nil")
	}
	return &ServiceError{
		Err:           err,
		IssueID:       issueID,
		StyledMessage: styledMessage,
	}
}

// Error implements the error interface.
func (e *ServiceError) Error() string { return e.Err.Error() }

// Unwrap returns the underlying error for errors.Is/As chains.
func (e *ServiceError) Unwrap() error { return e.Err }

// renderServiceError renders a ServiceError in the CLI layer.
// It prints any styled message first, then the optional issue help section.
func renderServiceError(stderr io.Writer, svcErr *ServiceError) {
	if svcErr == nil {
		return
	}

	if svcErr.StyledMessage != "" {
		fmt.Fprint(stderr, svcErr.StyledMessage)
	}

	if svcErr.IssueID == 0 {
		return
	}

	if catalogEntry := issue.Get(svcErr.IssueID); catalogEntry != nil {
		rendered, renderErr := catalogEntry.Render("dark")
		if renderErr != nil {
			slog.Warn("failed to render issue catalog entry", "issueID", svcErr.IssueID, "error", renderErr)
		} else {
			fmt.Fprint(stderr, rendered)
		}
	}
}

// issueIDForFault maps a pipeline failure category to its issue catalog page.
// Zero means no page exists for the category.
func issueIDForFault(err error) issue.Id {
	switch fault.Kind(err) {
	case fault.ErrInvalidReference:
		return issue.InvalidReferenceId
	case fault.ErrModuleNotFound:
		return issue.ModuleNotFoundId
	case fault.ErrTimeout:
		return issue.RegistryUnreachableId
	case fault.ErrMalformedIndex:
		return issue.MalformedIndexId
	case fault.ErrMissingChecksum:
		return issue.ChecksumMissingId
	case fault.ErrChecksumMismatch:
		return issue.ChecksumMismatchId
	case fault.ErrUnsafeArchiveEntry, fault.ErrPathTraversal:
		return issue.UnsafeArchiveId
	case fault.ErrPayloadTooLarge, fault.ErrArchiveQuotaExceeded:
		return issue.PayloadTooLargeId
	case fault.ErrAmbiguousArchiveLayout:
		return issue.AmbiguousLayoutId
	case fault.ErrManifestNotFound:
		return issue.ManifestNotFoundId
	default:
		return 0
	}
}

// classifyExitCode maps a pipeline error to the process exit code.
// User-correctable failures (bad reference, unknown module, uninstallable
// entry) use exit code 1; integrity violations and transport failures use
// exit code 2 (unexpected/transient).
func classifyExitCode(err error) types.ExitCode {
	switch fault.Kind(err) {
	case fault.ErrInvalidReference,
		fault.ErrModuleNotFound,
		fault.ErrMissingChecksum,
		fault.ErrManifestNotFound:
		return 1
	case nil:
		// Unclassified errors: I/O failures, config errors, and the like.
		return 1
	default:
		return 2
	}
}

// reportPipelineError renders err on stderr with its issue page (when the
// failure category has one) and converts it into the ExitError the RunE
// handler returns. Commands call this once on their error path.
func reportPipelineError(stderr io.Writer, err error) *ExitError {
	svcErr := newServiceError(err, issueIDForFault(err), errorIcon+" "+err.Error()+"\n")
	renderServiceError(stderr, svcErr)
	return &ExitError{Code: classifyExitCode(err), Err: err}
}
