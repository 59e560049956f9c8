// SPDX-License-Identifier: MPL-2.0

package cueutil

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// ParseResult carries both views of a successfully parsed document.
type ParseResult[T any] struct {
	// Value is the decoded Go struct.
	Value *T

	// Unified is the schema-constrained CUE value, kept for callers that
	// need more than the struct, such as reading optional fields the
	// struct does not model.
	Unified cue.Value
}

// ParseAndDecode compiles an embedded schema, unifies the user document
// with the definition at schemaPath (for the config file, "#Config"), and
// decodes the result into T. Validation runs on the unified value, so a
// document that omits fields with schema defaults still decodes, while one
// that contradicts the schema fails with the offending path in the message.
//
// The data is size-checked before the CUE evaluator sees it; the evaluator
// allocates proportionally to input size, and config files have no business
// being megabytes.
func ParseAndDecode[T any](schema, data []byte, schemaPath string, opts ...Option) (*ParseResult[T], error) {
	options := defaultOptions()
	for _, opt := range opts {
		opt(&options)
	}

	// The filename labels every diagnostic; "<input>" marks in-memory data.
	filename := options.filename
	if filename == "" {
		filename = "<input>"
	}

	if err := CheckFileSize(data, options.maxFileSize, filename); err != nil {
		return nil, err
	}

	ctx := cuecontext.New()

	schemaValue := ctx.CompileBytes(schema)
	if schemaValue.Err() != nil {
		// The schema ships inside the binary; failing to compile it is a
		// build defect, not a user mistake.
		return nil, fmt.Errorf("embedded schema does not compile: %w", schemaValue.Err())
	}

	userValue := ctx.CompileBytes(data, cue.Filename(filename))
	if userValue.Err() != nil {
		return nil, FormatError(userValue.Err(), filename)
	}

	schemaRoot := schemaValue.LookupPath(cue.ParsePath(schemaPath))
	if schemaRoot.Err() != nil {
		return nil, fmt.Errorf("embedded schema has no definition %s: %w", schemaPath, schemaRoot.Err())
	}

	unified := schemaRoot.Unify(userValue)

	if options.concrete {
		if err := unified.Validate(cue.Concrete(true)); err != nil {
			return nil, FormatError(err, filename)
		}
	} else {
		if err := unified.Validate(); err != nil {
			return nil, FormatError(err, filename)
		}
	}

	var result T
	if err := unified.Decode(&result); err != nil {
		return nil, FormatError(err, filename)
	}

	return &ParseResult[T]{
		Value:   &result,
		Unified: unified,
	}, nil
}

// ParseAndDecodeString accepts the schema as a string, matching how
// //go:embed exposes single files.
func ParseAndDecodeString[T any](schema string, data []byte, schemaPath string, opts ...Option) (*ParseResult[T], error) {
	return ParseAndDecode[T]([]byte(schema), data, schemaPath, opts...)
}
