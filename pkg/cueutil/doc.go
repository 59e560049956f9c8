// SPDX-License-Identifier: MPL-2.0

// Package cueutil parses schema-constrained CUE documents into Go structs.
//
// A caller embeds its schema, names the definition to validate against, and
// gets back a decoded struct plus the unified CUE value. Diagnostics carry
// the JSON path of the offending field and the file they came from, so a
// config mistake reads as "config.cue: limits.max_files: expected int"
// rather than a raw evaluator trace.
//
// # Usage
//
//	//go:embed config_schema.cue
//	var schemaBytes []byte
//
//	result, err := cueutil.ParseAndDecode[Config](
//	    schemaBytes,
//	    userFileBytes,
//	    "#Config",
//	    cueutil.WithFilename("config.cue"),
//	)
//	if err != nil {
//	    return nil, err
//	}
//	return result.Value, nil
package cueutil
