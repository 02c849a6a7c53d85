// Package framing unwraps a captured gRPC-Web/Connect-RPC payload into
// one or more raw Protobuf message byte slices plus any trailer metadata.
// Each stage is independently skippable and never aborts
// the pipeline: a failed stage leaves the buffer unchanged and records a
// warning instead.
package framing

import "errors"

// ErrDecompression is recorded as a warning (never returned to a caller)
// when gzip inflation fails or exceeds its output budget.
var ErrDecompression = errors.New("framing: decompression failed")

// ErrFraming is recorded as a warning when a length-prefixed frame header
// is malformed or runs past the end of the buffer.
var ErrFraming = errors.New("framing: malformed frame header")
