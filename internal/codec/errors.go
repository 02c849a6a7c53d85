// Package codec implements the dynamic Protobuf codec: schema-driven
// decode with a blind-decode fallback, deterministic encode, and template
// generation, all driven off registry descriptors rather than generated
// Go types.
package codec

import "errors"

// ErrSchemaMissing is returned by Encode when type_name does not resolve
// to a registered message. Decode never returns it — an unresolved type
// name sends decode into blind-decode instead.
var ErrSchemaMissing = errors.New("codec: schema missing for type")

// ErrTypeMismatch is returned by Encode when a value tree leaf cannot be
// coerced to its declared field type.
var ErrTypeMismatch = errors.New("codec: value does not match declared field type")
