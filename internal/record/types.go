// Package record correlates captured HTTP request/response pairs with
// registered Protobuf schemas and emits structured records.
// It is the core's single entry point for the capture layer:
// Process(record) in, enriched record out.
package record

import (
	"github.com/nyxwire/protolens/internal/codec"
)

// CapturedRecord is the capture layer's handoff to the core: a plain,
// already-captured HTTP exchange. The core never mutates it.
type CapturedRecord struct {
	ID          string
	MethodPath  string // "/pkg.Service/Method"; derived from URL if empty
	URL         string
	StartTimeMs int64
	DurationMs  int64
	HTTPStatus  int

	RequestHeaders  map[string]string // lowercased keys
	ResponseHeaders map[string]string

	RequestRaw            []byte
	RequestBase64Encoded  bool
	ResponseRaw           []byte
	ResponseBase64Encoded bool
}

// EnrichedRecord is the core -> UI collaborator contract: everything in
// CapturedRecord, byte-identical, plus whatever the
// processor was able to decode.
type EnrichedRecord struct {
	CapturedRecord

	GRPCStatus  *int32 // nil if no trailer grpc-status was found
	GRPCMessage string

	RequestDecoded  *codec.Value   // nil if no request payload
	ResponseDecoded []*codec.Value // one entry per response frame (server-streaming support)

	Error string // non-fatal decode/framing problem surfaced to the UI
}

// origin returns scheme://host for rec.URL, the key reflection state and
// re-decode grouping are both keyed on.
func (r CapturedRecord) origin() string {
	return originOf(r.URL)
}
