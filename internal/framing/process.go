package framing

import (
	"encoding/base64"
	"strings"
)

// Headers carries the handful of header values the framing pipeline
// inspects to decide which stages apply. Keys are assumed already
// lowercased by the capture collaborator.
type Headers struct {
	ContentType            string
	GRPCEncoding           string // grpc-encoding
	ConnectContentEncoding string // connect-content-encoding
}

// Result is the framing pipeline's output: one payload per unary call,
// several for server-streaming, plus any trailer metadata found.
type Result struct {
	Payloads [][]byte
	Trailer  map[string]string
	Warnings []string
}

// Process runs the full unwrap pipeline over raw, applying each stage
// only when its header precondition holds.
func Process(raw []byte, base64Flag bool, headers Headers, opts Options) *Result {
	res := &Result{}
	data := normalizeToBytes(raw, base64Flag, res)

	ct := strings.ToLower(headers.ContentType)
	if strings.Contains(ct, "grpc-web-text") {
		data = unwrapGRPCWebText(data)
	}

	if strings.EqualFold(headers.GRPCEncoding, "gzip") || strings.EqualFold(headers.ConnectContentEncoding, "gzip") {
		inflated, ok := inflateGzip(data, opts.maxOutputBytes())
		if ok {
			data = inflated
		} else {
			res.Warnings = append(res.Warnings, ErrDecompression.Error())
		}
	}

	if strings.Contains(ct, "grpc") || strings.Contains(ct, "connect") {
		frames, warnings := parseLengthPrefixed(data, opts)
		res.Warnings = append(res.Warnings, warnings...)
		for _, f := range frames {
			if f.Trailer {
				res.Trailer = parseTrailerHeaders(f.Data)
				continue
			}
			res.Payloads = append(res.Payloads, f.Data)
		}
		return res
	}

	res.Payloads = [][]byte{data}
	return res
}

func normalizeToBytes(raw []byte, base64Flag bool, res *Result) []byte {
	if !base64Flag {
		return raw
	}
	decoded, err := base64.StdEncoding.DecodeString(string(raw))
	if err != nil {
		res.Warnings = append(res.Warnings, "framing: base64 decode failed, treating payload as raw bytes")
		return raw
	}
	return decoded
}
