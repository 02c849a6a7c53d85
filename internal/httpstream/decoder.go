package httpstream

import (
	"compress/flate"
	"compress/gzip"
	"io"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
)

// maxBufferedBody caps how much of one HTTP body ReadAll will buffer.
// The inspector holds whole request/response bodies in memory while
// pairing calls, so a runaway stream must not take the process with it.
const maxBufferedBody = 64 << 20

// decodeContentEncoding wraps body so reads yield the decoded payload.
// Encodings are listed in the order the origin applied them, so the
// unwrap order is the reverse of the header.
func decodeContentEncoding(body io.Reader, header http.Header) io.Reader {
	encodings := splitEncodings(header.Get("Content-Encoding"))
	reader := body
	for i := len(encodings) - 1; i >= 0; i-- {
		switch encodings[i] {
		case "gzip", "x-gzip":
			if gr, err := gzip.NewReader(reader); err == nil {
				reader = gr
			}
		case "deflate":
			reader = flate.NewReader(reader)
		case "br":
			reader = brotli.NewReader(reader)
		}
	}
	return reader
}

// splitEncodings normalizes a Content-Encoding value into lowercase
// tokens, dropping "identity" which means no transformation.
func splitEncodings(value string) []string {
	if value == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(value, ",") {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" && p != "identity" {
			out = append(out, p)
		}
	}
	return out
}

// BodyReader streams one HTTP body with Content-Encoding already
// undone, and carries the two classifications the capture pipeline
// branches on: whether the body is a gRPC-family payload (buffer raw
// for the frame decoder) or an SSE stream (parse events).
type BodyReader struct {
	raw       io.Reader
	decoded   io.Reader
	grpc      bool
	sse       bool
	truncated bool
}

// NewBodyReader wraps body, classifying it from the message headers.
// A nil body yields a nil reader so callers can branch on presence.
func NewBodyReader(body io.Reader, header http.Header) *BodyReader {
	if body == nil {
		return nil
	}
	contentType := header.Get("Content-Type")
	return &BodyReader{
		raw:     body,
		decoded: decodeContentEncoding(body, header),
		grpc:    IsGRPCContentType(contentType),
		sse:     strings.Contains(contentType, "text/event-stream"),
	}
}

// Read streams the decoded body.
func (br *BodyReader) Read(p []byte) (int, error) {
	return br.decoded.Read(p)
}

// IsGRPC reports whether the body's content type belongs to the
// gRPC/gRPC-Web/Connect family.
func (br *BodyReader) IsGRPC() bool { return br.grpc }

// IsSSE reports whether the body is a Server-Sent Events stream.
func (br *BodyReader) IsSSE() bool { return br.sse }

// SSE returns a streaming event parser over the decoded body.
func (br *BodyReader) SSE() *SSEParser {
	return NewSSEParser(br.decoded)
}

// ReadAll buffers the whole decoded body, up to maxBufferedBody bytes.
// When the cap is hit the result is the truncated prefix and Truncated
// reports true; the captured record still carries usable leading frames.
func (br *BodyReader) ReadAll() ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(br.decoded, maxBufferedBody+1))
	if len(data) > maxBufferedBody {
		data = data[:maxBufferedBody]
		br.truncated = true
	}
	return data, err
}

// Truncated reports whether a ReadAll hit the buffering cap.
func (br *BodyReader) Truncated() bool { return br.truncated }

// Close closes the underlying reader chain.
func (br *BodyReader) Close() error {
	if closer, ok := br.decoded.(io.Closer); ok {
		return closer.Close()
	}
	if closer, ok := br.raw.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
