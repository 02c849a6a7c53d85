package reflection

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Transport is the single-shot HTTP round trip a reflection fetch needs:
// one gRPC-Web-framed request body in, one response body (plus its
// content type, for framing.Process to unwrap) out. The coordinator never
// holds a streaming grpc.ClientConn open; one round trip per request is
// all the reflection exchange needs.
type Transport interface {
	Do(ctx context.Context, url string, body []byte) (respBody []byte, contentType string, err error)
}

// HTTPTransport is the default Transport, a thin wrapper over net/http.
type HTTPTransport struct {
	Client *http.Client
}

func (t *HTTPTransport) client() *http.Client {
	if t.Client != nil {
		return t.Client
	}
	return http.DefaultClient
}

func (t *HTTPTransport) Do(ctx context.Context, url string, body []byte) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrTransport, err)
	}
	req.Header.Set("Content-Type", "application/grpc-web+proto")
	req.Header.Set("X-Grpc-Web", "1")
	req.Header.Set("X-User-Agent", "protolens-reflection/1.0")

	resp, err := t.client().Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("%w: reading body: %v", ErrTransport, err)
	}
	if resp.StatusCode >= 400 {
		return nil, "", fmt.Errorf("%w: http status %d", ErrTransport, resp.StatusCode)
	}
	return data, resp.Header.Get("Content-Type"), nil
}

// frameGRPCWeb wraps one Protobuf payload in a single uncompressed gRPC
// data frame: [flags:u8][length:u32 big-endian][payload].
func frameGRPCWeb(payload []byte) []byte {
	out := make([]byte, 5+len(payload))
	out[0] = 0
	binary.BigEndian.PutUint32(out[1:5], uint32(len(payload)))
	copy(out[5:], payload)
	return out
}

// defaultTimeout bounds one origin's reflection exchange end to end.
const defaultTimeout = 10 * time.Second
