package httpstream

import (
	"bytes"
	"compress/gzip"
	"net/http"
	"strings"
	"testing"
)

func gzipped(t *testing.T, data string) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	if _, err := gw.Write([]byte(data)); err != nil {
		t.Fatalf("gzip write: %v", err)
	}
	if err := gw.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	return &buf
}

func TestBodyReaderDecodesGzip(t *testing.T) {
	header := http.Header{}
	header.Set("Content-Encoding", "gzip")
	header.Set("Content-Type", "application/json")

	br := NewBodyReader(gzipped(t, "hello"), header)
	data, err := br.ReadAll()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "hello" {
		t.Fatalf("data = %q", data)
	}
	if br.Truncated() {
		t.Fatal("small body must not report truncation")
	}
}

func TestBodyReaderClassification(t *testing.T) {
	cases := []struct {
		contentType string
		grpc, sse   bool
	}{
		{"application/grpc-web+proto", true, false},
		{"application/grpc-web-text", true, false},
		{"application/connect+proto", true, false},
		{"text/event-stream", false, true},
		{"application/json", false, false},
	}
	for _, tc := range cases {
		header := http.Header{}
		header.Set("Content-Type", tc.contentType)
		br := NewBodyReader(strings.NewReader("x"), header)
		if br.IsGRPC() != tc.grpc || br.IsSSE() != tc.sse {
			t.Errorf("%s: grpc=%v sse=%v, want grpc=%v sse=%v",
				tc.contentType, br.IsGRPC(), br.IsSSE(), tc.grpc, tc.sse)
		}
	}
}

func TestBodyReaderNilBody(t *testing.T) {
	if br := NewBodyReader(nil, http.Header{}); br != nil {
		t.Fatal("nil body must yield a nil reader")
	}
}

func TestSplitEncodings(t *testing.T) {
	got := splitEncodings("GZIP, identity , br")
	want := []string{"gzip", "br"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}
