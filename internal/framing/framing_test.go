package framing

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"testing"
)

func base64EncodeForTest(b []byte) []byte {
	return []byte(base64.StdEncoding.EncodeToString(b))
}

func TestLengthPrefixedDataFrameOnly(t *testing.T) {
	// 00 00 00 00 03 AA BB CC -> one payload [AA BB CC]
	data := []byte{0x00, 0x00, 0x00, 0x00, 0x03, 0xAA, 0xBB, 0xCC}
	res := Process(data, false, Headers{ContentType: "application/grpc+proto"}, DefaultOptions())
	if len(res.Payloads) != 1 {
		t.Fatalf("got %d payloads, want 1", len(res.Payloads))
	}
	if !bytes.Equal(res.Payloads[0], []byte{0xAA, 0xBB, 0xCC}) {
		t.Fatalf("payload = %x", res.Payloads[0])
	}
}

func TestLengthPrefixedTrailerFrameSeparated(t *testing.T) {
	// 00 00 00 00 02 AA BB  81 00 00 00 01 FF -> payload [AA BB], trailer frame preserved
	data := []byte{
		0x00, 0x00, 0x00, 0x00, 0x02, 0xAA, 0xBB,
		0x81, 0x00, 0x00, 0x00, 0x01, 0xFF,
	}
	res := Process(data, false, Headers{ContentType: "application/grpc+proto"}, DefaultOptions())
	if len(res.Payloads) != 1 || !bytes.Equal(res.Payloads[0], []byte{0xAA, 0xBB}) {
		t.Fatalf("payloads = %v", res.Payloads)
	}
}

func TestFrameUnframeRoundTrip(t *testing.T) {
	payloads := [][]byte{
		{0x01, 0x02, 0x03},
		{},
		{0xFF, 0xFE, 0xFD, 0xFC},
	}
	framed := FramePayloads(payloads)
	got := UnframePayloads(framed)
	if len(got) != len(payloads) {
		t.Fatalf("got %d payloads, want %d", len(got), len(payloads))
	}
	for i := range payloads {
		if !bytes.Equal(got[i], payloads[i]) {
			t.Fatalf("payload %d = %x, want %x", i, got[i], payloads[i])
		}
	}
}

func TestNoFramingHeaderEmitsSingleFrame(t *testing.T) {
	data := []byte{0x01, 0x02} // too short to contain a 5-byte header
	res := Process(data, false, Headers{ContentType: "application/grpc+proto"}, DefaultOptions())
	if len(res.Payloads) != 1 || !bytes.Equal(res.Payloads[0], data) {
		t.Fatalf("payloads = %v", res.Payloads)
	}
}

func TestGzipContentEncodingInflated(t *testing.T) {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	gw.Write([]byte("hello"))
	gw.Close()

	res := Process(buf.Bytes(), false, Headers{ContentType: "text/plain", GRPCEncoding: "gzip"}, DefaultOptions())
	if len(res.Payloads) != 1 || string(res.Payloads[0]) != "hello" {
		t.Fatalf("payloads = %v", res.Payloads)
	}
}

func TestGRPCWebTextUnwrap(t *testing.T) {
	raw := []byte{0x00, 0x00, 0x00, 0x00, 0x02, 0xAA, 0xBB}
	encoded := base64EncodeForTest(raw)
	res := Process(encoded, false, Headers{ContentType: "application/grpc-web-text+proto"}, DefaultOptions())
	if len(res.Payloads) != 1 || !bytes.Equal(res.Payloads[0], []byte{0xAA, 0xBB}) {
		t.Fatalf("payloads = %v", res.Payloads)
	}
}

func TestBase64FlagDecoded(t *testing.T) {
	encoded := base64EncodeForTest([]byte{0x00, 0x00, 0x00, 0x00, 0x01, 0x7F})
	res := Process(encoded, true, Headers{ContentType: "application/grpc+proto"}, DefaultOptions())
	if len(res.Payloads) != 1 || !bytes.Equal(res.Payloads[0], []byte{0x7F}) {
		t.Fatalf("payloads = %v", res.Payloads)
	}
}
