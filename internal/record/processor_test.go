package record

import (
	"bytes"
	"context"
	"encoding/binary"
	"sync/atomic"
	"testing"

	"github.com/nyxwire/protolens/internal/framing"
	"github.com/nyxwire/protolens/internal/reflection"
	"github.com/nyxwire/protolens/internal/registry"
	"github.com/nyxwire/protolens/internal/testutil"
	"github.com/nyxwire/protolens/internal/wire"
)

const simpleProto = `
syntax = "proto3";
package test;

message Simple {
  int32 id = 1;
  string name = 2;
}

service Svc {
  rpc Get(Simple) returns (Simple);
}
`

// simplePayload is a test.Simple with id=42, name="test".
var simplePayload = []byte{0x08, 0x2A, 0x12, 0x04, 't', 'e', 's', 't'}

func compileSimpleFile(t *testing.T) []byte {
	t.Helper()
	out, err := testutil.CompileSet(map[string]string{"simple.proto": simpleProto}, "simple.proto")
	if err != nil {
		t.Fatalf("compile simple.proto: %v", err)
	}
	return out["simple.proto"]
}

func grpcWebHeaders() map[string]string {
	return map[string]string{"content-type": "application/grpc-web+proto"}
}

// trailerFrame builds one trailer frame (flags bit 7 set) carrying
// HTTP-style header lines.
func trailerFrame(body string) []byte {
	out := make([]byte, 5+len(body))
	out[0] = 0x80
	binary.BigEndian.PutUint32(out[1:5], uint32(len(body)))
	copy(out[5:], body)
	return out
}

func disabledCoordinator(reg *registry.Registry) *reflection.Coordinator {
	return reflection.New(reg, nil, reflection.Options{Enabled: false})
}

func TestProcessDecodesAgainstRegisteredSchema(t *testing.T) {
	reg := registry.New()
	if err := reg.RegisterFileDescriptorProtos([][]byte{compileSimpleFile(t)}); err != nil {
		t.Fatalf("register: %v", err)
	}
	p := NewProcessor(reg, disabledCoordinator(reg), DefaultOptions())

	respRaw := framing.FramePayloads([][]byte{simplePayload})
	respRaw = append(respRaw, trailerFrame("grpc-status: 0\r\ngrpc-message: out%20of%20range")...)

	out := p.Process(context.Background(), CapturedRecord{
		ID:              "r1",
		MethodPath:      "/test.Svc/Get",
		URL:             "https://api.example.com/test.Svc/Get",
		RequestHeaders:  grpcWebHeaders(),
		ResponseHeaders: grpcWebHeaders(),
		RequestRaw:      framing.FramePayloads([][]byte{simplePayload}),
		ResponseRaw:     respRaw,
	})

	if out.RequestDecoded == nil {
		t.Fatal("expected request to decode")
	}
	if out.RequestDecoded.TypeName != "test.Simple" {
		t.Fatalf("request type = %q, want test.Simple", out.RequestDecoded.TypeName)
	}
	if got := out.RequestDecoded.Fields["id"].Scalar; got != int32(42) {
		t.Fatalf("id = %v, want 42", got)
	}
	if got := out.RequestDecoded.Fields["name"].Scalar; got != "test" {
		t.Fatalf("name = %v, want test", got)
	}
	if len(out.ResponseDecoded) != 1 {
		t.Fatalf("len(ResponseDecoded) = %d, want 1", len(out.ResponseDecoded))
	}
	if out.GRPCStatus == nil || *out.GRPCStatus != 0 {
		t.Fatalf("GRPCStatus = %v, want 0", out.GRPCStatus)
	}
	if out.GRPCMessage != "out of range" {
		t.Fatalf("GRPCMessage = %q, want %q", out.GRPCMessage, "out of range")
	}
	if !bytes.Equal(out.ResponseRaw, respRaw) {
		t.Fatal("captured response bytes must be preserved byte-identical")
	}
}

func TestProcessFallsBackToBlindDecode(t *testing.T) {
	reg := registry.New()
	p := NewProcessor(reg, disabledCoordinator(reg), DefaultOptions())

	out := p.Process(context.Background(), CapturedRecord{
		ID:             "r1",
		MethodPath:     "/unknown.Svc/Call",
		URL:            "https://api.example.com/unknown.Svc/Call",
		RequestHeaders: grpcWebHeaders(),
		RequestRaw:     framing.FramePayloads([][]byte{simplePayload}),
	})

	if out.RequestDecoded == nil {
		t.Fatal("expected a blind-decoded request")
	}
	if out.RequestDecoded.TypeName != "" {
		t.Fatalf("blind decode should carry no type name, got %q", out.RequestDecoded.TypeName)
	}
	if _, ok := out.RequestDecoded.Fields["field_1"]; !ok {
		t.Fatal("expected blind decode to produce field_1")
	}
}

func TestProcessDerivesMethodPathFromURL(t *testing.T) {
	reg := registry.New()
	p := NewProcessor(reg, disabledCoordinator(reg), DefaultOptions())

	out := p.Process(context.Background(), CapturedRecord{
		ID:  "r1",
		URL: "https://api.example.com/test.Svc/Get?x=1",
	})
	if out.MethodPath != "/test.Svc/Get" {
		t.Fatalf("MethodPath = %q, want /test.Svc/Get", out.MethodPath)
	}
}

func TestRedecodeAppliesLateSchema(t *testing.T) {
	reg := registry.New()
	p := NewProcessor(reg, disabledCoordinator(reg), DefaultOptions())

	var emitted []*EnrichedRecord
	p.OnRecord(func(rec *EnrichedRecord) { emitted = append(emitted, rec) })

	p.Process(context.Background(), CapturedRecord{
		ID:             "r1",
		MethodPath:     "/test.Svc/Get",
		URL:            "https://api.example.com/test.Svc/Get",
		RequestHeaders: grpcWebHeaders(),
		RequestRaw:     framing.FramePayloads([][]byte{simplePayload}),
	})
	if len(emitted) != 1 || emitted[0].RequestDecoded.TypeName != "" {
		t.Fatal("expected one blind-decoded emission before the schema arrives")
	}

	if err := reg.RegisterFileDescriptorProtos([][]byte{compileSimpleFile(t)}); err != nil {
		t.Fatalf("register: %v", err)
	}
	p.redecodeOrigin("https://api.example.com")

	if len(emitted) != 2 {
		t.Fatalf("emissions = %d, want 2 (original + refreshed)", len(emitted))
	}
	refreshed := emitted[1]
	if refreshed.ID != "r1" {
		t.Fatalf("refreshed ID = %q, identity must be preserved", refreshed.ID)
	}
	if refreshed.RequestDecoded.TypeName != "test.Simple" {
		t.Fatalf("refreshed type = %q, want test.Simple", refreshed.RequestDecoded.TypeName)
	}
	recent := p.Recent(1)
	if len(recent) != 1 || recent[0].RequestDecoded.TypeName != "test.Simple" {
		t.Fatal("cached record should hold the refreshed decode")
	}
}

// reflectorTransport answers ServerReflectionInfo calls for one fixed
// service/file pair by hand-encoding the response messages, so Process's
// Ensure path runs against a working reflection endpoint.
type reflectorTransport struct {
	calls    int32
	service  string
	fileDesc []byte
}

func (f *reflectorTransport) Do(ctx context.Context, url string, body []byte) ([]byte, string, error) {
	atomic.AddInt32(&f.calls, 1)

	listServices, wantFile := parseReflectionRequest(body[5:])

	w := wire.NewWriter()
	if listServices {
		svc := wire.NewWriter()
		svc.WriteTag(1, wire.LengthDelimited)
		svc.WriteLengthDelimited([]byte(f.service))
		list := wire.NewWriter()
		list.WriteTag(1, wire.LengthDelimited)
		list.WriteLengthDelimited(svc.Bytes())
		w.WriteTag(6, wire.LengthDelimited)
		w.WriteLengthDelimited(list.Bytes())
	} else if wantFile {
		files := wire.NewWriter()
		files.WriteTag(1, wire.LengthDelimited)
		files.WriteLengthDelimited(f.fileDesc)
		w.WriteTag(4, wire.LengthDelimited)
		w.WriteLengthDelimited(files.Bytes())
	}

	return framing.FramePayloads([][]byte{w.Bytes()}), "application/grpc-web+proto", nil
}

// parseReflectionRequest walks a ServerReflectionRequest's fields just far
// enough to classify it: list_services (7) vs file_containing_symbol (4) /
// file_by_filename (3).
func parseReflectionRequest(payload []byte) (listServices, wantFile bool) {
	r := wire.NewReader(payload)
	for !r.Done() {
		tag, err := r.ReadTag()
		if err != nil {
			return
		}
		switch tag.WireType {
		case wire.LengthDelimited:
			if _, err := r.ReadLengthDelimited(); err != nil {
				return
			}
			switch tag.FieldNumber {
			case 7:
				listServices = true
			case 3, 4:
				wantFile = true
			}
		case wire.Varint:
			if _, err := r.ReadVarint(); err != nil {
				return
			}
		default:
			return
		}
	}
	return
}

func TestProcessFetchesSchemaViaReflection(t *testing.T) {
	reg := registry.New()
	transport := &reflectorTransport{service: "test.Svc", fileDesc: compileSimpleFile(t)}
	coord := reflection.New(reg, transport, reflection.DefaultOptions())
	p := NewProcessor(reg, coord, DefaultOptions())

	out := p.Process(context.Background(), CapturedRecord{
		ID:             "r1",
		MethodPath:     "/test.Svc/Get",
		URL:            "https://api.example.com/test.Svc/Get",
		RequestHeaders: grpcWebHeaders(),
		RequestRaw:     framing.FramePayloads([][]byte{simplePayload}),
	})

	if atomic.LoadInt32(&transport.calls) == 0 {
		t.Fatal("expected reflection round trips for an unknown method")
	}
	if !reg.HasMethod("/test.Svc/Get") {
		t.Fatal("expected the fetched schema to resolve /test.Svc/Get")
	}
	if out.RequestDecoded == nil || out.RequestDecoded.TypeName != "test.Simple" {
		t.Fatal("expected the request to decode against the fetched schema")
	}
	if st, _ := coord.State("https://api.example.com"); st != reflection.StateReady {
		t.Fatalf("state = %s, want ready", st)
	}
}
