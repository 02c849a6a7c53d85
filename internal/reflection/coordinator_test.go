package reflection

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/nyxwire/protolens/internal/codec"
	"github.com/nyxwire/protolens/internal/registry"
	"github.com/nyxwire/protolens/internal/testutil"
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

// fakeTransport answers ServerReflectionInfo calls for a single fixed
// service/file pair, entirely in-process: it decodes the request against
// the real control schema, and encodes a real ServerReflectionResponse
// back, so the coordinator and codec are exercised the same way they
// would be against a real server.
type fakeTransport struct {
	calls    int32
	fileName string
	fileDesc []byte
	service  string
	fail     bool
}

func (f *fakeTransport) Do(ctx context.Context, url string, body []byte) ([]byte, string, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.fail {
		return nil, "", ErrTransport
	}

	reg, err := controlRegistry()
	if err != nil {
		return nil, "", err
	}
	payload := body[5:] // strip the 5-byte gRPC frame header
	reqVal := codec.Decode(versionV1.requestType, payload, reg, codec.DefaultOptions())

	resp := codec.NewMessage()
	switch {
	case has(reqVal, "list_services"):
		listResp := codec.NewMessage()
		svcList := &codec.Value{Kind: codec.KindRepeated}
		entry := codec.NewMessage()
		entry.Set("name", &codec.Value{Kind: codec.KindScalar, Scalar: f.service})
		svcList.Items = append(svcList.Items, entry)
		listResp.Set("service", svcList)
		resp.Set("list_services_response", listResp)
	case has(reqVal, "file_containing_symbol"), has(reqVal, "file_by_filename"):
		fdResp := codec.NewMessage()
		files := &codec.Value{Kind: codec.KindRepeated}
		files.Items = append(files.Items, &codec.Value{Kind: codec.KindBytes, Bytes: f.fileDesc})
		fdResp.Set("file_descriptor_proto", files)
		resp.Set("file_descriptor_response", fdResp)
	}

	out, err := codec.Encode(versionV1.responseType, resp, reg)
	if err != nil {
		return nil, "", err
	}
	return frameGRPCWeb(out), "application/grpc-web+proto", nil
}

func has(v *codec.Value, field string) bool {
	_, ok := v.Fields[field]
	return ok
}

func compileSimpleFile(t *testing.T) []byte {
	t.Helper()
	out, err := testutil.CompileSet(map[string]string{"simple.proto": simpleProto}, "simple.proto")
	if err != nil {
		t.Fatalf("compile simple.proto: %v", err)
	}
	return out["simple.proto"]
}

func TestCoordinatorEnsureRegistersDescriptors(t *testing.T) {
	fd := compileSimpleFile(t)
	transport := &fakeTransport{fileName: "simple.proto", fileDesc: fd, service: "test.Svc"}
	reg := registry.New()
	c := New(reg, transport, DefaultOptions())

	if err := c.Ensure(context.Background(), "https://example.com", "/test.Svc/Get"); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if reg.FindMessage("test.Simple") == nil {
		t.Fatal("expected test.Simple to be registered after reflection")
	}
	if !reg.HasMethod("/test.Svc/Get") {
		t.Fatal("expected /test.Svc/Get to resolve after reflection")
	}
	if st, _ := c.State("https://example.com"); st != StateReady {
		t.Fatalf("state = %s, want ready", st)
	}
}

func TestCoordinatorShortCircuitsKnownMethod(t *testing.T) {
	fd := compileSimpleFile(t)
	reg := registry.New()
	if err := registerRaw(reg, fd); err != nil {
		t.Fatalf("pre-register: %v", err)
	}
	transport := &fakeTransport{fileName: "simple.proto", fileDesc: fd, service: "test.Svc"}
	c := New(reg, transport, DefaultOptions())

	if err := c.Ensure(context.Background(), "https://example.com", "/test.Svc/Get"); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if atomic.LoadInt32(&transport.calls) != 0 {
		t.Fatalf("expected no reflection calls when method already resolves, got %d", transport.calls)
	}
}

func TestCoordinatorCoalescesConcurrentCallers(t *testing.T) {
	fd := compileSimpleFile(t)
	transport := &fakeTransport{
		fileName: "simple.proto",
		fileDesc: fd,
		service:  "test.Svc",
	}
	reg := registry.New()
	c := New(reg, transport, DefaultOptions())

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = c.Ensure(context.Background(), "https://example.com", "/test.Svc/Get")
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("caller %d: Ensure: %v", i, err)
		}
	}
	// ListServices + one FileContainingSymbol call: exactly two transport
	// round trips total, regardless of how many goroutines called Ensure.
	if got := atomic.LoadInt32(&transport.calls); got != 2 {
		t.Fatalf("transport.calls = %d, want 2 (coalesced single fetch)", got)
	}
	if reg.FindMessage("test.Simple") == nil {
		t.Fatal("expected test.Simple to be registered")
	}
}

func TestCoordinatorFailureIsTerminal(t *testing.T) {
	transport := &fakeTransport{fail: true}
	reg := registry.New()
	c := New(reg, transport, DefaultOptions())

	if err := c.Ensure(context.Background(), "https://example.com", "/test.Svc/Get"); err == nil {
		t.Fatal("expected first Ensure to fail")
	}
	first := atomic.LoadInt32(&transport.calls)

	if err := c.Ensure(context.Background(), "https://example.com", "/test.Svc/Get"); err == nil {
		t.Fatal("expected second Ensure to also fail (terminal failure)")
	}
	if got := atomic.LoadInt32(&transport.calls); got != first {
		t.Fatalf("second Ensure issued more transport calls (%d -> %d); failure should be terminal, no retry", first, got)
	}
	if st, _ := c.State("https://example.com"); st != StateFailed {
		t.Fatalf("state = %s, want failed", st)
	}
}

func registerRaw(reg *registry.Registry, fd []byte) error {
	return reg.RegisterFileDescriptorProtos([][]byte{fd})
}
