package reflection

import (
	"fmt"
	"sync"

	"github.com/nyxwire/protolens/internal/registry"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"

	// Blank-imported so ServerReflection's own generated file registers
	// itself with protoregistry.GlobalFiles; controlFile below re-derives
	// its FileDescriptorProto bytes from that linked-in copy and feeds
	// them through our own descriptor parser and registry, the same way
	// internal/registry/wkt.go treats the well-known types. This lets the
	// coordinator encode/decode ServerReflectionRequest/Response through
	// the engine's own dynamic codec instead of a second hand-rolled
	// Protobuf format.
	_ "google.golang.org/grpc/reflection/grpc_reflection_v1"
	_ "google.golang.org/grpc/reflection/grpc_reflection_v1alpha"
)

// protoVersion names one generation of the ServerReflection service: the
// package qualifying its messages and the FileDescriptorProto path to pull
// from protoregistry.GlobalFiles.
type protoVersion struct {
	servicePath    string // full method path, e.g. "/grpc.reflection.v1.ServerReflection/ServerReflectionInfo"
	descriptorPath string // FileDescriptorProto.name, e.g. "grpc/reflection/v1/reflection.proto"
	requestType    string // fully-qualified ServerReflectionRequest message name
	responseType   string // fully-qualified ServerReflectionResponse message name
}

var (
	versionV1 = protoVersion{
		servicePath:    "/grpc.reflection.v1.ServerReflection/ServerReflectionInfo",
		descriptorPath: "grpc/reflection/v1/reflection.proto",
		requestType:    "grpc.reflection.v1.ServerReflectionRequest",
		responseType:   "grpc.reflection.v1.ServerReflectionResponse",
	}
	versionV1Alpha = protoVersion{
		servicePath:    "/grpc.reflection.v1alpha.ServerReflection/ServerReflectionInfo",
		descriptorPath: "grpc/reflection/v1alpha/reflection.proto",
		requestType:    "grpc.reflection.v1alpha.ServerReflectionRequest",
		responseType:   "grpc.reflection.v1alpha.ServerReflectionResponse",
	}
)

var (
	controlRegOnce sync.Once
	controlReg     *registry.Registry
	controlErr     error
)

// controlRegistry returns the dedicated registry holding both generations
// of ServerReflection's own message schema, built once and reused for
// every reflection round trip in the process.
func controlRegistry() (*registry.Registry, error) {
	controlRegOnce.Do(func() {
		reg := registry.New()
		var files []protoreflect.FileDescriptor
		for _, v := range []protoVersion{versionV1, versionV1Alpha} {
			fd, err := protoregistry.GlobalFiles.FindFileByPath(v.descriptorPath)
			if err != nil {
				controlErr = fmt.Errorf("reflection control schema %s not linked: %w", v.descriptorPath, err)
				return
			}
			files = append(files, fd)
		}
		protos := make([][]byte, 0, len(files))
		for _, fd := range files {
			b, err := proto.Marshal(protodesc.ToFileDescriptorProto(fd))
			if err != nil {
				controlErr = fmt.Errorf("marshal reflection control schema: %w", err)
				return
			}
			protos = append(protos, b)
		}
		if err := reg.RegisterFileDescriptorProtos(protos); err != nil {
			controlErr = fmt.Errorf("register reflection control schema: %w", err)
			return
		}
		controlReg = reg
	})
	return controlReg, controlErr
}
