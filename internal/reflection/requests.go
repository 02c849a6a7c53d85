package reflection

import (
	"fmt"

	"github.com/nyxwire/protolens/internal/codec"
)

// buildRequest encodes one ServerReflectionRequest against the control
// registry. Exactly one of fileByFilename/fileContainingSymbol/listServices
// should be non-empty; host (field 1) is always populated, as the
// reflection protocol requires.
func buildRequest(v protoVersion, host, fileByFilename, fileContainingSymbol, listServices string) ([]byte, error) {
	reg, err := controlRegistry()
	if err != nil {
		return nil, err
	}
	req := codec.NewMessage()
	req.Set("host", &codec.Value{Kind: codec.KindScalar, Scalar: host})
	switch {
	case fileByFilename != "":
		req.Set("file_by_filename", &codec.Value{Kind: codec.KindScalar, Scalar: fileByFilename})
	case fileContainingSymbol != "":
		req.Set("file_containing_symbol", &codec.Value{Kind: codec.KindScalar, Scalar: fileContainingSymbol})
	case listServices != "":
		req.Set("list_services", &codec.Value{Kind: codec.KindScalar, Scalar: listServices})
	default:
		return nil, fmt.Errorf("reflection: request needs exactly one of file_by_filename/file_containing_symbol/list_services")
	}
	return codec.Encode(v.requestType, req, reg)
}

func newListServicesRequest(v protoVersion, host string) ([]byte, error) {
	// The field is a string naming the service group to list; the
	// standard reflection service ignores its value and returns every
	// service, so "*" is sent; buildRequest treats an empty string as an
	// absent field.
	return buildRequest(v, host, "", "", "*")
}

func newFileContainingSymbolRequest(v protoVersion, host, symbol string) ([]byte, error) {
	return buildRequest(v, host, "", symbol, "")
}

func newFileByFilenameRequest(v protoVersion, host, filename string) ([]byte, error) {
	return buildRequest(v, host, filename, "", "")
}
