package reflection

import (
	"fmt"

	"github.com/nyxwire/protolens/internal/codec"
)

// decodeResponse decodes one ServerReflectionResponse payload against the
// control registry and classifies it into exactly one of three shapes: a
// list of service names, a list of FileDescriptorProto bytes, or a
// server-side error.
func decodeResponse(v protoVersion, payload []byte) (services []string, fileDescriptorProtos [][]byte, rerr *ReflectionError, err error) {
	reg, err := controlRegistry()
	if err != nil {
		return nil, nil, nil, err
	}
	val := codec.Decode(v.responseType, payload, reg, codec.DefaultOptions())
	if e, ok := val.Fields["_error"]; ok {
		return nil, nil, nil, fmt.Errorf("reflection: malformed response: %s", e.ErrorMessage)
	}

	if errResp, ok := val.Fields["error_response"]; ok && errResp.Kind == codec.KindMessage {
		code, _ := scalarInt32(errResp.Fields["error_code"])
		msg, _ := scalarString(errResp.Fields["error_message"])
		return nil, nil, &ReflectionError{Code: code, Message: msg}, nil
	}

	if listResp, ok := val.Fields["list_services_response"]; ok && listResp.Kind == codec.KindMessage {
		if svc, ok := listResp.Fields["service"]; ok && svc.Kind == codec.KindRepeated {
			for _, item := range svc.Items {
				if item.Kind != codec.KindMessage {
					continue
				}
				if name, ok := scalarString(item.Fields["name"]); ok {
					services = append(services, name)
				}
			}
		}
		return services, nil, nil, nil
	}

	if fdResp, ok := val.Fields["file_descriptor_response"]; ok && fdResp.Kind == codec.KindMessage {
		if fdp, ok := fdResp.Fields["file_descriptor_proto"]; ok {
			switch fdp.Kind {
			case codec.KindRepeated:
				for _, item := range fdp.Items {
					if item.Kind == codec.KindBytes {
						fileDescriptorProtos = append(fileDescriptorProtos, item.Bytes)
					}
				}
			case codec.KindBytes:
				fileDescriptorProtos = append(fileDescriptorProtos, fdp.Bytes)
			}
		}
		return nil, fileDescriptorProtos, nil, nil
	}

	return nil, nil, nil, fmt.Errorf("reflection: response carried none of list_services_response/file_descriptor_response/error_response")
}

func scalarString(v *codec.Value) (string, bool) {
	if v == nil || v.Kind != codec.KindScalar {
		return "", false
	}
	s, ok := v.Scalar.(string)
	return s, ok
}

func scalarInt32(v *codec.Value) (int32, bool) {
	if v == nil || v.Kind != codec.KindScalar {
		return 0, false
	}
	switch n := v.Scalar.(type) {
	case int32:
		return n, true
	case uint32:
		return int32(n), true
	default:
		return 0, false
	}
}
