package reflection

import (
	"errors"
	"fmt"
)

// ErrTransport marks an HTTP-level failure contacting a reflection
// endpoint.
var ErrTransport = errors.New("reflection: transport failure")

// ReflectionError wraps a ServerReflection error_response.
type ReflectionError struct {
	Code    int32
	Message string
}

func (e *ReflectionError) Error() string {
	return fmt.Sprintf("reflection: server error %d: %s", e.Code, e.Message)
}
