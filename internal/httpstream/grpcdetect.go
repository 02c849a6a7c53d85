package httpstream

import "strings"

// ContentTypeInfo describes which gRPC-family wire convention a
// Content-Type header names, so the parser knows whether a body carries
// length-prefixed frames at all.
type ContentTypeInfo struct {
	IsGRPC               bool // application/grpc*
	IsConnectProto       bool // application/proto, unary, unframed
	IsConnectStreamProto bool // application/connect+proto, streaming, framed
	IsConnectJSON        bool // application/json, Connect's JSON transcoding
}

// ParseContentType analyzes a Content-Type header for the gRPC/Connect
// families the core's framing pipeline knows how to unwrap.
func ParseContentType(contentType string) ContentTypeInfo {
	ct := strings.ToLower(contentType)
	return ContentTypeInfo{
		IsGRPC:               strings.HasPrefix(ct, "application/grpc"),
		IsConnectProto:       ct == "application/proto" || strings.HasPrefix(ct, "application/proto;"),
		IsConnectStreamProto: strings.HasPrefix(ct, "application/connect+proto"),
		IsConnectJSON:        ct == "application/json" || strings.HasPrefix(ct, "application/json;"),
	}
}

// IsGRPCContentType reports whether contentType is any wire convention
// the capture path should route to the core's decoder instead of
// treating as an opaque body.
func IsGRPCContentType(contentType string) bool {
	info := ParseContentType(contentType)
	return info.IsGRPC || info.IsConnectProto || info.IsConnectStreamProto
}

// HasEnvelopeFraming reports whether a body uses 5-byte length-prefixed
// framing, as opposed to one bare unframed message.
func (c ContentTypeInfo) HasEnvelopeFraming() bool {
	return c.IsGRPC || c.IsConnectStreamProto
}

// ParseMethodFromURL extracts "pkg.Service", "Method", and the full
// "/pkg.Service/Method" path from a captured request URL.
func ParseMethodFromURL(url string) (service, method, fullMethod string) {
	fullMethod = url
	path := strings.TrimPrefix(url, "/")
	idx := strings.LastIndex(path, "/")
	if idx == -1 {
		return "", "", fullMethod
	}
	service = path[:idx]
	method = path[idx+1:]
	return service, method, fullMethod
}
