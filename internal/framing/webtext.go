package framing

import (
	"encoding/base64"
	"strings"
)

// unwrapGRPCWebText reconstructs binary bytes from a grpc-web-text
// body, whose frames arrive double-base64'd;
// this is the heuristic that decides whether the buffer is already binary
// (some implementations send raw binary despite the -text content type)
// or needs base64 reconstruction.
func unwrapGRPCWebText(data []byte) []byte {
	if looksAlreadyBinary(data) {
		return data
	}
	stripped := stripNonBase64(data)
	padded := padBase64(stripped)
	decoded, err := base64.StdEncoding.DecodeString(string(padded))
	if err != nil {
		return data // leave unchanged on failure
	}
	return decoded
}

// looksAlreadyBinary reports whether the buffer is binary already:
// at least 10% non-printable bytes in the first 64, or a leading
// 0x00/0x01 (a plausible gRPC framing flag byte).
func looksAlreadyBinary(data []byte) bool {
	if len(data) == 0 {
		return false
	}
	if data[0] == 0x00 || data[0] == 0x01 {
		return true
	}
	window := data
	if len(window) > 64 {
		window = window[:64]
	}
	nonPrintable := 0
	for _, b := range window {
		if b < 0x20 && b != '\t' && b != '\n' && b != '\r' {
			nonPrintable++
		} else if b >= 0x7f {
			nonPrintable++
		}
	}
	return float64(nonPrintable)/float64(len(window)) >= 0.10
}

func stripNonBase64(data []byte) []byte {
	out := make([]byte, 0, len(data))
	for _, b := range data {
		if isBase64Alphabet(b) {
			out = append(out, b)
		}
	}
	return out
}

func isBase64Alphabet(b byte) bool {
	switch {
	case b >= 'A' && b <= 'Z', b >= 'a' && b <= 'z', b >= '0' && b <= '9':
		return true
	case b == '+' || b == '/' || b == '=':
		return true
	}
	return false
}

func padBase64(data []byte) []byte {
	trimmed := strings.TrimRight(string(data), "=")
	if rem := len(trimmed) % 4; rem != 0 {
		trimmed += strings.Repeat("=", 4-rem)
	}
	return []byte(trimmed)
}
