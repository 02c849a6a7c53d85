package framing

import (
	"encoding/binary"
	"strings"
)

const frameHeaderLen = 5

// trailerFlag and compressedFlag are the two meaningful bits of a
// frame's flags byte; the rest are reserved.
const (
	compressedFlag byte = 0x01
	trailerFlag    byte = 0x80
)

// ParsedFrame is one length-prefixed frame.
type ParsedFrame struct {
	Data       []byte
	Compressed bool
	Trailer    bool
}

// parseLengthPrefixed repeatedly parses 5-byte headers
// [flags:u8][length:u32 big-endian] followed by length bytes. Compressed
// data frames are inflated individually. A header running past the end of
// the buffer stops parsing and keeps the frames parsed so far; no
// discoverable header at all emits the whole buffer as one frame.
func parseLengthPrefixed(data []byte, opts Options) ([]ParsedFrame, []string) {
	var frames []ParsedFrame
	var warnings []string
	pos := 0
	for pos < len(data) {
		if len(data)-pos < frameHeaderLen {
			break
		}
		flags := data[pos]
		length := binary.BigEndian.Uint32(data[pos+1 : pos+frameHeaderLen])
		start := pos + frameHeaderLen
		end := start + int(length)
		if end < start || end > len(data) {
			warnings = append(warnings, ErrFraming.Error()+": frame length runs past end of buffer, stopping")
			break
		}
		body := data[start:end]
		trailer := flags&trailerFlag != 0
		compressed := flags&compressedFlag != 0
		if compressed && !trailer {
			inflated, ok := inflateGzip(body, opts.maxOutputBytes())
			if ok {
				body = inflated
			} else {
				warnings = append(warnings, ErrDecompression.Error()+": per-frame gzip inflate failed, keeping compressed bytes")
			}
		}
		frames = append(frames, ParsedFrame{Data: body, Compressed: compressed, Trailer: trailer})
		pos = end
	}
	if len(frames) == 0 && len(data) > 0 {
		frames = append(frames, ParsedFrame{Data: data})
	}
	return frames, warnings
}

// parseTrailerHeaders parses a trailer frame's body as HTTP-style header
// lines ("key: value\r\n").
func parseTrailerHeaders(body []byte) map[string]string {
	out := make(map[string]string)
	for _, line := range strings.Split(string(body), "\r\n") {
		if line == "" {
			continue
		}
		idx := strings.Index(line, ":")
		if idx < 0 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(line[:idx]))
		out[key] = strings.TrimSpace(line[idx+1:])
	}
	return out
}

// FramePayloads encodes payloads as uncompressed data frames, the inverse
// of parseLengthPrefixed — used by the frame/unframe round-trip property
// and available to anything re-framing an edited request.
func FramePayloads(payloads [][]byte) []byte {
	var buf []byte
	for _, p := range payloads {
		var header [frameHeaderLen]byte
		binary.BigEndian.PutUint32(header[1:frameHeaderLen], uint32(len(p)))
		buf = append(buf, header[:]...)
		buf = append(buf, p...)
	}
	return buf
}

// UnframePayloads parses data frames out of framed bytes, discarding any
// trailer frame. A thin convenience wrapper over parseLengthPrefixed for
// callers that only want the data payloads.
func UnframePayloads(data []byte) [][]byte {
	frames, _ := parseLengthPrefixed(data, DefaultOptions())
	var out [][]byte
	for _, f := range frames {
		if !f.Trailer {
			out = append(out, f.Data)
		}
	}
	return out
}
