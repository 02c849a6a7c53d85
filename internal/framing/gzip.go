package framing

import (
	"bytes"
	"compress/gzip"
	"io"
)

// inflateGzip attempts whole-buffer gzip inflation, bounded by maxOutput.
// On any failure (bad header, truncated stream, budget exceeded) it
// returns the original data unchanged and ok=false.
func inflateGzip(data []byte, maxOutput int64) ([]byte, bool) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return data, false
	}
	defer r.Close()

	out, err := io.ReadAll(io.LimitReader(r, maxOutput+1))
	if err != nil {
		return data, false
	}
	if int64(len(out)) > maxOutput {
		return data, false
	}
	return out, true
}
