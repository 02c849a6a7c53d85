package framing

// Options tunes framing behavior.
type Options struct {
	// GzipMaxOutputBytes bounds inflation output as a decompression-bomb
	// guard. Zero means DefaultOptions' 64 MiB.
	GzipMaxOutputBytes int64
}

// DefaultOptions returns the framing defaults.
func DefaultOptions() Options {
	return Options{GzipMaxOutputBytes: 64 << 20}
}

func (o Options) maxOutputBytes() int64 {
	if o.GzipMaxOutputBytes <= 0 {
		return DefaultOptions().GzipMaxOutputBytes
	}
	return o.GzipMaxOutputBytes
}
