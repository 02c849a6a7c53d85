package codec

// Options tunes decode and blind-decode behavior.
type Options struct {
	// StrictUTF8, if true, makes invalid UTF-8 in a STRING field decode to
	// an _error leaf instead of falling back to raw bytes.
	StrictUTF8 bool

	// BlindDecodeThreshold is the minimum fraction of a length-delimited
	// field's bytes that a nested-message probe must consume to be
	// accepted as a nested message, during blind decode.
	BlindDecodeThreshold float64
}

// DefaultOptions returns the decoder defaults.
func DefaultOptions() Options {
	return Options{
		StrictUTF8:           false,
		BlindDecodeThreshold: 0.8,
	}
}
