package record

import (
	"github.com/nyxwire/protolens/internal/codec"
	"github.com/nyxwire/protolens/internal/framing"
	"github.com/nyxwire/protolens/internal/reflection"
)

// Options aggregates the configuration knobs the processor's
// collaborators need.
type Options struct {
	Framing    framing.Options
	Codec      codec.Options
	Reflection reflection.Options

	// RecentCacheSize bounds how many emitted records the processor keeps
	// around for reflection-triggered re-decode and GetRecentRecords.
	// Zero uses DefaultOptions' value.
	RecentCacheSize int
}

// DefaultOptions returns the defaults for every sub-component.
func DefaultOptions() Options {
	return Options{
		Framing:         framing.DefaultOptions(),
		Codec:           codec.DefaultOptions(),
		Reflection:      reflection.DefaultOptions(),
		RecentCacheSize: 1000,
	}
}
