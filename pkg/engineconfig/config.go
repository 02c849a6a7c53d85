// Package engineconfig holds the session-wide configuration for the
// inspector daemon: proxy listener addresses, certificate/data
// directories, and the tunable knobs for reflection, the codec, and
// framing.
package engineconfig

import (
	"time"

	"github.com/nyxwire/protolens/internal/codec"
	"github.com/nyxwire/protolens/internal/framing"
	"github.com/nyxwire/protolens/internal/reflection"
	"github.com/nyxwire/protolens/internal/record"
)

// Config holds everything cmd/protolensd needs to stand up a capture
// session: network listeners plus every engine tunable.
type Config struct {
	HTTPPort      int    `json:"http_port"`
	SOCKS5Port    int    `json:"socks5_port"`
	APIPort       int    `json:"api_port"`
	CertDir       string `json:"cert_dir"`
	DataDir       string `json:"data_dir"`
	UpstreamProxy string `json:"upstream_proxy"`

	EnableHTTPParsing bool `json:"enable_http_parsing"`

	ReflectionEnabled bool          `json:"reflection_enabled"`
	ReflectionTimeout time.Duration `json:"reflection_timeout"`

	CodecStrictUTF8      bool    `json:"codec_strict_utf8"`
	BlindDecodeThreshold float64 `json:"blind_decode_threshold"`

	GzipMaxOutputBytes int64 `json:"gzip_max_output_bytes"`

	// RecentCacheSize bounds how many enriched records the processor
	// keeps around for re-decode and the UI's initial load.
	RecentCacheSize int `json:"recent_cache_size"`
}

// DefaultConfig returns the engine and listener defaults.
func DefaultConfig() *Config {
	return &Config{
		HTTPPort:      8080,
		SOCKS5Port:    1080,
		APIPort:       8888,
		CertDir:       "~/.protolens",
		DataDir:       "~/.protolens/data",
		UpstreamProxy: "",

		EnableHTTPParsing: true,

		ReflectionEnabled: true,
		ReflectionTimeout: 10 * time.Second,

		CodecStrictUTF8:      false,
		BlindDecodeThreshold: 0.8,

		GzipMaxOutputBytes: 64 << 20,

		RecentCacheSize: 1000,
	}
}

// RecordOptions projects Config onto the record package's Options shape.
func (c *Config) RecordOptions() record.Options {
	return record.Options{
		Framing: framing.Options{
			GzipMaxOutputBytes: c.GzipMaxOutputBytes,
		},
		Codec: codec.Options{
			StrictUTF8:           c.CodecStrictUTF8,
			BlindDecodeThreshold: c.BlindDecodeThreshold,
		},
		Reflection: reflection.Options{
			Enabled: c.ReflectionEnabled,
			Timeout: c.ReflectionTimeout,
		},
		RecentCacheSize: c.RecentCacheSize,
	}
}
