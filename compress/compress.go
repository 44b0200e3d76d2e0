// Package compress provides gRPC message compressors for snappy and zstd and makes sure
// the gzip compressor is registered. Importing this package registers all three with
// google.golang.org/grpc/encoding, so a config's Compressor name can be used directly.
package compress

import (
	"github.com/bearlytools/svcpool/config"

	"google.golang.org/grpc/encoding"
	_ "google.golang.org/grpc/encoding/gzip"
)

func init() {
	encoding.RegisterCompressor(&Snappy{})
	encoding.RegisterCompressor(&Zstd{})
}

// Registered reports if a compressor called name is registered with gRPC.
func Registered(name string) bool {
	return encoding.GetCompressor(name) != nil
}

// Names returns the compressor names svcpool configs accept.
func Names() []string {
	return []string{config.CompressorGzip, config.CompressorSnappy, config.CompressorZstd}
}
