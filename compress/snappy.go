package compress

import (
	"io"

	"github.com/bearlytools/svcpool/config"

	"github.com/golang/snappy"
)

// Snappy implements encoding.Compressor using the snappy framing format.
// Snappy trades compression ratio for very low CPU use.
type Snappy struct{}

// Name returns the name used in the grpc-encoding header.
func (s *Snappy) Name() string {
	return config.CompressorSnappy
}

// Compress returns a writer that compresses into w.
func (s *Snappy) Compress(w io.Writer) (io.WriteCloser, error) {
	return snappy.NewBufferedWriter(w), nil
}

// Decompress returns a reader that decompresses r.
func (s *Snappy) Decompress(r io.Reader) (io.Reader, error) {
	return snappy.NewReader(r), nil
}
