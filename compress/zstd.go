package compress

import (
	"io"

	"github.com/bearlytools/svcpool/config"

	"github.com/klauspost/compress/zstd"
)

// Zstd implements encoding.Compressor using the Zstandard compression algorithm.
type Zstd struct {
	// Level is the compression level. If 0, defaults to zstd.SpeedDefault.
	Level zstd.EncoderLevel
}

// Name returns the name used in the grpc-encoding header.
func (z *Zstd) Name() string {
	return config.CompressorZstd
}

// Compress returns a writer that compresses into w.
func (z *Zstd) Compress(w io.Writer) (io.WriteCloser, error) {
	level := z.Level
	if level == 0 {
		level = zstd.SpeedDefault
	}
	return zstd.NewWriter(w, zstd.WithEncoderLevel(level), zstd.WithEncoderConcurrency(1))
}

// Decompress returns a reader that decompresses r. The decoder is released when the
// reader hits EOF or an error.
func (z *Zstd) Decompress(r io.Reader) (io.Reader, error) {
	dec, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, err
	}
	return &zstdReader{dec: dec}, nil
}

type zstdReader struct {
	dec *zstd.Decoder
}

func (z *zstdReader) Read(p []byte) (int, error) {
	if z.dec == nil {
		return 0, io.EOF
	}
	n, err := z.dec.Read(p)
	if err != nil {
		z.dec.Close()
		z.dec = nil
	}
	return n, err
}
