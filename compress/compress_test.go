package compress

import (
	"bytes"
	"io"
	"testing"

	"google.golang.org/grpc/encoding"
)

func TestRegistered(t *testing.T) {
	for _, name := range Names() {
		if !Registered(name) {
			t.Errorf("TestRegistered: compressor %q is not registered", name)
		}
	}
	if Registered("lz4") {
		t.Errorf("TestRegistered: compressor lz4 should not be registered")
	}
}

func TestCompressDecompress(t *testing.T) {
	payload := bytes.Repeat([]byte("the quick brown fox jumps over the lazy transcript "), 200)

	for _, name := range Names() {
		c := encoding.GetCompressor(name)

		buf := &bytes.Buffer{}
		w, err := c.Compress(buf)
		if err != nil {
			t.Fatalf("TestCompressDecompress(%s): Compress() err: %s", name, err)
		}
		if _, err := w.Write(payload); err != nil {
			t.Fatalf("TestCompressDecompress(%s): Write() err: %s", name, err)
		}
		if err := w.Close(); err != nil {
			t.Fatalf("TestCompressDecompress(%s): Close() err: %s", name, err)
		}
		if buf.Len() >= len(payload) {
			t.Errorf("TestCompressDecompress(%s): compressed size %d not smaller than %d", name, buf.Len(), len(payload))
		}

		r, err := c.Decompress(buf)
		if err != nil {
			t.Fatalf("TestCompressDecompress(%s): Decompress() err: %s", name, err)
		}
		got, err := io.ReadAll(r)
		if err != nil {
			t.Fatalf("TestCompressDecompress(%s): ReadAll() err: %s", name, err)
		}
		if !bytes.Equal(got, payload) {
			t.Errorf("TestCompressDecompress(%s): round trip mismatch", name)
		}
	}
}
