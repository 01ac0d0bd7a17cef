package xfer

import (
	"bytes"
	"testing"
)

func TestCompressDecompressRoundTrip(t *testing.T) {
	raw := bytes.Repeat([]byte("artifact content "), 64)
	for _, codec := range []Codec{CodecZstd, CodecSnappy} {
		packed, err := compress(codec, raw)
		if err != nil {
			t.Fatalf("%s compress: %v", codec, err)
		}
		got, err := decompress(codec, packed)
		if err != nil {
			t.Fatalf("%s decompress: %v", codec, err)
		}
		if !bytes.Equal(got, raw) {
			t.Fatalf("%s round trip mismatch", codec)
		}
	}
}

func TestDecompressUnknownCodec(t *testing.T) {
	if _, err := decompress(Codec("gzip"), []byte("x")); err == nil {
		t.Fatalf("expected error for unknown codec")
	}
}

func TestDecompressFailedSurfacesAsDecompressFailed(t *testing.T) {
	_, err := decompress(CodecZstd, []byte("not zstd data"))
	if err == nil {
		t.Fatalf("expected decompress error")
	}
	ce, ok := err.(*CardError)
	if !ok || ce.Kind != KindDecompressFailed {
		t.Fatalf("expected KindDecompressFailed, got %#v", err)
	}
}
