package xfer

import (
	"sync"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
)

// Codec names the compression scheme a "cfile" card's payload was
// encoded with. Card grammar (§4.3) calls this "a published codec"
// without enumerating one; this expansion supports the two the
// retrieval pack actually supplies bindings for.
type Codec string

const (
	CodecZstd   Codec = "zstd"
	CodecSnappy Codec = "snappy"
)

var (
	zstdEncOnce sync.Once
	zstdEnc     *zstd.Encoder
	zstdDecOnce sync.Once
	zstdDec     *zstd.Decoder
)

func getZstdEncoder() *zstd.Encoder {
	zstdEncOnce.Do(func() {
		zstdEnc, _ = zstd.NewWriter(nil)
	})
	return zstdEnc
}

func getZstdDecoder() *zstd.Decoder {
	zstdDecOnce.Do(func() {
		zstdDec, _ = zstd.NewReader(nil)
	})
	return zstdDec
}

// compress encodes raw with the named codec.
func compress(codec Codec, raw []byte) ([]byte, error) {
	switch codec {
	case CodecZstd:
		return getZstdEncoder().EncodeAll(raw, nil), nil
	case CodecSnappy:
		return snappy.Encode(nil, raw), nil
	default:
		return nil, newErr(KindDecompressFailed, "cfile", "unknown codec %q", codec)
	}
}

// decompress decodes packed with the named codec, surfacing failures as
// DecompressFailed per §4.3's cfile row.
func decompress(codec Codec, packed []byte) ([]byte, error) {
	switch codec {
	case CodecZstd:
		out, err := getZstdDecoder().DecodeAll(packed, nil)
		if err != nil {
			return nil, newErr(KindDecompressFailed, "cfile", "zstd: %v", err)
		}
		return out, nil
	case CodecSnappy:
		out, err := snappy.Decode(nil, packed)
		if err != nil {
			return nil, newErr(KindDecompressFailed, "cfile", "snappy: %v", err)
		}
		return out, nil
	default:
		return nil, newErr(KindDecompressFailed, "cfile", "unknown codec %q", codec)
	}
}
