package history

import (
	"sync"

	"github.com/klauspost/compress/zstd"
)

// Frames are stored zstd-compressed; panel frames are mostly long runs of
// a few byte values and shrink to a fraction of their size.

var zstdEncPool = sync.Pool{
	New: func() any {
		enc, err := zstd.NewWriter(
			nil,
			zstd.WithEncoderConcurrency(1),
			zstd.WithEncoderLevel(zstd.SpeedBetterCompression),
			zstd.WithLowerEncoderMem(true),
		)
		if err != nil {
			panic(err)
		}
		return enc
	},
}

var zstdDecPool = sync.Pool{
	New: func() any {
		dec, err := zstd.NewReader(
			nil,
			zstd.WithDecoderConcurrency(1),
			zstd.WithDecoderLowmem(true),
		)
		if err != nil {
			panic(err)
		}
		return dec
	},
}

func compressFrame(data []byte) []byte {
	if len(data) == 0 {
		return nil
	}
	enc := zstdEncPool.Get().(*zstd.Encoder)
	out := enc.EncodeAll(data, nil)
	zstdEncPool.Put(enc)
	return out
}

func decompressFrame(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}
	dec := zstdDecPool.Get().(*zstd.Decoder)
	out, err := dec.DecodeAll(data, nil)
	zstdDecPool.Put(dec)
	return out, err
}
