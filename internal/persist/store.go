package persist

import (
	"context"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/l1jgo/landblock/internal/core/ecs"
	"github.com/l1jgo/landblock/internal/landblock"
)

// Store is the world object storage behind the landblock loader and saver.
type Store interface {
	// LoadRegion returns every stored object whose landblock is id.
	LoadRegion(ctx context.Context, id landblock.ID) ([]landblock.Record, error)
	// SaveBatch upserts records in one transaction.
	SaveBatch(ctx context.Context, records []landblock.Record) error
	Delete(ctx context.Context, guids []ecs.EntityID) error
	// MaxGUIDIndex returns the highest GUID index ever stored.
	MaxGUIDIndex(ctx context.Context) (uint32, error)
	Close() error
}

// Codec values stored next to each state blob.
const (
	codecRaw  int16 = 0
	codecZstd int16 = 1
)

var (
	zstdEncoder = sync.OnceValue(func() *zstd.Encoder {
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			panic(fmt.Sprintf("zstd encoder: %v", err))
		}
		return enc
	})
	zstdDecoder = sync.OnceValue(func() *zstd.Decoder {
		dec, err := zstd.NewReader(nil)
		if err != nil {
			panic(fmt.Sprintf("zstd decoder: %v", err))
		}
		return dec
	})
)

// encodeState prepares a state blob for storage.
func encodeState(state []byte, compress bool) ([]byte, int16) {
	if !compress || len(state) == 0 {
		return state, codecRaw
	}
	return zstdEncoder().EncodeAll(state, make([]byte, 0, len(state)/2)), codecZstd
}

func decodeState(blob []byte, codec int16) ([]byte, error) {
	switch codec {
	case codecRaw:
		return blob, nil
	case codecZstd:
		out, err := zstdDecoder().DecodeAll(blob, nil)
		if err != nil {
			return nil, fmt.Errorf("decompress state: %w", err)
		}
		return out, nil
	}
	return nil, fmt.Errorf("unknown state codec %d", codec)
}

func guidArgs(guids []ecs.EntityID) []int64 {
	out := make([]int64, len(guids))
	for i, g := range guids {
		out[i] = int64(g)
	}
	return out
}
