package persist

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/l1jgo/landblock/internal/core/ecs"
	"github.com/l1jgo/landblock/internal/landblock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func openTestStore(t *testing.T, compress bool) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "world.db"), compress, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func record(guid uint32, lb landblock.ID, state []byte) landblock.Record {
	return landblock.Record{
		GUID:      ecs.NewEntityID(guid, 1),
		Kind:      "item",
		Template:  1201,
		Landblock: lb,
		Position:  mgl64.Vec3{12.5, 80, -3},
		Heading:   1.5,
		State:     state,
	}
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	for _, compress := range []bool{false, true} {
		s := openTestStore(t, compress)
		ctx := context.Background()
		state := bytes.Repeat([]byte(`{"hp":100}`), 50)

		require.NoError(t, s.SaveBatch(ctx, []landblock.Record{
			record(1, 0x7F7F, state),
			record(2, 0x7F7F, nil),
			record(3, 0x8080, nil),
		}))

		got, err := s.LoadRegion(ctx, 0x7F7F)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, record(1, 0x7F7F, state), got[0])
		assert.Equal(t, ecs.NewEntityID(2, 1), got[1].GUID)
		assert.Empty(t, got[1].State)

		other, err := s.LoadRegion(ctx, 0x8080)
		require.NoError(t, err)
		assert.Len(t, other, 1)
	}
}

func TestSQLiteStoreUpsertMovesObject(t *testing.T) {
	s := openTestStore(t, true)
	ctx := context.Background()

	require.NoError(t, s.SaveBatch(ctx, []landblock.Record{record(1, 0x7F7F, []byte("a"))}))
	moved := record(1, 0x807F, []byte("b"))
	require.NoError(t, s.SaveBatch(ctx, []landblock.Record{moved}))

	old, err := s.LoadRegion(ctx, 0x7F7F)
	require.NoError(t, err)
	assert.Empty(t, old)

	cur, err := s.LoadRegion(ctx, 0x807F)
	require.NoError(t, err)
	require.Len(t, cur, 1)
	assert.Equal(t, []byte("b"), cur[0].State)
}

func TestSQLiteStoreDeleteAndMaxGUID(t *testing.T) {
	s := openTestStore(t, false)
	ctx := context.Background()

	idx, err := s.MaxGUIDIndex(ctx)
	require.NoError(t, err)
	assert.Zero(t, idx)

	require.NoError(t, s.SaveBatch(ctx, []landblock.Record{
		record(5, 0x7F7F, nil),
		record(70, 0x7F7F, nil),
		record(9, 0x7F7F, nil),
	}))
	idx, err = s.MaxGUIDIndex(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint32(70), idx, "generation bits are ignored")

	require.NoError(t, s.Delete(ctx, []ecs.EntityID{ecs.NewEntityID(5, 1), ecs.NewEntityID(70, 1)}))
	got, err := s.LoadRegion(ctx, 0x7F7F)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, ecs.NewEntityID(9, 1), got[0].GUID)
}

func TestSQLiteStoreReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "world.db")
	ctx := context.Background()

	s, err := OpenSQLite(ctx, path, true, nil)
	require.NoError(t, err)
	require.NoError(t, s.SaveBatch(ctx, []landblock.Record{record(1, 0x0101, []byte("x"))}))
	require.NoError(t, s.Close())

	s, err = OpenSQLite(ctx, path, true, nil)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.LoadRegion(ctx, 0x0101)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestStateCodec(t *testing.T) {
	state := bytes.Repeat([]byte("landblock "), 100)
	blob, codec := encodeState(state, true)
	assert.Equal(t, codecZstd, codec)
	assert.Less(t, len(blob), len(state))

	out, err := decodeState(blob, codec)
	require.NoError(t, err)
	assert.Equal(t, state, out)

	_, err = decodeState([]byte("garbage"), codecZstd)
	assert.Error(t, err)
	_, err = decodeState(nil, 9)
	assert.Error(t, err)
}
