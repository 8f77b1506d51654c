package persist

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/l1jgo/landblock/internal/core/ecs"
	"github.com/l1jgo/landblock/internal/landblock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu      sync.Mutex
	gate    chan struct{}            // first SaveBatch waits on it when set
	holds   map[uint32]chan struct{} // batches starting with this index wait on it
	reached chan uint32
	saved   []ecs.EntityID
	deleted []ecs.EntityID
	fail    bool
}

func (m *memStore) LoadRegion(context.Context, landblock.ID) ([]landblock.Record, error) {
	return nil, nil
}

func (m *memStore) SaveBatch(ctx context.Context, records []landblock.Record) error {
	m.mu.Lock()
	gate := m.gate
	m.gate = nil
	m.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if len(records) > 0 {
		if hold, ok := m.holds[records[0].GUID.Index()]; ok {
			m.reached <- records[0].GUID.Index()
			<-hold
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("disk on fire")
	}
	for _, r := range records {
		m.saved = append(m.saved, r.GUID)
	}
	return nil
}

func (m *memStore) Delete(ctx context.Context, guids []ecs.EntityID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, guids...)
	return nil
}

func (m *memStore) MaxGUIDIndex(context.Context) (uint32, error) { return 0, nil }
func (m *memStore) Close() error                                 { return nil }

func (m *memStore) savedIDs() []ecs.EntityID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ecs.EntityID(nil), m.saved...)
}

func batch(guids ...uint32) []landblock.Record {
	out := make([]landblock.Record, len(guids))
	for i, g := range guids {
		out[i] = landblock.Record{GUID: ecs.NewEntityID(g, 0), Kind: "item"}
	}
	return out
}

func TestSaverKeepsOrderThroughBacklog(t *testing.T) {
	gate := make(chan struct{})
	store := &memStore{gate: gate}
	s := NewSaver(store, 1, time.Second, nil)

	for g := uint32(1); g <= 6; g++ {
		s.Submit(0x7F7F, batch(g))
	}
	close(gate)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Flush(ctx))

	var want []ecs.EntityID
	for g := uint32(1); g <= 6; g++ {
		want = append(want, ecs.NewEntityID(g, 0))
	}
	assert.Equal(t, want, store.savedIDs())
	assert.NotZero(t, s.Stats().Backlogged)
	assert.Equal(t, uint64(6), s.Stats().Records)
	require.NoError(t, s.Close(ctx))
}

func TestSaverKeepsOrderWhileBacklogDrains(t *testing.T) {
	store := &memStore{
		holds:   map[uint32]chan struct{}{1: make(chan struct{}), 3: make(chan struct{})},
		reached: make(chan uint32, 2),
	}
	s := NewSaver(store, 1, time.Second, nil)

	s.Submit(0x7F7F, batch(1))
	require.Equal(t, uint32(1), <-store.reached)
	s.Submit(0x7F7F, batch(2)) // fills the queue
	s.Submit(0x7F7F, batch(3)) // backlogged
	close(store.holds[1])

	// 3 is being written out of the backlog; later work must queue behind it.
	require.Equal(t, uint32(3), <-store.reached)
	s.Submit(0x7F7F, batch(4))
	s.Submit(0x7F7F, batch(5))
	close(store.holds[3])

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Flush(ctx))

	var want []ecs.EntityID
	for g := uint32(1); g <= 5; g++ {
		want = append(want, ecs.NewEntityID(g, 0))
	}
	assert.Equal(t, want, store.savedIDs())
	require.NoError(t, s.Close(ctx))
}

func TestSaverDeletes(t *testing.T) {
	store := &memStore{}
	s := NewSaver(store, 8, time.Second, nil)
	s.Delete(0x7F7F, []ecs.EntityID{ecs.NewEntityID(3, 0)})
	s.Delete(0x7F7F, nil)

	ctx := context.Background()
	require.NoError(t, s.Close(ctx))
	assert.Equal(t, []ecs.EntityID{ecs.NewEntityID(3, 0)}, store.deleted)
	assert.Equal(t, uint64(1), s.Stats().Deleted)
}

func TestSaverCountsFailures(t *testing.T) {
	store := &memStore{fail: true}
	s := NewSaver(store, 8, time.Second, nil)
	s.Submit(0x7F7F, batch(1))

	ctx := context.Background()
	require.NoError(t, s.Flush(ctx))
	assert.Equal(t, uint64(1), s.Stats().Failed)
	assert.Zero(t, s.Stats().Batches)
	require.NoError(t, s.Close(ctx))
}

func TestSaverWritesInlineAfterClose(t *testing.T) {
	store := &memStore{}
	s := NewSaver(store, 8, time.Second, nil)
	s.Submit(0x7F7F, batch(1))

	ctx := context.Background()
	require.NoError(t, s.Close(ctx))
	require.NoError(t, s.Close(ctx))
	s.Submit(0x7F7F, batch(2))
	assert.Equal(t, []ecs.EntityID{ecs.NewEntityID(1, 0), ecs.NewEntityID(2, 0)}, store.savedIDs())
}

func TestSaverWithSQLite(t *testing.T) {
	store := openTestStore(t, true)
	s := NewSaver(store, 4, time.Second, nil)
	for g := uint32(1); g <= 20; g++ {
		s.Submit(0x7F7F, []landblock.Record{record(g, 0x7F7F, []byte("state"))})
	}
	s.Delete(0x7F7F, []ecs.EntityID{ecs.NewEntityID(20, 1)})

	ctx := context.Background()
	require.NoError(t, s.Close(ctx))
	got, err := store.LoadRegion(ctx, 0x7F7F)
	require.NoError(t, err)
	assert.Len(t, got, 19)
}
