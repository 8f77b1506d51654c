package persist

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/l1jgo/landblock/internal/core/ecs"
	"github.com/l1jgo/landblock/internal/landblock"
	"go.uber.org/zap"
)

type saveJob struct {
	lb      landblock.ID
	records []landblock.Record
	deletes []ecs.EntityID
	done    chan struct{} // closed once the job and everything before it is written
}

// SaverStats counts what the saver has done since it started.
type SaverStats struct {
	Batches    uint64
	Records    uint64
	Deleted    uint64
	Failed     uint64
	Backlogged uint64
}

// Saver writes landblock snapshots off the tick goroutines. A single writer
// goroutine drains a bounded queue in submission order. When the queue is
// full, jobs go to an overflow backlog instead of blocking the tick; every
// later job follows them there until the writer catches up, so order holds.
type Saver struct {
	store   Store
	log     *zap.Logger
	timeout time.Duration

	mu      sync.Mutex // protects backlog and closed
	backlog []saveJob
	closed  bool

	jobs chan saveJob
	wake chan struct{}
	wg   sync.WaitGroup

	batches    atomic.Uint64
	records    atomic.Uint64
	deleted    atomic.Uint64
	failed     atomic.Uint64
	backlogged atomic.Uint64
}

func NewSaver(store Store, queueSize int, timeout time.Duration, log *zap.Logger) *Saver {
	if queueSize <= 0 {
		queueSize = 256
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	s := &Saver{
		store:   store,
		log:     log,
		timeout: timeout,
		jobs:    make(chan saveJob, queueSize),
		wake:    make(chan struct{}, 1),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s
}

// Submit queues records for an upsert. Never blocks.
func (s *Saver) Submit(lb landblock.ID, records []landblock.Record) {
	if len(records) == 0 {
		return
	}
	s.enqueue(saveJob{lb: lb, records: records})
}

// Delete queues the removal of stored objects. Never blocks.
func (s *Saver) Delete(lb landblock.ID, guids []ecs.EntityID) {
	if len(guids) == 0 {
		return
	}
	s.enqueue(saveJob{lb: lb, deletes: guids})
}

// Flush waits until everything submitted before the call has been written.
func (s *Saver) Flush(ctx context.Context) error {
	done := make(chan struct{})
	s.enqueue(saveJob{done: done})
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Saver) enqueue(j saveJob) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		// Late submissions during shutdown are written inline.
		s.run(j)
		return
	}
	if len(s.backlog) == 0 {
		select {
		case s.jobs <- j:
			s.mu.Unlock()
			return
		default:
		}
	}
	s.backlog = append(s.backlog, j)
	n := len(s.backlog)
	s.mu.Unlock()

	if s.backlogged.Add(1) == 1 || n%100 == 0 {
		s.log.Warn("save queue full, backlogging",
			zap.Uint16("landblock", uint16(j.lb)),
			zap.Int("backlog", n),
		)
	}
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Saver) loop() {
	for {
		select {
		case j, ok := <-s.jobs:
			if !ok {
				s.drainBacklog()
				return
			}
			s.run(j)
		case <-s.wake:
		}
		if len(s.jobs) == 0 {
			s.drainBacklog()
		}
	}
}

// drainBacklog writes the backlog front to back. A job leaves the backlog only
// after it is written, so enqueue keeps routing new work behind it meanwhile.
func (s *Saver) drainBacklog() {
	for {
		s.mu.Lock()
		if len(s.backlog) == 0 {
			s.backlog = nil
			s.mu.Unlock()
			return
		}
		j := s.backlog[0]
		s.mu.Unlock()

		s.run(j)

		s.mu.Lock()
		s.backlog[0] = saveJob{}
		s.backlog = s.backlog[1:]
		s.mu.Unlock()
	}
}

func (s *Saver) run(j saveJob) {
	if j.done != nil {
		defer close(j.done)
	}
	if len(j.records) > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		err := s.store.SaveBatch(ctx, j.records)
		cancel()
		if err != nil {
			s.failed.Add(1)
			s.log.Error("save batch failed",
				zap.Uint16("landblock", uint16(j.lb)),
				zap.Int("records", len(j.records)),
				zap.Error(err),
			)
		} else {
			s.batches.Add(1)
			s.records.Add(uint64(len(j.records)))
		}
	}
	if len(j.deletes) > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		err := s.store.Delete(ctx, j.deletes)
		cancel()
		if err != nil {
			s.failed.Add(1)
			s.log.Error("delete objects failed",
				zap.Uint16("landblock", uint16(j.lb)),
				zap.Int("objects", len(j.deletes)),
				zap.Error(err),
			)
		} else {
			s.deleted.Add(uint64(len(j.deletes)))
		}
	}
}

// Close stops accepting queued work, waits for the writer to finish what is
// queued and returns. Submissions after Close are written synchronously.
func (s *Saver) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.jobs)
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Saver) Stats() SaverStats {
	return SaverStats{
		Batches:    s.batches.Load(),
		Records:    s.records.Load(),
		Deleted:    s.deleted.Load(),
		Failed:     s.failed.Load(),
		Backlogged: s.backlogged.Load(),
	}
}

var _ landblock.Saver = (*Saver)(nil)
