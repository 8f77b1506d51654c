package system

import (
	"time"

	coresys "github.com/l1jgo/landblock/internal/core/system"
	"github.com/l1jgo/landblock/internal/persist"
	"github.com/l1jgo/landblock/internal/world"
	"go.uber.org/zap"
)

type SaverStats interface {
	Stats() persist.SaverStats
}

type WorldStats interface {
	Stats() world.Stats
}

// PersistenceSystem watches the asynchronous saver. Landblocks hand their
// own snapshots to it; this system only reports progress every interval
// ticks and warns when writes start failing or piling up. Phase 4 (Cleanup).
type PersistenceSystem struct {
	saver    SaverStats
	world    WorldStats
	log      *zap.Logger
	interval int

	tickCount int
	last      persist.SaverStats
}

func NewPersistenceSystem(saver SaverStats, ws WorldStats, log *zap.Logger, intervalTicks int) *PersistenceSystem {
	if intervalTicks <= 0 {
		intervalTicks = 1
	}
	return &PersistenceSystem{saver: saver, world: ws, log: log, interval: intervalTicks}
}

func (s *PersistenceSystem) Phase() coresys.Phase { return coresys.PhaseCleanup }

func (s *PersistenceSystem) Update(_ time.Duration) {
	s.tickCount++
	if s.tickCount < s.interval {
		return
	}
	s.tickCount = 0
	s.report()
}

func (s *PersistenceSystem) report() {
	st := s.saver.Stats()
	ws := s.world.Stats()
	prev := s.last
	s.last = st

	s.log.Info("world status",
		zap.Uint64("tick", ws.Ticks),
		zap.Int("landblocks", ws.Loaded),
		zap.Int("dormant", ws.Dormant),
		zap.Int("loading", ws.Loading),
		zap.Int("objects", ws.Objects),
		zap.Int("groups", ws.Groups),
		zap.Uint64("saved_records", st.Records-prev.Records),
		zap.Uint64("deleted_records", st.Deleted-prev.Deleted),
	)
	if d := st.Failed - prev.Failed; d > 0 {
		s.log.Warn("save batches failed", zap.Uint64("failed", d), zap.Uint64("total", st.Failed))
	}
	if d := st.Backlogged - prev.Backlogged; d > 0 {
		s.log.Warn("saver falling behind", zap.Uint64("backlogged", d), zap.Uint64("total", st.Backlogged))
	}
}
