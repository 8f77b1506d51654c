package system

import (
	"time"

	coresys "github.com/l1jgo/landblock/internal/core/system"
	"go.uber.org/zap"
)

// Unloader destroys landblocks queued for unload and reports how many went.
type Unloader interface {
	ProcessUnloads(now time.Time) int
}

// CleanupSystem destroys landblocks that asked to be unloaded during the
// tick. Phase 4 (Cleanup).
type CleanupSystem struct {
	world Unloader
	now   func() time.Time
	log   *zap.Logger
}

func NewCleanupSystem(world Unloader, now func() time.Time, log *zap.Logger) *CleanupSystem {
	if now == nil {
		now = time.Now
	}
	return &CleanupSystem{world: world, now: now, log: log}
}

func (s *CleanupSystem) Phase() coresys.Phase { return coresys.PhaseCleanup }

func (s *CleanupSystem) Update(_ time.Duration) {
	if n := s.world.ProcessUnloads(s.now()); n > 0 {
		s.log.Debug("landblocks unloaded", zap.Int("count", n))
	}
}
