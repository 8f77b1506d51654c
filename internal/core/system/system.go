package system

import (
	"fmt"
	"time"
)

// Phase defines execution ordering within a single tick.
type Phase int

const (
	PhasePhysics  Phase = iota // 0: flush + resolve positions, per group
	PhaseRelocate              // 1: move objects that crossed a landblock edge
	PhaseParallel              // 2: deferred actions, AI, generators, heartbeat/persist blocks
	PhaseSingle                // 3: players + world-object heartbeats, one landblock at a time
	PhaseCleanup               // 4: destroy queued landblocks
)

func (p Phase) String() string {
	switch p {
	case PhasePhysics:
		return "physics"
	case PhaseRelocate:
		return "relocate"
	case PhaseParallel:
		return "parallel"
	case PhaseSingle:
		return "single"
	case PhaseCleanup:
		return "cleanup"
	}
	return "unknown"
}

// System is the interface every global system implements. Systems run on the
// driving goroutine after the landblocks have finished the same phase.
type System interface {
	Phase() Phase
	Update(dt time.Duration)
}

// Named systems report their own name in logs; others are logged by type.
type Named interface {
	Name() string
}

func systemName(s System) string {
	if n, ok := s.(Named); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", s)
}
