package system

import (
	"time"

	"github.com/l1jgo/landblock/internal/core/event"
	coresys "github.com/l1jgo/landblock/internal/core/system"
)

// DispatchSystem delivers what landblocks emitted on the bus since the last
// dispatch. It runs at the single-phase barrier, so handlers may open a
// global Tx.
type DispatchSystem struct {
	bus *event.Bus
}

func NewDispatchSystem(bus *event.Bus) *DispatchSystem {
	return &DispatchSystem{bus: bus}
}

func (s *DispatchSystem) Phase() coresys.Phase { return coresys.PhaseSingle }

func (s *DispatchSystem) Update(_ time.Duration) {
	s.bus.SwapBuffers()
	s.bus.DispatchAll()
}
