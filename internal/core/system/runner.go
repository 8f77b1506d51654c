package system

import (
	"sort"
	"time"

	"go.uber.org/zap"
)

// Runner executes global systems at the tick barriers. Systems of one phase
// run in registration order.
type Runner struct {
	systems []System
	sorted  bool

	log  *zap.Logger
	slow time.Duration // warn when one system's Update takes longer; 0 disables
}

func NewRunner(log *zap.Logger, slow time.Duration) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{
		systems: make([]System, 0, 8),
		log:     log,
		slow:    slow,
	}
}

func (r *Runner) Register(s System) {
	r.systems = append(r.systems, s)
	r.sorted = false
}

// Len returns the number of systems registered for phase.
func (r *Runner) Len(phase Phase) int {
	n := 0
	for _, s := range r.systems {
		if s.Phase() == phase {
			n++
		}
	}
	return n
}

// TickPhase runs only the systems registered for phase. The landblock driver
// calls it at each barrier so a system always observes a quiescent world.
func (r *Runner) TickPhase(phase Phase, dt time.Duration) {
	r.ensureSorted()
	for _, s := range r.systems {
		if s.Phase() != phase {
			continue
		}
		start := time.Now()
		s.Update(dt)
		if took := time.Since(start); r.slow > 0 && took > r.slow {
			r.log.Warn("slow system",
				zap.String("phase", phase.String()),
				zap.String("system", systemName(s)),
				zap.Duration("took", took),
			)
		}
	}
}

func (r *Runner) ensureSorted() {
	if !r.sorted {
		sort.SliceStable(r.systems, func(i, j int) bool {
			return r.systems[i].Phase() < r.systems[j].Phase()
		})
		r.sorted = true
	}
}
