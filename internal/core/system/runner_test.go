package system

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type recorder struct {
	name  string
	phase Phase
	log   *[]string
	sleep time.Duration
}

func (r *recorder) Phase() Phase { return r.phase }
func (r *recorder) Name() string { return r.name }

func (r *recorder) Update(time.Duration) {
	time.Sleep(r.sleep)
	*r.log = append(*r.log, r.name)
}

func TestTickPhaseRunsMatchingSystemsInOrder(t *testing.T) {
	var ran []string
	r := NewRunner(nil, 0)
	r.Register(&recorder{name: "unload", phase: PhaseCleanup, log: &ran})
	r.Register(&recorder{name: "dispatch", phase: PhaseSingle, log: &ran})
	r.Register(&recorder{name: "report", phase: PhaseCleanup, log: &ran})

	assert.Equal(t, 2, r.Len(PhaseCleanup))
	assert.Equal(t, 0, r.Len(PhasePhysics))

	for p := PhasePhysics; p <= PhaseCleanup; p++ {
		r.TickPhase(p, 100*time.Millisecond)
	}
	assert.Equal(t, []string{"dispatch", "unload", "report"}, ran)
}

func TestTickPhaseWarnsAboutSlowSystems(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	var ran []string
	r := NewRunner(zap.New(core), time.Millisecond)
	r.Register(&recorder{name: "sluggish", phase: PhaseSingle, log: &ran, sleep: 20 * time.Millisecond})

	r.TickPhase(PhaseSingle, 0)
	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "sluggish", fields["system"])
	assert.Equal(t, "single", fields["phase"])
}

func TestPhaseString(t *testing.T) {
	assert.Equal(t, "relocate", PhaseRelocate.String())
	assert.Equal(t, "unknown", Phase(42).String())
}
