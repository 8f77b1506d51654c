package event

import "github.com/l1jgo/landblock/internal/core/ecs"

// ObjectAdmitted is emitted when an object becomes visible in a landblock.
// Proximity broadcast subscribes to it.
type ObjectAdmitted struct {
	Landblock uint16
	GUID      ecs.EntityID
}

// ObjectRemoved tells dependents to stop tracking an object. It is not
// emitted for adjacency moves.
type ObjectRemoved struct {
	Landblock uint16
	GUID      ecs.EntityID
}

// SpawnFailed reports a generator child that could not be placed, when the
// generator is not reachable from the child's landblock.
type SpawnFailed struct {
	Landblock uint16
	Generator ecs.EntityID
	Child     ecs.EntityID
}

type LandblockLoaded struct {
	Landblock uint16
	Objects   int
}

type LandblockDormant struct {
	Landblock uint16
}

type LandblockUnloaded struct {
	Landblock uint16
}
