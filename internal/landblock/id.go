package landblock

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// BlockLength is the side of a landblock in world units.
const BlockLength = 192.0

// MaxCoord is the largest landblock coordinate on either axis.
const MaxCoord = 0xFE

// ID is a landblock cell coordinate, x in the high byte and y in the low byte.
type ID uint16

func NewID(x, y uint8) ID { return ID(uint16(x)<<8 | uint16(y)) }

func (id ID) X() uint8 { return uint8(id >> 8) }
func (id ID) Y() uint8 { return uint8(id) }

func (id ID) String() string { return fmt.Sprintf("%04X", uint16(id)) }

// Offset returns the landblock dx, dy cells away, and false when that falls
// off the edge of the world.
func (id ID) Offset(dx, dy int) (ID, bool) {
	x := int(id.X()) + dx
	y := int(id.Y()) + dy
	if x < 0 || y < 0 || x > MaxCoord || y > MaxCoord {
		return 0, false
	}
	return NewID(uint8(x), uint8(y)), true
}

// Neighbors returns the up to eight landblocks touching id.
func (id ID) Neighbors() []ID {
	out := make([]ID, 0, 8)
	for dx := -1; dx <= 1; dx++ {
		for dy := -1; dy <= 1; dy++ {
			if dx == 0 && dy == 0 {
				continue
			}
			if n, ok := id.Offset(dx, dy); ok {
				out = append(out, n)
			}
		}
	}
	return out
}

// Adjacent reports whether other touches id (including diagonals).
func (id ID) Adjacent(other ID) bool {
	if id == other {
		return false
	}
	dx := int(id.X()) - int(other.X())
	dy := int(id.Y()) - int(other.Y())
	return dx >= -1 && dx <= 1 && dy >= -1 && dy <= 1
}

// Location is a landblock plus a position local to it.
type Location struct {
	Landblock ID
	Position  mgl64.Vec3 // x, y in [0, BlockLength); z is height
	Heading   float64
}

// Valid reports whether the local position falls inside the landblock.
func (l Location) Valid() bool {
	p := l.Position
	if math.IsNaN(p[0]) || math.IsNaN(p[1]) || math.IsNaN(p[2]) {
		return false
	}
	return p[0] >= 0 && p[0] < BlockLength && p[1] >= 0 && p[1] < BlockLength
}

// Global converts the location to world coordinates.
func (l Location) Global() mgl64.Vec3 {
	return mgl64.Vec3{
		float64(l.Landblock.X())*BlockLength + l.Position[0],
		float64(l.Landblock.Y())*BlockLength + l.Position[1],
		l.Position[2],
	}
}

// Locate converts a world coordinate into a landblock-local location,
// clamping to the edge of the world.
func Locate(global mgl64.Vec3, heading float64) Location {
	const worldLength = (MaxCoord + 1) * BlockLength
	gx := clamp(global[0], 0, math.Nextafter(worldLength, 0))
	gy := clamp(global[1], 0, math.Nextafter(worldLength, 0))
	bx := math.Floor(gx / BlockLength)
	by := math.Floor(gy / BlockLength)
	return Location{
		Landblock: NewID(uint8(bx), uint8(by)),
		Position:  mgl64.Vec3{gx - bx*BlockLength, gy - by*BlockLength, global[2]},
		Heading:   heading,
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
