package data

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// LandblockInfo holds static metadata for one landblock, loaded from
// landblock_list.yaml. Landblocks without an entry use the zero value.
type LandblockInfo struct {
	ID          uint16      `yaml:"-"`
	Hex         string      `yaml:"id"` // "7F7F"
	Name        string      `yaml:"name"`
	Dungeon     bool        `yaml:"dungeon"`
	Permanent   bool        `yaml:"permanent"`
	Environment string      `yaml:"environment"` // clear, fog, rain, storm
	Generators  []Placement `yaml:"generators"`
}

// Placement seeds an object into a landblock that has nothing stored yet.
type Placement struct {
	Template int32   `yaml:"template"`
	X        float64 `yaml:"x"`
	Y        float64 `yaml:"y"`
	Z        float64 `yaml:"z"`
	Heading  float64 `yaml:"heading"`
}

type landblockListFile struct {
	Landblocks []LandblockInfo `yaml:"landblocks"`
}

// LandblockTable provides landblock metadata lookups.
type LandblockTable struct {
	blocks map[uint16]*LandblockInfo
}

// LoadLandblockTable loads landblock metadata from a YAML file.
func LoadLandblockTable(path string) (*LandblockTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read landblock list %s: %w", path, err)
	}
	var file landblockListFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse landblock list: %w", err)
	}
	return NewLandblockTable(file.Landblocks...)
}

// NewLandblockTable validates and indexes landblock metadata. Entries are
// keyed by their Hex ID.
func NewLandblockTable(infos ...LandblockInfo) (*LandblockTable, error) {
	table := &LandblockTable{blocks: make(map[uint16]*LandblockInfo, len(infos))}
	for i := range infos {
		info := &infos[i]
		id, err := ParseLandblockID(info.Hex)
		if err != nil {
			return nil, fmt.Errorf("landblock %q: %w", info.Hex, err)
		}
		switch info.Environment {
		case "", "clear", "fog", "rain", "storm":
		default:
			return nil, fmt.Errorf("landblock %s: unknown environment %q", info.Hex, info.Environment)
		}
		if _, dup := table.blocks[id]; dup {
			return nil, fmt.Errorf("landblock %s listed twice", info.Hex)
		}
		info.ID = id
		table.blocks[id] = info
	}
	return table, nil
}

// ParseLandblockID parses a 4-digit hex landblock ID such as "A9B4".
func ParseLandblockID(s string) (uint16, error) {
	if len(s) != 4 {
		return 0, fmt.Errorf("want 4 hex digits, got %q", s)
	}
	v, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0, fmt.Errorf("parse landblock id: %w", err)
	}
	return uint16(v), nil
}

// Get returns the metadata of a landblock, or nil when it has none.
func (t *LandblockTable) Get(id uint16) *LandblockInfo {
	return t.blocks[id]
}

// Permanent returns the IDs of every landblock that never unloads.
func (t *LandblockTable) Permanent() []uint16 {
	var out []uint16
	for id, info := range t.blocks {
		if info.Permanent {
			out = append(out, id)
		}
	}
	return out
}

// Count returns the number of landblocks with metadata.
func (t *LandblockTable) Count() int {
	return len(t.blocks)
}
