package data

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "list.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadShippedTables(t *testing.T) {
	tpl, err := LoadTemplateTable(filepath.Join("..", "..", "data", "yaml", "template_list.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 7, tpl.Count())

	gen := tpl.Get(2001)
	require.NotNil(t, gen)
	assert.Equal(t, KindGenerator, gen.Kind)
	require.NotNil(t, gen.Spawn)
	assert.Equal(t, 4, gen.Spawn.Max)
	assert.Equal(t, 30*time.Second, gen.Spawn.RegenEvery())
	assert.Len(t, gen.Spawn.Entries, 2)

	bolt := tpl.Get(4001)
	require.NotNil(t, bolt)
	assert.Equal(t, 8*time.Second, bolt.Lifetime())
	assert.Nil(t, tpl.Get(9999))

	lbs, err := LoadLandblockTable(filepath.Join("..", "..", "data", "yaml", "landblock_list.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 3, lbs.Count())

	holtburg := lbs.Get(0xA9B4)
	require.NotNil(t, holtburg)
	assert.True(t, holtburg.Permanent)
	assert.Equal(t, []uint16{0xA9B4}, lbs.Permanent())

	hideout := lbs.Get(0x01D9)
	require.NotNil(t, hideout)
	assert.True(t, hideout.Dungeon)
	assert.Len(t, hideout.Generators, 2)

	for _, info := range []*LandblockInfo{holtburg, hideout} {
		for _, g := range info.Generators {
			assert.NotNil(t, tpl.Get(g.Template), "landblock %s seeds unknown template %d", info.Hex, g.Template)
		}
	}
}

func TestLoadTemplateTableRejects(t *testing.T) {
	tests := map[string]string{
		"unknown kind": `
templates:
  - { id: 1, kind: dragon }
`,
		"generator without entries": `
templates:
  - { id: 1, kind: generator }
`,
		"dangling spawn entry": `
templates:
  - id: 1
    kind: generator
    spawn:
      max: 1
      entries:
        - { template: 77, weight: 1 }
`,
		"bad yaml": "templates: [",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := LoadTemplateTable(writeYAML(t, body))
			assert.Error(t, err)
		})
	}
}

func TestLoadLandblockTableRejects(t *testing.T) {
	tests := map[string]string{
		"short id":    `landblocks: [{ id: "7F" }]`,
		"not hex":     `landblocks: [{ id: "ZZZZ" }]`,
		"environment": `landblocks: [{ id: "7F7F", environment: lava }]`,
		"duplicate":   `landblocks: [{ id: "7F7F" }, { id: "7f7f" }]`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := LoadLandblockTable(writeYAML(t, body))
			assert.Error(t, err)
		})
	}
}

func TestParseLandblockID(t *testing.T) {
	id, err := ParseLandblockID("A9B4")
	require.NoError(t, err)
	assert.Equal(t, uint16(0xA9B4), id)

	_, err = ParseLandblockID("12345")
	assert.Error(t, err)
}
