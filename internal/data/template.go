package data

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Object kinds a template can describe.
const (
	KindCreature   = "creature"
	KindGenerator  = "generator"
	KindItem       = "item"
	KindCorpse     = "corpse"
	KindProjectile = "projectile"
	KindAnchor     = "anchor"
)

// ObjectTemplate holds static data for an object type loaded from YAML.
type ObjectTemplate struct {
	ID         int32   `yaml:"id"`
	Name       string  `yaml:"name"`
	Kind       string  `yaml:"kind"`
	HP         int     `yaml:"hp"`
	Aggressive bool    `yaml:"aggressive"`
	Wander     float64 `yaml:"wander"` // max distance from home
	Speed      float64 `yaml:"speed"`  // projectiles: units per second

	AIInterval float64 `yaml:"ai_interval"` // seconds
	Heartbeat  float64 `yaml:"heartbeat"`   // seconds
	Decay      float64 `yaml:"decay"`       // seconds until an item or corpse rots
	TTL        float64 `yaml:"ttl"`         // projectiles

	Spawn *SpawnTable `yaml:"spawn,omitempty"` // generators only
}

// SpawnTable is what a generator keeps alive around itself.
type SpawnTable struct {
	Max            int          `yaml:"max"`
	Radius         float64      `yaml:"radius"`
	UpdateInterval float64      `yaml:"update_interval"` // seconds
	RegenInterval  float64      `yaml:"regen_interval"`  // seconds
	Entries        []SpawnEntry `yaml:"entries"`
}

// SpawnEntry is one weighted choice in a spawn table.
type SpawnEntry struct {
	Template int32 `yaml:"template"`
	Weight   int   `yaml:"weight"`
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func (t *ObjectTemplate) AIEvery() time.Duration        { return seconds(t.AIInterval) }
func (t *ObjectTemplate) HeartbeatEvery() time.Duration { return seconds(t.Heartbeat) }
func (t *ObjectTemplate) DecayAfter() time.Duration     { return seconds(t.Decay) }
func (t *ObjectTemplate) Lifetime() time.Duration       { return seconds(t.TTL) }

func (s *SpawnTable) UpdateEvery() time.Duration { return seconds(s.UpdateInterval) }
func (s *SpawnTable) RegenEvery() time.Duration  { return seconds(s.RegenInterval) }

type templateListFile struct {
	Templates []ObjectTemplate `yaml:"templates"`
}

// TemplateTable holds all object templates indexed by ID.
type TemplateTable struct {
	templates map[int32]*ObjectTemplate
}

// LoadTemplateTable loads object templates from a YAML file.
func LoadTemplateTable(path string) (*TemplateTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read template_list: %w", err)
	}
	var f templateListFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse template_list: %w", err)
	}
	return NewTemplateTable(f.Templates...)
}

// NewTemplateTable validates and indexes templates.
func NewTemplateTable(templates ...ObjectTemplate) (*TemplateTable, error) {
	t := &TemplateTable{templates: make(map[int32]*ObjectTemplate, len(templates))}
	for i := range templates {
		tpl := &templates[i]
		if err := tpl.validate(); err != nil {
			return nil, fmt.Errorf("template %d: %w", tpl.ID, err)
		}
		t.templates[tpl.ID] = tpl
	}
	for _, tpl := range t.templates {
		if tpl.Spawn == nil {
			continue
		}
		for _, e := range tpl.Spawn.Entries {
			if _, ok := t.templates[e.Template]; !ok {
				return nil, fmt.Errorf("template %d: spawn entry references unknown template %d", tpl.ID, e.Template)
			}
		}
	}
	return t, nil
}

func (t *ObjectTemplate) validate() error {
	switch t.Kind {
	case KindCreature, KindItem, KindCorpse, KindProjectile, KindAnchor:
	case KindGenerator:
		if t.Spawn == nil || len(t.Spawn.Entries) == 0 {
			return fmt.Errorf("generator without spawn entries")
		}
	default:
		return fmt.Errorf("unknown kind %q", t.Kind)
	}
	return nil
}

// Get returns a template by ID, or nil if not found.
func (t *TemplateTable) Get(id int32) *ObjectTemplate {
	return t.templates[id]
}

// Count returns the number of loaded templates.
func (t *TemplateTable) Count() int {
	return len(t.templates)
}

// FirstOfKind returns the template with the lowest ID of the given kind.
func (t *TemplateTable) FirstOfKind(kind string) *ObjectTemplate {
	var best *ObjectTemplate
	for _, tpl := range t.templates {
		if tpl.Kind == kind && (best == nil || tpl.ID < best.ID) {
			best = tpl
		}
	}
	return best
}
