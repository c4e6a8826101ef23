package data

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// NpcTemplate holds static data for an NPC type loaded from YAML.
type NpcTemplate struct {
	NpcID   int32  `yaml:"npc_id"`
	Name    string `yaml:"name"`
	Mode    string `yaml:"mode"` // normal, aggressive, guard, healer
	Level   int32  `yaml:"level"`
	HP      int32  `yaml:"hp"`
	MP      int32  `yaml:"mp"`
	Damage  int32  `yaml:"damage"`
	Defense int32  `yaml:"defense"`
	Range   int32  `yaml:"range"`
	Regen   int32  `yaml:"regen"`
}

type npcListFile struct {
	Npcs []NpcTemplate `yaml:"npcs"`
}

// NpcTable holds all NPC templates indexed by NpcID.
type NpcTable struct {
	templates map[int32]*NpcTemplate
}

// LoadNpcTable loads NPC templates from a YAML file.
func LoadNpcTable(path string) (*NpcTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read npc_list: %w", err)
	}
	return ParseNpcTable(data)
}

// ParseNpcTable decodes an npc list document.
func ParseNpcTable(data []byte) (*NpcTable, error) {
	var f npcListFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse npc_list: %w", err)
	}
	t := &NpcTable{templates: make(map[int32]*NpcTemplate, len(f.Npcs))}
	for i := range f.Npcs {
		npc := &f.Npcs[i]
		if npc.HP <= 0 {
			return nil, fmt.Errorf("npc %d (%s): hp must be positive", npc.NpcID, npc.Name)
		}
		if npc.Range <= 0 {
			npc.Range = 1
		}
		if _, dup := t.templates[npc.NpcID]; dup {
			return nil, fmt.Errorf("npc %d: duplicate id", npc.NpcID)
		}
		t.templates[npc.NpcID] = npc
	}
	return t, nil
}

// Get returns a template by NPC ID, or nil if not found.
func (t *NpcTable) Get(npcID int32) *NpcTemplate {
	return t.templates[npcID]
}

// Count returns the number of loaded templates.
func (t *NpcTable) Count() int {
	return len(t.templates)
}
