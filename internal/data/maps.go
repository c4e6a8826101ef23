package data

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/l1jgo/worldmesh/internal/world"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

//go:embed schemas/map.schema.json
var mapSchemaJSON []byte

// Weather values sent on map entry.
const (
	WeatherClear uint8 = iota
	WeatherRain
	WeatherSnow
	WeatherFog
)

// MapRecord is one map file: its grid position, blocked tiles and the tile
// triggers and NPC spawns placed on it.
type MapRecord struct {
	X       int32      `yaml:"x"`
	Y       int32      `yaml:"y"`
	Group   uint32     `yaml:"group"`
	Name    string     `yaml:"name"`
	Weather uint8      `yaml:"weather"`
	Blocked [][2]int32 `yaml:"blocked"`
	Warps   []Warp     `yaml:"warps"`
	Signs   []Sign     `yaml:"signs"`
	Spawns  []Spawn    `yaml:"spawns"`

	blocked map[[2]int32]struct{}
	source  string
}

// Warp teleports a player stepping on (X, Y).
type Warp struct {
	X       int32  `yaml:"x"`
	Y       int32  `yaml:"y"`
	ToMapX  int32  `yaml:"to_map_x"`
	ToMapY  int32  `yaml:"to_map_y"`
	ToGroup uint32 `yaml:"to_group"`
	ToX     int32  `yaml:"to_x"`
	ToY     int32  `yaml:"to_y"`
}

// Dest is the warp target.
func (w Warp) Dest() world.Position {
	return world.Position{
		Map: world.MapPosition{X: w.ToMapX, Y: w.ToMapY, Group: w.ToGroup},
		X:   w.ToX,
		Y:   w.ToY,
	}
}

// Sign shows text to a player stepping on (X, Y).
type Sign struct {
	X    int32  `yaml:"x"`
	Y    int32  `yaml:"y"`
	Text string `yaml:"text"`
}

// Spawn places Count copies of an NPC template around (X, Y).
type Spawn struct {
	NpcID int32 `yaml:"npc_id"`
	X     int32 `yaml:"x"`
	Y     int32 `yaml:"y"`
	Count int   `yaml:"count"`
	Dir   uint8 `yaml:"dir"`
}

func (r *MapRecord) Pos() world.MapPosition {
	return world.MapPosition{X: r.X, Y: r.Y, Group: r.Group}
}

// IsBlocked reports whether the tile cannot be entered.
func (r *MapRecord) IsBlocked(x, y int32) bool {
	_, ok := r.blocked[[2]int32{x, y}]
	return ok
}

// WarpAt returns the warp on (x, y), if any.
func (r *MapRecord) WarpAt(x, y int32) (Warp, bool) {
	for _, w := range r.Warps {
		if w.X == x && w.Y == y {
			return w, true
		}
	}
	return Warp{}, false
}

// SignAt returns the sign on (x, y), if any.
func (r *MapRecord) SignAt(x, y int32) (Sign, bool) {
	for _, s := range r.Signs {
		if s.X == x && s.Y == y {
			return s, true
		}
	}
	return Sign{}, false
}

// MapTable holds every loaded map record. Read-only after LoadMaps.
type MapTable struct {
	width  int32
	height int32
	maps   map[world.MapPosition]*MapRecord
}

// NewMapTable builds a table from records already in memory. Records are
// checked like files; the first invalid one is returned as an error.
func NewMapTable(width, height int32, records ...*MapRecord) (*MapTable, error) {
	t := &MapTable{width: width, height: height, maps: make(map[world.MapPosition]*MapRecord, len(records))}
	for _, r := range records {
		if err := t.add(r); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// LoadMaps reads every *.yaml, *.yml and *.yaml.zst file in dir. Files that
// fail to parse, fail schema validation or collide with an earlier map are
// skipped with a log line. A missing directory is an error.
func LoadMaps(dir string, width, height int32, log *zap.Logger) (*MapTable, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read map dir %s: %w", dir, err)
	}
	schema, err := compileMapSchema()
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && isMapFile(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	t := &MapTable{width: width, height: height, maps: make(map[world.MapPosition]*MapRecord, len(names))}
	for _, name := range names {
		path := filepath.Join(dir, name)
		rec, err := readMapFile(path, schema)
		if err == nil {
			err = t.add(rec)
		}
		if err != nil {
			log.Warn("地圖檔無效，已略過", zap.String("file", path), zap.Error(err))
			continue
		}
	}
	return t, nil
}

func isMapFile(name string) bool {
	return strings.HasSuffix(name, ".yaml") ||
		strings.HasSuffix(name, ".yml") ||
		strings.HasSuffix(name, ".yaml.zst")
}

func compileMapSchema() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft7
	if err := c.AddResource("map.schema.json", bytes.NewReader(mapSchemaJSON)); err != nil {
		return nil, fmt.Errorf("add map schema: %w", err)
	}
	s, err := c.Compile("map.schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile map schema: %w", err)
	}
	return s, nil
}

func readMapFile(path string, schema *jsonschema.Schema) (*MapRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".zst") {
		dec, err := zstd.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("zstd: %w", err)
		}
		defer dec.Close()
		r = dec
	}
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	return parseMapRecord(raw, schema)
}

func parseMapRecord(raw []byte, schema *jsonschema.Schema) (*MapRecord, error) {
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	// the validator expects encoding/json shaped values
	js, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("normalise: %w", err)
	}
	var generic any
	if err := json.Unmarshal(js, &generic); err != nil {
		return nil, fmt.Errorf("normalise: %w", err)
	}
	if err := schema.Validate(generic); err != nil {
		return nil, fmt.Errorf("schema: %w", err)
	}

	var rec MapRecord
	if err := yaml.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return &rec, nil
}

func (t *MapTable) add(r *MapRecord) error {
	pos := r.Pos()
	if _, dup := t.maps[pos]; dup {
		return fmt.Errorf("duplicate map %s", pos)
	}
	in := func(x, y int32) bool { return x >= 0 && y >= 0 && x < t.width && y < t.height }

	r.blocked = make(map[[2]int32]struct{}, len(r.Blocked))
	for _, b := range r.Blocked {
		if !in(b[0], b[1]) {
			return fmt.Errorf("map %s: blocked tile %v outside %dx%d", pos, b, t.width, t.height)
		}
		r.blocked[b] = struct{}{}
	}
	for _, w := range r.Warps {
		if !in(w.X, w.Y) || !in(w.ToX, w.ToY) {
			return fmt.Errorf("map %s: warp at %d,%d out of bounds", pos, w.X, w.Y)
		}
	}
	for _, s := range r.Signs {
		if !in(s.X, s.Y) {
			return fmt.Errorf("map %s: sign at %d,%d out of bounds", pos, s.X, s.Y)
		}
	}
	for i := range r.Spawns {
		sp := &r.Spawns[i]
		if !in(sp.X, sp.Y) {
			return fmt.Errorf("map %s: spawn at %d,%d out of bounds", pos, sp.X, sp.Y)
		}
		if sp.Count <= 0 {
			sp.Count = 1
		}
	}
	t.maps[pos] = r
	return nil
}

// Get returns the record for pos.
func (t *MapTable) Get(pos world.MapPosition) (*MapRecord, bool) {
	r, ok := t.maps[pos]
	return r, ok
}

// Exists reports whether pos names a loaded map.
func (t *MapTable) Exists(pos world.MapPosition) bool {
	_, ok := t.maps[pos]
	return ok
}

func (t *MapTable) Count() int { return len(t.maps) }

// Positions lists every loaded map.
func (t *MapTable) Positions() []world.MapPosition {
	out := make([]world.MapPosition, 0, len(t.maps))
	for p := range t.maps {
		out = append(out, p)
	}
	return out
}

// Size returns the tile dimensions shared by every map.
func (t *MapTable) Size() (width, height int32) { return t.width, t.height }

// Walkable reports whether p is on a loaded map and not blocked.
func (t *MapTable) Walkable(p world.Position) bool {
	r, ok := t.maps[p.Map]
	if !ok {
		return false
	}
	if p.X < 0 || p.Y < 0 || p.X >= t.width || p.Y >= t.height {
		return false
	}
	return !r.IsBlocked(p.X, p.Y)
}
