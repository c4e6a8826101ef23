package world

import "fmt"

// MapPosition identifies one map instance. Maps with the same Group form one
// continuous world; X/Y are the map's grid coordinates within it.
type MapPosition struct {
	X     int32  `msgpack:"x"`
	Y     int32  `msgpack:"y"`
	Group uint32 `msgpack:"g"`
}

func (m MapPosition) String() string {
	return fmt.Sprintf("(%d,%d,%d)", m.X, m.Y, m.Group)
}

// Neighbour returns the adjacent map in direction d.
func (m MapPosition) Neighbour(d Dir) MapPosition {
	dx, dy := d.Delta()
	return MapPosition{X: m.X + dx, Y: m.Y + dy, Group: m.Group}
}

// Surrounding returns the 8 maps around m, row by row.
func (m MapPosition) Surrounding() []MapPosition {
	out := make([]MapPosition, 0, 8)
	for dy := int32(-1); dy <= 1; dy++ {
		for dx := int32(-1); dx <= 1; dx++ {
			if dx == 0 && dy == 0 {
				continue
			}
			out = append(out, MapPosition{X: m.X + dx, Y: m.Y + dy, Group: m.Group})
		}
	}
	return out
}

// Position is an entity's authoritative location.
type Position struct {
	Map MapPosition `msgpack:"m"`
	X   int32       `msgpack:"x"`
	Y   int32       `msgpack:"y"`
}

func (p Position) String() string {
	return fmt.Sprintf("%s:%d,%d", p.Map, p.X, p.Y)
}

// Abs returns world coordinates so positions on different maps of the same
// group can be compared.
func (p Position) Abs(width, height int32) (int64, int64) {
	return int64(p.Map.X)*int64(width) + int64(p.X), int64(p.Map.Y)*int64(height) + int64(p.Y)
}

// Distance is the Chebyshev distance between a and b. Positions in
// different groups are infinitely far apart (-1).
func Distance(a, b Position, width, height int32) int64 {
	if a.Map.Group != b.Map.Group {
		return -1
	}
	ax, ay := a.Abs(width, height)
	bx, by := b.Abs(width, height)
	dx, dy := abs64(ax-bx), abs64(ay-by)
	if dx > dy {
		return dx
	}
	return dy
}

// Within reports whether b is at most r tiles from a.
func Within(a, b Position, r int64, width, height int32) bool {
	d := Distance(a, b, width, height)
	return d >= 0 && d <= r
}

// Step moves p one tile in d. When the step leaves the map the result is
// normalised onto the adjacent map; the caller checks that map exists.
func Step(p Position, d Dir, width, height int32) Position {
	dx, dy := d.Delta()
	p.X += dx
	p.Y += dy
	switch {
	case p.X < 0:
		p.Map.X--
		p.X = width - 1
	case p.X >= width:
		p.Map.X++
		p.X = 0
	}
	switch {
	case p.Y < 0:
		p.Map.Y--
		p.Y = height - 1
	case p.Y >= height:
		p.Map.Y++
		p.Y = 0
	}
	return p
}

// Toward returns the direction that best closes the gap from a to b.
func Toward(a, b Position, width, height int32) Dir {
	ax, ay := a.Abs(width, height)
	bx, by := b.Abs(width, height)
	dx, dy := bx-ax, by-ay
	if abs64(dx) >= abs64(dy) {
		if dx < 0 {
			return DirLeft
		}
		return DirRight
	}
	if dy < 0 {
		return DirUp
	}
	return DirDown
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// Dir is a facing / movement direction.
type Dir uint8

const (
	DirUp Dir = iota
	DirDown
	DirLeft
	DirRight
	DirCount
)

func (d Dir) Delta() (int32, int32) {
	switch d {
	case DirUp:
		return 0, -1
	case DirDown:
		return 0, 1
	case DirLeft:
		return -1, 0
	case DirRight:
		return 1, 0
	}
	return 0, 0
}

func (d Dir) Valid() bool { return d < DirCount }

func (d Dir) String() string {
	switch d {
	case DirUp:
		return "up"
	case DirDown:
		return "down"
	case DirLeft:
		return "left"
	case DirRight:
		return "right"
	}
	return fmt.Sprintf("dir(%d)", uint8(d))
}
