package world

// AOIGrid implements a cell-based Area of Interest index for one map.
// A 3x3 neighbourhood of cells covers the view range.
// Owned by a single map actor goroutine; no locks.

type cellKey struct {
	cx int32
	cy int32
}

// AOIGrid tracks which entities are in which cells.
type AOIGrid struct {
	cellSize int32
	cells    map[cellKey]map[GlobalKey]struct{}
}

func NewAOIGrid(cellSize int32) *AOIGrid {
	if cellSize <= 0 {
		cellSize = 8
	}
	return &AOIGrid{
		cellSize: cellSize,
		cells:    make(map[cellKey]map[GlobalKey]struct{}),
	}
}

func (g *AOIGrid) toCellCoord(v int32) int32 {
	if v < 0 {
		return (v - g.cellSize + 1) / g.cellSize
	}
	return v / g.cellSize
}

func (g *AOIGrid) key(x, y int32) cellKey {
	return cellKey{cx: g.toCellCoord(x), cy: g.toCellCoord(y)}
}

// Add places an entity into the grid.
func (g *AOIGrid) Add(k GlobalKey, x, y int32) {
	ck := g.key(x, y)
	cell := g.cells[ck]
	if cell == nil {
		cell = make(map[GlobalKey]struct{})
		g.cells[ck] = cell
	}
	cell[k] = struct{}{}
}

// Remove takes an entity out of the grid.
func (g *AOIGrid) Remove(k GlobalKey, x, y int32) {
	ck := g.key(x, y)
	cell := g.cells[ck]
	if cell != nil {
		delete(cell, k)
		if len(cell) == 0 {
			delete(g.cells, ck)
		}
	}
}

// Move updates an entity's cell when its position changes.
func (g *AOIGrid) Move(k GlobalKey, oldX, oldY, newX, newY int32) {
	oldK := g.key(oldX, oldY)
	newK := g.key(newX, newY)
	if oldK == newK {
		return
	}
	g.Remove(k, oldX, oldY)
	g.Add(k, newX, newY)
}

// Nearby returns every key in the 3x3 neighbourhood of cells around (x, y).
// Caller does fine-grained distance filtering.
func (g *AOIGrid) Nearby(x, y int32) []GlobalKey {
	cx := g.toCellCoord(x)
	cy := g.toCellCoord(y)
	var result []GlobalKey
	for dx := int32(-1); dx <= 1; dx++ {
		for dy := int32(-1); dy <= 1; dy++ {
			for k := range g.cells[cellKey{cx: cx + dx, cy: cy + dy}] {
				result = append(result, k)
			}
		}
	}
	return result
}

// Len returns the number of tracked entities.
func (g *AOIGrid) Len() int {
	n := 0
	for _, c := range g.cells {
		n += len(c)
	}
	return n
}
