package hotspot

import (
	"math"
	"sort"
)

// estimatedEventsPerCell sizes the initial grid allocation.
const estimatedEventsPerCell = 4

// SpatialIndex provides neighbor-radius queries over a fixed event set using
// a uniform grid keyed by Szudzik-paired cell ids. Cell size should match the
// DBSCAN eps parameter so a radius query only has to visit the 3x3 cell
// neighborhood. The index is immutable once built and is discarded after a
// clustering pass.
type SpatialIndex struct {
	cellSize float64
	grid     map[int64][]int
	events   []Event
}

// BuildSpatialIndex indexes events by their lat/lon cell. The grid keeps
// region queries sub-quadratic for the window sizes the engine sees; there is
// no brute-force fallback because the grid is already cheap for small n.
func BuildSpatialIndex(events []Event, cellSize float64) *SpatialIndex {
	si := &SpatialIndex{
		cellSize: cellSize,
		grid:     make(map[int64][]int, len(events)/estimatedEventsPerCell+1),
		events:   events,
	}
	for i, e := range events {
		id := cellID(cellCoord(e.Lon, cellSize), cellCoord(e.Lat, cellSize))
		si.grid[id] = append(si.grid[id], i)
	}
	return si
}

// Neighbors returns the indices of all indexed events within radius degrees
// (planar Euclidean over lat/lon) of events[idx], including idx itself. The
// result is sorted ascending so callers expand clusters in a deterministic
// order.
func (si *SpatialIndex) Neighbors(idx int, radius float64) []int {
	p := si.events[idx]
	radius2 := radius * radius

	cx := cellCoord(p.Lon, si.cellSize)
	cy := cellCoord(p.Lat, si.cellSize)

	var neighbors []int
	for dx := int64(-1); dx <= 1; dx++ {
		for dy := int64(-1); dy <= 1; dy++ {
			for _, cand := range si.grid[cellID(cx+dx, cy+dy)] {
				c := si.events[cand]
				dLon := c.Lon - p.Lon
				dLat := c.Lat - p.Lat
				if dLon*dLon+dLat*dLat <= radius2 {
					neighbors = append(neighbors, cand)
				}
			}
		}
	}

	sort.Ints(neighbors)
	return neighbors
}

func cellCoord(v, cellSize float64) int64 {
	return int64(math.Floor(v / cellSize))
}

// cellID maps a signed cell coordinate pair to a single key using zigzag
// encoding followed by Szudzik's pairing function.
func cellID(x, y int64) int64 {
	var a, b int64
	if x >= 0 {
		a = 2 * x
	} else {
		a = -2*x - 1
	}
	if y >= 0 {
		b = 2 * y
	} else {
		b = -2*y - 1
	}
	if a >= b {
		return a*a + a + b
	}
	return a + b*b
}
