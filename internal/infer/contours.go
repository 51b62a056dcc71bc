package infer

import "math"

// Polygon is one connected water region: an outer ring plus the rings of any
// enclosed dry regions. Coordinates are normalised to [0,1].
type Polygon struct {
	Outer [][2]float64   `json:"outer"`
	Holes [][][2]float64 `json:"holes"`
}

// Contour extraction tolerances, matching the inference stage contract:
// rings smaller than minAreaPx are discarded, rings are simplified with a
// pixel tolerance of epsilonPx before normalisation.
const (
	minAreaPx = 64
	epsilonPx = 2.0
)

// MaskToPolygons extracts the external contours of the mask together with
// their immediate hole children, filters small fragments, simplifies and
// normalises the rings.
func MaskToPolygons(m *Mask) []Polygon {
	if m == nil || m.W == 0 || m.H == 0 {
		return nil
	}

	fg := labelComponents(m.W, m.H, func(x, y int) bool { return m.At(x, y) }, true)
	bg := labelComponents(m.W, m.H, func(x, y int) bool { return !m.At(x, y) }, false)

	// Background components touching the image border are the outside
	// world; interior background components are hole candidates.
	outside := make(map[int]bool)
	for x := 0; x < m.W; x++ {
		outside[bg.label(x, 0)] = true
		outside[bg.label(x, m.H-1)] = true
	}
	for y := 0; y < m.H; y++ {
		outside[bg.label(0, y)] = true
		outside[bg.label(m.W-1, y)] = true
	}

	// Group hole components by the water component that surrounds them.
	holesByParent := make(map[int][]int)
	for id := 0; id < bg.count; id++ {
		if outside[id] {
			continue
		}
		s := bg.start[id]
		// Pixel above the topmost-leftmost hole pixel is water by
		// construction.
		parent := fg.label(s[0], s[1]-1)
		if parent >= 0 {
			holesByParent[parent] = append(holesByParent[parent], id)
		}
	}

	var out []Polygon
	for id := 0; id < fg.count; id++ {
		s := fg.start[id]
		ring := traceBoundary(m.W, m.H, s[0], s[1], func(x, y int) bool {
			return fg.label(x, y) == id
		})
		if ringArea(ring) < minAreaPx {
			continue
		}
		outer := normalizeRing(simplifyRing(ring, epsilonPx), m.W, m.H)
		if len(outer) < 3 {
			continue
		}

		poly := Polygon{Outer: outer, Holes: [][][2]float64{}}
		for _, hid := range holesByParent[id] {
			hs := bg.start[hid]
			hring := traceBoundary(m.W, m.H, hs[0], hs[1], func(x, y int) bool {
				return bg.label(x, y) == hid
			})
			if ringArea(hring) < minAreaPx {
				continue
			}
			hole := normalizeRing(simplifyRing(hring, epsilonPx), m.W, m.H)
			if len(hole) >= 3 {
				poly.Holes = append(poly.Holes, hole)
			}
		}
		out = append(out, poly)
	}
	return out
}

// labeling holds per-pixel component labels. start[id] is the
// topmost-leftmost pixel of each component.
type labeling struct {
	w, h   int
	labels []int
	count  int
	start  [][2]int
}

func (l *labeling) label(x, y int) int {
	if x < 0 || x >= l.w || y < 0 || y >= l.h {
		return -1
	}
	return l.labels[y*l.w+x]
}

var neigh8 = [8][2]int{{-1, -1}, {0, -1}, {1, -1}, {-1, 0}, {1, 0}, {-1, 1}, {0, 1}, {1, 1}}
var neigh4 = [4][2]int{{0, -1}, {-1, 0}, {1, 0}, {0, 1}}

// labelComponents labels connected regions of the predicate. Water uses
// 8-connectivity, background 4-connectivity, mirroring the usual contour
// hierarchy conventions.
func labelComponents(w, h int, in func(x, y int) bool, eight bool) *labeling {
	l := &labeling{w: w, h: h, labels: make([]int, w*h)}
	for i := range l.labels {
		l.labels[i] = -1
	}

	var queue [][2]int
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if !in(x, y) || l.labels[y*w+x] >= 0 {
				continue
			}
			id := l.count
			l.count++
			l.start = append(l.start, [2]int{x, y})

			queue = queue[:0]
			queue = append(queue, [2]int{x, y})
			l.labels[y*w+x] = id
			for len(queue) > 0 {
				p := queue[len(queue)-1]
				queue = queue[:len(queue)-1]

				var ns [][2]int
				if eight {
					ns = neigh8[:]
				} else {
					ns = neigh4[:]
				}
				for _, d := range ns {
					nx, ny := p[0]+d[0], p[1]+d[1]
					if nx < 0 || nx >= w || ny < 0 || ny >= h {
						continue
					}
					if in(nx, ny) && l.labels[ny*w+nx] < 0 {
						l.labels[ny*w+nx] = id
						queue = append(queue, [2]int{nx, ny})
					}
				}
			}
		}
	}
	return l
}

// traceBoundary walks the region boundary clockwise from its
// topmost-leftmost pixel (Moore neighbour tracing).
func traceBoundary(w, h, sx, sy int, in func(x, y int) bool) [][2]float64 {
	inBounds := func(x, y int) bool { return x >= 0 && x < w && y >= 0 && y < h && in(x, y) }

	ring := [][2]float64{{float64(sx), float64(sy)}}

	cx, cy := sx, sy
	// backtrack starts west of the start pixel
	bdir := 0
	firstMove := -1
	limit := 4 * (w*h + 4)
	for step := 0; step < limit; step++ {
		found := false
		var ndir, nx, ny int
		for i := 1; i <= 8; i++ {
			d := (bdir + i) % 8
			tx, ty := cx+mooreDir(d)[0], cy+mooreDir(d)[1]
			if inBounds(tx, ty) {
				ndir, nx, ny = d, tx, ty
				found = true
				break
			}
		}
		if !found {
			// isolated pixel
			break
		}
		// The trace is closed once the walk is about to repeat its first
		// move out of the start pixel. Stopping on the first return alone
		// truncates regions whose boundary passes through the start pixel
		// more than once.
		if cx == sx && cy == sy {
			if firstMove < 0 {
				firstMove = ndir
			} else if ndir == firstMove {
				break
			}
		}
		cx, cy = nx, ny
		ring = append(ring, [2]float64{float64(cx), float64(cy)})
		// next search starts from the neighbour just behind the move
		bdir = (ndir + 5) % 8
	}
	if n := len(ring); n > 1 && ring[n-1] == ring[0] {
		ring = ring[:n-1]
	}
	return ring
}

// mooreDir enumerates the 8 neighbours clockwise starting west.
func mooreDir(d int) [2]int {
	switch d {
	case 0:
		return [2]int{-1, 0} // W
	case 1:
		return [2]int{-1, -1} // NW
	case 2:
		return [2]int{0, -1} // N
	case 3:
		return [2]int{1, -1} // NE
	case 4:
		return [2]int{1, 0} // E
	case 5:
		return [2]int{1, 1} // SE
	case 6:
		return [2]int{0, 1} // S
	default:
		return [2]int{-1, 1} // SW
	}
}

// ringArea is the shoelace area of a closed pixel-coordinate ring.
func ringArea(ring [][2]float64) float64 {
	n := len(ring)
	if n < 3 {
		return 0
	}
	sum := 0.0
	for i := 0; i < n; i++ {
		a, b := ring[i], ring[(i+1)%n]
		sum += a[0]*b[1] - b[0]*a[1]
	}
	return math.Abs(sum) / 2
}

func normalizeRing(ring [][2]float64, w, h int) [][2]float64 {
	out := make([][2]float64, len(ring))
	fw, fh := float64(w), float64(h)
	for i, p := range ring {
		out[i] = [2]float64{p[0] / fw, p[1] / fh}
	}
	return out
}
