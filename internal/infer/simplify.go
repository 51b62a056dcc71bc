package infer

import "math"

// simplifyRing reduces a closed ring with the Douglas-Peucker tolerance in
// pixels. The ring is split at its two mutually farthest anchor points so
// the closed curve can be simplified as two open chains.
func simplifyRing(ring [][2]float64, eps float64) [][2]float64 {
	n := len(ring)
	if n <= 3 {
		return ring
	}

	// anchor 0 and the point farthest from it
	far := 0
	maxD := -1.0
	for i := 1; i < n; i++ {
		d := dist2(ring[0], ring[i])
		if d > maxD {
			maxD = d
			far = i
		}
	}

	a := douglasPeucker(ring[:far+1], eps)
	chain2 := append(append([][2]float64{}, ring[far:]...), ring[0])
	b := douglasPeucker(chain2, eps)

	// drop the duplicated endpoints when joining
	out := append(append([][2]float64{}, a[:len(a)-1]...), b[:len(b)-1]...)
	return out
}

func douglasPeucker(points [][2]float64, eps float64) [][2]float64 {
	n := len(points)
	if n < 3 {
		return points
	}

	idx, maxD := 0, 0.0
	for i := 1; i < n-1; i++ {
		d := perpDistance(points[i], points[0], points[n-1])
		if d > maxD {
			maxD = d
			idx = i
		}
	}

	if maxD <= eps {
		return [][2]float64{points[0], points[n-1]}
	}

	left := douglasPeucker(points[:idx+1], eps)
	right := douglasPeucker(points[idx:], eps)
	return append(left[:len(left)-1], right...)
}

func perpDistance(p, a, b [2]float64) float64 {
	dx, dy := b[0]-a[0], b[1]-a[1]
	l := math.Hypot(dx, dy)
	if l == 0 {
		return math.Hypot(p[0]-a[0], p[1]-a[1])
	}
	return math.Abs(dx*(a[1]-p[1])-dy*(a[0]-p[0])) / l
}

func dist2(a, b [2]float64) float64 {
	dx, dy := a[0]-b[0], a[1]-b[1]
	return dx*dx + dy*dy
}
