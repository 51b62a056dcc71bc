package infer

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/png"
	"math"
	"sort"

	"golang.org/x/image/draw"
)

// Mask is a binary per-pixel water indicator: 0 = dry, 255 = water.
type Mask struct {
	W, H int
	Pix  []uint8
}

func NewMask(w, h int) *Mask {
	return &Mask{W: w, H: h, Pix: make([]uint8, w*h)}
}

func (m *Mask) At(x, y int) bool { return m.Pix[y*m.W+x] != 0 }

func (m *Mask) set(x, y int) {
	if x >= 0 && x < m.W && y >= 0 && y < m.H {
		m.Pix[y*m.W+x] = 255
	}
}

// CoveragePct is 100 times the fraction of set pixels.
func (m *Mask) CoveragePct() float64 {
	if len(m.Pix) == 0 {
		return 0
	}
	n := 0
	for _, p := range m.Pix {
		if p != 0 {
			n++
		}
	}
	return 100.0 * float64(n) / float64(len(m.Pix))
}

// RasterizePolygons fills segmentation polygons (pixel coordinates) into a
// binary mask. Each polygon is filled independently with an even-odd
// scanline; overlapping polygons union.
func RasterizePolygons(polys [][][2]float64, w, h int) *Mask {
	m := NewMask(w, h)
	for _, poly := range polys {
		fillPolygon(m, poly)
	}
	return m
}

func fillPolygon(m *Mask, poly [][2]float64) {
	n := len(poly)
	if n < 3 {
		return
	}

	minY, maxY := math.Inf(1), math.Inf(-1)
	for _, p := range poly {
		minY = math.Min(minY, p[1])
		maxY = math.Max(maxY, p[1])
	}

	y0 := int(math.Max(0, math.Floor(minY)))
	y1 := int(math.Min(float64(m.H-1), math.Ceil(maxY)))

	xs := make([]float64, 0, 8)
	for y := y0; y <= y1; y++ {
		cy := float64(y) + 0.5
		xs = xs[:0]
		for i := 0; i < n; i++ {
			a, b := poly[i], poly[(i+1)%n]
			if (a[1] <= cy) == (b[1] <= cy) {
				continue
			}
			t := (cy - a[1]) / (b[1] - a[1])
			xs = append(xs, a[0]+t*(b[0]-a[0]))
		}
		sort.Float64s(xs)
		for i := 0; i+1 < len(xs); i += 2 {
			xa := int(math.Ceil(xs[i] - 0.5))
			xb := int(math.Floor(xs[i+1] - 0.5))
			for x := xa; x <= xb; x++ {
				m.set(x, y)
			}
		}
	}
}

// maskTransportMax caps the longest side of the transported mask image.
const maskTransportMax = 640

// EncodePNGBase64 resamples the mask so its longest side is at most 640 px
// (nearest neighbour, binary masks must stay binary), encodes it as a
// fast-compression PNG and returns the base64 text.
func (m *Mask) EncodePNGBase64() (string, error) {
	img := &image.Gray{Pix: m.Pix, Stride: m.W, Rect: image.Rect(0, 0, m.W, m.H)}

	longest := m.W
	if m.H > longest {
		longest = m.H
	}
	if longest > maskTransportMax {
		scale := float64(maskTransportMax) / float64(longest)
		dw := int(float64(m.W) * scale)
		dh := int(float64(m.H) * scale)
		if dw < 1 {
			dw = 1
		}
		if dh < 1 {
			dh = 1
		}
		dst := image.NewGray(image.Rect(0, 0, dw, dh))
		draw.NearestNeighbor.Scale(dst, dst.Rect, img, img.Rect, draw.Src, nil)
		img = dst
	}

	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(&buf, img); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
