package infer

import "encoding/json"

// Object is one water-model detection in the shape the client expects:
// pixel-coordinate bbox and, for segmentation hits, the raw polygon.
type Object struct {
	Cls  string       `json:"cls"`
	Conf float64      `json:"conf"`
	BBox []float64    `json:"bbox,omitempty"`
	Poly [][2]float64 `json:"poly,omitempty"`
}

// Water is the segmentation payload of one tick.
type Water struct {
	Objects  []Object  `json:"objects"`
	ImageH   int       `json:"image_h"`
	ImageW   int       `json:"image_w"`
	Polygons []Polygon `json:"polygons"`
	// MaskPNGB64 is attached by the pacing loop subject to the
	// send_mask_every gate.
	MaskPNGB64 string `json:"mask_png_b64,omitempty"`
}

// RiskCls is the classification head of the risk payload.
type RiskCls struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
	Level int     `json:"level"`
}

// RiskDet is the detection head: per-box levels and normalised boxes as
// [x1, y1, x2, y2, level] rows.
type RiskDet struct {
	Levels    []int        `json:"levels"`
	LevelMax  int          `json:"level_max"`
	BoxesNorm [][5]float64 `json:"boxes_norm"`
}

// Risk carries whichever heads the risk model produced.
type Risk struct {
	Cls *RiskCls `json:"cls,omitempty"`
	Det *RiskDet `json:"det,omitempty"`
}

// Result is one frame's inference output before the loop adds tick identity
// and params.
type Result struct {
	Pct   float64 `json:"pct"`
	Level int     `json:"level"`
	Water Water   `json:"water"`
	Risk  Risk    `json:"risk"`

	// mask kept for optional transport encoding; nil when not computed
	mask *Mask
}

// EncodeMask produces the base64 PNG of the binary mask, or "" when no mask
// was computed for this result.
func (r *Result) EncodeMask() string {
	if r.mask == nil {
		return ""
	}
	b64, err := r.mask.EncodePNGBase64()
	if err != nil {
		return ""
	}
	return b64
}

// OuterRingsJSON serialises only the polygons' outer rings for persistence.
func (r *Result) OuterRingsJSON() *string {
	if len(r.Water.Polygons) == 0 {
		return nil
	}
	outers := make([][][2]float64, 0, len(r.Water.Polygons))
	for _, p := range r.Water.Polygons {
		outers = append(outers, p.Outer)
	}
	b, err := json.Marshal(outers)
	if err != nil {
		return nil
	}
	s := string(b)
	return &s
}

// BoxesJSON serialises the normalised risk boxes for persistence.
func (r *Result) BoxesJSON() *string {
	if r.Risk.Det == nil || len(r.Risk.Det.BoxesNorm) == 0 {
		return nil
	}
	b, err := json.Marshal(r.Risk.Det.BoxesNorm)
	if err != nil {
		return nil
	}
	s := string(b)
	return &s
}
