package session

import (
	"strconv"
	"sync"

	"github.com/technosupport/ts-fms/internal/data"
	"github.com/technosupport/ts-fms/internal/infer"
)

// Params are the live-tunable knobs of one session. Every field is clipped
// to its accepted range on update; unknown keys in updates are ignored.
type Params struct {
	FPS           int     `json:"fps"`
	ConfWater     float64 `json:"conf_water"`
	IoUWater      float64 `json:"iou_water"`
	ConfRisk      float64 `json:"conf_risk"`
	IoURisk       float64 `json:"iou_risk"`
	SendMaskEvery int     `json:"send_mask_every"`
	ImgszWater    int     `json:"imgsz_water"`
	ImgszRisk     int     `json:"imgsz_risk"`
}

// allowedKeys is the set_params whitelist, in canonical order.
var allowedKeys = []string{
	"fps", "conf_water", "iou_water", "conf_risk", "iou_risk",
	"send_mask_every", "imgsz_water", "imgsz_risk",
}

func DefaultParams() Params {
	return Params{
		FPS:           10,
		ConfWater:     0.25,
		IoUWater:      0.45,
		ConfRisk:      0.25,
		IoURisk:       0.45,
		SendMaskEvery: 1,
		ImgszWater:    640,
		ImgszRisk:     640,
	}
}

func clampF(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampI(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// clipped enforces the accepted ranges.
func (p Params) clipped() Params {
	p.FPS = clampI(p.FPS, 1, 30)
	p.ConfWater = clampF(p.ConfWater, 0, 1)
	p.IoUWater = clampF(p.IoUWater, 0, 1)
	p.ConfRisk = clampF(p.ConfRisk, 0, 1)
	p.IoURisk = clampF(p.IoURisk, 0, 1)
	if p.SendMaskEvery < 0 {
		p.SendMaskEvery = 0
	}
	if p.ImgszWater < 64 {
		p.ImgszWater = 64
	}
	if p.ImgszRisk < 64 {
		p.ImgszRisk = 64
	}
	return p
}

// TickParams converts the snapshot for the inference stage.
func (p Params) TickParams() infer.TickParams {
	return infer.TickParams{
		ConfWater:  p.ConfWater,
		IoUWater:   p.IoUWater,
		ConfRisk:   p.ConfRisk,
		IoURisk:    p.IoURisk,
		ImgszWater: p.ImgszWater,
		ImgszRisk:  p.ImgszRisk,
	}
}

// Persisted converts the snapshot for the session row.
func (p Params) Persisted() data.SessionParams {
	return data.SessionParams{
		FPS:           p.FPS,
		ConfWater:     p.ConfWater,
		IoUWater:      p.IoUWater,
		ConfRisk:      p.ConfRisk,
		IoURisk:       p.IoURisk,
		SendMaskEvery: p.SendMaskEvery,
		ImgszWater:    p.ImgszWater,
		ImgszRisk:     p.ImgszRisk,
	}
}

// ParamStore holds the session's current params. Snapshot returns an atomic
// copy; Update replaces the whole struct under the lock so a concurrent
// snapshot sees either the full prior or the full posterior state.
type ParamStore struct {
	mu sync.RWMutex
	p  Params
}

func NewParamStore(initial Params) *ParamStore {
	return &ParamStore{p: initial.clipped()}
}

func (s *ParamStore) Snapshot() Params {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.p
}

// Update applies a partial update from a decoded JSON object: whitelisted
// keys only, values parsed per field type, clipped, replaced atomically.
// Returns the accepted keys in canonical order.
func (s *ParamStore) Update(partial map[string]any) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.p
	var updated []string
	for _, key := range allowedKeys {
		v, ok := partial[key]
		if !ok {
			continue
		}
		if applyKey(&next, key, v) {
			updated = append(updated, key)
		}
	}
	if len(updated) > 0 {
		s.p = next.clipped()
	}
	return updated
}

func applyKey(p *Params, key string, v any) bool {
	switch key {
	case "fps":
		return setInt(&p.FPS, v)
	case "conf_water":
		return setFloat(&p.ConfWater, v)
	case "iou_water":
		return setFloat(&p.IoUWater, v)
	case "conf_risk":
		return setFloat(&p.ConfRisk, v)
	case "iou_risk":
		return setFloat(&p.IoURisk, v)
	case "send_mask_every":
		return setInt(&p.SendMaskEvery, v)
	case "imgsz_water":
		return setInt(&p.ImgszWater, v)
	case "imgsz_risk":
		return setInt(&p.ImgszRisk, v)
	}
	return false
}

// JSON numbers decode as float64; clients sometimes send numeric strings.
func setFloat(dst *float64, v any) bool {
	switch t := v.(type) {
	case float64:
		*dst = t
		return true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return false
		}
		*dst = f
		return true
	}
	return false
}

func setInt(dst *int, v any) bool {
	switch t := v.(type) {
	case float64:
		*dst = int(t)
		return true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return false
		}
		*dst = int(f)
		return true
	}
	return false
}
