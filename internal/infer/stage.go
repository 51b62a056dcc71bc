package infer

import (
	"context"
	"fmt"
	"math"

	"github.com/technosupport/ts-fms/internal/model"
	"github.com/technosupport/ts-fms/internal/source"
)

// TickParams are the inference knobs of one tick, a consistent snapshot of
// the session params.
type TickParams struct {
	ConfWater  float64
	IoUWater   float64
	ConfRisk   float64
	IoURisk    float64
	ImgszWater int
	ImgszRisk  int
}

// Class-name risk mapping for detection heads. Names outside the table fall
// back to a linear index mapping into [0,5].
var riskNameLevels = map[string]int{
	"low":       1,
	"medium":    3,
	"high":      5,
	"very_high": 5,
	"critical":  5,
}

// Stage composes the two model invocations of one tick. It is a pure
// function of (frame, params) modulo the shared models behind the registry.
type Stage struct {
	Models *model.Registry
	Pool   *Pool
}

func NewStage(reg *model.Registry, pool *Pool) *Stage {
	return &Stage{Models: reg, Pool: pool}
}

// Run executes the water and risk models on the frame and derives the
// aggregate signals. The mask is rasterised for pct and polygon export on
// every call; its PNG transport form is only produced when needMask is set.
func (s *Stage) Run(ctx context.Context, frame *source.Frame, p TickParams, needMask bool) (*Result, error) {
	var res *Result
	err := s.Pool.Do(ctx, func() error {
		var err error
		res, err = s.run(ctx, frame, p, needMask)
		return err
	})
	return res, err
}

func (s *Stage) run(ctx context.Context, frame *source.Frame, p TickParams, needMask bool) (*Result, error) {
	w, h := frame.Width, frame.Height

	waterPred, err := s.Models.Water().Predict(ctx, frame, model.Options{
		Imgsz:       p.ImgszWater,
		Conf:        p.ConfWater,
		IoU:         p.IoUWater,
		RetinaMasks: true,
	})
	if err != nil {
		return nil, fmt.Errorf("water model: %w", err)
	}

	riskPred, err := s.Models.Risk().Predict(ctx, frame, model.Options{
		Imgsz: p.ImgszRisk,
		Conf:  p.ConfRisk,
		IoU:   p.IoURisk,
	})
	if err != nil {
		return nil, fmt.Errorf("risk model: %w", err)
	}

	mask := RasterizePolygons(waterPred.Polygons, w, h)

	res := &Result{
		Pct:   mask.CoveragePct(),
		Water: Water{
			Objects:  waterObjects(waterPred, p.ConfWater),
			ImageH:   h,
			ImageW:   w,
			Polygons: MaskToPolygons(mask),
		},
		mask: mask,
	}
	if res.Water.Polygons == nil {
		res.Water.Polygons = []Polygon{}
	}
	if res.Water.Objects == nil {
		res.Water.Objects = []Object{}
	}

	res.Level, res.Risk = riskFromPrediction(riskPred)

	if needMask {
		res.Water.MaskPNGB64 = res.EncodeMask()
	}
	return res, nil
}

// waterObjects converts the water prediction to the client object list.
func waterObjects(pred *model.Prediction, minConf float64) []Object {
	var objs []Object
	n := len(pred.Boxes)
	if n == 0 && len(pred.Polygons) > 0 {
		n = len(pred.Polygons)
	}
	for i := 0; i < n; i++ {
		obj := Object{Cls: "0", Conf: 1.0}
		if i < len(pred.Boxes) {
			b := pred.Boxes[i]
			if b.Conf < minConf {
				continue
			}
			obj.Cls = pred.Name(b.ClassID)
			obj.Conf = b.Conf
			obj.BBox = []float64{b.XYXY[0], b.XYXY[1], b.XYXY[2], b.XYXY[3]}
		}
		if i < len(pred.Polygons) && pred.Polygons[i] != nil {
			obj.Poly = pred.Polygons[i]
		}
		objs = append(objs, obj)
	}
	return objs
}

// riskFromPrediction derives the frame level: the maximum over the
// classification head level and every detection box level, 0 when neither
// head is present.
func riskFromPrediction(pred *model.Prediction) (int, Risk) {
	var out Risk
	var levels []int

	if pred.Probs != nil {
		n := pred.Probs.NClasses
		if n < 1 {
			n = 1
		}
		lv := linearLevel(pred.Probs.Top1, n)
		levels = append(levels, lv)
		out.Cls = &RiskCls{
			Label: pred.Name(pred.Probs.Top1),
			Score: pred.Probs.Top1Conf,
			Level: lv,
		}
	}

	if len(pred.Boxes) > 0 {
		n := len(pred.Names)
		if n == 0 {
			for _, b := range pred.Boxes {
				if b.ClassID+1 > n {
					n = b.ClassID + 1
				}
			}
		}

		det := &RiskDet{BoxesNorm: [][5]float64{}}
		for _, b := range pred.Boxes {
			lv, ok := riskNameLevels[pred.Name(b.ClassID)]
			if !ok {
				lv = linearLevel(b.ClassID, n)
			}
			det.Levels = append(det.Levels, lv)
			det.BoxesNorm = append(det.BoxesNorm, [5]float64{
				b.XYXYN[0], b.XYXYN[1], b.XYXYN[2], b.XYXYN[3], float64(lv),
			})
		}
		det.LevelMax = maxInt(det.Levels)
		levels = append(levels, det.LevelMax)
		out.Det = det
	}

	return maxInt(levels), out
}

// linearLevel maps class index i of n classes onto [0,5].
func linearLevel(i, n int) int {
	if n <= 1 {
		return 0
	}
	lv := int(math.Round(float64(i) * 5.0 / float64(n-1)))
	if lv < 0 {
		lv = 0
	}
	if lv > 5 {
		lv = 5
	}
	return lv
}

func maxInt(xs []int) int {
	m := 0
	for _, x := range xs {
		if x > m {
			m = x
		}
	}
	return m
}
