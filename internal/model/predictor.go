package model

import (
	"context"
	"strconv"

	"github.com/technosupport/ts-fms/internal/source"
)

// Options are the per-call inference knobs. They mirror the session params
// so a set_params update takes effect on the next tick.
type Options struct {
	Imgsz       int
	Conf        float64
	IoU         float64
	RetinaMasks bool
}

// Box is one detection in original-image pixel coordinates plus the
// normalised form.
type Box struct {
	ClassID int
	Conf    float64
	XYXY    [4]float64
	XYXYN   [4]float64
}

// Classification is the top-1 head of a classification-capable model.
type Classification struct {
	Top1     int
	Top1Conf float64
	NClasses int
}

// Prediction is the raw output contract of one model invocation. A
// segmentation model fills Polygons (pixel coords of the original image);
// a detection model fills Boxes; a classification model fills Probs. Any
// combination may be present.
type Prediction struct {
	Names    map[int]string
	Boxes    []Box
	Polygons [][][2]float64
	Probs    *Classification
}

// Name resolves a class id to its label, falling back to the numeric id.
func (p *Prediction) Name(classID int) string {
	if p.Names != nil {
		if n, ok := p.Names[classID]; ok {
			return n
		}
	}
	return strconv.Itoa(classID)
}

// Predictor is a loaded model. Implementations must be safe for concurrent
// Predict calls; the weights behind them are process-wide and read-only.
type Predictor interface {
	Predict(ctx context.Context, frame *source.Frame, opts Options) (*Prediction, error)
}
