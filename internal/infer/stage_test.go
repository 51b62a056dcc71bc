package infer

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/technosupport/ts-fms/internal/model"
	"github.com/technosupport/ts-fms/internal/source"
)

type fixedPredictor struct {
	pred *model.Prediction
	err  error
	opts *model.Options // records the last options seen
}

func (p *fixedPredictor) Predict(_ context.Context, _ *source.Frame, o model.Options) (*model.Prediction, error) {
	p.opts = &o
	return p.pred, p.err
}

func testFrame(w, h int) *source.Frame {
	return &source.Frame{Width: w, Height: h, BGR: make([]byte, w*h*3)}
}

func testStage(t *testing.T, water, risk model.Predictor) *Stage {
	t.Helper()
	pool := NewPool(1)
	t.Cleanup(pool.Close)
	return NewStage(model.NewStubRegistry(water, risk), pool)
}

func defaultTickParams() TickParams {
	return TickParams{
		ConfWater: 0.25, IoUWater: 0.45,
		ConfRisk: 0.25, IoURisk: 0.45,
		ImgszWater: 640, ImgszRisk: 640,
	}
}

func TestStageRun_WaterCoverageAndPolygons(t *testing.T) {
	water := &fixedPredictor{pred: &model.Prediction{
		Names:    map[int]string{0: "water"},
		Boxes:    []model.Box{{ClassID: 0, Conf: 0.9, XYXY: [4]float64{8, 8, 56, 40}}},
		Polygons: [][][2]float64{{{8, 8}, {56, 8}, {56, 40}, {8, 40}}},
	}}
	risk := &fixedPredictor{pred: &model.Prediction{}}
	st := testStage(t, water, risk)

	res, err := st.Run(context.Background(), testFrame(64, 48), defaultTickParams(), true)
	require.NoError(t, err)

	assert.InDelta(t, 50.0, res.Pct, 3.0)
	assert.Equal(t, 0, res.Level, "no risk heads means level 0")
	require.Len(t, res.Water.Objects, 1)
	assert.Equal(t, "water", res.Water.Objects[0].Cls)
	require.Len(t, res.Water.Polygons, 1)
	assert.NotEmpty(t, res.Water.MaskPNGB64)
	assert.Equal(t, 48, res.Water.ImageH)
	assert.Equal(t, 64, res.Water.ImageW)

	// water runs with retina masks, risk without
	require.NotNil(t, water.opts)
	assert.True(t, water.opts.RetinaMasks)
	require.NotNil(t, risk.opts)
	assert.False(t, risk.opts.RetinaMasks)
}

func TestStageRun_NoMaskWhenNotNeeded(t *testing.T) {
	water := &fixedPredictor{pred: &model.Prediction{
		Polygons: [][][2]float64{{{8, 8}, {56, 8}, {56, 40}, {8, 40}}},
	}}
	st := testStage(t, water, &fixedPredictor{pred: &model.Prediction{}})

	res, err := st.Run(context.Background(), testFrame(64, 48), defaultTickParams(), false)
	require.NoError(t, err)
	assert.Empty(t, res.Water.MaskPNGB64)
	assert.Greater(t, res.Pct, 0.0, "coverage is computed regardless")
}

func TestStageRun_ClassificationLevel(t *testing.T) {
	tests := []struct {
		name  string
		top1  int
		n     int
		level int
	}{
		{"lowest class", 0, 6, 0},
		{"middle class", 2, 6, 2},
		{"highest class", 5, 6, 5},
		{"two classes high", 1, 2, 5},
		{"single class", 0, 1, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			risk := &fixedPredictor{pred: &model.Prediction{
				Probs: &model.Classification{Top1: tt.top1, Top1Conf: 0.7, NClasses: tt.n},
			}}
			st := testStage(t, &fixedPredictor{pred: &model.Prediction{}}, risk)

			res, err := st.Run(context.Background(), testFrame(32, 32), defaultTickParams(), false)
			require.NoError(t, err)
			assert.Equal(t, tt.level, res.Level)
			require.NotNil(t, res.Risk.Cls)
			assert.Equal(t, tt.level, res.Risk.Cls.Level)
		})
	}
}

func TestStageRun_DetectionLevelsFromNames(t *testing.T) {
	risk := &fixedPredictor{pred: &model.Prediction{
		Names: map[int]string{0: "low", 1: "medium", 2: "high"},
		Boxes: []model.Box{
			{ClassID: 0, Conf: 0.8, XYXYN: [4]float64{0.1, 0.1, 0.2, 0.2}},
			{ClassID: 2, Conf: 0.9, XYXYN: [4]float64{0.5, 0.5, 0.8, 0.8}},
		},
	}}
	st := testStage(t, &fixedPredictor{pred: &model.Prediction{}}, risk)

	res, err := st.Run(context.Background(), testFrame(32, 32), defaultTickParams(), false)
	require.NoError(t, err)

	require.NotNil(t, res.Risk.Det)
	assert.Equal(t, []int{1, 5}, res.Risk.Det.Levels)
	assert.Equal(t, 5, res.Risk.Det.LevelMax)
	assert.Equal(t, 5, res.Level)
	require.Len(t, res.Risk.Det.BoxesNorm, 2)
	assert.Equal(t, 5.0, res.Risk.Det.BoxesNorm[1][4], "level rides in the fifth column")
}

func TestStageRun_DetectionLevelFallbackIsLinear(t *testing.T) {
	// unnamed classes spread linearly over [0,5]
	risk := &fixedPredictor{pred: &model.Prediction{
		Names: map[int]string{0: "zone_a", 1: "zone_b", 2: "zone_c"},
		Boxes: []model.Box{{ClassID: 1, Conf: 0.8}},
	}}
	st := testStage(t, &fixedPredictor{pred: &model.Prediction{}}, risk)

	res, err := st.Run(context.Background(), testFrame(32, 32), defaultTickParams(), false)
	require.NoError(t, err)
	// round(1 * 5 / 2) = 3
	assert.Equal(t, 3, res.Level)
}

func TestStageRun_BothHeadsTakeMax(t *testing.T) {
	risk := &fixedPredictor{pred: &model.Prediction{
		Names: map[int]string{0: "low"},
		Probs: &model.Classification{Top1: 5, Top1Conf: 0.9, NClasses: 6},
		Boxes: []model.Box{{ClassID: 0, Conf: 0.8}},
	}}
	st := testStage(t, &fixedPredictor{pred: &model.Prediction{}}, risk)

	res, err := st.Run(context.Background(), testFrame(32, 32), defaultTickParams(), false)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Level)
	assert.Equal(t, 1, res.Risk.Det.LevelMax)
}

func TestStageRun_ConfidenceFilter(t *testing.T) {
	water := &fixedPredictor{pred: &model.Prediction{
		Names: map[int]string{0: "water"},
		Boxes: []model.Box{
			{ClassID: 0, Conf: 0.9},
			{ClassID: 0, Conf: 0.1},
		},
	}}
	st := testStage(t, water, &fixedPredictor{pred: &model.Prediction{}})

	res, err := st.Run(context.Background(), testFrame(32, 32), defaultTickParams(), false)
	require.NoError(t, err)
	assert.Len(t, res.Water.Objects, 1)
}

func TestStageRun_EmptyPredictionShapes(t *testing.T) {
	st := testStage(t,
		&fixedPredictor{pred: &model.Prediction{}},
		&fixedPredictor{pred: &model.Prediction{}},
	)

	res, err := st.Run(context.Background(), testFrame(32, 32), defaultTickParams(), true)
	require.NoError(t, err)
	assert.Equal(t, 0.0, res.Pct)
	assert.Equal(t, 0, res.Level)
	assert.NotNil(t, res.Water.Objects)
	assert.NotNil(t, res.Water.Polygons)
	assert.Nil(t, res.Risk.Cls)
	assert.Nil(t, res.Risk.Det)
}

func TestStageRun_WaterErrorPropagates(t *testing.T) {
	st := testStage(t,
		&fixedPredictor{err: errors.New("sidecar down")},
		&fixedPredictor{pred: &model.Prediction{}},
	)

	_, err := st.Run(context.Background(), testFrame(32, 32), defaultTickParams(), false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "water model")
}

func TestStageRun_RiskErrorPropagates(t *testing.T) {
	st := testStage(t,
		&fixedPredictor{pred: &model.Prediction{}},
		&fixedPredictor{err: errors.New("sidecar down")},
	)

	_, err := st.Run(context.Background(), testFrame(32, 32), defaultTickParams(), false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "risk model")
}

func TestStageRun_ParamsForwarded(t *testing.T) {
	water := &fixedPredictor{pred: &model.Prediction{}}
	risk := &fixedPredictor{pred: &model.Prediction{}}
	st := testStage(t, water, risk)

	p := TickParams{
		ConfWater: 0.5, IoUWater: 0.6,
		ConfRisk: 0.3, IoURisk: 0.4,
		ImgszWater: 320, ImgszRisk: 416,
	}
	_, err := st.Run(context.Background(), testFrame(32, 32), p, false)
	require.NoError(t, err)

	assert.Equal(t, 0.5, water.opts.Conf)
	assert.Equal(t, 0.6, water.opts.IoU)
	assert.Equal(t, 320, water.opts.Imgsz)
	assert.Equal(t, 0.3, risk.opts.Conf)
	assert.Equal(t, 416, risk.opts.Imgsz)
}
