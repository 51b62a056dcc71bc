package model

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/technosupport/ts-fms/internal/source"
)

// HTTPPredictor runs a model hosted by an inference sidecar. The frame is
// sent as multipart JPEG together with the inference knobs; the sidecar
// answers with the prediction JSON.
type HTTPPredictor struct {
	endpoint string
	client   *http.Client
}

// wire types of the sidecar response
type httpBox struct {
	ClassID int        `json:"class_id"`
	Conf    float64    `json:"conf"`
	XYXY    [4]float64 `json:"xyxy"`
	XYXYN   [4]float64 `json:"xyxyn"`
}

type httpProbs struct {
	Top1     int     `json:"top1"`
	Top1Conf float64 `json:"top1_conf"`
	NClasses int     `json:"n_classes"`
}

type httpPrediction struct {
	Names    map[int]string `json:"names"`
	Boxes    []httpBox      `json:"boxes"`
	Polygons [][][2]float64 `json:"polygons"`
	Probs    *httpProbs     `json:"probs"`
}

type httpHealth struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`
	Device      string `json:"device"`
}

// NewHTTPPredictor points at one model endpoint of the sidecar, e.g.
// http://127.0.0.1:8501/water.
func NewHTTPPredictor(endpoint string) *HTTPPredictor {
	return &HTTPPredictor{
		endpoint: endpoint,
		client: &http.Client{
			Timeout: 15 * time.Second, // GPU inference can be slow on first call
		},
	}
}

// Healthy checks the sidecar's /health and whether the weights are loaded.
func (p *HTTPPredictor) Healthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false
	}
	var h httpHealth
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return false
	}
	return h.ModelLoaded
}

func (p *HTTPPredictor) Predict(ctx context.Context, frame *source.Frame, opts Options) (*Prediction, error) {
	var b bytes.Buffer
	w := multipart.NewWriter(&b)

	fw, err := w.CreateFormFile("file", "frame.jpg")
	if err != nil {
		return nil, err
	}
	if err := encodeJPEG(fw, frame); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}

	w.WriteField("imgsz", fmt.Sprintf("%d", opts.Imgsz))
	w.WriteField("conf", fmt.Sprintf("%.3f", opts.Conf))
	w.WriteField("iou", fmt.Sprintf("%.3f", opts.IoU))
	if opts.RetinaMasks {
		w.WriteField("retina_masks", "1")
	}
	w.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint+"/predict", &b)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("inference request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("inference status %d: %s", resp.StatusCode, body)
	}

	var wire httpPrediction
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("decode prediction: %w", err)
	}

	out := &Prediction{
		Names:    wire.Names,
		Polygons: wire.Polygons,
	}
	for _, b := range wire.Boxes {
		out.Boxes = append(out.Boxes, Box{
			ClassID: b.ClassID,
			Conf:    b.Conf,
			XYXY:    b.XYXY,
			XYXYN:   b.XYXYN,
		})
	}
	if wire.Probs != nil {
		out.Probs = &Classification{
			Top1:     wire.Probs.Top1,
			Top1Conf: wire.Probs.Top1Conf,
			NClasses: wire.Probs.NClasses,
		}
	}
	return out, nil
}

// encodeJPEG writes the BGR frame as JPEG. Quality 85 keeps the upload small
// without visibly hurting segmentation.
func encodeJPEG(w io.Writer, frame *source.Frame) error {
	img := image.NewRGBA(image.Rect(0, 0, frame.Width, frame.Height))
	i := 0
	for y := 0; y < frame.Height; y++ {
		for x := 0; x < frame.Width; x++ {
			b, g, r := frame.BGR[i], frame.BGR[i+1], frame.BGR[i+2]
			o := img.PixOffset(x, y)
			img.Pix[o] = r
			img.Pix[o+1] = g
			img.Pix[o+2] = b
			img.Pix[o+3] = 0xFF
			i += 3
		}
	}
	return jpeg.Encode(w, img, &jpeg.Options{Quality: 85})
}
