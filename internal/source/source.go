package source

import (
	"bufio"
	"fmt"
	"net/http"
	"os"
	"time"
)

// HLS streams are rescaled to a fixed raw-frame geometry by the
// subprocess decoder.
const (
	HLSWidth  = 640
	HLSHeight = 360
)

// Frame is one decoded video frame in packed BGR24 layout
// (len(BGR) == Width*Height*3, row major).
type Frame struct {
	Width  int
	Height int
	BGR    []byte
}

// At returns the B,G,R bytes of the pixel at (x, y).
func (f *Frame) At(x, y int) (b, g, r byte) {
	i := (y*f.Width + x) * 3
	return f.BGR[i], f.BGR[i+1], f.BGR[i+2]
}

// FrameSource yields decoded frames on demand. Implementations are not safe
// for concurrent use; the pacing loop is the single caller.
type FrameSource interface {
	// Grab advances the stream by one frame without decoding the payload.
	// Returns false at end of stream.
	Grab() bool
	// Next decodes and returns the next frame. ok=false signals end of
	// stream; no frames follow once ok is false.
	Next() (frame *Frame, ok bool)
	// FPS is the source's nominal frame rate, 30.0 when unknown.
	FPS() float64
	Close() error
}

// Open selects the decoder variant for a resolved URL:
//   - HLS manifests use the ffmpeg raw-video subprocess
//   - HTTP (MJPEG) streams and local MJPEG files decode in-process
//   - other local containers fall back to the ffmpeg subprocess at the
//     file's native geometry
func Open(resolved string) (FrameSource, error) {
	if resolved == "" {
		return nil, fmt.Errorf("empty source url")
	}

	if IsHLS(resolved) {
		return OpenRawPipe(resolved, HLSWidth, HLSHeight)
	}

	if IsHTTP(resolved) {
		client := &http.Client{Timeout: 0} // streaming body, no deadline
		resp, err := client.Get(resolved)
		if err != nil {
			return nil, fmt.Errorf("open http source: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, fmt.Errorf("open http source: status %d", resp.StatusCode)
		}
		return newMJPEGSource(resp.Body, 30.0), nil
	}

	f, err := os.Open(resolved)
	if err != nil {
		return nil, fmt.Errorf("open video file: %w", err)
	}

	br := bufio.NewReaderSize(f, 1<<16)
	head, _ := br.Peek(2)
	if len(head) == 2 && head[0] == 0xFF && head[1] == 0xD8 {
		// Motion-JPEG file: concatenated JPEG frames, decode in-process.
		fps := probeFPS(resolved)
		return newMJPEGSourceBuffered(br, f, fps), nil
	}
	f.Close()

	// Any other container goes through ffmpeg at native geometry.
	w, h, fps := probeGeometry(resolved)
	rp, err := OpenRawPipe(resolved, w, h)
	if err != nil {
		return nil, err
	}
	rp.fps = fps
	return rp, nil
}

// probeDeadline bounds the one-shot ffprobe calls used to learn a local
// file's frame rate and geometry.
const probeDeadline = 5 * time.Second
