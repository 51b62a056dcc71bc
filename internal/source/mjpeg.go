package source

import (
	"bufio"
	"bytes"
	"image"
	"image/jpeg"
	"io"
	"log"
)

// mjpegSource decodes a Motion-JPEG byte stream in-process. It scans for
// JPEG SOI/EOI markers, so it handles raw concatenated JPEG files as well as
// multipart/x-mixed-replace HTTP bodies without parsing part boundaries.
type mjpegSource struct {
	br     *bufio.Reader
	closer io.Closer
	fps    float64
	buf    bytes.Buffer
}

func newMJPEGSource(rc io.ReadCloser, fps float64) *mjpegSource {
	return &mjpegSource{
		br:     bufio.NewReaderSize(rc, 1<<16),
		closer: rc,
		fps:    fps,
	}
}

func newMJPEGSourceBuffered(br *bufio.Reader, closer io.Closer, fps float64) *mjpegSource {
	return &mjpegSource{br: br, closer: closer, fps: fps}
}

func (s *mjpegSource) FPS() float64 {
	if s.fps <= 0 {
		return 30.0
	}
	return s.fps
}

// nextJPEG scans forward to the next SOI marker and accumulates bytes up to
// the matching EOI. When collect is false the payload is discarded, which is
// what Grab uses to skip frames without a decode.
func (s *mjpegSource) nextJPEG(collect bool) ([]byte, bool) {
	// Seek SOI (FF D8)
	for {
		b, err := s.br.ReadByte()
		if err != nil {
			return nil, false
		}
		if b != 0xFF {
			continue
		}
		nxt, err := s.br.ReadByte()
		if err != nil {
			return nil, false
		}
		if nxt == 0xD8 {
			break
		}
	}

	if collect {
		s.buf.Reset()
		s.buf.WriteByte(0xFF)
		s.buf.WriteByte(0xD8)
	}

	// Copy until EOI (FF D9)
	prev := byte(0)
	for {
		b, err := s.br.ReadByte()
		if err != nil {
			return nil, false
		}
		if collect {
			s.buf.WriteByte(b)
		}
		if prev == 0xFF && b == 0xD9 {
			if collect {
				out := make([]byte, s.buf.Len())
				copy(out, s.buf.Bytes())
				return out, true
			}
			return nil, true
		}
		prev = b
	}
}

func (s *mjpegSource) Grab() bool {
	_, ok := s.nextJPEG(false)
	return ok
}

func (s *mjpegSource) Next() (*Frame, bool) {
	data, ok := s.nextJPEG(true)
	if !ok {
		return nil, false
	}
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		log.Printf("[Source] jpeg decode error: %v", err)
		return nil, false
	}
	return toBGR(img), true
}

func (s *mjpegSource) Close() error {
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

// toBGR converts a decoded image into the packed BGR24 layout the inference
// stage consumes.
func toBGR(img image.Image) *Frame {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	out := make([]byte, w*h*3)

	i := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			out[i] = byte(b >> 8)
			out[i+1] = byte(g >> 8)
			out[i+2] = byte(r >> 8)
			i += 3
		}
	}
	return &Frame{Width: w, Height: h, BGR: out}
}
