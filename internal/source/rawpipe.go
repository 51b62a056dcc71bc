package source

import (
	"context"
	"fmt"
	"io"
	"log"
	"os/exec"
	"strconv"
	"strings"
)

var ffmpegBin = "ffmpeg"
var ffprobeBin = "ffprobe"

// rawPipeSource reads fixed-size BGR24 frame packets from the stdout of an
// external decoder process. A short read or EOF terminates the source.
type rawPipeSource struct {
	cmd    *exec.Cmd
	out    io.ReadCloser
	width  int
	height int
	fps    float64
	skip   []byte
}

// OpenRawPipe spawns ffmpeg to decode any input URL into raw BGR24 frames at
// a fixed geometry:
//
//	ffmpeg -loglevel error -i <url> -an -f rawvideo -pix_fmt bgr24 -vf scale=WxH -
func OpenRawPipe(url string, width, height int) (*rawPipeSource, error) {
	cmd := exec.Command(ffmpegBin,
		"-loglevel", "error",
		"-i", url,
		"-an",
		"-f", "rawvideo",
		"-pix_fmt", "bgr24",
		"-vf", fmt.Sprintf("scale=%d:%d", width, height),
		"-",
	)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("ffmpeg start: %w", err)
	}
	log.Printf("[Source] ffmpeg decoder started for %s (%dx%d)", url, width, height)

	s := newRawPipeReader(stdout, width, height)
	s.cmd = cmd
	return s, nil
}

// newRawPipeReader wraps a raw BGR24 byte stream without a child process.
// Split out from OpenRawPipe so the packet framing is testable.
func newRawPipeReader(rc io.ReadCloser, width, height int) *rawPipeSource {
	return &rawPipeSource{
		out:    rc,
		width:  width,
		height: height,
		fps:    30.0,
		skip:   make([]byte, width*height*3),
	}
}

func (s *rawPipeSource) FPS() float64 {
	if s.fps <= 0 {
		return 30.0
	}
	return s.fps
}

func (s *rawPipeSource) Grab() bool {
	_, err := io.ReadFull(s.out, s.skip)
	return err == nil
}

func (s *rawPipeSource) Next() (*Frame, bool) {
	buf := make([]byte, s.width*s.height*3)
	if _, err := io.ReadFull(s.out, buf); err != nil {
		return nil, false
	}
	return &Frame{Width: s.width, Height: s.height, BGR: buf}, true
}

func (s *rawPipeSource) Close() error {
	err := s.out.Close()
	if s.cmd != nil && s.cmd.Process != nil {
		s.cmd.Process.Kill()
		s.cmd.Wait()
	}
	return err
}

// probeFPS asks ffprobe for the average frame rate of a local file.
// Returns 30.0 when the probe fails or reports nothing usable.
func probeFPS(path string) float64 {
	ctx, cancel := context.WithTimeout(context.Background(), probeDeadline)
	defer cancel()

	out, err := exec.CommandContext(ctx, ffprobeBin,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=avg_frame_rate",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	).Output()
	if err != nil {
		return 30.0
	}
	return parseRate(strings.TrimSpace(string(out)))
}

// probeGeometry returns width, height and fps of a local file, with
// 640x360 @ 30 as the fallback.
func probeGeometry(path string) (int, int, float64) {
	ctx, cancel := context.WithTimeout(context.Background(), probeDeadline)
	defer cancel()

	out, err := exec.CommandContext(ctx, ffprobeBin,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height,avg_frame_rate",
		"-of", "csv=p=0",
		path,
	).Output()
	if err != nil {
		return HLSWidth, HLSHeight, 30.0
	}

	parts := strings.Split(strings.TrimSpace(string(out)), ",")
	if len(parts) < 3 {
		return HLSWidth, HLSHeight, 30.0
	}
	w, err1 := strconv.Atoi(parts[0])
	h, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || w <= 0 || h <= 0 {
		return HLSWidth, HLSHeight, 30.0
	}
	return w, h, parseRate(parts[2])
}

// parseRate parses an ffprobe rational like "25/1" or "30000/1001".
func parseRate(s string) float64 {
	if s == "" || s == "0/0" {
		return 30.0
	}
	if num, den, ok := strings.Cut(s, "/"); ok {
		n, err1 := strconv.ParseFloat(num, 64)
		d, err2 := strconv.ParseFloat(den, 64)
		if err1 != nil || err2 != nil || d == 0 || n <= 0 {
			return 30.0
		}
		return n / d
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f <= 0 {
		return 30.0
	}
	return f
}
