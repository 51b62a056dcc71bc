package source

import (
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"
)

// Recorder re-encodes the session's source URL to an MP4 file with an
// independent ffmpeg process. It never feeds the inference loop; its only
// output is the file on disk.
type Recorder struct {
	cmd *exec.Cmd
	// Path is the absolute output file path.
	Path string
}

// RecordPath builds <recordRoot>/<cameraID|"unknown">/<YYYYMMDD_HHMMSS>.mp4
// and creates the camera directory.
func RecordPath(recordRoot, cameraID string, now time.Time) (string, error) {
	cam := cameraID
	if cam == "" {
		cam = "unknown"
	}
	dir := filepath.Join(recordRoot, cam)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create record dir: %w", err)
	}
	return filepath.Join(dir, now.Format("20060102_150405")+".mp4"), nil
}

// StartRecorder launches the recording process:
//
//	ffmpeg -y -i <url> [-r fps] -c:v libx264 -preset veryfast -pix_fmt yuv420p
//	       -c:a aac -b:a 128k -movflags +faststart <out>
//
// fps <= 0 leaves the output framerate uncapped.
func StartRecorder(inputURL, outPath string, fps int) (*Recorder, error) {
	args := []string{
		"-loglevel", "error",
		"-y",
		"-i", inputURL,
	}
	if fps > 0 {
		args = append(args, "-r", strconv.Itoa(fps))
	}
	args = append(args,
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-pix_fmt", "yuv420p",
		"-c:a", "aac",
		"-b:a", "128k",
		"-movflags", "+faststart",
		outPath,
	)

	cmd := exec.Command(ffmpegBin, args...)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("recorder start: %w", err)
	}

	log.Printf("[REC] ffmpeg record start => %s", outPath)
	return &Recorder{cmd: cmd, Path: outPath}, nil
}

// Stop terminates the recorder with a grace deadline, then kills it. Safe to
// call once; the recorder's exit status is logged and otherwise ignored.
func (r *Recorder) Stop(grace time.Duration) {
	if r == nil || r.cmd == nil || r.cmd.Process == nil {
		return
	}

	done := make(chan error, 1)
	go func() { done <- r.cmd.Wait() }()

	_ = r.cmd.Process.Signal(os.Interrupt)

	select {
	case err := <-done:
		if err != nil {
			log.Printf("[REC] ffmpeg record exit: %v", err)
		} else {
			log.Printf("[REC] ffmpeg record stop, path = %s", r.Path)
		}
	case <-time.After(grace):
		_ = r.cmd.Process.Kill()
		<-done
		log.Printf("[REC] ffmpeg record killed after %s grace", grace)
	}
}
