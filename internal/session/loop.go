package session

import (
	"log"
	"math"
	"time"

	"github.com/technosupport/ts-fms/internal/data"
	"github.com/technosupport/ts-fms/internal/infer"
	"github.com/technosupport/ts-fms/internal/metrics"
	"github.com/technosupport/ts-fms/internal/source"
)

// emaAlpha smooths the per-stage timing averages in the periodic log line.
const emaAlpha = 0.2

// runFileLoop paces a finite or non-live source against the wall clock:
// one tick per 1/fps seconds of output, skipping the intermediate source
// frames so playback position advances at source speed.
func (s *activeSession) runFileLoop() {
	srcFPS := s.src.FPS()
	if srcFPS <= 0 {
		srcFPS = 30.0
	}
	log.Printf("[WS:%s] file loop: src_fps=%.2f", s.handle, srcFPS)

	nextWall := time.Now()
	for !s.stop.Load() {
		p := s.store.Snapshot()
		tickPeriod := time.Duration(float64(time.Second) / float64(p.FPS))
		framesPerTick := int(math.Round(srcFPS / float64(p.FPS)))
		if framesPerTick < 1 {
			framesPerTick = 1
		}

		if d := time.Until(nextWall); d > 0 {
			if !s.sleep(d) {
				return
			}
		}

		t0 := time.Now()
		eof := false
		for i := 0; i < framesPerTick-1; i++ {
			if !s.src.Grab() {
				eof = true
				break
			}
			s.frameIdx++
			metrics.RecordFrameSkipped()
		}
		var frame *source.Frame
		if !eof {
			var ok bool
			frame, ok = s.src.Next()
			if !ok {
				eof = true
			} else {
				s.frameIdx++
			}
		}
		if eof {
			s.emitEOF()
			return
		}
		readMs := float64(time.Since(t0)) / float64(time.Millisecond)

		videoSec := float64(s.frameIdx) / srcFPS
		if !s.tick(frame, p, videoSec, int64(videoSec*1000), readMs) {
			return
		}

		nextWall = nextWall.Add(tickPeriod)
		// drop accumulated debt after a stall instead of bursting
		if time.Until(nextWall) < -tickPeriod {
			nextWall = time.Now()
		}
	}
}

// runLiveLoop paces against the source: every frame the live decoder yields
// is a tick, timestamped by wall-clock elapsed time.
func (s *activeSession) runLiveLoop() {
	log.Printf("[WS:%s] live loop", s.handle)
	start := time.Now()
	for !s.stop.Load() {
		p := s.store.Snapshot()

		t0 := time.Now()
		frame, ok := s.src.Next()
		if !ok {
			s.emitEOF()
			return
		}
		readMs := float64(time.Since(t0)) / float64(time.Millisecond)

		elapsed := time.Since(start)
		if !s.tick(frame, p, elapsed.Seconds(), elapsed.Milliseconds(), readMs) {
			return
		}
	}
}

// tick runs inference on one frame, persists, then sends. Returns false when
// the session must end (send failure or stop). Inference errors skip the
// tick but keep the session alive.
func (s *activeSession) tick(frame *source.Frame, p Params, videoSec float64, tsMs int64, readMs float64) bool {
	needMask := p.SendMaskEvery > 0 && s.tickIdx%int64(p.SendMaskEvery) == 0

	t1 := time.Now()
	res, err := s.sup.Stage.Run(s.ctx, frame, p.TickParams(), needMask)
	inferMs := float64(time.Since(t1)) / float64(time.Millisecond)
	if err != nil {
		if s.stop.Load() {
			return false
		}
		log.Printf("[WS:%s] inference error: %v", s.handle, err)
		metrics.RecordInferenceError()
		return true
	}
	metrics.ObserveInference(time.Since(t1))

	s.applyMaskPolicy(res, p.SendMaskEvery)

	// persist before send: a tick the client saw is a tick the DB has
	if s.dbID != 0 {
		if err := s.sup.Ticks.Insert(s.ctx, &data.DetectTick{
			SessionID:    s.dbID,
			TsMs:         tsMs,
			VideoSec:     videoSec,
			WaterPercent: int(math.Round(res.Pct)),
			RiskLevel:    res.Level,
			MaskH:        res.Water.ImageH,
			MaskW:        res.Water.ImageW,
			WaterPolys:   res.OuterRingsJSON(),
			RiskBoxes:    res.BoxesJSON(),
		}); err != nil {
			log.Printf("[DB] insert tick error: %v", err)
			metrics.RecordPersistError()
		}
	}

	msg := tickMsg{
		Type:    "tick",
		TickIdx: s.tickIdx,
		Ts:      tsMs,
		Pct:     res.Pct,
		Level:   res.Level,
		Water:   res.Water,
		Risk:    res.Risk,
		Params:  p,
	}

	if s.sup.Cache != nil && s.cameraID != "" {
		if err := s.sup.Cache.SetLatest(s.ctx, s.cameraID, msg); err != nil && !s.stop.Load() {
			log.Printf("[WS:%s] latest cache: %v", s.handle, err)
		}
	}
	if s.sup.Alerts != nil && res.Level >= s.sup.AlertLevel && s.sup.AlertLevel > 0 {
		s.sup.Alerts.HighRiskTick(s.cameraID, res.Level, res.Pct, tsMs)
	}

	t2 := time.Now()
	if !s.conn.send(msg) {
		metrics.RecordSendFailure()
		s.terminate(data.StatusStopped)
		return false
	}
	sendMs := float64(time.Since(t2)) / float64(time.Millisecond)
	metrics.RecordTick()

	s.tickIdx++
	s.observeTiming(readMs, inferMs, sendMs, p.FPS)
	return true
}

// applyMaskPolicy keeps the latest computed mask cached and attaches it only
// on gated ticks. send_mask_every == 0 disables mask transport entirely.
func (s *activeSession) applyMaskPolicy(res *infer.Result, sendEvery int) {
	if sendEvery <= 0 {
		s.lastMask = ""
		res.Water.MaskPNGB64 = ""
		return
	}
	if res.Water.MaskPNGB64 != "" {
		s.lastMask = res.Water.MaskPNGB64
	} else if s.lastMask != "" {
		res.Water.MaskPNGB64 = s.lastMask
	}
	if s.tickIdx%int64(sendEvery) != 0 {
		res.Water.MaskPNGB64 = ""
	}
}

// emitEOF tells the client the source is exhausted and marks the session
// done unless a stop already won.
func (s *activeSession) emitEOF() {
	if s.eofSent {
		return
	}
	s.eofSent = true
	s.conn.send(eofMsg{Type: "eof"})
	s.terminate(data.StatusDone)
	log.Printf("[WS:%s] eof after %d ticks", s.handle, s.tickIdx)
}

// sleep waits for d but wakes early on stop. Returns false when stopped.
func (s *activeSession) sleep(d time.Duration) bool {
	deadline := time.Now().Add(d)
	for {
		if s.stop.Load() {
			return false
		}
		remain := time.Until(deadline)
		if remain <= 0 {
			return true
		}
		if remain > 50*time.Millisecond {
			remain = 50 * time.Millisecond
		}
		time.Sleep(remain)
	}
}

func (s *activeSession) observeTiming(readMs, inferMs, sendMs float64, fps int) {
	if s.tickIdx == 1 {
		s.avgReadMs, s.avgInferMs, s.avgSendMs = readMs, inferMs, sendMs
	} else {
		s.avgReadMs += emaAlpha * (readMs - s.avgReadMs)
		s.avgInferMs += emaAlpha * (inferMs - s.avgInferMs)
		s.avgSendMs += emaAlpha * (sendMs - s.avgSendMs)
	}
	every := int64(fps)
	if every < 1 {
		every = 1
	}
	if s.tickIdx%every == 0 {
		log.Printf("[WS:%s] tick %d: read=%.1fms infer=%.1fms send=%.1fms",
			s.handle, s.tickIdx, s.avgReadMs, s.avgInferMs, s.avgSendMs)
	}
}
