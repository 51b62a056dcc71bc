package session

import (
	"context"
	"encoding/json"
	"log"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/technosupport/ts-fms/internal/data"
	"github.com/technosupport/ts-fms/internal/infer"
	"github.com/technosupport/ts-fms/internal/metrics"
	"github.com/technosupport/ts-fms/internal/source"
)

// Persistence collaborators. The concrete models in internal/data satisfy
// these; tests install mocks.
type SessionStore interface {
	Create(ctx context.Context, s *data.DetectSession) (int64, error)
	Finish(ctx context.Context, id int64, status string) error
	UpdateRecordPath(ctx context.Context, id int64, relPath string) error
}

type TickStore interface {
	Insert(ctx context.Context, t *data.DetectTick) error
}

// LatestCache receives the most recent tick per camera for polling surfaces.
// Best-effort: errors are logged at the call site, never fatal.
type LatestCache interface {
	SetLatest(ctx context.Context, cameraID string, tick any) error
}

// AlertSink receives session lifecycle events and high-risk ticks.
type AlertSink interface {
	SessionStarted(sessionID int64, cameraID, location, sourceType string)
	SessionFinished(sessionID int64, cameraID, status string)
	HighRiskTick(cameraID string, level int, pct float64, tsMs int64)
}

// Supervisor accepts client channels, runs the handshake and owns the
// lifecycle of every active session.
type Supervisor struct {
	Stage    *infer.Stage
	Sessions SessionStore
	Ticks    TickStore
	Cache    LatestCache // optional
	Alerts   AlertSink   // optional

	VideoRoot  string
	RecordRoot string
	// RecordGrace is the terminate-to-kill deadline for the recorder.
	RecordGrace time.Duration
	// AlertLevel is the minimum tick level forwarded to Alerts.
	AlertLevel int

	// DefaultOverrides returns default-param overrides applied to new
	// sessions before the start record's own values (config hot reload).
	DefaultOverrides func() map[string]any

	// Injection points for tests.
	OpenSource    func(resolved string) (source.FrameSource, error)
	StartRecorder func(inputURL, outPath string, fps int) (*source.Recorder, error)
}

func (sup *Supervisor) openSource(resolved string) (source.FrameSource, error) {
	if sup.OpenSource != nil {
		return sup.OpenSource(resolved)
	}
	return source.Open(resolved)
}

func (sup *Supervisor) startRecorder(inputURL, outPath string, fps int) (*source.Recorder, error) {
	if sup.StartRecorder != nil {
		return sup.StartRecorder(inputURL, outPath, fps)
	}
	return source.StartRecorder(inputURL, outPath, fps)
}

func (sup *Supervisor) recordGrace() time.Duration {
	if sup.RecordGrace > 0 {
		return sup.RecordGrace
	}
	return 3 * time.Second
}

// activeSession is the per-client state. It exclusively owns its source,
// recorder, param store and counters; nothing outlives Handle.
type activeSession struct {
	sup    *Supervisor
	handle uuid.UUID

	raw  Conn
	conn *safeConn

	store *ParamStore

	ctx    context.Context
	cancel context.CancelFunc
	stop   atomic.Bool

	mu     sync.Mutex
	status string

	dbID       int64
	cameraID   string
	cameraName string
	location   string
	sourceType string
	rawURL     string
	resolved   string

	recorder *source.Recorder
	src      source.FrameSource

	tickIdx  int64
	frameIdx int64
	lastMask string
	eofSent  bool
	started  bool

	// EMA timing stats, logged periodically
	avgReadMs  float64
	avgInferMs float64
	avgSendMs  float64
}

// terminate records the first terminal status and raises the stop flag.
// Later calls keep the first status: terminal values are monotonic.
func (s *activeSession) terminate(status string) {
	s.mu.Lock()
	if s.status == data.StatusRunning {
		s.status = status
	}
	s.mu.Unlock()
	s.stop.Store(true)
	s.cancel()
}

func (s *activeSession) finalStatus() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == data.StatusRunning {
		return data.StatusStopped
	}
	return s.status
}

// Handle runs one client session from the start record to teardown. It
// returns when the session has reached a terminal status and every owned
// resource is released.
func (sup *Supervisor) Handle(conn Conn) {
	sc := &safeConn{conn: conn}

	_, raw, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return
	}

	var cfg map[string]any
	if err := json.Unmarshal(raw, &cfg); err != nil {
		sc.send(errorMsg{Type: "error", Msg: "invalid start message"})
		conn.Close()
		return
	}

	rawURL := strings.TrimSpace(stringVal(cfg["video_url"]))
	if rawURL == "" {
		rawURL = strings.TrimSpace(stringVal(cfg["url"]))
	}
	if rawURL == "" {
		sc.send(errorMsg{Type: "error", Msg: "missing video_url"})
		conn.Close()
		return
	}

	resolved := source.Resolve(rawURL, sup.VideoRoot)

	ctx, cancel := context.WithCancel(context.Background())
	s := &activeSession{
		sup:        sup,
		handle:     uuid.New(),
		raw:        conn,
		conn:       sc,
		ctx:        ctx,
		cancel:     cancel,
		status:     data.StatusRunning,
		cameraID:   strings.TrimSpace(stringVal(cfg["camera_id"])),
		cameraName: strings.TrimSpace(stringVal(cfg["camera_name"])),
		location:   strings.TrimSpace(stringVal(cfg["location"])),
		sourceType: strings.TrimSpace(stringVal(cfg["source_type"])),
		rawURL:     rawURL,
		resolved:   resolved,
	}
	if s.sourceType == "" {
		s.sourceType = "video"
	}

	log.Printf("[WS:%s] start: url=%q resolved=%q type=%s", s.handle, rawURL, resolved, s.sourceType)

	// Defaults, config overrides, then the start record's own values.
	s.store = NewParamStore(DefaultParams())
	if sup.DefaultOverrides != nil {
		s.store.Update(sup.DefaultOverrides())
	}
	s.store.Update(cfg)

	// record_video defaults to true for live source types when absent
	recordVideo := false
	if v, ok := cfg["record_video"]; ok {
		recordVideo = boolVal(v)
	} else {
		recordVideo = s.sourceType == "hls" || s.sourceType == "mjpeg"
	}

	if boolVal(cfg["save_to_db"]) && sup.Sessions != nil {
		id, err := sup.Sessions.Create(ctx, &data.DetectSession{
			CameraID:   s.cameraID,
			CameraName: s.cameraName,
			Location:   s.location,
			SourceType: s.sourceType,
			SourceURL:  rawURL, // original address for history playback
			Params:     s.store.Snapshot().Persisted(),
		})
		if err != nil {
			// Downgrade to a non-persistent session rather than abort.
			log.Printf("[DB] create session error: %v", err)
			metrics.RecordPersistError()
		} else {
			s.dbID = id
			sc.send(sessionCreatedMsg{Type: "session_created", SessionID: id})
			log.Printf("[DB] create session OK, id = %d", id)
		}
	}

	var recvDone sync.WaitGroup
	recvDone.Add(1)
	go func() {
		defer recvDone.Done()
		s.receiver()
	}()

	src, err := sup.openSource(resolved)
	if err != nil {
		log.Printf("[WS:%s] open source: %v", s.handle, err)
		sc.send(errorMsg{Type: "error", Msg: "video open failed"})
		s.terminate(data.StatusError)
		s.teardown()
		recvDone.Wait()
		return
	}
	s.src = src

	if recordVideo {
		outPath, err := source.RecordPath(sup.RecordRoot, s.cameraID, time.Now())
		if err == nil {
			rec, rerr := sup.startRecorder(resolved, outPath, s.store.Snapshot().FPS)
			if rerr != nil {
				log.Printf("[REC] ffmpeg start error: %v", rerr)
			} else {
				s.recorder = rec
			}
		} else {
			log.Printf("[REC] record path error: %v", err)
		}
	}

	s.started = true
	metrics.SessionStarted(s.sourceType)
	if sup.Alerts != nil {
		sup.Alerts.SessionStarted(s.dbID, s.cameraID, s.location, s.sourceType)
	}

	if source.IsHLS(resolved) {
		s.runLiveLoop()
	} else {
		s.runFileLoop()
	}

	s.teardown()
	recvDone.Wait()
}

// receiver is the single reader of the inbound channel. It dispatches
// set_params updates and the stop request; a read error means the client is
// gone and counts as a stop.
func (s *activeSession) receiver() {
	for !s.stop.Load() {
		_, raw, err := s.raw.ReadMessage()
		if err != nil {
			s.terminate(data.StatusStopped)
			return
		}

		var msg map[string]any
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}

		switch stringVal(msg["type"]) {
		case "set_params":
			updated := s.store.Update(msg)
			s.conn.send(ackMsg{
				Type:    "ack",
				Updated: updated,
				Params:  s.store.Snapshot(),
			})
		case "stop":
			s.terminate(data.StatusStopped)
			return
		}
	}
}

// teardown releases everything the session owns. Steps are ordered but
// independent: a failure in one never skips the rest, and running it twice
// is harmless.
func (s *activeSession) teardown() {
	s.stop.Store(true)
	s.cancel()

	// (a) unblock the receiver's pending read
	_ = s.raw.SetReadDeadline(time.Now())

	// (b) recorder: terminate, grace, kill
	if s.recorder != nil {
		s.recorder.Stop(s.sup.recordGrace())
	}

	// (c)(d) decoder subprocess / direct handle
	if s.src != nil {
		if err := s.src.Close(); err != nil {
			log.Printf("[WS:%s] source close: %v", s.handle, err)
		}
	}

	status := s.finalStatus()

	// (e) persistence: record path first, then terminal status
	if s.dbID != 0 {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if s.recorder != nil {
			if rel, err := filepath.Rel(filepath.Dir(s.sup.RecordRoot), s.recorder.Path); err == nil {
				if err := s.sup.Sessions.UpdateRecordPath(ctx, s.dbID, rel); err != nil {
					log.Printf("[DB] update record path error: %v", err)
					metrics.RecordPersistError()
				}
			}
		}
		if err := s.sup.Sessions.Finish(ctx, s.dbID, status); err != nil {
			log.Printf("[DB] finish session error: %v", err)
			metrics.RecordPersistError()
		} else {
			log.Printf("[DB] finish session %d => %s", s.dbID, status)
		}
		cancel()
	}

	if s.started {
		if s.sup.Alerts != nil {
			s.sup.Alerts.SessionFinished(s.dbID, s.cameraID, status)
		}
		metrics.SessionEnded(s.sourceType, status)
	}

	// (f) close the outbound channel
	_ = s.raw.Close()
}

func stringVal(v any) string {
	s, _ := v.(string)
	return s
}

func boolVal(v any) bool {
	b, _ := v.(bool)
	return b
}
