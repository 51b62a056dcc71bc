package alerts

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/nats-io/nats.go"
)

const (
	SubjectSession = "flood.session"
	SubjectRisk    = "flood.risk"

	dedupMaxKeys = 1024
	// dedupTTL is the silence window per (camera, level) after an alert.
	dedupTTL = 60 * time.Second
)

// SessionEvent announces session lifecycle transitions on the bus.
type SessionEvent struct {
	Kind       string    `json:"kind"` // started | finished
	SessionID  int64     `json:"session_id,omitempty"`
	CameraID   string    `json:"camera_id,omitempty"`
	Location   string    `json:"location,omitempty"`
	SourceType string    `json:"source_type,omitempty"`
	Status     string    `json:"status,omitempty"`
	At         time.Time `json:"at"`
}

// RiskEvent announces a high-risk tick. Deduplicated per camera and level so
// a sustained flood does not flood the bus too.
type RiskEvent struct {
	CameraID string    `json:"camera_id"`
	Level    int       `json:"level"`
	Pct      float64   `json:"pct"`
	TsMs     int64     `json:"ts_ms"`
	At       time.Time `json:"at"`
}

// BusConn is the slice of *nats.Conn the publisher needs.
type BusConn interface {
	Publish(subject string, data []byte) error
}

var _ BusConn = (*nats.Conn)(nil)

// Publisher pushes flood events to NATS. Every method is best-effort: a
// publish failure is logged, never propagated into the session.
type Publisher struct {
	conn  BusConn
	dedup *lru.Cache[string, time.Time]
}

func NewPublisher(conn BusConn) *Publisher {
	c, _ := lru.New[string, time.Time](dedupMaxKeys)
	return &Publisher{conn: conn, dedup: c}
}

func (p *Publisher) publish(subject string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("[ALERT] marshal error: %v", err)
		return
	}
	if err := p.conn.Publish(subject, data); err != nil {
		log.Printf("[ALERT] publish %s error: %v", subject, err)
	}
}

func (p *Publisher) SessionStarted(sessionID int64, cameraID, location, sourceType string) {
	p.publish(SubjectSession, SessionEvent{
		Kind:       "started",
		SessionID:  sessionID,
		CameraID:   cameraID,
		Location:   location,
		SourceType: sourceType,
		At:         time.Now().UTC(),
	})
}

func (p *Publisher) SessionFinished(sessionID int64, cameraID, status string) {
	p.publish(SubjectSession, SessionEvent{
		Kind:      "finished",
		SessionID: sessionID,
		CameraID:  cameraID,
		Status:    status,
		At:        time.Now().UTC(),
	})
}

// HighRiskTick publishes at most one event per camera and level inside the
// dedup window.
func (p *Publisher) HighRiskTick(cameraID string, level int, pct float64, tsMs int64) {
	key := fmt.Sprintf("%s|%d", cameraID, level)
	if at, ok := p.dedup.Get(key); ok && time.Since(at) < dedupTTL {
		return
	}
	p.dedup.Add(key, time.Now())

	p.publish(SubjectRisk, RiskEvent{
		CameraID: cameraID,
		Level:    level,
		Pct:      pct,
		TsMs:     tsMs,
		At:       time.Now().UTC(),
	})
}
