package session

import (
	"sync"
	"time"

	"github.com/technosupport/ts-fms/internal/infer"
)

// Conn is the full-duplex text-message channel to one client. A gorilla
// *websocket.Conn satisfies it.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteJSON(v any) error
	SetReadDeadline(t time.Time) error
	Close() error
}

// safeConn serialises outbound writes. The pacing loop and the receiver's
// acks interleave on the same channel; the underlying websocket allows only
// one concurrent writer.
type safeConn struct {
	mu   sync.Mutex
	conn Conn
}

// send returns false when the channel is gone. A failed send is never a
// panic path; callers decide whether it is terminal.
func (c *safeConn) send(v any) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v) == nil
}

// outbound records

type sessionCreatedMsg struct {
	Type      string `json:"type"`
	SessionID int64  `json:"session_id"`
}

type ackMsg struct {
	Type    string   `json:"type"`
	Updated []string `json:"updated"`
	Params  Params   `json:"params"`
}

type errorMsg struct {
	Type string `json:"type"`
	Msg  string `json:"msg"`
}

type eofMsg struct {
	Type string `json:"type"`
}

type tickMsg struct {
	Type    string      `json:"type"`
	TickIdx int64       `json:"tick_idx"`
	Ts      int64       `json:"ts"`
	Pct     float64     `json:"pct"`
	Level   int         `json:"level"`
	Water   infer.Water `json:"water"`
	Risk    infer.Risk  `json:"risk"`
	Params  Params      `json:"params"`
}
