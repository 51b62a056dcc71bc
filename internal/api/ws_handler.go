package api

import (
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/technosupport/ts-fms/internal/session"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all for dev; restrict in prod
	},
}

type DetectWsHandler struct {
	Supervisor *session.Supervisor
}

func NewDetectWsHandler(sup *session.Supervisor) *DetectWsHandler {
	return &DetectWsHandler{Supervisor: sup}
}

// Detect upgrades the request and hands the connection to the supervisor,
// which owns it until the session reaches a terminal status.
func (h *DetectWsHandler) Detect(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[WS] upgrade error: %v", err)
		return
	}
	h.Supervisor.Handle(conn)
}
