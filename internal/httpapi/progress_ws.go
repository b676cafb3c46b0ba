package httpapi

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var progressUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize: 4096,
	WriteBufferSize: 4096,
}

// ProgressEvent reports one page's structuring progress during document
// processing (spec §4.D step 5, pipeline.PageProgressCallback).
type ProgressEvent struct {
	Current int `json:"current"`
	Total  int `json:"total"`
}

// ProgressHub fans a ProgressEvent stream out to every connected desktop
// client. There is exactly one in-flight document upload at a time in
// this single-profile core, so no per-document routing is needed.
type ProgressHub struct {
	mu   sync.Mutex
	conns map[*websocket.Conn]struct{}
}

// NewProgressHub constructs an empty hub.
func NewProgressHub() *ProgressHub {
	return &ProgressHub{conns: make(map[*websocket.Conn]struct{})}
}

func (h *ProgressHub) add(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[conn] = struct{}{}
}

func (h *ProgressHub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, conn)
}

// Broadcast pushes an event to every connected client, dropping any
// connection that errors on write.
func (h *ProgressHub) Broadcast(event ProgressEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.conns {
		if err := conn.WriteJSON(event); err != nil {
			conn.Close()
			delete(h.conns, conn)
		}
	}
}

// handleProgressWebSocket upgrades the connection and keeps it registered
// with the progress hub until the client disconnects. The client sends no
// messages; ReadMessage only exists to detect the close frame.
func (s *Server) handleProgressWebSocket(c *gin.Context) {
	conn, err := progressUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.Log.Error("failed to upgrade progress websocket", "error", err)
		return
	}
	defer conn.Close()

	s.Progress.add(conn)
	defer s.Progress.remove(conn)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}
