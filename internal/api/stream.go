package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/talgya/undercover/internal/state"
)

var upgrader = websocket.Upgrader{
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  1024,
	WriteBufferSize: 64 * 1024,
}

// Frame is one message pushed on /api/v1/stream.
type Frame struct {
	Type   string           `json:"type"` // "snapshot" or "closed"
	Status *StatusResponse  `json:"status,omitempty"`
	Gangs  []state.GangView `json:"gangs,omitempty"`
	Events []state.Event    `json:"events,omitempty"`
}

const writeWait = 5 * time.Second

// handleStream pushes a snapshot frame every StreamInterval, carrying the
// events recorded since the previous frame. When the run is torn down it
// sends a final "closed" frame and hangs up.
func (s *Server) handleStream(c *gin.Context) {
	if !s.acquireStream() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "too many stream connections"})
		return
	}
	defer s.releaseStream()

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer ws.Close()
	slog.Info("stream client connected", "remote", c.ClientIP())

	// Reader: only needed to notice the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := ws.NextReader(); err != nil {
				return
			}
		}
	}()

	interval := s.StreamInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastSeq uint64
	for {
		frame, seq, ok := s.frame(lastSeq)
		lastSeq = seq
		_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
		if err := ws.WriteJSON(frame); err != nil {
			slog.Debug("stream write failed", "error", err)
			return
		}
		if !ok {
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "simulation stopped"),
				time.Now().Add(writeWait))
			return
		}

		select {
		case <-ticker.C:
		case <-gone:
			slog.Info("stream client disconnected", "remote", c.ClientIP())
			return
		case <-c.Request.Context().Done():
			return
		}
	}
}

// frame builds the next frame. ok is false once the store has been released.
func (s *Server) frame(since uint64) (Frame, uint64, bool) {
	store := s.Sim.Store()
	snap, err := store.Snapshot()
	if err != nil {
		return Frame{Type: "closed"}, since, false
	}
	events, err := store.EventsSince(since)
	if err != nil {
		return Frame{Type: "closed"}, since, false
	}
	if len(events) > 0 {
		since = events[len(events)-1].Seq
	}
	st := s.statusOf(snap)
	return Frame{Type: "snapshot", Status: &st, Gangs: snap.Gangs, Events: events}, since, true
}
