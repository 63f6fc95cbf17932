package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(_ *http.Request) bool { return true },
}

type streamEnvelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

const streamWriteWait = 10 * time.Second

// handleStream pushes the caller's state on every StreamEvery tick until the
// client goes away.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFor(w, r)
	if !ok {
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("ws upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	// The read loop only notices the close frame.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	every := s.cfg.StreamEvery
	if every <= 0 {
		every = 2 * time.Second
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	send := func() error {
		_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
		return conn.WriteJSON(streamEnvelope{Type: "state", Payload: sess.State()})
	}
	if err := send(); err != nil {
		return
	}
	for {
		select {
		case <-r.Context().Done():
			return
		case <-done:
			return
		case <-ticker.C:
			if err := send(); err != nil {
				s.log.Debug("stream closed", "user_id", sess.UserID(), "err", err)
				return
			}
		}
	}
}
