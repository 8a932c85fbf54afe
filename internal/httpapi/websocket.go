package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The event stream is read-only telemetry; origin enforcement belongs to
	// the fronting proxy.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

// streamEvents upgrades to a websocket and pushes the event log. A last_seq
// query parameter replays buffered events after that sequence before
// switching to live delivery.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	var lastSeq uint64
	if q := r.URL.Query().Get("last_seq"); q != "" {
		n, err := strconv.ParseUint(q, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid last_seq")
			return
		}
		lastSeq = n
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	// Subscribe before replaying so no event falls between the two; the
	// sequence check below drops the overlap.
	live := s.events.Subscribe(64)
	defer s.events.Unsubscribe(live)

	for _, e := range s.events.ReplaySince(lastSeq) {
		if err := writeEvent(conn, e.Marshal()); err != nil {
			return
		}
		lastSeq = e.Seq
	}

	// Drain client frames so pong handling and close frames work.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case e, ok := <-live:
			if !ok {
				return
			}
			if e.Seq <= lastSeq {
				continue
			}
			if err := writeEvent(conn, e.Marshal()); err != nil {
				return
			}
			lastSeq = e.Seq
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}

func writeEvent(conn *websocket.Conn, payload []byte) error {
	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, payload)
}
