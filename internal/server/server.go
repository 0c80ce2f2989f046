// Package server exposes one room over HTTP: a websocket event channel
// and a status endpoint for the lifecycle orchestrator.
package server

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"easel/sync/internal/protocol"
	"easel/sync/internal/room"
)

type Server struct {
	room     *room.Room
	upgrader websocket.Upgrader
}

func New(r *room.Room) *Server {
	return &Server{
		room: r,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Any connection that reaches the process is trusted;
			// authentication is handled, if at all, upstream.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/ws", s.handleWS).Methods(http.MethodGet)
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet, http.MethodHead)
	return r
}

// handleStatus is the readiness/status signal the orchestrator polls
// before pointing clients at this process.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"ready":       true,
		"document":    s.room.Document(),
		"connections": s.room.Connections(),
	})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("upgrade failed: %v", err)
		return
	}
	session := s.room.NewSession()
	log.Printf("session %s connected to document %s", session.ID, s.room.Document())
	s.room.Join(session)
	go s.writePump(conn, session)
	s.readPump(conn, session)
}

// readPump decodes client frames and feeds them to the room. Malformed
// frames are logged and dropped; any read error is a disconnect.
func (s *Server) readPump(conn *websocket.Conn, session *room.Session) {
	defer func() {
		s.room.Leave(session)
		conn.Close()
		log.Printf("session %s disconnected", session.ID)
	}()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		ev, err := protocol.Decode(data)
		if err != nil {
			log.Printf("session %s: rejected frame: %v", session.ID, err)
			continue
		}
		s.room.Submit(session, ev)
	}
}

// writePump drains the session's outbound queue onto the wire. The
// queue is closed when the room drops the session, at which point a
// close frame is sent and the connection torn down.
func (s *Server) writePump(conn *websocket.Conn, session *room.Session) {
	for frame := range session.Outbound() {
		if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			log.Printf("session %s: write failed: %v", session.ID, err)
			break
		}
	}
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	conn.Close()
}
