package room

import (
	"github.com/google/uuid"
)

// Session is one live client connection as the room sees it: an opaque
// identity assigned for the lifetime of the process, an outbound frame
// queue drained by the transport's write pump, and the participant's
// last-known cursor.
type Session struct {
	ID string

	send chan []byte

	// Last-known pointer position; nil means not hovering. Owned by
	// the room's dispatch goroutine.
	cursorX, cursorY *float64
}

func newSession(buffer int) *Session {
	return &Session{
		ID:   uuid.NewString(),
		send: make(chan []byte, buffer),
	}
}

// Outbound is the stream of frames queued for this connection. It is
// closed when the room removes the session.
func (s *Session) Outbound() <-chan []byte {
	return s.send
}

// trySend enqueues a frame without blocking. Only the room's dispatch
// goroutine may call it; the session's channel is never closed while
// the session is registered.
func (s *Session) trySend(frame []byte) bool {
	select {
	case s.send <- frame:
		return true
	default:
		return false
	}
}
