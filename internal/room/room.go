// Package room implements the authoritative per-document state and the
// single dispatch loop that serializes every inbound event against it.
package room

import (
	"log"
	"sync/atomic"
	"time"

	"easel/sync/internal/protocol"
	"easel/sync/internal/shape"
)

// Options tunes a room. The zero value disables idle shutdown and uses
// the default outbound buffer.
type Options struct {
	// IdleTimeout is how long the room may sit with zero connections
	// before signalling Done. Zero disables idle shutdown.
	IdleTimeout time.Duration

	// SendBuffer is the per-session outbound queue length.
	SendBuffer int
}

const defaultSendBuffer = 256

// Room owns all mutable state for one document: the connection
// registry (session map) and the shape store. All mutation happens on
// the Run goroutine, so no component takes a lock.
type Room struct {
	document string
	opts     Options

	join    chan *Session
	leave   chan *Session
	inbound chan inbound
	done    chan struct{}

	conns atomic.Int64

	// Owned by Run.
	sessions map[string]*Session
	shapes   *shape.Store
}

type inbound struct {
	from  *Session
	event protocol.Event
}

func New(document string, opts Options) *Room {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = defaultSendBuffer
	}
	return &Room{
		document: document,
		opts:     opts,
		join:     make(chan *Session),
		leave:    make(chan *Session),
		inbound:  make(chan inbound, 64),
		done:     make(chan struct{}),
		sessions: make(map[string]*Session),
		shapes:   shape.NewStore(),
	}
}

func (r *Room) Document() string {
	return r.document
}

// Connections reports the current registry size. Safe from any
// goroutine; used by the status endpoint and the lifecycle heartbeat.
func (r *Room) Connections() int64 {
	return r.conns.Load()
}

// Done is closed when the room has been empty for the idle timeout.
// The process is expected to exit; the orchestrator respawns on the
// next access to the document.
func (r *Room) Done() <-chan struct{} {
	return r.done
}

// NewSession allocates a session with a fresh connection identity. The
// caller hands it to Join once the transport is ready to drain it.
func (r *Room) NewSession() *Session {
	return newSession(r.opts.SendBuffer)
}

func (r *Room) Join(s *Session) {
	r.join <- s
}

// Leave is idempotent: duplicate disconnect signals for the same
// session are silently ignored.
func (r *Room) Leave(s *Session) {
	r.leave <- s
}

// Submit forwards a decoded client event into the dispatch stream.
func (r *Room) Submit(s *Session, ev protocol.Event) {
	r.inbound <- inbound{from: s, event: ev}
}

// Run processes joins, leaves, and client events one at a time. It
// returns after closing Done when the room has been idle too long.
func (r *Room) Run() {
	var idle *time.Timer
	var idleC <-chan time.Time
	armed := false
	if r.opts.IdleTimeout > 0 {
		idle = time.NewTimer(r.opts.IdleTimeout)
		idleC = idle.C
		armed = true
	}
	for {
		select {
		case s := <-r.join:
			r.addSession(s)
		case s := <-r.leave:
			r.removeSession(s)
		case in := <-r.inbound:
			r.dispatch(in)
		case <-idleC:
			armed = false
			if len(r.sessions) == 0 {
				log.Printf("room %s: idle for %s, shutting down", r.document, r.opts.IdleTimeout)
				close(r.done)
				return
			}
		}
		// Keep the idle timer armed exactly while the registry is
		// empty.
		if idle != nil {
			if len(r.sessions) == 0 && !armed {
				idle.Reset(r.opts.IdleTimeout)
				armed = true
			} else if len(r.sessions) > 0 && armed {
				if !idle.Stop() {
					<-idle.C
				}
				armed = false
			}
		}
	}
}

// addSession runs the join sequence: replay the existing presence set
// and the shape snapshot to the newcomer, register it, then announce it
// to everyone else. The announcement comes last so a join abandoned
// mid-replay was never visible to the peers and leaves no ghost in
// their presence mirrors.
func (r *Room) addSession(s *Session) {
	for _, peer := range r.sessions {
		frame, ok := r.encode(protocol.TypeUserEntered, protocol.Presence{ID: peer.ID})
		if !ok {
			continue
		}
		if !s.trySend(frame) {
			close(s.send)
			return
		}
	}
	if frame, ok := r.encode(protocol.TypeSnapshot, protocol.Snapshot{Shapes: r.shapes.List()}); ok {
		if !s.trySend(frame) {
			close(s.send)
			return
		}
	}
	r.sessions[s.ID] = s
	r.conns.Store(int64(len(r.sessions)))
	if frame, ok := r.encode(protocol.TypeUserEntered, protocol.Presence{ID: s.ID}); ok {
		r.broadcast(frame, s.ID)
	}
}

// removeSession drops a session from the registry and tells the
// remaining participants. Unknown sessions are a no-op so duplicate
// disconnects and already-evicted senders are harmless.
func (r *Room) removeSession(s *Session) {
	if _, ok := r.sessions[s.ID]; !ok {
		return
	}
	delete(r.sessions, s.ID)
	close(s.send)
	r.conns.Store(int64(len(r.sessions)))
	if frame, ok := r.encode(protocol.TypeUserExited, protocol.Presence{ID: s.ID}); ok {
		r.broadcast(frame, "")
	}
}

func (r *Room) dispatch(in inbound) {
	if _, ok := r.sessions[in.from.ID]; !ok {
		// The sender was evicted or left while this event was queued.
		return
	}
	switch in.event.Type {
	case protocol.TypeCursorPosition:
		in.from.cursorX = in.event.Cursor.X
		in.from.cursorY = in.event.Cursor.Y
		frame, ok := r.encode(protocol.TypeCursorPosition, protocol.CursorUpdate{
			ID:      in.from.ID,
			CursorX: in.event.Cursor.X,
			CursorY: in.event.Cursor.Y,
		})
		if ok {
			r.relay(frame, in.from.ID)
		}
	case protocol.TypeCreateShape:
		r.shapes.Upsert(*in.event.Shape)
		// Creation changes the collection size, so peers get a full
		// snapshot; the originator already applied it optimistically.
		frame, ok := r.encode(protocol.TypeSnapshot, protocol.Snapshot{Shapes: r.shapes.List()})
		if ok {
			r.broadcast(frame, in.from.ID)
		}
	case protocol.TypeUpdateShape:
		merged, found := r.shapes.Apply(*in.event.Patch)
		if !found {
			// Unknown identity: silent no-op, nothing goes out.
			return
		}
		frame, ok := r.encode(protocol.TypeUpdateShape, merged)
		if ok {
			r.broadcast(frame, in.from.ID)
		}
	}
}

// broadcast delivers a correctness-critical frame to every session but
// the excluded one. Failed deliveries are isolated per destination: a
// session whose queue is full is evicted rather than blocking the
// dispatch loop or cancelling the other sends.
func (r *Room) broadcast(frame []byte, except string) {
	var dead []*Session
	for _, s := range r.sessions {
		if s.ID == except {
			continue
		}
		if !s.trySend(frame) {
			dead = append(dead, s)
		}
	}
	for _, s := range dead {
		log.Printf("room %s: evicting slow session %s", r.document, s.ID)
		r.removeSession(s)
	}
}

// relay delivers a cursor frame best-effort: a full queue drops the
// frame for that destination. Cursor positions are continuously
// superseded, so a drop costs smoothness, not correctness.
func (r *Room) relay(frame []byte, except string) {
	for _, s := range r.sessions {
		if s.ID == except {
			continue
		}
		s.trySend(frame)
	}
}

func (r *Room) encode(t protocol.EventType, payload any) ([]byte, bool) {
	frame, err := protocol.Encode(t, payload)
	if err != nil {
		log.Printf("room %s: encode %s: %v", r.document, t, err)
		return nil, false
	}
	return frame, true
}
