// Package protocol defines the closed event catalog exchanged between
// a sync server process and its clients, and validates inbound frames.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"easel/sync/internal/shape"
)

type EventType string

const (
	// Server to client.
	TypeUserEntered EventType = "user-entered"
	TypeUserExited  EventType = "user-exited"
	TypeSnapshot    EventType = "snapshot"

	// Both directions. From a client, cursor-position carries the
	// sender's own pointer; relayed to peers it carries the sender's
	// identity. update-shape is a patch inbound and the full merged
	// shape outbound.
	TypeCursorPosition EventType = "cursor-position"
	TypeUpdateShape    EventType = "update-shape"

	// Client to server only.
	TypeCreateShape EventType = "create-shape"
)

// Envelope is the wire frame: a type tag plus the event payload.
type Envelope struct {
	Type EventType       `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Presence announces a participant entering or leaving.
type Presence struct {
	ID string `json:"id"`
}

// CursorMove is a client's own pointer position. Nil coordinates mean
// the pointer is not hovering over the board.
type CursorMove struct {
	X *float64 `json:"x"`
	Y *float64 `json:"y"`
}

// CursorUpdate is a relayed pointer position attributed to a peer.
type CursorUpdate struct {
	ID      string   `json:"id"`
	CursorX *float64 `json:"cursorX"`
	CursorY *float64 `json:"cursorY"`
}

// Snapshot is a full replacement transmission of the shape collection.
type Snapshot struct {
	Shapes []shape.Shape `json:"shapes"`
}

// Event is one decoded inbound frame. Exactly one payload field is
// non-nil, matching Type.
type Event struct {
	Type   EventType
	Cursor *CursorMove
	Shape  *shape.Shape
	Patch  *shape.Patch
}

var ErrUnknownType = errors.New("unknown event type")

// Decode parses and validates a client frame. Unknown types, malformed
// payloads, and missing shape identities are rejected; callers log and
// drop the frame without closing the connection.
func Decode(data []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Event{}, fmt.Errorf("decode envelope: %w", err)
	}
	switch env.Type {
	case TypeCursorPosition:
		var cur CursorMove
		if err := json.Unmarshal(env.Data, &cur); err != nil {
			return Event{}, fmt.Errorf("decode cursor-position: %w", err)
		}
		return Event{Type: env.Type, Cursor: &cur}, nil
	case TypeCreateShape:
		var sh shape.Shape
		if err := json.Unmarshal(env.Data, &sh); err != nil {
			return Event{}, fmt.Errorf("decode create-shape: %w", err)
		}
		if sh.ID == "" {
			return Event{}, errors.New("create-shape: missing shape id")
		}
		return Event{Type: env.Type, Shape: &sh}, nil
	case TypeUpdateShape:
		var p shape.Patch
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return Event{}, fmt.Errorf("decode update-shape: %w", err)
		}
		if p.ID == "" {
			return Event{}, errors.New("update-shape: missing shape id")
		}
		return Event{Type: env.Type, Patch: &p}, nil
	default:
		return Event{}, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
}

// ServerEvent is one decoded server-to-client frame. Exactly one
// payload field is non-nil, matching Type. Outbound update-shape
// frames carry the full merged shape, not a patch.
type ServerEvent struct {
	Type     EventType
	Presence *Presence
	Cursor   *CursorUpdate
	Snapshot *Snapshot
	Shape    *shape.Shape
}

// DecodeServer parses and validates a frame received from the server.
func DecodeServer(data []byte) (ServerEvent, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return ServerEvent{}, fmt.Errorf("decode envelope: %w", err)
	}
	switch env.Type {
	case TypeUserEntered, TypeUserExited:
		var p Presence
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return ServerEvent{}, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		if p.ID == "" {
			return ServerEvent{}, fmt.Errorf("%s: missing identity", env.Type)
		}
		return ServerEvent{Type: env.Type, Presence: &p}, nil
	case TypeCursorPosition:
		var cur CursorUpdate
		if err := json.Unmarshal(env.Data, &cur); err != nil {
			return ServerEvent{}, fmt.Errorf("decode cursor-position: %w", err)
		}
		if cur.ID == "" {
			return ServerEvent{}, errors.New("cursor-position: missing identity")
		}
		return ServerEvent{Type: env.Type, Cursor: &cur}, nil
	case TypeSnapshot:
		var sn Snapshot
		if err := json.Unmarshal(env.Data, &sn); err != nil {
			return ServerEvent{}, fmt.Errorf("decode snapshot: %w", err)
		}
		return ServerEvent{Type: env.Type, Snapshot: &sn}, nil
	case TypeUpdateShape:
		var sh shape.Shape
		if err := json.Unmarshal(env.Data, &sh); err != nil {
			return ServerEvent{}, fmt.Errorf("decode update-shape: %w", err)
		}
		if sh.ID == "" {
			return ServerEvent{}, errors.New("update-shape: missing shape id")
		}
		return ServerEvent{Type: env.Type, Shape: &sh}, nil
	default:
		return ServerEvent{}, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
}

// Encode builds a wire frame for the given event type and payload.
func Encode(t EventType, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", t, err)
	}
	frame, err := json.Marshal(Envelope{Type: t, Data: data})
	if err != nil {
		return nil, fmt.Errorf("encode %s envelope: %w", t, err)
	}
	return frame, nil
}
