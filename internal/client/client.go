// Package client is the synchronization layer embedded in whiteboard
// frontends: it mirrors presence, cursors, and shapes from one document
// process and applies local edits optimistically before notifying the
// server.
package client

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"easel/sync/internal/protocol"
	"easel/sync/internal/shape"
	"easel/sync/internal/util"
)

// Cursor is a peer's last-known pointer position. Nil coordinates mean
// the peer is not hovering.
type Cursor struct {
	X *float64
	Y *float64
}

// Client mirrors one document's state. Mirrors hold peers only: the
// server never tells a connection its own identity, so the rendering
// layer accounts for self.
type Client struct {
	conn *websocket.Conn

	wmu sync.Mutex // serializes writes to conn

	mu      sync.RWMutex
	peers   map[string]struct{}
	cursors map[string]Cursor
	shapes  *shape.Store

	ready     chan struct{}
	readyOnce sync.Once

	done chan struct{}
	err  error
}

// Dial connects to a document process, retrying the initial connect
// with exponential backoff until ctx is cancelled or the policy gives
// up. The returned client is not ready until Ready fires.
func Dial(ctx context.Context, url string) (*Client, error) {
	var conn *websocket.Conn
	connect := func() error {
		c, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
		if err != nil {
			return fmt.Errorf("dial %s: %w", url, err)
		}
		conn = c
		return nil
	}
	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = 30 * time.Second
	if err := backoff.Retry(connect, backoff.WithContext(policy, ctx)); err != nil {
		return nil, err
	}

	c := &Client{
		conn:    conn,
		peers:   make(map[string]struct{}),
		cursors: make(map[string]Cursor),
		shapes:  shape.NewStore(),
		ready:   make(chan struct{}),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Ready is closed once the initial snapshot has arrived. Consumers
// must not render or send document state before then.
func (c *Client) Ready() <-chan struct{} {
	return c.ready
}

func (c *Client) IsReady() bool {
	select {
	case <-c.ready:
		return true
	default:
		return false
	}
}

// Done is closed when the connection is gone; Err reports why.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.err
}

func (c *Client) Close() error {
	c.wmu.Lock()
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.wmu.Unlock()
	return c.conn.Close()
}

// CreateShape applies the shape to the local mirror immediately, then
// notifies the server. Rendering never waits for an acknowledgment.
// An empty ID gets a fresh client-assigned identity.
func (c *Client) CreateShape(sh shape.Shape) error {
	if sh.ID == "" {
		sh.ID = util.NewShapeID()
	}
	c.mu.Lock()
	c.shapes.Upsert(sh)
	c.mu.Unlock()
	return c.send(protocol.TypeCreateShape, sh)
}

// UpdateShape merges the patch into the local mirror immediately, then
// notifies the server.
func (c *Client) UpdateShape(p shape.Patch) error {
	c.mu.Lock()
	c.shapes.Apply(p)
	c.mu.Unlock()
	return c.send(protocol.TypeUpdateShape, p)
}

// MoveCursor reports the local pointer position; nil coordinates mean
// not hovering. Delivery to peers is best-effort.
func (c *Client) MoveCursor(x, y *float64) error {
	return c.send(protocol.TypeCursorPosition, protocol.CursorMove{X: x, Y: y})
}

// Peers returns the identities of the other connected participants.
func (c *Client) Peers() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.peers))
	for id := range c.peers {
		out = append(out, id)
	}
	return out
}

// PeerCursor returns a peer's last-known cursor.
func (c *Client) PeerCursor(id string) (Cursor, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cur, ok := c.cursors[id]
	return cur, ok
}

// Shapes returns the mirrored shape collection in document order.
func (c *Client) Shapes() []shape.Shape {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.shapes.List()
}

func (c *Client) send(t protocol.EventType, payload any) error {
	frame, err := protocol.Encode(t, payload)
	if err != nil {
		return err
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("send %s: %w", t, err)
	}
	return nil
}

func (c *Client) readLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			c.err = err
			c.mu.Unlock()
			close(c.done)
			return
		}
		ev, err := protocol.DecodeServer(data)
		if err != nil {
			log.Printf("sync client: rejected frame: %v", err)
			continue
		}
		c.handle(ev)
	}
}

// handle applies one server event to the mirrors.
func (c *Client) handle(ev protocol.ServerEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch ev.Type {
	case protocol.TypeUserEntered:
		c.peers[ev.Presence.ID] = struct{}{}
	case protocol.TypeUserExited:
		delete(c.peers, ev.Presence.ID)
		delete(c.cursors, ev.Presence.ID)
	case protocol.TypeCursorPosition:
		c.cursors[ev.Cursor.ID] = Cursor{X: ev.Cursor.CursorX, Y: ev.Cursor.CursorY}
	case protocol.TypeSnapshot:
		c.shapes.Replace(ev.Snapshot.Shapes)
		c.readyOnce.Do(func() { close(c.ready) })
	case protocol.TypeUpdateShape:
		// The frame carries the full merged shape, so an identity we
		// never saw created can simply be appended. This self-heals a
		// missed creation.
		c.shapes.Upsert(*ev.Shape)
	}
}
