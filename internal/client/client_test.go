package client

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"easel/sync/internal/protocol"
	"easel/sync/internal/room"
	"easel/sync/internal/server"
	"easel/sync/internal/shape"
)

func f(v float64) *float64 { return &v }

// newMirror builds a client with live mirrors and no connection, for
// exercising the reconciliation rules directly.
func newMirror() *Client {
	return &Client{
		peers:   make(map[string]struct{}),
		cursors: make(map[string]Cursor),
		shapes:  shape.NewStore(),
		ready:   make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func TestSnapshotReplacesMirrorAndOpensReadyGate(t *testing.T) {
	c := newMirror()
	if c.IsReady() {
		t.Fatal("client ready before any snapshot")
	}

	c.handle(protocol.ServerEvent{
		Type:     protocol.TypeSnapshot,
		Snapshot: &protocol.Snapshot{Shapes: []shape.Shape{{ID: "s1"}, {ID: "s2"}}},
	})

	if !c.IsReady() {
		t.Fatal("snapshot did not open the ready gate")
	}
	shapes := c.Shapes()
	if len(shapes) != 2 || shapes[0].ID != "s1" || shapes[1].ID != "s2" {
		t.Fatalf("unexpected mirror: %+v", shapes)
	}

	// A later snapshot replaces wholesale, never merges.
	c.handle(protocol.ServerEvent{
		Type:     protocol.TypeSnapshot,
		Snapshot: &protocol.Snapshot{Shapes: []shape.Shape{{ID: "s3"}}},
	})
	shapes = c.Shapes()
	if len(shapes) != 1 || shapes[0].ID != "s3" {
		t.Fatalf("snapshot did not replace mirror: %+v", shapes)
	}
}

func TestUpdateShapeSelfHealsMissedCreate(t *testing.T) {
	c := newMirror()
	c.handle(protocol.ServerEvent{
		Type:  protocol.TypeUpdateShape,
		Shape: &shape.Shape{ID: "never-seen", X: 5, Width: 10},
	})

	shapes := c.Shapes()
	if len(shapes) != 1 || shapes[0].ID != "never-seen" {
		t.Fatalf("missed creation was not healed: %+v", shapes)
	}
}

func TestPresenceAndCursorMirror(t *testing.T) {
	c := newMirror()
	c.handle(protocol.ServerEvent{Type: protocol.TypeUserEntered, Presence: &protocol.Presence{ID: "p1"}})
	c.handle(protocol.ServerEvent{Type: protocol.TypeCursorPosition, Cursor: &protocol.CursorUpdate{ID: "p1", CursorX: f(3), CursorY: f(4)}})

	if peers := c.Peers(); len(peers) != 1 || peers[0] != "p1" {
		t.Fatalf("unexpected peers: %v", peers)
	}
	cur, ok := c.PeerCursor("p1")
	if !ok || *cur.X != 3 || *cur.Y != 4 {
		t.Fatalf("unexpected cursor: %+v", cur)
	}

	c.handle(protocol.ServerEvent{Type: protocol.TypeUserExited, Presence: &protocol.Presence{ID: "p1"}})
	if peers := c.Peers(); len(peers) != 0 {
		t.Errorf("peer not removed on exit: %v", peers)
	}
	if _, ok := c.PeerCursor("p1"); ok {
		t.Error("cursor survived its owner's exit")
	}
}

func startTestServer(t *testing.T) string {
	t.Helper()
	rm := room.New("client-test-doc", room.Options{})
	go rm.Run()
	ts := httptest.NewServer(server.New(rm).Handler())
	t.Cleanup(ts.Close)
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func waitFor(t *testing.T, msg string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

func dialReady(t *testing.T, url string) *Client {
	t.Helper()
	c, err := Dial(context.Background(), url)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	select {
	case <-c.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("client never became ready")
	}
	return c
}

func TestTwoClientsConverge(t *testing.T) {
	url := startTestServer(t)
	c1 := dialReady(t, url)
	c2 := dialReady(t, url)

	waitFor(t, "c1 never saw c2 enter", func() bool { return len(c1.Peers()) == 1 })
	if len(c2.Peers()) != 1 {
		t.Fatalf("c2 expected 1 peer, got %v", c2.Peers())
	}

	// Optimistic create: visible locally before any server round trip.
	sh := shape.Shape{ID: "s1", X: 0, Y: 0, Width: 10, Height: 10}
	if err := c1.CreateShape(sh); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if shapes := c1.Shapes(); len(shapes) != 1 || shapes[0].ID != "s1" {
		t.Fatalf("optimistic create not mirrored locally: %+v", shapes)
	}

	waitFor(t, "c2 never received the created shape", func() bool {
		shapes := c2.Shapes()
		return len(shapes) == 1 && shapes[0].ID == "s1"
	})

	// Update merges on both sides and preserves unsupplied geometry.
	if err := c1.UpdateShape(shape.Patch{ID: "s1", X: f(5), Y: f(5)}); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	waitFor(t, "c2 never received the merged update", func() bool {
		shapes := c2.Shapes()
		return len(shapes) == 1 && shapes[0].X == 5 && shapes[0].Y == 5
	})
	if got := c2.Shapes()[0]; got.Width != 10 || got.Height != 10 {
		t.Errorf("width/height not preserved through merge: %+v", got)
	}

	// Cursor relay reaches the peer, attributed to a stable identity.
	if err := c1.MoveCursor(f(1), f(2)); err != nil {
		t.Fatalf("cursor send failed: %v", err)
	}
	waitFor(t, "c2 never saw c1's cursor", func() bool {
		cur, ok := c2.PeerCursor(c2.Peers()[0])
		return ok && cur.X != nil && *cur.X == 1 && *cur.Y == 2
	})
}

func TestLateJoinerCatchesUpViaSnapshot(t *testing.T) {
	url := startTestServer(t)
	c1 := dialReady(t, url)

	if err := c1.CreateShape(shape.Shape{ID: "s1"}); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := c1.CreateShape(shape.Shape{ID: "s2"}); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	c2 := dialReady(t, url)
	waitFor(t, "late joiner never converged on both shapes", func() bool {
		shapes := c2.Shapes()
		return len(shapes) == 2 && shapes[0].ID == "s1" && shapes[1].ID == "s2"
	})
}

func TestDialGivesUpWhenContextExpires(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := Dial(ctx, "ws://127.0.0.1:1/ws")
	if err == nil {
		t.Fatal("expected dial to fail")
	}
	if time.Since(start) > 5*time.Second {
		t.Errorf("dial retries outlived the context")
	}
}
