package transport

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/kapu/chess-arena-server/internal/queue"
	"github.com/kapu/chess-arena-server/internal/sched"
	"github.com/kapu/chess-arena-server/internal/session"
	"github.com/kapu/chess-arena-server/internal/wager"
	"github.com/kapu/chess-arena-server/pkg/arenadto"
)

func newTestServer(t *testing.T) (*Server, *queue.Queue, string) {
	t.Helper()
	timers := sched.New()
	t.Cleanup(timers.Stop)
	sessions := session.NewManager(session.Config{}, timers)
	t.Cleanup(sessions.Stop)
	wagers := wager.NewManager(wager.Config{}, timers)
	pool := queue.New(queue.Config{}, timers, wagers)
	wagers.AttachSessions(sessions)
	wagers.AttachPool(pool)

	srv := NewServer(sessions, pool, wagers, nil)
	sessions.SetNotifier(srv)
	wagers.SetNotifier(srv)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	return srv, pool, wsURL
}

func dial(t *testing.T, wsURL string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = c.Close(websocket.StatusNormalClosure, "") })
	return c
}

func send(t *testing.T, c *websocket.Conn, event string, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := wsjson.Write(ctx, c, Envelope{Event: event, Data: raw}); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func read(t *testing.T, c *websocket.Conn) Envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var env Envelope
	if err := wsjson.Read(ctx, c, &env); err != nil {
		t.Fatalf("read: %v", err)
	}
	return env
}

func TestJoinQueueOverWire(t *testing.T) {
	_, pool, wsURL := newTestServer(t)
	c := dial(t, wsURL)

	send(t, c, arenadto.EvJoinQueue, arenadto.JoinQueueReq{
		Mode:        "blitz",
		TimeControl: "5+3",
		Rated:       false,
		Side:        "random",
	})

	deadline := time.Now().Add(2 * time.Second)
	for pool.Depth() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("queue depth = %d", pool.Depth())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestGuestRatedJoinRejectedOverWire(t *testing.T) {
	_, _, wsURL := newTestServer(t)
	c := dial(t, wsURL)

	send(t, c, arenadto.EvJoinQueue, arenadto.JoinQueueReq{
		Mode:        "blitz",
		TimeControl: "5+3",
		Rated:       true,
	})

	env := read(t, c)
	if env.Event != arenadto.EvError {
		t.Fatalf("event = %s", env.Event)
	}
	var notice arenadto.ErrorNotice
	if err := json.Unmarshal(env.Data, &notice); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if notice.Code != arenadto.CodeValidation {
		t.Fatalf("code = %s", notice.Code)
	}
}

func TestUnknownEventReturnsError(t *testing.T) {
	_, _, wsURL := newTestServer(t)
	c := dial(t, wsURL)

	send(t, c, "game.teleport", map[string]string{})
	env := read(t, c)
	if env.Event != arenadto.EvError {
		t.Fatalf("event = %s", env.Event)
	}
}

func TestTwoGuestsArePairedIntoASession(t *testing.T) {
	_, pool, wsURL := newTestServer(t)
	c1 := dial(t, wsURL)
	c2 := dial(t, wsURL)

	req := arenadto.JoinQueueReq{Mode: "blitz", TimeControl: "5+3", Rated: false, Side: "random"}
	send(t, c1, arenadto.EvJoinQueue, req)
	send(t, c2, arenadto.EvJoinQueue, req)

	deadline := time.Now().Add(2 * time.Second)
	for pool.Depth() != 2 {
		if time.Now().After(deadline) {
			t.Fatalf("queue depth = %d", pool.Depth())
		}
		time.Sleep(5 * time.Millisecond)
	}
	pool.PairPass(context.Background())

	for _, c := range []*websocket.Conn{c1, c2} {
		env := read(t, c)
		if env.Event != arenadto.EvSessionReady {
			t.Fatalf("event = %s", env.Event)
		}
		var notice arenadto.SessionReadyNotice
		if err := json.Unmarshal(env.Data, &notice); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if notice.SessionID == "" || notice.Color == "" {
			t.Fatalf("incomplete session.ready: %+v", notice)
		}
	}
}

func TestMidGameJoinQueueRejected(t *testing.T) {
	_, pool, wsURL := newTestServer(t)
	c1 := dial(t, wsURL)
	c2 := dial(t, wsURL)

	req := arenadto.JoinQueueReq{Mode: "blitz", TimeControl: "5+3", Rated: false, Side: "random"}
	send(t, c1, arenadto.EvJoinQueue, req)
	send(t, c2, arenadto.EvJoinQueue, req)
	deadline := time.Now().Add(2 * time.Second)
	for pool.Depth() != 2 {
		if time.Now().After(deadline) {
			t.Fatalf("queue depth = %d", pool.Depth())
		}
		time.Sleep(5 * time.Millisecond)
	}
	pool.PairPass(context.Background())
	if env := read(t, c1); env.Event != arenadto.EvSessionReady {
		t.Fatalf("event = %s", env.Event)
	}

	send(t, c1, arenadto.EvJoinQueue, req)
	env := read(t, c1)
	if env.Event != arenadto.EvError {
		t.Fatalf("event = %s", env.Event)
	}
	var notice arenadto.ErrorNotice
	if err := json.Unmarshal(env.Data, &notice); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if notice.Code != arenadto.CodeStateConflict {
		t.Fatalf("code = %s", notice.Code)
	}
	if pool.Depth() != 0 {
		t.Fatalf("mid-game player slipped into the queue, depth = %d", pool.Depth())
	}
}

func TestDisconnectLeavesQueue(t *testing.T) {
	_, pool, wsURL := newTestServer(t)
	c := dial(t, wsURL)
	send(t, c, arenadto.EvJoinQueue, arenadto.JoinQueueReq{
		Mode:        "blitz",
		TimeControl: "5+3",
	})
	deadline := time.Now().Add(2 * time.Second)
	for pool.Depth() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("entry never joined")
		}
		time.Sleep(5 * time.Millisecond)
	}

	_ = c.Close(websocket.StatusNormalClosure, "")
	for pool.Depth() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("queue depth after disconnect = %d", pool.Depth())
		}
		time.Sleep(5 * time.Millisecond)
	}
}
