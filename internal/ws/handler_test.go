package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/jhilbert/bg/internal/directory"
	"github.com/jhilbert/bg/internal/hub"
	"github.com/jhilbert/bg/internal/registry"
	"github.com/jhilbert/bg/internal/store/memstore"
	"github.com/jhilbert/bg/internal/types"
)

func newWSServer(t *testing.T) *httptest.Server {
	return newWSServerRetention(t, time.Hour)
}

func newWSServerRetention(t *testing.T, retention time.Duration) *httptest.Server {
	t.Helper()
	log := zap.NewNop()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	h := hub.New(ctx, hub.Config{
		Registry:  registry.New(memstore.NewNames(), 0, log),
		Directory: directory.New(memstore.NewDirectory(), 0, log),
		Snapshots: memstore.NewSnapshots(),
		Retention: retention,
		Log:       log,
	})
	r := chi.NewRouter()
	r.Get("/ws/{roomID}", Handler(h, log))
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", path, err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") })
	return conn
}

func readMsg(t *testing.T, conn *websocket.Conn) types.ServerMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg types.ServerMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return msg
}

func TestHandler_SessionLifecycle(t *testing.T) {
	srv := newWSServer(t)

	host := dial(t, srv, "/ws/test-room?client=client-1&name=Ada")
	joined := readMsg(t, host)
	if joined.Type != types.MsgJoined || joined.Role != types.RoleHost {
		t.Fatalf("unexpected first message: %+v", joined)
	}
	if joined.LocalName != "Ada" {
		t.Fatalf("join-time name not reserved: %+v", joined)
	}

	guest := dial(t, srv, "/ws/test-room?client=client-2")
	guestJoined := readMsg(t, guest)
	if guestJoined.Role != types.RoleGuest || guestJoined.PeerCount != 2 {
		t.Fatalf("unexpected guest join: %+v", guestJoined)
	}

	pj := readMsg(t, host)
	if pj.Type != types.MsgPeerJoined {
		t.Fatalf("host missed peer-joined: %+v", pj)
	}

	// signaling flows host -> guest with the sender role attached
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	frame := `{"type":"signal","payload":{"kind":"offer","data":{"sdp":"v=0"}}}`
	if err := host.Write(ctx, websocket.MessageText, []byte(frame)); err != nil {
		t.Fatalf("write: %v", err)
	}
	relayed := readMsg(t, guest)
	if relayed.Type != types.MsgSignal || relayed.FromRole != types.RoleHost {
		t.Fatalf("unexpected relay: %+v", relayed)
	}
}

func TestHandler_ThirdPeerRejectedBeforeUpgrade(t *testing.T) {
	srv := newWSServer(t)

	host := dial(t, srv, "/ws/test-room?client=client-1")
	readMsg(t, host)
	guest := dial(t, srv, "/ws/test-room?client=client-2")
	readMsg(t, guest)
	readMsg(t, host) // peer-joined

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/test-room?client=client-3"
	conn, resp, err := websocket.Dial(ctx, url, nil)
	if err == nil {
		_ = conn.Close(websocket.StatusNormalClosure, "bye")
		t.Fatalf("third dial should fail")
	}
	if resp == nil || resp.StatusCode != http.StatusConflict {
		t.Fatalf("want 409 before upgrade, got %+v", resp)
	}
}

func TestHandler_DialWorksAfterRoomEviction(t *testing.T) {
	srv := newWSServerRetention(t, 20*time.Millisecond)

	first := dial(t, srv, "/ws/test-room?client=client-1")
	readMsg(t, first)
	_ = first.Close(websocket.StatusNormalClosure, "bye")

	// let the emptied room evict and retire itself
	time.Sleep(150 * time.Millisecond)

	again := dial(t, srv, "/ws/test-room?client=client-1")
	joined := readMsg(t, again)
	if joined.Type != types.MsgJoined || joined.Role != types.RoleHost {
		t.Fatalf("dial after eviction got %+v", joined)
	}
}

func TestHandler_InvalidRoomCode(t *testing.T) {
	srv := newWSServer(t)
	resp, err := srv.Client().Get(srv.URL + "/ws/x")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("want 400 for invalid room code, got %d", resp.StatusCode)
	}
}
