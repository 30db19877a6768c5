package hub

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/jhilbert/bg/internal/directory"
	"github.com/jhilbert/bg/internal/registry"
	"github.com/jhilbert/bg/internal/room"
	"github.com/jhilbert/bg/internal/store/memstore"
	"github.com/jhilbert/bg/internal/types"
)

func newTestHub(t *testing.T, retention time.Duration) *Hub {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return New(ctx, Config{
		Registry:  registry.New(memstore.NewNames(), 0, zap.NewNop()),
		Directory: directory.New(memstore.NewDirectory(), 0, zap.NewNop()),
		Snapshots: memstore.NewSnapshots(),
		Retention: retention,
		Log:       zap.NewNop(),
	})
}

func ensure(t *testing.T, h *Hub, code string) *room.Room {
	t.Helper()
	reply := make(chan *room.Room, 1)
	h.Inbox() <- EnsureRoom{Code: code, Reply: reply}
	select {
	case rm := <-reply:
		return rm
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for room")
		return nil // unreachable
	}
}

func get(t *testing.T, h *Hub, code string) *room.Room {
	t.Helper()
	reply := make(chan *room.Room, 1)
	h.Inbox() <- GetRoom{Code: code, Reply: reply}
	select {
	case rm := <-reply:
		return rm
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for room")
		return nil // unreachable
	}
}

func TestHub_EnsureReturnsSameActor(t *testing.T) {
	h := newTestHub(t, 0)

	a := ensure(t, h, "room-one")
	if a == nil {
		t.Fatalf("ensure returned nil")
	}
	b := ensure(t, h, "room-one")
	if a != b {
		t.Fatalf("two ensures for one code returned different actors")
	}
	if other := ensure(t, h, "room-two"); other == a {
		t.Fatalf("distinct codes share an actor")
	}
	if got := get(t, h, "room-one"); got != a {
		t.Fatalf("get returned a different actor")
	}
	if got := get(t, h, "missing"); got != nil {
		t.Fatalf("get for unknown code should be nil, got %v", got)
	}
}

func TestHub_EnsureAfterEvictionRespawns(t *testing.T) {
	h := newTestHub(t, 20*time.Millisecond)
	rm := ensure(t, h, "room-one")

	out := make(chan types.ServerMessage, 16)
	reply := make(chan room.JoinResult, 1)
	rm.Inbox() <- room.Join{SessionID: "s1", ClientID: "c1", Outbox: out, Reply: reply}
	<-reply
	rm.Inbox() <- room.Leave{SessionID: "s1"}

	deadline := time.Now().Add(2 * time.Second)
	for !rm.Retired() {
		if time.Now().After(deadline) {
			t.Fatalf("room never retired")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// ensure must never hand out the dead actor
	rm2 := ensure(t, h, "room-one")
	if rm2 == rm {
		t.Fatalf("ensure returned the retired actor")
	}
	if rm2.Retired() {
		t.Fatalf("respawned actor is already retired")
	}

	out2 := make(chan types.ServerMessage, 16)
	reply2 := make(chan room.JoinResult, 1)
	rm2.Inbox() <- room.Join{SessionID: "s2", ClientID: "c2", Outbox: out2, Reply: reply2}
	select {
	case res := <-reply2:
		if res.Err != nil || res.Role != types.RoleHost {
			t.Fatalf("join on respawned room: %+v", res)
		}
	case <-time.After(time.Second):
		t.Fatalf("join on respawned room hung")
	}

	// a stale retirement notice must not knock the respawn out of the map
	time.Sleep(50 * time.Millisecond)
	if got := get(t, h, "room-one"); got != rm2 {
		t.Fatalf("respawned room lost from the hub map")
	}
}

func TestHub_RetiredRoomDropsOutOfMap(t *testing.T) {
	h := newTestHub(t, 20*time.Millisecond)
	rm := ensure(t, h, "room-one")

	// cycle one session through so the room empties and evicts itself
	out := make(chan types.ServerMessage, 16)
	reply := make(chan room.JoinResult, 1)
	rm.Inbox() <- room.Join{SessionID: "s1", ClientID: "c1", Outbox: out, Reply: reply}
	<-reply
	rm.Inbox() <- room.Leave{SessionID: "s1"}

	deadline := time.After(2 * time.Second)
	for {
		if got := get(t, h, "room-one"); got == nil {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("evicted room still registered in the hub")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
