package app

import (
	"sync"
	"testing"

	"github.com/dkeye/Parley/internal/core"
	"github.com/dkeye/Parley/internal/core/coretest"
	"github.com/dkeye/Parley/internal/domain"
)

func TestRoomDeletedWhenEmpty(t *testing.T) {
	reg := NewRegistry(nil)
	rooms := NewRoomManager(reg)
	cid, _ := reg.Register(ident("u1"), coretest.NewConn())
	room := domain.ChannelRoom("general")

	rooms.Join(room, cid)
	if len(rooms.List()) != 1 {
		t.Fatal("room should be created on first join")
	}
	rooms.Leave(room, cid)
	if len(rooms.List()) != 0 {
		t.Fatal("empty room should be deleted")
	}
	if rooms.Leave(room, cid) {
		t.Fatal("leave on absent room should be a no-op")
	}
	if got := rooms.Members(room); got == nil || len(got) != 0 {
		t.Fatalf("members of absent room should be an empty set, got %v", got)
	}
	if res := rooms.Broadcast(room, core.Frame(`{}`), ""); res.SendTo != 0 {
		t.Fatal("broadcast to absent room should reach nobody")
	}
}

func TestBroadcastExcludesAndStopsAfterLeave(t *testing.T) {
	reg := NewRegistry(nil)
	rooms := NewRoomManager(reg)
	connA, connB := coretest.NewConn(), coretest.NewConn()
	a, _ := reg.Register(ident("a"), connA)
	b, _ := reg.Register(ident("b"), connB)
	room := domain.ChannelRoom("general")
	rooms.Join(room, a)
	rooms.Join(room, b)

	rooms.Broadcast(room, core.Frame(`{"type":"one"}`), a)
	if len(connA.Events()) != 0 || len(connB.OfType("one")) != 1 {
		t.Fatal("excluded member received the frame")
	}

	rooms.Leave(room, a)
	rooms.Broadcast(room, core.Frame(`{"type":"two"}`), "")
	if len(connA.OfType("two")) != 0 {
		t.Fatal("departed member received a later broadcast")
	}
	if len(connB.OfType("two")) != 1 {
		t.Fatal("remaining member missed the broadcast")
	}
}

func TestBroadcastOrderPerRoom(t *testing.T) {
	reg := NewRegistry(nil)
	rooms := NewRoomManager(reg)
	conn := coretest.NewConn()
	cid, _ := reg.Register(ident("a"), conn)
	room := domain.ChannelRoom("general")
	rooms.Join(room, cid)

	for _, typ := range []string{"m1", "m2", "m3"} {
		rooms.Broadcast(room, core.Frame(`{"type":"`+typ+`"}`), "")
	}
	events := conn.Events()
	if len(events) != 3 || events[0].Type != "m1" || events[1].Type != "m2" || events[2].Type != "m3" {
		t.Fatalf("unexpected order %v", events)
	}
}

func TestConcurrentJoinLeaveKeepsRoomConsistent(t *testing.T) {
	reg := NewRegistry(nil)
	rooms := NewRoomManager(reg)
	room := domain.CallRoom("s1")
	keeper, _ := reg.Register(ident("keeper"), coretest.NewConn())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cid, _ := reg.Register(ident("churn"), coretest.NewConn())
			for j := 0; j < 20; j++ {
				rooms.Join(room, cid)
				rooms.Leave(room, cid)
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		rooms.Join(room, keeper)
	}()
	wg.Wait()

	members := rooms.Members(room)
	if len(members) != 1 || members[0] != keeper {
		t.Fatalf("expected only the keeper, got %v", members)
	}
}
