package call

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"

	"github.com/dkeye/Parley/internal/app"
	"github.com/dkeye/Parley/internal/core"
	"github.com/dkeye/Parley/internal/core/coretest"
	"github.com/dkeye/Parley/internal/domain"
)

type peerConn struct {
	id   core.ConnectionID
	conn *coretest.Conn
}

type relayFixture struct {
	reg   *app.Registry
	relay *Relay
	peers map[string]peerConn
}

func newRelayFixture(t *testing.T, users ...string) *relayFixture {
	t.Helper()
	reg := app.NewRegistry(nil)
	f := &relayFixture{
		reg:   reg,
		relay: NewRelay(reg, app.NewRoomManager(reg), NewSessionManager()),
		peers: map[string]peerConn{},
	}
	for _, u := range users {
		ident, _ := domain.NewIdentity(domain.UserID(u), u, "", "")
		conn := coretest.NewConn()
		cid, err := reg.Register(ident, conn)
		if err != nil {
			t.Fatal(err)
		}
		f.peers[u] = peerConn{id: cid, conn: conn}
	}
	return f
}

// startCall opens s1 on ch1 with every user as an active participant.
func (f *relayFixture) startCall(t *testing.T, users ...string) domain.CallSessionID {
	t.Helper()
	s, _, err := f.relay.StartCall("s1", "ch1", domain.UserID(users[0]))
	if err != nil {
		t.Fatal(err)
	}
	for _, u := range users[1:] {
		if _, err := f.relay.RecordJoin(s.ID, domain.UserID(u)); err != nil {
			t.Fatal(err)
		}
	}
	for _, p := range f.peers {
		p.conn.Reset()
	}
	return s.ID
}

func (f *relayFixture) join(t *testing.T, u string, sid domain.CallSessionID) {
	t.Helper()
	if err := f.relay.JoinCallRoom(f.peers[u].id, sid); err != nil {
		t.Fatalf("%s join: %v", u, err)
	}
}

func existingPeers(t *testing.T, c *coretest.Conn) []core.ConnectionID {
	t.Helper()
	evs := c.OfType(core.EventCallExistingPeers)
	if len(evs) != 1 {
		t.Fatalf("expected one existingPeers snapshot, got %d", len(evs))
	}
	var ev core.ExistingPeersEvent
	if err := evs[0].Decode(&ev); err != nil {
		t.Fatal(err)
	}
	out := make([]core.ConnectionID, 0, len(ev.Peers))
	for _, p := range ev.Peers {
		out = append(out, p.ConnectionID)
	}
	slices.Sort(out)
	return out
}

func peerEvents(t *testing.T, c *coretest.Conn, typ string) []core.PeerEvent {
	t.Helper()
	var out []core.PeerEvent
	for _, e := range c.OfType(typ) {
		var ev core.PeerEvent
		if err := e.Decode(&ev); err != nil {
			t.Fatal(err)
		}
		out = append(out, ev)
	}
	return out
}

func TestJoinSnapshotThenAnnounce(t *testing.T) {
	f := newRelayFixture(t, "a", "b", "c")
	sid := f.startCall(t, "b", "c", "a")
	f.join(t, "b", sid)
	f.join(t, "c", sid)
	for _, p := range f.peers {
		p.conn.Reset()
	}

	f.join(t, "a", sid)

	want := []core.ConnectionID{f.peers["b"].id, f.peers["c"].id}
	slices.Sort(want)
	if got := existingPeers(t, f.peers["a"].conn); !slices.Equal(got, want) {
		t.Fatalf("existingPeers %v want %v", got, want)
	}
	if evs := peerEvents(t, f.peers["a"].conn, core.EventCallPeerJoined); len(evs) != 0 {
		t.Fatal("joiner was told about itself")
	}
	for _, u := range []string{"b", "c"} {
		evs := peerEvents(t, f.peers[u].conn, core.EventCallPeerJoined)
		if len(evs) != 1 || evs[0].ConnectionID != f.peers["a"].id {
			t.Fatalf("%s got %+v", u, evs)
		}
		if evs[0].Identity == nil || evs[0].Identity.UserID != "a" {
			t.Fatalf("%s missing identity", u)
		}
	}
}

func TestConcurrentJoinersMeetExactlyOnce(t *testing.T) {
	users := make([]string, 0, 8)
	for i := 0; i < 8; i++ {
		users = append(users, fmt.Sprintf("u%d", i))
	}
	f := newRelayFixture(t, users...)
	sid := f.startCall(t, users...)

	var wg sync.WaitGroup
	for _, u := range users {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := f.relay.JoinCallRoom(f.peers[u].id, sid); err != nil {
				t.Errorf("%s join: %v", u, err)
			}
		}()
	}
	wg.Wait()

	for _, u := range users {
		seen := map[core.ConnectionID]int{}
		for _, cid := range existingPeers(t, f.peers[u].conn) {
			seen[cid]++
		}
		for _, ev := range peerEvents(t, f.peers[u].conn, core.EventCallPeerJoined) {
			seen[ev.ConnectionID]++
		}
		if len(seen) != len(users)-1 {
			t.Fatalf("%s learned about %d peers", u, len(seen))
		}
		for cid, n := range seen {
			if n != 1 || cid == f.peers[u].id {
				t.Fatalf("%s learned about %s %d times", u, cid, n)
			}
		}
	}
}

func TestJoinRejectedForNonParticipant(t *testing.T) {
	f := newRelayFixture(t, "a", "b")
	sid := f.startCall(t, "a")
	if err := f.relay.JoinCallRoom(f.peers["b"].id, sid); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := f.relay.JoinCallRoom(f.peers["a"].id, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if len(f.peers["b"].conn.Events()) != 0 {
		t.Fatal("rejected join must be silent")
	}
}

func TestTargetedSignal(t *testing.T) {
	f := newRelayFixture(t, "a", "b", "c")
	sid := f.startCall(t, "a", "b", "c")
	for _, u := range []string{"a", "b", "c"} {
		f.join(t, u, sid)
	}
	for _, p := range f.peers {
		p.conn.Reset()
	}

	payload := json.RawMessage(`{"type":"offer","sdp":"v=0"}`)
	if err := f.relay.RelaySignal(f.peers["a"].id, sid, f.peers["b"].id, payload); err != nil {
		t.Fatal(err)
	}
	evs := f.peers["b"].conn.OfType(core.EventCallSignal)
	if len(evs) != 1 {
		t.Fatalf("target received %d signals", len(evs))
	}
	var ev core.SignalEvent
	_ = evs[0].Decode(&ev)
	if ev.FromConnectionID != f.peers["a"].id || string(ev.Signal) != string(payload) {
		t.Fatalf("unexpected signal %+v", ev)
	}
	if len(f.peers["c"].conn.Events()) != 0 || len(f.peers["a"].conn.Events()) != 0 {
		t.Fatal("targeted signal leaked to other members")
	}
}

func TestBroadcastSignalAndStaleTarget(t *testing.T) {
	f := newRelayFixture(t, "a", "b", "c")
	sid := f.startCall(t, "a", "b", "c")
	for _, u := range []string{"a", "b", "c"} {
		f.join(t, u, sid)
	}
	for _, p := range f.peers {
		p.conn.Reset()
	}

	if err := f.relay.RelaySignal(f.peers["a"].id, sid, "", json.RawMessage(`{"candidate":"x"}`)); err != nil {
		t.Fatal(err)
	}
	if len(f.peers["a"].conn.Events()) != 0 {
		t.Fatal("sender received its own signal")
	}
	if len(f.peers["b"].conn.OfType(core.EventCallSignal)) != 1 || len(f.peers["c"].conn.OfType(core.EventCallSignal)) != 1 {
		t.Fatal("room broadcast missed a member")
	}

	err := f.relay.RelaySignal(f.peers["a"].id, sid, "gone", json.RawMessage(`{}`))
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for stale target, got %v", err)
	}
}

func TestLeaveAnnouncesPeerLeft(t *testing.T) {
	f := newRelayFixture(t, "a", "b")
	sid := f.startCall(t, "a", "b")
	f.join(t, "a", sid)
	f.join(t, "b", sid)
	f.peers["b"].conn.Reset()

	if !f.relay.LeaveCallRoom(f.peers["a"].id, sid) {
		t.Fatal("expected a to leave")
	}
	if f.relay.LeaveCallRoom(f.peers["a"].id, sid) {
		t.Fatal("second leave should be a no-op")
	}
	evs := peerEvents(t, f.peers["b"].conn, core.EventCallPeerLeft)
	if len(evs) != 1 || evs[0].ConnectionID != f.peers["a"].id {
		t.Fatalf("expected one peerLeft for a, got %+v", evs)
	}
}

func TestEndSessionEmptiesRoom(t *testing.T) {
	f := newRelayFixture(t, "a", "b")
	sid := f.startCall(t, "a", "b")
	f.join(t, "a", sid)
	f.join(t, "b", sid)
	for _, p := range f.peers {
		p.conn.Reset()
	}

	if _, err := f.relay.EndSession("a", sid); err != nil {
		t.Fatal(err)
	}
	for _, u := range []string{"a", "b"} {
		evs := f.peers[u].conn.Events()
		if len(evs) == 0 || evs[0].Type != core.EventCallSessionEnded {
			t.Fatalf("%s should first see sessionEnded, got %v", u, evs)
		}
		if f.reg.InRoom(f.peers[u].id, domain.CallRoom(sid)) {
			t.Fatalf("%s still in the call room", u)
		}
	}
	if got := f.relay.Rooms.Members(domain.CallRoom(sid)); len(got) != 0 {
		t.Fatalf("room not empty: %v", got)
	}
	if _, err := f.relay.EndSession("a", sid); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second end, got %v", err)
	}
}

func TestRecordLeaveRemovesUserConnections(t *testing.T) {
	f := newRelayFixture(t, "a", "b")
	sid := f.startCall(t, "a", "b")
	f.join(t, "a", sid)
	f.join(t, "b", sid)
	f.peers["a"].conn.Reset()

	if err := f.relay.RecordLeave(sid, "b"); err != nil {
		t.Fatal(err)
	}
	if f.reg.InRoom(f.peers["b"].id, domain.CallRoom(sid)) {
		t.Fatal("b must leave the room with the roster")
	}
	if len(f.peers["a"].conn.OfType(core.EventCallPeerLeft)) != 1 {
		t.Fatal("a should see b leave")
	}
	if len(f.peers["a"].conn.OfType(core.EventCallParticipantLeft)) != 1 {
		t.Fatal("a should see the roster change")
	}
}

func TestStartCallNotifiesChannel(t *testing.T) {
	f := newRelayFixture(t, "a")
	if err := f.reg.JoinRoom(f.peers["a"].id, domain.ChannelRoom("ch1"), f.relay.Rooms); err != nil {
		t.Fatal(err)
	}
	if _, created, err := f.relay.StartCall("", "ch1", "a"); err != nil || !created {
		t.Fatalf("created=%v err=%v", created, err)
	}
	if _, created, _ := f.relay.StartCall("", "ch1", "a"); created {
		t.Fatal("second start should reuse the session")
	}
	if n := len(f.peers["a"].conn.OfType(core.EventCallStarted)); n != 1 {
		t.Fatalf("expected one call.started, got %d", n)
	}
}

func TestRepeatedJoinAnnouncesOnce(t *testing.T) {
	f := newRelayFixture(t, "a", "b")
	sid := f.startCall(t, "a", "b")
	f.join(t, "b", sid)
	f.join(t, "a", sid)
	f.join(t, "a", sid)

	if evs := peerEvents(t, f.peers["b"].conn, core.EventCallPeerJoined); len(evs) != 1 {
		t.Fatalf("b received %d peerJoined for a", len(evs))
	}
	snapshots := f.peers["a"].conn.OfType(core.EventCallExistingPeers)
	if len(snapshots) != 2 {
		t.Fatalf("a should get the snapshot on each join, got %d", len(snapshots))
	}
	var again core.ExistingPeersEvent
	_ = snapshots[1].Decode(&again)
	if len(again.Peers) != 1 || again.Peers[0].ConnectionID != f.peers["b"].id {
		t.Fatalf("repeated snapshot %+v", again.Peers)
	}
}

func TestRecordLeaveRacingJoinKeepsRoomSubset(t *testing.T) {
	for i := 0; i < 200; i++ {
		f := newRelayFixture(t, "a", "b")
		sid := f.startCall(t, "a", "b")
		f.join(t, "a", sid)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = f.relay.JoinCallRoom(f.peers["b"].id, sid)
		}()
		go func() {
			defer wg.Done()
			if err := f.relay.RecordLeave(sid, "b"); err != nil {
				t.Errorf("record leave: %v", err)
			}
		}()
		wg.Wait()

		for _, cid := range f.relay.Rooms.Members(domain.CallRoom(sid)) {
			ident, err := f.reg.Lookup(cid)
			if err != nil {
				t.Fatal(err)
			}
			if !f.relay.Sessions.Admits(sid, ident.UserID) {
				t.Fatalf("iteration %d: %s is in the room after leaving the roster", i, ident.UserID)
			}
		}
	}
}
