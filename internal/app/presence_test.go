package app

import (
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/Parley/internal/core"
	"github.com/dkeye/Parley/internal/core/coretest"
	"github.com/dkeye/Parley/internal/domain"
)

type recordingBroadcaster struct {
	events []core.Frame
}

func (r *recordingBroadcaster) BroadcastAll(f core.Frame, _ domain.UserID) core.PublishResult {
	r.events = append(r.events, f)
	return core.PublishResult{}
}

func TestPresenceMultipleDevices(t *testing.T) {
	out := &recordingBroadcaster{}
	p := NewPresence(out)

	if !p.OnConnectionOpened("u1") {
		t.Fatal("first connection should bring u1 online")
	}
	if p.OnConnectionOpened("u1") {
		t.Fatal("second connection must not re-announce")
	}
	if p.OnConnectionClosed("u1") {
		t.Fatal("u1 still has a device open")
	}
	if !p.IsOnline("u1") {
		t.Fatal("u1 should stay online")
	}
	if !p.OnConnectionClosed("u1") {
		t.Fatal("closing the last device should take u1 offline")
	}
	if p.IsOnline("u1") || len(out.events) != 2 {
		t.Fatalf("expected exactly online+offline, got %d events", len(out.events))
	}
}

func TestPresenceNeverNegative(t *testing.T) {
	p := NewPresence(nil)
	if p.OnConnectionClosed("ghost") {
		t.Fatal("closing an unknown user must be ignored")
	}
	p.OnConnectionOpened("u1")
	p.OnConnectionClosed("u1")
	p.OnConnectionClosed("u1")
	p.OnConnectionOpened("u1")
	if !p.IsOnline("u1") || p.OnlineCount() != 1 {
		t.Fatal("a double close must not leave the counter negative")
	}
}

func TestPresenceCountMatchesDistinctUsers(t *testing.T) {
	p := NewPresence(nil)
	ops := []struct {
		uid  domain.UserID
		open bool
	}{
		{"a", true}, {"a", true}, {"b", true}, {"a", false},
		{"c", true}, {"b", false}, {"b", false}, {"a", false}, {"c", true},
	}
	open := map[domain.UserID]int{}
	for _, op := range ops {
		if op.open {
			p.OnConnectionOpened(op.uid)
			open[op.uid]++
		} else {
			p.OnConnectionClosed(op.uid)
			if open[op.uid] > 0 {
				open[op.uid]--
			}
		}
		want := 0
		for _, n := range open {
			if n > 0 {
				want++
			}
		}
		if p.OnlineCount() != want {
			t.Fatalf("after %+v: online=%d want %d", op, p.OnlineCount(), want)
		}
	}
	if got := p.Snapshot(); !slices.Equal(got, []domain.UserID{"c"}) {
		t.Fatalf("snapshot %v", got)
	}
}

func TestPresenceSkipsOwnConnections(t *testing.T) {
	reg := NewRegistry(nil)
	p := NewPresence(reg)
	mine, theirs := coretest.NewConn(), coretest.NewConn()
	_, _ = reg.Register(ident("u1"), mine)
	_, _ = reg.Register(ident("u2"), theirs)

	p.OnConnectionOpened("u1")
	if len(mine.OfType(core.EventPresenceOnline)) != 0 {
		t.Fatal("a user is not told about themselves")
	}
	evs := theirs.OfType(core.EventPresenceOnline)
	if len(evs) != 1 {
		t.Fatalf("expected one online event, got %d", len(evs))
	}
	var ev core.PresenceEvent
	if err := evs[0].Decode(&ev); err != nil || ev.UserID != "u1" {
		t.Fatalf("bad event %+v err=%v", ev, err)
	}
}

type countingBroadcaster struct {
	mu      sync.Mutex
	online  map[domain.UserID]int
	offline map[domain.UserID]int
}

func (c *countingBroadcaster) BroadcastAll(f core.Frame, _ domain.UserID) core.PublishResult {
	var ev core.PresenceEvent
	_ = json.Unmarshal(f, &ev)
	c.mu.Lock()
	defer c.mu.Unlock()
	if ev.Type == core.EventPresenceOnline {
		c.online[ev.UserID]++
	} else {
		c.offline[ev.UserID]++
	}
	return core.PublishResult{}
}

func TestPresenceConcurrentUsers(t *testing.T) {
	out := &countingBroadcaster{online: map[domain.UserID]int{}, offline: map[domain.UserID]int{}}
	p := NewPresence(out)

	var wg sync.WaitGroup
	for u := 0; u < 40; u++ {
		uid := domain.UserID(fmt.Sprintf("user-%d", u))
		for d := 0; d < 3; d++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < 50; i++ {
					p.OnConnectionOpened(uid)
					p.OnConnectionClosed(uid)
				}
			}()
		}
	}
	wg.Wait()

	if p.OnlineCount() != 0 {
		t.Fatalf("expected nobody online, got %v", p.Snapshot())
	}
	if len(out.online) != 40 || len(out.offline) != 40 {
		t.Fatalf("expected events for 40 users, got %d online and %d offline", len(out.online), len(out.offline))
	}
	for uid, n := range out.online {
		if out.offline[uid] != n {
			t.Fatalf("%s: %d online vs %d offline events", uid, n, out.offline[uid])
		}
	}
}

// blockingBroadcaster parks the fan-out for one user until released.
type blockingBroadcaster struct {
	slow    domain.UserID
	entered chan struct{}
	release chan struct{}
}

func (b *blockingBroadcaster) BroadcastAll(f core.Frame, _ domain.UserID) core.PublishResult {
	var ev core.PresenceEvent
	_ = json.Unmarshal(f, &ev)
	if ev.UserID == b.slow {
		close(b.entered)
		<-b.release
	}
	return core.PublishResult{}
}

func TestPresenceFanoutDoesNotBlockOtherUsers(t *testing.T) {
	out := &blockingBroadcaster{slow: "slow", entered: make(chan struct{}), release: make(chan struct{})}
	p := NewPresence(out)

	fast := domain.UserID("")
	for i := 0; ; i++ {
		candidate := domain.UserID(fmt.Sprintf("fast-%d", i))
		if p.shard(candidate) != p.shard(out.slow) {
			fast = candidate
			break
		}
	}

	go p.OnConnectionOpened(out.slow)
	<-out.entered

	done := make(chan struct{})
	go func() {
		p.OnConnectionOpened(fast)
		p.OnConnectionClosed(fast)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("another user's presence waited on a slow fan-out")
	}
	close(out.release)
}
