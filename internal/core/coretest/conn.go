// Package coretest provides an in-memory core.SignalConnection for tests.
package coretest

import (
	"encoding/json"
	"sync"

	"github.com/dkeye/Parley/internal/core"
)

// Conn records every frame it accepts. Capacity 0 means unbounded.
type Conn struct {
	mu       sync.Mutex
	frames   []core.Frame
	capacity int
	closed   bool
}

func NewConn() *Conn { return &Conn{} }

// NewBoundedConn refuses frames with core.ErrBackpressure once it holds capacity.
func NewBoundedConn(capacity int) *Conn { return &Conn{capacity: capacity} }

func (c *Conn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return core.ErrConnectionClosed
	}
	if c.capacity > 0 && len(c.frames) >= c.capacity {
		return core.ErrBackpressure
	}
	c.frames = append(c.frames, append(core.Frame(nil), f...))
	return nil
}

func (c *Conn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Event is a decoded frame: its type plus the raw JSON.
type Event struct {
	Type string
	Raw  json.RawMessage
}

func (e Event) Decode(v any) error { return json.Unmarshal(e.Raw, v) }

func (c *Conn) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, 0, len(c.frames))
	for _, f := range c.frames {
		var env struct {
			Type string `json:"type"`
		}
		_ = json.Unmarshal(f, &env)
		out = append(out, Event{Type: env.Type, Raw: json.RawMessage(f)})
	}
	return out
}

// OfType returns the recorded events with the given type, in order.
func (c *Conn) OfType(typ string) []Event {
	var out []Event
	for _, e := range c.Events() {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

func (c *Conn) Reset() {
	c.mu.Lock()
	c.frames = nil
	c.mu.Unlock()
}
