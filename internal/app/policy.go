package app

import "github.com/dkeye/Parley/internal/core"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	DropFrame
	KickMember
)

// Policy decides what happens to a connection whose send queue is full.
type Policy interface {
	OnBackPressure(cid core.ConnectionID) BackpressureAction
}

// SimplePolicy kicks slow consumers; the transport close then runs the
// regular disconnect cleanup.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(core.ConnectionID) BackpressureAction {
	return KickMember
}

// TolerantPolicy only drops the frame.
type TolerantPolicy struct{}

func (TolerantPolicy) OnBackPressure(core.ConnectionID) BackpressureAction {
	return DropFrame
}
