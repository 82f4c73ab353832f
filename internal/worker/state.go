// Package worker implements the inference worker lifecycle state machine
// and the text/vision call surfaces built on top of it.
package worker

import (
	"fmt"
	"sync/atomic"
)

// State is the worker lifecycle state:
//
//	Spawned --Init--> Loading --ok--> Ready --Generate/Stream--> Busy --finish/cancel--> Ready
//	                    |               |
//	                    +--fail--> Failed (absorbing; only Free allowed)
//	                                    |
//	                                    +--Unload--> Unloaded (only Init allowed)
type State int32

const (
	StateSpawned State = iota
	StateLoading
	StateReady
	StateBusy
	StateFailed
	StateUnloaded
)

var stateNames = map[State]string{
	StateSpawned:  "Spawned",
	StateLoading:  "Loading",
	StateReady:    "Ready",
	StateBusy:     "Busy",
	StateFailed:   "Failed",
	StateUnloaded: "Unloaded",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "Unknown"
}

// stateMachine is the atomic CompareAndSwap-based transition guard shared
// by TextWorker and VisionWorker.
type stateMachine struct {
	state atomic.Int32
}

func newStateMachine() *stateMachine {
	sm := &stateMachine{}
	sm.state.Store(int32(StateSpawned))
	return sm
}

func (sm *stateMachine) current() State {
	return State(sm.state.Load())
}

func (sm *stateMachine) transition(from, to State) bool {
	return sm.state.CompareAndSwap(int32(from), int32(to))
}

func (sm *stateMachine) set(to State) {
	sm.state.Store(int32(to))
}

// requireReady transitions Ready->Busy or returns an error describing why
// the worker cannot accept a kernel-accessing call right now.
func (sm *stateMachine) requireReady() error {
	if sm.transition(StateReady, StateBusy) {
		return nil
	}
	return fmt.Errorf("worker not ready: current state %s", sm.current())
}

func (sm *stateMachine) releaseBusy() {
	sm.transition(StateBusy, StateReady)
}
