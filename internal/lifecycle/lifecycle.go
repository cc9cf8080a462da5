/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2021 Kopano and its licensors
 */

// Package lifecycle holds the small set of flags read by both the ingress
// path and the relay ticker: ready, listener running/paused, sender
// paused, scanning, and the configured timer interval. Per the "shared
// mutable flags" design note, state is modeled as an immutable Snapshot
// swapped under a short critical section rather than as references handed
// out to callers.
package lifecycle

import (
	"sync"
	"time"

	"github.com/kgol-oss/mailrelayd/internal/events"
)

// Snapshot is an immutable view of the admission/lifecycle flags at one
// instant. Callers must never mutate a Snapshot; obtain a fresh one via
// State.Current for every decision.
type Snapshot struct {
	Ready           bool
	ListenerRunning bool
	ListenerPaused  bool
	SenderPaused    bool
	Scanning        bool
	TimerIntervalMs int
}

// TimerEnabled reports the direct/parking mode distinction. Reported
// correctly as enabled iff TimerIntervalMs > 0.
func (s Snapshot) TimerEnabled() bool {
	return s.TimerIntervalMs > 0
}

// State owns the mutable flags and publishes a fresh Snapshot to readers.
// All mutation goes through its methods, which serialize access under a
// mutex; Current returns a copy of the Snapshot value taken under the same
// mutex.
type State struct {
	sink events.EventSink

	mu  sync.Mutex
	cur Snapshot
}

// New constructs a State. timerIntervalMs is fixed for the process
// lifetime (set at configuration time, not an operator-mutable flag).
func New(timerIntervalMs int, sink events.EventSink) *State {
	if sink == nil {
		sink = events.Multi(nil)
	}
	return &State{
		sink: sink,
		cur: Snapshot{
			TimerIntervalMs: timerIntervalMs,
		},
	}
}

// Current returns the present Snapshot.
func (st *State) Current() Snapshot {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.cur
}

// SetReady marks the system ready or not-ready, e.g. once C1/C2/C3/C4 have
// been constructed and initialized at bootstrap.
func (st *State) SetReady(ready bool) {
	st.mu.Lock()
	st.cur.Ready = ready
	st.mu.Unlock()
}

// SetListenerRunning records whether the ingress server is currently
// accepting connections.
func (st *State) SetListenerRunning(running bool) {
	st.mu.Lock()
	st.cur.ListenerRunning = running
	st.mu.Unlock()
}

// SetScanning records whether a spool rescan is in progress, so the relay
// engine can suppress a tick that might race with queue replacement.
func (st *State) SetScanning(scanning bool) {
	st.mu.Lock()
	st.cur.Scanning = scanning
	st.mu.Unlock()
}

// PauseSender toggles the sender pause flag, emitting a log event only
// when the value actually changes.
func (st *State) PauseSender(paused bool) {
	st.setPause(&st.cur.SenderPaused, paused, "sender")
}

// PauseListener toggles the listener pause flag, emitting a log event only
// when the value actually changes.
func (st *State) PauseListener(paused bool) {
	st.setPause(&st.cur.ListenerPaused, paused, "listener")
}

func (st *State) setPause(flag *bool, paused bool, what string) {
	st.mu.Lock()
	changed := *flag != paused
	*flag = paused
	st.mu.Unlock()

	if changed {
		st.sink.Publish(events.Event{
			Kind:    events.Warning,
			Time:    time.Now(),
			Message: pauseMessage(what, paused),
		})
	}
}

func pauseMessage(what string, paused bool) string {
	if paused {
		return what + " paused"
	}
	return what + " resumed"
}
