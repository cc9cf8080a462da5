/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2021 Kopano and its licensors
 */

package ingress

import (
	"os"
	"strings"
	"testing"

	"github.com/kgol-oss/mailrelayd/internal/events"
	"github.com/kgol-oss/mailrelayd/internal/lifecycle"
	"github.com/kgol-oss/mailrelayd/internal/spool"
	"github.com/kgol-oss/mailrelayd/internal/upstream"
)

func newTestSession(t *testing.T, timerIntervalMs int) (*Session, *spool.Spool, *lifecycle.State) {
	t.Helper()
	root, err := os.MkdirTemp("", "mailrelayd-ingress-*")
	if err != nil {
		t.Fatalf("mkdtemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(root) })

	sp := spool.New(root, true, events.Multi(nil))
	if err := sp.Init(); err != nil {
		t.Fatalf("spool init: %v", err)
	}

	state := lifecycle.New(timerIntervalMs, nil)
	state.SetReady(true)

	sess := &Session{
		id:     "test-session",
		logger: discardLogger(),
		spool:  sp,
		sender: upstream.New(upstream.Config{}),
		state:  state,
		sink:   events.Multi(nil),
	}
	return sess, sp, state
}

func TestAdmissionParkingModeStoresAndEnqueues(t *testing.T) {
	sess, sp, _ := newTestSession(t, 2000)
	sess.from = "a@example.com"
	sess.to = []string{"b@example.com"}

	if err := sess.Data(strings.NewReader("hello")); err != nil {
		t.Fatalf("expected acceptance in parking mode, got %v", err)
	}

	if _, ok := sp.PopParking(); !ok {
		t.Fatalf("expected one entry enqueued in parking queue")
	}
}

func TestAdmissionRejectsWhenNotReady(t *testing.T) {
	sess, sp, state := newTestSession(t, 2000)
	state.SetReady(false)

	if err := sess.Data(strings.NewReader("hello")); err != ErrServiceNotAvailable {
		t.Fatalf("expected ErrServiceNotAvailable, got %v", err)
	}
	if _, ok := sp.PopParking(); ok {
		t.Fatalf("expected no file created while not ready")
	}
}

func TestAdmissionRejectsWhenListenerPaused(t *testing.T) {
	sess, sp, state := newTestSession(t, 2000)
	state.PauseListener(true)

	if err := sess.Data(strings.NewReader("hello")); err != ErrServiceNotAvailable {
		t.Fatalf("expected ErrServiceNotAvailable, got %v", err)
	}
	if _, ok := sp.PopParking(); ok {
		t.Fatalf("expected no file created while listener paused")
	}
}

func TestAdmissionDirectModeStoresWithoutDispatchWhenSenderPaused(t *testing.T) {
	sess, sp, state := newTestSession(t, 0)
	state.PauseSender(true)
	sess.from = "a@example.com"
	sess.to = []string{"b@example.com"}

	if err := sess.Data(strings.NewReader("hello")); err != nil {
		t.Fatalf("expected acceptance (stored, not dispatched), got %v", err)
	}

	entries, err := os.ReadDir(sp.Dir(spool.Direct))
	if err != nil {
		t.Fatalf("read direct dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 file stored in direct queue, got %d", len(entries))
	}
}

func TestAdmissionDirectModeFailsWithoutSenderConfigured(t *testing.T) {
	sess, _, _ := newTestSession(t, 0)
	sess.from = "a@example.com"
	sess.to = []string{"b@example.com"}

	// sender has no host configured and was never Init'd, so Forward must
	// fail and the session must surface a local processing error.
	if err := sess.Data(strings.NewReader("hello")); err != ErrLocalErrorInProcessing {
		t.Fatalf("expected ErrLocalErrorInProcessing, got %v", err)
	}
}
