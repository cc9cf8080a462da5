/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2021 Kopano and its licensors
 */

package relay

import (
	"errors"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kgol-oss/mailrelayd/internal/events"
	"github.com/kgol-oss/mailrelayd/internal/lifecycle"
	"github.com/kgol-oss/mailrelayd/internal/spool"
	"github.com/kgol-oss/mailrelayd/internal/upstream"
)

type fakeForwarder struct {
	calls     int32
	inflight  int32
	maxInflight int32
	fail      bool
}

func (f *fakeForwarder) Forward(path string) (*upstream.Receipt, error) {
	atomic.AddInt32(&f.calls, 1)
	n := atomic.AddInt32(&f.inflight, 1)
	for {
		max := atomic.LoadInt32(&f.maxInflight)
		if n <= max || atomic.CompareAndSwapInt32(&f.maxInflight, max, n) {
			break
		}
	}
	time.Sleep(10 * time.Millisecond)
	atomic.AddInt32(&f.inflight, -1)

	if f.fail {
		return nil, errors.New("simulated upstream failure")
	}
	return &upstream.Receipt{}, nil
}

func newTestSpool(t *testing.T) *spool.Spool {
	t.Helper()
	root, err := os.MkdirTemp("", "mailrelayd-relay-*")
	if err != nil {
		t.Fatalf("mkdtemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(root) })

	s := spool.New(root, true, events.Multi(nil))
	if err := s.Init(); err != nil {
		t.Fatalf("init: %v", err)
	}
	return s
}

func seedParking(t *testing.T, s *spool.Spool, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		name, err := s.WriteStream(spool.Parking, strings.NewReader("x"), spool.Meta{SessionID: "sess-" + string(rune('a'+i))})
		if err != nil {
			t.Fatalf("write stream: %v", err)
		}
		s.EnqueueParking(name)
	}
}

func TestTickSkipsWhenSenderPaused(t *testing.T) {
	s := newTestSpool(t)
	seedParking(t, s, 1)

	fwd := &fakeForwarder{}
	state := lifecycle.New(0, nil)
	state.PauseSender(true)

	e := New(Config{Spool: s, Sender: fwd, State: state, BackupEnabled: true})
	e.tick()

	if fwd.calls != 0 {
		t.Fatalf("expected no forward while sender paused, got %d calls", fwd.calls)
	}
}

func TestTickDeliversOneMessagePerTick(t *testing.T) {
	s := newTestSpool(t)
	seedParking(t, s, 2)

	fwd := &fakeForwarder{}
	state := lifecycle.New(0, nil)

	e := New(Config{Spool: s, Sender: fwd, State: state, BackupEnabled: true})
	e.tick()

	if fwd.calls != 1 {
		t.Fatalf("expected exactly one forward per tick, got %d", fwd.calls)
	}
	if s.DirectLen() != 0 {
		t.Fatalf("unexpected direct queue activity")
	}

	backupEntries, err := os.ReadDir(s.Dir(spool.ParkingBackup))
	if err != nil {
		t.Fatalf("read backup dir: %v", err)
	}
	if len(backupEntries) != 1 {
		t.Fatalf("expected 1 file moved to backup, got %d", len(backupEntries))
	}
}

func TestTickFailureMovesToErrorAndRequeues(t *testing.T) {
	s := newTestSpool(t)
	seedParking(t, s, 1)

	fwd := &fakeForwarder{fail: true}
	state := lifecycle.New(0, nil)

	e := New(Config{Spool: s, Sender: fwd, State: state, BackupEnabled: true})
	e.tick()

	errEntries, err := os.ReadDir(s.Dir(spool.Error))
	if err != nil {
		t.Fatalf("read error dir: %v", err)
	}
	if len(errEntries) != 1 {
		t.Fatalf("expected 1 file moved to error, got %d", len(errEntries))
	}

	if _, ok := s.PopParking(); !ok {
		t.Fatalf("expected failed entry to be re-appended to parking queue")
	}
}

func TestAtMostOneInflight(t *testing.T) {
	s := newTestSpool(t)
	seedParking(t, s, 5)

	fwd := &fakeForwarder{}
	state := lifecycle.New(0, nil)
	e := New(Config{Spool: s, Sender: fwd, State: state, BackupEnabled: true})

	done := make(chan struct{})
	go func() { e.tick(); done <- struct{}{} }()
	go func() { e.tick(); done <- struct{}{} }()
	<-done
	<-done

	if fwd.maxInflight > 1 {
		t.Fatalf("expected at most one inflight forward, observed %d", fwd.maxInflight)
	}
}
