/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2021 Kopano and its licensors
 */

package spool

import (
	"os"
	"strings"
	"testing"

	"github.com/kgol-oss/mailrelayd/internal/events"
)

func newTestSpool(t *testing.T) (*Spool, string) {
	t.Helper()
	root, err := os.MkdirTemp("", "mailrelayd-spool-*")
	if err != nil {
		t.Fatalf("mkdtemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(root) })

	s := New(root, true, events.Multi(nil))
	if err := s.Init(); err != nil {
		t.Fatalf("init: %v", err)
	}
	return s, root
}

func TestFilenameUniqueness(t *testing.T) {
	a := filename(Meta{SessionID: "sess-a", From: "a@example.com", To: []string{"b@example.com"}})
	b := filename(Meta{SessionID: "sess-b", From: "a@example.com", To: []string{"b@example.com"}})
	if a == b {
		t.Fatalf("expected distinct filenames for distinct session ids, got %q twice", a)
	}
	if !strings.HasSuffix(a, emlExt) || !strings.HasSuffix(b, emlExt) {
		t.Fatalf("expected .eml suffix, got %q and %q", a, b)
	}
	if !strings.Contains(a, "a-example-com") || !strings.Contains(a, "b-example-com") {
		t.Fatalf("expected sanitized addresses in filename, got %q", a)
	}
}

func TestFilenamePlaceholder(t *testing.T) {
	name := filename(Meta{SessionID: "sess-c"})
	if !strings.Contains(name, "unknown") {
		t.Fatalf("expected placeholder token for missing from/to, got %q", name)
	}
}

func TestWriteStreamThenEnqueueAndPop(t *testing.T) {
	s, _ := newTestSpool(t)

	name, err := s.WriteStream(Parking, strings.NewReader("hello world"), Meta{
		SessionID: "sess-1", From: "a@example.com", To: []string{"b@example.com"},
	})
	if err != nil {
		t.Fatalf("write stream: %v", err)
	}
	s.EnqueueParking(name)

	path := s.Dir(Parking) + "/" + name
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back spool file: %v", err)
	}
	if string(data) != "hello world" {
		t.Fatalf("unexpected contents: %q", data)
	}

	got, ok := s.PopParking()
	if !ok {
		t.Fatalf("expected a parking entry to pop")
	}
	if got != name {
		t.Fatalf("popped %q, expected %q", got, name)
	}
	if _, ok := s.PopParking(); ok {
		t.Fatalf("expected parking queue to be empty after pop")
	}
}

func TestMoveToErrorAndBackToTail(t *testing.T) {
	s, _ := newTestSpool(t)

	name, err := s.WriteStream(Parking, strings.NewReader("x"), Meta{SessionID: "sess-2"})
	if err != nil {
		t.Fatalf("write stream: %v", err)
	}
	s.EnqueueParking(name)
	if _, ok := s.PopParking(); !ok {
		t.Fatalf("expected to pop the entry before simulating failure")
	}

	if err := s.MoveToError(name, Parking); err != nil {
		t.Fatalf("move to error: %v", err)
	}
	s.PushBackParking(name)

	if _, err := os.Stat(s.Dir(Error) + "/" + name); err != nil {
		t.Fatalf("expected file present in error dir: %v", err)
	}
	if _, err := os.Stat(s.Dir(Parking) + "/" + name); !os.IsNotExist(err) {
		t.Fatalf("expected file absent from parking dir, stat err = %v", err)
	}

	got, ok := s.PopParking()
	if !ok || got != name {
		t.Fatalf("expected requeued tail entry %q, got %q ok=%v", name, got, ok)
	}
}

func TestMoveToBackup(t *testing.T) {
	s, _ := newTestSpool(t)

	name, err := s.WriteStream(Direct, strings.NewReader("y"), Meta{SessionID: "sess-3"})
	if err != nil {
		t.Fatalf("write stream: %v", err)
	}

	if err := s.MoveToBackup(name, Direct); err != nil {
		t.Fatalf("move to backup: %v", err)
	}
	if _, err := os.Stat(s.Dir(DirectBackup) + "/" + name); err != nil {
		t.Fatalf("expected file present in direct backup dir: %v", err)
	}
}

func TestRescanOrdersByFilename(t *testing.T) {
	s, root := newTestSpool(t)

	var names []string
	for i := 0; i < 3; i++ {
		name, err := s.WriteStream(Parking, strings.NewReader("z"), Meta{SessionID: []string{"sess-r-a", "sess-r-b", "sess-r-c"}[i]})
		if err != nil {
			t.Fatalf("write stream: %v", err)
		}
		names = append(names, name)
	}

	fresh := New(root, true, events.Multi(nil))
	if err := fresh.Init(); err != nil {
		t.Fatalf("init: %v", err)
	}
	snap, err := fresh.Rescan()
	if err != nil {
		t.Fatalf("rescan: %v", err)
	}
	if len(snap.Parking) != 3 {
		t.Fatalf("expected 3 parking entries after rescan, got %d", len(snap.Parking))
	}
	for i := 1; i < len(snap.Parking); i++ {
		if snap.Parking[i-1] > snap.Parking[i] {
			t.Fatalf("expected lexicographic order, got %v", snap.Parking)
		}
	}

	got, ok := fresh.PopParking()
	if !ok {
		t.Fatalf("expected to pop after rescan")
	}
	found := false
	for _, n := range names {
		if n == got {
			found = true
		}
	}
	if !found {
		t.Fatalf("popped name %q not among written names %v", got, names)
	}
}

func TestRescanIgnoresNonEmlFiles(t *testing.T) {
	s, root := newTestSpool(t)
	if err := os.WriteFile(s.Dir(Parking)+"/.stray.tmp", []byte("partial"), 0600); err != nil {
		t.Fatalf("write stray file: %v", err)
	}

	fresh := New(root, true, events.Multi(nil))
	if err := fresh.Init(); err != nil {
		t.Fatalf("init: %v", err)
	}
	snap, err := fresh.Rescan()
	if err != nil {
		t.Fatalf("rescan: %v", err)
	}
	if len(snap.Parking) != 0 {
		t.Fatalf("expected stray non-.eml file to be ignored, got %v", snap.Parking)
	}
}
