/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2021 Kopano and its licensors
 */

package lifecycle

import (
	"testing"

	"github.com/kgol-oss/mailrelayd/internal/events"
)

func eventCounter(count *int) events.EventSink {
	return events.SinkFunc(func(events.Event) {
		*count++
	})
}

func TestTimerEnabledReportsCorrectSense(t *testing.T) {
	st := New(0, nil)
	if st.Current().TimerEnabled() {
		t.Fatalf("expected timer disabled when interval is 0")
	}

	st2 := New(2000, nil)
	if !st2.Current().TimerEnabled() {
		t.Fatalf("expected timer enabled when interval > 0")
	}
}

func TestPauseSenderOnlyEmitsOnChange(t *testing.T) {
	var count int
	sink := eventCounter(&count)

	st := New(0, sink)
	st.PauseSender(true)
	if count != 1 {
		t.Fatalf("expected 1 event after first pause, got %d", count)
	}
	st.PauseSender(true)
	if count != 1 {
		t.Fatalf("expected no additional event for a no-op pause, got %d", count)
	}
	st.PauseSender(false)
	if count != 2 {
		t.Fatalf("expected a second event after resuming, got %d", count)
	}
}

func TestCurrentIsASnapshot(t *testing.T) {
	st := New(1000, nil)
	snap := st.Current()
	st.SetReady(true)
	if snap.Ready {
		t.Fatalf("expected previously captured snapshot to remain unaffected by later mutation")
	}
	if !st.Current().Ready {
		t.Fatalf("expected a fresh Current() call to reflect the mutation")
	}
}
