/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2021 Kopano and its licensors
 */

package upstream

import (
	"bytes"
	"strings"
	"testing"
)

func TestInitReadinessRequiresHost(t *testing.T) {
	s := New(Config{})
	if err := s.Init(); err == nil {
		t.Fatalf("expected Init to fail without a host configured")
	}
	if s.Ready() {
		t.Fatalf("expected sender to report not ready after failed Init")
	}

	s2 := New(Config{Host: "mail.example.com", Port: 25})
	if err := s2.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if !s2.Ready() {
		t.Fatalf("expected sender to report ready after successful Init")
	}
}

func TestForwardNotReady(t *testing.T) {
	s := New(Config{})
	if _, err := s.Forward("/nonexistent"); err != ErrNotReady {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}
}

const rawMessage = "From: sender@example.com\r\n" +
	"To: rcpt@example.com\r\n" +
	"Subject: hello\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"hello world\r\n"

func TestParseMessageExtractsFields(t *testing.T) {
	pm, err := parseMessage(strings.NewReader(rawMessage))
	if err != nil {
		t.Fatalf("parseMessage: %v", err)
	}
	if pm.from != "sender@example.com" {
		t.Fatalf("unexpected from: %q", pm.from)
	}
	if len(pm.to) != 1 || pm.to[0] != "rcpt@example.com" {
		t.Fatalf("unexpected to: %v", pm.to)
	}
	if pm.subject != "hello" {
		t.Fatalf("unexpected subject: %q", pm.subject)
	}
}

func TestParseMessageRejectsMissingTo(t *testing.T) {
	raw := "From: sender@example.com\r\nSubject: hi\r\n\r\nbody\r\n"
	if _, err := parseMessage(strings.NewReader(raw)); err == nil {
		t.Fatalf("expected MalformedMessageError for missing To header")
	}
}

func TestParseMessageRejectsMissingFrom(t *testing.T) {
	raw := "To: rcpt@example.com\r\nSubject: hi\r\n\r\nbody\r\n"
	if _, err := parseMessage(strings.NewReader(raw)); err == nil {
		t.Fatalf("expected MalformedMessageError for missing From header")
	}
}

func TestComposeRoundTrip(t *testing.T) {
	pm := &parsedMessage{
		from:     "sender@example.com",
		to:       []string{"rcpt@example.com"},
		subject:  "hello",
		textBody: "hi there",
	}

	var buf bytes.Buffer
	if err := compose(&buf, pm); err != nil {
		t.Fatalf("compose: %v", err)
	}

	reparsed, err := parseMessage(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("re-parsing composed message: %v", err)
	}
	if reparsed.from != pm.from {
		t.Fatalf("from mismatch after round-trip: %q != %q", reparsed.from, pm.from)
	}
	if len(reparsed.to) != 1 || reparsed.to[0] != pm.to[0] {
		t.Fatalf("to mismatch after round-trip: %v != %v", reparsed.to, pm.to)
	}
}
