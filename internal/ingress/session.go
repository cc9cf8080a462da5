/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2021 Kopano and its licensors
 */

package ingress

import (
	"io"
	"time"

	"github.com/emersion/go-smtp"
	"github.com/sirupsen/logrus"

	"github.com/kgol-oss/mailrelayd/internal/events"
	"github.com/kgol-oss/mailrelayd/internal/lifecycle"
	"github.com/kgol-oss/mailrelayd/internal/spool"
	"github.com/kgol-oss/mailrelayd/internal/upstream"
)

// Session implements smtp.Session for one client connection. Authentication
// is permissive: whatever credentials are offered are accepted without
// verification, and AUTH is only advertised over a secure connection.
type Session struct {
	id       string
	logger   logrus.FieldLogger
	onLogout func(string)

	spool  *spool.Spool
	sender *upstream.Sender
	state  *lifecycle.State
	sink   events.EventSink

	from string
	to   []string
}

var _ smtp.Session = (*Session)(nil)

func newSession(id string, b *Backend) *Session {
	return &Session{
		id:       id,
		logger:   b.logger.WithField("session_id", id),
		onLogout: b.onLogout,
		spool:    b.cfg.Spool,
		sender:   b.cfg.Sender,
		state:    b.cfg.State,
		sink:     b.cfg.Sink,
	}
}

func (s *Session) Mail(from string, opts *smtp.MailOptions) error {
	s.logger.WithField("from", from).Debugln("mail from")
	s.from = from
	return nil
}

func (s *Session) Rcpt(to string, opts *smtp.RcptOptions) error {
	s.logger.WithField("to", to).Debugln("mail rcpt to")
	s.to = append(s.to, to)
	return nil
}

// AuthPlain is permissive: whatever credentials are offered are accepted
// without verification.
func (s *Session) AuthPlain(username, password string) error {
	return nil
}

// Data implements the admission policy table from the ingress component
// design: depending on readiness, pause state, and timer mode, the body is
// either streamed into the spool (and, in direct mode with a live sender,
// forwarded synchronously) or drained to a discard sink and rejected.
func (s *Session) Data(r io.Reader) error {
	snap := s.state.Current()

	if !snap.Ready {
		s.reject(r, "system not ready")
		return ErrServiceNotAvailable
	}
	if snap.ListenerPaused {
		s.reject(r, "ingress paused")
		return ErrServiceNotAvailable
	}

	if snap.TimerEnabled() {
		return s.admitParking(r, snap)
	}
	return s.admitDirect(r, snap)
}

func (s *Session) admitParking(r io.Reader, snap lifecycle.Snapshot) error {
	if !s.spool.Available(spool.Parking) {
		s.reject(r, "parking queue unavailable")
		return ErrLocalErrorInProcessing
	}

	s.emit(events.Saving, spool.Parking, "")
	name, err := s.spool.WriteStream(spool.Parking, r, spool.Meta{SessionID: s.id, From: s.from, To: s.to})
	if err != nil {
		s.logger.WithError(err).Errorln("failed to persist message to parking queue")
		s.emitError(spool.Parking, "", err)
		return ErrLocalErrorInProcessing
	}
	s.spool.EnqueueParking(name)
	s.emit(events.Saved, spool.Parking, name)
	return nil
}

func (s *Session) admitDirect(r io.Reader, snap lifecycle.Snapshot) error {
	if !s.spool.Available(spool.Direct) {
		s.reject(r, "direct queue unavailable")
		return ErrLocalErrorInProcessing
	}

	s.emit(events.Saving, spool.Direct, "")
	name, err := s.spool.WriteStream(spool.Direct, r, spool.Meta{SessionID: s.id, From: s.from, To: s.to})
	if err != nil {
		s.logger.WithError(err).Errorln("failed to persist message to direct queue")
		s.emitError(spool.Direct, "", err)
		return ErrLocalErrorInProcessing
	}
	s.spool.EnqueueDirect(name)
	s.emit(events.Saved, spool.Direct, name)

	if snap.SenderPaused {
		// Stored but not dispatched; 250 OK per the admission table.
		return nil
	}

	path := s.spool.Dir(spool.Direct) + "/" + name
	s.emit(events.Forwarding, spool.Direct, name)
	if _, err := s.sender.Forward(path); err != nil {
		s.logger.WithError(err).Errorln("direct forward failed")
		if moveErr := s.spool.MoveToError(name, spool.Direct); moveErr != nil {
			s.logger.WithError(moveErr).Warnln("failed to move undelivered direct message to error queue")
		}
		s.emitError(spool.Direct, name, err)
		return ErrLocalErrorInProcessing
	}

	if err := s.finalizeDirect(name); err != nil {
		s.logger.WithError(err).Warnln("failed to finalize delivered direct message")
	}
	s.emit(events.Forwarded, spool.Direct, name)
	return nil
}

// LMTPData applies the same admission policy as Data, then reports the
// single outcome against every recipient individually, as LMTP requires.
func (s *Session) LMTPData(r io.Reader, status smtp.StatusCollector) error {
	err := s.Data(r)
	for _, rcpt := range s.to {
		status.SetStatus(rcpt, err)
	}
	return nil
}

func (s *Session) finalizeDirect(name string) error {
	if s.spool.BackupEnabled() {
		return s.spool.MoveToBackup(name, spool.Direct)
	}
	return s.spool.Unlink(name, spool.Direct)
}

// reject drains the body into a discard sink so the client can proceed to
// QUIT, then emits a reject event. The SMTP-level error is returned by the
// caller.
func (s *Session) reject(r io.Reader, reason string) {
	_, _ = io.Copy(io.Discard, r)
	s.logger.WithField("reason", reason).Warnln("rejecting message")
	s.sink.Publish(events.Event{
		Kind: events.Reject, Time: time.Now(),
		SessionID: s.id, From: s.from, To: s.to,
		Message: reason,
	})
}

func (s *Session) emit(kind events.Kind, queue spool.Queue, filename string) {
	s.sink.Publish(events.Event{
		Kind: kind, Time: time.Now(),
		SessionID: s.id, From: s.from, To: s.to,
		Queue: string(queue), Filename: filename,
	})
}

func (s *Session) emitError(queue spool.Queue, filename string, err error) {
	s.sink.Publish(events.Event{
		Kind: events.Error, Time: time.Now(),
		SessionID: s.id, From: s.from, To: s.to,
		Queue: string(queue), Filename: filename,
		Err: err,
	})
}

func (s *Session) Reset() {
	s.from = ""
	s.to = nil
}

func (s *Session) Logout() error {
	if s.onLogout != nil {
		s.onLogout(s.id)
	}
	return nil
}
