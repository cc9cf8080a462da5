/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2021 Kopano and its licensors
 */

// Package relay implements the timed, single-inflight dispatcher that
// drains the parking queue to the upstream sender at a fixed period.
package relay

import (
	"sync"
	"time"

	"github.com/jpillora/backoff"
	"github.com/sirupsen/logrus"

	"github.com/kgol-oss/mailrelayd/internal/events"
	"github.com/kgol-oss/mailrelayd/internal/lifecycle"
	"github.com/kgol-oss/mailrelayd/internal/spool"
	"github.com/kgol-oss/mailrelayd/internal/upstream"
)

// Forwarder is the subset of upstream.Sender the engine depends on.
type Forwarder interface {
	Forward(path string) (*upstream.Receipt, error)
}

// Engine is a cooperative, single-threaded ticker that pops one file per
// tick from the spool's parking queue and forwards it upstream. At most one
// forward is ever in flight; the tick handler itself guards against
// re-entry so a slow forward simply defers the following tick.
type Engine struct {
	spool         *spool.Spool
	sender        Forwarder
	state         *lifecycle.State
	sink          events.EventSink
	logger        logrus.FieldLogger
	backupEnabled bool

	mu       sync.Mutex
	ticker   *time.Ticker
	stopCh   chan struct{}
	inflight sync.Mutex

	failures    backoff.Backoff
	nextAttempt time.Time
}

// Config bundles an Engine's collaborators.
type Config struct {
	Spool         *spool.Spool
	Sender        Forwarder
	State         *lifecycle.State
	Sink          events.EventSink
	Logger        logrus.FieldLogger
	BackupEnabled bool
}

// New constructs an Engine. Call Start to arm the ticker.
func New(cfg Config) *Engine {
	sink := cfg.Sink
	if sink == nil {
		sink = events.Multi(nil)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Engine{
		spool:         cfg.Spool,
		sender:        cfg.Sender,
		state:         cfg.State,
		sink:          sink,
		logger:        logger.WithField("scope", "relay"),
		backupEnabled: cfg.BackupEnabled,
		failures:      backoff.Backoff{Min: 1 * time.Second, Max: 5 * time.Minute, Factor: 2, Jitter: true},
	}
}

// Start arms the ticker at the given period. A period of zero or less
// leaves the engine disarmed (direct mode).
func (e *Engine) Start(period time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if period <= 0 {
		return
	}
	if e.ticker != nil {
		return
	}

	e.ticker = time.NewTicker(period)
	e.stopCh = make(chan struct{})

	go e.run(e.ticker, e.stopCh)
}

// Stop clears the relay ticker. Any forward already in flight completes or
// fails per upstream semantics; it is not interrupted.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.ticker == nil {
		return
	}
	e.ticker.Stop()
	close(e.stopCh)
	e.ticker = nil
	e.stopCh = nil
}

func (e *Engine) run(ticker *time.Ticker, stopCh chan struct{}) {
	for {
		select {
		case <-ticker.C:
			e.tick()
		case <-stopCh:
			return
		}
	}
}

// tick implements the per-tick decision: skip if sender paused, skip if a
// rescan is in progress and the direct queue is non-empty (avoids
// double-dispatch during reconciliation), skip while the backoff after an
// upstream failure has not yet elapsed, otherwise pop one parking entry and
// forward it synchronously.
func (e *Engine) tick() {
	if !e.inflight.TryLock() {
		// A previous tick's forward is still running; this invariant
		// should be unreachable given the ticker period, but guards
		// against re-entry regardless.
		return
	}
	defer e.inflight.Unlock()

	snap := e.state.Current()
	if snap.SenderPaused {
		return
	}
	if (snap.Scanning || e.spool.Scanning()) && e.spool.DirectLen() > 0 {
		return
	}
	if !e.nextAttempt.IsZero() && time.Now().Before(e.nextAttempt) {
		// Staggering repeated upstream failures instead of retrying every
		// tick at the configured period.
		return
	}

	filename, ok := e.spool.PopParking()
	if !ok {
		return
	}

	path := e.spool.Dir(spool.Parking) + "/" + filename

	_, err := e.sender.Forward(path)
	if err != nil {
		e.onFailure(filename, err)
		return
	}
	e.onSuccess(filename)
}

func (e *Engine) onSuccess(filename string) {
	e.failures.Reset()
	e.nextAttempt = time.Time{}

	var err error
	if e.backupEnabled {
		err = e.spool.MoveToBackup(filename, spool.Parking)
	} else {
		err = e.spool.Unlink(filename, spool.Parking)
	}
	if err != nil {
		// Spool errors during backup/unlink are logged but do not
		// resurrect the message, to avoid double delivery.
		e.logger.WithError(err).WithField("filename", filename).Warnln("failed to finalize delivered message")
	}
	e.sink.Publish(events.Event{
		Kind: events.Forwarded, Time: time.Now(),
		Filename: filename, Queue: string(spool.Parking),
		Message: "delivered",
	})
}

func (e *Engine) onFailure(filename string, err error) {
	e.nextAttempt = time.Now().Add(e.failures.Duration())

	if moveErr := e.spool.MoveToError(filename, spool.Parking); moveErr != nil {
		e.logger.WithError(moveErr).WithField("filename", filename).Warnln("failed to move undelivered message to error queue")
	}
	e.spool.PushBackParking(filename)

	e.sink.Publish(events.Event{
		Kind: events.Error, Time: time.Now(),
		Filename: filename, Queue: string(spool.Parking),
		Message: "upstream delivery failed, requeued for retry",
		Err:     err,
	})
}
