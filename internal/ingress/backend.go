/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2021 Kopano and its licensors
 */

package ingress

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/emersion/go-smtp"
	"github.com/jpillora/backoff"
	"github.com/lithammer/shortuuid/v3"
	cmap "github.com/orcaman/concurrent-map"
	"github.com/sirupsen/logrus"

	"github.com/kgol-oss/mailrelayd/internal/events"
	"github.com/kgol-oss/mailrelayd/utils"
)

// Backend implements smtp.Backend: a session is created per connection and
// registered in a live session map so Shutdown can wait for in-flight
// sessions to drain before closing the listener.
type Backend struct {
	cfg    Config
	logger logrus.FieldLogger

	s          *smtp.Server
	sessions   cmap.ConcurrentMap
	inShutdown utils.AtomicBool

	mu       sync.Mutex
	listener net.Listener
}

var _ smtp.Backend = (*Backend)(nil)

// New constructs a Backend. Call Serve to start accepting connections.
func New(cfg Config) (*Backend, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	logger = logger.WithField("scope", "ingress")
	if cfg.Sink == nil {
		cfg.Sink = events.Multi(nil)
	}

	b := &Backend{
		cfg:      cfg,
		logger:   logger,
		sessions: cmap.New(),
	}

	b.s = smtp.NewServer(b)
	b.s.Domain = cfg.Address
	b.s.LMTP = cfg.Lmtp
	b.s.ErrorLog = logger

	if cfg.Greeting != "" {
		b.s.Domain = cfg.Address + " " + cfg.Greeting
	}

	if cfg.Secure {
		cert, err := loadCertificate(cfg.StatePath)
		if err != nil {
			return nil, err
		}
		b.s.TLSConfig = &tls.Config{Certificates: []tls.Certificate{cert}}
	}

	return b, nil
}

func (b *Backend) NewSession(c *smtp.Conn) (smtp.Session, error) {
	// Permissive: auth is accepted if offered (see Session.AuthPlain); each
	// connection gets its own session regardless of the credentials
	// presented.
	return b.newSession()
}

func (b *Backend) newSession() (smtp.Session, error) {
	if b.inShutdown.IsSet() {
		return nil, ErrServiceNotAvailable
	}

	sessionID := shortuuid.New()
	session := newSession(sessionID, b)
	b.sessions.Set(sessionID, session)
	return session, nil
}

func (b *Backend) onLogout(id string) {
	b.sessions.Remove(id)
}

// Serve binds the configured address/port and accepts connections until
// Shutdown is called. On EADDRINUSE it waits one second and retries the
// bind exactly once at the same address; any other bind error, or a second
// EADDRINUSE, is fatal.
func (b *Backend) Serve() error {
	addr := net.JoinHostPort(b.cfg.Address, strconv.Itoa(b.cfg.Port))

	l, err := net.Listen("tcp", addr)
	if err != nil {
		if !errors.Is(err, syscall.EADDRINUSE) {
			b.emitBindFailure(err)
			return fmt.Errorf("ingress: bind failed: %w", err)
		}

		bo := &backoff.Backoff{Min: 1 * time.Second, Max: 1 * time.Second}
		wait := bo.Duration()
		b.logger.WithField("address", addr).WithField("wait", wait).Warnln("address in use, retrying bind once")
		time.Sleep(wait)

		l, err = net.Listen("tcp", addr)
		if err != nil {
			b.emitBindFailure(err)
			return fmt.Errorf("ingress: bind failed after retry: %w", err)
		}
	}

	b.mu.Lock()
	b.listener = l
	b.mu.Unlock()

	b.cfg.State.SetListenerRunning(true)
	defer b.cfg.State.SetListenerRunning(false)

	return b.s.Serve(l)
}

// Shutdown marks the backend as shutting down so new sessions are refused,
// waits for in-flight sessions to drain (or ctx to expire), then closes the
// server together with its listener.
func (b *Backend) Shutdown(ctx context.Context) error {
	b.inShutdown.SetTrue()

drain:
	for {
		if b.sessions.Count() == 0 {
			break drain
		}
		select {
		case <-ctx.Done():
			break drain
		case <-time.After(100 * time.Millisecond):
		}
	}

	return b.s.Close()
}

func (b *Backend) emitBindFailure(err error) {
	b.cfg.Sink.Publish(events.Event{
		Kind:    events.Error,
		Message: "ingress bind failed",
		Err:     err,
	})
}
