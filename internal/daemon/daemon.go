/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2021 Kopano and its licensors
 */

package daemon

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kgol-oss/mailrelayd/internal/control"
	"github.com/kgol-oss/mailrelayd/internal/events"
	"github.com/kgol-oss/mailrelayd/internal/ingress"
	"github.com/kgol-oss/mailrelayd/internal/lifecycle"
	"github.com/kgol-oss/mailrelayd/internal/relay"
	"github.com/kgol-oss/mailrelayd/internal/spool"
	"github.com/kgol-oss/mailrelayd/internal/upstream"
)

// Daemon owns every component (C1-C6) and the top-level start/stop
// choreography (C7).
type Daemon struct {
	cfg    Config
	logger logrus.FieldLogger

	sink      events.Multi
	broadcast *events.BroadcastSink

	spool   *spool.Spool
	sender  *upstream.Sender
	state   *lifecycle.State
	backend *ingress.Backend
	engine  *relay.Engine
	api     *control.API

	status *Status

	senderConfigured bool
}

// New constructs every component per the bootstrap sequence: logging
// sinks first, then spool, sender (if configured), ingress, and the relay
// engine. If both the sender and the spool are unavailable, the returned
// Daemon reports itself not-ready and Serve will refuse to start.
func New(cfg Config, broadcastCtx context.Context) (*Daemon, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	logger = logger.WithField("scope", "daemon")

	broadcast := events.NewBroadcastSink(broadcastCtx)
	sinks := events.Multi(append([]events.EventSink{
		events.NewLogrusSink(logger),
		broadcast,
	}, cfg.EventSinks...))

	root := cfg.EmlStorageFolder
	if !filepath.IsAbs(root) {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("daemon: cannot resolve working directory: %w", err)
		}
		root = filepath.Join(wd, root)
	}

	sp := spool.New(root, cfg.BackupEnabled, sinks)
	if err := sp.Init(); err != nil {
		logger.WithError(err).Errorln("failed to initialize spool")
	}

	state := lifecycle.New(cfg.timerIntervalMs(), sinks)

	d := &Daemon{
		cfg:       cfg,
		logger:    logger,
		sink:      sinks,
		broadcast: broadcast,
		spool:     sp,
		state:     state,
		status:    &Status{},
	}

	if cfg.SenderSmtpHost != "" {
		sender := upstream.New(upstream.Config{
			Host:              cfg.SenderSmtpHost,
			Port:              cfg.SenderSmtpPort,
			Secure:            cfg.SenderSmtpSecure,
			IgnoreInvalidCert: cfg.SenderIgnoreInvalidCert,
			Lmtp:              cfg.SenderLmtp,
			Auth:              cfg.SenderAuth,
			DSN:               cfg.SenderDSN,
			LogEnabled:        cfg.LogEnabled,
			Sink:              sinks,
			Logger:            logger,
		})
		if err := sender.Init(); err != nil {
			logger.WithError(err).Warnln("upstream sender failed to initialize")
		} else {
			d.senderConfigured = true
		}
		d.sender = sender
	} else {
		d.sender = upstream.New(upstream.Config{Sink: sinks, Logger: logger})
	}

	backend, err := ingress.New(ingress.Config{
		Logger:    logger,
		Address:   cfg.ListenerAddress,
		Port:      cfg.ListenerPort,
		Secure:    cfg.ListenerSecure,
		Lmtp:      cfg.ListenerLmtp,
		Greeting:  cfg.ListenerGreeting,
		StatePath: cfg.StatePath,
		Spool:     sp,
		Sender:    d.sender,
		State:     state,
		Sink:      sinks,
	})
	if err != nil {
		return nil, fmt.Errorf("daemon: failed to construct ingress backend: %w", err)
	}
	d.backend = backend

	d.engine = relay.New(relay.Config{
		Spool:         sp,
		Sender:        d.sender,
		State:         state,
		Sink:          sinks,
		Logger:        logger,
		BackupEnabled: cfg.BackupEnabled,
	})

	d.api = control.New(control.Config{
		APIKey:    cfg.ControlAPIKey,
		Logger:    logger,
		State:     state,
		Spool:     sp,
		Status:    d,
		Broadcast: broadcast,
	})

	ready := sp.Available(spool.Parking) || sp.Available(spool.Direct) || d.senderConfigured
	state.SetReady(ready)
	if !ready {
		logger.Warnln("neither sender nor spool is usable, system will not start")
	}

	d.refreshStatus()

	return d, nil
}

// Status implements control.StatusProvider.
func (d *Daemon) Status() (interface{}, error) {
	d.refreshStatus()
	return d.status.Copy()
}

func (d *Daemon) refreshStatus() {
	snap := d.state.Current()
	d.status.set(func(s *Status) {
		s.Listener = ListenerStatus{
			Ready:   snap.Ready,
			Running: snap.ListenerRunning,
			Address: d.cfg.ListenerAddress,
			Port:    d.cfg.ListenerPort,
			Mode:    modeOf(d.cfg.ListenerLmtp),
			TLS:     d.cfg.ListenerSecure,
		}
		s.Sender = SenderStatus{
			Ready:     d.sender.Ready(),
			Running:   d.senderConfigured,
			Host:      d.cfg.SenderSmtpHost,
			Port:      d.cfg.SenderSmtpPort,
			Mode:      modeOf(d.cfg.SenderLmtp),
			TLS:       d.cfg.SenderSmtpSecure,
			IgnoreCRT: d.cfg.SenderIgnoreInvalidCert,
		}
		s.Storage = StorageStatus{
			Ready: d.spool.Available(spool.Parking) && d.spool.Available(spool.Direct),
		}
		s.Timer = TimerStatus{
			Enabled: snap.TimerEnabled(),
			Sec:     d.cfg.TimerIntervalSec,
		}
	})
}

func modeOf(lmtp bool) string {
	if lmtp {
		return "LMTP"
	}
	return "SMTP"
}

// Serve performs the start() sequence (synchronous rescan, bind ingress,
// arm the relay ticker) then blocks until ctx is canceled or a fatal
// signal/error occurs, after which it runs the shutdown choreography.
func (d *Daemon) Serve(ctx context.Context) error {
	if !d.state.Current().Ready {
		return fmt.Errorf("daemon: not ready, refusing to start")
	}

	if _, err := d.spool.Rescan(); err != nil {
		d.logger.WithError(err).Warnln("initial spool rescan failed")
	}

	serveCtx, serveCtxCancel := context.WithCancel(ctx)
	defer serveCtxCancel()

	errCh := make(chan error, 3)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := d.backend.Serve(); err != nil {
			errCh <- fmt.Errorf("ingress: %w", err)
		}
	}()

	if d.senderConfigured && d.state.Current().TimerEnabled() {
		d.engine.Start(time.Duration(d.cfg.timerIntervalMs()) * time.Millisecond)
	}

	controlAddr := d.cfg.ControlAddress
	var controlServer *http.Server
	if controlAddr != "" {
		controlServer = &http.Server{Addr: controlAddr, Handler: d.api.Handler()}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := controlServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- fmt.Errorf("control: %w", err)
			}
		}()
	}

	exitCh := make(chan struct{})
	go func() {
		wg.Wait()
		close(exitCh)
	}()

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(signalCh)

	var runErr error
loop:
	for {
		select {
		case err := <-errCh:
			runErr = err
			break loop
		case sig := <-signalCh:
			if sig == syscall.SIGHUP {
				d.logger.Infoln("reload signal received, rescanning spool")
				if _, err := d.spool.Rescan(); err != nil {
					d.logger.WithError(err).Warnln("spool rescan failed")
				}
				continue
			}
			d.logger.WithField("signal", sig).Infoln("received shutdown signal")
			break loop
		case <-serveCtx.Done():
			break loop
		}
	}

	d.engine.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := d.backend.Shutdown(shutdownCtx); err != nil {
		d.logger.WithError(err).Warnln("ingress shutdown error")
	}
	if controlServer != nil {
		_ = controlServer.Shutdown(shutdownCtx)
	}
	d.broadcast.Stop()

	select {
	case <-exitCh:
	case <-time.After(5 * time.Second):
	}

	return runErr
}
