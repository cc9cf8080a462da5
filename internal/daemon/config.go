/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2021 Kopano and its licensors
 */

// Package daemon resolves configuration, constructs every component, wires
// the event sinks, and runs the start/serve/shutdown choreography.
package daemon

import (
	"github.com/sirupsen/logrus"

	"github.com/kgol-oss/mailrelayd/internal/events"
	"github.com/kgol-oss/mailrelayd/internal/upstream"
)

// Config enumerates every option the daemon recognizes.
type Config struct {
	Logger logrus.FieldLogger

	ListenerAddress  string
	ListenerPort     int
	ListenerSecure   bool
	ListenerLmtp     bool
	ListenerGreeting string

	SenderSmtpHost          string
	SenderSmtpPort          int
	SenderSmtpSecure        bool
	SenderIgnoreInvalidCert bool
	SenderAuth              *upstream.Auth
	SenderLmtp              bool
	SenderDSN               *upstream.DSN

	EmlStorageFolder string
	TimerIntervalSec int
	BackupEnabled    bool
	LogEnabled       bool

	// StatePath holds process state that outlives a single run, such as
	// the self-signed STARTTLS certificate.
	StatePath string

	ControlAddress string
	ControlAPIKey  string

	EventSinks []events.EventSink
}

func (c *Config) timerIntervalMs() int {
	return c.TimerIntervalSec * 1000
}
