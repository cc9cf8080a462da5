/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2021 Kopano and its licensors
 */

// Package ingress terminates the SMTP/LMTP session producers connect to,
// enforces the admission policy gating whether a message is accepted, and
// streams accepted bodies into the spool.
package ingress

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/kgol-oss/mailrelayd/internal/events"
	"github.com/kgol-oss/mailrelayd/internal/lifecycle"
	"github.com/kgol-oss/mailrelayd/internal/spool"
	"github.com/kgol-oss/mailrelayd/internal/upstream"
)

// Config bundles a Backend's collaborators and listener options.
type Config struct {
	Context context.Context
	Logger  logrus.FieldLogger

	Address  string
	Port     int
	Secure   bool
	Lmtp     bool
	Greeting string

	// StatePath is where the self-signed STARTTLS certificate is persisted.
	StatePath string

	Spool  *spool.Spool
	Sender *upstream.Sender
	State  *lifecycle.State
	Sink   events.EventSink
}
