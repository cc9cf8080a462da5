/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2021 Kopano and its licensors
 */

package upstream

import (
	"net"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kgol-oss/mailrelayd/internal/events"
)

// Auth holds the optional credentials presented to the upstream server via
// AUTH PLAIN; AUTH LOGIN is not used.
type Auth struct {
	User string
	Pass string
}

// DSN carries delivery status notification request options passed through
// to the upstream: ReturnFullBody sets RET on MAIL FROM, the NotifyOn*
// fields set NOTIFY on every RCPT TO.
type DSN struct {
	NotifyOnSuccess bool
	NotifyOnFailure bool
	NotifyOnDelay   bool
	ReturnFullBody  bool
}

// Config describes how to reach and authenticate against the upstream SMTP
// submission server.
type Config struct {
	Host string
	Port int

	Secure            bool
	IgnoreInvalidCert bool
	Lmtp              bool

	Auth *Auth
	DSN  *DSN

	// LogEnabled emits transport-level events (forwarding/forwarded/error)
	// to Sink in addition to the caller-visible return values.
	LogEnabled bool
	Sink       events.EventSink
	Logger     logrus.FieldLogger

	DialTimeout time.Duration
}

func (c *Config) addr() string {
	port := c.Port
	if port == 0 {
		port = 25
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(port))
}
