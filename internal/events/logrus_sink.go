/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2021 Kopano and its licensors
 */

package events

import (
	"github.com/sirupsen/logrus"
)

// LogrusSink logs every event at the level appropriate to its Kind, in the
// field-logging style used throughout the rest of this codebase.
type LogrusSink struct {
	logger logrus.FieldLogger
}

// NewLogrusSink wraps logger as an EventSink.
func NewLogrusSink(logger logrus.FieldLogger) *LogrusSink {
	return &LogrusSink{logger: logger.WithFields(logrus.Fields{"scope": "events"})}
}

func (s *LogrusSink) Publish(e Event) {
	entry := s.logger.WithFields(logrus.Fields{
		"kind": e.Kind,
	})
	if e.SessionID != "" {
		entry = entry.WithField("session_id", e.SessionID)
	}
	if e.Filename != "" {
		entry = entry.WithField("filename", e.Filename)
	}
	if e.Queue != "" {
		entry = entry.WithField("queue", e.Queue)
	}
	if e.From != "" {
		entry = entry.WithField("from", e.From)
	}
	if len(e.To) > 0 {
		entry = entry.WithField("to", e.To)
	}
	if e.Err != nil {
		entry = entry.WithError(e.Err)
	}

	switch e.Kind {
	case Reject, Error:
		entry.Warnln(e.Message)
	case Warning:
		entry.Warnln(e.Message)
	case Forwarded:
		entry.Infoln(e.Message)
	default:
		entry.Debugln(e.Message)
	}
}
