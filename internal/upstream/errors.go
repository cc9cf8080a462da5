/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2021 Kopano and its licensors
 */

package upstream

import "errors"

// ErrNotReady is returned by Forward when the sender has not been
// successfully initialized against its configured host.
var ErrNotReady = errors.New("upstream: sender not ready")

// MalformedMessageError wraps a parse failure or a missing required header
// (from/to) found while reading a spool file.
type MalformedMessageError struct {
	Reason string
	Err    error
}

func (e *MalformedMessageError) Error() string {
	if e.Err != nil {
		return "upstream: malformed message: " + e.Reason + ": " + e.Err.Error()
	}
	return "upstream: malformed message: " + e.Reason
}

func (e *MalformedMessageError) Unwrap() error { return e.Err }

// UpstreamError wraps a transport-level failure: connection refused, TLS
// handshake failure, or a non-2xx SMTP reply from the submission server.
type UpstreamError struct {
	Reason string
	Err    error
}

func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return "upstream: " + e.Reason + ": " + e.Err.Error()
	}
	return "upstream: " + e.Reason
}

func (e *UpstreamError) Unwrap() error { return e.Err }
