/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2021 Kopano and its licensors
 */

// Package upstream wraps the upstream SMTP submission transport: parsing a
// spool file as an RFC 5322 message and composing-and-sending it onward via
// go-smtp's client, optionally over LMTP, with AUTH PLAIN via go-sasl. AUTH
// LOGIN is not offered.
package upstream

import (
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/mail"
	"os"
	"time"

	emmail "github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/kgol-oss/mailrelayd/internal/events"
	"github.com/kgol-oss/mailrelayd/utils"
)

// Receipt is returned by Forward on a successful delivery.
type Receipt struct {
	From string
	To   []string
}

// Sender submits parsed spool files to a single configured upstream SMTP
// (or LMTP) server. One Sender serves the whole process; forwards are never
// issued concurrently by the relay engine, but Forward itself holds no
// state across calls and would be safe to call from more than one caller.
type Sender struct {
	cfg   Config
	ready utils.AtomicBool
}

// New constructs a Sender. Call Init before Forward.
func New(cfg Config) *Sender {
	if cfg.Sink == nil {
		cfg.Sink = events.Multi(nil)
	}
	return &Sender{cfg: cfg}
}

// Init validates the host/port and marks the sender ready. Per the
// corrected reading of the upstream behavior this models (the source
// inverts the sense of its own readiness flag at this point), ready is true
// iff an outbound connection can plausibly be constructed — host is
// non-empty and port is within 0-65535 (0 falls back to 25) — not that a
// connection has actually been opened.
func (s *Sender) Init() error {
	if s.cfg.Host == "" {
		s.ready.SetFalse()
		return fmt.Errorf("upstream: no host configured")
	}
	if s.cfg.Port < 0 || s.cfg.Port > 65535 {
		s.ready.SetFalse()
		return fmt.Errorf("upstream: invalid port %d", s.cfg.Port)
	}
	s.ready.SetTrue()
	return nil
}

// Ready reports whether Forward is expected to be usable.
func (s *Sender) Ready() bool {
	return s.ready.IsSet()
}

// Forward reads the spool file at path, parses it as RFC 5322, and submits
// a freshly composed message to the upstream endpoint.
func (s *Sender) Forward(path string) (*Receipt, error) {
	if !s.Ready() {
		return nil, ErrNotReady
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, &UpstreamError{Reason: "cannot open spool file", Err: err}
	}
	defer f.Close()

	parsed, err := parseMessage(f)
	if err != nil {
		return nil, err
	}

	if s.cfg.LogEnabled {
		s.cfg.Sink.Publish(events.Event{
			Kind: events.Forwarding, Time: time.Now(),
			From: parsed.from, To: parsed.to,
			Message: "forwarding message to upstream",
		})
	}

	if err := s.submit(parsed); err != nil {
		if s.cfg.LogEnabled {
			s.cfg.Sink.Publish(events.Event{
				Kind: events.Error, Time: time.Now(),
				From: parsed.from, To: parsed.to,
				Message: "upstream delivery failed",
				Err:     err,
			})
		}
		return nil, err
	}

	if s.cfg.LogEnabled {
		s.cfg.Sink.Publish(events.Event{
			Kind: events.Forwarded, Time: time.Now(),
			From: parsed.from, To: parsed.to,
			Message: "delivered to upstream",
		})
	}

	return &Receipt{From: parsed.from, To: parsed.to}, nil
}

type parsedMessage struct {
	from        string
	to          []string
	subject     string
	textBody    string
	htmlBody    string
	attachments []attachment
}

type attachment struct {
	filename    string
	contentType string
	data        []byte
}

// parseMessage extracts from/to/subject/text/html/attachments from an RFC
// 5322 stream, failing with MalformedMessageError if from is missing or to
// is missing/empty.
func parseMessage(r io.Reader) (*parsedMessage, error) {
	mr, err := emmail.CreateReader(r)
	if err != nil {
		return nil, &MalformedMessageError{Reason: "cannot parse message", Err: err}
	}

	header := mr.Header

	fromList, err := header.AddressList("From")
	if err != nil || len(fromList) == 0 {
		return nil, &MalformedMessageError{Reason: "missing or invalid From header", Err: err}
	}

	toList, err := header.AddressList("To")
	if err != nil || len(toList) == 0 {
		return nil, &MalformedMessageError{Reason: "missing or invalid To header", Err: err}
	}

	subject, _ := header.Subject()

	pm := &parsedMessage{
		from:    fromList[0].Address,
		subject: subject,
	}
	for _, addr := range toList {
		pm.to = append(pm.to, addr.Address)
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &MalformedMessageError{Reason: "malformed MIME part", Err: err}
		}

		switch h := part.Header.(type) {
		case *emmail.InlineHeader:
			contentType, _, _ := h.ContentType()
			body, readErr := io.ReadAll(part.Body)
			if readErr != nil {
				return nil, &MalformedMessageError{Reason: "cannot read message body", Err: readErr}
			}
			switch contentType {
			case "text/html":
				pm.htmlBody = string(body)
			default:
				pm.textBody = string(body)
			}
		case *emmail.AttachmentHeader:
			filename, _ := h.Filename()
			contentType, _, _ := h.ContentType()
			data, readErr := io.ReadAll(part.Body)
			if readErr != nil {
				return nil, &MalformedMessageError{Reason: "cannot read attachment", Err: readErr}
			}
			pm.attachments = append(pm.attachments, attachment{
				filename:    filename,
				contentType: contentType,
				data:        data,
			})
		}
	}

	return pm, nil
}

// submit dials the upstream server, authenticates if configured, and
// composes-and-sends the parsed message: attachments are re-attached from
// the parsed representation rather than relayed bit-for-bit.
func (s *Sender) submit(pm *parsedMessage) error {
	client, err := s.dial()
	if err != nil {
		return &UpstreamError{Reason: "cannot connect to upstream", Err: err}
	}
	defer client.Close()

	if s.cfg.Auth != nil {
		authClient := sasl.NewPlainClient("", s.cfg.Auth.User, s.cfg.Auth.Pass)
		if err := client.Auth(authClient); err != nil {
			return &UpstreamError{Reason: "upstream rejected authentication", Err: err}
		}
	}

	mailOpts := &smtp.MailOptions{}
	var rcptOpts *smtp.RcptOptions
	if dsn := s.cfg.DSN; dsn != nil {
		if dsn.ReturnFullBody {
			mailOpts.Return = smtp.DSNReturnFull
		} else {
			mailOpts.Return = smtp.DSNReturnHeaders
		}

		var notify []smtp.DSNNotify
		if dsn.NotifyOnSuccess {
			notify = append(notify, smtp.DSNNotifySuccess)
		}
		if dsn.NotifyOnFailure {
			notify = append(notify, smtp.DSNNotifyFailure)
		}
		if dsn.NotifyOnDelay {
			notify = append(notify, smtp.DSNNotifyDelayed)
		}
		if len(notify) == 0 {
			notify = []smtp.DSNNotify{smtp.DSNNotifyNever}
		}
		rcptOpts = &smtp.RcptOptions{Notify: notify}
	}

	if err := client.Mail(pm.from, mailOpts); err != nil {
		return &UpstreamError{Reason: "upstream rejected MAIL FROM", Err: err}
	}
	for _, rcpt := range pm.to {
		if err := client.Rcpt(rcpt, rcptOpts); err != nil {
			return &UpstreamError{Reason: "upstream rejected RCPT TO " + rcpt, Err: err}
		}
	}

	w, err := client.Data()
	if err != nil {
		return &UpstreamError{Reason: "upstream refused DATA", Err: err}
	}

	if err := compose(w, pm); err != nil {
		w.Close()
		return &UpstreamError{Reason: "failed writing composed message", Err: err}
	}
	if err := w.Close(); err != nil {
		return &UpstreamError{Reason: "upstream rejected composed message", Err: err}
	}

	return nil
}

func (s *Sender) dial() (*smtp.Client, error) {
	addr := s.cfg.addr()

	var client *smtp.Client
	var err error
	if s.cfg.Secure {
		tlsConfig := &tls.Config{InsecureSkipVerify: s.cfg.IgnoreInvalidCert} //nolint:gosec
		client, err = smtp.DialTLS(addr, tlsConfig)
	} else if s.cfg.Lmtp {
		var conn net.Conn
		conn, err = net.Dial("tcp", addr)
		if err == nil {
			client = smtp.NewClientLMTP(conn)
		}
	} else {
		client, err = smtp.Dial(addr)
	}
	if err != nil {
		return nil, err
	}

	if !s.cfg.Secure {
		if ok, _ := client.Extension("STARTTLS"); ok {
			tlsConfig := &tls.Config{InsecureSkipVerify: s.cfg.IgnoreInvalidCert, ServerName: s.cfg.Host} //nolint:gosec
			if err := client.StartTLS(tlsConfig); err != nil {
				client.Close()
				return nil, err
			}
		}
	}

	return client, nil
}

// compose writes pm as a multipart RFC 5322 message using go-message/mail's
// writer: a text/plain and/or text/html alternative body, followed by any
// attachments carried over from the parsed spool file.
func compose(w io.Writer, pm *parsedMessage) error {
	var h emmail.Header
	h.SetAddressList("From", []*mail.Address{{Address: pm.from}})
	toAddrs := make([]*mail.Address, 0, len(pm.to))
	for _, addr := range pm.to {
		toAddrs = append(toAddrs, &mail.Address{Address: addr})
	}
	h.SetAddressList("To", toAddrs)
	if pm.subject != "" {
		h.SetSubject(pm.subject)
	}
	h.SetDate(time.Now())

	mw, err := emmail.CreateWriter(w, h)
	if err != nil {
		return err
	}
	defer mw.Close()

	if pm.textBody != "" || pm.htmlBody != "" {
		bw, err := mw.CreateInline()
		if err != nil {
			return err
		}
		if pm.textBody != "" {
			var th emmail.InlineHeader
			th.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
			pw, err := bw.CreatePart(th)
			if err != nil {
				return err
			}
			if _, err := pw.Write([]byte(pm.textBody)); err != nil {
				return err
			}
			if err := pw.Close(); err != nil {
				return err
			}
		}
		if pm.htmlBody != "" {
			var hh emmail.InlineHeader
			hh.SetContentType("text/html", map[string]string{"charset": "utf-8"})
			pw, err := bw.CreatePart(hh)
			if err != nil {
				return err
			}
			if _, err := pw.Write([]byte(pm.htmlBody)); err != nil {
				return err
			}
			if err := pw.Close(); err != nil {
				return err
			}
		}
		if err := bw.Close(); err != nil {
			return err
		}
	}

	for _, att := range pm.attachments {
		var ah emmail.AttachmentHeader
		ah.SetFilename(att.filename)
		if att.contentType != "" {
			ah.SetContentType(att.contentType, nil)
		}
		aw, err := mw.CreateAttachment(ah)
		if err != nil {
			return err
		}
		if _, err := aw.Write(att.data); err != nil {
			return err
		}
		if err := aw.Close(); err != nil {
			return err
		}
	}

	return nil
}
