/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2021 Kopano and its licensors
 */

package events

import (
	"context"

	"github.com/kgol-oss/mailrelayd/utils"
)

// BroadcastSink republishes every event to any number of live subscribers.
// It is the backbone of the control API's live event stream
// (GET /api/remailer/query/events): each websocket connection Subscribes
// and drains its own channel independently.
type BroadcastSink struct {
	b *utils.Broadcaster
}

// NewBroadcastSink starts the underlying broadcaster pump. ctx controls its
// lifetime; cancel it (or call Stop) during daemon shutdown.
func NewBroadcastSink(ctx context.Context) *BroadcastSink {
	b := utils.NewBroadcaster()
	b.SetBufferSize(32)
	go b.Start(ctx)
	return &BroadcastSink{b: b}
}

func (s *BroadcastSink) Publish(e Event) {
	s.b.Broadcast(e)
}

// Subscribe returns a channel that receives every subsequent Event. The
// caller must Unsubscribe when done to avoid leaking the channel.
func (s *BroadcastSink) Subscribe() chan interface{} {
	return s.b.Subscribe()
}

func (s *BroadcastSink) Unsubscribe(ch chan interface{}) {
	s.b.Unsubscribe(ch)
}

func (s *BroadcastSink) Stop() {
	s.b.Stop()
}
