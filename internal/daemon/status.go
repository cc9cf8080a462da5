/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2021 Kopano and its licensors
 */

package daemon

import (
	"sync"

	"github.com/jinzhu/copier"
)

// ListenerStatus mirrors the "listener" object of the status snapshot
// schema.
type ListenerStatus struct {
	Ready   bool   `json:"ready"`
	Running bool   `json:"running"`
	Address string `json:"address"`
	Port    int    `json:"port"`
	Mode    string `json:"mode"`
	TLS     bool   `json:"tls"`
}

// SenderStatus mirrors the "sender" object of the status snapshot schema.
type SenderStatus struct {
	Ready     bool   `json:"ready"`
	Running   bool   `json:"running"`
	Host      string `json:"host"`
	Port      int    `json:"port"`
	Mode      string `json:"mode"`
	TLS       bool   `json:"tls"`
	IgnoreCRT bool   `json:"ignoreCRT"`
}

// StorageStatus mirrors the "storage" object of the status snapshot schema.
type StorageStatus struct {
	Ready bool `json:"ready"`
}

// TimerStatus mirrors the "timer" object of the status snapshot schema.
type TimerStatus struct {
	Enabled bool `json:"enabled"`
	Sec     int  `json:"sec"`
}

// Status is the full status snapshot returned by the control API's
// query/status endpoint.
type Status struct {
	mu sync.RWMutex `copier:"-"`

	Listener ListenerStatus `json:"listener"`
	Sender   SenderStatus   `json:"sender"`
	Storage  StorageStatus  `json:"storage"`
	Timer    TimerStatus    `json:"timer"`
}

// Copy returns a deep, independent copy of status safe to serialize
// without holding its lock for the duration of an HTTP response write.
func (status *Status) Copy() (*Status, error) {
	status.mu.RLock()
	defer status.mu.RUnlock()

	s := &Status{}
	err := copier.CopyWithOption(s, status, copier.Option{
		IgnoreEmpty: true,
		DeepCopy:    true,
	})
	return s, err
}

func (status *Status) set(fn func(*Status)) {
	status.mu.Lock()
	defer status.mu.Unlock()
	fn(status)
}
