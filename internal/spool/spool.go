/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2021 Kopano and its licensors
 */

// Package spool implements the on-disk queue directories that back the
// relay: five subdirectories under a spool root, atomic rename-based state
// transitions between them, and an in-memory cache of each directory's
// filenames kept in sync by enqueue/pop operations and explicit rescans.
//
// Directories are authoritative; the in-memory queues are hints. Any
// mismatch discovered at forward time (file vanished out-of-band) is
// returned as an error, never a panic: upstream.Sender.Forward reports it
// as an *upstream.UpstreamError ("cannot open spool file"). There is no
// separate persist-error type.
package spool

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kgol-oss/mailrelayd/internal/events"
	"github.com/kgol-oss/mailrelayd/utils"
)

// Queue names the five on-disk directories a Spool manages.
type Queue string

const (
	Parking       Queue = "parking"
	Direct        Queue = "direct"
	Error         Queue = "error"
	ParkingBackup Queue = "parking_backup"
	DirectBackup  Queue = "direct_backup"
)

var queueDirs = map[Queue]string{
	Parking:       "eml-parking",
	Direct:        "eml-direct",
	Error:         "eml-error",
	ParkingBackup: "eml-parking-backup",
	DirectBackup:  "eml-direct-backup",
}

const emlExt = ".eml"

// Meta carries the fields needed to compute a spool filename.
type Meta struct {
	SessionID string
	From      string
	To        []string
}

// Snapshot is the result of a rescan: the ordered filename list of each
// queue, as found on disk at the moment of the scan.
type Snapshot struct {
	Parking       []string
	Direct        []string
	Error         []string
	ParkingBackup []string
	DirectBackup  []string
}

// Spool owns a spool root directory tree and the in-memory queue caches
// that mirror it.
type Spool struct {
	root          string
	backupEnabled bool
	sink          events.EventSink

	mu        sync.Mutex
	available map[Queue]bool
	parking   []string
	direct    []string
	scanning  utils.AtomicBool
}

// New constructs a Spool rooted at root. Call Init before use.
func New(root string, backupEnabled bool, sink events.EventSink) *Spool {
	if sink == nil {
		sink = events.Multi(nil)
	}
	return &Spool{
		root:          root,
		backupEnabled: backupEnabled,
		sink:          sink,
		available:     make(map[Queue]bool),
	}
}

// Init ensures all five subdirectories exist. A subdirectory that cannot be
// created marks that queue unavailable without aborting the others; Init
// only returns an error if the root itself cannot be created.
func (s *Spool) Init() error {
	if err := os.MkdirAll(s.root, 0755); err != nil {
		return fmt.Errorf("spool: cannot create root %q: %w", s.root, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for q, dir := range queueDirs {
		full := filepath.Join(s.root, dir)
		if err := os.MkdirAll(full, 0755); err != nil {
			s.available[q] = false
			s.sink.Publish(events.Event{
				Kind: events.Warning, Time: time.Now(),
				Queue:   string(q),
				Message: fmt.Sprintf("spool: queue %s unavailable: %v", q, err),
				Err:     err,
			})
			continue
		}
		s.available[q] = true
	}
	return nil
}

// BackupEnabled reports whether successfully delivered entries are moved
// into a backup directory rather than unlinked.
func (s *Spool) BackupEnabled() bool {
	return s.backupEnabled
}

// Available reports whether a queue's backing directory is usable.
func (s *Spool) Available(q Queue) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.available[q]
}

func (s *Spool) dir(q Queue) string {
	return filepath.Join(s.root, queueDirs[q])
}

// Dir exposes the absolute path of a queue directory.
func (s *Spool) Dir(q Queue) string {
	return s.dir(q)
}

// filename computes the spool filename per the fixed on-disk format:
// <YYYYMMDDHHMMSSmmm>_<sessionId>_<sanitized-from>_<sanitized-to-list>.eml
//
// The timestamp component is the wall-clock receipt time at millisecond
// resolution, fixed-width so lexicographic sort on the filename matches
// time order. It does not itself guarantee uniqueness within a millisecond;
// the session id component does that.
func filename(meta Meta) string {
	now := time.Now()
	ts := fmt.Sprintf("%s%03d", now.Format("20060102150405"), now.Nanosecond()/1e6)
	sid := meta.SessionID
	if sid == "" {
		sid = utils.PlaceholderToken
	}
	from := utils.SanitizeForFilename(meta.From)
	to := utils.SanitizeRecipientsForFilename(meta.To)
	return fmt.Sprintf("%s_%s_%s_%s%s", ts, sid, from, to, emlExt)
}

// WriteStream computes the filename for meta, streams src into a temp file
// inside the origin queue directory, fsyncs and closes it, then atomically
// renames it into place. On any error the partial file is removed.
func (s *Spool) WriteStream(origin Queue, src io.Reader, meta Meta) (string, error) {
	if !s.Available(origin) {
		return "", fmt.Errorf("spool: queue %s unavailable", origin)
	}

	name := filename(meta)
	dir := s.dir(origin)
	finalPath := filepath.Join(dir, name)
	tmpPath := filepath.Join(dir, "."+name+".tmp")

	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return "", fmt.Errorf("spool: create temp file: %w", err)
	}

	if _, err := io.Copy(f, src); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("spool: write: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("spool: fsync: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("spool: close: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("spool: rename into place: %w", err)
	}

	return name, nil
}

// EnqueueParking appends filename to the in-memory parking queue.
func (s *Spool) EnqueueParking(filename string) {
	s.mu.Lock()
	s.parking = append(s.parking, filename)
	s.mu.Unlock()
}

// EnqueueDirect appends filename to the in-memory direct queue.
func (s *Spool) EnqueueDirect(filename string) {
	s.mu.Lock()
	s.direct = append(s.direct, filename)
	s.mu.Unlock()
}

// PopParking removes and returns the head of the in-memory parking queue.
// The bool is false when the queue is empty.
func (s *Spool) PopParking() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.parking) == 0 {
		return "", false
	}
	name := s.parking[0]
	s.parking = s.parking[1:]
	return name, true
}

// PushBackParking appends filename to the tail of the in-memory parking
// queue. Used after a failed delivery attempt to requeue for retry.
func (s *Spool) PushBackParking(filename string) {
	s.mu.Lock()
	s.parking = append(s.parking, filename)
	s.mu.Unlock()
}

// DirectLen reports the current length of the in-memory direct queue; used
// by the relay engine to decide whether a rescan-in-progress should defer a
// tick (see the scanning-suppression rule).
func (s *Spool) DirectLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.direct)
}

// Scanning reports whether a rescan is currently in progress.
func (s *Spool) Scanning() bool {
	return s.scanning.IsSet()
}

// MoveToError renames filename from origin into the error directory.
func (s *Spool) MoveToError(filename string, origin Queue) error {
	return s.move(filename, origin, Error)
}

// MoveToBackup renames filename from origin into its corresponding backup
// directory (parking->parking_backup, direct->direct_backup).
func (s *Spool) MoveToBackup(filename string, origin Queue) error {
	var dest Queue
	switch origin {
	case Parking:
		dest = ParkingBackup
	case Direct:
		dest = DirectBackup
	default:
		return fmt.Errorf("spool: no backup destination for queue %s", origin)
	}
	return s.move(filename, origin, dest)
}

// Unlink removes filename from origin outright (backup disabled path).
func (s *Spool) Unlink(filename string, origin Queue) error {
	path := filepath.Join(s.dir(origin), filename)
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("spool: unlink %s: %w", filename, err)
	}
	return nil
}

func (s *Spool) move(filename string, origin, dest Queue) error {
	src := filepath.Join(s.dir(origin), filename)
	dst := filepath.Join(s.dir(dest), filename)
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("spool: move %s from %s to %s: %w", filename, origin, dest, err)
	}
	return nil
}

// Rescan enumerates each queue directory, keeping only regular files with
// the .eml extension, sorts lexicographically (which, by filename format,
// is time order), and atomically replaces the in-memory parking and direct
// queues. It returns a full snapshot of all five queues regardless.
func (s *Spool) Rescan() (Snapshot, error) {
	s.scanning.SetTrue()
	defer s.scanning.SetFalse()

	var snap Snapshot
	var firstErr error

	list := func(q Queue) []string {
		names, err := listEmlFiles(s.dir(q))
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			return nil
		}
		return names
	}

	snap.Parking = list(Parking)
	snap.Direct = list(Direct)
	snap.Error = list(Error)
	snap.ParkingBackup = list(ParkingBackup)
	snap.DirectBackup = list(DirectBackup)

	if firstErr != nil {
		return snap, firstErr
	}

	s.mu.Lock()
	s.parking = snap.Parking
	s.direct = snap.Direct
	s.mu.Unlock()

	return snap, nil
}

func listEmlFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if !strings.HasSuffix(e.Name(), emlExt) {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}
