/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2021 Kopano and its licensors
 */

// Package control implements the HTTP request/response surface exposing
// status, storage inventory, and lifecycle pause/resume commands. Every
// endpoint, including the storage rescan, is gated by the shared-secret
// api_key parameter.
package control

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/kgol-oss/mailrelayd/internal/events"
	"github.com/kgol-oss/mailrelayd/internal/lifecycle"
	"github.com/kgol-oss/mailrelayd/internal/spool"
)

const maxBodyBytes = 10 << 20 // 10 MB

// StatusProvider supplies the current status snapshot for query/status.
type StatusProvider interface {
	Status() (interface{}, error)
}

// API wires the control endpoints to the lifecycle state, the spool, and a
// live event broadcaster.
type API struct {
	apiKey string
	logger logrus.FieldLogger

	state     *lifecycle.State
	spool     *spool.Spool
	status    StatusProvider
	broadcast *events.BroadcastSink

	upgrader websocket.Upgrader
}

// Config bundles an API's collaborators.
type Config struct {
	APIKey    string
	Logger    logrus.FieldLogger
	State     *lifecycle.State
	Spool     *spool.Spool
	Status    StatusProvider
	Broadcast *events.BroadcastSink
}

// New constructs an API. Call Handler to obtain the http.Handler to serve.
func New(cfg Config) *API {
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &API{
		apiKey:    cfg.APIKey,
		logger:    logger.WithField("scope", "control"),
		state:     cfg.State,
		spool:     cfg.Spool,
		status:    cfg.Status,
		broadcast: cfg.Broadcast,
		upgrader:  websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024},
	}
}

// Handler returns the mux serving the control API's three endpoints, plus
// an additive live event stream over websocket.
func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/remailer/control", a.guarded(a.handleControl))
	mux.HandleFunc("/api/remailer/query/status", a.guarded(a.handleStatus))
	mux.HandleFunc("/api/remailer/query/storage", a.guarded(a.handleStorage))
	mux.HandleFunc("/api/remailer/query/events", a.guarded(a.handleEvents))
	return mux
}

// guarded wraps an endpoint with the shared-secret api_key check. On
// failure it responds 401 without invoking the wrapped handler, so the
// protected handler never consumes the request body.
func (a *API) guarded(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("api_key") != a.apiKey || a.apiKey == "" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"message": "Access denied"})
			return
		}
		next(w, r)
	}
}

// handleControl toggles suspend_sender and/or suspend_listener. At least
// one of the two parameters must be present and parseable as a bool.
func (a *API) handleControl(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := r.ParseForm(); err != nil {
		writePlain(w, http.StatusBadRequest, "bad request")
		return
	}

	recognized := false

	if v := r.Form.Get("suspend_sender"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writePlain(w, http.StatusBadRequest, "invalid suspend_sender")
			return
		}
		a.state.PauseSender(b)
		recognized = true
	}

	if v := r.Form.Get("suspend_listener"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writePlain(w, http.StatusBadRequest, "invalid suspend_listener")
			return
		}
		a.state.PauseListener(b)
		recognized = true
	}

	if !recognized {
		writePlain(w, http.StatusBadRequest, "neither suspend_sender nor suspend_listener present")
		return
	}

	writePlain(w, http.StatusOK, "done")
}

func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := a.status.Status()
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// storageSnapshot is the JSON shape of the query/storage response.
type storageSnapshot struct {
	Parking       []string `json:"parking"`
	Direct        []string `json:"direct"`
	Error         []string `json:"error"`
	ParkingBackup []string `json:"parkingBackup"`
	DirectBackup  []string `json:"directBackup"`
}

func (a *API) handleStorage(w http.ResponseWriter, r *http.Request) {
	snap, err := a.spool.Rescan()
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, storageSnapshot{
		Parking:       snap.Parking,
		Direct:        snap.Direct,
		Error:         snap.Error,
		ParkingBackup: snap.ParkingBackup,
		DirectBackup:  snap.DirectBackup,
	})
}

// handleEvents upgrades the connection to a websocket and relays every
// subsequent Event until the client disconnects. This is an addition on
// top of the documented control surface, not a replacement for it.
func (a *API) handleEvents(w http.ResponseWriter, r *http.Request) {
	if a.broadcast == nil {
		http.Error(w, "event stream not available", http.StatusNotImplemented)
		return
	}

	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.logger.WithError(err).Warnln("failed to upgrade event stream connection")
		return
	}
	defer conn.Close()

	ch := a.broadcast.Subscribe()
	defer a.broadcast.Unsubscribe(ch)

	for msg := range ch {
		if err := conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

func writePlain(w http.ResponseWriter, code int, message string) {
	w.WriteHeader(code)
	_, _ = w.Write([]byte(message))
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"message": err.Error()})
}
