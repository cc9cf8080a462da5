/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2021 Kopano and its licensors
 */

package control

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"testing"

	"github.com/kgol-oss/mailrelayd/internal/events"
	"github.com/kgol-oss/mailrelayd/internal/lifecycle"
	"github.com/kgol-oss/mailrelayd/internal/spool"
)

type fakeStatusProvider struct{}

func (fakeStatusProvider) Status() (interface{}, error) {
	return map[string]string{"ok": "true"}, nil
}

func newTestAPI(t *testing.T) (*API, *lifecycle.State) {
	t.Helper()
	root, err := os.MkdirTemp("", "mailrelayd-control-*")
	if err != nil {
		t.Fatalf("mkdtemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(root) })

	sp := spool.New(root, true, events.Multi(nil))
	if err := sp.Init(); err != nil {
		t.Fatalf("spool init: %v", err)
	}
	state := lifecycle.New(0, nil)

	api := New(Config{
		APIKey: "secret",
		State:  state,
		Spool:  sp,
		Status: fakeStatusProvider{},
	})
	return api, state
}

func TestControlRejectsMissingAPIKey(t *testing.T) {
	api, _ := newTestAPI(t)
	srv := httptest.NewServer(api.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/remailer/query/status")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestControlRejectsStorageWithoutAPIKeyToo(t *testing.T) {
	api, _ := newTestAPI(t)
	srv := httptest.NewServer(api.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/remailer/query/storage")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected storage endpoint to require api_key too, got %d", resp.StatusCode)
	}
}

func TestControlStatusWithValidKey(t *testing.T) {
	api, _ := newTestAPI(t)
	srv := httptest.NewServer(api.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/remailer/query/status?api_key=secret")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestControlPauseSender(t *testing.T) {
	api, state := newTestAPI(t)
	srv := httptest.NewServer(api.Handler())
	defer srv.Close()

	form := url.Values{"suspend_sender": {"true"}}
	resp, err := http.Post(srv.URL+"/api/remailer/control?api_key=secret", "application/x-www-form-urlencoded", strings.NewReader(form.Encode()))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if !state.Current().SenderPaused {
		t.Fatalf("expected sender paused after control request")
	}
}

func TestControlRejectsUnrecognizedControlParams(t *testing.T) {
	api, _ := newTestAPI(t)
	srv := httptest.NewServer(api.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/remailer/control?api_key=secret", "application/x-www-form-urlencoded", strings.NewReader("nonsense=1"))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unrecognized params, got %d", resp.StatusCode)
	}
}
