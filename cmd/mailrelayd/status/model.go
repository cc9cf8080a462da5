/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2021 Kopano and its licensors
 */

package status

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/muesli/termenv"
)

// Status mirrors the JSON shape of the control API's query/status
// response (see internal/daemon.Status).
type Status struct {
	Listener struct {
		Ready   bool   `json:"ready"`
		Running bool   `json:"running"`
		Address string `json:"address"`
		Port    int    `json:"port"`
		Mode    string `json:"mode"`
		TLS     bool   `json:"tls"`
	} `json:"listener"`
	Sender struct {
		Ready     bool   `json:"ready"`
		Running   bool   `json:"running"`
		Host      string `json:"host"`
		Port      int    `json:"port"`
		Mode      string `json:"mode"`
		TLS       bool   `json:"tls"`
		IgnoreCRT bool   `json:"ignoreCRT"`
	} `json:"sender"`
	Storage struct {
		Ready bool `json:"ready"`
	} `json:"storage"`
	Timer struct {
		Enabled bool `json:"enabled"`
		Sec     int  `json:"sec"`
	} `json:"timer"`
}

type errMsg error

type statusMsg *Status

type model struct {
	ctx context.Context

	baseURL string
	apiKey  string

	spinner spinner.Model

	quitting bool

	status *Status
	err    error
}

func initialModel(ctx context.Context, baseURL, apiKey string) *model {
	s := spinner.NewModel()
	s.HideFor = time.Second
	s.Spinner = spinner.Line
	return &model{
		ctx:     ctx,
		baseURL: baseURL,
		apiKey:  apiKey,
		spinner: s,
	}
}

func (m *model) getStatus() tea.Msg {
	var err error
	var s *Status

	count := 0
	for {
		s, err = fetchStatus(m.ctx, m.baseURL, m.apiKey)
		if err == nil {
			break
		}

		if count >= 3 {
			return errMsg(err)
		}
		log.Println(err.Error())

		select {
		case <-m.ctx.Done():
			return errMsg(m.ctx.Err())
		case <-time.After(1 * time.Second):
		}

		count++
	}

	return statusMsg(s)
}

func fetchStatus(ctx context.Context, baseURL, apiKey string) (*Status, error) {
	url := fmt.Sprintf("%s/api/remailer/query/status?api_key=%s", baseURL, apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status request failed: %s", resp.Status)
	}

	s := &Status{}
	if err := json.NewDecoder(resp.Body).Decode(s); err != nil {
		return nil, err
	}
	return s, nil
}

func (m *model) Init() tea.Cmd {
	return tea.Batch(
		spinner.Tick,
		m.getStatus,
	)
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		default:
			return m, nil
		}

	case errMsg:
		m.err = msg
		return m, tea.Quit

	case statusMsg:
		m.status = msg
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	default:
		return m, nil
	}
}

func (m *model) View() string {
	if m.err != nil {
		return ""
	}
	if m.status != nil {
		return ""
	}

	s := termenv.String(m.spinner.View()).String()
	str := fmt.Sprintf("%s Fetching mailrelayd status ...", s)

	if m.quitting {
		return str + "\n"
	}
	return str
}
