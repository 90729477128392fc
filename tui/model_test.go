package tui

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/go-authgate/recon-cli/apiclient"
)

func update(t *testing.T, m Model, msgs ...any) Model {
	t.Helper()
	for _, msg := range msgs {
		next, _ := m.Update(msg)
		var ok bool
		m, ok = next.(Model)
		if !ok {
			t.Fatalf("Update returned %T, want Model", next)
		}
	}
	return m
}

func TestModel_RefreshLifecycle(t *testing.T) {
	m := update(t, NewModel(),
		MsgBanner{APIURL: "http://localhost:8080"},
		MsgRequesting{Method: "GET", Path: "/api/v1/transactions"},
		MsgAccessTokenRejected{Path: "/api/v1/transactions"},
		MsgRefreshStarted{At: time.Now()},
		MsgRefreshJoined{Path: "/api/v1/me"},
		MsgRefreshJoined{Path: "/api/v1/me"},
	)
	if m.state != stateRefreshing {
		t.Fatalf("Expected refreshing state, got %d", m.state)
	}
	if m.counts.joined != 2 || m.counts.refreshes != 1 {
		t.Errorf("Unexpected counters: %+v", m.counts)
	}

	m = update(t, m, MsgRefreshOK{Released: 2}, MsgAPICallOK{Method: "GET", Path: "/api/v1/me", Status: 200}, MsgDone{})
	if m.state != stateSuccess {
		t.Fatalf("Expected success state, got %d", m.state)
	}
	view := m.viewSuccess()
	if !strings.Contains(view, "1 (1 rejected, 2 joined)") {
		t.Errorf("Expected refresh summary in view, got:\n%s", view)
	}
}

func TestModel_SessionEnded(t *testing.T) {
	loginURL := apiclient.LoginURL("http://localhost:8080", apiclient.ReasonExpired)
	m := update(t, NewModel(),
		MsgRefreshStarted{At: time.Now()},
		MsgRefreshFailed{Err: errors.New("invalid_grant")},
		MsgSessionInvalidated{Reason: apiclient.ReasonExpired},
		MsgReAuthRequired{LoginURL: loginURL},
		MsgFatal{Err: errors.New("session expired")},
	)
	if m.state != stateError {
		t.Fatalf("Expected error state, got %d", m.state)
	}
	if m.loginURL != loginURL {
		t.Errorf("Expected login URL %q, got %q", loginURL, m.loginURL)
	}
	if m.errMsg != "session expired" {
		t.Errorf("Expected error message, got %q", m.errMsg)
	}
}

func TestModel_StatusLogIsCapped(t *testing.T) {
	m := NewModel()
	for range maxStatusLines + 5 {
		m = update(t, m, MsgInfo{Text: "line"})
	}
	if len(m.statusLines) != maxStatusLines {
		t.Errorf("Expected %d lines, got %d", maxStatusLines, len(m.statusLines))
	}
	if m.dropped != 5 {
		t.Errorf("Expected 5 dropped lines, got %d", m.dropped)
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "0s"},
		{-time.Second, "0s"},
		{1500 * time.Millisecond, "2s"},
		{59 * time.Second, "59s"},
		{125 * time.Second, "2m 5s"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.in); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestPlainDisplayer(t *testing.T) {
	var buf bytes.Buffer
	d := NewPlainDisplayer(&buf)

	d.Banner("http://localhost:8080")
	d.AccessTokenRejected("/api/v1/me")
	d.RefreshStarted()
	d.RefreshSucceeded(3)
	d.APICallFailed(&apiclient.APIError{StatusCode: 404, Body: []byte(`{"detail":"Not Found"}`)})
	d.ReAuthRequired("/login?reason=session_expired")

	out := buf.String()
	for _, want := range []string{
		"API: http://localhost:8080",
		"Access token rejected (401) on /api/v1/me",
		"replaying 4 queued request(s)",
		"API call failed (404 Not Found): Not Found",
		"sign in again: /login?reason=session_expired",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected output to contain %q, got:\n%s", want, out)
		}
	}
}

func TestDisplayersImplementObserver(t *testing.T) {
	var _ apiclient.Observer = NoopDisplayer{}
	var _ Displayer = NoopDisplayer{}
	var _ Displayer = (*PlainDisplayer)(nil)
	var _ Displayer = (*ProgramDisplayer)(nil)
}
