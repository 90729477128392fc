package tui

import (
	"fmt"
	"io"
	"sync"
	"time"

	tea "charm.land/bubbletea/v2"

	"github.com/go-authgate/recon-cli/apiclient"
)

// Displayer abstracts all user-facing output of the CLI. It also receives the
// client's refresh coordinator events.
type Displayer interface {
	apiclient.Observer

	Banner(apiURL string)
	LoginOK(username string)
	TokenSaved(location string)
	LoggedOut()
	MessageSent(text string)
	Requesting(method, path string)
	APICallOK(method, path string, status int)
	APICallFailed(err error)
	BurstDone(ok, failed int, elapsed time.Duration)
	ReAuthRequired(loginURL string)
	Serving(addr string)
	Done()
	Fatal(err error)
}

// PlainDisplayer writes plain text output to w.
// Used when stderr is not a TTY (pipes, CI, SSH without pty). Safe for
// concurrent use; burst requests report from many goroutines.
type PlainDisplayer struct {
	mu sync.Mutex
	w  io.Writer
}

// NewPlainDisplayer creates a PlainDisplayer that writes to w.
func NewPlainDisplayer(w io.Writer) *PlainDisplayer {
	return &PlainDisplayer{w: w}
}

func (p *PlainDisplayer) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, format, args...)
}

func (p *PlainDisplayer) Banner(apiURL string) {
	p.printf("=== Reconciliation API Client ===\nAPI: %s\n\n", apiURL)
}

func (p *PlainDisplayer) LoginOK(username string) {
	p.printf("Signed in as %s\n", username)
}

func (p *PlainDisplayer) TokenSaved(location string) {
	p.printf("Credentials saved to %s\n", location)
}

func (p *PlainDisplayer) LoggedOut() {
	p.printf("Signed out, credentials cleared\n")
}

func (p *PlainDisplayer) MessageSent(text string) {
	p.printf("%s\n", text)
}

func (p *PlainDisplayer) Requesting(method, path string) {
	p.printf("%s %s\n", method, path)
}

func (p *PlainDisplayer) APICallOK(method, path string, status int) {
	p.printf("%s %s -> %d\n", method, path, status)
}

func (p *PlainDisplayer) APICallFailed(err error) {
	if status := apiclient.StatusText(err); status != "" {
		p.printf("API call failed (%s): %s\n", status, apiclient.ErrorMessage(err))
		return
	}
	p.printf("API call failed: %s\n", apiclient.ErrorMessage(err))
}

func (p *PlainDisplayer) BurstDone(ok, failed int, elapsed time.Duration) {
	p.printf("\nBurst finished in %s: %d succeeded, %d failed\n", elapsed.Round(time.Millisecond), ok, failed)
}

func (p *PlainDisplayer) ReAuthRequired(loginURL string) {
	p.printf("Session ended, sign in again: %s\n", loginURL)
}

func (p *PlainDisplayer) Serving(addr string) {
	p.printf("Development server listening on %s\n", addr)
}

func (p *PlainDisplayer) Done() {}

func (p *PlainDisplayer) Fatal(err error) {
	p.printf("Error: %s\n", apiclient.ErrorMessage(err))
}

func (p *PlainDisplayer) AccessTokenRejected(path string) {
	p.printf("Access token rejected (401) on %s\n", path)
}

func (p *PlainDisplayer) RefreshStarted() {
	p.printf("Refreshing access token...\n")
}

func (p *PlainDisplayer) RefreshJoined(path string) {
	p.printf("Waiting for refresh in flight: %s\n", path)
}

func (p *PlainDisplayer) RefreshSucceeded(released int) {
	p.printf("Token refreshed, replaying %d queued request(s)\n", released+1)
}

func (p *PlainDisplayer) RefreshFailed(err error) {
	p.printf("Refresh failed: %s\n", apiclient.ErrorMessage(err))
}

func (p *PlainDisplayer) SessionInvalidated(reason apiclient.Reason) {
	p.printf("Session invalidated (%s)\n", reason)
}

// NoopDisplayer is a no-op implementation used in tests.
type NoopDisplayer struct {
	apiclient.NopObserver
}

func (NoopDisplayer) Banner(_ string)                     {}
func (NoopDisplayer) LoginOK(_ string)                    {}
func (NoopDisplayer) TokenSaved(_ string)                 {}
func (NoopDisplayer) LoggedOut()                          {}
func (NoopDisplayer) MessageSent(_ string)                {}
func (NoopDisplayer) Requesting(_, _ string)              {}
func (NoopDisplayer) APICallOK(_, _ string, _ int)        {}
func (NoopDisplayer) APICallFailed(_ error)               {}
func (NoopDisplayer) BurstDone(_, _ int, _ time.Duration) {}
func (NoopDisplayer) ReAuthRequired(_ string)             {}
func (NoopDisplayer) Serving(_ string)                    {}
func (NoopDisplayer) Done()                               {}
func (NoopDisplayer) Fatal(_ error)                       {}

// ProgramDisplayer sends BubbleTea messages to a running tea.Program.
type ProgramDisplayer struct {
	p *tea.Program
}

// NewProgramDisplayer creates a ProgramDisplayer that sends messages to p.
func NewProgramDisplayer(p *tea.Program) *ProgramDisplayer {
	return &ProgramDisplayer{p: p}
}

func (t *ProgramDisplayer) Banner(apiURL string) {
	t.p.Send(MsgBanner{APIURL: apiURL})
}

func (t *ProgramDisplayer) LoginOK(username string) {
	t.p.Send(MsgLoginOK{Username: username})
}

func (t *ProgramDisplayer) TokenSaved(location string) {
	t.p.Send(MsgTokenSaved{Location: location})
}

func (t *ProgramDisplayer) LoggedOut() {
	t.p.Send(MsgLoggedOut{})
}

func (t *ProgramDisplayer) MessageSent(text string) {
	t.p.Send(MsgInfo{Text: text})
}

func (t *ProgramDisplayer) Requesting(method, path string) {
	t.p.Send(MsgRequesting{Method: method, Path: path})
}

func (t *ProgramDisplayer) APICallOK(method, path string, status int) {
	t.p.Send(MsgAPICallOK{Method: method, Path: path, Status: status})
}

func (t *ProgramDisplayer) APICallFailed(err error) {
	t.p.Send(MsgAPICallFailed{Err: err})
}

func (t *ProgramDisplayer) BurstDone(ok, failed int, elapsed time.Duration) {
	t.p.Send(MsgBurstDone{OK: ok, Failed: failed, Elapsed: elapsed})
}

func (t *ProgramDisplayer) ReAuthRequired(loginURL string) {
	t.p.Send(MsgReAuthRequired{LoginURL: loginURL})
}

func (t *ProgramDisplayer) Serving(addr string) {
	t.p.Send(MsgServing{Addr: addr})
}

func (t *ProgramDisplayer) Done() {
	t.p.Send(MsgDone{})
}

func (t *ProgramDisplayer) Fatal(err error) {
	t.p.Send(MsgFatal{Err: err})
}

func (t *ProgramDisplayer) AccessTokenRejected(path string) {
	t.p.Send(MsgAccessTokenRejected{Path: path})
}

func (t *ProgramDisplayer) RefreshStarted() {
	t.p.Send(MsgRefreshStarted{At: time.Now()})
}

func (t *ProgramDisplayer) RefreshJoined(path string) {
	t.p.Send(MsgRefreshJoined{Path: path})
}

func (t *ProgramDisplayer) RefreshSucceeded(released int) {
	t.p.Send(MsgRefreshOK{Released: released})
}

func (t *ProgramDisplayer) RefreshFailed(err error) {
	t.p.Send(MsgRefreshFailed{Err: err})
}

func (t *ProgramDisplayer) SessionInvalidated(reason apiclient.Reason) {
	t.p.Send(MsgSessionInvalidated{Reason: reason})
}
