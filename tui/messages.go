package tui

import (
	"time"

	"github.com/go-authgate/recon-cli/apiclient"
)

// MsgBanner carries the API URL shown in the header.
type MsgBanner struct{ APIURL string }

// MsgLoginOK signals a successful password login.
type MsgLoginOK struct{ Username string }

// MsgTokenSaved signals that credentials were persisted.
type MsgTokenSaved struct{ Location string }

// MsgLoggedOut signals that the session was ended and credentials cleared.
type MsgLoggedOut struct{}

// MsgInfo is a neutral status line.
type MsgInfo struct{ Text string }

// MsgRequesting signals that an API request is being sent.
type MsgRequesting struct {
	Method string
	Path   string
}

// MsgAPICallOK signals that an API call succeeded.
type MsgAPICallOK struct {
	Method string
	Path   string
	Status int
}

// MsgAPICallFailed signals that an API call failed.
type MsgAPICallFailed struct{ Err error }

// MsgBurstDone summarizes a burst of concurrent requests.
type MsgBurstDone struct {
	OK      int
	Failed  int
	Elapsed time.Duration
}

// MsgReAuthRequired signals that the user must sign in again.
type MsgReAuthRequired struct{ LoginURL string }

// MsgServing signals that the development server is listening.
type MsgServing struct{ Addr string }

// MsgDone signals that the command finished.
type MsgDone struct{}

// MsgFatal signals a fatal error that should terminate the command.
type MsgFatal struct{ Err error }

// MsgAccessTokenRejected signals a 401 on a protected endpoint.
type MsgAccessTokenRejected struct{ Path string }

// MsgRefreshStarted signals that this request is leading a token refresh.
type MsgRefreshStarted struct{ At time.Time }

// MsgRefreshJoined signals that a request queued behind the refresh in flight.
type MsgRefreshJoined struct{ Path string }

// MsgRefreshOK signals that the refresh succeeded and queued requests were released.
type MsgRefreshOK struct{ Released int }

// MsgRefreshFailed signals that the refresh failed.
type MsgRefreshFailed struct{ Err error }

// MsgSessionInvalidated signals that stored credentials were cleared.
type MsgSessionInvalidated struct{ Reason apiclient.Reason }
