package apiclient

// Observer receives coordinator events. Methods are called synchronously from
// request goroutines and must not block.
type Observer interface {
	AccessTokenRejected(path string)
	RefreshStarted()
	RefreshJoined(path string)
	RefreshSucceeded(released int)
	RefreshFailed(err error)
	SessionInvalidated(reason Reason)
}

// NopObserver ignores all events.
type NopObserver struct{}

func (NopObserver) AccessTokenRejected(_ string) {}
func (NopObserver) RefreshStarted()              {}
func (NopObserver) RefreshJoined(_ string)       {}
func (NopObserver) RefreshSucceeded(_ int)       {}
func (NopObserver) RefreshFailed(_ error)        {}
func (NopObserver) SessionInvalidated(_ Reason)  {}
