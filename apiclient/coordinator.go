package apiclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/go-authgate/recon-cli/credstore"
)

// exemptPaths never trigger a refresh; their 401s go straight to the caller.
var exemptPaths = map[string]struct{}{
	PathLogin:          {},
	PathRefresh:        {},
	PathForgotPassword: {},
	PathResetPassword:  {},
}

type retriedKey struct{}

// isRetried reports whether req is already a replay after a refresh.
func isRetried(req *http.Request) bool {
	v, _ := req.Context().Value(retriedKey{}).(bool)
	return v
}

// replayRequest clones req with tok attached and the retry marker set.
func replayRequest(req *http.Request, tok *oauth2.Token) (*http.Request, error) {
	next := req.Clone(context.WithValue(req.Context(), retriedKey{}, true))
	if req.Body != nil && req.Body != http.NoBody {
		if req.GetBody == nil {
			return nil, fmt.Errorf("%s %s: request body cannot be replayed", req.Method, req.URL.Path)
		}
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("failed to rewind request body: %w", err)
		}
		next.Body = body
	}
	next.Header.Del("Authorization")
	tok.SetAuthHeader(next)
	return next, nil
}

type refreshResult struct {
	token *oauth2.Token
	err   error
}

// waiter is a request queued behind the refresh in flight.
type waiter struct {
	path string
	ch   chan refreshResult
}

// coordinator runs at most one refresh call at a time. The first 401 of an
// epoch leads the refresh; 401s that arrive while it is in flight queue a
// one-shot channel and receive the leader's outcome.
//
// refreshing is true exactly while a refresh call is outstanding, and waiters
// is empty whenever refreshing is false. epoch counts settled refreshes.
type coordinator struct {
	mu         sync.Mutex
	refreshing bool
	waiters    []waiter
	epoch      uint64

	store    credstore.Store
	session  *sessionGuard
	observer Observer
	log      *zap.Logger
	timeout  time.Duration
	renew    func(ctx context.Context, refreshToken string) (*oauth2.Token, error)
	relPath  func(*http.Request) string
}

// handleAuthFailure decides what happens to a request that got a 401. It
// returns the token to replay req with, or the terminal error for the caller.
func (co *coordinator) handleAuthFailure(req *http.Request, cause error) (*oauth2.Token, error) {
	path := co.relPath(req)
	if _, ok := exemptPaths[path]; ok || isRetried(req) {
		return nil, cause
	}
	co.observer.AccessTokenRejected(path)

	for {
		co.mu.Lock()
		if co.refreshing {
			return co.join(req, path)
		}
		epoch := co.epoch
		co.mu.Unlock()

		// A previous epoch may have settled between this request being sent
		// and its 401 arriving. Replaying with the newer token avoids a second
		// refresh. The store is read unlocked; it may be a network round-trip.
		newer := co.newerToken(req)

		co.mu.Lock()
		if co.refreshing || co.epoch != epoch {
			co.mu.Unlock()
			continue
		}
		if newer != nil {
			co.mu.Unlock()
			co.log.Debug("replaying with token from previous refresh", zap.String("path", path))
			return newer, nil
		}
		co.refreshing = true
		co.mu.Unlock()
		break
	}

	co.log.Debug("starting token refresh", zap.String("path", path))
	co.observer.RefreshStarted()

	tok, err := co.lead(req.Context(), cause)
	co.settle(tok, err)
	return tok, err
}

// join queues req behind the refresh in flight. Called with mu held; it
// releases mu before blocking.
func (co *coordinator) join(req *http.Request, path string) (*oauth2.Token, error) {
	ch := make(chan refreshResult, 1)
	co.waiters = append(co.waiters, waiter{path: path, ch: ch})
	co.mu.Unlock()

	co.log.Debug("waiting for token refresh in flight", zap.String("path", path))
	co.observer.RefreshJoined(path)

	select {
	case res := <-ch:
		return res.token, res.err
	case <-req.Context().Done():
		return nil, req.Context().Err()
	}
}

// newerToken returns the stored token when it differs from the one req was
// sent with.
func (co *coordinator) newerToken(req *http.Request) *oauth2.Token {
	tok, err := co.store.Get(req.Context())
	if err != nil || tok.AccessToken == "" {
		return nil
	}
	sent := req.Header.Get("Authorization")
	if sent == "" || sent == tok.Type()+" "+tok.AccessToken {
		return nil
	}
	return tok
}

// lead performs the single refresh call of an epoch. It runs detached from the
// leader's cancellation so an abandoned request cannot fail everyone queued
// behind it; the refresh timeout bounds it instead.
func (co *coordinator) lead(ctx context.Context, cause error) (*oauth2.Token, error) {
	ctx = context.WithoutCancel(ctx)

	current, err := co.store.Get(ctx)
	if err != nil && !errors.Is(err, credstore.ErrNotFound) {
		co.log.Warn("credential store unavailable", zap.Error(err))
	}
	if err != nil || current.RefreshToken == "" {
		co.log.Info("no refresh token available")
		co.session.invalidate(ctx, ReasonUnauthenticated)
		return nil, cause
	}

	// Invalidation clears the store, so a refresh token here was written after
	// any earlier invalidation, possibly by another login flow or process.
	co.session.reset()

	refreshCtx, cancel := context.WithTimeout(ctx, co.timeout)
	defer cancel()

	tok, err := co.renew(refreshCtx, current.RefreshToken)
	if err != nil {
		if errors.Is(refreshCtx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("%w after %v: %w", ErrRefreshTimeout, co.timeout, err)
		}
		co.log.Warn("token refresh failed", zap.Error(err))
		co.session.invalidate(ctx, ReasonExpired)
		return nil, &RefreshError{Err: err}
	}

	if err := co.store.Set(ctx, tok.AccessToken, tok.RefreshToken); err != nil {
		co.log.Warn("failed to store refreshed credentials", zap.Error(err))
	}
	return tok, nil
}

// settle ends the epoch: the queue is detached and the flag cleared in one
// step, then every waiter receives the outcome in arrival order.
func (co *coordinator) settle(tok *oauth2.Token, err error) {
	co.mu.Lock()
	waiters := co.waiters
	co.waiters = nil
	co.refreshing = false
	co.epoch++
	co.mu.Unlock()

	for _, w := range waiters {
		// Buffered; a waiter whose context ended is simply never read.
		w.ch <- refreshResult{token: tok, err: err}
		co.log.Debug("released waiter", zap.String("path", w.path))
	}

	if err != nil {
		co.observer.RefreshFailed(err)
		return
	}
	co.log.Debug("token refreshed", zap.Int("released", len(waiters)))
	co.observer.RefreshSucceeded(len(waiters))
}
