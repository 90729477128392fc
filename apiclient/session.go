package apiclient

import (
	"context"
	"net/url"
	"sync"

	"go.uber.org/zap"

	"github.com/go-authgate/recon-cli/credstore"
)

// Reason tells the re-authentication entry point why the session ended.
type Reason string

const (
	// ReasonExpired means a session existed but could not be renewed.
	ReasonExpired Reason = "session_expired"
	// ReasonUnauthenticated means no refresh credential was ever stored.
	ReasonUnauthenticated Reason = "unauthenticated"
)

// LoginPath is the re-authentication entry point.
const LoginPath = "/login"

// LoginURL returns the re-authentication URL under base carrying reason as a
// query marker. An empty reason yields the bare login path.
func LoginURL(base string, reason Reason) string {
	u := base + LoginPath
	if reason == "" {
		return u
	}
	return u + "?" + url.Values{"reason": {string(reason)}}.Encode()
}

// sessionGuard clears credentials on every invalidation and reports it at most
// once per session. reset re-arms reporting once live credentials are seen
// again, whoever wrote them.
type sessionGuard struct {
	mu          sync.Mutex
	invalidated bool

	store     credstore.Store
	onInvalid func(Reason)
	observer  Observer
	log       *zap.Logger
}

func (g *sessionGuard) invalidate(ctx context.Context, reason Reason) {
	g.mu.Lock()
	if err := g.store.Clear(ctx); err != nil {
		g.log.Warn("failed to clear credentials", zap.Error(err))
	}
	if g.invalidated {
		g.mu.Unlock()
		return
	}
	g.invalidated = true
	g.mu.Unlock()

	g.log.Info("session invalidated", zap.String("reason", string(reason)))
	g.observer.SessionInvalidated(reason)
	if g.onInvalid != nil {
		g.onInvalid(reason)
	}
}

func (g *sessionGuard) reset() {
	g.mu.Lock()
	g.invalidated = false
	g.mu.Unlock()
}
