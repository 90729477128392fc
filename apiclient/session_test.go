package apiclient

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"go.uber.org/zap"

	"github.com/go-authgate/recon-cli/credstore"
)

func TestLoginURL(t *testing.T) {
	tests := []struct {
		base   string
		reason Reason
		want   string
	}{
		{"", ReasonExpired, "/login?reason=session_expired"},
		{"", ReasonUnauthenticated, "/login?reason=unauthenticated"},
		{"https://recon.example.com", ReasonExpired, "https://recon.example.com/login?reason=session_expired"},
		{"https://recon.example.com", "", "https://recon.example.com/login"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := LoginURL(tt.base, tt.reason); got != tt.want {
				t.Errorf("LoginURL(%q, %q) = %q, want %q", tt.base, tt.reason, got, tt.want)
			}
		})
	}
}

func TestSessionGuard_InvalidateOnce(t *testing.T) {
	store := credstore.NewMemoryStore()
	_ = store.Set(context.Background(), "access-token-value", "refresh-token")

	var calls atomic.Int32
	obs := &recorder{}
	g := &sessionGuard{
		store:     store,
		onInvalid: func(Reason) { calls.Add(1) },
		observer:  obs,
		log:       zap.NewNop(),
	}

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g.invalidate(context.Background(), ReasonExpired)
		}()
	}
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Errorf("Expected 1 callback, got %d", got)
	}
	if _, err := store.Get(context.Background()); !errors.Is(err, credstore.ErrNotFound) {
		t.Errorf("Expected store cleared, got %v", err)
	}

	g.reset()
	g.invalidate(context.Background(), ReasonUnauthenticated)
	if got := calls.Load(); got != 2 {
		t.Errorf("Expected callback after reset, got %d", got)
	}
	reasons := obs.invalidations()
	if len(reasons) != 2 || reasons[1] != ReasonUnauthenticated {
		t.Errorf("Expected second reason %s, got %v", ReasonUnauthenticated, reasons)
	}
}

func TestSessionGuard_LatchedInvalidateStillClearsStore(t *testing.T) {
	store := credstore.NewMemoryStore()
	var calls atomic.Int32
	g := &sessionGuard{
		store:     store,
		onInvalid: func(Reason) { calls.Add(1) },
		observer:  NopObserver{},
		log:       zap.NewNop(),
	}
	ctx := context.Background()

	g.invalidate(ctx, ReasonUnauthenticated)

	// Another login flow writes credentials without going through the guard.
	_ = store.Set(ctx, "access-token-value", "refresh-token")
	g.invalidate(ctx, ReasonUnauthenticated)

	if _, err := store.Get(ctx); !errors.Is(err, credstore.ErrNotFound) {
		t.Errorf("Expected store cleared while latched, got %v", err)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("Expected a single callback while latched, got %d", got)
	}
}
