// Package credstore persists the access/refresh credential pair used by the API client.
package credstore

import (
	"context"
	"errors"
	"time"

	"golang.org/x/oauth2"
)

// Persisted field names. Presence or absence is the only contract.
const (
	KeyAccessToken  = "access_token"
	KeyRefreshToken = "refresh_token"
	KeyTokenType    = "token_type"
)

// ErrNotFound is returned by Get when no credential is stored.
var ErrNotFound = errors.New("no stored credentials")

// Store holds the current credential pair.
//
// Set with an empty refresh token keeps the stored one. Clear must be safe to
// call on an empty store.
type Store interface {
	Get(ctx context.Context) (*oauth2.Token, error)
	Set(ctx context.Context, access, refresh string) error
	Clear(ctx context.Context) error
}

// record is the on-disk form shared by the file and bolt backends.
type record struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
	ClientID     string    `json:"client_id,omitempty"`
}

func (r *record) token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		TokenType:    r.TokenType,
	}
}

// merge applies Set semantics to r.
func (r *record) merge(access, refresh string) {
	r.AccessToken = access
	if refresh != "" {
		r.RefreshToken = refresh
	}
	if r.TokenType == "" {
		r.TokenType = "Bearer"
	}
	r.UpdatedAt = time.Now()
}

func (r *record) empty() bool {
	return r.AccessToken == "" && r.RefreshToken == ""
}
