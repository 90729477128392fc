package apiclient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

func (tr *tokenResponse) token() *oauth2.Token {
	tok := &oauth2.Token{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		TokenType:    tr.TokenType,
	}
	if tr.ExpiresIn > 0 {
		tok.Expiry = time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	}
	return tok
}

// validateTokenResponse rejects token payloads the client cannot use.
// expires_in is optional; the server is the only judge of expiry.
func validateTokenResponse(accessToken, tokenType string, expiresIn int) error {
	if accessToken == "" {
		return errors.New("access_token is empty")
	}
	if len(accessToken) < 10 {
		return fmt.Errorf("access_token is too short (length: %d)", len(accessToken))
	}
	if expiresIn < 0 {
		return fmt.Errorf("expires_in must not be negative, got: %d", expiresIn)
	}
	if tokenType != "" && !strings.EqualFold(tokenType, "bearer") {
		return fmt.Errorf("unexpected token_type: %s (expected Bearer)", tokenType)
	}
	return nil
}

// Login exchanges username and password for a credential pair and stores it.
func (c *Client) Login(ctx context.Context, username, password string) (*oauth2.Token, error) {
	var tr tokenResponse
	if err := c.PostJSON(ctx, PathLogin, loginRequest{Username: username, Password: password}, &tr); err != nil {
		return nil, err
	}
	if err := validateTokenResponse(tr.AccessToken, tr.TokenType, tr.ExpiresIn); err != nil {
		return nil, fmt.Errorf("invalid token response: %w", err)
	}
	if tr.RefreshToken == "" {
		return nil, errors.New("invalid token response: refresh_token is empty")
	}

	if err := c.store.Set(ctx, tr.AccessToken, tr.RefreshToken); err != nil {
		return nil, fmt.Errorf("failed to store credentials: %w", err)
	}
	c.session.reset()
	c.log.Info("logged in", zap.String("username", username))
	return tr.token(), nil
}

// Logout revokes the refresh token server-side and clears the store. The
// store is cleared even when the server call fails.
func (c *Client) Logout(ctx context.Context) error {
	var err error
	if tok := c.currentToken(ctx); tok != nil && tok.RefreshToken != "" {
		err = c.PostJSON(ctx, PathLogout, refreshRequest{RefreshToken: tok.RefreshToken}, nil)
	}
	if clearErr := c.store.Clear(ctx); clearErr != nil {
		return errors.Join(err, fmt.Errorf("failed to clear credentials: %w", clearErr))
	}
	return err
}

// ForgotPassword asks the server to send a reset link to email.
func (c *Client) ForgotPassword(ctx context.Context, email string) error {
	return c.PostJSON(ctx, PathForgotPassword, map[string]string{"email": email}, nil)
}

// ResetPassword sets a new password using a reset token.
func (c *Client) ResetPassword(ctx context.Context, token, newPassword string) error {
	return c.PostJSON(ctx, PathResetPassword, map[string]string{
		"token":        token,
		"new_password": newPassword,
	}, nil)
}

// refreshAccessToken is the single network call a refresh epoch makes. An
// omitted refresh_token in the response means the old one stays valid.
func (c *Client) refreshAccessToken(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	var tr tokenResponse
	if err := c.PostJSON(ctx, PathRefresh, refreshRequest{RefreshToken: refreshToken}, &tr); err != nil {
		return nil, err
	}
	if err := validateTokenResponse(tr.AccessToken, tr.TokenType, tr.ExpiresIn); err != nil {
		return nil, fmt.Errorf("invalid token response: %w", err)
	}
	return tr.token(), nil
}
