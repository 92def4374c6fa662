package rest

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"gomess/internal/chat"
)

// refresher serializes token refresh: concurrent 401s trigger exactly one
// /auth/refresh call and everyone waits on its result.
type refresher struct {
	c  *Client
	mu sync.Mutex

	inFlight bool
	done     chan struct{}
	err      error
}

func newRefresher(c *Client) *refresher {
	return &refresher{c: c}
}

// do refreshes the access token, joining an in-flight refresh if one exists.
func (r *refresher) do(ctx context.Context) error {
	r.mu.Lock()
	if r.inFlight {
		done := r.done
		r.mu.Unlock()
		select {
		case <-done:
			r.mu.Lock()
			err := r.err
			r.mu.Unlock()
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	r.inFlight = true
	r.done = make(chan struct{})
	r.mu.Unlock()

	_, err := r.c.Refresh(ctx)

	r.mu.Lock()
	r.inFlight = false
	r.err = err
	close(r.done)
	r.mu.Unlock()
	return err
}

type loginResponse struct {
	AccessToken string `json:"accessToken"`
}

// Login authenticates with username/password. The response carries the
// access token; the refresh token rides in on an httponly cookie held by
// the client's jar.
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	body := map[string]string{"username": username, "password": password}
	var out loginResponse
	if err := c.doJSON(ctx, http.MethodPost, "/auth/login", body, &out); err != nil {
		return "", fmt.Errorf("login: %w", err)
	}
	if out.AccessToken == "" {
		return "", fmt.Errorf("login: response missing access token")
	}
	c.creds.SetToken(out.AccessToken)
	return out.AccessToken, nil
}

// Register creates a new account.
func (c *Client) Register(ctx context.Context, username, password, email, displayName string) error {
	body := map[string]string{
		"username":    username,
		"password":    password,
		"email":       email,
		"displayName": displayName,
	}
	if err := c.doJSON(ctx, http.MethodPost, "/auth/register", body, nil); err != nil {
		return fmt.Errorf("register: %w", err)
	}
	return nil
}

// Logout invalidates the server-side session.
func (c *Client) Logout(ctx context.Context) error {
	if err := c.doJSON(ctx, http.MethodPost, "/auth/logout", struct{}{}, nil); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

// Refresh exchanges the refresh cookie for a new access token and stores it.
func (c *Client) Refresh(ctx context.Context) (string, error) {
	var out loginResponse
	if err := c.doJSON(ctx, http.MethodPost, "/auth/refresh", struct{}{}, &out); err != nil {
		return "", fmt.Errorf("refresh: %w", err)
	}
	if out.AccessToken == "" {
		return "", fmt.Errorf("refresh: response missing access token")
	}
	c.creds.SetToken(out.AccessToken)
	return out.AccessToken, nil
}

// Me fetches the authenticated user's profile.
func (c *Client) Me(ctx context.Context) (*chat.User, error) {
	var out struct {
		User *chat.User `json:"user"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/users/me", nil, &out); err != nil {
		return nil, fmt.Errorf("fetch me: %w", err)
	}
	if out.User == nil {
		return nil, fmt.Errorf("fetch me: response missing user")
	}
	return out.User, nil
}
