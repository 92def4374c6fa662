package rest

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"gomess/internal/chat"
)

// Friend is a confirmed contact.
type Friend struct {
	ID          string `json:"_id"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
}

// ListFriends returns the current user's friends.
func (c *Client) ListFriends(ctx context.Context) ([]Friend, error) {
	var out struct {
		Friends []Friend `json:"friends"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/friends", nil, &out); err != nil {
		return nil, fmt.Errorf("list friends: %w", err)
	}
	return out.Friends, nil
}

// SearchUsers finds users by display name or username.
func (c *Client) SearchUsers(ctx context.Context, query string) ([]Friend, error) {
	path := "/users/search?" + url.Values{"q": {query}}.Encode()
	var out struct {
		Users []Friend `json:"users"`
	}
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, fmt.Errorf("search users: %w", err)
	}
	return out.Users, nil
}

// SendFriendRequest sends a friend request to the given user.
func (c *Client) SendFriendRequest(ctx context.Context, userID string) error {
	body := map[string]string{"userId": userID}
	if err := c.doJSON(ctx, http.MethodPost, "/friends/request", body, nil); err != nil {
		return fmt.Errorf("send friend request: %w", err)
	}
	return nil
}

// ListFriendRequests returns pending incoming requests.
func (c *Client) ListFriendRequests(ctx context.Context) ([]chat.FriendRequest, error) {
	var out []chat.FriendRequest
	if err := c.doJSON(ctx, http.MethodGet, "/friends/requests", nil, &out); err != nil {
		return nil, fmt.Errorf("list friend requests: %w", err)
	}
	return out, nil
}

// AcceptFriendRequest accepts a pending request.
func (c *Client) AcceptFriendRequest(ctx context.Context, requestID string) error {
	body := map[string]string{"requestId": requestID}
	if err := c.doJSON(ctx, http.MethodPost, "/friends/accept", body, nil); err != nil {
		return fmt.Errorf("accept friend request: %w", err)
	}
	return nil
}

// RejectFriendRequest rejects a pending request.
func (c *Client) RejectFriendRequest(ctx context.Context, requestID string) error {
	body := map[string]string{"requestId": requestID}
	if err := c.doJSON(ctx, http.MethodPost, "/friends/reject", body, nil); err != nil {
		return fmt.Errorf("reject friend request: %w", err)
	}
	return nil
}
