package rest

import (
	"context"
	"fmt"
	"net/http"

	"gomess/internal/chat"
)

// ListConversations fetches all conversation snapshots for the session user.
func (c *Client) ListConversations(ctx context.Context) ([]*chat.Conversation, error) {
	var out struct {
		Conversations []*chat.Conversation `json:"conversations"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/conversations", nil, &out); err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return out.Conversations, nil
}

// MarkConversationRead tells the server the current user has read the
// conversation. Fire-and-forget from the core's perspective: callers treat
// failure as advisory.
func (c *Client) MarkConversationRead(ctx context.Context, conversationID string) error {
	path := fmt.Sprintf("/conversations/%s/read", conversationID)
	if err := c.doJSON(ctx, http.MethodPost, path, struct{}{}, nil); err != nil {
		return fmt.Errorf("mark read %s: %w", conversationID, err)
	}
	return nil
}

// CreateGroup creates a group conversation and returns the created snapshot.
func (c *Client) CreateGroup(ctx context.Context, name string, participantIDs []string) (*chat.Conversation, error) {
	body := map[string]any{
		"name":         name,
		"participants": participantIDs,
	}
	var out struct {
		Conversation *chat.Conversation `json:"conversation"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/conversations/group", body, &out); err != nil {
		return nil, fmt.Errorf("create group: %w", err)
	}
	if out.Conversation == nil {
		return nil, fmt.Errorf("create group: response missing conversation")
	}
	return out.Conversation, nil
}
