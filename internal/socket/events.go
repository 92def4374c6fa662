package socket

import (
	"encoding/json"

	"gomess/internal/chat"
)

// Wire event names on the push stream.
const (
	evtNewMessage       = "new-message"
	evtNewConversation  = "new-conversation"
	evtNewGroup         = "new-group"
	evtNewFriendRequest = "new-friend-request"
	evtMessageRead      = "message-read"
	evtOnlineUsers      = "online-users"
	evtJoinConversation = "join-conversation"
)

// frame is the envelope every push event arrives in.
type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// NewMessagePush is the decoded payload of a new-message event.
type NewMessagePush struct {
	Message      *chat.Message      `json:"message"`
	Conversation *chat.Conversation `json:"conversation"`
	UnreadCounts map[string]int     `json:"unreadCounts"`
}

// ReadReceiptPush is the decoded payload of a message-read event.
type ReadReceiptPush struct {
	ConversationID string          `json:"conversationId"`
	SeenBy         []chat.SeenUser `json:"seenBy"`
}

// joinPayload is the emitted join-conversation payload.
type joinPayload struct {
	ConversationID string `json:"conversationId"`
}
