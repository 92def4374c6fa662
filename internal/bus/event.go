package bus

import "time"

// Event kinds published on the bus. Subscribers filter by prefix, so the
// dotted namespaces matter: "push." is everything decoded off the socket,
// "chat." is everything the sync engine derived from it, "session." is
// connectivity and identity.
const (
	// Decoded push frames (published by the socket client).
	KindPushNewMessage    = "push.new_message"
	KindPushNewConvo      = "push.new_conversation"
	KindPushNewGroup      = "push.new_group"
	KindPushFriendRequest = "push.friend_request"
	KindPushMessageRead   = "push.message_read"
	KindPushOnlineUsers   = "push.online_users"

	// Store-level notifications (published by the sync engine and stores).
	KindChatMessageUpserted = "chat.message_upserted"
	KindChatConvoUpdated    = "chat.conversation_updated"
	KindChatConvosLoaded    = "chat.conversations_loaded"
	KindChatReadReceipt     = "chat.read_receipt"

	// Connectivity and identity.
	KindSocketConnected    = "socket.connected"
	KindSocketDisconnected = "socket.disconnected"
	KindStatusChanged      = "session.status_changed"
	KindSessionCleared     = "session.cleared"

	// Outbox lifecycle.
	KindOutboxFlushed    = "outbox.flushed"
	KindOutboxSendFailed = "outbox.send_failed"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
