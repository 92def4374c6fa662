package chat

import "time"

// ConversationKind distinguishes 1:1 chats from groups. Immutable after
// creation.
type ConversationKind string

const (
	KindDirect ConversationKind = "direct"
	KindGroup  ConversationKind = "group"
)

// Participant is a member of a conversation.
type Participant struct {
	ID          string    `json:"_id"`
	DisplayName string    `json:"displayName"`
	AvatarURL   string    `json:"avatarUrl,omitempty"`
	JoinedAt    time.Time `json:"joinedAt"`
}

// SeenUser identifies a participant who has seen the latest message.
type SeenUser struct {
	ID          string `json:"_id"`
	DisplayName string `json:"displayName,omitempty"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
}

// GroupInfo is present only for group conversations.
type GroupInfo struct {
	Name      string `json:"name"`
	CreatedBy string `json:"createdBy"`
}

// LastMessage is the denormalized snapshot of a conversation's most recent
// message, used for the sidebar without loading the timeline.
type LastMessage struct {
	ID        string     `json:"_id"`
	Content   string     `json:"content"`
	CreatedAt time.Time  `json:"createdAt"`
	Sender    MessageRef `json:"sender"`
}

// MessageRef identifies a sender inside a LastMessage snapshot.
type MessageRef struct {
	ID          string `json:"_id"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
}

// Conversation is a direct or group chat channel with unread state and a
// last-message pointer.
type Conversation struct {
	ID            string           `json:"_id"`
	Kind          ConversationKind `json:"type"`
	Group         *GroupInfo       `json:"group,omitempty"`
	Participants  []Participant    `json:"participants"`
	LastMessageAt time.Time        `json:"lastMessageAt"`
	SeenBy        []SeenUser       `json:"seenBy"`
	LastMessage   *LastMessage     `json:"lastMessage"`
	UnreadCounts  map[string]int   `json:"unreadCounts"`
	CreatedAt     time.Time        `json:"createdAt"`
	UpdatedAt     time.Time        `json:"updatedAt"`
}

// UnreadFor returns the unread count for the given user, never negative.
func (c *Conversation) UnreadFor(userID string) int {
	if c.UnreadCounts == nil {
		return 0
	}
	n := c.UnreadCounts[userID]
	if n < 0 {
		return 0
	}
	return n
}

// MessageType classifies a message's content.
type MessageType string

const (
	MessageText  MessageType = "text"
	MessageImage MessageType = "image"
	MessageVideo MessageType = "video"
	MessageFile  MessageType = "file"
)

// FileInfo describes an attached file.
type FileInfo struct {
	FileName string `json:"fileName"`
	FileSize int64  `json:"fileSize"`
	MimeType string `json:"mimeType"`
	Width    int    `json:"width,omitempty"`
	Height   int    `json:"height,omitempty"`
	Duration int    `json:"duration,omitempty"`
}

// Message is one entry in a conversation timeline. A message is either
// confirmed (its ID is a durable server id) or provisional (locally created,
// waiting on the send path). ReplaceProvisional on the timeline store is the
// only path that turns the latter into the former.
type Message struct {
	ID             string      `json:"_id"`
	ConversationID string      `json:"conversationId"`
	SenderID       string      `json:"senderId"`
	Content        string      `json:"content"`
	Type           MessageType `json:"messageType"`
	FileURL        string      `json:"fileUrl,omitempty"`
	ThumbnailURL   string      `json:"thumbnailUrl,omitempty"`
	FileInfo       *FileInfo   `json:"fileInfo,omitempty"`
	CreatedAt      time.Time   `json:"createdAt"`
	UpdatedAt      time.Time   `json:"updatedAt,omitempty"`

	// Own reports whether the current session user sent this message.
	// Derived at merge time from the session, never trusted off the wire.
	Own bool `json:"isOwn,omitempty"`
	// Provisional marks a local, not-yet-confirmed send.
	Provisional bool `json:"isPending,omitempty"`
}

// FriendRequest is a pending incoming friend request delivered over push.
type FriendRequest struct {
	RequestID string    `json:"requestId"`
	SenderID  string    `json:"senderId"`
	CreatedAt time.Time `json:"createdAt"`
}

// User is the authenticated account owning this session.
type User struct {
	ID          string    `json:"_id"`
	Username    string    `json:"username"`
	Email       string    `json:"email"`
	DisplayName string    `json:"displayName"`
	AvatarURL   string    `json:"avatarUrl,omitempty"`
	Bio         string    `json:"bio,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}
