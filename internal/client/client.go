// Package client is the facade the daemon (and an eventual UI) drives:
// it composes the REST backend, the chat stores, the outbox and the
// session into user-level intents like "send this message" or "open this
// conversation".
package client

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"gomess/internal/chat"
	"gomess/internal/rest"
	"gomess/internal/session"
	"gomess/internal/status"
	"gomess/internal/store"
)

// ErrOfflineUpload is returned when a send with an attachment is attempted
// while offline. Attachments are not queued to the outbox.
var ErrOfflineUpload = errors.New("client: cannot queue attachment while offline")

// Backend is the slice of the REST client the facade drives.
type Backend interface {
	Login(ctx context.Context, username, password string) (string, error)
	Register(ctx context.Context, username, password, email, displayName string) error
	Logout(ctx context.Context) error
	Me(ctx context.Context) (*chat.User, error)
	CreateGroup(ctx context.Context, name string, participantIDs []string) (*chat.Conversation, error)
	SendDirectMessage(ctx context.Context, recipientID, content string, file *rest.Upload) (*chat.Message, error)
	SendGroupMessage(ctx context.Context, conversationID, content string, file *rest.Upload) (*chat.Message, error)
	ListFriends(ctx context.Context) ([]rest.Friend, error)
	SearchUsers(ctx context.Context, query string) ([]rest.Friend, error)
	SendFriendRequest(ctx context.Context, userID string) error
	AcceptFriendRequest(ctx context.Context, requestID string) error
	RejectFriendRequest(ctx context.Context, requestID string) error
}

// Queue persists offline-composed sends for later replay.
type Queue interface {
	Enqueue(e *store.OutboxEntry) error
}

// Connector owns the push connection lifecycle. The facade starts it once
// a session exists and stops it on logout; without this, a login from the
// AuthRequired state would never bring the client online and every send
// would queue forever.
type Connector interface {
	Start(ctx context.Context)
	Stop()
}

// Client exposes user intents over the assembled sync core.
type Client struct {
	api       Backend
	session   *session.Session
	machine   *status.Machine
	convos    *chat.Conversations
	timelines *chat.Timelines
	outbox    Queue
	conn      Connector
	logger    *zap.Logger
}

// New assembles the facade.
func New(api Backend, sess *session.Session, machine *status.Machine, convos *chat.Conversations, timelines *chat.Timelines, outbox Queue, conn Connector, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		api:       api,
		session:   sess,
		machine:   machine,
		convos:    convos,
		timelines: timelines,
		outbox:    outbox,
		conn:      conn,
		logger:    logger,
	}
}

// Bootstrap restores a persisted session at startup: token from disk,
// identity from the backend, conversations from snapshot then network.
// Starting offline is not an error; the snapshot carries the UI until
// connectivity returns.
func (c *Client) Bootstrap(ctx context.Context) error {
	if !c.session.RestoreToken() {
		_ = c.machine.Transition(status.AuthRequired)
		return nil
	}

	user, err := c.api.Me(ctx)
	if err != nil {
		if rest.IsAuthError(err) {
			c.logger.Info("persisted token rejected, login required")
			c.session.Clear()
			_ = c.machine.Transition(status.AuthRequired)
			return nil
		}
		// Network fault: trust the token, come up from the snapshot.
		c.logger.Warn("identity check failed, starting from snapshot", zap.Error(err))
	} else {
		c.session.SetUser(user)
	}

	restored := c.convos.Rehydrate()
	c.logger.Info("session restored",
		zap.String("user_id", c.session.UserID()),
		zap.Int("snapshot_conversations", restored))

	if err := c.convos.Load(ctx); err != nil {
		c.logger.Warn("initial conversation load failed", zap.Error(err))
	}

	// The connection owns its own lifetime, not the bootstrap call's.
	c.conn.Start(context.Background())
	return nil
}

// Login authenticates, stores the session and loads the conversation
// list.
func (c *Client) Login(ctx context.Context, username, password string) error {
	token, err := c.api.Login(ctx, username, password)
	if err != nil {
		return err
	}
	c.session.SetToken(token)

	user, err := c.api.Me(ctx)
	if err != nil {
		return err
	}
	c.session.SetUser(user)

	if err := c.convos.Load(ctx); err != nil {
		c.logger.Warn("conversation load after login failed", zap.Error(err))
	}

	c.conn.Start(context.Background())
	c.logger.Info("logged in", zap.String("user_id", user.ID))
	return nil
}

// Register creates a new account. The caller logs in afterwards.
func (c *Client) Register(ctx context.Context, username, password, email, displayName string) error {
	return c.api.Register(ctx, username, password, email, displayName)
}

// Logout revokes the session server-side (best effort) and clears all
// local state. The stores reset via the session.cleared event.
func (c *Client) Logout(ctx context.Context) {
	if err := c.api.Logout(ctx); err != nil {
		c.logger.Warn("server-side logout failed", zap.Error(err))
	}
	c.conn.Stop()
	c.session.Clear()
	_ = c.machine.Transition(status.AuthRequired)
}

// SendDirect sends a direct message, or queues it when offline.
// conversationID may be empty for a first message to a new contact; the
// provisional timeline entry is then skipped and the conversation appears
// via push once the send lands.
func (c *Client) SendDirect(ctx context.Context, conversationID, recipientID, content string, file *rest.Upload) (*chat.Message, error) {
	if c.machine.IsOnline() {
		msg, err := c.api.SendDirectMessage(ctx, recipientID, content, file)
		if err != nil {
			return nil, err
		}
		c.timelines.Append(ctx, msg)
		return msg, nil
	}
	return c.queueSend(&store.OutboxEntry{
		ConversationID: conversationID,
		RecipientID:    recipientID,
		Content:        content,
	}, file)
}

// SendGroup sends to a group conversation, or queues when offline.
func (c *Client) SendGroup(ctx context.Context, conversationID, content string, file *rest.Upload) (*chat.Message, error) {
	if c.machine.IsOnline() {
		msg, err := c.api.SendGroupMessage(ctx, conversationID, content, file)
		if err != nil {
			return nil, err
		}
		c.timelines.Append(ctx, msg)
		return msg, nil
	}
	return c.queueSend(&store.OutboxEntry{
		ConversationID: conversationID,
		IsGroup:        true,
		Content:        content,
	}, file)
}

// queueSend places a provisional message in the timeline and the entry in
// the persisted outbox under a shared client id, so the flusher can swap
// one for the other after replay.
func (c *Client) queueSend(entry *store.OutboxEntry, file *rest.Upload) (*chat.Message, error) {
	if file != nil {
		return nil, ErrOfflineUpload
	}

	entry.ClientMsgID = "pending-" + uuid.NewString()
	entry.MessageType = string(chat.MessageText)

	msg := &chat.Message{
		ID:             entry.ClientMsgID,
		ConversationID: entry.ConversationID,
		SenderID:       c.session.UserID(),
		Content:        entry.Content,
		Type:           chat.MessageText,
		CreatedAt:      time.Now().UTC(),
	}
	if entry.ConversationID != "" {
		c.timelines.AppendProvisional(msg)
	}
	if err := c.outbox.Enqueue(entry); err != nil {
		c.timelines.RemoveProvisional(entry.ConversationID, entry.ClientMsgID)
		return nil, err
	}
	c.logger.Info("send queued offline",
		zap.String("client_msg_id", entry.ClientMsgID),
		zap.String("conversation_id", entry.ConversationID))
	return msg, nil
}

// OpenConversation marks a conversation as the one the user is viewing:
// its first history page is fetched if needed and it is marked read.
func (c *Client) OpenConversation(ctx context.Context, conversationID string) {
	c.convos.SetActive(conversationID)
	if !c.timelines.Fetched(conversationID) {
		_ = c.timelines.FetchOlder(ctx, conversationID)
	}
	c.convos.MarkAsRead(ctx, conversationID)
}

// CloseConversation clears the active conversation.
func (c *Client) CloseConversation() {
	c.convos.SetActive("")
}

// LoadOlder fetches the next page of history for a conversation. No-op
// once history is exhausted.
func (c *Client) LoadOlder(ctx context.Context, conversationID string) error {
	return c.timelines.FetchOlder(ctx, conversationID)
}

// Messages returns the current timeline for a conversation and whether
// older history remains.
func (c *Client) Messages(conversationID string) ([]chat.Message, bool) {
	return c.timelines.Get(conversationID)
}

// Conversations returns the current conversation list.
func (c *Client) Conversations() []*chat.Conversation {
	return c.convos.All()
}

// CreateGroup creates a group conversation and places it in the list
// immediately rather than waiting for the echo push.
func (c *Client) CreateGroup(ctx context.Context, name string, participantIDs []string) (*chat.Conversation, error) {
	conv, err := c.api.CreateGroup(ctx, name, participantIDs)
	if err != nil {
		return nil, err
	}
	c.convos.Upsert(conv)
	return conv, nil
}

// Friends returns the friend list.
func (c *Client) Friends(ctx context.Context) ([]rest.Friend, error) {
	return c.api.ListFriends(ctx)
}

// SearchUsers finds users by name prefix.
func (c *Client) SearchUsers(ctx context.Context, query string) ([]rest.Friend, error) {
	return c.api.SearchUsers(ctx, query)
}

// SendFriendRequest sends an invite to another user.
func (c *Client) SendFriendRequest(ctx context.Context, userID string) error {
	return c.api.SendFriendRequest(ctx, userID)
}

// AcceptFriendRequest accepts an invite. The resulting direct
// conversation arrives over push.
func (c *Client) AcceptFriendRequest(ctx context.Context, requestID string) error {
	return c.api.AcceptFriendRequest(ctx, requestID)
}

// RejectFriendRequest declines an invite.
func (c *Client) RejectFriendRequest(ctx context.Context, requestID string) error {
	return c.api.RejectFriendRequest(ctx, requestID)
}
