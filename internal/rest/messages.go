package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"

	"gomess/internal/chat"
)

// MessagePage is one page of timeline history, older-first within the page.
// An empty NextCursor signals exhaustion.
type MessagePage struct {
	Messages   []*chat.Message `json:"messages"`
	NextCursor string          `json:"nextCursor"`
}

// ListMessages fetches a page of a conversation's history. An empty cursor
// requests the newest page.
func (c *Client) ListMessages(ctx context.Context, conversationID, cursor string, limit int) (*MessagePage, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	path := fmt.Sprintf("/conversations/%s/messages", conversationID)
	if encoded := q.Encode(); encoded != "" {
		path += "?" + encoded
	}

	var out MessagePage
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, fmt.Errorf("list messages %s: %w", conversationID, err)
	}
	return &out, nil
}

// FetchHistory adapts ListMessages to the timeline store's fetcher shape.
func (c *Client) FetchHistory(ctx context.Context, conversationID, cursor string, limit int) ([]*chat.Message, string, error) {
	page, err := c.ListMessages(ctx, conversationID, cursor, limit)
	if err != nil {
		return nil, "", err
	}
	return page.Messages, page.NextCursor, nil
}

// Upload is a file attached to a send.
type Upload struct {
	FileName string
	MimeType string
	Content  []byte
}

// SendDirectMessage sends to a single recipient and returns the created
// message.
func (c *Client) SendDirectMessage(ctx context.Context, recipientID, content string, file *Upload) (*chat.Message, error) {
	fields := map[string]string{
		"recipientId": recipientID,
		"content":     content,
	}
	msg, err := c.sendMessage(ctx, "/messages/direct", fields, file)
	if err != nil {
		return nil, fmt.Errorf("send direct: %w", err)
	}
	return msg, nil
}

// SendGroupMessage sends to a group conversation and returns the created
// message.
func (c *Client) SendGroupMessage(ctx context.Context, conversationID, content string, file *Upload) (*chat.Message, error) {
	fields := map[string]string{
		"conversationId": conversationID,
		"content":        content,
	}
	msg, err := c.sendMessage(ctx, "/messages/group", fields, file)
	if err != nil {
		return nil, fmt.Errorf("send group: %w", err)
	}
	return msg, nil
}

// sendMessage posts either a JSON body (text only) or a multipart form
// (with file), then unwraps the created message from whichever envelope
// the server chose.
func (c *Client) sendMessage(ctx context.Context, path string, fields map[string]string, file *Upload) (*chat.Message, error) {
	attempt := func() ([]byte, error) {
		if file == nil {
			return c.postJSONRaw(ctx, path, fields)
		}
		return c.postMultipart(ctx, path, fields, file)
	}

	raw, err := attempt()
	for tries := 0; IsAuthError(err) && tries < c.opts.RefreshMaxAttempts; tries++ {
		if rerr := c.refresh.do(ctx); rerr != nil {
			c.creds.Clear()
			return nil, err
		}
		raw, err = attempt()
	}
	if err != nil {
		return nil, err
	}
	return decodeMessage(raw)
}

func (c *Client) postJSONRaw(ctx context.Context, path string, body any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.send(req)
}

func (c *Client) postMultipart(ctx context.Context, path string, fields map[string]string, file *Upload) ([]byte, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, err
		}
	}
	part, err := w.CreateFormFile("file", file.FileName)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, bytes.NewReader(file.Content)); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	return c.send(req)
}

// decodeMessage accepts the created message at the top level, under
// "data", or under "message" (possibly both nested).
func decodeMessage(raw []byte) (*chat.Message, error) {
	if inner, ok := unwrapKey(raw, "message"); ok && len(inner) > 0 && inner[0] == '{' {
		raw = inner
	} else {
		raw = unwrap(raw)
	}
	var msg chat.Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	if msg.ID == "" {
		return nil, fmt.Errorf("decode message: missing id")
	}
	return &msg, nil
}
