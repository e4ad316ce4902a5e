// Package backend is the client for the marketplace persistence API: the
// conversation/message CRUD surface the sync engine fetches from and sends
// through.
package backend

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
	"time"

	"go.uber.org/zap"

	"github.com/Syam916/chitrasethu-sub002/internal/store"
)

// APIError is a non-2xx response from the persistence API.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status %d: %s", e.Status, e.Body)
}

// Client talks to the marketplace persistence API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *zap.Logger
}

// New creates a persistence API client.
func New(baseURL, token string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
		logger:  logger,
	}
}

type wireConversation struct {
	ConversationID    string `json:"conversationId"`
	ParticipantID     string `json:"participantId"`
	ParticipantName   string `json:"participantName"`
	ParticipantAvatar string `json:"participantAvatar,omitempty"`
	LastMessage       string `json:"lastMessage"`
	LastMessageAt     int64  `json:"lastMessageAt"`
	UnreadCount       int    `json:"unreadCount"`
	IsOnline          bool   `json:"isOnline"`
}

type wireMessage struct {
	ID                 string `json:"id"`
	ConversationID     string `json:"conversationId"`
	SenderID           string `json:"senderId"`
	ReceiverID         string `json:"receiverId"`
	Text               string `json:"text"`
	MessageType        string `json:"messageType"`
	AttachmentURL      string `json:"attachmentUrl,omitempty"`
	AttachmentFileName string `json:"attachmentFileName,omitempty"`
	IsRead             bool   `json:"isRead"`
	CreatedAt          int64  `json:"createdAt"`
}

// SendRequest is the payload for POST messages/send.
type SendRequest struct {
	ConversationID     string `json:"conversationId"`
	ReceiverID         string `json:"receiverId"`
	MessageText        string `json:"messageText"`
	MessageType        string `json:"messageType"`
	AttachmentURL      string `json:"attachmentUrl,omitempty"`
	AttachmentFileName string `json:"attachmentFileName,omitempty"`
}

// ListConversations fetches the user's conversation list.
func (c *Client) ListConversations(ctx context.Context) ([]store.Conversation, error) {
	var wire []wireConversation
	if err := c.getJSON(ctx, "/conversations", &wire); err != nil {
		return nil, err
	}
	convs := make([]store.Conversation, 0, len(wire))
	for _, w := range wire {
		convs = append(convs, store.Conversation{
			ID:                w.ConversationID,
			ParticipantID:     w.ParticipantID,
			ParticipantName:   w.ParticipantName,
			ParticipantAvatar: w.ParticipantAvatar,
			LastMessage:       w.LastMessage,
			LastMessageAt:     w.LastMessageAt,
			UnreadCount:       w.UnreadCount,
			IsOnline:          w.IsOnline,
		})
	}
	return convs, nil
}

// ListMessages fetches a page of conversation history, newest page first
// when before > 0 pages backwards.
func (c *Client) ListMessages(ctx context.Context, conversationID string, before int64, limit int) ([]store.Message, error) {
	path := "/conversations/" + url.PathEscape(conversationID) + "/messages"
	q := url.Values{}
	if before > 0 {
		q.Set("before", strconv.FormatInt(before, 10))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var wire []wireMessage
	if err := c.getJSON(ctx, path, &wire); err != nil {
		return nil, err
	}
	msgs := make([]store.Message, 0, len(wire))
	for _, w := range wire {
		msgs = append(msgs, messageFromWire(w))
	}
	return msgs, nil
}

// SendMessage persists a message and returns the authoritative copy with
// the server-assigned id.
func (c *Client) SendMessage(ctx context.Context, req SendRequest) (*store.Message, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode send request: %w", err)
	}

	httpReq, err := c.newRequest(ctx, http.MethodPost, "/messages/send", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	var wire wireMessage
	if err := c.do(httpReq, &wire); err != nil {
		return nil, err
	}
	msg := messageFromWire(wire)
	return &msg, nil
}

// MarkRead acknowledges the conversation as read on the server.
func (c *Client) MarkRead(ctx context.Context, conversationID string) error {
	req, err := c.newRequest(ctx, http.MethodPut, "/conversations/"+url.PathEscape(conversationID)+"/read", nil)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

type uploadResponse struct {
	URL      string `json:"url"`
	FileName string `json:"fileName"`
}

// Upload streams a file to the object storage endpoint, reporting
// fractional progress (0-100) as the body is consumed. Implements the
// attachment pipeline's object store.
func (c *Client) Upload(ctx context.Context, r io.Reader, size int64, fileName, folder string, onProgress func(float64)) (assetURL, storedName string, err error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		part, err := mw.CreateFormFile("file", fileName)
		if err != nil {
			_ = pw.CloseWithError(err)
			return
		}
		src := io.Reader(r)
		if onProgress != nil && size > 0 {
			src = &progressReader{r: r, total: size, onProgress: onProgress}
		}
		if _, err := io.Copy(part, src); err != nil {
			_ = pw.CloseWithError(err)
			return
		}
		if err := mw.WriteField("folder", folder); err != nil {
			_ = pw.CloseWithError(err)
			return
		}
		_ = pw.CloseWithError(mw.Close())
	}()

	req, err := c.newRequest(ctx, http.MethodPost, "/uploads", pr)
	if err != nil {
		return "", "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var resp uploadResponse
	if err := c.do(req, &resp); err != nil {
		return "", "", err
	}
	if onProgress != nil {
		onProgress(100)
	}
	return resp.URL, resp.FileName, nil
}

type progressReader struct {
	r          io.Reader
	total      int64
	read       int64
	onProgress func(float64)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.read += int64(n)
		pct := float64(p.read) / float64(p.total) * 100
		if pct > 100 {
			pct = 100
		}
		p.onProgress(pct)
	}
	return n, err
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{Status: resp.StatusCode, Body: string(body)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func messageFromWire(w wireMessage) store.Message {
	return store.Message{
		ID:                 w.ID,
		ConversationID:     w.ConversationID,
		SenderID:           w.SenderID,
		ReceiverID:         w.ReceiverID,
		Text:               w.Text,
		MessageType:        w.MessageType,
		AttachmentURL:      w.AttachmentURL,
		AttachmentFileName: w.AttachmentFileName,
		IsRead:             w.IsRead,
		CreatedAt:          w.CreatedAt,
	}
}
