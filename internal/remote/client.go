// Package remote defines the backend capabilities the sync engine consumes:
// differential fetch, record insert and a change-notification stream. The
// engine only ever sees these interfaces; production implementations speak
// JSON over HTTP and websocket.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// RemoteMessage is one conversation message as the backend serves it.
type RemoteMessage struct {
	ID              string `json:"id"`
	ConversationKey string `json:"conversation_key"`
	Content         string `json:"content"`
	SenderID        string `json:"sender_id"`
	ReceiverID      string `json:"receiver_id"`
	MessageType     string `json:"message_type"`
	FileRef         string `json:"file_ref,omitempty"`
	CreatedAt       int64  `json:"created_at"`
}

// RemoteLesson is one lesson inside a formation payload.
type RemoteLesson struct {
	ID       string `json:"id"`
	LevelID  string `json:"level_id"`
	Title    string `json:"title"`
	Content  string `json:"content"`
	Position int    `json:"position"`
}

// RemoteFormation is a full course content tree.
type RemoteFormation struct {
	ID      string          `json:"id"`
	Content json.RawMessage `json:"content"`
	Lessons []RemoteLesson  `json:"lessons"`
}

// InsertPayload is a locally authored message submitted to the backend.
type InsertPayload struct {
	LocalID         string `json:"local_id"`
	ConversationKey string `json:"conversation_key"`
	Content         string `json:"content"`
	SenderID        string `json:"sender_id"`
	ReceiverID      string `json:"receiver_id"`
	MessageType     string `json:"message_type"`
	FileRef         string `json:"file_ref,omitempty"`
	CreatedAt       int64  `json:"created_at"`
}

// InsertResult is the backend's acknowledgement of an insert.
type InsertResult struct {
	ServerID        string `json:"server_id"`
	ServerTimestamp int64  `json:"server_timestamp"`
}

// Client is the remote read/write capability.
type Client interface {
	// FetchMessagesSince returns messages of one conversation newer than the
	// given cursor (unix millis); since=0 means full history.
	FetchMessagesSince(ctx context.Context, conversationKey string, since int64) ([]RemoteMessage, error)
	// FetchFormation returns a full content tree by id.
	FetchFormation(ctx context.Context, id string) (*RemoteFormation, error)
	// InsertMessage submits a locally authored message. Errors distinguish
	// *NetworkError (retry) from *ValidationError (rejected).
	InsertMessage(ctx context.Context, p InsertPayload) (*InsertResult, error)
}

// HTTPClient is the production Client: JSON over HTTP.
type HTTPClient struct {
	base string
	http *http.Client
}

// NewHTTPClient creates a client against the given base URL.
func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		base: baseURL,
		http: &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *HTTPClient) FetchMessagesSince(ctx context.Context, conversationKey string, since int64) ([]RemoteMessage, error) {
	u := fmt.Sprintf("%s/api/conversations/%s/messages?since=%s",
		c.base, url.PathEscape(conversationKey), strconv.FormatInt(since, 10))

	var msgs []RemoteMessage
	if err := c.getJSON(ctx, u, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

func (c *HTTPClient) FetchFormation(ctx context.Context, id string) (*RemoteFormation, error) {
	u := fmt.Sprintf("%s/api/formations/%s", c.base, url.PathEscape(id))

	var f RemoteFormation
	if err := c.getJSON(ctx, u, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

func (c *HTTPClient) InsertMessage(ctx context.Context, p InsertPayload) (*InsertResult, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/api/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &NetworkError{Op: "insert message", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if err := checkStatus("insert message", resp); err != nil {
		return nil, err
	}

	var res InsertResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, fmt.Errorf("decode insert result: %w", err)
	}
	return &res, nil
}

func (c *HTTPClient) getJSON(ctx context.Context, u string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &NetworkError{Op: "fetch " + u, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if err := checkStatus("fetch "+u, resp); err != nil {
		return err
	}
	return json.NewDecoder(resp.Body).Decode(dest)
}

// checkStatus maps HTTP statuses onto the error taxonomy: 5xx is transient,
// 4xx is a rejection.
func checkStatus(op string, resp *http.Response) error {
	switch {
	case resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 500:
		return &NetworkError{Op: op, Err: fmt.Errorf("server status %d", resp.StatusCode)}
	default:
		reason, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &ValidationError{Status: resp.StatusCode, Reason: string(reason)}
	}
}
