package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Client is the upstream platform messaging API. Both calls return a
// definitive outcome synchronously; transient network errors surface as
// failures and retry policy lives with the caller, never in here.
type Client interface {
	SendDirectMessage(ctx context.Context, token, recipientID, message string) error
	PostCommentReply(ctx context.Context, token, commentID, message string) error
}

// HTTPClient talks to the platform graph API over HTTP.
type HTTPClient struct {
	baseURL string
	http    *http.Client
}

// NewHTTPClient creates a client with a bounded per-call timeout so a
// stuck upstream call cannot stall a whole batch.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

type dmRequest struct {
	Recipient struct {
		ID string `json:"id"`
	} `json:"recipient"`
	Message struct {
		Text string `json:"text"`
	} `json:"message"`
}

// SendDirectMessage implements Client.
func (c *HTTPClient) SendDirectMessage(ctx context.Context, token, recipientID, message string) error {
	var body dmRequest
	body.Recipient.ID = recipientID
	body.Message.Text = message

	endpoint := fmt.Sprintf("%s/me/messages", c.baseURL)
	if err := c.post(ctx, endpoint, token, body); err != nil {
		return fmt.Errorf("send direct message to %s: %w", recipientID, err)
	}
	return nil
}

type replyRequest struct {
	Message string `json:"message"`
}

// PostCommentReply implements Client.
func (c *HTTPClient) PostCommentReply(ctx context.Context, token, commentID, message string) error {
	endpoint := fmt.Sprintf("%s/%s/replies", c.baseURL, url.PathEscape(commentID))
	if err := c.post(ctx, endpoint, token, replyRequest{Message: message}); err != nil {
		return fmt.Errorf("post comment reply to %s: %w", commentID, err)
	}
	return nil
}

func (c *HTTPClient) post(ctx context.Context, endpoint, token string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("platform API call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("platform API returned %d: %s", resp.StatusCode, string(snippet))
	}
	return nil
}
