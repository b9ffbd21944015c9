package tutor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"parlo/internal/gateway"
	"parlo/pkg/logger"

	"go.uber.org/zap"
)

const (
	messagesPath = "/v1/conversations/messages"
	voicePath    = "/v1/conversations/voice"
)

// Client talks to the remote tutoring backend through the gateway, so
// every call inherits timeout, reachability checks, retry and error
// classification.
type Client struct {
	baseURL string
	apiKey  string
	gw      *gateway.Gateway
}

func NewClient(baseURL, apiKey string, gw *gateway.Gateway) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		gw:      gw,
	}
}

// SendMessage submits a text message and returns the tutor's reply.
func (c *Client) SendMessage(ctx context.Context, req SendMessageRequest) (*Reply, error) {
	logger.Debug("Sending text message",
		zap.String("conversation_id", req.ConversationID),
		zap.String("language", req.Language))

	return c.post(ctx, messagesPath, req)
}

// SendVoice submits an already-uploaded voice message.
func (c *Client) SendVoice(ctx context.Context, req SendVoiceRequest) (*Reply, error) {
	logger.Debug("Sending voice message",
		zap.String("conversation_id", req.ConversationID),
		zap.String("audio_url", req.AudioURL))

	return c.post(ctx, voicePath, req)
}

func (c *Client) post(ctx context.Context, path string, payload interface{}) (*Reply, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := c.baseURL + path

	resp, err := c.gw.DoWithRetry(ctx, func() (*http.Request, error) {
		req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, gateway.Classify(fmt.Errorf("failed to read response: %w", err))
	}

	var reply Reply
	if err := json.Unmarshal(respBody, &reply); err != nil {
		return nil, gateway.Classify(fmt.Errorf("failed to unmarshal reply: %w", err))
	}

	return &reply, nil
}

// IsGone reports whether the failure means the replayed resource no longer
// exists server-side; such actions must not be retried forever.
func IsGone(err error) bool {
	var se *gateway.StatusError
	return errors.As(err, &se) && (se.Status == http.StatusNotFound || se.Status == http.StatusGone)
}
