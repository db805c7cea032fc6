// Package line is a minimal LINE Messaging API client: reply with a reply
// token, fetch message content, and verify webhook signatures.
package line

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"linegem/internal/domain"
)

const (
	defaultAPIBase     = "https://api.line.me"
	defaultDataAPIBase = "https://api-data.line.me"
)

// APIError is a non-2xx answer from the Messaging API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("line API %d: %s", e.StatusCode, e.Body)
}

type ClientConfig struct {
	ChannelAccessToken string
	APIBase            string
	DataAPIBase        string
	HTTPClient         *http.Client
	Logger             *slog.Logger
}

// Client implements domain.Messenger over the LINE REST API.
type Client struct {
	token       string
	apiBase     string
	dataAPIBase string
	client      *http.Client
	logger      *slog.Logger
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.APIBase == "" {
		cfg.APIBase = defaultAPIBase
	}
	if cfg.DataAPIBase == "" {
		cfg.DataAPIBase = defaultDataAPIBase
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		token:       cfg.ChannelAccessToken,
		apiBase:     strings.TrimRight(cfg.APIBase, "/"),
		dataAPIBase: strings.TrimRight(cfg.DataAPIBase, "/"),
		client:      cfg.HTTPClient,
		logger:      cfg.Logger,
	}
}

var _ domain.Messenger = (*Client)(nil)

type replyRequest struct {
	ReplyToken string                   `json:"replyToken"`
	Messages   []domain.OutboundMessage `json:"messages"`
}

// Reply sends up to five messages with a reply token. A token is valid for a
// single call; reusing or expiring it yields a 400 APIError.
func (c *Client) Reply(ctx context.Context, replyToken string, messages ...domain.OutboundMessage) (*domain.SendAck, error) {
	if replyToken == "" {
		return nil, fmt.Errorf("reply: empty reply token")
	}
	if len(messages) == 0 || len(messages) > 5 {
		return nil, fmt.Errorf("reply: need 1-5 messages, got %d", len(messages))
	}

	body, err := json.Marshal(replyRequest{ReplyToken: replyToken, Messages: messages})
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+"/v2/bot/message/reply", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("reply: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, readAPIError(resp)
	}

	var ack domain.SendAck
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode reply response: %w", err)
	}
	if ack.SentMessages == nil {
		ack.SentMessages = []domain.SentMessage{}
	}
	c.logger.Debug("line reply sent", "messages", len(messages), "sent", len(ack.SentMessages))
	return &ack, nil
}

// Content streams the binary content of an image, video, audio or file message.
func (c *Client) Content(ctx context.Context, messageID string) (io.ReadCloser, error) {
	if messageID == "" {
		return nil, fmt.Errorf("content: empty message id")
	}
	url := fmt.Sprintf("%s/v2/bot/message/%s/content", c.dataAPIBase, messageID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("content: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, readAPIError(resp)
	}
	return resp.Body, nil
}

// BotInfo is the subset of /v2/bot/info used for credential checks.
type BotInfo struct {
	UserID      string `json:"userId"`
	BasicID     string `json:"basicId"`
	DisplayName string `json:"displayName"`
}

// Info fetches the bot profile; it fails when the access token is invalid.
func (c *Client) Info(ctx context.Context) (*BotInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiBase+"/v2/bot/info", nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("bot info: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, readAPIError(resp)
	}
	var info BotInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("decode bot info: %w", err)
	}
	return &info, nil
}

func readAPIError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}
