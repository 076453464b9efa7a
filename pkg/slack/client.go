package slack

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	goslack "github.com/slack-go/slack"
)

// historyWindow bounds how far back FindMessageByFingerprint looks.
const historyWindow = 24 * time.Hour

// Client is a thin wrapper around the slack-go SDK.
type Client struct {
	api       *goslack.Client
	channelID string
	logger    *slog.Logger
}

// NewClient creates a new Slack API client.
func NewClient(token, channelID string) *Client {
	return &Client{
		api:       goslack.New(token),
		channelID: channelID,
		logger:    slog.Default().With("component", "slack-client"),
	}
}

// NewClientWithAPIURL creates a Slack API client that targets a custom API URL.
func NewClientWithAPIURL(token, channelID, apiURL string) *Client {
	return &Client{
		api:       goslack.New(token, goslack.OptionAPIURL(apiURL)),
		channelID: channelID,
		logger:    slog.Default().With("component", "slack-client"),
	}
}

// PostMessage sends blocks with a plain-text fallback to the configured
// channel and returns the message timestamp. A non-empty threadTS posts a
// threaded reply.
func (c *Client) PostMessage(ctx context.Context, text string, blocks []goslack.Block, threadTS string, timeout time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	opts := []goslack.MsgOption{
		goslack.MsgOptionText(text, false),
		goslack.MsgOptionBlocks(blocks...),
	}
	if threadTS != "" {
		opts = append(opts, goslack.MsgOptionTS(threadTS))
	}

	_, ts, err := c.api.PostMessageContext(ctx, c.channelID, opts...)
	if err != nil {
		return "", fmt.Errorf("chat.postMessage failed: %w", err)
	}
	return ts, nil
}

// FindMessageByFingerprint searches recent channel history for a message
// whose text contains fingerprint. It returns the message timestamp, or ""
// when nothing matches.
func (c *Client) FindMessageByFingerprint(ctx context.Context, fingerprint string, now time.Time) (string, error) {
	params := &goslack.GetConversationHistoryParameters{
		ChannelID: c.channelID,
		Oldest:    strconv.FormatInt(now.Add(-historyWindow).Unix(), 10),
		Limit:     50,
	}
	history, err := c.api.GetConversationHistoryContext(ctx, params)
	if err != nil {
		return "", fmt.Errorf("conversations.history failed: %w", err)
	}

	want := normalizeText(fingerprint)
	for _, msg := range history.Messages {
		if msg.ThreadTimestamp != "" && msg.ThreadTimestamp != msg.Timestamp {
			continue
		}
		if strings.Contains(normalizeText(collectMessageText(msg)), want) {
			return msg.Timestamp, nil
		}
	}
	return "", nil
}
