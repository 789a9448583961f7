package notify

import (
	"context"
	"fmt"

	slackapi "github.com/slack-go/slack"
)

// slackClient abstracts the Slack API method we use, enabling test mocks.
type slackClient interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slackapi.MsgOption) (string, string, error)
}

// SlackChannel posts plain-text messages to one Slack channel.
type SlackChannel struct {
	client    slackClient
	channelID string
}

// NewSlack returns a SlackChannel, or nil when the token or channel is missing.
func NewSlack(botToken, channelID string) *SlackChannel {
	if botToken == "" || channelID == "" {
		return nil
	}
	return &SlackChannel{client: slackapi.New(botToken), channelID: channelID}
}

// Name implements Channel.
func (s *SlackChannel) Name() string { return "slack" }

// Send implements Channel.
func (s *SlackChannel) Send(ctx context.Context, text string) error {
	_, _, err := s.client.PostMessageContext(ctx, s.channelID,
		slackapi.MsgOptionText(text, false),
		slackapi.MsgOptionDisableLinkUnfurl(),
	)
	if err != nil {
		return fmt.Errorf("slack: post message: %w", err)
	}
	return nil
}
