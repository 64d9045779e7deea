package adapter

import (
	"context"
	"log/slog"
	"os"

	"github.com/lunabot/luna/internal/errors"

	"github.com/slack-go/slack"
)

// Slack is an outbound-only mirror: digests and reminders can be
// copied to a fixed channel. The chat id from the primary platform
// has no Slack meaning, so Send posts to the configured channel
// regardless of it.
type Slack struct {
	client  *slack.Client
	channel string
}

func NewSlack(botToken, channel string) *Slack {
	if botToken == "" {
		botToken = os.Getenv("SLACK_BOT_TOKEN")
	}
	return &Slack{
		client:  slack.New(botToken),
		channel: channel,
	}
}

func (s *Slack) Name() string {
	return "slack"
}

func (s *Slack) Send(ctx context.Context, _ int64, text string) error {
	_, _, err := s.client.PostMessageContext(ctx, s.channel, slack.MsgOptionText(text, false))
	if err != nil {
		return errors.Wrap(err, "failed to send slack message")
	}
	slog.Debug("Slack message sent", "channel", s.channel)
	return nil
}

func (s *Slack) SendFile(ctx context.Context, _ int64, filename string, data []byte) error {
	_, err := s.client.UploadFileContext(ctx, slack.UploadFileParameters{
		Filename: filename,
		FileSize: len(data),
		Content:  string(data),
		Channel:  s.channel,
	})
	if err != nil {
		return errors.Wrap(err, "failed to upload slack file")
	}
	return nil
}

func (s *Slack) Health(ctx context.Context) error {
	if _, err := s.client.AuthTestContext(ctx); err != nil {
		return errors.Transient("slack connection failed: %v", err)
	}
	return nil
}
