package notify

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"
)

// SlackAPI is the minimal Slack API surface needed to mirror notices.
type SlackAPI interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// Slack mirrors notices into a Slack channel. Post failures are logged, never returned.
type Slack struct {
	api     SlackAPI
	channel string
	logger  zerolog.Logger
}

// NewSlack creates a Slack notifier posting to channel.
func NewSlack(api SlackAPI, channel string, logger zerolog.Logger) *Slack {
	return &Slack{
		api:     api,
		channel: channel,
		logger:  logger.With().Str("component", "notify-slack").Logger(),
	}
}

// NewSlackFromToken builds a Slack notifier from a bot token.
func NewSlackFromToken(botToken, channel string, logger zerolog.Logger) *Slack {
	return NewSlack(slack.New(botToken), channel, logger)
}

func (s *Slack) Notify(ctx context.Context, level Level, message string) {
	prefix := ":white_check_mark: "
	if level == LevelError {
		prefix = ":warning: "
	}
	_, _, err := s.api.PostMessageContext(ctx, s.channel, slack.MsgOptionText(prefix+message, false))
	if err != nil {
		s.logger.Warn().Err(err).Str("channel", s.channel).Msg("failed to mirror notice to Slack")
	}
}
