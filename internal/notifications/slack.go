package notifications

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"
	"github.com/slack-go/slack"
)

// Severity of an operational alert
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Notification is an operational alert raised by a sync or token job
type Notification struct {
	Title    string
	Message  string
	Severity Severity
	Fields   map[string]string
}

// DeliveryChannel defines the interface for notification delivery
type DeliveryChannel interface {
	Name() string
	Deliver(ctx context.Context, n *Notification) error
}

// Service fans notifications out to every configured channel
type Service struct {
	channels []DeliveryChannel
}

// NewService creates a notification service
func NewService(channels ...DeliveryChannel) *Service {
	return &Service{channels: channels}
}

// AddChannel adds a delivery channel to the service
func (s *Service) AddChannel(ch DeliveryChannel) {
	s.channels = append(s.channels, ch)
}

// Enabled reports whether any channel is configured
func (s *Service) Enabled() bool {
	return s != nil && len(s.channels) > 0
}

// Notify delivers n to every channel. Delivery failures are logged and joined
// into the returned error; one failing channel does not stop the others.
func (s *Service) Notify(ctx context.Context, n *Notification) error {
	if !s.Enabled() {
		return nil
	}

	var errs []error
	for _, ch := range s.channels {
		if err := ch.Deliver(ctx, n); err != nil {
			log.Warn().
				Err(err).
				Str("channel", ch.Name()).
				Str("title", n.Title).
				Msg("Failed to deliver notification")
			errs = append(errs, fmt.Errorf("%s: %w", ch.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// SlackChannel posts notifications to a Slack incoming webhook
type SlackChannel struct {
	webhookURL string
	channel    string
	post       func(ctx context.Context, url string, msg *slack.WebhookMessage) error
}

// NewSlackChannel creates a webhook delivery channel. channel overrides the
// webhook's default channel when set.
func NewSlackChannel(webhookURL, channel string) (*SlackChannel, error) {
	if webhookURL == "" {
		return nil, errors.New("slack webhook url is required")
	}
	return &SlackChannel{
		webhookURL: webhookURL,
		channel:    channel,
		post:       slack.PostWebhookContext,
	}, nil
}

// Name returns the channel name
func (c *SlackChannel) Name() string {
	return "slack"
}

// Deliver sends a notification to Slack
func (c *SlackChannel) Deliver(ctx context.Context, n *Notification) error {
	blocks := c.buildMessageBlocks(n)
	msg := &slack.WebhookMessage{
		Channel: c.channel,
		Text:    fmt.Sprintf("%s: %s", n.Title, n.Message),
		Blocks:  &slack.Blocks{BlockSet: blocks},
	}

	if err := c.post(ctx, c.webhookURL, msg); err != nil {
		return fmt.Errorf("failed to post slack webhook: %w", err)
	}

	log.Info().Str("title", n.Title).Msg("Slack alert sent")
	return nil
}

func (c *SlackChannel) buildMessageBlocks(n *Notification) []slack.Block {
	var emoji string
	switch n.Severity {
	case SeverityError:
		emoji = ":x:"
	case SeverityWarning:
		emoji = ":warning:"
	default:
		emoji = ":white_check_mark:"
	}

	blocks := []slack.Block{
		slack.NewSectionBlock(
			slack.NewTextBlockObject(
				"mrkdwn",
				fmt.Sprintf("%s *%s*", emoji, n.Title),
				false,
				false,
			),
			nil,
			nil,
		),
	}

	if n.Message != "" {
		blocks = append(blocks, slack.NewSectionBlock(
			slack.NewTextBlockObject("mrkdwn", n.Message, false, false),
			nil,
			nil,
		))
	}

	if len(n.Fields) > 0 {
		keys := make([]string, 0, len(n.Fields))
		for k := range n.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		fields := make([]*slack.TextBlockObject, 0, len(keys))
		for _, k := range keys {
			fields = append(fields, slack.NewTextBlockObject("mrkdwn", fmt.Sprintf("*%s*\n%s", k, n.Fields[k]), false, false))
		}
		// Slack caps section fields at 10
		if len(fields) > 10 {
			fields = fields[:10]
		}
		blocks = append(blocks, slack.NewSectionBlock(nil, fields, nil))
	}

	return blocks
}
