package notification

import (
	"context"
	"fmt"
	"time"

	goslack "github.com/slack-go/slack"
)

// SlackSender is a Sender backed by the Slack chat.postMessage API. It maps
// urgency to a channel via a small routing table (a routine case posts to
// #medical-routine, an emergency to #medical-emergency); an urgency with no
// table entry falls back to defaultChannel.
type SlackSender struct {
	api              *goslack.Client
	channelByUrgency map[string]string
	defaultChannel   string
	timeout          time.Duration
}

// NewSlackSender constructs a SlackSender. channelByUrgency keys match
// decision.UrgencyLevel values ("routine", "urgent", "emergency").
func NewSlackSender(token string, channelByUrgency map[string]string, defaultChannel string) *SlackSender {
	return &SlackSender{
		api:              goslack.New(token),
		channelByUrgency: channelByUrgency,
		defaultChannel:   defaultChannel,
		timeout:          10 * time.Second,
	}
}

// Send posts text to the channel routed by urgency.
func (s *SlackSender) Send(ctx context.Context, urgency, text string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	channel, ok := s.channelByUrgency[urgency]
	if !ok {
		channel = s.defaultChannel
	}

	_, _, err := s.api.PostMessageContext(ctx, channel, goslack.MsgOptionText(text, false))
	if err != nil {
		return fmt.Errorf("chat.postMessage failed: %w", err)
	}
	return nil
}
