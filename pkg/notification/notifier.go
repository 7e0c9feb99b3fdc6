package notification

import (
	"context"
	"fmt"
	"strings"

	"github.com/AutonomosCdM/vigia-sub003/internal/taxonomy"
)

// Notifier renders and delivers one NotificationRequest. Delivery retry is
// deliberately not implemented here: the notification stage runs as a
// regular task on the analysis chain, so the task runner's own
// attempt/backoff/escalation policy already provides the "retried up to 3
// times, then escalated" behavior — a second, independent retry loop
// inside this package would duplicate and potentially race with it.
type Notifier struct {
	sender    Sender
	audit     AuditSink
	templates map[string]string
}

// New constructs a Notifier with no templates registered.
func New(sender Sender, audit AuditSink) *Notifier {
	return &Notifier{sender: sender, audit: audit, templates: make(map[string]string)}
}

// RegisterTemplate binds a template id to a string containing
// "{{param_name}}" placeholders.
func (n *Notifier) RegisterTemplate(id, template string) {
	n.templates[id] = template
}

// Send renders req's template and delivers it via the configured Sender.
func (n *Notifier) Send(ctx context.Context, req Request) error {
	tmpl, ok := n.templates[req.MessageTemplateID]
	if !ok {
		n.audit.Emit(ctx, req.TokenID, "notification_failed", "unknown_template", "notification")
		return taxonomy.Wrap(taxonomy.NonRetryable, fmt.Errorf("%w: %s", ErrUnknownTemplate, req.MessageTemplateID))
	}

	for _, key := range forbiddenParamKeys {
		if _, present := req.TemplateParams[key]; present {
			n.audit.Emit(ctx, req.TokenID, "notification_failed", "forbidden_param", "notification")
			return taxonomy.Wrap(taxonomy.NonRetryable, fmt.Errorf("%w: %s", ErrForbiddenParam, key))
		}
	}

	text := render(tmpl, req.TemplateParams)
	if err := n.sender.Send(ctx, req.Urgency, text); err != nil {
		n.audit.Emit(ctx, req.TokenID, "notification_failed", "error", "notification")
		return taxonomy.Wrap(taxonomy.Transient, fmt.Errorf("sending notification: %w", err))
	}

	n.audit.Emit(ctx, req.TokenID, "notification_sent", "ok", "notification")
	return nil
}

func render(template string, params map[string]string) string {
	out := template
	for k, v := range params {
		out = strings.ReplaceAll(out, "{{"+k+"}}", v)
	}
	return out
}
