// Package notify fans out a decision summary to Slack and LINE. Grounded
// on the original Notifier: webhook-or-token Slack delivery, bearer-token
// LINE Notify delivery, both skipped when disabled or missing credentials
// in configuration, both going through the same retry/backoff contract as
// the marketplace and price-history clients.
package notify

import (
	"bytes"
	"context"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"github.com/mselser95/amazon-sedori/internal/config"
	"github.com/mselser95/amazon-sedori/internal/jsonutil"
	"github.com/mselser95/amazon-sedori/internal/transport"
	"github.com/mselser95/amazon-sedori/pkg/types"
)

const lineNotifyURL = "https://notify-api.line.me/api/notify"

// ErrNotification wraps a channel's exhausted-retry or fatal failure. The
// caller logs it; it never changes the decision result.
type ErrNotification struct {
	Channel string
	Err     error
}

func (e *ErrNotification) Error() string { return "notify: " + e.Channel + ": " + e.Err.Error() }
func (e *ErrNotification) Unwrap() error { return e.Err }

// Notifier dispatches to Slack (webhook or bot-token) and LINE Notify.
type Notifier struct {
	slack  config.SlackSettings
	line   config.LineSettings
	tr     *transport.Client
	logger *zap.Logger
}

// New constructs a Notifier over the shared retrying transport.
func New(slack config.SlackSettings, line config.LineSettings, tr *transport.Client, logger *zap.Logger) *Notifier {
	return &Notifier{slack: slack, line: line, tr: tr, logger: logger}
}

// PostSlack sends summaryText to Slack, preferring a bot token + channel
// over a webhook URL when both are configured. Skipped when disabled or
// when neither delivery path is configured.
func (n *Notifier) PostSlack(ctx context.Context, summaryText string) error {
	if !n.slack.Enabled {
		n.debug("slack-disabled")
		return nil
	}

	if n.slack.Token != "" && n.slack.Channel != "" {
		return n.sendSlackAPI(ctx, summaryText)
	}
	if n.slack.Webhook != "" {
		return n.sendSlackWebhook(ctx, summaryText)
	}
	n.debug("slack-skipped-missing-credentials")
	return nil
}

func (n *Notifier) sendSlackAPI(ctx context.Context, text string) error {
	values := url.Values{"channel": []string{n.slack.Channel}, "text": []string{text}}
	body := []byte(values.Encode())

	resp, flags, err := n.tr.Do(ctx, "notify:slack", 1<<30, func(reqCtx context.Context) (*http.Request, error) {
		req, buildErr := http.NewRequestWithContext(reqCtx, http.MethodPost, "https://slack.com/api/chat.postMessage", bytes.NewReader(body))
		if buildErr != nil {
			return nil, buildErr
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("Authorization", "Bearer "+n.slack.Token)
		return req, nil
	})
	return n.finish("slack", resp, flags, err)
}

func (n *Notifier) sendSlackWebhook(ctx context.Context, text string) error {
	payload, err := jsonutil.Marshal(map[string]string{"text": text})
	if err != nil {
		return &ErrNotification{Channel: "slack", Err: err}
	}

	resp, flags, doErr := n.tr.Do(ctx, "notify:slack", 1<<30, func(reqCtx context.Context) (*http.Request, error) {
		req, buildErr := http.NewRequestWithContext(reqCtx, http.MethodPost, n.slack.Webhook, bytes.NewReader(payload))
		if buildErr != nil {
			return nil, buildErr
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	return n.finish("slack", resp, flags, doErr)
}

// PostLine sends summaryText via LINE Notify. Skipped when disabled or
// when no access token is configured.
func (n *Notifier) PostLine(ctx context.Context, summaryText string) error {
	if !n.line.Enabled {
		n.debug("line-disabled")
		return nil
	}
	if n.line.Token == "" {
		n.debug("line-skipped-missing-token")
		return nil
	}

	values := url.Values{"message": []string{summaryText}}
	body := []byte(values.Encode())

	resp, flags, err := n.tr.Do(ctx, "notify:line", 1<<30, func(reqCtx context.Context) (*http.Request, error) {
		req, buildErr := http.NewRequestWithContext(reqCtx, http.MethodPost, lineNotifyURL, bytes.NewReader(body))
		if buildErr != nil {
			return nil, buildErr
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("Authorization", "Bearer "+n.line.Token)
		return req, nil
	})
	return n.finish("line", resp, flags, err)
}

func (n *Notifier) finish(channel string, resp *http.Response, flags types.ServiceFlags, err error) error {
	if resp != nil {
		defer resp.Body.Close()
	}
	if flags.Degraded {
		if n.logger != nil {
			n.logger.Warn("notification-degraded", zap.String("channel", channel), zap.String("reason", flags.Reason))
		}
		return &ErrNotification{Channel: channel, Err: errReason(flags.Reason)}
	}
	if err != nil {
		if n.logger != nil {
			n.logger.Error("notification-failed", zap.String("channel", channel), zap.Error(err))
		}
		return &ErrNotification{Channel: channel, Err: err}
	}
	if n.logger != nil {
		n.logger.Info("notification-delivered", zap.String("channel", channel))
	}
	return nil
}

func (n *Notifier) debug(msg string) {
	if n.logger != nil {
		n.logger.Debug(msg)
	}
}

type reasonError string

func (r reasonError) Error() string { return string(r) }

func errReason(reason string) error {
	if reason == "" {
		reason = "notification_failed"
	}
	return reasonError(reason)
}
