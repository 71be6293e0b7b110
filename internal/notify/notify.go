// Package notify reports per-cycle summaries over Slack and email.
// Reporting is best effort: failures are logged and never fatal.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/smtp"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type ProjectFailure struct {
	ProjectID int64
	Title     string
	Reason    string
}

type CycleSummary struct {
	Source        string
	Projects      int
	StoriesFound  int
	StoriesQueued int
	Failures      []ProjectFailure
	Duration      time.Duration
}

type EmailSettings struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
	To       []string
}

type Notifier struct {
	slackWebhookURL string
	email           EmailSettings
	httpClient      *http.Client
	logger          zerolog.Logger
}

func New(slackWebhookURL string, email EmailSettings, logger zerolog.Logger) *Notifier {
	return &Notifier{
		slackWebhookURL: slackWebhookURL,
		email:           email,
		httpClient:      &http.Client{Timeout: 15 * time.Second},
		logger:          logger,
	}
}

// SendCycleSummary delivers the summary on every configured channel.
func (n *Notifier) SendCycleSummary(ctx context.Context, summary CycleSummary) {
	message := formatSummary(summary)

	if n.slackWebhookURL != "" {
		if err := n.postSlack(ctx, message); err != nil {
			n.logger.Warn().Err(err).Msg("slack notification failed")
		}
	}
	if n.email.Host != "" && len(n.email.To) > 0 {
		subject := fmt.Sprintf("story-processor: %s cycle finished", summary.Source)
		if err := n.sendEmail(subject, message); err != nil {
			n.logger.Warn().Err(err).Msg("email notification failed")
		}
	}
}

func formatSummary(summary CycleSummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Fetch cycle for %s finished in %s\n", summary.Source, summary.Duration.Round(time.Second))
	fmt.Fprintf(&b, "Projects: %d (%d failed)\n", summary.Projects, len(summary.Failures))
	fmt.Fprintf(&b, "Stories: %d found, %d queued for classification\n", summary.StoriesFound, summary.StoriesQueued)
	for _, failure := range summary.Failures {
		fmt.Fprintf(&b, "  - project %d (%s): %s\n", failure.ProjectID, failure.Title, failure.Reason)
	}
	return b.String()
}

func (n *Notifier) postSlack(ctx context.Context, message string) error {
	payload, err := json.Marshal(map[string]string{"text": message})
	if err != nil {
		return fmt.Errorf("marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.slackWebhookURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post slack webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack webhook returned status %d", resp.StatusCode)
	}
	return nil
}

func (n *Notifier) sendEmail(subject, body string) error {
	addr := fmt.Sprintf("%s:%d", n.email.Host, n.email.Port)

	var auth smtp.Auth
	if n.email.User != "" {
		auth = smtp.PlainAuth("", n.email.User, n.email.Password, n.email.Host)
	}

	message := fmt.Sprintf(
		"From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s",
		n.email.From, strings.Join(n.email.To, ", "), subject, body,
	)
	if err := smtp.SendMail(addr, auth, n.email.From, n.email.To, []byte(message)); err != nil {
		return fmt.Errorf("send summary email: %w", err)
	}
	return nil
}
