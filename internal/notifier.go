package internal

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"
)

type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityError    Severity = "ERROR"
	SeverityCritical Severity = "CRITICAL"
)

const defaultSlackTimeout = 5 * time.Second

// Notifier delivers one operator alert. Callers treat a returned error as
// informational only.
type Notifier interface {
	Notify(ctx context.Context, message string, severity Severity) error
}

type severityStyle struct {
	color string
	emoji string
	title string
}

var severityStyles = map[Severity]severityStyle{
	SeverityInfo:     {color: "#36a64f", emoji: "✅", title: "System Normal"},
	SeverityWarning:  {color: "#FFCC00", emoji: "⚠️", title: "System Warning"},
	SeverityError:    {color: "#FF0000", emoji: "🚨", title: "System Error"},
	SeverityCritical: {color: "#800000", emoji: "🔥", title: "Critical Failure"},
}

func styleFor(s Severity) severityStyle {
	if style, ok := severityStyles[Severity(strings.ToUpper(string(s)))]; ok {
		return style
	}
	return severityStyles[SeverityInfo]
}

// SlackPayload is an incoming-webhook message using the attachments layout.
type SlackPayload struct {
	Attachments []SlackAttachment `json:"attachments"`
}

type SlackAttachment struct {
	Fallback string       `json:"fallback"`
	Color    string       `json:"color"`
	Pretext  string       `json:"pretext"`
	Title    string       `json:"title"`
	Text     string       `json:"text"`
	Fields   []SlackField `json:"fields,omitempty"`
	Footer   string       `json:"footer,omitempty"`
	TS       int64        `json:"ts"`
}

type SlackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

func NewSlackPayload(message string, severity Severity, env string, now time.Time) SlackPayload {
	style := styleFor(severity)
	return SlackPayload{
		Attachments: []SlackAttachment{
			{
				Fallback: fmt.Sprintf("[%s] %s", severity, message),
				Color:    style.color,
				Pretext:  style.emoji + " *LoL Pipeline Monitoring*",
				Title:    style.title,
				Text:     message,
				Fields: []SlackField{
					{Title: "Environment", Value: env, Short: true},
					{Title: "Timestamp", Value: now.Format("2006-01-02 15:04:05"), Short: true},
				},
				Footer: "lol-pipeline",
				TS:     now.Unix(),
			},
		},
	}
}

type SlackNotifier struct {
	webhookURL string
	env        string
	httpClient *http.Client
	logger     *Logger
}

func NewSlackNotifier(cfg *Config, logger *Logger) *SlackNotifier {
	return &SlackNotifier{
		webhookURL: cfg.SlackWebhookURL,
		env:        cfg.AppEnv,
		httpClient: &http.Client{
			Timeout: defaultSlackTimeout,
		},
		logger: logger,
	}
}

func (s *SlackNotifier) Notify(ctx context.Context, message string, severity Severity) error {
	if s.webhookURL == "" {
		s.logger.Warn("slack_webhook_missing").
			Component("notifier").
			Operation("notify").
			Meta("severity", severity).
			Log()
		return nil
	}

	data, err := json.Marshal(NewSlackPayload(message, severity, s.env, time.Now()))
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.logger.Error("slack_notify_failed").
			Component("notifier").
			Operation("notify").
			Err(err).
			Log()
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		s.logger.Error("slack_notify_rejected").
			Component("notifier").
			Operation("notify").
			HTTP(http.MethodPost, req.URL.Path, resp.StatusCode).
			Meta("body", string(body)).
			Log()
		return fmt.Errorf("webhook request failed with status %d", resp.StatusCode)
	}

	s.logger.Debug("slack_notify_sent").
		Component("notifier").
		Operation("notify").
		Meta("severity", severity).
		Log()
	return nil
}

// MultiNotifier fans one alert out to every channel and joins their errors.
type MultiNotifier []Notifier

func (m MultiNotifier) Notify(ctx context.Context, message string, severity Severity) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, message, severity); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, string, Severity) error { return nil }
