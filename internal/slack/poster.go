// Package slack posts batch run summaries to a Slack channel.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const defaultPostMessageURL = "https://slack.com/api/chat.postMessage"

type Poster struct {
	token   string
	channel string
	client  *http.Client
	logger  *slog.Logger
	apiURL  string
}

func NewPoster(token, channel string, logger *slog.Logger) *Poster {
	return &Poster{
		token:   token,
		channel: channel,
		client:  &http.Client{Timeout: 10 * time.Second},
		apiURL:  defaultPostMessageURL,
		logger:  logger,
	}
}

// RunSummary describes one batch classification run.
type RunSummary struct {
	RunID         string
	Sources       int
	Conversations int
	Failed        []string // source refs that did not complete
	Labelled      int
	Accuracy      float64
	MeanLoss      float64
	Predicted     [2]int
	Duration      time.Duration
	DryRun        bool
}

// PostRunSummary posts s and returns the message timestamp.
func (p *Poster) PostRunSummary(ctx context.Context, s RunSummary) (string, error) {
	text := formatRunSummary(s)

	ts, err := p.post(ctx, map[string]any{
		"channel": p.channel,
		"text":    text,
		"blocks": []map[string]any{
			{
				"type": "section",
				"text": map[string]any{
					"type": "mrkdwn",
					"text": text,
				},
			},
			{
				"type": "context",
				"elements": []map[string]any{
					{
						"type": "mrkdwn",
						"text": "run `" + s.RunID + "`",
					},
				},
			},
		},
	})
	if err != nil {
		return "", err
	}

	p.logger.Info("posted run summary to slack", "ts", ts, "run_id", s.RunID)
	return ts, nil
}

// PostThread posts a threaded reply to a message.
func (p *Poster) PostThread(ctx context.Context, threadTS, text string) error {
	_, err := p.post(ctx, map[string]any{
		"channel":   p.channel,
		"thread_ts": threadTS,
		"text":      text,
	})
	return err
}

func (p *Poster) post(ctx context.Context, payload map[string]any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+p.token)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("slack post: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var slackResp struct {
		OK    bool   `json:"ok"`
		TS    string `json:"ts"`
		Error string `json:"error,omitempty"`
	}
	if err := json.Unmarshal(respBody, &slackResp); err != nil {
		return "", fmt.Errorf("parse slack response: %w", err)
	}
	if !slackResp.OK {
		return "", fmt.Errorf("slack error: %s", slackResp.Error)
	}
	return slackResp.TS, nil
}

func formatRunSummary(s RunSummary) string {
	var sb strings.Builder

	title := "Classification run"
	if s.DryRun {
		title += " (dry run)"
	}
	fmt.Fprintf(&sb, "*%s finished in %s*\n", title, s.Duration.Round(time.Second))
	fmt.Fprintf(&sb, "Sources: %d | Conversations: %d\n", s.Sources, s.Conversations)
	fmt.Fprintf(&sb, "Predicted: %d negative, %d positive\n", s.Predicted[0], s.Predicted[1])

	if s.Labelled > 0 {
		fmt.Fprintf(&sb, "Labelled: %d | Accuracy: %.3f | Mean loss: %.4f\n", s.Labelled, s.Accuracy, s.MeanLoss)
	} else {
		sb.WriteString("_No gold labels supplied._\n")
	}

	if len(s.Failed) > 0 {
		fmt.Fprintf(&sb, "\n*Failed sources: %d* (listed in thread)\n", len(s.Failed))
	}

	return sb.String()
}

// FormatFailures renders the failed source refs for a thread reply.
func FormatFailures(failed []string) string {
	var sb strings.Builder
	sb.WriteString("*Failed sources*\n")
	for _, ref := range failed {
		fmt.Fprintf(&sb, "• %s\n", ref)
	}
	return sb.String()
}
