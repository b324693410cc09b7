package slack

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestFormatRunSummary_WithLabelsAndFailures(t *testing.T) {
	msg := formatRunSummary(RunSummary{
		RunID:         "run-1",
		Sources:       3,
		Conversations: 41,
		Failed:        []string{"transcripts/bad.tsv"},
		Labelled:      40,
		Accuracy:      0.825,
		MeanLoss:      0.4123,
		Predicted:     [2]int{30, 11},
		Duration:      83 * time.Second,
	})

	checks := []string{
		"Classification run finished in 1m23s",
		"Sources: 3 | Conversations: 41",
		"30 negative, 11 positive",
		"Labelled: 40 | Accuracy: 0.825 | Mean loss: 0.4123",
		"Failed sources: 1",
	}
	for _, check := range checks {
		if !strings.Contains(msg, check) {
			t.Errorf("expected message to contain %q", check)
		}
	}
	if strings.Contains(msg, "transcripts/bad.tsv") {
		t.Errorf("failed refs belong in the thread, got %q", msg)
	}
}

func TestFormatFailures(t *testing.T) {
	msg := FormatFailures([]string{"a.tsv", "sub/b.tsv"})
	for _, ref := range []string{"• a.tsv", "• sub/b.tsv"} {
		if !strings.Contains(msg, ref) {
			t.Errorf("expected %q in %q", ref, msg)
		}
	}
}

func TestFormatRunSummary_Unlabelled(t *testing.T) {
	msg := formatRunSummary(RunSummary{RunID: "run-2", DryRun: true})

	if !strings.Contains(msg, "(dry run)") {
		t.Errorf("expected dry run marker, got %q", msg)
	}
	if !strings.Contains(msg, "No gold labels") {
		t.Errorf("expected unlabelled note, got %q", msg)
	}
	if strings.Contains(msg, "Failed sources") {
		t.Errorf("did not expect failures section, got %q", msg)
	}
}

func TestPostRunSummary_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer xoxb-test" {
			t.Errorf("expected Bearer xoxb-test, got %q", r.Header.Get("Authorization"))
		}

		body, _ := io.ReadAll(r.Body)
		var payload map[string]any
		json.Unmarshal(body, &payload)

		if payload["channel"] != "C123" {
			t.Errorf("expected channel C123, got %v", payload["channel"])
		}
		if _, ok := payload["blocks"]; !ok {
			t.Error("expected blocks in payload")
		}

		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"ok": true,
			"ts": "1234567890.123456",
		})
	}))
	defer server.Close()

	p := NewPoster("xoxb-test", "C123", discardLogger())
	p.apiURL = server.URL

	ts, err := p.PostRunSummary(context.Background(), RunSummary{RunID: "run-1", Conversations: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ts != "1234567890.123456" {
		t.Errorf("expected ts 1234567890.123456, got %q", ts)
	}
}

func TestPostRunSummary_SlackError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"ok":    false,
			"error": "channel_not_found",
		})
	}))
	defer server.Close()

	p := NewPoster("xoxb-test", "C123", discardLogger())
	p.apiURL = server.URL

	if _, err := p.PostRunSummary(context.Background(), RunSummary{RunID: "x"}); err == nil {
		t.Fatal("expected error for slack error response")
	}
}

func TestPostThread(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		json.NewEncoder(w).Encode(map[string]any{"ok": true, "ts": "2"})
	}))
	defer server.Close()

	p := NewPoster("xoxb-test", "C123", discardLogger())
	p.apiURL = server.URL

	if err := p.PostThread(context.Background(), "1.5", "details"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got["thread_ts"] != "1.5" || got["text"] != "details" {
		t.Errorf("unexpected payload %v", got)
	}
}
