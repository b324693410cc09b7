package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/MikeSquared-Agency/verdict/internal/chat"
	"github.com/MikeSquared-Agency/verdict/internal/model"
	"github.com/MikeSquared-Agency/verdict/internal/processor"
	"github.com/MikeSquared-Agency/verdict/internal/store"
)

type stubProcessor struct {
	run       *processor.Run
	err       error
	gotRef    string
	gotBody   string
	gotLabels func(int) (chat.Label, bool)
}

func (s *stubProcessor) Process(_ context.Context, sourceRef string, src io.Reader, labels func(int) (chat.Label, bool)) (*processor.Run, error) {
	b, _ := io.ReadAll(src)
	s.gotRef, s.gotBody, s.gotLabels = sourceRef, string(b), labels
	return s.run, s.err
}

func (s *stubProcessor) Stats() processor.Stats {
	return processor.Stats{Transcripts: 3, Conversations: 7}
}

func newTestServer(proc Processor, token string) *Server {
	return NewServer(8760, token, proc, Info{Tokenizer: "whitespace", Pooler: "mean", Encoder: "bilstm"}, slog.New(slog.DiscardHandler))
}

func postClassify(t *testing.T, srv *Server, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case string:
		buf.WriteString(b)
	default:
		if err := json.NewEncoder(&buf).Encode(b); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest("POST", "/api/v1/verdict/classify", &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(&stubProcessor{}, "")

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}

	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("expected status ok, got %q", body["status"])
	}
}

func TestStatusEndpoint(t *testing.T) {
	srv := newTestServer(&stubProcessor{}, "secret")

	req := httptest.NewRequest("GET", "/api/v1/verdict/status", nil)
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}

	var body struct {
		Agent string          `json:"agent"`
		Model Info            `json:"model"`
		Stats processor.Stats `json:"stats"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.Agent != "verdict" {
		t.Errorf("expected agent verdict, got %q", body.Agent)
	}
	if body.Model.Encoder != "bilstm" {
		t.Errorf("expected encoder bilstm, got %q", body.Model.Encoder)
	}
	if body.Stats.Conversations != 7 {
		t.Errorf("expected 7 conversations, got %d", body.Stats.Conversations)
	}
}

func TestStatusEndpoint_Connections(t *testing.T) {
	tests := []struct {
		name       string
		broker     func() bool
		lookup     Lookup
		wantNATS   *bool
		wantStored bool
	}{
		{"http only", nil, nil, nil, false},
		{"nats up", func() bool { return true }, nil, ptr(true), false},
		{"nats down with store", func() bool { return false }, &stubLookup{}, ptr(false), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(&stubProcessor{}, "")
			if tt.broker != nil {
				srv.WithBroker(tt.broker)
			}
			if tt.lookup != nil {
				srv.WithLookup(tt.lookup)
			}

			w := httptest.NewRecorder()
			srv.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/verdict/status", nil))

			var body struct {
				NATS   *bool `json:"nats_connected"`
				Stored bool  `json:"stored"`
			}
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if (body.NATS == nil) != (tt.wantNATS == nil) || (body.NATS != nil && *body.NATS != *tt.wantNATS) {
				t.Errorf("nats_connected = %v, want %v", body.NATS, tt.wantNATS)
			}
			if body.Stored != tt.wantStored {
				t.Errorf("stored = %v, want %v", body.Stored, tt.wantStored)
			}
		})
	}
}

func ptr[T any](v T) *T { return &v }

func TestNotFoundEndpoint(t *testing.T) {
	srv := newTestServer(&stubProcessor{}, "")

	req := httptest.NewRequest("GET", "/nonexistent", nil)
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestClassify_Auth(t *testing.T) {
	proc := &stubProcessor{run: &processor.Run{SourceRef: "x"}}
	srv := newTestServer(proc, "secret")
	body := ClassifyRequest{SourceRef: "x", Transcript: "root\thi\n"}

	if w := postClassify(t, srv, body, ""); w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", w.Code)
	}
	if w := postClassify(t, srv, body, "wrong"); w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 with wrong token, got %d", w.Code)
	}
	if w := postClassify(t, srv, body, "secret"); w.Code != http.StatusOK {
		t.Errorf("expected 200 with token, got %d", w.Code)
	}
}

func TestClassify_PassesRequestThrough(t *testing.T) {
	proc := &stubProcessor{run: &processor.Run{SourceRef: "export-9", Results: []processor.Result{{Ref: "export-9#conv-0"}}}}
	srv := newTestServer(proc, "")

	w := postClassify(t, srv, ClassifyRequest{SourceRef: "export-9", Transcript: "root\thi\n", Labels: []int{1}}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body)
	}
	if proc.gotRef != "export-9" || proc.gotBody != "root\thi\n" {
		t.Errorf("processor got %q / %q", proc.gotRef, proc.gotBody)
	}
	if l, ok := proc.gotLabels(0); !ok || l != chat.LabelPositive {
		t.Errorf("expected label 1 for conversation 0")
	}

	var run processor.Run
	if err := json.NewDecoder(w.Body).Decode(&run); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(run.Results) != 1 || run.Results[0].Ref != "export-9#conv-0" {
		t.Errorf("unexpected run %+v", run)
	}
}

func TestClassify_BadRequests(t *testing.T) {
	srv := newTestServer(&stubProcessor{}, "")

	tests := []struct {
		name string
		body any
	}{
		{"invalid json", "{not json"},
		{"missing transcript", ClassifyRequest{SourceRef: "x"}},
		{"bad label", ClassifyRequest{Transcript: "root\thi\n", Labels: []int{3}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := postClassify(t, srv, tt.body, ""); w.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", w.Code)
			}
		})
	}
}

func TestClassify_ErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		want     int
		wantLine int
	}{
		{"parse error", fmt.Errorf("read x: %w", &chat.ParseError{Line: 5, Content: "oops", Reason: "missing tab separator"}), http.StatusBadRequest, 5},
		{"invalid record", fmt.Errorf("classify x#conv-0: %w", &model.InvalidRecordError{Reason: "conversation has no turns"}), http.StatusUnprocessableEntity, 0},
		{"internal", errors.New("boom"), http.StatusInternalServerError, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			proc := &stubProcessor{run: &processor.Run{Results: make([]processor.Result, 2)}, err: tt.err}
			w := postClassify(t, newTestServer(proc, ""), ClassifyRequest{Transcript: "root\thi\n"}, "")
			if w.Code != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, w.Code)
			}
			var body errorResponse
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Line != tt.wantLine {
				t.Errorf("expected line %d, got %d", tt.wantLine, body.Line)
			}
			if body.Completed != 2 {
				t.Errorf("expected 2 completed, got %d", body.Completed)
			}
		})
	}
}

func TestClassify_EndToEnd(t *testing.T) {
	c, err := model.DefaultRegistry().Build(context.Background(), model.Spec{
		Pooler: "cls", Encoder: "gru", EmbeddingDim: 6, HiddenSize: 3, Buckets: 16,
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	proc := processor.New(processor.Config{Classifier: c, Tokenizer: chat.WordTokenizer{}})
	srv := newTestServer(proc, "")

	transcript := "root\tHello, how are you?\n0\tFine, thanks.\n\nroot\tWhat's up?\n0\tNot much.\n1\tCool.\n"
	w := postClassify(t, srv, ClassifyRequest{SourceRef: "chat", Transcript: transcript}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body)
	}

	var run processor.Run
	if err := json.NewDecoder(w.Body).Decode(&run); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(run.Results) != 2 {
		t.Fatalf("expected 2 conversations, got %d", len(run.Results))
	}
	if run.Results[0].Turns != 2 || run.Results[1].Turns != 3 {
		t.Errorf("unexpected turn counts %d, %d", run.Results[0].Turns, run.Results[1].Turns)
	}
}

type stubLookup struct {
	rows []store.ClassificationRow
	row  *store.ClassificationRow
	err  error
}

func (s *stubLookup) GetClassification(_ context.Context, id uuid.UUID) (*store.ClassificationRow, error) {
	return s.row, s.err
}

func (s *stubLookup) ListBySource(_ context.Context, sourceRef string) ([]store.ClassificationRow, error) {
	return s.rows, s.err
}

func TestClassifications_WithoutStore(t *testing.T) {
	srv := newTestServer(&stubProcessor{}, "")

	req := httptest.NewRequest("GET", "/api/v1/verdict/classifications?source_ref=x", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", w.Code)
	}
}

func TestClassifications_List(t *testing.T) {
	lookup := &stubLookup{rows: []store.ClassificationRow{{SourceRef: "chats/a.tsv", Index: 0, Predicted: 1}}}
	srv := newTestServer(&stubProcessor{}, "").WithLookup(lookup)

	req := httptest.NewRequest("GET", "/api/v1/verdict/classifications?source_ref=chats/a.tsv", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var body struct {
		SourceRef       string                    `json:"source_ref"`
		Classifications []store.ClassificationRow `json:"classifications"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.SourceRef != "chats/a.tsv" || len(body.Classifications) != 1 || body.Classifications[0].Predicted != 1 {
		t.Errorf("unexpected body %+v", body)
	}

	req = httptest.NewRequest("GET", "/api/v1/verdict/classifications", nil)
	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without source_ref, got %d", w.Code)
	}
}

func TestClassifications_Get(t *testing.T) {
	id := uuid.New()
	tests := []struct {
		name   string
		path   string
		lookup *stubLookup
		want   int
	}{
		{"found", "/api/v1/verdict/classifications/" + id.String(), &stubLookup{row: &store.ClassificationRow{ID: id}}, http.StatusOK},
		{"missing", "/api/v1/verdict/classifications/" + id.String(), &stubLookup{err: pgx.ErrNoRows}, http.StatusNotFound},
		{"bad id", "/api/v1/verdict/classifications/not-a-uuid", &stubLookup{}, http.StatusBadRequest},
		{"db error", "/api/v1/verdict/classifications/" + id.String(), &stubLookup{err: errors.New("conn reset")}, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(&stubProcessor{}, "").WithLookup(tt.lookup)
			req := httptest.NewRequest("GET", tt.path, nil)
			w := httptest.NewRecorder()
			srv.Handler().ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, w.Code)
			}
		})
	}
}
