//go:build integration

package store

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, dbURL)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	t.Cleanup(func() {
		s.Close()
	})
	return s
}

func TestIntegration_WriteAndReadClassification(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	sourceRef := "integration-test-" + uuid.New().String()[:8]
	gold := 1
	loss := 0.42

	w := ClassificationWrite{
		RunID:      uuid.New(),
		SourceRef:  sourceRef,
		Index:      0,
		StartLine:  1,
		Heads:      []string{"root", "0"},
		Transcript: "hello there\ngeneral kenobi",
		GoldLabel:  &gold,
		Pooler:     "mean",
		Encoder:    "bilstm",
		Logits:     [2]float64{-0.3, 0.7},
		ProbPos:    0.73,
		Predicted:  1,
		Loss:       &loss,
		Summary:    []float64{0.1, 0.2, 0.3},
	}

	id, err := s.WriteClassification(ctx, w)
	if err != nil {
		t.Fatalf("WriteClassification failed: %v", err)
	}
	if id == uuid.Nil {
		t.Fatal("expected non-nil classification ID")
	}

	row, err := s.GetClassification(ctx, id)
	if err != nil {
		t.Fatalf("GetClassification failed: %v", err)
	}
	if row.SourceRef != sourceRef || row.TurnCount != 2 {
		t.Errorf("unexpected row %+v", row)
	}
	if row.GoldLabel == nil || *row.GoldLabel != 1 {
		t.Errorf("expected gold label 1, got %v", row.GoldLabel)
	}
	if row.Loss == nil || *row.Loss != 0.42 {
		t.Errorf("expected loss 0.42, got %v", row.Loss)
	}

	// Reclassifying the same conversation reuses its row.
	w.RunID = uuid.New()
	w.Summary = nil
	w.Predicted = 0
	if _, err := s.WriteClassification(ctx, w); err != nil {
		t.Fatalf("second WriteClassification failed: %v", err)
	}

	rows, err := s.ListBySource(ctx, sourceRef)
	if err != nil {
		t.Fatalf("ListBySource failed: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 conversation, got %d", len(rows))
	}
	if rows[0].Predicted != 0 || rows[0].RunID != w.RunID {
		t.Errorf("expected latest classification, got %+v", rows[0])
	}

	convs, classes, err := s.Counts(ctx)
	if err != nil {
		t.Fatalf("Counts failed: %v", err)
	}
	if convs < 1 || classes < 2 {
		t.Errorf("unexpected counts %d/%d", convs, classes)
	}
}
