package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// ClassificationWrite is one classified conversation ready to persist.
type ClassificationWrite struct {
	RunID      uuid.UUID
	SourceRef  string
	Index      int
	StartLine  int
	Heads      []string
	Transcript string
	GoldLabel  *int
	Pooler     string
	Encoder    string
	Logits     [2]float64
	ProbPos    float64
	Predicted  int
	Loss       *float64
	Summary    []float64
}

// WriteClassification upserts the conversation and records a classification
// against it. It returns the classification ID.
func (s *Store) WriteClassification(ctx context.Context, w ClassificationWrite) (uuid.UUID, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return uuid.Nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var convID uuid.UUID
	err = tx.QueryRow(ctx, `
		INSERT INTO conversations (id, source_ref, conv_index, start_line, turn_count, heads, transcript, gold_label)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (source_ref, conv_index) DO UPDATE
			SET start_line = EXCLUDED.start_line,
			    turn_count = EXCLUDED.turn_count,
			    heads = EXCLUDED.heads,
			    transcript = EXCLUDED.transcript,
			    gold_label = EXCLUDED.gold_label
		RETURNING id`,
		uuid.New(), w.SourceRef, w.Index, w.StartLine, len(w.Heads), w.Heads, w.Transcript, w.GoldLabel,
	).Scan(&convID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("upsert conversation: %w", err)
	}

	var summary *string
	if w.Summary != nil {
		v := pgVector(w.Summary)
		summary = &v
	}

	id := uuid.New()
	_, err = tx.Exec(ctx, `
		INSERT INTO classifications (id, conversation_id, run_id, pooler, encoder, logit_negative, logit_positive, prob_positive, predicted, loss, summary)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11::vector)`,
		id, convID, w.RunID, w.Pooler, w.Encoder, w.Logits[0], w.Logits[1], w.ProbPos, w.Predicted, w.Loss, summary,
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert classification: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return uuid.Nil, fmt.Errorf("commit: %w", err)
	}
	return id, nil
}

// ClassificationRow is a stored classification joined with its conversation.
type ClassificationRow struct {
	ID        uuid.UUID `json:"id"`
	RunID     uuid.UUID `json:"run_id"`
	SourceRef string    `json:"source_ref"`
	Index     int       `json:"index"`
	TurnCount int       `json:"turns"`
	GoldLabel *int      `json:"gold_label,omitempty"`
	Predicted int       `json:"predicted"`
	ProbPos   float64   `json:"prob_positive"`
	Loss      *float64  `json:"loss,omitempty"`
}

// GetClassification fetches a classification by ID.
func (s *Store) GetClassification(ctx context.Context, id uuid.UUID) (*ClassificationRow, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT c.id, c.run_id, v.source_ref, v.conv_index, v.turn_count, v.gold_label, c.predicted, c.prob_positive, c.loss
		FROM classifications c JOIN conversations v ON v.id = c.conversation_id
		WHERE c.id = $1`, id)

	var r ClassificationRow
	if err := row.Scan(&r.ID, &r.RunID, &r.SourceRef, &r.Index, &r.TurnCount, &r.GoldLabel, &r.Predicted, &r.ProbPos, &r.Loss); err != nil {
		return nil, err
	}
	return &r, nil
}

// ListBySource returns the latest classification per conversation of a source,
// ordered by conversation index.
func (s *Store) ListBySource(ctx context.Context, sourceRef string) ([]ClassificationRow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT ON (v.conv_index)
			c.id, c.run_id, v.source_ref, v.conv_index, v.turn_count, v.gold_label, c.predicted, c.prob_positive, c.loss
		FROM classifications c JOIN conversations v ON v.id = c.conversation_id
		WHERE v.source_ref = $1
		ORDER BY v.conv_index, c.created_at DESC`, sourceRef)
	if err != nil {
		return nil, fmt.Errorf("list classifications: %w", err)
	}
	defer rows.Close()

	var out []ClassificationRow
	for rows.Next() {
		var r ClassificationRow
		if err := rows.Scan(&r.ID, &r.RunID, &r.SourceRef, &r.Index, &r.TurnCount, &r.GoldLabel, &r.Predicted, &r.ProbPos, &r.Loss); err != nil {
			return nil, fmt.Errorf("scan classification: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Counts reports how many conversations and classifications are stored.
func (s *Store) Counts(ctx context.Context) (conversations, classifications int64, err error) {
	err = s.pool.QueryRow(ctx, `
		SELECT (SELECT count(*) FROM conversations), (SELECT count(*) FROM classifications)`,
	).Scan(&conversations, &classifications)
	return conversations, classifications, err
}
