// Package archive mirrors submitted survey answers into PostgreSQL for
// offline analysis. The flow results server remains the system of record;
// rows here are write-only from the worker's point of view.
package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/praekeltfoundation/who-smoking-cessation/internal/models"
)

// Store persists answer batches to PostgreSQL.
type Store struct {
	db     *sql.DB
	tracer trace.Tracer
}

// NewStore builds a Postgres-backed answer archive.
func NewStore(db *sql.DB) *Store {
	if db == nil {
		panic("archive: db cannot be nil")
	}
	return &Store{
		db:     db,
		tracer: otel.Tracer("survey.internal.archive"),
	}
}

const insertAnswer = `
	INSERT INTO answers (
		row_id, timestamp, address, session_id, question, response, response_metadata
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (row_id) DO NOTHING
`

// Record inserts the batch inside a single transaction. Duplicate row ids are
// ignored so a re-submitted batch stays idempotent.
func (s *Store) Record(ctx context.Context, answers []models.Answer) error {
	if len(answers) == 0 {
		return nil
	}

	ctx, span := s.tracer.Start(ctx, "archive.Record")
	defer span.End()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("archive: begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, insertAnswer)
	if err != nil {
		return fmt.Errorf("archive: prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, answer := range answers {
		metadata, err := marshalMetadata(answer.ResponseMetadata)
		if err != nil {
			return err
		}
		response, err := responseText(answer.Response)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx,
			string(answer.RowID),
			answer.Timestamp,
			string(answer.Address),
			string(answer.SessionID),
			answer.Question,
			response,
			metadata,
		); err != nil {
			return fmt.Errorf("archive: insert answer: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("archive: commit transaction: %w", err)
	}
	return nil
}

// Count returns the number of archived answers; used by operational checks.
func (s *Store) Count(ctx context.Context) (int64, error) {
	ctx, span := s.tracer.Start(ctx, "archive.Count")
	defer span.End()

	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM answers`).Scan(&count); err != nil {
		return 0, fmt.Errorf("archive: count answers: %w", err)
	}
	return count, nil
}

func marshalMetadata(metadata map[string]any) ([]byte, error) {
	if metadata == nil {
		metadata = map[string]any{}
	}
	data, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("archive: encode response metadata: %w", err)
	}
	return data, nil
}

// responseText renders the response column as text. Plain strings are stored
// verbatim; structured responses fall back to their JSON encoding.
func responseText(response any) (string, error) {
	switch v := response.(type) {
	case string:
		return v, nil
	case nil:
		return "", errors.New("archive: answer response cannot be nil")
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("archive: encode response: %w", err)
		}
		return string(data), nil
	}
}
