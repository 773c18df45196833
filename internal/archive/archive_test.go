package archive

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/praekeltfoundation/who-smoking-cessation/internal/models"
)

func testAnswers() []models.Answer {
	when := time.Date(2021, 3, 3, 12, 10, 17, 0, time.UTC)
	return []models.Answer{
		{
			Question:         "state_age",
			Response:         "25_35",
			Address:          "27820001001",
			SessionID:        "session-1",
			Timestamp:        when,
			RowID:            "row-1",
			ResponseMetadata: map[string]any{},
		},
		{
			Question:         "state_gender",
			Response:         "female",
			Address:          "27820001001",
			SessionID:        "session-1",
			Timestamp:        when,
			RowID:            "row-2",
			ResponseMetadata: map[string]any{},
		},
	}
}

func TestStore_RecordInsertsBatchInOneTransaction(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New returned error: %v", err)
	}
	defer func() { _ = db.Close() }()

	mock.ExpectBegin()
	prepare := mock.ExpectPrepare("INSERT INTO answers")
	prepare.ExpectExec().
		WithArgs("row-1", sqlmock.AnyArg(), "27820001001", "session-1", "state_age", "25_35", []byte("{}")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	prepare.ExpectExec().
		WithArgs("row-2", sqlmock.AnyArg(), "27820001001", "session-1", "state_gender", "female", []byte("{}")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	store := NewStore(db)
	if err := store.Record(context.Background(), testAnswers()); err != nil {
		t.Fatalf("Record returned error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestStore_RecordEmptyBatchIsNoop(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New returned error: %v", err)
	}
	defer func() { _ = db.Close() }()

	store := NewStore(db)
	if err := store.Record(context.Background(), nil); err != nil {
		t.Fatalf("Record returned error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expected no database traffic: %v", err)
	}
}

func TestStore_RecordRollsBackOnInsertFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New returned error: %v", err)
	}
	defer func() { _ = db.Close() }()

	mock.ExpectBegin()
	prepare := mock.ExpectPrepare("INSERT INTO answers")
	prepare.ExpectExec().
		WithArgs("row-1", sqlmock.AnyArg(), "27820001001", "session-1", "state_age", "25_35", []byte("{}")).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	store := NewStore(db)
	if err := store.Record(context.Background(), testAnswers()); err == nil {
		t.Fatal("expected the insert failure to surface")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestStore_RecordEncodesStructuredResponses(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New returned error: %v", err)
	}
	defer func() { _ = db.Close() }()

	answer := testAnswers()[0]
	answer.Response = map[string]any{"_date": "2021-03-03"}

	mock.ExpectBegin()
	prepare := mock.ExpectPrepare("INSERT INTO answers")
	prepare.ExpectExec().
		WithArgs("row-1", sqlmock.AnyArg(), "27820001001", "session-1", "state_age", `{"_date":"2021-03-03"}`, []byte("{}")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	store := NewStore(db)
	if err := store.Record(context.Background(), []models.Answer{answer}); err != nil {
		t.Fatalf("Record returned error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestStore_Count(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New returned error: %v", err)
	}
	defer func() { _ = db.Close() }()

	mock.ExpectQuery("SELECT COUNT").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(42))

	store := NewStore(db)
	count, err := store.Count(context.Background())
	if err != nil {
		t.Fatalf("Count returned error: %v", err)
	}
	if count != 42 {
		t.Fatalf("expected 42, got %d", count)
	}
}
