package messaging

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"

	"delivery-engine/internal/contacts"

	"github.com/DATA-DOG/go-sqlmock"
)

func setupTestDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func TestPostgresRepo_InsertInboundBumpsUnread(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewPostgresRepo(db)

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO conversations").
		WithArgs(sqlmock.AnyArg(), "c1", "hi", fixedNow, DirectionInbound, 1).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("conv-1"))
	mock.ExpectExec("INSERT INTO messages").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	m := Message{ContactID: "c1", Channel: contacts.ChannelSMS, Direction: DirectionInbound, Body: "hi", Status: StatusReceived, CreatedAt: fixedNow}
	if err := repo.InsertMessage(context.Background(), &m); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if m.ConversationID != "conv-1" || m.ID == "" {
		t.Fatalf("expected ids filled: %+v", m)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresRepo_InsertRollsBackOnMessageFailure(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewPostgresRepo(db)

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO conversations").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("conv-1"))
	mock.ExpectExec("INSERT INTO messages").WillReturnError(errors.New("boom"))
	mock.ExpectRollback()

	m := Message{ContactID: "c1", Direction: DirectionOutbound, Status: StatusSending, CreatedAt: fixedNow}
	if err := repo.InsertMessage(context.Background(), &m); err == nil {
		t.Fatalf("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresRepo_UpdateStatusCAS(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewPostgresRepo(db)

	mock.ExpectExec(regexp.QuoteMeta("WHERE id = $1 AND status = $2")).
		WithArgs("m1", StatusSent, StatusDelivered, "", "", sqlmock.AnyArg(), fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.UpdateStatus(context.Background(), StatusChange{MessageID: "m1", From: StatusSent, To: StatusDelivered, At: fixedNow})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if ok {
		t.Fatalf("expected lost compare-and-set")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresRepo_GetByProviderID_NotFound(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewPostgresRepo(db)

	mock.ExpectQuery("FROM messages WHERE provider_message_id").
		WithArgs("SM404").
		WillReturnError(sql.ErrNoRows)

	if _, err := repo.GetByProviderID(context.Background(), "SM404"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPostgresRepo_MarkConversationRead_Missing(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewPostgresRepo(db)

	mock.ExpectExec("UPDATE conversations SET unread_count = 0").
		WithArgs("conv-x", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := repo.MarkConversationRead(context.Background(), "conv-x"); !errors.Is(err, ErrConversationNotFound) {
		t.Fatalf("expected ErrConversationNotFound, got %v", err)
	}
}
