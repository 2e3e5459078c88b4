package pg

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"tramita.org/internal/auth"
)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewFromDB(db), mock
}

func sessionRows(now time.Time) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "principal_id", "ttl_seconds", "created_at", "last_seen_at", "expires_at", "revoked_at", "remote_addr", "user_agent"}).
		AddRow("sess-1", "p-1", int64(3600), now.Add(-time.Hour), now, now.Add(time.Hour), nil, "10.0.0.1", "curl")
}

func TestSessionTouchValidRow(t *testing.T) {
	store, mock := newMock(t)
	now := time.Now().UTC()

	mock.ExpectQuery("update sessions").
		WithArgs("sess-1", now, 0.5).
		WillReturnRows(sessionRows(now))

	sess, err := store.Sessions(context.Background()).Touch(context.Background(), "sess-1", now, 0.5)
	if err != nil {
		t.Fatalf("Touch: %v", err)
	}
	if sess.ID != "sess-1" || sess.TTL != time.Hour {
		t.Fatalf("unexpected session: %+v", sess)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSessionTouchDeadRow(t *testing.T) {
	store, mock := newMock(t)
	now := time.Now().UTC()

	// Revoked or expired rows never match the guarded update.
	mock.ExpectQuery("update sessions").
		WithArgs("sess-1", now, 0.5).
		WillReturnError(sql.ErrNoRows)

	if _, err := store.Sessions(context.Background()).Touch(context.Background(), "sess-1", now, 0.5); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSessionRevokeIdempotent(t *testing.T) {
	store, mock := newMock(t)
	now := time.Now().UTC()

	mock.ExpectExec("update sessions set revoked_at").
		WithArgs("sess-1", now).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := store.Sessions(context.Background()).Revoke(context.Background(), "sess-1", now); err != nil {
		t.Fatalf("Revoke of already-revoked session must succeed, got %v", err)
	}
}

func TestPrincipalCreateConflict(t *testing.T) {
	store, mock := newMock(t)

	mock.ExpectExec("insert into principals").
		WillReturnError(&pgconn.PgError{Code: "23505"})

	p := &auth.Principal{ID: "p-1", Identity: "ana@example.org", Active: true}
	if err := store.Principals(context.Background()).Create(context.Background(), p); !errors.Is(err, auth.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestPrincipalFindDecodesRoles(t *testing.T) {
	store, mock := newMock(t)
	now := time.Now().UTC()

	rows := sqlmock.NewRows([]string{"id", "identity", "display_name", "roles", "superuser", "must_change_password", "active", "password_hash", "created_at", "updated_at"}).
		AddRow("p-1", "ana@example.org", "Ana", []byte(`["compras","pregoeiro"]`), false, false, true, "hash", now, now)
	mock.ExpectQuery("select (.+) from principals where id").
		WithArgs("p-1").
		WillReturnRows(rows)

	p, err := store.Principals(context.Background()).Find(context.Background(), "p-1")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(p.Roles) != 2 || p.Roles[0] != "compras" {
		t.Fatalf("roles not decoded: %v", p.Roles)
	}
}

func TestPrincipalUpdateMissing(t *testing.T) {
	store, mock := newMock(t)

	mock.ExpectExec("update principals").
		WillReturnResult(sqlmock.NewResult(0, 0))

	p := &auth.Principal{ID: "missing"}
	if err := store.Principals(context.Background()).Update(context.Background(), p); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
