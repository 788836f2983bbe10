package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"postmesh/internal/domain/search"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// fakeTx records statements; everything it does not override panics through
// the nil embedded interface.
type fakeTx struct {
	pgx.Tx
	mu         sync.Mutex
	statements []string
	execErr    error
	failAt     int
	rows       int64
	committed  bool
	rolledBack bool
}

func (f *fakeTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statements = append(f.statements, strings.Join(strings.Fields(sql), " "))
	if f.execErr != nil && len(f.statements) == f.failAt {
		return pgconn.CommandTag{}, f.execErr
	}
	return pgconn.NewCommandTag(fmt.Sprintf("DELETE %d", f.rows)), nil
}

func (f *fakeTx) Commit(ctx context.Context) error {
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(ctx context.Context) error {
	f.rolledBack = true
	return nil
}

type fakeBeginner struct {
	DBTX
	tx *fakeTx
}

func (b *fakeBeginner) Begin(ctx context.Context) (pgx.Tx, error) {
	return b.tx, nil
}

type plainDB struct {
	DBTX
}

func TestIsUniqueViolation(t *testing.T) {
	if !isUniqueViolation(fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})) {
		t.Error("expected wrapped 23505 to be a unique violation")
	}
	if isUniqueViolation(&pgconn.PgError{Code: "23503"}) {
		t.Error("foreign key violation is not a unique violation")
	}
	if isUniqueViolation(errors.New("boom")) {
		t.Error("plain errors are not unique violations")
	}
}

func TestWithTx(t *testing.T) {
	ctx := context.Background()

	t.Run("Nil DB", func(t *testing.T) {
		if err := WithTx(ctx, nil, func(DBTX) error { return nil }); err == nil {
			t.Error("expected an error for nil db")
		}
	})

	t.Run("Unsupported DB", func(t *testing.T) {
		if err := WithTx(ctx, &plainDB{}, func(DBTX) error { return nil }); err == nil {
			t.Error("expected an error for a db that cannot begin")
		}
	})

	t.Run("Commits On Success", func(t *testing.T) {
		tx := &fakeTx{}
		if err := WithTx(ctx, &fakeBeginner{tx: tx}, func(DBTX) error { return nil }); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if !tx.committed || tx.rolledBack {
			t.Errorf("expected commit only, got committed=%v rolledBack=%v", tx.committed, tx.rolledBack)
		}
	})

	t.Run("Rolls Back On Error", func(t *testing.T) {
		tx := &fakeTx{}
		boom := errors.New("boom")
		err := WithTx(ctx, &fakeBeginner{tx: tx}, func(DBTX) error { return boom })
		if !errors.Is(err, boom) {
			t.Fatalf("expected boom, got %v", err)
		}
		if tx.committed || !tx.rolledBack {
			t.Errorf("expected rollback only, got committed=%v rolledBack=%v", tx.committed, tx.rolledBack)
		}
	})

	t.Run("Reuses Existing Tx", func(t *testing.T) {
		tx := &fakeTx{}
		var got DBTX
		if err := WithTx(ctx, tx, func(inner DBTX) error { got = inner; return nil }); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if got != DBTX(tx) {
			t.Error("expected fn to run on the existing transaction")
		}
		if tx.committed {
			t.Error("an outer transaction must not be committed by WithTx")
		}
	})
}

func TestSearchRepository_Delete(t *testing.T) {
	ctx := context.Background()

	t.Run("Locks Then Tombstones Then Deletes", func(t *testing.T) {
		tx := &fakeTx{rows: 1}
		repo := NewSearchRepository(&fakeBeginner{tx: tx})

		removed, err := repo.Delete(ctx, "p1", "u1")
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if !removed {
			t.Error("expected the row to be reported removed")
		}
		if len(tx.statements) != 3 {
			t.Fatalf("expected 3 statements, got %d", len(tx.statements))
		}
		if !strings.HasPrefix(tx.statements[0], "SELECT pg_advisory_xact_lock") {
			t.Errorf("expected the post lock first, got %q", tx.statements[0])
		}
		if !strings.HasPrefix(tx.statements[1], "INSERT INTO search_tombstones") ||
			!strings.Contains(tx.statements[1], "ON CONFLICT (post_id, user_id)") {
			t.Errorf("expected an owner-scoped tombstone insert second, got %q", tx.statements[1])
		}
		if !strings.HasPrefix(tx.statements[2], "DELETE FROM search_posts") {
			t.Errorf("expected row delete third, got %q", tx.statements[2])
		}
		if !tx.committed {
			t.Error("expected commit")
		}
	})

	t.Run("No Matching Row", func(t *testing.T) {
		tx := &fakeTx{rows: 0}
		repo := NewSearchRepository(&fakeBeginner{tx: tx})

		removed, err := repo.Delete(ctx, "p1", "u1")
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if removed {
			t.Error("expected nothing to be removed")
		}
		if !tx.committed {
			t.Error("the tombstone must still be committed")
		}
	})

	t.Run("Failure Rolls Back Tombstone", func(t *testing.T) {
		tx := &fakeTx{execErr: errors.New("connection reset"), failAt: 2}
		repo := NewSearchRepository(&fakeBeginner{tx: tx})

		if _, err := repo.Delete(ctx, "p1", "u1"); err == nil {
			t.Fatal("expected an error")
		}
		if !tx.rolledBack {
			t.Error("expected rollback")
		}
	})
}

func TestSearchRepository_Upsert(t *testing.T) {
	ctx := context.Background()
	row := search.Projection{PostID: "p1", UserID: "u1", Content: "hello", CreatedAt: time.Now()}

	t.Run("Takes The Post Lock Before Checking Tombstones", func(t *testing.T) {
		tx := &fakeTx{rows: 1}
		repo := NewSearchRepository(&fakeBeginner{tx: tx})

		stored, err := repo.Upsert(ctx, row)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if !stored {
			t.Error("expected the row to be reported stored")
		}
		if len(tx.statements) != 2 {
			t.Fatalf("expected 2 statements, got %d", len(tx.statements))
		}
		if !strings.HasPrefix(tx.statements[0], "SELECT pg_advisory_xact_lock") {
			t.Errorf("expected the post lock first, got %q", tx.statements[0])
		}
		if !strings.Contains(tx.statements[1], "FROM search_tombstones WHERE post_id = $1::text AND user_id = $2::text") {
			t.Errorf("expected an owner-scoped tombstone guard, got %q", tx.statements[1])
		}
		if !tx.committed {
			t.Error("expected commit")
		}
	})

	t.Run("Tombstoned Post Is Skipped", func(t *testing.T) {
		tx := &fakeTx{rows: 0}
		repo := NewSearchRepository(&fakeBeginner{tx: tx})

		stored, err := repo.Upsert(ctx, row)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if stored {
			t.Error("expected nothing to be stored")
		}
	})

	t.Run("Lock Failure Rolls Back", func(t *testing.T) {
		tx := &fakeTx{execErr: errors.New("connection reset"), failAt: 1}
		repo := NewSearchRepository(&fakeBeginner{tx: tx})

		if _, err := repo.Upsert(ctx, row); err == nil {
			t.Fatal("expected an error")
		}
		if !tx.rolledBack || len(tx.statements) != 1 {
			t.Errorf("expected rollback after the lock, got %d statements", len(tx.statements))
		}
	})
}
