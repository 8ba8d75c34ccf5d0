package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
)

// fakeTx embeds pgx.Tx so only the methods InTx calls need bodies.
type fakeTx struct {
	pgx.Tx
	committed  bool
	rolledBack bool
	commitErr  error
}

func (f *fakeTx) Commit(context.Context) error {
	if f.commitErr != nil {
		return f.commitErr
	}
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(context.Context) error {
	if !f.committed {
		f.rolledBack = true
	}
	return nil
}

type fakeBeginner struct {
	tx    *fakeTx
	err   error
	calls int
}

func (b *fakeBeginner) Begin(context.Context) (pgx.Tx, error) {
	b.calls++
	if b.err != nil {
		return nil, b.err
	}
	return b.tx, nil
}

func TestTxFromContext_Nil(t *testing.T) {
	if tx := TxFromContext(context.Background()); tx != nil {
		t.Error("expected nil tx from empty context")
	}
}

func TestTxFromContext_WithWrongType(t *testing.T) {
	ctx := context.WithValue(context.Background(), DBTxKey, "not-a-tx")
	if tx := TxFromContext(ctx); tx != nil {
		t.Error("expected nil when context value is wrong type")
	}
}

func TestConnFromContext_WithWrongType(t *testing.T) {
	ctx := context.WithValue(context.Background(), DBConnKey, "not-a-conn")
	if conn := ConnFromContext(ctx); conn != nil {
		t.Error("expected nil when context value is wrong type")
	}
}

func TestWithTx_NoConnection(t *testing.T) {
	_, _, err := WithTx(context.Background())
	if err == nil || err.Error() != "no database connection in context" {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestInTx_Commits(t *testing.T) {
	b := &fakeBeginner{tx: &fakeTx{}}
	var seen pgx.Tx
	err := NewTxRunner(b).InTx(context.Background(), func(ctx context.Context) error {
		seen = TxFromContext(ctx)
		return nil
	})
	if err != nil {
		t.Fatalf("InTx() error: %v", err)
	}
	if seen != b.tx {
		t.Error("fn must see the transaction in its context")
	}
	if !b.tx.committed || b.tx.rolledBack {
		t.Errorf("expected commit without rollback, got %+v", b.tx)
	}
}

func TestInTx_RollsBackOnError(t *testing.T) {
	b := &fakeBeginner{tx: &fakeTx{}}
	want := errors.New("boom")
	err := NewTxRunner(b).InTx(context.Background(), func(context.Context) error { return want })
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
	if b.tx.committed || !b.tx.rolledBack {
		t.Errorf("expected rollback, got %+v", b.tx)
	}
}

func TestInTx_CommitError(t *testing.T) {
	b := &fakeBeginner{tx: &fakeTx{commitErr: errors.New("serialization failure")}}
	err := NewTxRunner(b).InTx(context.Background(), func(context.Context) error { return nil })
	if err == nil {
		t.Fatal("expected commit error")
	}
}

func TestInTx_BeginError(t *testing.T) {
	b := &fakeBeginner{err: errors.New("pool closed")}
	called := false
	err := NewTxRunner(b).InTx(context.Background(), func(context.Context) error {
		called = true
		return nil
	})
	if err == nil || called {
		t.Errorf("expected begin error and fn not called, err=%v called=%v", err, called)
	}
}

func TestInTx_JoinsExisting(t *testing.T) {
	outer := &fakeTx{}
	b := &fakeBeginner{tx: &fakeTx{}}
	ctx := ContextWithTx(context.Background(), outer)

	err := NewTxRunner(b).InTx(ctx, func(ctx context.Context) error {
		if TxFromContext(ctx) != outer {
			t.Error("expected outer transaction")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("InTx() error: %v", err)
	}
	if b.calls != 0 {
		t.Errorf("expected no new transaction, got %d Begin calls", b.calls)
	}
	if outer.committed {
		t.Error("joined transaction must be committed by its owner")
	}
}
