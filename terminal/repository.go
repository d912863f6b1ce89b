package terminal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jonanatree/offlinepay/models"

	_ "modernc.org/sqlite"
)

var (
	ErrNotFound = fmt.Errorf("not found")
	ErrConflict = fmt.Errorf("conflict")
)

// Ledger is the terminal's durable record of offline transactions.
type Ledger interface {
	Get(ctx context.Context, id string) (models.Transaction, error)
	// Put appends a new transaction. An id is never reused: putting an existing id fails with ErrConflict.
	Put(ctx context.Context, txn models.Transaction) error
	// Transition moves a stored transaction forward through the status machine and returns
	// the updated record. A transition the current status does not allow fails with
	// models.ErrIllegalTransition.
	Transition(ctx context.Context, id string, next models.TransactionStatus, reason models.DeclineReason, at time.Time) (models.Transaction, error)
	ListByStatus(ctx context.Context, status models.TransactionStatus) ([]models.Transaction, error)
}

// Repository is the local ledger. It keeps transactions in memory unless it was built with
// NewSQLiteRepository, in which case every call goes to the SQLite database on the terminal.
type Repository struct {
	mu    sync.RWMutex
	txns  map[string]*models.Transaction
	order []string

	db *sql.DB
}

func NewRepository() *Repository {
	return &Repository{
		txns: make(map[string]*models.Transaction),
	}
}

// NewSQLiteRepository constructs a db-backed ledger and creates its schema when missing.
func NewSQLiteRepository(ctx context.Context, db *sql.DB) (*Repository, error) {
	r := &Repository{db: db}
	if err := r.migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrating ledger: %w", err)
	}
	return r, nil
}

// OpenSQLite opens (or creates) the ledger database file at path.
func OpenSQLite(ctx context.Context, path string) (*Repository, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// a single connection serializes writers and keeps :memory: databases shared
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return NewSQLiteRepository(ctx, db)
}

func (r *Repository) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS transactions (
			id             TEXT PRIMARY KEY,
			card_number    TEXT NOT NULL,
			amount         INTEGER NOT NULL,
			created_at     INTEGER NOT NULL,
			context        TEXT NOT NULL DEFAULT '',
			status         TEXT NOT NULL,
			decline_reason TEXT NOT NULL DEFAULT '',
			updated_at     INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS transactions_status_idx ON transactions(status, created_at)`,
	}
	for _, stmt := range stmts {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repository) Get(ctx context.Context, id string) (models.Transaction, error) {
	if r.db == nil {
		r.mu.RLock()
		defer r.mu.RUnlock()
		t, ok := r.txns[id]
		if !ok {
			return models.Transaction{}, ErrNotFound
		}
		return *t, nil
	}
	row := r.db.QueryRowContext(ctx, `
		SELECT id, card_number, amount, created_at, context, status, decline_reason, updated_at
		FROM transactions WHERE id = ?`, id)
	t, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Transaction{}, ErrNotFound
	}
	return t, err
}

func (r *Repository) Put(ctx context.Context, txn models.Transaction) error {
	if txn.Status == models.TransactionStatusEvaluating || !txn.Status.Valid() {
		return fmt.Errorf("cannot persist transaction in status %q", txn.Status)
	}
	if r.db == nil {
		r.mu.Lock()
		defer r.mu.Unlock()
		if _, ok := r.txns[txn.ID]; ok {
			return fmt.Errorf("transaction %s exists: %w", txn.ID, ErrConflict)
		}
		t := txn
		r.txns[txn.ID] = &t
		r.order = append(r.order, txn.ID)
		return nil
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO transactions (id, card_number, amount, created_at, context, status, decline_reason, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		txn.ID, txn.CardNumber, txn.Amount, txn.CreatedAt.UnixNano(), txn.Context,
		string(txn.Status), string(txn.DeclineReason), txn.UpdatedAt.UnixNano())
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("transaction %s exists: %w", txn.ID, ErrConflict)
	}
	return nil
}

func (r *Repository) Transition(ctx context.Context, id string, next models.TransactionStatus, reason models.DeclineReason, at time.Time) (models.Transaction, error) {
	if r.db == nil {
		r.mu.Lock()
		defer r.mu.Unlock()
		t, ok := r.txns[id]
		if !ok {
			return models.Transaction{}, ErrNotFound
		}
		updated := *t
		if err := updated.Transition(next, reason, at); err != nil {
			return models.Transaction{}, err
		}
		*t = updated
		return updated, nil
	}

	current, err := r.Get(ctx, id)
	if err != nil {
		return models.Transaction{}, err
	}
	updated := current
	if err := updated.Transition(next, reason, at); err != nil {
		return models.Transaction{}, err
	}
	// compare-and-set on the status we validated against
	res, err := r.db.ExecContext(ctx, `
		UPDATE transactions SET status = ?, decline_reason = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(updated.Status), string(updated.DeclineReason), updated.UpdatedAt.UnixNano(),
		id, string(current.Status))
	if err != nil {
		return models.Transaction{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.Transaction{}, fmt.Errorf("transaction %s moved concurrently: %w", id, models.ErrIllegalTransition)
	}
	return updated, nil
}

// ListByStatus returns the matching transactions oldest first.
func (r *Repository) ListByStatus(ctx context.Context, status models.TransactionStatus) ([]models.Transaction, error) {
	if r.db == nil {
		r.mu.RLock()
		defer r.mu.RUnlock()
		var out []models.Transaction
		for _, id := range r.order {
			if t := r.txns[id]; t.Status == status {
				out = append(out, *t)
			}
		}
		sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
		return out, nil
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, card_number, amount, created_at, context, status, decline_reason, updated_at
		FROM transactions WHERE status = ? ORDER BY created_at, rowid`, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Ping returns DB readiness
func (r *Repository) Ping(ctx context.Context) error {
	if r.db == nil {
		return nil
	}
	return r.db.PingContext(ctx)
}

func (r *Repository) Close() error {
	if r.db == nil {
		return nil
	}
	return r.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTransaction(s scanner) (models.Transaction, error) {
	var t models.Transaction
	var status, reason string
	var createdAt, updatedAt int64
	if err := s.Scan(&t.ID, &t.CardNumber, &t.Amount, &createdAt, &t.Context, &status, &reason, &updatedAt); err != nil {
		return models.Transaction{}, err
	}
	t.Status = models.TransactionStatus(status)
	t.DeclineReason = models.DeclineReason(reason)
	t.CreatedAt = time.Unix(0, createdAt).UTC()
	t.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return t, nil
}
