package acquirer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgconn"
	"github.com/lib/pq"

	"github.com/jonanatree/offlinepay/models"
)

var ErrNotFound = fmt.Errorf("not found")

// Store is the settlement ledger together with its processed-id set. InsertIfAbsent is the
// single atomic test-and-set that prevents a transaction id from being charged twice.
type Store interface {
	// InsertIfAbsent appends rec unless its transaction id is already present, and reports
	// whether this call inserted it.
	InsertIfAbsent(ctx context.Context, rec models.SettlementRecord) (bool, error)
	Get(ctx context.Context, txID string) (models.SettlementRecord, error)
	// List returns the ledger in settlement order.
	List(ctx context.Context) ([]models.SettlementRecord, error)
	// MarkCompensated stamps a settled record as reversed and reports whether this call did it.
	MarkCompensated(ctx context.Context, txID string, at time.Time) (bool, error)
	Ping(ctx context.Context) error
}

// Repository keeps the settlement ledger in memory, or in PostgreSQL when built with
// NewPGRepository.
type Repository struct {
	mu      sync.RWMutex
	records []*models.SettlementRecord
	byID    map[string]*models.SettlementRecord

	db *sql.DB
}

func NewRepository() *Repository {
	return &Repository{
		byID: make(map[string]*models.SettlementRecord),
	}
}

// NewPGRepository constructs a db-backed repository.
func NewPGRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const pgSchema = `
CREATE SCHEMA IF NOT EXISTS acquirer;
CREATE TABLE IF NOT EXISTS acquirer.settlements (
    seq            BIGSERIAL,
    tx_id          TEXT PRIMARY KEY,
    terminal_id    TEXT NOT NULL DEFAULT '',
    pan_hash       BYTEA NOT NULL,
    masked_pan     TEXT NOT NULL,
    amount         BIGINT NOT NULL CHECK (amount > 0),
    context        TEXT NOT NULL DEFAULT '',
    settled_at     TIMESTAMPTZ NOT NULL,
    compensated_at TIMESTAMPTZ
);`

// Migrate creates the settlement schema. It is a no-op for the memory backend.
func (r *Repository) Migrate(ctx context.Context) error {
	if r.db == nil {
		return nil
	}
	if _, err := r.db.ExecContext(ctx, pgSchema); err != nil {
		return fmt.Errorf("migrating settlements: %w", err)
	}
	return nil
}

func (r *Repository) InsertIfAbsent(ctx context.Context, rec models.SettlementRecord) (bool, error) {
	if r.db == nil {
		r.mu.Lock()
		defer r.mu.Unlock()
		if _, ok := r.byID[rec.TransactionID]; ok {
			return false, nil
		}
		stored := rec
		r.byID[rec.TransactionID] = &stored
		r.records = append(r.records, &stored)
		return true, nil
	}
	res, err := r.db.ExecContext(ctx, `
        INSERT INTO acquirer.settlements(tx_id, terminal_id, pan_hash, masked_pan, amount, context, settled_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7)
        ON CONFLICT (tx_id) DO NOTHING
    `, rec.TransactionID, rec.TerminalID, rec.PANHash, rec.CardNumber, rec.Amount, rec.Context, rec.SettledAt)
	if isUniqueViolation(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("inserting settlement %s: %w", rec.TransactionID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *Repository) Get(ctx context.Context, txID string) (models.SettlementRecord, error) {
	if r.db == nil {
		r.mu.RLock()
		defer r.mu.RUnlock()
		rec, ok := r.byID[txID]
		if !ok {
			return models.SettlementRecord{}, ErrNotFound
		}
		return copyRecord(rec), nil
	}
	row := r.db.QueryRowContext(ctx, `
        SELECT tx_id, terminal_id, pan_hash, masked_pan, amount, context, settled_at, compensated_at
        FROM acquirer.settlements WHERE tx_id=$1`, txID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.SettlementRecord{}, ErrNotFound
	}
	if err != nil {
		return models.SettlementRecord{}, fmt.Errorf("reading settlement %s: %w", txID, err)
	}
	return rec, nil
}

func (r *Repository) List(ctx context.Context) ([]models.SettlementRecord, error) {
	if r.db == nil {
		r.mu.RLock()
		defer r.mu.RUnlock()
		out := make([]models.SettlementRecord, 0, len(r.records))
		for _, rec := range r.records {
			out = append(out, copyRecord(rec))
		}
		return out, nil
	}
	rows, err := r.db.QueryContext(ctx, `
        SELECT tx_id, terminal_id, pan_hash, masked_pan, amount, context, settled_at, compensated_at
        FROM acquirer.settlements ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]models.SettlementRecord, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *Repository) MarkCompensated(ctx context.Context, txID string, at time.Time) (bool, error) {
	if r.db == nil {
		r.mu.Lock()
		defer r.mu.Unlock()
		rec, ok := r.byID[txID]
		if !ok {
			return false, ErrNotFound
		}
		if rec.CompensatedAt != nil {
			return false, nil
		}
		stamp := at
		rec.CompensatedAt = &stamp
		return true, nil
	}
	res, err := r.db.ExecContext(ctx, `
        UPDATE acquirer.settlements SET compensated_at=$2
        WHERE tx_id=$1 AND compensated_at IS NULL`, txID, at)
	if err != nil {
		return false, fmt.Errorf("marking %s compensated: %w", txID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		// either unknown or already compensated
		if _, err := r.Get(ctx, txID); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

// Ping returns DB readiness
func (r *Repository) Ping(ctx context.Context) error {
	if r.db == nil {
		return nil
	}
	return r.db.PingContext(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(s rowScanner) (models.SettlementRecord, error) {
	var rec models.SettlementRecord
	var compensatedAt sql.NullTime
	if err := s.Scan(&rec.TransactionID, &rec.TerminalID, &rec.PANHash, &rec.CardNumber,
		&rec.Amount, &rec.Context, &rec.SettledAt, &compensatedAt); err != nil {
		return models.SettlementRecord{}, err
	}
	if compensatedAt.Valid {
		t := compensatedAt.Time
		rec.CompensatedAt = &t
	}
	return rec, nil
}

func copyRecord(rec *models.SettlementRecord) models.SettlementRecord {
	out := *rec
	if rec.CompensatedAt != nil {
		t := *rec.CompensatedAt
		out.CompensatedAt = &t
	}
	return out
}

func isUniqueViolation(err error) bool {
	var pe *pq.Error
	if errors.As(err, &pe) && pe.Code == "23505" {
		return true
	}
	var pgerr *pgconn.PgError
	if errors.As(err, &pgerr) && pgerr.Code == "23505" {
		return true
	}
	return false
}
