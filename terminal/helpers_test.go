package terminal_test

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"

	"github.com/jonanatree/offlinepay/models"
	"github.com/jonanatree/offlinepay/terminal"
)

var (
	start      = time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC)
	visa       = "4111111111111111"
	mastercard = "5500000000000004"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard))
}

// stubCard is a card whose offline capability is set by the test.
type stubCard struct {
	number  string
	offline bool

	mu      sync.Mutex
	counter int
}

func newCard(number string) *stubCard {
	return &stubCard{number: number, offline: true}
}

func (c *stubCard) Number() string           { return c.number }
func (c *stubCard) CanTransactOffline() bool { return c.offline }
func (c *stubCard) IncrementCounter() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counter++
}
func (c *stubCard) Counter() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counter
}

// ledgers returns every ledger backend so behaviour is checked against both.
func ledgers(t *testing.T) map[string]func() *terminal.Repository {
	return map[string]func() *terminal.Repository{
		"memory": terminal.NewRepository,
		"sqlite": func() *terminal.Repository {
			repo, err := terminal.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "ledger.db"))
			require.NoError(t, err)
			t.Cleanup(func() { repo.Close() })
			return repo
		},
	}
}

// flakyLedger fails Put while fail is set.
type flakyLedger struct {
	terminal.Ledger
	fail bool
}

var errDiskFull = errors.New("disk full")

func (l *flakyLedger) Put(ctx context.Context, txn models.Transaction) error {
	if l.fail {
		return errDiskFull
	}
	return l.Ledger.Put(ctx, txn)
}

// recordingAuthority captures every batch and answers with a fixed outcome per id,
// defaulting to SETTLED.
type recordingAuthority struct {
	mu       sync.Mutex
	batches  [][]models.Transaction
	outcomes map[string]models.Outcome
	omit     map[string]bool
	err      error
}

func (a *recordingAuthority) SettleBatch(ctx context.Context, txns []models.Transaction) (models.BatchResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.batches = append(a.batches, txns)
	if a.err != nil {
		return models.BatchResult{}, a.err
	}
	var result models.BatchResult
	for _, txn := range txns {
		if a.omit[txn.ID] {
			continue
		}
		outcome, ok := a.outcomes[txn.ID]
		if !ok {
			outcome = models.OutcomeSettled
		}
		result.Add(txn.ID, outcome)
	}
	return result, nil
}

func (a *recordingAuthority) calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.batches)
}

func approvedTxn(id string, createdAt time.Time, amount int64) models.Transaction {
	return models.Transaction{
		ID:         id,
		CardNumber: visa,
		Amount:     amount,
		CreatedAt:  createdAt,
		UpdatedAt:  createdAt,
		Status:     models.TransactionStatusApproved,
	}
}
