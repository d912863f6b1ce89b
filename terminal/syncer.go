package terminal

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/exp/slog"

	"github.com/jonanatree/offlinepay/internal/clock"
	"github.com/jonanatree/offlinepay/models"
)

var ErrAuthorityUnavailable = errors.New("settlement authority unavailable")

// SettlementAuthority settles a batch of transactions and reports an outcome per id.
// Implementations must be idempotent on transaction id.
type SettlementAuthority interface {
	SettleBatch(ctx context.Context, txns []models.Transaction) (models.BatchResult, error)
}

// Syncer flushes approved offline transactions to the settlement authority once the
// terminal is back online.
type Syncer struct {
	cfg    models.TerminalConfig
	ledger Ledger
	clock  clock.Clock
	logger *slog.Logger

	mu sync.Mutex
}

func NewSyncer(logger *slog.Logger, cfg models.TerminalConfig, ledger Ledger, clk clock.Clock) *Syncer {
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &Syncer{
		cfg:    cfg,
		ledger: ledger,
		clock:  clk,
		logger: logger.With(slog.String("terminal", cfg.TerminalID), slog.String("component", "sync")),
	}
}

// SyncPending syncs every transaction currently approved in the ledger.
func (s *Syncer) SyncPending(ctx context.Context, authority SettlementAuthority) (models.SyncResult, error) {
	pending, err := s.ledger.ListByStatus(ctx, models.TransactionStatusApproved)
	if err != nil {
		return models.SyncResult{}, fmt.Errorf("listing pending transactions: %w", err)
	}
	return s.Sync(ctx, pending, authority)
}

// Sync declines candidates older than the TTL, sends the rest to the authority in a single
// batch and marks settled only the ids the authority confirmed. If the authority call fails
// nothing but the expiries is recorded and the whole sync can be retried.
func (s *Syncer) Sync(ctx context.Context, candidates []models.Transaction, authority SettlementAuthority) (models.SyncResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result models.SyncResult
	now := s.clock.Now()

	batch := make([]models.Transaction, 0, len(candidates))
	for _, txn := range candidates {
		if txn.Status != models.TransactionStatusApproved {
			continue
		}
		if txn.Age(now) <= s.cfg.TTL {
			batch = append(batch, txn)
			continue
		}
		_, err := s.ledger.Transition(ctx, txn.ID, models.TransactionStatusDeclined, models.DeclineReasonExpired, now)
		if errors.Is(err, models.ErrIllegalTransition) {
			s.logger.Info("skipping transaction that already left APPROVED", slog.String("txn_id", txn.ID))
			continue
		}
		if err != nil {
			return result, fmt.Errorf("expiring transaction %s: %w", txn.ID, err)
		}
		s.logger.Info("offline approval expired before sync",
			slog.String("txn_id", txn.ID), slog.Duration("age", txn.Age(now)))
		result.Expired++
	}

	if len(batch) == 0 {
		return result, nil
	}

	br, err := authority.SettleBatch(ctx, batch)
	if err != nil {
		s.logger.Error("settling batch", slog.Int("size", len(batch)), slog.Any("err", err))
		return result, fmt.Errorf("settling batch: %w: %w", ErrAuthorityUnavailable, err)
	}
	result.Settled = br.Settled
	result.Duplicates = br.Duplicates
	result.Rejected = br.Rejected

	outcomes := br.Outcomes()
	settledAt := s.clock.Now()
	var errs []error
	for _, txn := range batch {
		outcome, ok := outcomes[txn.ID]
		switch {
		case !ok:
			s.logger.Warn("no outcome for transaction; left pending", slog.String("txn_id", txn.ID))
		case outcome == models.OutcomeSettled || outcome == models.OutcomeDuplicate:
			// a duplicate means the authority settled this id on an earlier attempt
			_, err := s.ledger.Transition(ctx, txn.ID, models.TransactionStatusSettled, models.DeclineReasonNone, settledAt)
			if err != nil && !errors.Is(err, models.ErrIllegalTransition) {
				errs = append(errs, fmt.Errorf("marking %s settled: %w", txn.ID, err))
			}
		case outcome == models.OutcomeRejected:
			s.logger.Warn("settlement rejected; left pending for escalation", slog.String("txn_id", txn.ID))
		}
	}

	s.logger.Info("sync complete",
		slog.Int("settled", result.Settled),
		slog.Int("duplicates", result.Duplicates),
		slog.Int("rejected", result.Rejected),
		slog.Int("expired", result.Expired),
	)
	return result, errors.Join(errs...)
}
