package terminal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/exp/slog"

	"github.com/jonanatree/offlinepay/internal/cardgen"
	"github.com/jonanatree/offlinepay/internal/clock"
	"github.com/jonanatree/offlinepay/internal/velocity"
	"github.com/jonanatree/offlinepay/models"
)

// Authorizer makes offline approval decisions for a single terminal. Calls to Authorize are
// serialized; any number of terminals may run independently.
type Authorizer struct {
	cfg     models.TerminalConfig
	ledger  Ledger
	clock   clock.Clock
	logger  *slog.Logger
	tracker *velocity.Tracker

	mu sync.Mutex
}

func NewAuthorizer(logger *slog.Logger, cfg models.TerminalConfig, ledger Ledger, clk clock.Clock) (*Authorizer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid terminal config: %w", err)
	}
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &Authorizer{
		cfg:     cfg,
		ledger:  ledger,
		clock:   clk,
		logger:  logger.With(slog.String("terminal", cfg.TerminalID)),
		tracker: velocity.NewTracker(cfg.VelocityLimit, cfg.VelocityWindow),
	}, nil
}

// Authorize runs the risk checks for one payment and returns the decided transaction.
// A decline is a normal result; the only error is a failure to record an approval, after
// which the attempt leaves no trace and may be retried.
func (a *Authorizer) Authorize(ctx context.Context, card models.Card, amount int64, txnContext string) (models.Transaction, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.clock.Now()
	txn := models.Transaction{
		ID:         uuid.New().String(),
		CardNumber: card.Number(),
		Amount:     amount,
		CreatedAt:  now,
		UpdatedAt:  now,
		Context:    txnContext,
		Status:     models.TransactionStatusEvaluating,
	}
	logger := a.logger.With(
		slog.String("txn_id", txn.ID),
		slog.String("card", cardgen.MaskPAN(txn.CardNumber)),
		slog.Int64("amount", amount),
	)

	if reason := a.evaluate(card, amount, now); reason != models.DeclineReasonNone {
		if err := txn.Transition(models.TransactionStatusDeclined, reason, now); err != nil {
			return models.Transaction{}, err
		}
		logger.Info("offline authorization declined",
			slog.String("reason", string(reason)),
			slog.Int("recent_attempts", a.tracker.Count(velocityKey(txn.CardNumber), now)),
		)
		return txn, nil
	}

	if err := txn.Transition(models.TransactionStatusApproved, models.DeclineReasonNone, now); err != nil {
		return models.Transaction{}, err
	}
	if err := a.ledger.Put(ctx, txn); err != nil {
		a.tracker.Forget(velocityKey(txn.CardNumber), now)
		logger.Error("recording approval", slog.Any("err", err))
		return models.Transaction{}, fmt.Errorf("appending transaction: %w", err)
	}
	card.IncrementCounter()

	logger.Info("offline authorization approved")
	return txn, nil
}

// evaluate applies the checks cheapest and most certain first and stops at the first failure.
func (a *Authorizer) evaluate(card models.Card, amount int64, now time.Time) models.DeclineReason {
	number := card.Number()
	if a.cfg.Blacklisted(number) {
		return models.DeclineReasonBlacklisted
	}
	if !a.tracker.Allow(velocityKey(number), now) {
		return models.DeclineReasonVelocityExceeded
	}
	if !card.CanTransactOffline() {
		return models.DeclineReasonOfflineNotAllowed
	}
	if amount > a.cfg.FloorLimit {
		return models.DeclineReasonFloorLimitExceeded
	}
	return models.DeclineReasonNone
}

// Pending returns the approved transactions that have not been settled yet.
func (a *Authorizer) Pending(ctx context.Context) ([]models.Transaction, error) {
	txns, err := a.ledger.ListByStatus(ctx, models.TransactionStatusApproved)
	if err != nil {
		return nil, fmt.Errorf("listing pending transactions: %w", err)
	}
	return txns, nil
}

func velocityKey(cardNumber string) string {
	return cardgen.NormalizePAN(cardNumber)
}
