package acquirer

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/exp/slog"

	"github.com/jonanatree/offlinepay/internal/cardgen"
	"github.com/jonanatree/offlinepay/internal/clock"
	"github.com/jonanatree/offlinepay/models"
)

var ErrNotSettled = errors.New("transaction not settled")

// Compensator reverses a settled charge with the issuing bank. Implementations must be
// idempotent on transaction id.
type Compensator interface {
	Reverse(ctx context.Context, rec models.SettlementRecord) error
}

// LogCompensator only records that a reversal was requested.
type LogCompensator struct {
	Logger *slog.Logger
}

func (c LogCompensator) Reverse(ctx context.Context, rec models.SettlementRecord) error {
	c.Logger.Warn("compensating transaction requested",
		slog.String("txn_id", rec.TransactionID),
		slog.String("card", rec.CardNumber),
		slog.Int64("amount", rec.Amount),
	)
	return nil
}

// Service is the settlement authority: the source of truth for whether a transaction id
// has been charged.
type Service struct {
	repo        Store
	clock       clock.Clock
	logger      *slog.Logger
	compensator Compensator
	hashKey     []byte
}

type Option func(*Service)

func WithClock(clk clock.Clock) Option {
	return func(s *Service) {
		if clk != nil {
			s.clock = clk
		}
	}
}

func WithCompensator(c Compensator) Option {
	return func(s *Service) {
		if c != nil {
			s.compensator = c
		}
	}
}

func NewService(logger *slog.Logger, repo Store, cfg *Config, opts ...Option) *Service {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	logger = logger.With(slog.String("component", "settlement"))
	svc := &Service{
		repo:        repo,
		clock:       clock.NewSystem(),
		logger:      logger,
		compensator: LogCompensator{Logger: logger},
		hashKey:     []byte(cfg.PANHashKey),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// SettleBatch settles transactions submitted without a terminal id.
func (s *Service) SettleBatch(ctx context.Context, txns []models.Transaction) (models.BatchResult, error) {
	return s.SettleTerminalBatch(ctx, "", txns)
}

// SettleTerminalBatch settles each transaction at most once. Non-positive amounts are
// rejected without touching the processed set; an id already processed is reported as a
// duplicate. A store failure fails the whole batch; transactions settled before the failure
// stay settled and come back as duplicates when the batch is retried.
func (s *Service) SettleTerminalBatch(ctx context.Context, terminalID string, txns []models.Transaction) (models.BatchResult, error) {
	var result models.BatchResult
	now := s.clock.Now()

	for _, txn := range txns {
		if txn.ID == "" || txn.Amount <= 0 {
			result.Add(txn.ID, models.OutcomeRejected)
			continue
		}

		rec := models.SettlementRecord{
			TransactionID: txn.ID,
			TerminalID:    terminalID,
			CardNumber:    cardgen.MaskPAN(txn.CardNumber),
			PANHash:       cardgen.HashPANHMAC(txn.CardNumber, s.hashKey),
			Amount:        txn.Amount,
			Context:       txn.Context,
			SettledAt:     now.UTC(),
		}
		inserted, err := s.repo.InsertIfAbsent(ctx, rec)
		if err != nil {
			s.logger.Error("settling transaction", slog.String("txn_id", txn.ID), slog.Any("err", err))
			return models.BatchResult{}, fmt.Errorf("settling %s: %w", txn.ID, err)
		}
		if !inserted {
			result.Add(txn.ID, models.OutcomeDuplicate)
			continue
		}
		result.Add(txn.ID, models.OutcomeSettled)
	}

	s.logger.Info("batch settled",
		slog.String("terminal", terminalID),
		slog.Int("size", len(txns)),
		slog.Int("settled", result.Settled),
		slog.Int("duplicates", result.Duplicates),
		slog.Int("rejected", result.Rejected),
	)
	return result, nil
}

// IssueCompensatingTransaction reverses a settled transaction found to be invalid after the
// fact. Reversing the same transaction again is a no-op.
func (s *Service) IssueCompensatingTransaction(ctx context.Context, txn models.Transaction) error {
	rec, err := s.repo.Get(ctx, txn.ID)
	if errors.Is(err, ErrNotFound) {
		return fmt.Errorf("compensating %s: %w", txn.ID, ErrNotSettled)
	}
	if err != nil {
		return fmt.Errorf("finding settlement: %w", err)
	}
	if rec.CompensatedAt != nil {
		return nil
	}

	if err := s.compensator.Reverse(ctx, rec); err != nil {
		return fmt.Errorf("reversing %s: %w", txn.ID, err)
	}
	marked, err := s.repo.MarkCompensated(ctx, txn.ID, s.clock.Now().UTC())
	if err != nil {
		return fmt.Errorf("marking %s compensated: %w", txn.ID, err)
	}
	if marked {
		s.logger.Info("settlement compensated", slog.String("txn_id", txn.ID))
	}
	return nil
}

func (s *Service) Get(ctx context.Context, txID string) (models.SettlementRecord, error) {
	rec, err := s.repo.Get(ctx, txID)
	if err != nil {
		return models.SettlementRecord{}, fmt.Errorf("finding settlement: %w", err)
	}
	return rec, nil
}

// Ledger lists every settlement in the order it was made.
func (s *Service) Ledger(ctx context.Context) ([]models.SettlementRecord, error) {
	recs, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing settlements: %w", err)
	}
	return recs, nil
}
