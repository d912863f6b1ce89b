package models

import (
	"errors"
	"fmt"
	"time"
)

var ErrIllegalTransition = errors.New("illegal status transition")

type TransactionStatus string

const (
	// TransactionStatusEvaluating is held only while the risk pipeline runs; it is never persisted.
	TransactionStatusEvaluating TransactionStatus = "EVALUATING"
	TransactionStatusApproved   TransactionStatus = "APPROVED"
	TransactionStatusDeclined   TransactionStatus = "DECLINED"
	TransactionStatusSettled    TransactionStatus = "SETTLED"
)

var transitions = map[TransactionStatus][]TransactionStatus{
	TransactionStatusEvaluating: {TransactionStatusApproved, TransactionStatusDeclined},
	TransactionStatusApproved:   {TransactionStatusSettled, TransactionStatusDeclined},
}

// CanTransitionTo reports whether the state machine allows moving from s to next.
func (s TransactionStatus) CanTransitionTo(next TransactionStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s TransactionStatus) Terminal() bool {
	return s == TransactionStatusDeclined || s == TransactionStatusSettled
}

func (s TransactionStatus) Valid() bool {
	switch s {
	case TransactionStatusEvaluating, TransactionStatusApproved, TransactionStatusDeclined, TransactionStatusSettled:
		return true
	}
	return false
}

type DeclineReason string

const (
	DeclineReasonNone               DeclineReason = ""
	DeclineReasonBlacklisted        DeclineReason = "blacklisted"
	DeclineReasonVelocityExceeded   DeclineReason = "velocity_exceeded"
	DeclineReasonOfflineNotAllowed  DeclineReason = "offline_not_allowed"
	DeclineReasonFloorLimitExceeded DeclineReason = "floor_limit_exceeded"
	// DeclineReasonExpired marks an approval that outlived the terminal TTL before it was synced.
	DeclineReasonExpired DeclineReason = "expired"
)

// Transaction is a single offline payment attempt. ID, CardNumber and Amount never change
// after creation; Status only moves forward through Transition.
type Transaction struct {
	ID            string            `json:"id"`
	CardNumber    string            `json:"card_number"`
	Amount        int64             `json:"amount"`
	CreatedAt     time.Time         `json:"created_at"`
	Context       string            `json:"context,omitempty"`
	Status        TransactionStatus `json:"status"`
	DeclineReason DeclineReason     `json:"decline_reason,omitempty"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// Transition moves the transaction to the next status. Declines must carry a reason.
func (t *Transaction) Transition(next TransactionStatus, reason DeclineReason, at time.Time) error {
	if !t.Status.CanTransitionTo(next) {
		return fmt.Errorf("%s -> %s: %w", t.Status, next, ErrIllegalTransition)
	}
	if next == TransactionStatusDeclined && reason == DeclineReasonNone {
		return fmt.Errorf("decline without reason: %w", ErrIllegalTransition)
	}
	if next != TransactionStatusDeclined {
		reason = DeclineReasonNone
	}
	t.Status = next
	t.DeclineReason = reason
	t.UpdatedAt = at
	return nil
}

// Age returns how long the transaction has existed at now.
func (t Transaction) Age(now time.Time) time.Duration {
	return now.Sub(t.CreatedAt)
}
