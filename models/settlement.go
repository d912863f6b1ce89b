package models

import "time"

type Outcome string

const (
	OutcomeSettled   Outcome = "SETTLED"
	OutcomeDuplicate Outcome = "DUPLICATE"
	OutcomeRejected  Outcome = "REJECTED"
)

// SettlementRecord is the acquirer's proof that a transaction id has been charged.
type SettlementRecord struct {
	TransactionID string     `json:"transaction_id"`
	TerminalID    string     `json:"terminal_id,omitempty"`
	// CardNumber is masked; PANHash identifies the card without storing it.
	CardNumber    string     `json:"card_number"`
	PANHash       []byte     `json:"pan_hash,omitempty"`
	Amount        int64      `json:"amount"`
	Context       string     `json:"context,omitempty"`
	SettledAt     time.Time  `json:"settled_at"`
	CompensatedAt *time.Time `json:"compensated_at,omitempty"`
}

type BatchItem struct {
	ID      string  `json:"id"`
	Outcome Outcome `json:"outcome"`
}

// BatchResult carries one outcome per submitted transaction, in submission order, plus the
// aggregate counts derived from them.
type BatchResult struct {
	Items      []BatchItem `json:"results"`
	Settled    int         `json:"settled"`
	Duplicates int         `json:"duplicates"`
	Rejected   int         `json:"rejected"`
}

// Add records an outcome and updates the counts.
func (r *BatchResult) Add(id string, outcome Outcome) {
	r.Items = append(r.Items, BatchItem{ID: id, Outcome: outcome})
	switch outcome {
	case OutcomeSettled:
		r.Settled++
	case OutcomeDuplicate:
		r.Duplicates++
	case OutcomeRejected:
		r.Rejected++
	}
}

// Outcomes maps each id to its outcome. When an id appears more than once in a batch the
// first outcome is kept, so a settlement is never hidden by its own duplicate.
func (r BatchResult) Outcomes() map[string]Outcome {
	out := make(map[string]Outcome, len(r.Items))
	for _, item := range r.Items {
		if _, ok := out[item.ID]; !ok {
			out[item.ID] = item.Outcome
		}
	}
	return out
}

type SyncResult struct {
	Settled    int `json:"settled"`
	Duplicates int `json:"duplicates"`
	Rejected   int `json:"rejected"`
	Expired    int `json:"expired"`
}
