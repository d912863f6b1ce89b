package acquirer

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"golang.org/x/exp/slog"

	"github.com/jonanatree/offlinepay/internal/advice"
	"github.com/jonanatree/offlinepay/models"
)

// API is a HTTP API for the settlement authority
type API struct {
	settlement *Service
	logger     *slog.Logger
}

func NewAPI(settlement *Service) *API {
	return &API{
		settlement: settlement,
		logger:     settlement.logger,
	}
}

// BatchRequest is an upload of ISO 8583 0220 advices from one terminal.
type BatchRequest struct {
	TerminalID string   `json:"terminal_id"`
	Advices    [][]byte `json:"advices"`
}

func (a *API) AppendRoutes(r chi.Router) {
	r.Post("/batches", a.settleBatch)
	r.Route("/settlements", func(r chi.Router) {
		r.Get("/", a.listSettlements)
		r.Route("/{txID}", func(r chi.Router) {
			r.Get("/", a.getSettlement)
			r.Post("/compensate", a.compensate)
		})
	})
}

func (a *API) settleBatch(w http.ResponseWriter, r *http.Request) {
	req := BatchRequest{}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	// an advice that cannot be read settles as a zero-amount transaction, which the
	// service rejects under whatever id could be recovered
	txns := make([]models.Transaction, 0, len(req.Advices))
	for i, raw := range req.Advices {
		txn, err := advice.Decode(raw)
		if err != nil {
			a.logger.Warn("undecodable advice", slog.Int("index", i), slog.String("txn_id", txn.ID), slog.Any("err", err))
			txn = models.Transaction{ID: txn.ID}
		}
		txns = append(txns, txn)
	}

	result, err := a.settlement.SettleTerminalBatch(r.Context(), req.TerminalID, txns)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(result)
}

func (a *API) listSettlements(w http.ResponseWriter, r *http.Request) {
	recs, err := a.settlement.Ledger(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(recs)
}

func (a *API) getSettlement(w http.ResponseWriter, r *http.Request) {
	txID := chi.URLParam(r, "txID")

	rec, err := a.settlement.Get(r.Context(), txID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
		} else {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(rec)
}

func (a *API) compensate(w http.ResponseWriter, r *http.Request) {
	txID := chi.URLParam(r, "txID")

	err := a.settlement.IssueCompensatingTransaction(r.Context(), models.Transaction{ID: txID})
	if err != nil {
		if errors.Is(err, ErrNotSettled) {
			http.Error(w, err.Error(), http.StatusNotFound)
		} else {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
