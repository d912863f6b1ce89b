package acquirerclient_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"

	"github.com/jonanatree/offlinepay/acquirer"
	"github.com/jonanatree/offlinepay/internal/acquirerclient"
	"github.com/jonanatree/offlinepay/internal/advice"
	"github.com/jonanatree/offlinepay/internal/clock"
	"github.com/jonanatree/offlinepay/models"
	"github.com/jonanatree/offlinepay/terminal"
)

func newAcquirer(t *testing.T) (*acquirer.Service, *httptest.Server) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard))
	svc := acquirer.NewService(logger, acquirer.NewRepository(), nil)

	router := chi.NewRouter()
	acquirer.NewAPI(svc).AppendRoutes(router)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return svc, srv
}

func TestClient_SettleBatch(t *testing.T) {
	_, srv := newAcquirer(t)
	client := acquirerclient.New(srv.URL+"/", "T-1", nil)

	txns := []models.Transaction{
		{ID: "t1", CardNumber: "4111111111111111", Amount: 10, Status: models.TransactionStatusApproved},
		{ID: "t2", CardNumber: "4111111111111111", Amount: 0, Status: models.TransactionStatusApproved},
	}
	result, err := client.SettleBatch(context.Background(), txns)
	require.NoError(t, err)
	require.Equal(t, 1, result.Settled)
	require.Equal(t, 1, result.Rejected)

	result, err = client.SettleBatch(context.Background(), txns[:1])
	require.NoError(t, err)
	require.Equal(t, models.OutcomeDuplicate, result.Outcomes()["t1"])
}

func TestClient_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "ledger unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := acquirerclient.New(srv.URL, "T-1", nil)
	_, err := client.SettleBatch(context.Background(), []models.Transaction{{ID: "t1", CardNumber: "4111111111111111", Amount: 10}})
	require.ErrorContains(t, err, "status=503")
	require.ErrorContains(t, err, "ledger unavailable")
}

func TestClient_Unreachable(t *testing.T) {
	_, srv := newAcquirer(t)
	url := srv.URL
	srv.Close()

	client := acquirerclient.New(url, "T-1", &http.Client{Timeout: time.Second})
	_, err := client.SettleBatch(context.Background(), []models.Transaction{{ID: "t1", CardNumber: "4111111111111111", Amount: 10}})
	require.Error(t, err)
}

// The terminal flushes its ledger over HTTP and a second flush after the
// authority comes back finds nothing left to send.
func TestClient_TerminalSync(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard))
	now := time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC)
	clk := clock.NewManual(now)

	cfg := models.NewTerminalConfig("T-1", 100, 5, time.Minute, 48*time.Hour, nil)
	ledger := terminal.NewRepository()
	authorizer, err := terminal.NewAuthorizer(logger, cfg, ledger, clk)
	require.NoError(t, err)

	card := models.NewChipCard("4111111111111111", "9912", 10)
	for _, amount := range []int64{10, 20, 30} {
		txn, err := authorizer.Authorize(ctx, card, amount, "bus 42")
		require.NoError(t, err)
		require.Equal(t, models.TransactionStatusApproved, txn.Status)
	}

	svc, srv := newAcquirer(t)
	syncer := terminal.NewSyncer(logger, cfg, ledger, clk)
	client := acquirerclient.New(srv.URL, cfg.TerminalID, nil)

	clk.Advance(time.Hour)
	result, err := syncer.SyncPending(ctx, client)
	require.NoError(t, err)
	require.Equal(t, models.SyncResult{Settled: 3}, result)

	result, err = syncer.SyncPending(ctx, client)
	require.NoError(t, err)
	require.Equal(t, models.SyncResult{}, result)

	recs, err := svc.Ledger(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	for _, rec := range recs {
		require.Equal(t, "T-1", rec.TerminalID)
		require.Equal(t, "bus 42", rec.Context)
	}
}

// One transaction the acquirer refuses, or that cannot travel as an advice at all, must not
// hold up the rest of the ledger.
func TestClient_TerminalSync_PartialBatch(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard))
	clk := clock.NewManual(time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC))

	cfg := models.NewTerminalConfig("T-1", 10*advice.MaxAmount, 10, time.Minute, 48*time.Hour, nil)
	ledger := terminal.NewRepository()
	authorizer, err := terminal.NewAuthorizer(logger, cfg, ledger, clk)
	require.NoError(t, err)

	card := models.NewChipCard("4111111111111111", "9912", 10)
	var ids []string
	for _, p := range []struct {
		amount  int64
		context string
	}{
		{10, ""},
		{0, ""},
		{20, "siège 3F"},
		{advice.MaxAmount + 1, ""},
	} {
		txn, err := authorizer.Authorize(ctx, card, p.amount, p.context)
		require.NoError(t, err)
		require.Equal(t, models.TransactionStatusApproved, txn.Status)
		ids = append(ids, txn.ID)
	}

	svc, srv := newAcquirer(t)
	syncer := terminal.NewSyncer(logger, cfg, ledger, clk)
	client := acquirerclient.New(srv.URL, cfg.TerminalID, nil)

	result, err := syncer.SyncPending(ctx, client)
	require.NoError(t, err)
	require.Equal(t, models.SyncResult{Settled: 2, Rejected: 2}, result)

	want := []models.TransactionStatus{
		models.TransactionStatusSettled,
		models.TransactionStatusApproved,
		models.TransactionStatusSettled,
		models.TransactionStatusApproved,
	}
	for i, id := range ids {
		got, err := ledger.Get(ctx, id)
		require.NoError(t, err)
		require.Equal(t, want[i], got.Status, i)
	}

	rec, err := svc.Get(ctx, ids[2])
	require.NoError(t, err)
	require.Equal(t, "siège 3F", rec.Context)

	// later syncs keep working and only resend what is still pending
	result, err = syncer.SyncPending(ctx, client)
	require.NoError(t, err)
	require.Equal(t, models.SyncResult{Rejected: 2}, result)
}

func TestClient_UnsendableOnly(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("nothing should be sent")
	}))
	defer srv.Close()

	client := acquirerclient.New(srv.URL, "T-1", nil)
	result, err := client.SettleBatch(context.Background(), []models.Transaction{
		{ID: "t1", CardNumber: "4111111111111111", Amount: advice.MaxAmount + 1},
	})
	require.NoError(t, err)
	require.Equal(t, 1, result.Rejected)
	require.Equal(t, models.OutcomeRejected, result.Outcomes()["t1"])
}
