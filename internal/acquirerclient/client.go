// Package acquirerclient submits offline batches to a remote settlement authority.
package acquirerclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jonanatree/offlinepay/internal/advice"
	"github.com/jonanatree/offlinepay/models"
)

type Client struct {
	Base       string
	TerminalID string
	HTTP       *http.Client
}

func New(base, terminalID string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{Base: strings.TrimRight(base, "/"), TerminalID: terminalID, HTTP: hc}
}

type batchRequest struct {
	TerminalID string   `json:"terminal_id"`
	Advices    [][]byte `json:"advices"`
}

// SettleBatch sends the whole batch in one request. A transaction that cannot be encoded as
// an advice is not sent and comes back REJECTED, so it cannot hold up the rest. Any transport
// failure or non-2xx status is an error and the batch may be resent as is.
func (c *Client) SettleBatch(ctx context.Context, txns []models.Transaction) (models.BatchResult, error) {
	var unsendable models.BatchResult
	advices := make([][]byte, 0, len(txns))
	for _, txn := range txns {
		b, err := advice.Encode(txn)
		if err != nil {
			unsendable.Add(txn.ID, models.OutcomeRejected)
			continue
		}
		advices = append(advices, b)
	}
	if len(advices) == 0 {
		return unsendable, nil
	}

	body, err := json.Marshal(batchRequest{TerminalID: c.TerminalID, Advices: advices})
	if err != nil {
		return models.BatchResult{}, fmt.Errorf("encoding batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Base+"/batches", bytes.NewReader(body))
	if err != nil {
		return models.BatchResult{}, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return models.BatchResult{}, fmt.Errorf("settle batch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(resp.Body)
		return models.BatchResult{}, fmt.Errorf("settle batch status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	var result models.BatchResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return models.BatchResult{}, fmt.Errorf("decode batch result: %w", err)
	}
	for _, item := range unsendable.Items {
		result.Add(item.ID, item.Outcome)
	}
	return result, nil
}
