// Package advice encodes offline approvals as ISO 8583 (1987, ASCII) 0220 advice messages,
// the form in which a terminal reports transactions it approved without going online.
package advice

import (
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/moov-io/iso8583"
	"github.com/moov-io/iso8583/specs"

	"github.com/jonanatree/offlinepay/internal/cardgen"
	"github.com/jonanatree/offlinepay/models"
)

const (
	MTIAdvice = "0220"

	processingPurchase = "000000"
	processingRefund   = "200000"

	fieldPAN            = 2
	fieldProcessingCode = 3
	fieldAmount         = 4
	fieldTransmission   = 7
	fieldTransactionID  = 48
	fieldContext        = 63

	// MaxAmount is the largest magnitude field 4 (n 12) can carry.
	MaxAmount = 999_999_999_999
	// MaxContextBytes is the longest context that fits field 63 once hex encoded.
	MaxContextBytes = 499
)

// Encode packs a transaction into a 0220 advice. Negative amounts travel as refunds so the
// amount field itself stays unsigned. The context is hex encoded so any UTF-8 text fits the
// ASCII field.
func Encode(txn models.Transaction) ([]byte, error) {
	if txn.ID == "" {
		return nil, fmt.Errorf("transaction id is required")
	}
	if txn.Amount > MaxAmount || txn.Amount < -MaxAmount {
		return nil, fmt.Errorf("amount %d does not fit field 4", txn.Amount)
	}
	if len(txn.Context) > MaxContextBytes {
		return nil, fmt.Errorf("context is %d bytes, at most %d fit", len(txn.Context), MaxContextBytes)
	}
	msg := iso8583.NewMessage(specs.Spec87ASCII)
	msg.MTI(MTIAdvice)

	amount, code := txn.Amount, processingPurchase
	if amount < 0 {
		amount, code = -amount, processingRefund
	}
	fields := map[int]string{
		fieldPAN:            cardgen.NormalizePAN(txn.CardNumber),
		fieldProcessingCode: code,
		fieldAmount:         strconv.FormatInt(amount, 10),
		fieldTransmission:   txn.CreatedAt.UTC().Format("0102150405"),
		fieldTransactionID:  txn.ID,
	}
	if txn.Context != "" {
		fields[fieldContext] = hex.EncodeToString([]byte(txn.Context))
	}
	for id, val := range fields {
		if err := msg.Field(id, val); err != nil {
			return nil, fmt.Errorf("setting field %d: %w", id, err)
		}
	}

	packed, err := msg.Pack()
	if err != nil {
		return nil, fmt.Errorf("packing advice %s: %w", txn.ID, err)
	}
	return packed, nil
}

// Decode unpacks a 0220 advice. The returned transaction is APPROVED, which is the only
// status a terminal ever reports in an advice; CreatedAt is left to the receiver because
// field 7 carries no year. When the advice is malformed but its transaction id is readable,
// the id comes back alongside the error.
func Decode(b []byte) (models.Transaction, error) {
	msg := iso8583.NewMessage(specs.Spec87ASCII)
	if err := msg.Unpack(b); err != nil {
		return models.Transaction{}, fmt.Errorf("unpacking advice: %w", err)
	}
	mti, err := msg.GetMTI()
	if err != nil {
		return models.Transaction{}, fmt.Errorf("reading mti: %w", err)
	}
	if mti != MTIAdvice {
		return models.Transaction{}, fmt.Errorf("unexpected mti %s", mti)
	}

	id, err := msg.GetString(fieldTransactionID)
	if err != nil || id == "" {
		return models.Transaction{}, fmt.Errorf("advice without transaction id")
	}
	partial := models.Transaction{ID: id}

	pan, err := msg.GetString(fieldPAN)
	if err != nil {
		return partial, fmt.Errorf("reading pan: %w", err)
	}
	amount, err := decodeAmount(msg)
	if err != nil {
		return partial, err
	}
	code, err := msg.GetString(fieldProcessingCode)
	if err != nil {
		return partial, fmt.Errorf("reading processing code: %w", err)
	}
	if code == processingRefund {
		amount = -amount
	}
	// field 63 is optional
	rawContext, _ := msg.GetString(fieldContext)
	txnContext, err := hex.DecodeString(rawContext)
	if err != nil {
		return partial, fmt.Errorf("decoding context: %w", err)
	}

	return models.Transaction{
		ID:         id,
		CardNumber: pan,
		Amount:     amount,
		Context:    string(txnContext),
		Status:     models.TransactionStatusApproved,
	}, nil
}

// decodeAmount reads field 4. A zero amount unpacks as an empty value.
func decodeAmount(msg *iso8583.Message) (int64, error) {
	raw, err := msg.GetString(fieldAmount)
	if err != nil {
		return 0, fmt.Errorf("reading amount: %w", err)
	}
	if raw == "" {
		return 0, nil
	}
	amount, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing amount %q: %w", raw, err)
	}
	return amount, nil
}
