package advice_test

import (
	"strings"
	"testing"
	"time"

	"github.com/moov-io/iso8583"
	"github.com/moov-io/iso8583/specs"
	"github.com/stretchr/testify/require"

	"github.com/jonanatree/offlinepay/internal/advice"
	"github.com/jonanatree/offlinepay/models"
)

func TestEncodeDecode(t *testing.T) {
	txn := models.Transaction{
		ID:         "5f0c2a4e-8d52-4c55-9a0e-1b1c3c1f4e11",
		CardNumber: "4111111111111111",
		Amount:     1250,
		CreatedAt:  time.Date(2025, 5, 4, 13, 14, 15, 0, time.UTC),
		Context:    "seat 14C",
		Status:     models.TransactionStatusApproved,
	}

	packed, err := advice.Encode(txn)
	require.NoError(t, err)

	got, err := advice.Decode(packed)
	require.NoError(t, err)
	require.Equal(t, txn.ID, got.ID)
	require.Equal(t, txn.CardNumber, got.CardNumber)
	require.Equal(t, txn.Amount, got.Amount)
	require.Equal(t, txn.Context, got.Context)
	require.Equal(t, models.TransactionStatusApproved, got.Status)
}

func TestEncode_NonPositiveAmounts(t *testing.T) {
	for _, amount := range []int64{0, -5} {
		packed, err := advice.Encode(models.Transaction{ID: "t-1", CardNumber: "4111111111111111", Amount: amount})
		require.NoError(t, err)

		got, err := advice.Decode(packed)
		require.NoError(t, err)
		require.Equal(t, amount, got.Amount)
	}
}

func TestEncode_RequiresID(t *testing.T) {
	_, err := advice.Encode(models.Transaction{CardNumber: "4111111111111111", Amount: 10})
	require.Error(t, err)
}

func TestDecode_RejectsOtherMessages(t *testing.T) {
	msg := iso8583.NewMessage(specs.Spec87ASCII)
	msg.MTI("0100")
	require.NoError(t, msg.Field(2, "4111111111111111"))
	require.NoError(t, msg.Field(48, "t-1"))
	packed, err := msg.Pack()
	require.NoError(t, err)

	_, err = advice.Decode(packed)
	require.Error(t, err)

	_, err = advice.Decode([]byte("garbage"))
	require.Error(t, err)
}

func TestEncode_ContextIsNotLimitedToASCII(t *testing.T) {
	txn := models.Transaction{ID: "t-1", CardNumber: "4111 1111 1111 1111", Amount: 20, Context: "siège 3F"}

	packed, err := advice.Encode(txn)
	require.NoError(t, err)

	got, err := advice.Decode(packed)
	require.NoError(t, err)
	require.Equal(t, "siège 3F", got.Context)
	require.Equal(t, "4111111111111111", got.CardNumber)
}

func TestEncode_Limits(t *testing.T) {
	_, err := advice.Encode(models.Transaction{ID: "t-1", CardNumber: "4111111111111111", Amount: advice.MaxAmount})
	require.NoError(t, err)

	for _, amount := range []int64{advice.MaxAmount + 1, -advice.MaxAmount - 1} {
		_, err := advice.Encode(models.Transaction{ID: "t-1", CardNumber: "4111111111111111", Amount: amount})
		require.Error(t, err)
	}

	long := strings.Repeat("x", advice.MaxContextBytes+1)
	_, err = advice.Encode(models.Transaction{ID: "t-1", CardNumber: "4111111111111111", Amount: 1, Context: long})
	require.Error(t, err)

	_, err = advice.Encode(models.Transaction{ID: "t-1", CardNumber: "4111111111111111", Amount: 1, Context: long[1:]})
	require.NoError(t, err)
}

func TestDecode_KeepsIDOfMalformedAdvice(t *testing.T) {
	msg := iso8583.NewMessage(specs.Spec87ASCII)
	msg.MTI(advice.MTIAdvice)
	require.NoError(t, msg.Field(2, "4111111111111111"))
	require.NoError(t, msg.Field(4, "10"))
	require.NoError(t, msg.Field(48, "t-1"))
	require.NoError(t, msg.Field(63, "zz"))
	packed, err := msg.Pack()
	require.NoError(t, err)

	got, err := advice.Decode(packed)
	require.Error(t, err)
	require.Equal(t, "t-1", got.ID)
}
