package upi

import (
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"musicstream-payments/internal/core/domain"
)

func testTransaction(t *testing.T) domain.Transaction {
	t.Helper()
	id, err := uuid.Parse("7b1c9a42-08fd-4cde-9e41-2f64c1a0b5d3")
	require.NoError(t, err)
	return domain.Transaction{
		ID:          id,
		UserID:      "user-1",
		TotalAmount: decimal.RequireFromString("80"),
		Currency:    "INR",
		Status:      domain.StatusPending,
		CreatedAt:   time.Now(),
	}
}

func TestPaymentLink_Format(t *testing.T) {
	b := LinkBuilder{VPA: "merchant@upi", MerchantName: "MusicStream Pro"}
	tx := testTransaction(t)

	link := b.PaymentLink(tx)
	require.True(t, strings.HasPrefix(link, "upi://pay?"), "link %q", link)

	parsed, err := url.Parse(link)
	require.NoError(t, err)
	q := parsed.Query()

	assert.Equal(t, "merchant@upi", q.Get("pa"))
	assert.Equal(t, "MusicStream Pro", q.Get("pn"))
	assert.Equal(t, tx.ID.String(), q.Get("tr"))
	assert.Equal(t, "80.00", q.Get("am"))
	assert.Equal(t, "INR", q.Get("cu"))
	assert.Contains(t, q.Get("tn"), tx.ID.String())

	// The merchant name carries spaces, so the raw query must not.
	assert.NotContains(t, parsed.RawQuery, " ")
}

func TestPaymentLink_Deterministic(t *testing.T) {
	b := LinkBuilder{VPA: "merchant@upi", MerchantName: "MusicStream Pro"}
	tx := testTransaction(t)

	assert.Equal(t, b.PaymentLink(tx), b.PaymentLink(tx))
}

func TestQRDataURL(t *testing.T) {
	b := LinkBuilder{VPA: "merchant@upi", MerchantName: "MusicStream Pro"}
	link := b.PaymentLink(testTransaction(t))

	dataURL, err := QRDataURL(link)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(dataURL, "data:image/png;base64,"))
	assert.Greater(t, len(dataURL), len("data:image/png;base64,"))
}
