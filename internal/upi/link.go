// Package upi builds UPI payment instructions: the deep link a payment app
// interprets and its QR representation.
package upi

import (
	"fmt"
	"net/url"

	"musicstream-payments/internal/core/domain"
)

// LinkBuilder renders upi://pay deep links for transactions. The output is
// derived purely from transaction fields plus the merchant identity, so the
// same transaction always yields the same link.
type LinkBuilder struct {
	VPA          string // receiver's virtual payment address (pa)
	MerchantName string // payee display name (pn)
}

// PaymentLink returns the deep link for a transaction:
//
//	upi://pay?pa=...&pn=...&tr=...&am=...&cu=INR&tn=...
//
// All parameter values are percent-encoded. The amount is rendered as a
// plain decimal string with two fraction digits and no thousands separators.
func (b LinkBuilder) PaymentLink(tx domain.Transaction) string {
	v := url.Values{}
	v.Set("pa", b.VPA)
	v.Set("pn", b.MerchantName)
	v.Set("tr", tx.ID.String())
	v.Set("am", tx.TotalAmount.StringFixed(2))
	v.Set("cu", tx.Currency)
	v.Set("tn", fmt.Sprintf("%s - %s", b.MerchantName, tx.ID))
	return "upi://pay?" + v.Encode()
}
