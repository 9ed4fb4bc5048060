package model

import "time"

// Values of ChargeIntent.ActionRequired.
const (
	ActionNone         = "NONE"
	ActionRedirect     = "REDIRECT"
	ActionEncodedImage = "ENCODED_IMAGE"
)

// Values of PaymentHistoryItem.Status.
const (
	PaymentSucceeded = "SUCCEEDED"
	PaymentPending   = "PENDING"
	PaymentFailed    = "FAILED"
)

// PaymentPackage is a fixed purchasable bundle of pages.
type PaymentPackage struct {
	AmountTHB    int    `json:"amount_thb"`
	AmountSatang int    `json:"amount_satang"`
	Pages        int    `json:"pages"`
	Label        string `json:"label"`
}

// ChargeIntent is the result of creating a charge. ActionRequired selects
// which of RedirectURL or QRCode is meaningful.
type ChargeIntent struct {
	ChargeID       string     `json:"charge_id"`
	ReferenceID    string     `json:"reference_id"`
	Amount         int        `json:"amount"`
	PagesToReceive int        `json:"pages_to_receive"`
	ActionRequired string     `json:"action_required"`
	RedirectURL    *string    `json:"redirect_url"`
	QRCode         *string    `json:"qr_code"`
	QRExpiry       *Timestamp `json:"qr_expiry"`
}

// PendingPayment is a created charge still waiting for a QR scan.
type PendingPayment struct {
	ChargeID       string    `json:"charge_id"`
	AmountTHB      int       `json:"amount_thb,omitempty"`
	QRCode         string    `json:"qr_code"`
	QRExpiry       Timestamp `json:"qr_expiry"`
	PagesToReceive int       `json:"pages_to_receive"`
}

// Active reports whether the pending charge can still be paid at now.
func (p *PendingPayment) Active(now time.Time) bool {
	return p != nil && p.QRExpiry.After(now)
}

type PaymentHistoryItem struct {
	ChargeID       string    `json:"charge_id"`
	AmountTHB      int       `json:"amount_thb"`
	PagesPurchased int       `json:"pages_purchased"`
	Status         string    `json:"status"`
	CreatedAt      Timestamp `json:"created_at"`
	PaymentMethod  *string   `json:"payment_method"`
}

// CreateChargeRequest is the body of POST /payment/create-charge.
type CreateChargeRequest struct {
	AmountTHB int `json:"amount_thb"`
}
