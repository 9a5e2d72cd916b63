package paypal

import "strings"

const (
	StatusCompleted = "COMPLETED"

	EventCaptureCompleted = "PAYMENT.CAPTURE.COMPLETED"
	EventOrderApproved    = "CHECKOUT.ORDER.APPROVED"

	RecipientTypeEmail = "EMAIL"
)

type Money struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type Link struct {
	Href   string `json:"href"`
	Rel    string `json:"rel"`
	Method string `json:"method,omitempty"`
}

type Capture struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	Amount   *Money `json:"amount,omitempty"`
	CustomID string `json:"custom_id,omitempty"`
}

type Payments struct {
	Captures []Capture `json:"captures,omitempty"`
}

type PurchaseUnit struct {
	ReferenceID string    `json:"reference_id,omitempty"`
	Description string    `json:"description,omitempty"`
	CustomID    string    `json:"custom_id,omitempty"`
	Amount      *Money    `json:"amount,omitempty"`
	Payments    *Payments `json:"payments,omitempty"`
}

type Order struct {
	ID            string         `json:"id"`
	Status        string         `json:"status"`
	Intent        string         `json:"intent,omitempty"`
	PurchaseUnits []PurchaseUnit `json:"purchase_units,omitempty"`
	Links         []Link         `json:"links,omitempty"`
}

// CreateOrderRequest is the body of POST /v2/checkout/orders.
type CreateOrderRequest struct {
	Intent        string         `json:"intent"`
	PurchaseUnits []PurchaseUnit `json:"purchase_units"`
}

// FirstCapture returns the first capture of the first purchase unit.
func (o *Order) FirstCapture() *Capture {
	if o == nil || len(o.PurchaseUnits) == 0 {
		return nil
	}
	p := o.PurchaseUnits[0].Payments
	if p == nil || len(p.Captures) == 0 {
		return nil
	}
	return &p.Captures[0]
}

// CustomID is purchase_units[0].custom_id, falling back to the capture copy.
func (o *Order) CustomID() string {
	if o == nil || len(o.PurchaseUnits) == 0 {
		return ""
	}
	if id := o.PurchaseUnits[0].CustomID; id != "" {
		return id
	}
	if c := o.FirstCapture(); c != nil {
		return c.CustomID
	}
	return ""
}

// CaptureCompleted reports whether the order and its capture, when present,
// are both COMPLETED.
func (o *Order) CaptureCompleted() bool {
	if o == nil || o.Status != StatusCompleted {
		return false
	}
	if c := o.FirstCapture(); c != nil {
		return c.Status == StatusCompleted
	}
	return true
}

func (o *Order) ApprovalURL() string {
	for _, l := range o.Links {
		if l.Rel == "approve" || l.Rel == "payer-action" {
			return l.Href
		}
	}
	return ""
}

type PayoutAmount struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

type PayoutItem struct {
	RecipientType string       `json:"recipient_type"`
	Amount        PayoutAmount `json:"amount"`
	Receiver      string       `json:"receiver"`
	Note          string       `json:"note,omitempty"`
	SenderItemID  string       `json:"sender_item_id,omitempty"`
}

type SenderBatchHeader struct {
	SenderBatchID string `json:"sender_batch_id"`
	EmailSubject  string `json:"email_subject,omitempty"`
	EmailMessage  string `json:"email_message,omitempty"`
}

type PayoutBatch struct {
	SenderBatchHeader SenderBatchHeader `json:"sender_batch_header"`
	Items             []PayoutItem      `json:"items"`
}

type PayoutBatchHeader struct {
	PayoutBatchID     string            `json:"payout_batch_id"`
	BatchStatus       string            `json:"batch_status"`
	SenderBatchHeader SenderBatchHeader `json:"sender_batch_header"`
}

type PayoutItemResult struct {
	PayoutItemID      string     `json:"payout_item_id"`
	TransactionStatus string     `json:"transaction_status"`
	PayoutItem        PayoutItem `json:"payout_item"`
}

type PayoutBatchResult struct {
	BatchHeader PayoutBatchHeader  `json:"batch_header"`
	Items       []PayoutItemResult `json:"items,omitempty"`
}

// WebhookVerification carries the transmission headers PayPal signs a
// webhook delivery with.
type WebhookVerification struct {
	AuthAlgo         string `json:"auth_algo"`
	CertURL          string `json:"cert_url"`
	TransmissionID   string `json:"transmission_id"`
	TransmissionSig  string `json:"transmission_sig"`
	TransmissionTime string `json:"transmission_time"`
	WebhookID        string `json:"webhook_id"`
}

// Complete reports whether every transmission header was supplied.
func (v WebhookVerification) Complete() bool {
	for _, s := range []string{v.AuthAlgo, v.CertURL, v.TransmissionID, v.TransmissionSig, v.TransmissionTime} {
		if strings.TrimSpace(s) == "" {
			return false
		}
	}
	return true
}
