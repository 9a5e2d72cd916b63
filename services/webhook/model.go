package webhook

import (
	"encoding/json"
	"net/http"
	"path"
	"strings"
	"time"
)

// Outcome is what a delivery was handled as. It is echoed to the provider
// in the acknowledgement body.
type Outcome string

const (
	OutcomeRejected          Outcome = "rejected"
	OutcomeIgnored           Outcome = "ignored"
	OutcomeAcknowledged      Outcome = "acknowledged"
	OutcomeQueued            Outcome = "queued"
	OutcomeMissingCaptureID  Outcome = "missing_capture_id"
	OutcomeMissingOrderID    Outcome = "missing_order_id"
	OutcomeOrderFetchFailed  Outcome = "order_fetch_failed"
	OutcomeInvalidMetadata   Outcome = "invalid_metadata"
	OutcomeCreditFailed      Outcome = "credit_failed"
	OutcomeDuplicate         Outcome = "duplicate"
	OutcomeCaptureCompleted  Outcome = "capture_completed"
	OutcomeMalformedDelivery Outcome = "malformed"
)

// Event records every inbound delivery. Redeliveries of the same provider
// event update the row and bump Deliveries.
type Event struct {
	ID             string    `gorm:"column:id;primaryKey;type:varchar(64)"`
	EventType      string    `gorm:"column:event_type;type:varchar(64);index"`
	ResourceID     string    `gorm:"column:resource_id;type:varchar(128);index"`
	OrderID        string    `gorm:"column:order_id;type:varchar(128)"`
	Outcome        string    `gorm:"column:outcome;type:varchar(32)"`
	SignatureValid bool      `gorm:"column:signature_valid"`
	Deliveries     int       `gorm:"column:deliveries;not null;default:1"`
	ArchiveKey     string    `gorm:"column:archive_key;type:varchar(255)"`
	ReceivedAt     time.Time `gorm:"column:received_at"`
	UpdatedAt      time.Time `gorm:"column:updated_at"`
}

func (Event) TableName() string { return "webhook_events" }

// Delivery is one raw webhook request.
type Delivery struct {
	Headers http.Header `json:"headers"`
	Body    []byte      `json:"body"`
}

type envelope struct {
	ID             string          `json:"id"`
	EventType      string          `json:"event_type"`
	EventTypeCamel string          `json:"eventType"`
	Resource       json.RawMessage `json:"resource"`
}

func (e envelope) Type() string {
	if e.EventType != "" {
		return e.EventType
	}
	return e.EventTypeCamel
}

type captureResource struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Amount *struct {
		Value        string `json:"value"`
		CurrencyCode string `json:"currency_code"`
	} `json:"amount"`
	SupplementaryData struct {
		RelatedIDs struct {
			OrderID string `json:"order_id"`
		} `json:"related_ids"`
	} `json:"supplementary_data"`
	Links []struct {
		Href string `json:"href"`
		Rel  string `json:"rel"`
	} `json:"links"`
}

// OrderID prefers supplementary_data and falls back to the last path
// segment of the "up" link.
func (r captureResource) OrderID() string {
	if id := r.SupplementaryData.RelatedIDs.OrderID; id != "" {
		return id
	}
	for _, l := range r.Links {
		if l.Rel != "up" || l.Href == "" {
			continue
		}
		return path.Base(strings.TrimRight(l.Href, "/"))
	}
	return ""
}
