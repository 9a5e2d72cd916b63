package payout

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

const (
	StatusPending    = "pending"
	StatusApproved   = "approved"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

const (
	AuditAutoProcessed    = "auto-processed"
	AuditAutoFailed       = "auto-failed"
	AuditReconcileFlagged = "reconcile-flagged"

	processedBySystem = "system"
)

const (
	TriggerSchedule = "schedule"
	TriggerManual   = "manual"
)

// PayoutRequest is a creator's request to turn coins into money. Several
// amount columns exist because older clients wrote different ones; see
// ResolveAmount for the order they are read in.
type PayoutRequest struct {
	ID     string `gorm:"column:id;primaryKey;type:varchar(64)" json:"id"`
	UserID string `gorm:"column:user_id;index;type:varchar(64);not null" json:"user_id"`

	RequestedCoins int64 `gorm:"column:requested_coins" json:"requested_coins,omitempty"`
	CoinsRedeemed  int64 `gorm:"column:coins_redeemed" json:"coins_redeemed,omitempty"`
	CoinsUsed      int64 `gorm:"column:coins_used" json:"coins_used,omitempty"`
	CoinAmount     int64 `gorm:"column:coin_amount" json:"coin_amount,omitempty"`

	USDAmount     decimal.NullDecimal `gorm:"column:usd_amount;type:decimal(12,2)" json:"usd_amount"`
	USDValue      decimal.NullDecimal `gorm:"column:usd_value;type:decimal(12,2)" json:"usd_value"`
	AmountUSD     decimal.NullDecimal `gorm:"column:amount_usd;type:decimal(12,2)" json:"amount_usd"`
	CashAmount    decimal.NullDecimal `gorm:"column:cash_amount;type:decimal(12,2)" json:"cash_amount"`
	NetAmount     decimal.NullDecimal `gorm:"column:net_amount;type:decimal(12,2)" json:"net_amount"`
	NetValue      decimal.NullDecimal `gorm:"column:net_value;type:decimal(12,2)" json:"net_value"`
	PayPalFee     decimal.NullDecimal `gorm:"column:paypal_fee;type:decimal(12,2)" json:"paypal_fee"`
	ProcessingFee decimal.NullDecimal `gorm:"column:processing_fee;type:decimal(12,2)" json:"processing_fee"`

	PayPalEmail    string `gorm:"column:paypal_email;type:varchar(255)" json:"paypal_email,omitempty"`
	PayoutAddress  string `gorm:"column:payout_address;type:varchar(255)" json:"payout_address,omitempty"`
	Currency       string `gorm:"column:currency;type:varchar(3)" json:"currency,omitempty"`
	PayoutCurrency string `gorm:"column:payout_currency;type:varchar(3)" json:"payout_currency,omitempty"`

	Status              string     `gorm:"column:status;type:varchar(20);index;not null" json:"status"`
	ProviderBatchID     string     `gorm:"column:provider_batch_id;type:varchar(64)" json:"provider_batch_id,omitempty"`
	ProviderBatchStatus string     `gorm:"column:provider_batch_status;type:varchar(32)" json:"provider_batch_status,omitempty"`
	AdminNotes          string     `gorm:"column:admin_notes;type:text" json:"admin_notes,omitempty"`
	RequestedAt         time.Time  `gorm:"column:requested_at;index" json:"requested_at"`
	ProcessedAt         *time.Time `gorm:"column:processed_at" json:"processed_at,omitempty"`
	CompletedAt         *time.Time `gorm:"column:completed_at" json:"completed_at,omitempty"`
	UpdatedAt           time.Time  `gorm:"column:updated_at" json:"updated_at"`
}

func (PayoutRequest) TableName() string { return "payout_requests" }

// Setting is one key/value row of payout configuration.
type Setting struct {
	Key       string    `gorm:"column:setting_key;primaryKey;type:varchar(64)"`
	Value     string    `gorm:"column:setting_value;type:varchar(64);not null"`
	Version   int       `gorm:"column:version;not null;default:1"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (Setting) TableName() string { return "payout_settings" }

// AuditLog is append-only.
type AuditLog struct {
	ID              string          `gorm:"column:id;primaryKey;type:varchar(32)"`
	PayoutRequestID string          `gorm:"column:payout_request_id;index;type:varchar(64);not null"`
	Action          string          `gorm:"column:action;type:varchar(32);not null"`
	ProcessedBy     string          `gorm:"column:processed_by;type:varchar(64)"`
	ProviderBatchID string          `gorm:"column:provider_batch_id;type:varchar(64)"`
	Amount          decimal.Decimal `gorm:"column:amount;type:decimal(12,2)"`
	Currency        string          `gorm:"column:currency;type:varchar(3)"`
	Recipient       string          `gorm:"column:recipient;type:varchar(255)"`
	Notes           string          `gorm:"column:notes;type:text"`
	CreatedAt       time.Time       `gorm:"column:created_at"`
}

func (AuditLog) TableName() string { return "payout_audit_logs" }

// Run is the execution record of one dispatcher run.
type Run struct {
	ID          string         `gorm:"column:id;primaryKey;type:varchar(32)" json:"id"`
	Trigger     string         `gorm:"column:run_trigger;type:varchar(20)" json:"trigger"`
	Status      string         `gorm:"column:status;type:varchar(20);default:'running'" json:"status"` // running|success|failed
	Processed   int            `gorm:"column:processed" json:"processed"`
	Failed      int            `gorm:"column:failed" json:"failed"`
	Skipped     int            `gorm:"column:skipped" json:"skipped"`
	ErrorMsg    string         `gorm:"column:error_msg;type:text" json:"error_msg,omitempty"`
	Summary     datatypes.JSON `gorm:"column:summary" json:"summary,omitempty"`
	StartedAt   time.Time      `gorm:"column:started_at" json:"started_at"`
	CompletedAt *time.Time     `gorm:"column:completed_at" json:"completed_at,omitempty"`
}

func (Run) TableName() string { return "payout_runs" }

func Models() []any {
	return []any{&PayoutRequest{}, &Setting{}, &AuditLog{}, &Run{}}
}

// ItemResult is the outcome of one request within a run.
type ItemResult struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	BatchID string `json:"batch_id,omitempty"`
	Reason  string `json:"reason,omitempty"`
	Error   string `json:"error,omitempty"`
}

type Summary struct {
	RunID    string       `json:"run_id"`
	Trigger  string       `json:"trigger"`
	Disabled bool         `json:"disabled,omitempty"`
	Message  string       `json:"message"`
	Count    int          `json:"count"`
	Results  []ItemResult `json:"results"`
}
