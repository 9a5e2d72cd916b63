package manualorder

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

const (
	StatusPending  = "pending"
	StatusApproved = "approved"

	ProviderCashApp = "cashapp"

	instructionsMessage = "Send Cash App payment, include note with your username prefix and coins. Coins will be granted after verification."
)

// ManualOrder is a purchase paid outside the platform. CoinOrderID links the
// ledger order that approval fulfils.
type ManualOrder struct {
	ID          string         `gorm:"column:id;primaryKey;type:varchar(36)" json:"id"`
	UserID      string         `gorm:"column:user_id;index;type:varchar(64);not null" json:"user_id"`
	PackageID   string         `gorm:"column:package_id;type:varchar(64)" json:"package_id,omitempty"`
	Coins       int64          `gorm:"column:coins;not null" json:"coins"`
	AmountCents int64          `gorm:"column:amount_cents;not null" json:"amount_cents"`
	Currency    string         `gorm:"column:currency;type:varchar(3);default:'USD'" json:"currency"`
	Provider    string         `gorm:"column:provider;type:varchar(20)" json:"provider"`
	PayerHandle string         `gorm:"column:payer_handle;type:varchar(32)" json:"payer_handle"`
	Note        string         `gorm:"column:note;type:varchar(64)" json:"note"`
	Status      string         `gorm:"column:status;type:varchar(20);index;not null" json:"status"`
	CoinOrderID *string        `gorm:"column:coin_order_id;type:varchar(32)" json:"coin_order_id,omitempty"`
	ApprovedBy  string         `gorm:"column:approved_by;type:varchar(64)" json:"approved_by,omitempty"`
	ApprovedAt  *time.Time     `gorm:"column:approved_at" json:"approved_at,omitempty"`
	Metadata    datatypes.JSON `gorm:"column:metadata" json:"metadata,omitempty"`
	CreatedAt   time.Time      `gorm:"column:created_at" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"column:updated_at" json:"updated_at"`
}

func (ManualOrder) TableName() string { return "manual_orders" }

// Actor is the caller of a coordinator operation as resolved by the HTTP layer.
type Actor struct {
	UserID     string
	Privileged bool
}

type CreateRequest struct {
	UserID      string
	Username    string
	PackageID   string
	Coins       int64
	AmountCents int64
	// AmountUSD is used when AmountCents is zero.
	AmountUSD   decimal.Decimal
	PayerHandle string
	Metadata    map[string]any
}

type Instructions struct {
	Provider       string `json:"provider"`
	ReceiverHandle string `json:"receiver_handle"`
	PayerHandle    string `json:"payer_handle"`
	Note           string `json:"note"`
	AmountCents    int64  `json:"amount_cents"`
	AmountUSD      string `json:"amount_usd"`
	Message        string `json:"message"`
}

type CreateResult struct {
	Success      bool         `json:"success"`
	OrderID      string       `json:"orderId"`
	Status       string       `json:"status"`
	Instructions Instructions `json:"instructions"`
}

type ApproveRequest struct {
	OrderID      string
	ExternalTxID string
}

type ApproveResult struct {
	Success         bool  `json:"success"`
	NewBalance      int64 `json:"newBalance"`
	AlreadyApproved bool  `json:"alreadyApproved,omitempty"`
}
