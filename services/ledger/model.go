package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"gorm.io/datatypes"
)

const (
	TypePurchase = "purchase"
	TypeGrant    = "grant"
	TypeSpend    = "spend"
	TypePayout   = "payout"
	TypeManual   = "manual"

	StatusCompleted = "completed"

	genesisHash = "GENESIS"
)

var validTypes = map[string]bool{
	TypePurchase: true,
	TypeGrant:    true,
	TypeSpend:    true,
	TypePayout:   true,
	TypeManual:   true,
}

// Transaction is one immutable coin balance change. ExternalID and
// ProviderOrderID are nullable unique idempotency keys.
type Transaction struct {
	ID              string         `gorm:"column:id;primaryKey;type:varchar(32)" json:"id"`
	UserID          string         `gorm:"column:user_id;index;type:varchar(64);not null" json:"user_id"`
	Amount          int64          `gorm:"column:amount;not null" json:"amount"`
	Type            string         `gorm:"column:type;type:varchar(20);not null" json:"type"`
	ExternalID      *string        `gorm:"column:external_id;type:varchar(128);uniqueIndex" json:"external_id,omitempty"`
	ProviderOrderID *string        `gorm:"column:provider_order_id;type:varchar(128);uniqueIndex" json:"provider_order_id,omitempty"`
	Status          string         `gorm:"column:status;type:varchar(20);not null" json:"status"`
	Description     string         `gorm:"column:description;type:text" json:"description,omitempty"`
	Metadata        datatypes.JSON `gorm:"column:metadata" json:"metadata,omitempty"`
	PreviousHash    string         `gorm:"column:previous_hash;type:char(64)" json:"previous_hash"`
	Hash            string         `gorm:"column:hash;type:char(64)" json:"hash"`
	CreatedAt       time.Time      `gorm:"column:created_at;index" json:"created_at"`
}

func (Transaction) TableName() string { return "ledger_transactions" }

func (t *Transaction) HashFields() map[string]string {
	return map[string]string{
		"id":                t.ID,
		"user_id":           t.UserID,
		"type":              t.Type,
		"amount":            fmt.Sprintf("%d", t.Amount),
		"external_id":       deref(t.ExternalID),
		"provider_order_id": deref(t.ProviderOrderID),
		"description":       t.Description,
		"created_at":        t.CreatedAt.UTC().Format(time.RFC3339Nano),
		"previous_hash":     t.PreviousHash,
	}
}

func (t *Transaction) GenerateHash() string {
	fields := t.HashFields()
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, fields[k]))
	}

	hash := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(hash[:])
}

type UserBalance struct {
	UserID    string    `gorm:"column:user_id;primaryKey;type:varchar(64)" json:"user_id"`
	Balance   int64     `gorm:"column:balance;not null;default:0" json:"balance"`
	Reserved  int64     `gorm:"column:reserved;not null;default:0" json:"reserved"`
	UpdatedAt time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (UserBalance) TableName() string { return "user_balances" }

// Available is the part of the balance not earmarked for pending payouts.
func (b *UserBalance) Available() int64 {
	return b.Balance - b.Reserved
}

const (
	OrderPending   = "pending"
	OrderFulfilled = "fulfilled"
)

// CoinOrder is a purchase waiting for an out-of-band payment to be confirmed.
type CoinOrder struct {
	ID           string     `gorm:"column:id;primaryKey;type:varchar(32)" json:"id"`
	UserID       string     `gorm:"column:user_id;index;type:varchar(64);not null" json:"user_id"`
	PackageID    string     `gorm:"column:package_id;type:varchar(64)" json:"package_id"`
	Coins        int64      `gorm:"column:coins;not null" json:"coins"`
	AmountCents  int64      `gorm:"column:amount_cents;not null" json:"amount_cents"`
	Currency     string     `gorm:"column:currency;type:varchar(3);default:'USD'" json:"currency"`
	Provider     string     `gorm:"column:provider;type:varchar(32)" json:"provider"`
	Status       string     `gorm:"column:status;type:varchar(20);index;not null" json:"status"`
	ExternalTxID string     `gorm:"column:external_tx_id;type:varchar(128)" json:"external_tx_id,omitempty"`
	ApprovedBy   string     `gorm:"column:approved_by;type:varchar(64)" json:"approved_by,omitempty"`
	FulfilledAt  *time.Time `gorm:"column:fulfilled_at" json:"fulfilled_at,omitempty"`
	CreatedAt    time.Time  `gorm:"column:created_at" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"column:updated_at" json:"updated_at"`
}

func (CoinOrder) TableName() string { return "coin_orders" }

// Models lists every table owned by the ledger, for migrations.
func Models() []any {
	return []any{&Transaction{}, &UserBalance{}, &CoinOrder{}}
}

type CreditRequest struct {
	UserID          string
	Amount          int64
	Type            string
	ExternalID      string
	ProviderOrderID string
	Description     string
	Metadata        map[string]any
}

type CreditResult struct {
	Transaction *Transaction
	Balance     *UserBalance
	// Duplicate is set when an earlier transaction already carries one of
	// the idempotency keys; nothing was credited.
	Duplicate bool
}

type ApproveResult struct {
	Success         bool   `json:"success"`
	NewBalance      int64  `json:"new_balance"`
	ErrorMessage    string `json:"error_message,omitempty"`
	AlreadyApproved bool   `json:"already_approved,omitempty"`
}

type OpenOrderRequest struct {
	UserID      string
	PackageID   string
	Coins       int64
	AmountCents int64
	Currency    string
	Provider    string
}

type ChainReport struct {
	UserID   string `json:"user_id"`
	Valid    bool   `json:"valid"`
	Entries  int    `json:"entries"`
	BrokenAt string `json:"broken_at,omitempty"`
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func nullable(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
