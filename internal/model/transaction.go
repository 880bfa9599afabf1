// Package model holds the data shapes shared across the settlement
// engine and its collaborators.
package model

import (
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Token is a supported swap asset.
type Token string

const (
	TokenSTX  Token = "STX"
	TokenUSDC Token = "USDC"
)

func (t Token) Valid() bool {
	return t == TokenSTX || t == TokenUSDC
}

// Direction is the swap direction.
type Direction string

const (
	DirectionOnramp  Direction = "onramp"
	DirectionOfframp Direction = "offramp"
)

// Status is the authoritative transaction status, per spec §4.8's state
// machine. Every transition is enforced by a conditional update keyed on
// the prior status; nothing here enumerates invalid transitions because
// that enforcement lives in the store, not in this type.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusSettling   Status = "settling"
	StatusConfirmed  Status = "confirmed"
	StatusFailed     Status = "failed"
)

func (s Status) IsTerminal() bool {
	return s == StatusConfirmed || s == StatusFailed
}

// BankDetails captures the offramp destination bank account.
type BankDetails struct {
	BankCode      string `bson:"bankCode" json:"bankCode"`
	AccountNumber string `bson:"accountNumber" json:"accountNumber"`
	AccountName   string `bson:"accountName" json:"accountName"`
	BankName      string `bson:"bankName" json:"bankName"`
}

// AuditEntry is an append-only record of a meaningful event on a Transaction.
type AuditEntry struct {
	At      time.Time `bson:"at" json:"at"`
	Action  string    `bson:"action" json:"action"`
	Actor   string    `bson:"actor" json:"actor"`
	Details string    `bson:"details,omitempty" json:"details,omitempty"`
}

// Transaction is the central entity: one record per swap attempt.
type Transaction struct {
	ID                  string          `bson:"_id,omitempty" json:"id"`
	Reference           string          `bson:"reference" json:"reference"`
	Token               Token           `bson:"token" json:"token"`
	Direction           Direction       `bson:"direction" json:"direction"`
	TokenAmount         decimal.Decimal `bson:"tokenAmount" json:"tokenAmount"`
	NGNAmount           int64           `bson:"ngnAmount" json:"ngnAmount"`
	FeeNGN              int64           `bson:"feeNGN" json:"feeNGN"`
	RateAtTime          decimal.Decimal `bson:"rateAtTime" json:"rateAtTime"`
	SenderAddress       string          `bson:"senderAddress" json:"senderAddress"`
	RecipientAddress    string          `bson:"recipientAddress" json:"recipientAddress"`
	ChainTxID           string          `bson:"chainTxId,omitempty" json:"chainTxId,omitempty"`
	PayoutProviderTxID  string          `bson:"payoutProviderTxId,omitempty" json:"payoutProviderTxId,omitempty"`
	Status              Status          `bson:"status" json:"status"`
	BankDetails          *BankDetails    `bson:"bankDetails,omitempty" json:"bankDetails,omitempty"`
	ExpiresAt            time.Time       `bson:"expiresAt" json:"expiresAt"`
	Meta                 map[string]any  `bson:"meta" json:"meta"`
	AuditTrail            []AuditEntry   `bson:"auditTrail" json:"auditTrail"`
	CreatedAt             time.Time      `bson:"createdAt" json:"createdAt"`
	ConfirmedAt           *time.Time     `bson:"confirmedAt,omitempty" json:"confirmedAt,omitempty"`
}

// IsExpired reports whether the offramp deposit window has elapsed.
func (t *Transaction) IsExpired(now time.Time) bool {
	return !t.ExpiresAt.IsZero() && now.After(t.ExpiresAt)
}

// AddAuditEntry appends an audit record. Callers must persist the mutated
// Transaction afterward; this only mutates the in-memory value.
func (t *Transaction) AddAuditEntry(action, actor, details string) {
	t.AuditTrail = append(t.AuditTrail, AuditEntry{
		At:      time.Now(),
		Action:  action,
		Actor:   actor,
		Details: details,
	})
}

// NewReference generates a globally-unique, human-readable reference of the
// form SSWAP_<DIRECTION>_<ts36>_<rand8hex>, per the GLOSSARY and the memo
// convention in §6.
func NewReference(direction Direction) string {
	ts := strconv.FormatInt(time.Now().UnixMilli(), 36)
	var dirTag string
	switch direction {
	case DirectionOnramp:
		dirTag = "ONRAMP"
	default:
		dirTag = "OFFRAMP"
	}
	return fmt.Sprintf("SSWAP_%s_%s_%s", dirTag, strings.ToUpper(ts), randHex(8))
}

func randHex(n int) string {
	const hex = "0123456789abcdef"
	b := make([]byte, n)
	for i := range b {
		b[i] = hex[rand.Intn(len(hex))]
	}
	return string(b)
}

// ReferencePrefix reports the memo prefix used by the indexer to recognize
// an offramp deposit (spec §4.6).
const ReferencePrefix = "SSWAP_OFFRAMP_"

// PriceSnapshot is an append-only per-token price history record.
type PriceSnapshot struct {
	ID        string          `bson:"_id,omitempty" json:"id"`
	Token     Token           `bson:"token" json:"token"`
	PriceUSD  decimal.Decimal `bson:"priceUSD" json:"priceUSD"`
	PriceNGN  decimal.Decimal `bson:"priceNGN" json:"priceNGN"`
	UsdToNgn  decimal.Decimal `bson:"usdToNgn" json:"usdToNgn"`
	FetchedAt time.Time       `bson:"fetchedAt" json:"fetchedAt"`
}
