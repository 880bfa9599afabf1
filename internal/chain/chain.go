// Package chain implements C4: the Stacks blockchain read adapter used by
// the indexer (C6) and per-transaction watcher (C7).
package chain

import (
	"context"
	"encoding/hex"
	"strings"

	"github.com/shopspring/decimal"
)

// TxStatus mirrors the Stacks API's transaction status values named in
// spec §4.4.
type TxStatus string

const (
	TxSuccess                 TxStatus = "success"
	TxPending                 TxStatus = "pending"
	TxAbortByResponse         TxStatus = "abort_by_response"
	TxAbortByPostCondition    TxStatus = "abort_by_post_condition"
	TxDroppedReplaceByFee     TxStatus = "dropped_replace_by_fee"
	TxDroppedTooExpensive     TxStatus = "dropped_too_expensive"
)

func (s TxStatus) IsDropped() bool {
	return strings.HasPrefix(string(s), "dropped_")
}

func (s TxStatus) IsAbort() bool {
	return s == TxAbortByResponse || s == TxAbortByPostCondition
}

// NativeTransfer is a decoded STX token_transfer payload.
type NativeTransfer struct {
	Recipient string
	Amount    decimal.Decimal // whole STX, after /10^6 scaling
	Memo      string          // decoded, null-stripped
}

// FungibleTokenEvent is one fungible_token_asset event emitted by a
// contract call.
type FungibleTokenEvent struct {
	AssetID   string
	Recipient string
	Amount    decimal.Decimal
}

// ContractCall is a decoded contract-call payload.
type ContractCall struct {
	FunctionName string
	Args         []string // raw Clarity-encoded args, hex strings
	Events       []FungibleTokenEvent
}

// Tx is a single chain transaction as returned by GetAddressTransactions/GetTxById.
type Tx struct {
	TxID           string
	Status         TxStatus
	BlockHeight    *int64
	SenderAddress  string
	NativeTransfer *NativeTransfer
	ContractCall   *ContractCall
}

// ReadClient is the C4 read-side contract.
type ReadClient interface {
	GetAddressTransactions(ctx context.Context, address string, limit, offset int) ([]Tx, error)
	GetTxByID(ctx context.Context, txID string) (*Tx, error)
}

// DecodeMemo turns a hex-on-wire, 34-byte null-padded memo buffer into a
// trimmed UTF-8 string. Trailing nulls must never cause a valid reference
// to be rejected (spec §9 "Memo parsing").
func DecodeMemo(hexMemo string) string {
	hexMemo = strings.TrimPrefix(hexMemo, "0x")
	raw, err := hex.DecodeString(hexMemo)
	if err != nil {
		return ""
	}
	return strings.TrimRight(string(raw), "\x00")
}

// SumRecipientAmount sums fungible-token-asset events destined for recipient,
// scaled by 10^6 as spec §4.6 requires for the SIP-010 path.
func SumRecipientAmount(events []FungibleTokenEvent, recipient string) decimal.Decimal {
	total := decimal.Zero
	scale := decimal.NewFromInt(1_000_000)
	for _, e := range events {
		if e.Recipient == recipient {
			total = total.Add(e.Amount.Div(scale))
		}
	}
	return total
}
