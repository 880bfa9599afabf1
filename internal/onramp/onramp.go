// Package onramp implements the symmetric onramp direction: a bank-payment
// provider webhook drives a signed blockchain send to the user's wallet.
// Specified only at the interface level (spec §1) — it reuses the price
// oracle and the status machine shape of internal/settlement without
// duplicating its conditional-update machinery, since onramp has only one
// external event source instead of three.
package onramp

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/sswap/engine/internal/chain/signer"
	"github.com/sswap/engine/internal/model"
	"github.com/sswap/engine/internal/priceoracle"
	"github.com/sswap/engine/internal/sswaperr"
	"github.com/sswap/engine/internal/txstore"
)

// PaymentProvider is the Monnify-equivalent collaborator: resolves a
// payment webhook to a paid NGN amount and verifies its signature.
type PaymentProvider interface {
	VerifyWebhookSignature(rawBody []byte, signatureHeader string) bool
	ParsePaymentWebhook(rawBody []byte) (PaymentEvent, error)
}

// PaymentEvent is the minimal shape an onramp payment notification carries.
type PaymentEvent struct {
	Reference    string
	NGNPaid      int64
	Successful   bool
	FailReason   string
}

// Config holds the onramp orchestrator's tunables.
type Config struct {
	FlatFeeNGN        int64
	MinTokenAmount    decimal.Decimal
	MaxTokenAmount    decimal.Decimal
	USDCContractAddr  string
	USDCContractName  string
}

// Orchestrator drives the onramp direction.
type Orchestrator struct {
	cfg      Config
	store    txstore.Store
	payments PaymentProvider
	oracle   *priceoracle.Cache
	signer   signer.Signer
	log      zerolog.Logger
}

func New(cfg Config, store txstore.Store, payments PaymentProvider, oracle *priceoracle.Cache, s signer.Signer, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{cfg: cfg, store: store, payments: payments, oracle: oracle, signer: s, log: log}
}

// InitializeOnrampRequest is the inbound payload: the user names the token
// and amount they want and the wallet address that should receive it; the
// NGN amount is computed from the oracle rate at initialization.
type InitializeOnrampRequest struct {
	Token           model.Token
	TokenAmount     decimal.Decimal
	RecipientAddress string
}

// InitializeOnramp quotes the requested token amount in NGN and persists a
// pending record, returning that record (mirrors
// settlement.InitializeOfframp's shape for the symmetric direction).
func (o *Orchestrator) InitializeOnramp(ctx context.Context, req InitializeOnrampRequest) (*model.Transaction, error) {
	if !req.Token.Valid() {
		return nil, sswaperr.New(sswaperr.KindValidation, "token must be STX or USDC")
	}
	if req.TokenAmount.LessThan(o.cfg.MinTokenAmount) || req.TokenAmount.GreaterThan(o.cfg.MaxTokenAmount) {
		return nil, sswaperr.New(sswaperr.KindValidation, "tokenAmount out of bounds")
	}

	snap := o.oracle.GetCurrent(ctx)
	rate := snap.USDC.PriceNGN
	if req.Token == model.TokenSTX {
		rate = snap.STX.PriceNGN
	}
	ngnAmount := req.TokenAmount.Mul(rate).Add(decimal.NewFromInt(o.cfg.FlatFeeNGN)).Ceil().IntPart()

	now := time.Now()
	tx := &model.Transaction{
		Reference:        model.NewReference(model.DirectionOnramp),
		Token:            req.Token,
		Direction:        model.DirectionOnramp,
		TokenAmount:      req.TokenAmount,
		NGNAmount:        ngnAmount,
		FeeNGN:           o.cfg.FlatFeeNGN,
		RateAtTime:       rate,
		SenderAddress:    req.RecipientAddress,
		RecipientAddress: req.RecipientAddress,
		Status:           model.StatusPending,
		ExpiresAt:        now.Add(30 * time.Minute),
		CreatedAt:        now,
	}
	tx.AddAuditEntry("initialized", "onramp_orchestrator", "")

	if err := o.store.Create(ctx, tx); err != nil {
		return nil, sswaperr.Wrap(sswaperr.KindInternal, err, "failed to persist onramp transaction")
	}
	return tx, nil
}

// HandlePaymentWebhook reacts to the payment provider's settlement
// notification by sending the quoted token amount to the user's wallet.
// The CAS into "processing" guards the send exactly the way ConfirmReceipt
// guards the offramp payout — at most one goroutine ever calls the signer
// for a given reference.
func (o *Orchestrator) HandlePaymentWebhook(ctx context.Context, rawBody []byte, signature string) error {
	if !o.payments.VerifyWebhookSignature(rawBody, signature) {
		return sswaperr.New(sswaperr.KindAuthFailure, "invalid payment webhook signature")
	}

	event, err := o.payments.ParsePaymentWebhook(rawBody)
	if err != nil {
		return sswaperr.Wrap(sswaperr.KindValidation, err, "malformed payment webhook payload")
	}

	if !event.Successful {
		failed := model.StatusFailed
		_, err := o.store.ConditionalUpdate(ctx, event.Reference, model.StatusPending, txstore.Mutation{
			Status:    &failed,
			MetaPatch: map[string]any{"failureReason": event.FailReason},
		})
		return err
	}

	processing := model.StatusProcessing
	won, err := o.store.ConditionalUpdate(ctx, event.Reference, model.StatusPending, txstore.Mutation{Status: &processing})
	if err != nil {
		return sswaperr.Wrap(sswaperr.KindInternal, err, "conditional update failed")
	}
	if won == nil {
		return nil // already processed by a concurrent webhook replay
	}

	var txID string
	if won.Token == model.TokenSTX {
		txID, err = o.signer.SendNative(ctx, won.RecipientAddress, won.TokenAmount, won.Reference)
	} else {
		txID, err = o.signer.SendSIP010(ctx, o.cfg.USDCContractAddr, o.cfg.USDCContractName, won.RecipientAddress, won.TokenAmount, won.Reference)
	}
	if err != nil {
		failed := model.StatusFailed
		o.store.ConditionalUpdate(ctx, event.Reference, model.StatusProcessing, txstore.Mutation{
			Status:    &failed,
			MetaPatch: map[string]any{"requiresManualSettlement": true, "failureReason": err.Error()},
		})
		o.log.Error().Str("reference", event.Reference).Err(err).Msg("onramp send failed after payment received — manual settlement required")
		return sswaperr.PayoutFailure(err, "blockchain send failed after payment was confirmed")
	}

	confirmed := model.StatusConfirmed
	now := time.Now()
	_, err = o.store.ConditionalUpdate(ctx, event.Reference, model.StatusProcessing, txstore.Mutation{
		Status:      &confirmed,
		ChainTxID:   &txID,
		ConfirmedAt: &now,
	})
	return err
}
