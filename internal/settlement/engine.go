// Package settlement implements C8: the coordinator that owns the
// Transaction status machine and enforces exactly-once payout.
package settlement

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/sswap/engine/internal/liquidity"
	"github.com/sswap/engine/internal/metrics"
	"github.com/sswap/engine/internal/model"
	"github.com/sswap/engine/internal/payout"
	"github.com/sswap/engine/internal/priceoracle"
	"github.com/sswap/engine/internal/sswaperr"
	"github.com/sswap/engine/internal/txstore"
)

var (
	stacksAddressRe = regexp.MustCompile(`^(SP|SM|ST)[0-9A-Z]{20,50}$`)
	accountNumberRe = regexp.MustCompile(`^\d{10}$`)
)

// UnderdeliveryPolicy governs how ConfirmReceipt reacts to an amount
// mismatch between what the chain delivered and what was quoted at init
// (spec §9 open question, decided in SPEC_FULL.md §9).
type UnderdeliveryPolicy string

const (
	PolicyAcceptAndFlag UnderdeliveryPolicy = "accept-and-flag"
	PolicyReject        UnderdeliveryPolicy = "reject"
)

// Config holds the settlement engine's tunables.
type Config struct {
	PlatformSTXAddress   string
	MinTokenAmount       decimal.Decimal
	MaxTokenAmount       decimal.Decimal
	FlatFeeNGN           int64
	OfframpWindow        time.Duration
	UnderdeliveryPolicy  UnderdeliveryPolicy
	UnderdeliveryTolerance decimal.Decimal // fraction, default 0.001
}

// WatcherSpawner launches C7 for a newly-broadcast transaction. It is
// supplied by the wiring layer (cmd/) to avoid internal/settlement
// importing internal/watcher, which in turn imports settlement and holds
// an *Engine directly.
type WatcherSpawner func(reference, chainTxID string)

// Engine is the C8 settlement engine.
type Engine struct {
	cfg      Config
	store    txstore.Store
	payouts  payout.Provider
	oracle   *priceoracle.Cache
	guard    *liquidity.Guard
	log      zerolog.Logger
	metrics  *metrics.Collectors
	spawner  WatcherSpawner
}

func New(cfg Config, store txstore.Store, payouts payout.Provider, oracle *priceoracle.Cache, guard *liquidity.Guard, log zerolog.Logger, m *metrics.Collectors) *Engine {
	if cfg.UnderdeliveryTolerance.IsZero() {
		cfg.UnderdeliveryTolerance = decimal.NewFromFloat(0.001)
	}
	return &Engine{cfg: cfg, store: store, payouts: payouts, oracle: oracle, guard: guard, log: log, metrics: m}
}

// SetWatcherSpawner is called once during wiring, after the watcher manager
// is constructed (which itself needs a reference to this Engine).
func (e *Engine) SetWatcherSpawner(s WatcherSpawner) { e.spawner = s }

// InitializeOfframpRequest is the inbound payload for InitializeOfframp.
type InitializeOfframpRequest struct {
	Token         model.Token
	TokenAmount   decimal.Decimal
	SenderAddress string
	BankCode      string
	AccountNumber string
}

// InitializeOfframpResponse carries the created record plus deposit
// instructions, per spec §4.8 step 6.
type InitializeOfframpResponse struct {
	Transaction      *model.Transaction
	DepositAddress   string
	DepositAmount    decimal.Decimal
	Memo             string
}

// InitializeOfframp validates the request, resolves the bank account,
// quotes, gates on liquidity, and persists a pending Transaction.
func (e *Engine) InitializeOfframp(ctx context.Context, req InitializeOfframpRequest) (*InitializeOfframpResponse, error) {
	if !req.Token.Valid() {
		return nil, sswaperr.New(sswaperr.KindValidation, "token must be STX or USDC")
	}
	if req.TokenAmount.LessThan(e.cfg.MinTokenAmount) || req.TokenAmount.GreaterThan(e.cfg.MaxTokenAmount) {
		return nil, sswaperr.Newf(sswaperr.KindValidation, "tokenAmount must be between %s and %s", e.cfg.MinTokenAmount, e.cfg.MaxTokenAmount)
	}
	if !stacksAddressRe.MatchString(req.SenderAddress) {
		return nil, sswaperr.New(sswaperr.KindValidation, "senderAddress is not a valid Stacks address")
	}
	if !accountNumberRe.MatchString(req.AccountNumber) {
		return nil, sswaperr.New(sswaperr.KindValidation, "accountNumber must be 10 digits")
	}

	account, err := e.payouts.ResolveAccount(ctx, req.BankCode, req.AccountNumber)
	if err != nil {
		return nil, err
	}

	if e.cfg.PlatformSTXAddress == "" {
		return nil, sswaperr.New(sswaperr.KindConfigMissing, "platform deposit address not configured")
	}

	snap := e.oracle.GetCurrent(ctx)
	rate := snap.USDC.PriceNGN
	if req.Token == model.TokenSTX {
		rate = snap.STX.PriceNGN
	}
	gross := req.TokenAmount.Mul(rate)
	ngnAmount := gross.Sub(decimal.NewFromInt(e.cfg.FlatFeeNGN)).Floor().IntPart()
	if ngnAmount <= 0 {
		return nil, sswaperr.New(sswaperr.KindValidation, "computed ngnAmount is not positive")
	}

	liq, err := e.guard.CheckLiquidity(ctx, ngnAmount)
	if err != nil {
		return nil, sswaperr.Wrap(sswaperr.KindLiquidityUnavailable, err, "liquidity check failed")
	}
	if liq.Unknown {
		return nil, sswaperr.WithCode(sswaperr.KindLiquidityUnavailable, "LIQUIDITY_UNKNOWN", "platform balance is currently unknown")
	}
	if !liq.Ok {
		maxOrder, _ := e.guard.GetMaxOrderNGN(ctx)
		return nil, insufficientLiquidityErr(maxOrder.MaxOrderNGN)
	}

	now := time.Now()
	tx := &model.Transaction{
		Reference:        model.NewReference(model.DirectionOfframp),
		Token:            req.Token,
		Direction:        model.DirectionOfframp,
		TokenAmount:      req.TokenAmount,
		NGNAmount:        ngnAmount,
		FeeNGN:           e.cfg.FlatFeeNGN,
		RateAtTime:       rate,
		SenderAddress:    req.SenderAddress,
		RecipientAddress: e.cfg.PlatformSTXAddress,
		Status:           model.StatusPending,
		BankDetails: &model.BankDetails{
			BankCode:      req.BankCode,
			AccountNumber: req.AccountNumber,
			AccountName:   account.AccountName,
			BankName:      account.BankName,
		},
		ExpiresAt: now.Add(e.cfg.OfframpWindow),
		Meta: map[string]any{
			"balanceAtOrderTime": liq.Available,
		},
		CreatedAt: now,
	}
	tx.AddAuditEntry("initialized", "settlement_engine", fmt.Sprintf("ngnAmount=%d rate=%s", ngnAmount, rate))

	if err := e.store.Create(ctx, tx); err != nil {
		return nil, sswaperr.Wrap(sswaperr.KindInternal, err, "failed to persist transaction")
	}

	e.log.Info().Str("reference", tx.Reference).Int64("ngnAmount", ngnAmount).Msg("offramp initialized")

	return &InitializeOfframpResponse{
		Transaction:    tx,
		DepositAddress: e.cfg.PlatformSTXAddress,
		DepositAmount:  req.TokenAmount,
		Memo:           tx.Reference,
	}, nil
}

func insufficientLiquidityErr(maxOrderNGN int64) *sswaperr.Error {
	return &sswaperr.Error{
		Kind:    sswaperr.KindLiquidityUnavailable,
		Code:    "INSUFFICIENT_LIQUIDITY",
		Message: "platform liquidity is insufficient for this order",
		Fields:  map[string]any{"maxOrderNGN": maxOrderNGN},
	}
}

// NotifyTxBroadcast records the user's broadcast tx id and spawns C7.
func (e *Engine) NotifyTxBroadcast(ctx context.Context, reference, chainTxID string) error {
	tx, err := e.store.FindByReference(ctx, reference)
	if err != nil {
		return sswaperr.Wrap(sswaperr.KindInternal, err, "lookup failed")
	}
	if tx == nil {
		return sswaperr.New(sswaperr.KindNotFound, "no such offramp reference")
	}
	if tx.Status == model.StatusProcessing || tx.Status == model.StatusSettling || tx.Status == model.StatusConfirmed {
		return nil // "already processing" per spec §4.8
	}

	chainID := chainTxID
	if _, err := e.store.ConditionalUpdate(ctx, reference, model.StatusPending, txstore.Mutation{ChainTxID: &chainID}); err != nil {
		return sswaperr.Wrap(sswaperr.KindInternal, err, "failed to record broadcast tx id")
	}

	if e.spawner != nil {
		e.spawner(reference, chainTxID)
	}
	return nil
}

// FailPendingTx conditionally transitions a still-pending offramp to failed
// with the given reason. It is a no-op (no error) if the record has already
// moved past pending — the indexer or a concurrent watcher claimed it first.
// Used by C7 on wallet-reported abort and on watcher timeout (spec §4.7).
func (e *Engine) FailPendingTx(ctx context.Context, reference, reason string) error {
	failed := model.StatusFailed
	_, err := e.store.ConditionalUpdate(ctx, reference, model.StatusPending, txstore.Mutation{
		Status:    &failed,
		MetaPatch: map[string]any{"failureReason": reason},
	})
	if err != nil {
		return sswaperr.Wrap(sswaperr.KindInternal, err, "failed to mark transaction failed")
	}
	return nil
}

// ConfirmReceiptRequest is the payload delivered by C6 or C7.
type ConfirmReceiptRequest struct {
	Reference     string
	ChainTxID     string
	TokenAmount   decimal.Decimal
	Token         model.Token
	SenderAddress string
}

// ConfirmReceiptOutcome distinguishes "this call won the CAS and drove the
// payout" from the idempotent-repeat and not-found cases named in spec
// §4.8, so HTTP handlers can map to the right status code.
type ConfirmReceiptOutcome int

const (
	OutcomePayoutInitiated ConfirmReceiptOutcome = iota
	OutcomeAlreadyProcessed
	OutcomeNotFound
	OutcomeUnexpectedState
)

// String renders the outcome as the label value for the confirm_receipt_total metric.
func (o ConfirmReceiptOutcome) String() string {
	switch o {
	case OutcomePayoutInitiated:
		return "payout_initiated"
	case OutcomeAlreadyProcessed:
		return "already_processed"
	case OutcomeNotFound:
		return "not_found"
	default:
		return "unexpected_state"
	}
}

// ConfirmReceipt is the critical atomic operation of the settlement engine
// (spec §4.8). Only the goroutine that wins the CAS proceeds to the payout.
func (e *Engine) ConfirmReceipt(ctx context.Context, req ConfirmReceiptRequest) (outcome ConfirmReceiptOutcome, tx *model.Transaction, err error) {
	if e.metrics != nil {
		defer func() { e.metrics.ConfirmReceiptTotal.WithLabelValues(outcome.String()).Inc() }()
	}

	processing := model.StatusProcessing
	chainTxID := req.ChainTxID

	won, err := e.store.ConditionalUpdate(ctx, req.Reference, model.StatusPending, txstore.Mutation{
		Status:    &processing,
		ChainTxID: &chainTxID,
		MetaPatch: map[string]any{"tokenReceivedAt": time.Now()},
	})
	if err != nil {
		return OutcomeUnexpectedState, nil, sswaperr.Wrap(sswaperr.KindInternal, err, "conditional update failed")
	}

	if won == nil {
		existing, err := e.store.FindByReference(ctx, req.Reference)
		if err != nil {
			return OutcomeUnexpectedState, nil, sswaperr.Wrap(sswaperr.KindInternal, err, "lookup failed")
		}
		if existing == nil {
			return OutcomeNotFound, nil, sswaperr.New(sswaperr.KindNotFound, "no such reference")
		}
		switch existing.Status {
		case model.StatusProcessing, model.StatusSettling, model.StatusConfirmed:
			return OutcomeAlreadyProcessed, existing, nil
		default:
			return OutcomeUnexpectedState, existing, sswaperr.New(sswaperr.KindConflictOfState, "transaction is in an unexpected terminal state")
		}
	}

	if mismatch := won.TokenAmount.Sub(req.TokenAmount).Abs(); mismatch.GreaterThan(won.TokenAmount.Mul(e.cfg.UnderdeliveryTolerance)) {
		e.log.Warn().Str("reference", req.Reference).Str("expected", won.TokenAmount.String()).Str("delivered", req.TokenAmount.String()).Msg("amount mismatch on receipt")

		if e.cfg.UnderdeliveryPolicy == PolicyReject {
			failed := model.StatusFailed
			e.store.ConditionalUpdate(ctx, req.Reference, model.StatusProcessing, txstore.Mutation{
				Status:    &failed,
				MetaPatch: map[string]any{"failureReason": "underdelivery rejected by policy", "amountMismatch": true},
			})
			return OutcomeUnexpectedState, won, sswaperr.New(sswaperr.KindConflictOfState, "delivered amount does not match quoted amount")
		}

		e.store.ConditionalUpdate(ctx, req.Reference, model.StatusProcessing, txstore.Mutation{MetaPatch: map[string]any{"amountMismatch": true}})
	}

	result, err := e.payouts.InitiateTransfer(ctx, won.NGNAmount, won.BankDetails.BankCode, won.BankDetails.AccountNumber, req.Reference)
	if err != nil {
		failed := model.StatusFailed
		e.store.ConditionalUpdate(ctx, req.Reference, model.StatusProcessing, txstore.Mutation{
			Status: &failed,
			MetaPatch: map[string]any{
				"requiresManualSettlement": true,
				"failureReason":            err.Error(),
			},
		})
		if e.metrics != nil {
			e.metrics.PayoutFailures.Inc()
		}
		e.log.Error().Str("reference", req.Reference).Str("chainTxId", req.ChainTxID).Int64("ngnAmount", won.NGNAmount).Err(err).Msg("payout failed after chain receipt — manual settlement required")
		return OutcomeUnexpectedState, won, sswaperr.PayoutFailure(err, "payout initiation failed after tokens were received")
	}

	settling := model.StatusSettling
	providerTxID := result.TransferID
	final, err := e.store.ConditionalUpdate(ctx, req.Reference, model.StatusProcessing, txstore.Mutation{
		Status:             &settling,
		PayoutProviderTxID: &providerTxID,
	})
	if err != nil {
		return OutcomeUnexpectedState, won, sswaperr.Wrap(sswaperr.KindInternal, err, "failed to record settling transition")
	}

	if e.metrics != nil {
		e.metrics.PayoutsInitiated.Inc()
	}
	return OutcomePayoutInitiated, final, nil
}

// HandlePayoutWebhook reacts to the payout provider's terminal-state
// notifications (spec §4.8).
func (e *Engine) HandlePayoutWebhook(ctx context.Context, rawBody []byte, signature string) error {
	if !e.payouts.VerifyWebhookSignature(rawBody, signature) {
		return sswaperr.New(sswaperr.KindAuthFailure, "invalid webhook signature")
	}

	event, err := parseWebhookEvent(rawBody)
	if err != nil {
		return sswaperr.Wrap(sswaperr.KindValidation, err, "malformed webhook payload")
	}

	switch event.Type {
	case "transfer.completed":
		confirmed := model.StatusConfirmed
		now := time.Now()
		_, err := e.store.ConditionalUpdate(ctx, event.Reference, model.StatusSettling, txstore.Mutation{
			Status:      &confirmed,
			ConfirmedAt: &now,
		})
		if err != nil {
			return sswaperr.Wrap(sswaperr.KindInternal, err, "failed to confirm transaction")
		}
		return nil
	case "transfer.failed", "transfer.reversed":
		failed := model.StatusFailed
		tx, err := e.store.ConditionalUpdate(ctx, event.Reference, model.StatusSettling, txstore.Mutation{
			Status:    &failed,
			MetaPatch: map[string]any{"failureReason": event.FailureMessage, "requiresManualRefund": true},
		})
		if err != nil {
			return sswaperr.Wrap(sswaperr.KindInternal, err, "failed to mark transaction failed")
		}
		if tx != nil {
			e.log.Error().Str("reference", event.Reference).Str("senderAddress", tx.SenderAddress).Msg("payout failed post-settling — manual refund of received tokens required")
		}
		return nil
	default:
		return nil
	}
}
