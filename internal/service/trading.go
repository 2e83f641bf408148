package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/GeniusSecret1117/zeroloss-backend/internal/binance"
	"github.com/GeniusSecret1117/zeroloss-backend/internal/orders"
	"github.com/GeniusSecret1117/zeroloss-backend/internal/rate"
	"github.com/GeniusSecret1117/zeroloss-backend/internal/snapshot"
	"github.com/GeniusSecret1117/zeroloss-backend/internal/storage"
	"github.com/GeniusSecret1117/zeroloss-backend/internal/vault"
	"github.com/GeniusSecret1117/zeroloss-backend/libs/kafka"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var ErrInvalidNotional = errors.New("notional amount must be positive")

// RateLimitError tells the caller when the placement window reopens.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("placement rate limit exceeded, retry after %s", e.RetryAfter)
}

type CredentialSource interface {
	Load(ctx context.Context, userID uuid.UUID) (*vault.Credentials, error)
	Save(ctx context.Context, userID uuid.UUID, update vault.Update) error
}

type Placer interface {
	Place(ctx context.Context, creds binance.Credentials, req orders.Request) (*orders.Placement, error)
}

type Snapshots interface {
	Fetch(ctx context.Context, creds binance.Credentials, symbol string) *snapshot.Snapshot
	FundingFeesRange(ctx context.Context, creds binance.Credentials, start, end int64) ([]binance.IncomeRecord, error)
	TransactionsRange(ctx context.Context, creds binance.Credentials, start, end int64) ([]binance.IncomeRecord, error)
}

type TickerSource interface {
	TickerPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

type PlacementJournal interface {
	InsertPlacement(ctx context.Context, p *storage.Placement) error
	ListPlacements(ctx context.Context, userID uuid.UUID, limit int) ([]storage.Placement, error)
}

// Trading is the façade the HTTP layer talks to. It owns credential
// resolution, rate limiting, notional-to-quantity conversion and the
// bookkeeping around a placement; the orchestrator owns the exchange
// sequence itself.
type Trading struct {
	vault     CredentialSource
	placer    Placer
	snapshots Snapshots
	ticker    TickerSource
	journal   PlacementJournal
	limiter   rate.Limiter
	producer  kafka.Publisher
	logger    *slog.Logger
	metrics   *Metrics
	topic     string
}

type TradingConfig struct {
	Vault     CredentialSource
	Placer    Placer
	Snapshots Snapshots
	Ticker    TickerSource
	Journal   PlacementJournal
	Limiter   rate.Limiter
	Producer  kafka.Publisher
	Logger    *slog.Logger
	Metrics   *Metrics
	Topic     string
}

func NewTrading(cfg TradingConfig) *Trading {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Trading{
		vault:     cfg.Vault,
		placer:    cfg.Placer,
		snapshots: cfg.Snapshots,
		ticker:    cfg.Ticker,
		journal:   cfg.Journal,
		limiter:   cfg.Limiter,
		producer:  cfg.Producer,
		logger:    logger,
		metrics:   cfg.Metrics,
		topic:     cfg.Topic,
	}
}

type PlaceOrderInput struct {
	UserID            uuid.UUID
	Symbol            string
	Side              string
	NotionalAmount    decimal.Decimal
	Leverage          int
	TakeProfitPercent decimal.Decimal
	LimitPrice        decimal.Decimal
	BestEffortPrice   bool
	CorrelationID     string
}

// PlaceOrder runs one leveraged placement for the user. The notional amount
// is the order size in quote currency; quantity is that amount at the
// reference price (the limit price when given, the mark otherwise).
func (t *Trading) PlaceOrder(ctx context.Context, input PlaceOrderInput) (*orders.Placement, error) {
	start := time.Now()

	if t.limiter != nil {
		allowed, retryAfter, err := t.limiter.Allow(ctx, input.UserID.String(), time.Now())
		if err != nil {
			t.logger.Warn("rate limiter unavailable, allowing placement", "error", err)
		} else if !allowed {
			t.observe("rate_limited", start)
			return nil, &RateLimitError{RetryAfter: retryAfter}
		}
	}

	creds, err := t.credentials(ctx, input.UserID)
	if err != nil {
		t.observe("error", start)
		return nil, err
	}

	quantity, err := t.positionSize(ctx, input)
	if err != nil {
		t.observe("error", start)
		return nil, err
	}

	placement, err := t.placer.Place(ctx, creds, orders.Request{
		UserID:            input.UserID,
		Symbol:            input.Symbol,
		Side:              input.Side,
		Quantity:          quantity,
		Leverage:          input.Leverage,
		TakeProfitPercent: input.TakeProfitPercent,
		LimitPrice:        input.LimitPrice,
		BestEffortPrice:   input.BestEffortPrice,
	})
	if err != nil {
		t.recordFailure(ctx, input, err, start)
		return nil, err
	}

	t.observe("completed", start)
	if t.metrics != nil {
		t.metrics.FillPollAttempts.Observe(float64(placement.FillPolls))
	}
	t.journalPlacement(ctx, input, placement, nil)
	t.publishCompleted(ctx, input, placement)
	return placement, nil
}

func (t *Trading) credentials(ctx context.Context, userID uuid.UUID) (binance.Credentials, error) {
	stored, err := t.vault.Load(ctx, userID)
	if err != nil {
		return binance.Credentials{}, err
	}
	return binance.NewCredentials(stored.APIKey, stored.SecretKey)
}

func (t *Trading) positionSize(ctx context.Context, input PlaceOrderInput) (decimal.Decimal, error) {
	if input.NotionalAmount.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, ErrInvalidNotional
	}

	reference := input.LimitPrice
	if reference.LessThanOrEqual(decimal.Zero) {
		price, err := t.ticker.TickerPrice(ctx, input.Symbol)
		if err != nil {
			return decimal.Zero, fmt.Errorf("fetch reference price: %w", err)
		}
		reference = price
	}
	if reference.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, fmt.Errorf("reference price for %s is zero", input.Symbol)
	}

	// Leverage only sets the margin multiplier on the exchange; it never
	// scales the order itself.
	return input.NotionalAmount.Div(reference), nil
}

func (t *Trading) recordFailure(ctx context.Context, input PlaceOrderInput, err error, start time.Time) {
	var placementErr *orders.PlacementError
	if errors.As(err, &placementErr) {
		t.observe(string(placementErr.Reason), start)
		t.journalPlacement(ctx, input, nil, placementErr)
		t.publishFailed(ctx, input, placementErr)
		return
	}
	t.observe("error", start)
}

func (t *Trading) observe(result string, start time.Time) {
	if t.metrics == nil {
		return
	}
	t.metrics.Placements.WithLabelValues(result).Inc()
	t.metrics.PlacementLatency.WithLabelValues(result).Observe(time.Since(start).Seconds())
}

func (t *Trading) journalPlacement(ctx context.Context, input PlaceOrderInput, placement *orders.Placement, placementErr *orders.PlacementError) {
	if t.journal == nil {
		return
	}
	row := &storage.Placement{
		UserID:   input.UserID,
		Symbol:   input.Symbol,
		Side:     input.Side,
		Leverage: input.Leverage,
	}
	if placement != nil {
		row.Quantity = placement.Quantity
		row.EntryOrderID = placement.EntryOrderID
		row.EntryPrice = placement.EntryPrice
		row.TPOrderID = placement.TPOrderID
		row.TPPrice = placement.TPPrice
		row.Outcome = "completed"
	} else {
		row.Outcome = "failed"
		row.FailureReason = string(placementErr.Reason)
		row.EntryOrderID = placementErr.EntryOrderID
		row.Unprotected = placementErr.Unprotected
	}
	if err := t.journal.InsertPlacement(ctx, row); err != nil {
		t.logger.Error("journal placement failed", "error", err)
	}
}

func (t *Trading) publishCompleted(ctx context.Context, input PlaceOrderInput, placement *orders.Placement) {
	if t.producer == nil {
		return
	}
	env, err := kafka.NewEnvelope(eventPlacementCompleted, 1, input.CorrelationID)
	if err != nil {
		t.logger.Error("build placement event envelope failed", "error", err)
		return
	}
	// A republished outcome keeps the same id so consumers can dedupe.
	env.EventID = kafka.DeterministicEventID(eventPlacementCompleted,
		input.UserID.String(), placement.Symbol, strconv.FormatInt(placement.EntryOrderID, 10))
	event := PlacementCompletedEvent{
		Envelope:     env,
		UserID:       input.UserID.String(),
		Symbol:       placement.Symbol,
		Side:         placement.Side,
		Leverage:     placement.Leverage,
		Quantity:     placement.Quantity.String(),
		EntryOrderID: placement.EntryOrderID,
		EntryPrice:   placement.EntryPrice.String(),
		TPOrderID:    placement.TPOrderID,
		TPPrice:      placement.TPPrice.String(),
	}
	if _, _, err := t.producer.PublishJSON(ctx, t.topic, placement.Symbol, event); err != nil {
		t.logger.Error("publish placement completed failed", "error", err)
	}
}

func (t *Trading) publishFailed(ctx context.Context, input PlaceOrderInput, placementErr *orders.PlacementError) {
	if t.producer == nil {
		return
	}
	env, err := kafka.NewEnvelope(eventPlacementFailed, 1, input.CorrelationID)
	if err != nil {
		t.logger.Error("build placement event envelope failed", "error", err)
		return
	}
	env.EventID = kafka.DeterministicEventID(eventPlacementFailed,
		input.UserID.String(), input.Symbol, input.CorrelationID,
		string(placementErr.Phase), strconv.FormatInt(placementErr.EntryOrderID, 10))
	event := PlacementFailedEvent{
		Envelope:     env,
		UserID:       input.UserID.String(),
		Symbol:       input.Symbol,
		Side:         input.Side,
		Phase:        string(placementErr.Phase),
		Reason:       string(placementErr.Reason),
		EntryOrderID: placementErr.EntryOrderID,
		Unprotected:  placementErr.Unprotected,
	}
	if _, _, err := t.producer.PublishJSON(ctx, t.topic, input.Symbol, event); err != nil {
		t.logger.Error("publish placement failed event failed", "error", err)
	}
}

// Snapshot aggregates the user's account state; failed reads are surfaced
// in the result and counted, not fatal.
func (t *Trading) Snapshot(ctx context.Context, userID uuid.UUID, symbol string) (*snapshot.Snapshot, error) {
	creds, err := t.credentials(ctx, userID)
	if err != nil {
		return nil, err
	}
	snap := t.snapshots.Fetch(ctx, creds, symbol)
	if t.metrics != nil {
		for _, field := range snap.FailedFields {
			t.metrics.SnapshotFieldFailures.WithLabelValues(field).Inc()
		}
	}
	return snap, nil
}

func (t *Trading) FundingFees(ctx context.Context, userID uuid.UUID, start, end int64) ([]binance.IncomeRecord, error) {
	creds, err := t.credentials(ctx, userID)
	if err != nil {
		return nil, err
	}
	return t.snapshots.FundingFeesRange(ctx, creds, start, end)
}

func (t *Trading) Transactions(ctx context.Context, userID uuid.UUID, start, end int64) ([]binance.IncomeRecord, error) {
	creds, err := t.credentials(ctx, userID)
	if err != nil {
		return nil, err
	}
	return t.snapshots.TransactionsRange(ctx, creds, start, end)
}

// OrderHistory returns the user's recorded placements, newest first.
func (t *Trading) OrderHistory(ctx context.Context, userID uuid.UUID, limit int) ([]storage.Placement, error) {
	return t.journal.ListPlacements(ctx, userID, limit)
}

// SaveCredentials applies a partial credential update.
func (t *Trading) SaveCredentials(ctx context.Context, userID uuid.UUID, update vault.Update) (*vault.Credentials, error) {
	if err := t.vault.Save(ctx, userID, update); err != nil {
		if t.metrics != nil {
			t.metrics.CredentialUpdates.WithLabelValues("error").Inc()
		}
		return nil, err
	}
	if t.metrics != nil {
		t.metrics.CredentialUpdates.WithLabelValues("ok").Inc()
	}
	return t.vault.Load(ctx, userID)
}

func (t *Trading) GetCredentials(ctx context.Context, userID uuid.UUID) (*vault.Credentials, error) {
	return t.vault.Load(ctx, userID)
}
