package orders

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/GeniusSecret1117/zeroloss-backend/internal/binance"
	"github.com/GeniusSecret1117/zeroloss-backend/internal/symbols"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	defaultPollInterval = time.Second
	defaultPollAttempts = 10
)

// Exchange is the slice of the gateway the orchestrator drives.
type Exchange interface {
	SetLeverage(ctx context.Context, creds binance.Credentials, symbol string, leverage int) error
	PlaceOrder(ctx context.Context, creds binance.Credentials, order binance.OrderParams) (*binance.OrderResult, error)
	GetOrder(ctx context.Context, creds binance.Credentials, symbol string, orderID int64) (*binance.OrderResult, error)
	TickerPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// Request describes one leveraged entry with an attached take-profit.
// A zero LimitPrice means a market entry.
type Request struct {
	UserID            uuid.UUID
	Symbol            string
	Side              string
	Quantity          decimal.Decimal
	Leverage          int
	TakeProfitPercent decimal.Decimal
	LimitPrice        decimal.Decimal
	// BestEffortPrice lets an out-of-band limit or take-profit price be
	// pulled to the nearest permitted boundary instead of failing.
	BestEffortPrice bool
}

// Placement is the successful outcome: a filled entry protected by a
// resting take-profit order.
type Placement struct {
	Symbol       string          `json:"symbol"`
	Side         string          `json:"side"`
	Leverage     int             `json:"leverage"`
	Quantity     decimal.Decimal `json:"quantity"`
	EntryOrderID int64           `json:"entry_order_id"`
	EntryPrice   decimal.Decimal `json:"entry_price"`
	TPOrderID    int64           `json:"tp_order_id"`
	TPPrice      decimal.Decimal `json:"tp_price"`
	FillPolls    int             `json:"-"`
}

type Orchestrator struct {
	exchange     Exchange
	rules        *symbols.Rules
	slots        *slotTable
	logger       *slog.Logger
	pollInterval time.Duration
	pollAttempts int
}

type Option func(*Orchestrator)

func WithPollInterval(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

func WithPollAttempts(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.pollAttempts = n
		}
	}
}

func NewOrchestrator(exchange Exchange, rules *symbols.Rules, logger *slog.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		exchange:     exchange,
		rules:        rules,
		slots:        newSlotTable(),
		logger:       logger,
		pollInterval: defaultPollInterval,
		pollAttempts: defaultPollAttempts,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Place runs the full placement sequence: set leverage, submit the market
// entry, wait for the fill, then attach the take-profit. Each step is only
// attempted once the previous one succeeded, and a failure reports the exact
// phase it interrupted.
func (o *Orchestrator) Place(ctx context.Context, creds binance.Credentials, req Request) (*Placement, error) {
	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))

	release, ok := o.slots.acquire(req.UserID, symbol)
	if !ok {
		return nil, ErrPlacementInFlight
	}
	defer release()

	filters, err := o.rules.Filters(ctx, symbol)
	if err != nil {
		return nil, err
	}

	quantity := symbols.AdjustQuantity(req.Quantity, filters)
	if quantity.LessThanOrEqual(decimal.Zero) {
		return nil, ErrQuantityTooSmall
	}

	log := o.logger.With("user_id", req.UserID, "symbol", symbol, "side", req.Side)

	entryParams := binance.OrderParams{
		Symbol:   symbol,
		Side:     req.Side,
		Type:     binance.OrderTypeMarket,
		Quantity: quantity,
	}
	if req.LimitPrice.GreaterThan(decimal.Zero) {
		market, err := o.exchange.TickerPrice(ctx, symbol)
		if err != nil {
			return nil, fmt.Errorf("fetch market price: %w", err)
		}
		price, err := symbols.ValidatePriceBand(symbols.AdjustPrice(req.LimitPrice, filters), market, filters, req.BestEffortPrice)
		if err != nil {
			return nil, err
		}
		entryParams.Type = binance.OrderTypeLimit
		entryParams.Price = price
		entryParams.TimeInForce = binance.TimeInForceGTC
	}

	if err := o.exchange.SetLeverage(ctx, creds, symbol, req.Leverage); err != nil {
		return nil, &PlacementError{Phase: PhaseCreated, Reason: ReasonLeverageRejected, Err: err}
	}
	log.Info("leverage set", "leverage", req.Leverage)

	entry, err := o.exchange.PlaceOrder(ctx, creds, entryParams)
	if err != nil {
		return nil, &PlacementError{Phase: PhaseLeverageSet, Reason: ReasonEntryRejected, Err: err}
	}
	log.Info("entry submitted", "order_id", entry.OrderID)

	entryPrice, fillPolls, err := o.awaitFill(ctx, creds, symbol, entry)
	if err != nil {
		return nil, err
	}
	log.Info("entry filled", "order_id", entry.OrderID, "price", entryPrice)

	tpPrice, err := o.takeProfitPrice(ctx, symbol, req, entryPrice, filters)
	if err != nil {
		return nil, &PlacementError{
			Phase:        PhaseEntryFilled,
			Reason:       ReasonTakeProfitRejected,
			EntryOrderID: entry.OrderID,
			Unprotected:  true,
			Err:          err,
		}
	}

	tp, err := o.exchange.PlaceOrder(ctx, creds, binance.OrderParams{
		Symbol:        symbol,
		Side:          oppositeSide(req.Side),
		Type:          binance.OrderTypeTakeProfitMarket,
		StopPrice:     tpPrice,
		ClosePosition: true,
	})
	if err != nil {
		return nil, &PlacementError{
			Phase:        PhaseEntryFilled,
			Reason:       ReasonTakeProfitRejected,
			EntryOrderID: entry.OrderID,
			Unprotected:  true,
			Err:          err,
		}
	}
	log.Info("take profit submitted", "order_id", tp.OrderID, "stop_price", tpPrice)

	return &Placement{
		Symbol:       symbol,
		Side:         req.Side,
		Leverage:     req.Leverage,
		Quantity:     quantity,
		EntryOrderID: entry.OrderID,
		EntryPrice:   entryPrice,
		TPOrderID:    tp.OrderID,
		TPPrice:      tpPrice,
		FillPolls:    fillPolls,
	}, nil
}

// awaitFill resolves the entry's average fill price. The submit response is
// trusted when it already reports a fill; otherwise the order is polled a
// bounded number of times. Running out of attempts is a hard failure: the
// take-profit is never priced off a guess.
func (o *Orchestrator) awaitFill(ctx context.Context, creds binance.Credentials, symbol string, entry *binance.OrderResult) (decimal.Decimal, int, error) {
	if filled(entry) {
		return entry.AvgPrice, 0, nil
	}

	for attempt := 0; attempt < o.pollAttempts; attempt++ {
		if err := sleep(ctx, o.pollInterval); err != nil {
			return decimal.Zero, attempt, err
		}

		current, err := o.exchange.GetOrder(ctx, creds, symbol, entry.OrderID)
		if err != nil {
			o.logger.Warn("fill poll failed", "order_id", entry.OrderID, "attempt", attempt+1, "error", err)
			continue
		}
		if filled(current) {
			return current.AvgPrice, attempt + 1, nil
		}
		switch current.Status {
		case binance.OrderStatusCanceled, binance.OrderStatusExpired:
			return decimal.Zero, attempt + 1, &PlacementError{
				Phase:        PhaseEntrySubmitted,
				Reason:       ReasonEntryRejected,
				EntryOrderID: entry.OrderID,
				Err:          fmt.Errorf("entry order %s", strings.ToLower(current.Status)),
			}
		}
	}

	return decimal.Zero, o.pollAttempts, &PlacementError{
		Phase:        PhaseEntrySubmitted,
		Reason:       ReasonFillTimeout,
		EntryOrderID: entry.OrderID,
		Unprotected:  true,
		Err:          fmt.Errorf("entry order %d not filled after %d polls", entry.OrderID, o.pollAttempts),
	}
}

func (o *Orchestrator) takeProfitPrice(ctx context.Context, symbol string, req Request, entryPrice decimal.Decimal, filters symbols.Filter) (decimal.Decimal, error) {
	offset := req.TakeProfitPercent.Div(decimal.NewFromInt(100))
	var raw decimal.Decimal
	if strings.EqualFold(req.Side, binance.SideSell) {
		raw = entryPrice.Mul(decimal.NewFromInt(1).Sub(offset))
	} else {
		raw = entryPrice.Mul(decimal.NewFromInt(1).Add(offset))
	}
	candidate := symbols.AdjustPrice(raw, filters)

	market, err := o.exchange.TickerPrice(ctx, symbol)
	if err != nil {
		return decimal.Zero, fmt.Errorf("fetch market price: %w", err)
	}
	return symbols.ValidatePriceBand(candidate, market, filters, req.BestEffortPrice)
}

func filled(order *binance.OrderResult) bool {
	return order.Status == binance.OrderStatusFilled && order.AvgPrice.GreaterThan(decimal.Zero)
}

func oppositeSide(side string) string {
	if strings.EqualFold(side, binance.SideBuy) {
		return binance.SideSell
	}
	return binance.SideBuy
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
