package orders

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/GeniusSecret1117/zeroloss-backend/internal/binance"
	"github.com/GeniusSecret1117/zeroloss-backend/internal/symbols"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type fakeExchange struct {
	mu sync.Mutex

	leverageErr   error
	leverageCalls []int

	placeResults []*binance.OrderResult
	placeErrs    []error
	placed       []binance.OrderParams

	pollResults []*binance.OrderResult
	pollErrs    []error
	polls       int

	ticker    decimal.Decimal
	tickerErr error

	entered chan struct{}
	proceed chan struct{}
}

func (f *fakeExchange) SetLeverage(_ context.Context, _ binance.Credentials, _ string, leverage int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leverageCalls = append(f.leverageCalls, leverage)
	return f.leverageErr
}

func (f *fakeExchange) PlaceOrder(_ context.Context, _ binance.Credentials, order binance.OrderParams) (*binance.OrderResult, error) {
	f.mu.Lock()
	f.placed = append(f.placed, order)
	idx := len(f.placed) - 1
	f.mu.Unlock()

	if f.entered != nil && idx == 0 {
		f.entered <- struct{}{}
		<-f.proceed
	}

	var err error
	if idx < len(f.placeErrs) {
		err = f.placeErrs[idx]
	}
	if err != nil {
		return nil, err
	}
	if idx < len(f.placeResults) {
		return f.placeResults[idx], nil
	}
	return &binance.OrderResult{OrderID: int64(1000 + idx), Status: binance.OrderStatusNew}, nil
}

func (f *fakeExchange) GetOrder(_ context.Context, _ binance.Credentials, _ string, _ int64) (*binance.OrderResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.polls
	f.polls++
	if idx < len(f.pollErrs) && f.pollErrs[idx] != nil {
		return nil, f.pollErrs[idx]
	}
	if idx < len(f.pollResults) {
		return f.pollResults[idx], nil
	}
	if n := len(f.pollResults); n > 0 {
		return f.pollResults[n-1], nil
	}
	return &binance.OrderResult{OrderID: 1000, Status: binance.OrderStatusNew}, nil
}

func (f *fakeExchange) TickerPrice(_ context.Context, _ string) (decimal.Decimal, error) {
	if f.tickerErr != nil {
		return decimal.Zero, f.tickerErr
	}
	return f.ticker, nil
}

type staticFilters struct{}

func (staticFilters) InstrumentFilters(_ context.Context, symbol string) (*binance.InstrumentFilters, error) {
	return &binance.InstrumentFilters{
		Symbol:         symbol,
		QuantityStep:   decimal.RequireFromString("0.001"),
		PriceTick:      decimal.RequireFromString("0.10"),
		MultiplierUp:   decimal.RequireFromString("1.10"),
		MultiplierDown: decimal.RequireFromString("0.90"),
	}, nil
}

func newTestOrchestrator(exchange *fakeExchange) *Orchestrator {
	rules := symbols.NewRules(staticFilters{}, time.Hour)
	logger := slog.New(slog.NewTextHandler(testWriter{}, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewOrchestrator(exchange, rules, logger, WithPollInterval(time.Millisecond), WithPollAttempts(10))
}

type testWriter struct{}

func (testWriter) Write(p []byte) (int, error) { return len(p), nil }

func testCreds(t *testing.T) binance.Credentials {
	t.Helper()
	creds, err := binance.NewCredentials("test-key", "test-secret")
	if err != nil {
		t.Fatalf("NewCredentials returned error: %v", err)
	}
	return creds
}

func buyRequest() Request {
	return Request{
		UserID:            uuid.New(),
		Symbol:            "BTCUSDT",
		Side:              binance.SideBuy,
		Quantity:          decimal.RequireFromString("0.010"),
		Leverage:          10,
		TakeProfitPercent: decimal.RequireFromString("2"),
	}
}

func TestPlaceLeverageRejectedStopsBeforeEntry(t *testing.T) {
	exchange := &fakeExchange{
		leverageErr: &binance.APIError{HTTPStatus: 400, Code: -4028, Msg: "Leverage 400 is not valid"},
	}
	o := newTestOrchestrator(exchange)

	req := buyRequest()
	req.Leverage = 400
	_, err := o.Place(context.Background(), testCreds(t), req)

	var placementErr *PlacementError
	if !errors.As(err, &placementErr) {
		t.Fatalf("expected PlacementError, got %v", err)
	}
	if placementErr.Phase != PhaseCreated || placementErr.Reason != ReasonLeverageRejected {
		t.Fatalf("unexpected failure: phase=%s reason=%s", placementErr.Phase, placementErr.Reason)
	}
	if placementErr.Unprotected {
		t.Fatal("leverage rejection must not report an unprotected position")
	}
	if len(exchange.placed) != 0 {
		t.Fatalf("no orders should be placed after leverage rejection, got %d", len(exchange.placed))
	}
}

func TestPlaceFillsAfterPollingAndAttachesTakeProfit(t *testing.T) {
	exchange := &fakeExchange{
		placeResults: []*binance.OrderResult{
			{OrderID: 501, Status: binance.OrderStatusNew},
			{OrderID: 502, Status: binance.OrderStatusNew},
		},
		pollResults: []*binance.OrderResult{
			{OrderID: 501, Status: binance.OrderStatusNew},
			{OrderID: 501, Status: binance.OrderStatusPartiallyFilled},
			{OrderID: 501, Status: binance.OrderStatusFilled, AvgPrice: decimal.RequireFromString("50000")},
		},
		ticker: decimal.RequireFromString("50000"),
	}
	o := newTestOrchestrator(exchange)

	placement, err := o.Place(context.Background(), testCreds(t), buyRequest())
	if err != nil {
		t.Fatalf("Place returned error: %v", err)
	}

	if exchange.polls != 3 {
		t.Fatalf("expected 3 fill polls, got %d", exchange.polls)
	}
	if !placement.EntryPrice.Equal(decimal.RequireFromString("50000")) {
		t.Fatalf("entry price = %s, want 50000", placement.EntryPrice)
	}
	if !placement.TPPrice.Equal(decimal.RequireFromString("51000")) {
		t.Fatalf("tp price = %s, want 51000", placement.TPPrice)
	}

	tp := exchange.placed[1]
	if tp.Side != binance.SideSell {
		t.Fatalf("tp side = %s, want SELL", tp.Side)
	}
	if tp.Type != binance.OrderTypeTakeProfitMarket {
		t.Fatalf("tp type = %s, want TAKE_PROFIT_MARKET", tp.Type)
	}
	if !tp.ClosePosition {
		t.Fatal("tp must be a close-position order")
	}
	if !tp.StopPrice.Equal(decimal.RequireFromString("51000")) {
		t.Fatalf("tp stop price = %s, want 51000", tp.StopPrice)
	}
}

func TestPlaceSellSideTakeProfitBelowEntry(t *testing.T) {
	exchange := &fakeExchange{
		placeResults: []*binance.OrderResult{
			{OrderID: 601, Status: binance.OrderStatusFilled, AvgPrice: decimal.RequireFromString("50000")},
			{OrderID: 602, Status: binance.OrderStatusNew},
		},
		ticker: decimal.RequireFromString("50000"),
	}
	o := newTestOrchestrator(exchange)

	req := buyRequest()
	req.Side = binance.SideSell
	placement, err := o.Place(context.Background(), testCreds(t), req)
	if err != nil {
		t.Fatalf("Place returned error: %v", err)
	}

	if exchange.polls != 0 {
		t.Fatalf("immediate fill should skip polling, got %d polls", exchange.polls)
	}
	if !placement.TPPrice.Equal(decimal.RequireFromString("49000")) {
		t.Fatalf("tp price = %s, want 49000", placement.TPPrice)
	}
	if exchange.placed[1].Side != binance.SideBuy {
		t.Fatalf("tp side = %s, want BUY", exchange.placed[1].Side)
	}
}

func TestPlaceTakeProfitFailureReportsUnprotectedPosition(t *testing.T) {
	exchange := &fakeExchange{
		placeResults: []*binance.OrderResult{
			{OrderID: 701, Status: binance.OrderStatusFilled, AvgPrice: decimal.RequireFromString("50000")},
		},
		placeErrs: []error{nil, &binance.TransportError{Op: "place order", Err: errors.New("connection reset")}},
		ticker:    decimal.RequireFromString("50000"),
	}
	o := newTestOrchestrator(exchange)

	_, err := o.Place(context.Background(), testCreds(t), buyRequest())

	var placementErr *PlacementError
	if !errors.As(err, &placementErr) {
		t.Fatalf("expected PlacementError, got %v", err)
	}
	if placementErr.Phase != PhaseEntryFilled || placementErr.Reason != ReasonTakeProfitRejected {
		t.Fatalf("unexpected failure: phase=%s reason=%s", placementErr.Phase, placementErr.Reason)
	}
	if !placementErr.Unprotected {
		t.Fatal("take-profit failure after fill must flag the unprotected position")
	}
	if placementErr.EntryOrderID != 701 {
		t.Fatalf("entry order id = %d, want 701", placementErr.EntryOrderID)
	}
}

func TestPlacePollExhaustionIsFillTimeout(t *testing.T) {
	exchange := &fakeExchange{
		placeResults: []*binance.OrderResult{
			{OrderID: 801, Status: binance.OrderStatusNew},
		},
		pollResults: []*binance.OrderResult{
			{OrderID: 801, Status: binance.OrderStatusNew},
		},
	}
	o := newTestOrchestrator(exchange)

	_, err := o.Place(context.Background(), testCreds(t), buyRequest())

	var placementErr *PlacementError
	if !errors.As(err, &placementErr) {
		t.Fatalf("expected PlacementError, got %v", err)
	}
	if placementErr.Reason != ReasonFillTimeout {
		t.Fatalf("reason = %s, want fill_timeout", placementErr.Reason)
	}
	if !placementErr.Unprotected {
		t.Fatal("fill timeout must flag the possibly open position")
	}
	if exchange.polls != 10 {
		t.Fatalf("expected 10 polls, got %d", exchange.polls)
	}
	if len(exchange.placed) != 1 {
		t.Fatal("no take-profit may be placed without a confirmed fill price")
	}
}

func TestPlacePollTransportErrorsConsumeAttempts(t *testing.T) {
	exchange := &fakeExchange{
		placeResults: []*binance.OrderResult{
			{OrderID: 901, Status: binance.OrderStatusNew},
			{OrderID: 902, Status: binance.OrderStatusNew},
		},
		pollErrs: []error{
			&binance.TransportError{Op: "get order", Err: errors.New("timeout")},
			&binance.TransportError{Op: "get order", Err: errors.New("timeout")},
		},
		pollResults: []*binance.OrderResult{
			nil, nil,
			{OrderID: 901, Status: binance.OrderStatusFilled, AvgPrice: decimal.RequireFromString("50000")},
		},
		ticker: decimal.RequireFromString("50000"),
	}
	o := newTestOrchestrator(exchange)

	if _, err := o.Place(context.Background(), testCreds(t), buyRequest()); err != nil {
		t.Fatalf("Place returned error: %v", err)
	}
	if exchange.polls != 3 {
		t.Fatalf("expected 3 polls, got %d", exchange.polls)
	}
}

func TestPlaceCanceledEntryIsRejection(t *testing.T) {
	exchange := &fakeExchange{
		placeResults: []*binance.OrderResult{
			{OrderID: 911, Status: binance.OrderStatusNew},
		},
		pollResults: []*binance.OrderResult{
			{OrderID: 911, Status: binance.OrderStatusCanceled},
		},
	}
	o := newTestOrchestrator(exchange)

	_, err := o.Place(context.Background(), testCreds(t), buyRequest())

	var placementErr *PlacementError
	if !errors.As(err, &placementErr) {
		t.Fatalf("expected PlacementError, got %v", err)
	}
	if placementErr.Reason != ReasonEntryRejected {
		t.Fatalf("reason = %s, want entry_rejected", placementErr.Reason)
	}
	if placementErr.Unprotected {
		t.Fatal("a canceled entry leaves no position behind")
	}
}

func TestPlaceLimitEntryUsesAdjustedPrice(t *testing.T) {
	exchange := &fakeExchange{
		placeResults: []*binance.OrderResult{
			{OrderID: 951, Status: binance.OrderStatusNew},
			{OrderID: 952, Status: binance.OrderStatusNew},
		},
		pollResults: []*binance.OrderResult{
			{OrderID: 951, Status: binance.OrderStatusFilled, AvgPrice: decimal.RequireFromString("49999.9")},
		},
		ticker: decimal.RequireFromString("50000"),
	}
	o := newTestOrchestrator(exchange)

	req := buyRequest()
	req.LimitPrice = decimal.RequireFromString("49999.923")
	placement, err := o.Place(context.Background(), testCreds(t), req)
	if err != nil {
		t.Fatalf("Place returned error: %v", err)
	}

	entry := exchange.placed[0]
	if entry.Type != binance.OrderTypeLimit {
		t.Fatalf("entry type = %s, want LIMIT", entry.Type)
	}
	if entry.TimeInForce != binance.TimeInForceGTC {
		t.Fatalf("entry tif = %s, want GTC", entry.TimeInForce)
	}
	if !entry.Price.Equal(decimal.RequireFromString("49999.92")) {
		t.Fatalf("entry price = %s, want 49999.92", entry.Price)
	}
	if !placement.EntryPrice.Equal(decimal.RequireFromString("49999.9")) {
		t.Fatalf("entry fill price = %s, want 49999.9", placement.EntryPrice)
	}
}

func TestPlaceQuantityBelowStep(t *testing.T) {
	o := newTestOrchestrator(&fakeExchange{})

	req := buyRequest()
	req.Quantity = decimal.RequireFromString("0.0004")
	if _, err := o.Place(context.Background(), testCreds(t), req); !errors.Is(err, ErrQuantityTooSmall) {
		t.Fatalf("expected ErrQuantityTooSmall, got %v", err)
	}
}

func TestPlaceRejectsOverlappingPlacement(t *testing.T) {
	exchange := &fakeExchange{
		placeResults: []*binance.OrderResult{
			{OrderID: 921, Status: binance.OrderStatusFilled, AvgPrice: decimal.RequireFromString("50000")},
			{OrderID: 922, Status: binance.OrderStatusNew},
			{OrderID: 923, Status: binance.OrderStatusFilled, AvgPrice: decimal.RequireFromString("50000")},
			{OrderID: 924, Status: binance.OrderStatusNew},
		},
		ticker:  decimal.RequireFromString("50000"),
		entered: make(chan struct{}),
		proceed: make(chan struct{}),
	}
	o := newTestOrchestrator(exchange)
	req := buyRequest()
	creds := testCreds(t)

	done := make(chan error, 1)
	go func() {
		_, err := o.Place(context.Background(), creds, req)
		done <- err
	}()

	<-exchange.entered
	if _, err := o.Place(context.Background(), creds, req); !errors.Is(err, ErrPlacementInFlight) {
		t.Fatalf("expected ErrPlacementInFlight, got %v", err)
	}
	close(exchange.proceed)

	if err := <-done; err != nil {
		t.Fatalf("first placement returned error: %v", err)
	}

	// Slot is free again after the first placement finished.
	if _, err := o.Place(context.Background(), creds, req); err != nil {
		t.Fatalf("follow-up placement returned error: %v", err)
	}
}

func TestPlaceOutOfBandTakeProfit(t *testing.T) {
	// Market far below entry: a +2% TP lands outside the 1.10 band.
	exchange := &fakeExchange{
		placeResults: []*binance.OrderResult{
			{OrderID: 931, Status: binance.OrderStatusFilled, AvgPrice: decimal.RequireFromString("50000")},
		},
		ticker: decimal.RequireFromString("46000"),
	}
	o := newTestOrchestrator(exchange)

	_, err := o.Place(context.Background(), testCreds(t), buyRequest())
	var placementErr *PlacementError
	if !errors.As(err, &placementErr) {
		t.Fatalf("expected PlacementError, got %v", err)
	}
	if placementErr.Reason != ReasonTakeProfitRejected || !placementErr.Unprotected {
		t.Fatalf("unexpected failure: %+v", placementErr)
	}
	if !errors.Is(err, symbols.ErrPriceBand) {
		t.Fatalf("expected ErrPriceBand in chain, got %v", err)
	}

	// With clamping allowed the TP is pulled to the band edge.
	exchange2 := &fakeExchange{
		placeResults: []*binance.OrderResult{
			{OrderID: 941, Status: binance.OrderStatusFilled, AvgPrice: decimal.RequireFromString("50000")},
			{OrderID: 942, Status: binance.OrderStatusNew},
		},
		ticker: decimal.RequireFromString("46000"),
	}
	o2 := newTestOrchestrator(exchange2)
	req := buyRequest()
	req.BestEffortPrice = true

	placement, err := o2.Place(context.Background(), testCreds(t), req)
	if err != nil {
		t.Fatalf("Place returned error: %v", err)
	}
	if !placement.TPPrice.Equal(decimal.RequireFromString("50600")) {
		t.Fatalf("tp price = %s, want 50600", placement.TPPrice)
	}
}

// Whatever step fails, the reported phase is the furthest state actually
// reached; a later failure never reports an earlier phase and no exchange
// call runs past the failing step.
func TestPlaceFailurePhasesAdvanceForwardOnly(t *testing.T) {
	phaseRank := map[Phase]int{
		PhaseCreated:        0,
		PhaseLeverageSet:    1,
		PhaseEntrySubmitted: 2,
		PhaseEntryFilled:    3,
	}

	scenarios := []struct {
		name        string
		exchange    *fakeExchange
		wantPhase   Phase
		wantPlaced  int
	}{
		{
			name:       "leverage rejected",
			exchange:   &fakeExchange{leverageErr: errors.New("leverage rejected")},
			wantPhase:  PhaseCreated,
			wantPlaced: 0,
		},
		{
			name:       "entry rejected",
			exchange:   &fakeExchange{placeErrs: []error{errors.New("entry rejected")}},
			wantPhase:  PhaseLeverageSet,
			wantPlaced: 1,
		},
		{
			// Entry stays NEW until the poll budget runs out.
			name:       "fill timeout",
			exchange:   &fakeExchange{},
			wantPhase:  PhaseEntrySubmitted,
			wantPlaced: 1,
		},
		{
			name: "take profit rejected",
			exchange: &fakeExchange{
				placeResults: []*binance.OrderResult{
					{OrderID: 801, Status: binance.OrderStatusFilled, AvgPrice: decimal.RequireFromString("50000")},
				},
				placeErrs: []error{nil, errors.New("take profit rejected")},
				ticker:    decimal.RequireFromString("50000"),
			},
			wantPhase:  PhaseEntryFilled,
			wantPlaced: 2,
		},
	}

	prevRank := -1
	for _, tc := range scenarios {
		t.Run(tc.name, func(t *testing.T) {
			o := newTestOrchestrator(tc.exchange)
			_, err := o.Place(context.Background(), testCreds(t), buyRequest())

			var placementErr *PlacementError
			if !errors.As(err, &placementErr) {
				t.Fatalf("expected PlacementError, got %v", err)
			}
			if placementErr.Phase != tc.wantPhase {
				t.Fatalf("phase = %s, want %s", placementErr.Phase, tc.wantPhase)
			}
			rank, ok := phaseRank[placementErr.Phase]
			if !ok {
				t.Fatalf("failure reported a terminal phase: %s", placementErr.Phase)
			}
			if rank <= prevRank {
				t.Fatalf("phase %s (rank %d) did not advance past rank %d", placementErr.Phase, rank, prevRank)
			}
			prevRank = rank

			if got := len(tc.exchange.placed); got != tc.wantPlaced {
				t.Fatalf("exchange saw %d orders, want %d", got, tc.wantPlaced)
			}
		})
	}
}
