package snapshot

import (
	"context"
	"errors"
	"log/slog"
	"reflect"
	"testing"
	"time"

	"github.com/GeniusSecret1117/zeroloss-backend/internal/binance"
	"github.com/shopspring/decimal"
)

type fakeReader struct {
	balance    *binance.AssetBalance
	balanceErr error

	income    map[string][]binance.IncomeRecord
	incomeErr error

	positions    []binance.PositionRisk
	positionsErr error

	openOrders    []binance.OrderResult
	openOrdersErr error

	allOrders    []binance.OrderResult
	allOrdersErr error

	trades    []binance.TradeRecord
	tradesErr error
}

func (f *fakeReader) AccountBalance(_ context.Context, _ binance.Credentials) (*binance.AssetBalance, error) {
	return f.balance, f.balanceErr
}

func (f *fakeReader) Income(_ context.Context, _ binance.Credentials, q binance.IncomeQuery) ([]binance.IncomeRecord, error) {
	if f.incomeErr != nil {
		return nil, f.incomeErr
	}
	records := f.income[q.IncomeType]
	if q.StartTime == 0 {
		return records, nil
	}
	var inWindow []binance.IncomeRecord
	for _, r := range records {
		if r.Time >= q.StartTime && (q.EndTime == 0 || r.Time <= q.EndTime) {
			inWindow = append(inWindow, r)
		}
	}
	return inWindow, nil
}

func (f *fakeReader) PositionRisk(_ context.Context, _ binance.Credentials) ([]binance.PositionRisk, error) {
	return f.positions, f.positionsErr
}

func (f *fakeReader) OpenOrders(_ context.Context, _ binance.Credentials, _ string) ([]binance.OrderResult, error) {
	return f.openOrders, f.openOrdersErr
}

func (f *fakeReader) AllOrders(_ context.Context, _ binance.Credentials, _ string) ([]binance.OrderResult, error) {
	return f.allOrders, f.allOrdersErr
}

func (f *fakeReader) UserTrades(_ context.Context, _ binance.Credentials, _ string) ([]binance.TradeRecord, error) {
	return f.trades, f.tradesErr
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discard{}, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func testCreds(t *testing.T) binance.Credentials {
	t.Helper()
	creds, err := binance.NewCredentials("key", "secret")
	if err != nil {
		t.Fatalf("NewCredentials returned error: %v", err)
	}
	return creds
}

func TestFetchAllFieldsPopulated(t *testing.T) {
	reader := &fakeReader{
		balance: &binance.AssetBalance{WalletBalance: decimal.RequireFromString("1000")},
		income: map[string][]binance.IncomeRecord{
			binance.IncomeTypeRealizedPnl: {{Income: decimal.RequireFromString("12.5")}},
			binance.IncomeTypeFundingFee:  {{Income: decimal.RequireFromString("-0.3")}},
			"":                            {{Income: decimal.RequireFromString("12.2")}},
		},
		positions: []binance.PositionRisk{
			{Symbol: "BTCUSDT", PositionAmt: decimal.RequireFromString("0.01")},
			{Symbol: "ETHUSDT", PositionAmt: decimal.Zero},
		},
		openOrders: []binance.OrderResult{{OrderID: 1}},
		allOrders:  []binance.OrderResult{{OrderID: 1}, {OrderID: 2}},
		trades:     []binance.TradeRecord{{OrderID: 1}},
	}
	s := NewService(reader, quietLogger())

	snap := s.Fetch(context.Background(), testCreds(t), "BTCUSDT")

	if len(snap.FailedFields) != 0 {
		t.Fatalf("unexpected failed fields: %v", snap.FailedFields)
	}
	if snap.Balance == nil || !snap.Balance.WalletBalance.Equal(decimal.RequireFromString("1000")) {
		t.Fatalf("unexpected balance: %+v", snap.Balance)
	}
	if len(snap.Positions) != 1 || snap.Positions[0].Symbol != "BTCUSDT" {
		t.Fatalf("zero positions must be filtered out: %+v", snap.Positions)
	}
	if snap.IncomeByRange == nil || len(snap.IncomeByRange.Periods) != 6 {
		t.Fatalf("unexpected income by range: %+v", snap.IncomeByRange)
	}
	if len(snap.AllOrders) != 2 || len(snap.TradeHistory) != 1 {
		t.Fatalf("unexpected history fields: %+v", snap)
	}
}

func TestFetchDegradesPartially(t *testing.T) {
	reader := &fakeReader{
		balanceErr:   &binance.TransportError{Op: "account", Err: errors.New("timeout")},
		positionsErr: &binance.APIError{HTTPStatus: 401, Code: -2015, Msg: "Invalid API-key"},
		openOrders:   []binance.OrderResult{{OrderID: 9}},
	}
	s := NewService(reader, quietLogger())

	snap := s.Fetch(context.Background(), testCreds(t), "BTCUSDT")

	if snap.Balance != nil {
		t.Fatal("failed balance read must leave the field nil")
	}
	if snap.Positions != nil {
		t.Fatal("failed positions read must leave the field nil")
	}
	if len(snap.OpenOrders) != 1 {
		t.Fatalf("healthy reads must survive: %+v", snap.OpenOrders)
	}
	want := []string{"balance", "positions"}
	if !reflect.DeepEqual(snap.FailedFields, want) {
		t.Fatalf("failed fields = %v, want %v", snap.FailedFields, want)
	}
}

func TestIncomeByRangePercentages(t *testing.T) {
	now := int64(1_700_000_000_000)
	day := int64(24 * 60 * 60 * 1000)
	reader := &fakeReader{
		income: map[string][]binance.IncomeRecord{
			binance.IncomeTypeRealizedPnl: {
				{Income: decimal.RequireFromString("10"), Time: now - day/2},   // inside 1D
				{Income: decimal.RequireFromString("30"), Time: now - 5*day},   // inside 7D
				{Income: decimal.RequireFromString("60"), Time: now - 100*day}, // inside 1Y only
			},
		},
	}
	s := NewService(reader, quietLogger())
	s.now = func() time.Time { return time.UnixMilli(now) }

	byRange, err := s.incomeByRange(context.Background(), testCreds(t))
	if err != nil {
		t.Fatalf("incomeByRange returned error: %v", err)
	}

	if !byRange.AllTime.Equal(decimal.RequireFromString("100")) {
		t.Fatalf("all-time total = %s, want 100", byRange.AllTime)
	}

	got := map[string]RangeTotal{}
	for _, p := range byRange.Periods {
		got[p.Period] = p
	}
	if !got["1D"].Total.Equal(decimal.RequireFromString("10")) || !got["1D"].Percent.Equal(decimal.RequireFromString("10")) {
		t.Fatalf("1D = %+v", got["1D"])
	}
	if !got["7D"].Total.Equal(decimal.RequireFromString("40")) || !got["7D"].Percent.Equal(decimal.RequireFromString("40")) {
		t.Fatalf("7D = %+v", got["7D"])
	}
	if !got["1Y"].Total.Equal(decimal.RequireFromString("100")) || !got["1Y"].Percent.Equal(decimal.RequireFromString("100")) {
		t.Fatalf("1Y = %+v", got["1Y"])
	}
}

func TestIncomeByRangeZeroTotal(t *testing.T) {
	s := NewService(&fakeReader{income: map[string][]binance.IncomeRecord{}}, quietLogger())

	byRange, err := s.incomeByRange(context.Background(), testCreds(t))
	if err != nil {
		t.Fatalf("incomeByRange returned error: %v", err)
	}
	for _, p := range byRange.Periods {
		if !p.Percent.IsZero() {
			t.Fatalf("zero all-time total must yield zero percentages: %+v", p)
		}
	}
}

func TestRangeQueries(t *testing.T) {
	reader := &fakeReader{
		income: map[string][]binance.IncomeRecord{
			binance.IncomeTypeFundingFee: {
				{Income: decimal.RequireFromString("-0.1"), Time: 150},
				{Income: decimal.RequireFromString("-0.2"), Time: 500},
			},
			"": {
				{Income: decimal.RequireFromString("5"), Time: 200},
			},
		},
	}
	s := NewService(reader, quietLogger())

	fees, err := s.FundingFeesRange(context.Background(), testCreds(t), 100, 300)
	if err != nil {
		t.Fatalf("FundingFeesRange returned error: %v", err)
	}
	if len(fees) != 1 || !fees[0].Income.Equal(decimal.RequireFromString("-0.1")) {
		t.Fatalf("unexpected funding fees: %+v", fees)
	}

	txs, err := s.TransactionsRange(context.Background(), testCreds(t), 100, 300)
	if err != nil {
		t.Fatalf("TransactionsRange returned error: %v", err)
	}
	if len(txs) != 1 {
		t.Fatalf("unexpected transactions: %+v", txs)
	}
}
