package snapshot

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/GeniusSecret1117/zeroloss-backend/internal/binance"
	"github.com/shopspring/decimal"
)

// Reader is the slice of the gateway the snapshot fans out over.
type Reader interface {
	AccountBalance(ctx context.Context, creds binance.Credentials) (*binance.AssetBalance, error)
	Income(ctx context.Context, creds binance.Credentials, q binance.IncomeQuery) ([]binance.IncomeRecord, error)
	PositionRisk(ctx context.Context, creds binance.Credentials) ([]binance.PositionRisk, error)
	OpenOrders(ctx context.Context, creds binance.Credentials, symbol string) ([]binance.OrderResult, error)
	AllOrders(ctx context.Context, creds binance.Credentials, symbol string) ([]binance.OrderResult, error)
	UserTrades(ctx context.Context, creds binance.Credentials, symbol string) ([]binance.TradeRecord, error)
}

// Snapshot is the aggregated account view. Every field is independent: a
// read that fails leaves its field nil and lands in FailedFields, the rest
// of the snapshot still comes back.
type Snapshot struct {
	Balance            *binance.AssetBalance   `json:"balance"`
	Income             []binance.IncomeRecord  `json:"income"`
	IncomeByRange      *IncomeByRange          `json:"income_by_range"`
	Positions          []binance.PositionRisk  `json:"positions"`
	OpenOrders         []binance.OrderResult   `json:"open_orders"`
	AllOrders          []binance.OrderResult   `json:"all_orders"`
	FundingFees        []binance.IncomeRecord  `json:"funding_fees"`
	TradeHistory       []binance.TradeRecord   `json:"trade_history"`
	TransactionHistory []binance.IncomeRecord  `json:"transaction_history"`
	FailedFields       []string                `json:"failed_fields,omitempty"`
}

// RangeTotal is one realized-pnl window plus its share of the all-time total.
type RangeTotal struct {
	Period  string          `json:"period"`
	Total   decimal.Decimal `json:"total"`
	Percent decimal.Decimal `json:"percent"`
}

type IncomeByRange struct {
	Periods []RangeTotal    `json:"periods"`
	AllTime decimal.Decimal `json:"all_time"`
}

var rangePeriods = []struct {
	label string
	days  int
}{
	{"1D", 1},
	{"7D", 7},
	{"14D", 14},
	{"30D", 30},
	{"90D", 90},
	{"1Y", 365},
}

type Service struct {
	reader Reader
	logger *slog.Logger
	now    func() time.Time
}

func NewService(reader Reader, logger *slog.Logger) *Service {
	return &Service{reader: reader, logger: logger, now: time.Now}
}

// Fetch runs all nine account reads concurrently. symbol scopes the reads
// that require one (order history, trade history).
func (s *Service) Fetch(ctx context.Context, creds binance.Credentials, symbol string) *Snapshot {
	var (
		snap Snapshot
		mu   sync.Mutex
		wg   sync.WaitGroup
	)

	fail := func(field string, err error) {
		mu.Lock()
		snap.FailedFields = append(snap.FailedFields, field)
		mu.Unlock()
		s.logger.Warn("snapshot read failed", "field", field, "error", err)
	}

	run := func(field string, read func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := read(); err != nil {
				fail(field, err)
			}
		}()
	}

	run("balance", func() error {
		balance, err := s.reader.AccountBalance(ctx, creds)
		if err != nil {
			return err
		}
		snap.Balance = balance
		return nil
	})
	run("income", func() error {
		records, err := s.reader.Income(ctx, creds, binance.IncomeQuery{IncomeType: binance.IncomeTypeRealizedPnl})
		if err != nil {
			return err
		}
		snap.Income = records
		return nil
	})
	run("income_by_range", func() error {
		byRange, err := s.incomeByRange(ctx, creds)
		if err != nil {
			return err
		}
		snap.IncomeByRange = byRange
		return nil
	})
	run("positions", func() error {
		positions, err := s.reader.PositionRisk(ctx, creds)
		if err != nil {
			return err
		}
		open := positions[:0]
		for _, p := range positions {
			if !p.PositionAmt.IsZero() {
				open = append(open, p)
			}
		}
		snap.Positions = open
		return nil
	})
	run("open_orders", func() error {
		orders, err := s.reader.OpenOrders(ctx, creds, "")
		if err != nil {
			return err
		}
		snap.OpenOrders = orders
		return nil
	})
	run("all_orders", func() error {
		orders, err := s.reader.AllOrders(ctx, creds, symbol)
		if err != nil {
			return err
		}
		snap.AllOrders = orders
		return nil
	})
	run("funding_fees", func() error {
		records, err := s.reader.Income(ctx, creds, binance.IncomeQuery{IncomeType: binance.IncomeTypeFundingFee})
		if err != nil {
			return err
		}
		snap.FundingFees = records
		return nil
	})
	run("trade_history", func() error {
		trades, err := s.reader.UserTrades(ctx, creds, symbol)
		if err != nil {
			return err
		}
		snap.TradeHistory = trades
		return nil
	})
	run("transaction_history", func() error {
		records, err := s.reader.Income(ctx, creds, binance.IncomeQuery{})
		if err != nil {
			return err
		}
		snap.TransactionHistory = records
		return nil
	})

	wg.Wait()
	sort.Strings(snap.FailedFields)
	return &snap
}

// incomeByRange sums realized pnl over each lookback window concurrently,
// plus the unbounded all-time total, and expresses each window as a percent
// of that total.
func (s *Service) incomeByRange(ctx context.Context, creds binance.Credentials) (*IncomeByRange, error) {
	now := s.now()

	totals := make([]decimal.Decimal, len(rangePeriods))
	errs := make([]error, len(rangePeriods)+1)
	var allTime decimal.Decimal

	var wg sync.WaitGroup
	for i, period := range rangePeriods {
		wg.Add(1)
		go func(i, days int) {
			defer wg.Done()
			start := now.AddDate(0, 0, -days).UnixMilli()
			totals[i], errs[i] = s.sumRealized(ctx, creds, binance.IncomeQuery{
				IncomeType: binance.IncomeTypeRealizedPnl,
				StartTime:  start,
				EndTime:    now.UnixMilli(),
			})
		}(i, period.days)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		allTime, errs[len(rangePeriods)] = s.sumRealized(ctx, creds, binance.IncomeQuery{
			IncomeType: binance.IncomeTypeRealizedPnl,
		})
	}()
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	result := &IncomeByRange{AllTime: allTime}
	for i, period := range rangePeriods {
		percent := decimal.Zero
		if !allTime.IsZero() {
			percent = totals[i].Div(allTime).Mul(decimal.NewFromInt(100)).Round(2)
		}
		result.Periods = append(result.Periods, RangeTotal{
			Period:  period.label,
			Total:   totals[i],
			Percent: percent,
		})
	}
	return result, nil
}

func (s *Service) sumRealized(ctx context.Context, creds binance.Credentials, q binance.IncomeQuery) (decimal.Decimal, error) {
	records, err := s.reader.Income(ctx, creds, q)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, r := range records {
		total = total.Add(r.Income)
	}
	return total, nil
}

// FundingFeesRange returns funding fee income between start and end.
func (s *Service) FundingFeesRange(ctx context.Context, creds binance.Credentials, start, end int64) ([]binance.IncomeRecord, error) {
	return s.reader.Income(ctx, creds, binance.IncomeQuery{
		IncomeType: binance.IncomeTypeFundingFee,
		StartTime:  start,
		EndTime:    end,
	})
}

// TransactionsRange returns all income records between start and end.
func (s *Service) TransactionsRange(ctx context.Context, creds binance.Credentials, start, end int64) ([]binance.IncomeRecord, error) {
	return s.reader.Income(ctx, creds, binance.IncomeQuery{
		StartTime: start,
		EndTime:   end,
	})
}
