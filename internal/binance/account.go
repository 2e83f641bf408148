package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/shopspring/decimal"
)

const (
	IncomeTypeRealizedPnl = "REALIZED_PNL"
	IncomeTypeFundingFee  = "FUNDING_FEE"
)

// AssetBalance is the USDT margin view of the futures account.
type AssetBalance struct {
	WalletBalance decimal.Decimal `json:"walletBalance"`
	UnrealizedPNL decimal.Decimal `json:"unrealizedPNL"`
	MarginBalance decimal.Decimal `json:"marginBalance"`
}

func (g *Gateway) AccountBalance(ctx context.Context, creds Credentials) (*AssetBalance, error) {
	body, err := g.Signed(ctx, http.MethodGet, endpointAccount, nil, creds)
	if err != nil {
		return nil, err
	}

	var account struct {
		Assets []struct {
			Asset            string          `json:"asset"`
			WalletBalance    decimal.Decimal `json:"walletBalance"`
			UnrealizedProfit decimal.Decimal `json:"unrealizedProfit"`
			MarginBalance    decimal.Decimal `json:"marginBalance"`
		} `json:"assets"`
	}
	if err := json.Unmarshal(body, &account); err != nil {
		return nil, fmt.Errorf("parse account: %w", err)
	}

	for _, asset := range account.Assets {
		if asset.Asset == "USDT" {
			return &AssetBalance{
				WalletBalance: asset.WalletBalance,
				UnrealizedPNL: asset.UnrealizedProfit,
				MarginBalance: asset.MarginBalance,
			}, nil
		}
	}
	return nil, fmt.Errorf("USDT asset not present in account")
}

type IncomeRecord struct {
	Symbol     string          `json:"symbol"`
	IncomeType string          `json:"incomeType"`
	Income     decimal.Decimal `json:"income"`
	Asset      string          `json:"asset"`
	Time       int64           `json:"time"`
}

// IncomeQuery narrows the income history read; zero values are omitted from
// the request.
type IncomeQuery struct {
	IncomeType string
	StartTime  int64
	EndTime    int64
}

func (g *Gateway) Income(ctx context.Context, creds Credentials, q IncomeQuery) ([]IncomeRecord, error) {
	params := url.Values{}
	if q.IncomeType != "" {
		params.Set("incomeType", q.IncomeType)
	}
	if q.StartTime > 0 {
		params.Set("startTime", strconv.FormatInt(q.StartTime, 10))
	}
	if q.EndTime > 0 {
		params.Set("endTime", strconv.FormatInt(q.EndTime, 10))
	}

	body, err := g.Signed(ctx, http.MethodGet, endpointIncome, params, creds)
	if err != nil {
		return nil, err
	}

	var records []IncomeRecord
	if err := json.Unmarshal(body, &records); err != nil {
		return nil, fmt.Errorf("parse income: %w", err)
	}
	return records, nil
}

type PositionRisk struct {
	Symbol           string          `json:"symbol"`
	PositionAmt      decimal.Decimal `json:"positionAmt"`
	EntryPrice       decimal.Decimal `json:"entryPrice"`
	MarkPrice        decimal.Decimal `json:"markPrice"`
	UnrealizedProfit decimal.Decimal `json:"unRealizedProfit"`
	LiquidationPrice decimal.Decimal `json:"liquidationPrice"`
	Leverage         decimal.Decimal `json:"leverage"`
	MarginType       string          `json:"marginType"`
	PositionSide     string          `json:"positionSide"`
	UpdateTime       int64           `json:"updateTime"`
}

func (g *Gateway) PositionRisk(ctx context.Context, creds Credentials) ([]PositionRisk, error) {
	body, err := g.Signed(ctx, http.MethodGet, endpointPositionRisk, nil, creds)
	if err != nil {
		return nil, err
	}

	var positions []PositionRisk
	if err := json.Unmarshal(body, &positions); err != nil {
		return nil, fmt.Errorf("parse positions: %w", err)
	}
	return positions, nil
}

func (g *Gateway) OpenOrders(ctx context.Context, creds Credentials, symbol string) ([]OrderResult, error) {
	return g.listOrders(ctx, creds, endpointOpenOrders, symbol)
}

func (g *Gateway) AllOrders(ctx context.Context, creds Credentials, symbol string) ([]OrderResult, error) {
	return g.listOrders(ctx, creds, endpointAllOrders, symbol)
}

func (g *Gateway) listOrders(ctx context.Context, creds Credentials, endpoint, symbol string) ([]OrderResult, error) {
	params := url.Values{}
	if symbol != "" {
		params.Set("symbol", symbol)
	}

	body, err := g.Signed(ctx, http.MethodGet, endpoint, params, creds)
	if err != nil {
		return nil, err
	}

	var orders []OrderResult
	if err := json.Unmarshal(body, &orders); err != nil {
		return nil, fmt.Errorf("parse orders: %w", err)
	}
	return orders, nil
}

type TradeRecord struct {
	Symbol          string          `json:"symbol"`
	OrderID         int64           `json:"orderId"`
	Side            string          `json:"side"`
	Price           decimal.Decimal `json:"price"`
	Qty             decimal.Decimal `json:"qty"`
	RealizedPnl     decimal.Decimal `json:"realizedPnl"`
	Commission      decimal.Decimal `json:"commission"`
	CommissionAsset string          `json:"commissionAsset"`
	Time            int64           `json:"time"`
}

func (g *Gateway) UserTrades(ctx context.Context, creds Credentials, symbol string) ([]TradeRecord, error) {
	params := url.Values{}
	if symbol != "" {
		params.Set("symbol", symbol)
	}

	body, err := g.Signed(ctx, http.MethodGet, endpointUserTrades, params, creds)
	if err != nil {
		return nil, err
	}

	var trades []TradeRecord
	if err := json.Unmarshal(body, &trades); err != nil {
		return nil, fmt.Errorf("parse trades: %w", err)
	}
	return trades, nil
}
