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
	SideBuy  = "BUY"
	SideSell = "SELL"

	OrderTypeMarket           = "MARKET"
	OrderTypeLimit            = "LIMIT"
	OrderTypeTakeProfitMarket = "TAKE_PROFIT_MARKET"

	TimeInForceGTC = "GTC"

	OrderStatusNew             = "NEW"
	OrderStatusPartiallyFilled = "PARTIALLY_FILLED"
	OrderStatusFilled          = "FILLED"
	OrderStatusCanceled        = "CANCELED"
	OrderStatusExpired         = "EXPIRED"
)

type OrderParams struct {
	Symbol        string
	Side          string
	Type          string
	Quantity      decimal.Decimal
	Price         decimal.Decimal
	StopPrice     decimal.Decimal
	TimeInForce   string
	ClosePosition bool
	ClientOrderID string
}

type OrderResult struct {
	OrderID       int64           `json:"orderId"`
	ClientOrderID string          `json:"clientOrderId"`
	Symbol        string          `json:"symbol"`
	Status        string          `json:"status"`
	Side          string          `json:"side"`
	Type          string          `json:"type"`
	Price         decimal.Decimal `json:"price"`
	AvgPrice      decimal.Decimal `json:"avgPrice"`
	OrigQty       decimal.Decimal `json:"origQty"`
	ExecutedQty   decimal.Decimal `json:"executedQty"`
	StopPrice     decimal.Decimal `json:"stopPrice"`
	UpdateTime    int64           `json:"updateTime"`
}

// SetLeverage configures the margin multiplier for symbol before entry.
func (g *Gateway) SetLeverage(ctx context.Context, creds Credentials, symbol string, leverage int) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("leverage", strconv.Itoa(leverage))

	_, err := g.Signed(ctx, http.MethodPost, endpointLeverage, params, creds)
	return err
}

// PlaceOrder submits a new order and returns the exchange acknowledgement.
func (g *Gateway) PlaceOrder(ctx context.Context, creds Credentials, order OrderParams) (*OrderResult, error) {
	params := url.Values{}
	params.Set("symbol", order.Symbol)
	params.Set("side", order.Side)
	params.Set("type", order.Type)

	if order.Quantity.IsPositive() {
		params.Set("quantity", order.Quantity.String())
	}
	if order.Type == OrderTypeLimit {
		tif := order.TimeInForce
		if tif == "" {
			tif = "GTC"
		}
		params.Set("timeInForce", tif)
		params.Set("price", order.Price.String())
	}
	if order.Type == OrderTypeTakeProfitMarket {
		params.Set("stopPrice", order.StopPrice.String())
	}
	if order.ClosePosition {
		params.Set("closePosition", "true")
	}
	if order.ClientOrderID != "" {
		params.Set("newClientOrderId", order.ClientOrderID)
	}

	body, err := g.Signed(ctx, http.MethodPost, endpointOrder, params, creds)
	if err != nil {
		return nil, err
	}

	var result OrderResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("parse order response: %w", err)
	}
	return &result, nil
}

// GetOrder reads the current status of a previously submitted order.
func (g *Gateway) GetOrder(ctx context.Context, creds Credentials, symbol string, orderID int64) (*OrderResult, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", strconv.FormatInt(orderID, 10))

	body, err := g.Signed(ctx, http.MethodGet, endpointOrder, params, creds)
	if err != nil {
		return nil, err
	}

	var result OrderResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("parse order status: %w", err)
	}
	return &result, nil
}
