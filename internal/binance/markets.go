package binance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/shopspring/decimal"
)

var ErrUnknownSymbol = errors.New("unknown symbol")

// InstrumentFilters are the per-symbol trading constraints from the public
// instrument metadata: LOT_SIZE step, PRICE_FILTER tick and the PERCENT_PRICE
// band multipliers.
type InstrumentFilters struct {
	Symbol         string
	QuantityStep   decimal.Decimal
	PriceTick      decimal.Decimal
	MultiplierUp   decimal.Decimal
	MultiplierDown decimal.Decimal
}

func (g *Gateway) InstrumentFilters(ctx context.Context, symbol string) (*InstrumentFilters, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	body, err := g.Public(ctx, http.MethodGet, endpointExchangeInfo, params)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Code == -1121 {
			return nil, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
		}
		return nil, err
	}

	var info struct {
		Symbols []struct {
			Symbol  string `json:"symbol"`
			Filters []struct {
				FilterType     string          `json:"filterType"`
				StepSize       decimal.Decimal `json:"stepSize"`
				TickSize       decimal.Decimal `json:"tickSize"`
				MultiplierUp   decimal.Decimal `json:"multiplierUp"`
				MultiplierDown decimal.Decimal `json:"multiplierDown"`
			} `json:"filters"`
		} `json:"symbols"`
	}
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("parse exchange info: %w", err)
	}
	if len(info.Symbols) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}

	s := info.Symbols[0]
	filters := &InstrumentFilters{Symbol: s.Symbol}
	for _, f := range s.Filters {
		switch f.FilterType {
		case "LOT_SIZE":
			filters.QuantityStep = f.StepSize
		case "PRICE_FILTER":
			filters.PriceTick = f.TickSize
		case "PERCENT_PRICE":
			filters.MultiplierUp = f.MultiplierUp
			filters.MultiplierDown = f.MultiplierDown
		}
	}

	if filters.QuantityStep.IsZero() || filters.PriceTick.IsZero() {
		return nil, fmt.Errorf("incomplete filters for %s", symbol)
	}
	return filters, nil
}

// TickerPrice returns the latest traded price for symbol.
func (g *Gateway) TickerPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	body, err := g.Public(ctx, http.MethodGet, endpointTickerPrice, params)
	if err != nil {
		return decimal.Zero, err
	}

	var result struct {
		Symbol string          `json:"symbol"`
		Price  decimal.Decimal `json:"price"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return decimal.Zero, fmt.Errorf("parse ticker price: %w", err)
	}
	if result.Price.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, fmt.Errorf("non-positive ticker price for %s", symbol)
	}
	return result.Price, nil
}
