package binance

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/shopspring/decimal"
)

const exchangeInfoBody = `{
	"symbols": [{
		"symbol": "BTCUSDT",
		"filters": [
			{"filterType": "PRICE_FILTER", "tickSize": "0.10"},
			{"filterType": "LOT_SIZE", "stepSize": "0.001"},
			{"filterType": "PERCENT_PRICE", "multiplierUp": "1.0500", "multiplierDown": "0.9500"}
		]
	}]
}`

func TestInstrumentFiltersParsed(t *testing.T) {
	stub := newExchangeStub(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, exchangeInfoBody)
	})
	g := stub.gateway()

	filters, err := g.InstrumentFilters(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("instrument filters: %v", err)
	}
	if stub.lastQuery.Get("symbol") != "BTCUSDT" {
		t.Fatalf("symbol not forwarded: %v", stub.lastQuery)
	}
	if !filters.QuantityStep.Equal(decimal.RequireFromString("0.001")) {
		t.Fatalf("step: %s", filters.QuantityStep)
	}
	if !filters.PriceTick.Equal(decimal.RequireFromString("0.10")) {
		t.Fatalf("tick: %s", filters.PriceTick)
	}
	if !filters.MultiplierUp.Equal(decimal.RequireFromString("1.05")) || !filters.MultiplierDown.Equal(decimal.RequireFromString("0.95")) {
		t.Fatalf("band: %s/%s", filters.MultiplierDown, filters.MultiplierUp)
	}
}

func TestInstrumentFiltersUnknownSymbolCode(t *testing.T) {
	stub := newExchangeStub(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"code":-1121,"msg":"Invalid symbol."}`)
	})
	g := stub.gateway()

	if _, err := g.InstrumentFilters(context.Background(), "NOPEUSDT"); !errors.Is(err, ErrUnknownSymbol) {
		t.Fatalf("expected ErrUnknownSymbol, got %v", err)
	}
}

func TestInstrumentFiltersEmptyListing(t *testing.T) {
	stub := newExchangeStub(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"symbols":[]}`)
	})
	g := stub.gateway()

	if _, err := g.InstrumentFilters(context.Background(), "NOPEUSDT"); !errors.Is(err, ErrUnknownSymbol) {
		t.Fatalf("expected ErrUnknownSymbol, got %v", err)
	}
}

func TestInstrumentFiltersIncomplete(t *testing.T) {
	stub := newExchangeStub(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"symbols":[{"symbol":"BTCUSDT","filters":[{"filterType":"LOT_SIZE","stepSize":"0.001"}]}]}`)
	})
	g := stub.gateway()

	if _, err := g.InstrumentFilters(context.Background(), "BTCUSDT"); err == nil {
		t.Fatal("missing price filter must not yield usable constraints")
	}
}

func TestTickerPrice(t *testing.T) {
	stub := newExchangeStub(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"symbol":"BTCUSDT","price":"50123.40"}`)
	})
	g := stub.gateway()

	price, err := g.TickerPrice(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("ticker: %v", err)
	}
	if !price.Equal(decimal.RequireFromString("50123.4")) {
		t.Fatalf("price: %s", price)
	}
}

func TestTickerPriceRejectsNonPositive(t *testing.T) {
	stub := newExchangeStub(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"symbol":"BTCUSDT","price":"0"}`)
	})
	g := stub.gateway()

	if _, err := g.TickerPrice(context.Background(), "BTCUSDT"); err == nil {
		t.Fatal("zero price must be rejected")
	}
}
