package symbols

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/GeniusSecret1117/zeroloss-backend/internal/binance"
	"github.com/shopspring/decimal"
)

var (
	ErrUnknownSymbol = binance.ErrUnknownSymbol
	ErrPriceBand     = errors.New("price outside permitted band")
)

// Filter is the cached per-symbol constraint set. A quantity or price must be
// conformed to these before it is ever sent to the exchange.
type Filter struct {
	Symbol         string
	QuantityStep   decimal.Decimal
	PriceTick      decimal.Decimal
	MultiplierUp   decimal.Decimal
	MultiplierDown decimal.Decimal
	FetchedAt      time.Time
}

type MetadataSource interface {
	InstrumentFilters(ctx context.Context, symbol string) (*binance.InstrumentFilters, error)
}

// Rules caches instrument filters process-wide. Entries older than the TTL
// are refetched on access; if the refetch fails the last known value is
// served, since the constraints are near-immutable exchange metadata.
type Rules struct {
	source MetadataSource
	ttl    time.Duration

	mu    sync.RWMutex
	cache map[string]Filter
}

func NewRules(source MetadataSource, ttl time.Duration) *Rules {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Rules{
		source: source,
		ttl:    ttl,
		cache:  make(map[string]Filter),
	}
}

func (r *Rules) Filters(ctx context.Context, symbol string) (Filter, error) {
	key := strings.ToUpper(strings.TrimSpace(symbol))

	r.mu.RLock()
	cached, ok := r.cache[key]
	r.mu.RUnlock()

	if ok && time.Since(cached.FetchedAt) < r.ttl {
		return cached, nil
	}

	fetched, err := r.source.InstrumentFilters(ctx, key)
	if err != nil {
		if ok && !errors.Is(err, ErrUnknownSymbol) {
			return cached, nil
		}
		return Filter{}, err
	}

	filter := Filter{
		Symbol:         fetched.Symbol,
		QuantityStep:   fetched.QuantityStep,
		PriceTick:      fetched.PriceTick,
		MultiplierUp:   fetched.MultiplierUp,
		MultiplierDown: fetched.MultiplierDown,
		FetchedAt:      time.Now(),
	}

	r.mu.Lock()
	r.cache[key] = filter
	r.mu.Unlock()
	return filter, nil
}

func (r *Rules) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.cache)
}

// AdjustQuantity floors value to the nearest multiple of the lot step. It
// never rounds up: sending more than the caller funded is worse than sending
// slightly less.
func AdjustQuantity(value decimal.Decimal, f Filter) decimal.Decimal {
	if f.QuantityStep.LessThanOrEqual(decimal.Zero) {
		return value
	}
	return value.Div(f.QuantityStep).Floor().Mul(f.QuantityStep)
}

// AdjustPrice rounds value to the tick size's decimal precision.
func AdjustPrice(value decimal.Decimal, f Filter) decimal.Decimal {
	if f.PriceTick.LessThanOrEqual(decimal.Zero) {
		return value
	}
	return value.Round(-f.PriceTick.Exponent())
}

// ValidatePriceBand checks candidate against
// [market × MultiplierDown, market × MultiplierUp], boundaries inclusive.
// Out-of-band prices are rejected unless the caller marked the price
// best-effort, in which case the candidate is clamped to the violated
// boundary and tick-adjusted.
func ValidatePriceBand(candidate, market decimal.Decimal, f Filter, bestEffort bool) (decimal.Decimal, error) {
	if f.MultiplierUp.LessThanOrEqual(decimal.Zero) || f.MultiplierDown.LessThanOrEqual(decimal.Zero) {
		return candidate, nil
	}

	lower := market.Mul(f.MultiplierDown)
	upper := market.Mul(f.MultiplierUp)

	switch {
	case candidate.LessThan(lower):
		if !bestEffort {
			return decimal.Zero, ErrPriceBand
		}
		return AdjustPrice(lower, f), nil
	case candidate.GreaterThan(upper):
		if !bestEffort {
			return decimal.Zero, ErrPriceBand
		}
		return AdjustPrice(upper, f), nil
	default:
		return candidate, nil
	}
}
