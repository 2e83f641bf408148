package validation

import (
	"fmt"
	"net"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type ValidationErrors []FieldError

func (v ValidationErrors) Error() string {
	return "invalid request"
}

var symbolPattern = regexp.MustCompile(`^[A-Z0-9]{4,20}$`)

const (
	minLeverage = 1
	maxLeverage = 125
)

// PlaceOrderRequest carries the parsed, validated placement fields.
type PlaceOrderRequest struct {
	Symbol            string
	Side              string
	NotionalAmount    decimal.Decimal
	Leverage          int
	TakeProfitPercent decimal.Decimal
	LimitPrice        decimal.Decimal
}

func ValidatePlaceOrder(symbol, side, amount string, leverage int, takeProfitPercent, limitPrice string) (*PlaceOrderRequest, ValidationErrors) {
	var errs ValidationErrors
	req := &PlaceOrderRequest{}

	req.Symbol = NormalizeSymbol(symbol)
	if req.Symbol == "" {
		errs = append(errs, FieldError{Field: "symbol", Message: "symbol is required"})
	} else if !symbolPattern.MatchString(req.Symbol) {
		errs = append(errs, FieldError{Field: "symbol", Message: "symbol must be a futures pair like BTCUSDT"})
	}

	req.Side = strings.ToUpper(strings.TrimSpace(side))
	if req.Side != "BUY" && req.Side != "SELL" {
		errs = append(errs, FieldError{Field: "side", Message: "side must be BUY or SELL"})
	}

	if val, err := parsePositive("amount", amount); err != nil {
		errs = append(errs, FieldError{Field: "amount", Message: err.Error()})
	} else {
		req.NotionalAmount = val
	}

	if leverage < minLeverage || leverage > maxLeverage {
		errs = append(errs, FieldError{Field: "leverage", Message: fmt.Sprintf("leverage must be between %d and %d", minLeverage, maxLeverage)})
	} else {
		req.Leverage = leverage
	}

	if val, err := parsePositive("take_profit_percent", takeProfitPercent); err != nil {
		errs = append(errs, FieldError{Field: "take_profit_percent", Message: err.Error()})
	} else if val.GreaterThanOrEqual(decimal.NewFromInt(100)) {
		errs = append(errs, FieldError{Field: "take_profit_percent", Message: "take_profit_percent must be below 100"})
	} else {
		req.TakeProfitPercent = val
	}

	if trimmed := strings.TrimSpace(limitPrice); trimmed != "" {
		if val, err := parsePositive("limit_price", trimmed); err != nil {
			errs = append(errs, FieldError{Field: "limit_price", Message: err.Error()})
		} else {
			req.LimitPrice = val
		}
	}

	if len(errs) > 0 {
		return nil, errs
	}
	return req, nil
}

// ValidateCredentials checks a partial credential update. A present-but-empty
// key is rejected; an absent one is left alone.
func ValidateCredentials(apiKey, secretKey *string, allowedIPs *[]string) ValidationErrors {
	var errs ValidationErrors

	if apiKey != nil && strings.TrimSpace(*apiKey) == "" {
		errs = append(errs, FieldError{Field: "api_key", Message: "api_key must not be empty"})
	}
	if secretKey != nil && strings.TrimSpace(*secretKey) == "" {
		errs = append(errs, FieldError{Field: "secret_key", Message: "secret_key must not be empty"})
	}
	if allowedIPs != nil {
		for _, ip := range *allowedIPs {
			if net.ParseIP(strings.TrimSpace(ip)) == nil {
				errs = append(errs, FieldError{Field: "allowed_ips", Message: fmt.Sprintf("%q is not a valid IP address", ip)})
			}
		}
	}
	return errs
}

// ValidateRange checks an income range query; both bounds are required.
func ValidateRange(start, end int64) ValidationErrors {
	var errs ValidationErrors
	if start <= 0 {
		errs = append(errs, FieldError{Field: "start_time", Message: "start_time is required"})
	}
	if end <= 0 {
		errs = append(errs, FieldError{Field: "end_time", Message: "end_time is required"})
	}
	if len(errs) == 0 && end < start {
		errs = append(errs, FieldError{Field: "end_time", Message: "end_time must not be before start_time"})
	}
	return errs
}

func parsePositive(field, raw string) (decimal.Decimal, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return decimal.Zero, fmt.Errorf("%s is required", field)
	}
	val, err := decimal.NewFromString(trimmed)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s must be a decimal", field)
	}
	if val.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, fmt.Errorf("%s must be positive", field)
	}
	return val, nil
}

func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
