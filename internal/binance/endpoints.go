package binance

const (
	defaultBaseURL = "https://fapi.binance.com"
	testnetBaseURL = "https://testnet.binancefuture.com"

	endpointServerTime   = "/fapi/v1/time"
	endpointExchangeInfo = "/fapi/v1/exchangeInfo"
	endpointTickerPrice  = "/fapi/v1/ticker/price"

	endpointAccount      = "/fapi/v2/account"
	endpointIncome       = "/fapi/v1/income"
	endpointPositionRisk = "/fapi/v2/positionRisk"
	endpointOpenOrders   = "/fapi/v1/openOrders"
	endpointAllOrders    = "/fapi/v1/allOrders"
	endpointUserTrades   = "/fapi/v1/userTrades"
	endpointLeverage     = "/fapi/v1/leverage"
	endpointOrder        = "/fapi/v1/order"
)

const apiKeyHeader = "X-MBX-APIKEY"

// ResolveBaseURL picks the REST origin: an explicit override wins, then the
// testnet flag, then mainnet.
func ResolveBaseURL(override string, testnet bool) string {
	if override != "" {
		return override
	}
	if testnet {
		return testnetBaseURL
	}
	return defaultBaseURL
}
