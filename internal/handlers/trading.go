package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/GeniusSecret1117/zeroloss-backend/internal/binance"
	"github.com/GeniusSecret1117/zeroloss-backend/internal/orders"
	"github.com/GeniusSecret1117/zeroloss-backend/internal/service"
	"github.com/GeniusSecret1117/zeroloss-backend/internal/snapshot"
	"github.com/GeniusSecret1117/zeroloss-backend/internal/storage"
	"github.com/GeniusSecret1117/zeroloss-backend/internal/symbols"
	"github.com/GeniusSecret1117/zeroloss-backend/internal/validation"
	"github.com/GeniusSecret1117/zeroloss-backend/internal/vault"
	"github.com/GeniusSecret1117/zeroloss-backend/libs/auth"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"log/slog"
)

const defaultHistorySymbol = "BTCUSDT"

type TradingService interface {
	PlaceOrder(ctx context.Context, input service.PlaceOrderInput) (*orders.Placement, error)
	Snapshot(ctx context.Context, userID uuid.UUID, symbol string) (*snapshot.Snapshot, error)
	FundingFees(ctx context.Context, userID uuid.UUID, start, end int64) ([]binance.IncomeRecord, error)
	Transactions(ctx context.Context, userID uuid.UUID, start, end int64) ([]binance.IncomeRecord, error)
	OrderHistory(ctx context.Context, userID uuid.UUID, limit int) ([]storage.Placement, error)
	SaveCredentials(ctx context.Context, userID uuid.UUID, update vault.Update) (*vault.Credentials, error)
	GetCredentials(ctx context.Context, userID uuid.UUID) (*vault.Credentials, error)
}

type Handler struct {
	Service TradingService
	Logger  *slog.Logger
}

func New(svc TradingService, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{Service: svc, Logger: logger}
}

func (h *Handler) Register(r *gin.Engine, jwtSecret []byte) {
	group := r.Group("/binance", auth.Middleware(jwtSecret))
	group.GET("/credentials", h.GetCredentials)
	group.PUT("/credentials", h.PutCredentials)
	group.POST("/orders", h.PlaceOrder)
	group.GET("/orders", h.OrderHistory)
	group.GET("/account", h.GetAccount)
	group.POST("/funding-fees/range", h.FundingFeesRange)
	group.POST("/transactions/range", h.TransactionsRange)
}

type credentialsRequest struct {
	APIKey     *string   `json:"api_key"`
	SecretKey  *string   `json:"secret_key"`
	AllowedIPs *[]string `json:"allowed_ips"`
}

type credentialsResponse struct {
	APIKey     string   `json:"api_key"`
	SecretKey  string   `json:"secret_key"`
	AllowedIPs []string `json:"allowed_ips"`
	UpdatedAt  string   `json:"updated_at"`
}

type placeOrderRequest struct {
	Symbol            string `json:"symbol"`
	Side              string `json:"side"`
	Amount            string `json:"amount"`
	Leverage          int    `json:"leverage"`
	TakeProfitPercent string `json:"take_profit_percent"`
	LimitPrice        string `json:"limit_price"`
	BestEffortPrice   bool   `json:"best_effort_price"`
}

type placeOrderResponse struct {
	Symbol            string `json:"symbol"`
	Side              string `json:"side"`
	Leverage          int    `json:"leverage"`
	Quantity          string `json:"quantity"`
	EntryOrderID      int64  `json:"entry_order_id"`
	EntryFillPrice    string `json:"entry_fill_price"`
	TakeProfitOrderID int64  `json:"take_profit_order_id"`
	TakeProfitPrice   string `json:"take_profit_price"`
}

type rangeRequest struct {
	StartTime int64 `json:"start_time"`
	EndTime   int64 `json:"end_time"`
}

type errorResponse struct {
	Code         string                  `json:"code"`
	Message      string                  `json:"message"`
	Fields       []validation.FieldError `json:"fields,omitempty"`
	Details      map[string]string       `json:"details,omitempty"`
	Phase        string                  `json:"phase,omitempty"`
	Unprotected  bool                    `json:"unprotected_position,omitempty"`
	EntryOrderID int64                   `json:"entry_order_id,omitempty"`
}

func (h *Handler) GetCredentials(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing user", nil, nil)
		return
	}

	creds, err := h.Service.GetCredentials(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, vault.ErrNoCredentials) {
			writeError(c, http.StatusNotFound, "NOT_FOUND", "no exchange credentials", nil, nil)
			return
		}
		h.Logger.Error("get credentials failed", "error", err)
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error", nil, nil)
		return
	}
	c.JSON(http.StatusOK, credentialsToResponse(creds))
}

func (h *Handler) PutCredentials(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing user", nil, nil)
		return
	}

	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid payload", nil, nil)
		return
	}
	if errs := validation.ValidateCredentials(req.APIKey, req.SecretKey, req.AllowedIPs); len(errs) > 0 {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid request", errs, nil)
		return
	}

	creds, err := h.Service.SaveCredentials(c.Request.Context(), userID, vault.Update{
		APIKey:     req.APIKey,
		SecretKey:  req.SecretKey,
		AllowedIPs: req.AllowedIPs,
	})
	if err != nil {
		if errors.Is(err, vault.ErrNoCredentials) {
			writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "first save requires both api_key and secret_key", nil, nil)
			return
		}
		h.Logger.Error("save credentials failed", "error", err)
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error", nil, nil)
		return
	}
	c.JSON(http.StatusOK, credentialsToResponse(creds))
}

func (h *Handler) PlaceOrder(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing user", nil, nil)
		return
	}

	var req placeOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid payload", nil, nil)
		return
	}

	parsed, errs := validation.ValidatePlaceOrder(req.Symbol, req.Side, req.Amount, req.Leverage, req.TakeProfitPercent, req.LimitPrice)
	if len(errs) > 0 {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid request", errs, nil)
		return
	}

	placement, err := h.Service.PlaceOrder(c.Request.Context(), service.PlaceOrderInput{
		UserID:            userID,
		Symbol:            parsed.Symbol,
		Side:              parsed.Side,
		NotionalAmount:    parsed.NotionalAmount,
		Leverage:          parsed.Leverage,
		TakeProfitPercent: parsed.TakeProfitPercent,
		LimitPrice:        parsed.LimitPrice,
		BestEffortPrice:   req.BestEffortPrice,
		CorrelationID:     requestIDFromContext(c),
	})
	if err != nil {
		h.writePlacementError(c, err)
		return
	}

	c.JSON(http.StatusOK, placeOrderResponse{
		Symbol:            placement.Symbol,
		Side:              placement.Side,
		Leverage:          placement.Leverage,
		Quantity:          placement.Quantity.String(),
		EntryOrderID:      placement.EntryOrderID,
		EntryFillPrice:    placement.EntryPrice.String(),
		TakeProfitOrderID: placement.TPOrderID,
		TakeProfitPrice:   placement.TPPrice.String(),
	})
}

func (h *Handler) writePlacementError(c *gin.Context, err error) {
	var rateErr *service.RateLimitError
	if errors.As(err, &rateErr) {
		retryAfter := strconv.FormatInt(int64(rateErr.RetryAfter/time.Second)+1, 10)
		c.Header("Retry-After", retryAfter)
		writeError(c, http.StatusTooManyRequests, "RATE_LIMITED", "too many placements", nil, map[string]string{"retry_after_seconds": retryAfter})
		return
	}

	var placementErr *orders.PlacementError
	if errors.As(err, &placementErr) {
		status := http.StatusBadRequest
		code := "ORDER_REJECTED"
		if placementErr.Reason == orders.ReasonFillTimeout || binance.IsTransport(placementErr.Err) {
			status = http.StatusBadGateway
			code = "UPSTREAM_ERROR"
		}
		c.JSON(status, errorResponse{
			Code:         code,
			Message:      placementErr.Error(),
			Phase:        string(placementErr.Phase),
			Unprotected:  placementErr.Unprotected,
			EntryOrderID: placementErr.EntryOrderID,
		})
		return
	}

	switch {
	case errors.Is(err, vault.ErrNoCredentials):
		writeError(c, http.StatusNotFound, "NOT_FOUND", "no exchange credentials", nil, nil)
	case errors.Is(err, orders.ErrPlacementInFlight):
		writeError(c, http.StatusConflict, "CONFLICT", "a placement for this symbol is already running", nil, nil)
	case errors.Is(err, binance.ErrTimeSync):
		writeError(c, http.StatusServiceUnavailable, "TIME_SYNC", "exchange clock sync failed", nil, nil)
	case errors.Is(err, symbols.ErrUnknownSymbol):
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "unknown symbol", nil, nil)
	case errors.Is(err, symbols.ErrPriceBand):
		writeError(c, http.StatusBadRequest, "PRICE_OUT_OF_BAND", "price outside permitted band", nil, nil)
	case errors.Is(err, orders.ErrQuantityTooSmall):
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "quantity below minimum lot step", nil, nil)
	case errors.Is(err, service.ErrInvalidNotional):
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "amount must be positive", nil, nil)
	default:
		h.Logger.Error("place order failed", "error", err)
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error", nil, nil)
	}
}

type placementHistoryEntry struct {
	ID                string `json:"id"`
	Symbol            string `json:"symbol"`
	Side              string `json:"side"`
	Quantity          string `json:"quantity"`
	Leverage          int    `json:"leverage"`
	EntryOrderID      int64  `json:"entry_order_id,omitempty"`
	EntryFillPrice    string `json:"entry_fill_price,omitempty"`
	TakeProfitOrderID int64  `json:"take_profit_order_id,omitempty"`
	TakeProfitPrice   string `json:"take_profit_price,omitempty"`
	Outcome           string `json:"outcome"`
	FailureReason     string `json:"failure_reason,omitempty"`
	Unprotected       bool   `json:"unprotected_position,omitempty"`
	CreatedAt         string `json:"created_at"`
}

func (h *Handler) OrderHistory(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing user", nil, nil)
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "limit must be a positive integer", nil, nil)
			return
		}
		limit = parsed
	}

	placements, err := h.Service.OrderHistory(c.Request.Context(), userID, limit)
	if err != nil {
		h.Logger.Error("order history read failed", "error", err)
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error", nil, nil)
		return
	}

	entries := make([]placementHistoryEntry, 0, len(placements))
	for _, p := range placements {
		entry := placementHistoryEntry{
			ID:            p.ID.String(),
			Symbol:        p.Symbol,
			Side:          p.Side,
			Quantity:      p.Quantity.String(),
			Leverage:      p.Leverage,
			EntryOrderID:  p.EntryOrderID,
			Outcome:       p.Outcome,
			FailureReason: p.FailureReason,
			Unprotected:   p.Unprotected,
			CreatedAt:     p.CreatedAt.UTC().Format(time.RFC3339),
		}
		if !p.EntryPrice.IsZero() {
			entry.EntryFillPrice = p.EntryPrice.String()
		}
		if p.TPOrderID != 0 {
			entry.TakeProfitOrderID = p.TPOrderID
			entry.TakeProfitPrice = p.TPPrice.String()
		}
		entries = append(entries, entry)
	}
	c.JSON(http.StatusOK, gin.H{"placements": entries})
}

func (h *Handler) GetAccount(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing user", nil, nil)
		return
	}

	symbol := validation.NormalizeSymbol(c.Query("symbol"))
	if symbol == "" {
		symbol = defaultHistorySymbol
	}

	snap, err := h.Service.Snapshot(c.Request.Context(), userID, symbol)
	if err != nil {
		if errors.Is(err, vault.ErrNoCredentials) {
			writeError(c, http.StatusNotFound, "NOT_FOUND", "no exchange credentials", nil, nil)
			return
		}
		h.Logger.Error("account snapshot failed", "error", err)
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error", nil, nil)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *Handler) FundingFeesRange(c *gin.Context) {
	h.incomeRange(c, h.Service.FundingFees)
}

func (h *Handler) TransactionsRange(c *gin.Context) {
	h.incomeRange(c, h.Service.Transactions)
}

func (h *Handler) incomeRange(c *gin.Context, read func(ctx context.Context, userID uuid.UUID, start, end int64) ([]binance.IncomeRecord, error)) {
	userID, ok := userIDFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing user", nil, nil)
		return
	}

	var req rangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid payload", nil, nil)
		return
	}
	if errs := validation.ValidateRange(req.StartTime, req.EndTime); len(errs) > 0 {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid request", errs, nil)
		return
	}

	records, err := read(c.Request.Context(), userID, req.StartTime, req.EndTime)
	if err != nil {
		if errors.Is(err, vault.ErrNoCredentials) {
			writeError(c, http.StatusNotFound, "NOT_FOUND", "no exchange credentials", nil, nil)
			return
		}
		h.Logger.Error("income range read failed", "error", err)
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error", nil, nil)
		return
	}
	if records == nil {
		records = []binance.IncomeRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"records": records})
}

func credentialsToResponse(creds *vault.Credentials) credentialsResponse {
	ips := creds.AllowedIPs
	if ips == nil {
		ips = []string{}
	}
	return credentialsResponse{
		APIKey:     creds.APIKey,
		SecretKey:  creds.SecretKey,
		AllowedIPs: ips,
		UpdatedAt:  creds.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func userIDFromContext(c *gin.Context) (uuid.UUID, bool) {
	val, ok := c.Get(auth.ContextUserIDKey)
	if !ok {
		return uuid.Nil, false
	}
	raw, ok := val.(string)
	if !ok {
		return uuid.Nil, false
	}
	parsed, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false
	}
	return parsed, true
}

func requestIDFromContext(c *gin.Context) string {
	if val, ok := c.Get("X-Request-ID"); ok {
		if s, ok := val.(string); ok {
			return s
		}
	}
	return ""
}

func writeError(c *gin.Context, status int, code, message string, fields []validation.FieldError, details map[string]string) {
	c.JSON(status, errorResponse{
		Code:    code,
		Message: message,
		Fields:  fields,
		Details: details,
	})
}
