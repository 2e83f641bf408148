package service

import "github.com/GeniusSecret1117/zeroloss-backend/libs/kafka"

const (
	eventPlacementCompleted = "trading.placement.completed"
	eventPlacementFailed    = "trading.placement.failed"
)

type PlacementCompletedEvent struct {
	Envelope     kafka.Envelope `json:"envelope"`
	UserID       string         `json:"user_id"`
	Symbol       string         `json:"symbol"`
	Side         string         `json:"side"`
	Leverage     int            `json:"leverage"`
	Quantity     string         `json:"quantity"`
	EntryOrderID int64          `json:"entry_order_id"`
	EntryPrice   string         `json:"entry_price"`
	TPOrderID    int64          `json:"tp_order_id"`
	TPPrice      string         `json:"tp_price"`
}

type PlacementFailedEvent struct {
	Envelope     kafka.Envelope `json:"envelope"`
	UserID       string         `json:"user_id"`
	Symbol       string         `json:"symbol"`
	Side         string         `json:"side"`
	Phase        string         `json:"phase"`
	Reason       string         `json:"reason"`
	EntryOrderID int64          `json:"entry_order_id,omitempty"`
	Unprotected  bool           `json:"unprotected_position"`
}
