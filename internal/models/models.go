// Package models provides domain models for the pricing, analytics and risk engine.
package models

import (
	"time"
)

// OrderSide represents the side of an order or strategy leg.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// Sign returns +1 for buys and -1 for sells.
func (s OrderSide) Sign() float64 {
	if s == OrderSideSell {
		return -1
	}
	return 1
}

// Tick represents a single price update from the streaming feed.
type Tick struct {
	Symbol    string    `json:"symbol"`
	LTP       float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}
