// Package execution submits buy and sell orders for positions.
package execution

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"moonshot-engine/internal/domain"
)

var (
	// ErrRejected is returned when the venue refuses an order. Retryable.
	ErrRejected = errors.New("order rejected")
	// ErrSlippage is returned when the fill would exceed the order's max slippage.
	ErrSlippage = errors.New("slippage exceeds limit")
	// ErrExhausted is returned when every retry attempt failed.
	ErrExhausted = errors.New("execution retries exhausted")
)

// Side is the order direction.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Order is an intended trade.
type Order struct {
	Side        Side
	Chain       domain.Chain
	Token       string
	PositionID  string
	Fraction    float64         // fraction of the original position size
	Notional    decimal.Decimal // value at RefPrice
	RefPrice    float64
	MaxSlippage float64 // fraction, e.g. 0.05
}

// Fill is the result of a successful order.
type Fill struct {
	Price    float64 // realized execution price
	Slippage float64 // adverse move from RefPrice, fraction
	Fee      decimal.Decimal
	TxID     string
	At       int64 // ms
}

// Executor submits orders.
type Executor interface {
	Submit(ctx context.Context, o Order) (Fill, error)
}
