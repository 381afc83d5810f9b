package execution

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"moonshot-engine/internal/domain"
)

// Paper fills every order at the reference price moved against the trader
// by the scenario's slippage.
type Paper struct {
	scenario domain.ScenarioConfig
	now      func() time.Time
}

// NewPaper creates a paper executor for a fill scenario.
func NewPaper(scenario domain.ScenarioConfig) *Paper {
	return &Paper{scenario: scenario, now: time.Now}
}

// WithClock replaces the executor's clock.
func (p *Paper) WithClock(now func() time.Time) *Paper {
	p.now = now
	return p
}

var _ Executor = (*Paper)(nil)

// Submit simulates the confirmation delay and returns the fill.
func (p *Paper) Submit(ctx context.Context, o Order) (Fill, error) {
	if o.RefPrice <= 0 {
		return Fill{}, fmt.Errorf("%w: reference price %v", ErrRejected, o.RefPrice)
	}
	if o.MaxSlippage > 0 && p.scenario.SlippagePct > o.MaxSlippage {
		return Fill{}, fmt.Errorf("%w: %.4f > %.4f", ErrSlippage, p.scenario.SlippagePct, o.MaxSlippage)
	}

	if p.scenario.DelayMs > 0 {
		select {
		case <-ctx.Done():
			return Fill{}, ctx.Err()
		case <-time.After(time.Duration(p.scenario.DelayMs) * time.Millisecond):
		}
	}

	price := o.RefPrice * (1 + p.scenario.SlippagePct)
	if o.Side == SideSell {
		price = o.RefPrice * (1 - p.scenario.SlippagePct)
	}

	return Fill{
		Price:    price,
		Slippage: p.scenario.SlippagePct,
		Fee:      o.Notional.Mul(decimal.NewFromFloat(p.scenario.FeePct)).Round(8),
		TxID:     "paper-" + uuid.NewString(),
		At:       p.now().UnixMilli(),
	}, nil
}
