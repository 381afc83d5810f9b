package config

import (
	"errors"
	"fmt"
	"math"
	"time"

	"moonshot-engine/internal/domain"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// Validate rejects missing or out-of-range fields. All problems are reported
// together.
func (c *Config) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
	}

	t := c.Trading
	if t.StartingCapital <= 0 {
		fail("trading.starting_capital must be > 0")
	}
	if t.DailyLossLimitPct <= 0 || t.DailyLossLimitPct > 1 {
		fail("trading.daily_loss_limit_pct %v out of (0,1]", t.DailyLossLimitPct)
	}
	if t.ConsecutiveLossPause < 1 {
		fail("trading.consecutive_loss_pause must be >= 1")
	}
	if t.LossCooldown <= 0 {
		fail("trading.loss_cooldown must be > 0")
	}
	if t.MaxSlippagePct <= 0 || t.MaxSlippagePct >= 1 {
		fail("trading.max_slippage_pct %v out of (0,1)", t.MaxSlippagePct)
	}
	if t.MaxTotalPositions < 1 {
		fail("trading.max_total_positions must be >= 1")
	}
	if t.MinPositionFraction <= 0 || t.MinPositionFraction > t.MaxPositionFraction || t.MaxPositionFraction > 1 {
		fail("trading position fraction bounds [%v,%v] invalid", t.MinPositionFraction, t.MaxPositionFraction)
	}
	if t.FlatBandPct <= 0 {
		fail("trading.flat_band_pct must be > 0")
	}
	if _, err := time.LoadLocation(t.DayBoundaryTZ); err != nil {
		fail("trading.day_boundary_tz %q: %v", t.DayBoundaryTZ, err)
	}
	if t.PositionCheckEvery <= 0 {
		fail("trading.position_check_interval must be > 0")
	}
	if t.EvaluationWorkers < 1 {
		fail("trading.evaluation_workers must be >= 1")
	}

	c.validatePools(fail)
	c.validateLadder(fail)

	s := c.Scoring
	for name, w := range map[string]float64{
		"liquidity_weight": s.LiquidityWeight,
		"pattern_weight":   s.PatternWeight,
		"momentum_weight":  s.MomentumWeight,
		"social_weight":    s.SocialWeight,
	} {
		if w < 0 || w > 1 {
			fail("scoring.%s %v out of [0,1]", name, w)
		}
	}
	if sum := s.LiquidityWeight + s.PatternWeight + s.MomentumWeight + s.SocialWeight; math.Abs(sum-1) > 1e-9 {
		fail("scoring weights sum to %v, want 1", sum)
	}
	if s.MentionCap < 1 {
		fail("scoring.mention_cap must be >= 1")
	}

	for _, sig := range domain.AllSignals {
		w, ok := c.Confluence.Weights[string(sig)]
		if !ok {
			fail("confluence.weights.%s missing", sig)
			continue
		}
		if w <= 0 {
			fail("confluence.weights.%s must be > 0", sig)
		}
	}
	if len(c.Confluence.Weights) != len(domain.AllSignals) {
		fail("confluence.weights has %d entries, want %d", len(c.Confluence.Weights), len(domain.AllSignals))
	}

	if c.Feed.StaleAfter <= 0 {
		fail("feed.stale_after must be > 0")
	}
	if c.Safety.Timeout <= 0 {
		fail("safety.timeout must be > 0")
	}
	if _, ok := domain.ScenarioByID(c.Execution.Scenario); !ok {
		fail("execution.scenario %q unknown", c.Execution.Scenario)
	}
	if c.Execution.MaxRetries < 0 {
		fail("execution.max_retries must be >= 0")
	}
	if c.Notify.QueueSize < 1 {
		fail("notify.queue_size must be >= 1")
	}

	return errors.Join(errs...)
}

func (c *Config) validatePools(fail func(string, ...any)) {
	if len(c.Pools) == 0 {
		fail("pools: at least one pool required")
		return
	}

	seen := make(map[string]bool)
	var alloc float64
	for i, p := range c.Pools {
		if !domain.PoolName(p.Name).IsValid() {
			fail("pools[%d].name %q unknown", i, p.Name)
		}
		if seen[p.Name] {
			fail("pools[%d].name %q duplicated", i, p.Name)
		}
		seen[p.Name] = true

		if p.Allocation <= 0 || p.Allocation > 1 {
			fail("pools[%d].allocation %v out of (0,1]", i, p.Allocation)
		}
		alloc += p.Allocation
		if p.MinScore < 0 || p.MinScore > 100 {
			fail("pools[%d].min_score %d out of [0,100]", i, p.MinScore)
		}
		if p.MinConfluence < 0 || p.MinConfluence > len(domain.AllSignals) {
			fail("pools[%d].min_confluence %d out of [0,%d]", i, p.MinConfluence, len(domain.AllSignals))
		}
		if p.MinAgeMinutes < 0 || p.MaxAgeMinutes < p.MinAgeMinutes {
			fail("pools[%d] age window [%v,%v] invalid", i, p.MinAgeMinutes, p.MaxAgeMinutes)
		}
		if p.StopLossPct >= 0 || p.StopLossPct <= -1 {
			fail("pools[%d].stop_loss_pct %v out of (-1,0)", i, p.StopLossPct)
		}
		if p.PositionFraction <= 0 || p.PositionFraction > c.Trading.MaxPositionFraction {
			fail("pools[%d].position_fraction %v out of (0,%v]", i, p.PositionFraction, c.Trading.MaxPositionFraction)
		}
		if p.MaxPositions < 1 {
			fail("pools[%d].max_positions must be >= 1", i)
		}
		if p.TrailingPct <= 0 || p.TrailingPct >= 1 {
			fail("pools[%d].trailing_pct %v out of (0,1)", i, p.TrailingPct)
		}
		if p.FlatExitMinutes <= 0 {
			fail("pools[%d].flat_exit_minutes must be > 0", i)
		}
	}
	if alloc > 1+1e-9 {
		fail("pool allocations sum to %v, want <= 1", alloc)
	}
}

func (c *Config) validateLadder(fail func(string, ...any)) {
	if len(c.Ladder) == 0 {
		fail("take_profit_ladder: at least one level required")
		return
	}

	var sold float64
	for i, l := range c.Ladder {
		if l.TriggerPct <= 0 {
			fail("take_profit_ladder[%d].trigger_pct must be > 0", i)
		}
		if l.SellFraction <= 0 || l.SellFraction > 1 {
			fail("take_profit_ladder[%d].sell_fraction %v out of (0,1]", i, l.SellFraction)
		}
		if l.NewStopPct >= l.TriggerPct {
			fail("take_profit_ladder[%d].new_stop_pct %v must be below its trigger", i, l.NewStopPct)
		}
		if i > 0 {
			prev := c.Ladder[i-1]
			if l.TriggerPct <= prev.TriggerPct {
				fail("take_profit_ladder[%d] trigger not ascending", i)
			}
			if l.NewStopPct < prev.NewStopPct {
				fail("take_profit_ladder[%d] new stop moves down", i)
			}
		}
		sold += l.SellFraction
	}
	if sold > 1+1e-9 {
		fail("take_profit_ladder sells %v of the position, want <= 1", sold)
	}
}
