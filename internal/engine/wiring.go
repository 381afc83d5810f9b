package engine

import (
	"github.com/shopspring/decimal"

	"moonshot-engine/internal/config"
	"moonshot-engine/internal/confluence"
	"moonshot-engine/internal/domain"
	"moonshot-engine/internal/position"
	"moonshot-engine/internal/risk"
	"moonshot-engine/internal/router"
	"moonshot-engine/internal/scoring"
)

// MachineFor builds the position state machine from cfg.
func MachineFor(cfg *config.Config) *position.Machine {
	pools := make(map[domain.PoolName]domain.PoolConfig, len(cfg.Pools))
	for _, pc := range cfg.PoolConfigs() {
		pools[pc.Name] = pc
	}
	return position.NewMachine(position.Params{
		Ladder:      cfg.LadderLevels(),
		Pools:       pools,
		FlatBandPct: cfg.Trading.FlatBandPct,
	})
}

// ScorerFor builds the quality scorer from cfg.
func ScorerFor(cfg *config.Config) *scoring.Scorer {
	p := scoring.DefaultParams()
	p.Weights = scoring.Weights{
		Liquidity: cfg.Scoring.LiquidityWeight,
		Pattern:   cfg.Scoring.PatternWeight,
		Momentum:  cfg.Scoring.MomentumWeight,
		Social:    cfg.Scoring.SocialWeight,
	}
	p.MinLiquidityUSD = cfg.Trading.MinLiquidityUSD
	p.MaxTopHolderPct = cfg.Trading.MaxTopHolderPct
	p.MentionCap = cfg.Scoring.MentionCap
	return scoring.NewScorer(p)
}

// AggregatorFor builds the confluence aggregator from cfg.
func AggregatorFor(cfg *config.Config) *confluence.Aggregator {
	cc := cfg.Confluence
	return confluence.NewAggregator(confluence.Params{
		Weights:           cfg.SignalWeights(),
		MinLiquidityUSD:   cfg.Trading.MinLiquidityUSD,
		MinHolders:        cc.MinHolders,
		MaxTopHolderPct:   cfg.Trading.MaxTopHolderPct,
		MinBuyPressure:    cc.MinBuyPressure,
		MinMomentumScore:  cc.MinMomentumScore,
		MinSmartWallets:   cc.MinSmartWallets,
		MinMentions:       cc.MinMentions,
		FreshMaxAge:       cc.FreshMaxAge,
		StableMinVolume1h: cc.StableMinVolume1h,
		MaxTaxPct:         cfg.Trading.MaxTaxPct,
		MaxDump5mPct:      cc.MaxDump5mPct,
	})
}

// RiskParams returns the governor parameters from cfg.
func RiskParams(cfg *config.Config) risk.Params {
	return risk.Params{
		Capital:              decimal.NewFromFloat(cfg.Trading.StartingCapital),
		DailyLossLimitPct:    cfg.Trading.DailyLossLimitPct,
		MaxConsecutiveLosses: cfg.Trading.ConsecutiveLossPause,
		Cooldown:             cfg.Trading.LossCooldown,
		Location:             cfg.Location(),
	}
}

// RouterParams returns the pool router parameters from cfg.
func RouterParams(cfg *config.Config) router.Params {
	return router.Params{
		Pools:             cfg.PoolConfigs(),
		MaxTotalPositions: cfg.Trading.MaxTotalPositions,
		SizeFloor:         cfg.Trading.MinPositionFraction,
		SizeCap:           cfg.Trading.MaxPositionFraction,
	}
}
