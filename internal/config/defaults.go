package config

import "time"

// Default returns the configuration shipped with the engine.
func Default() *Config {
	return &Config{
		Trading: TradingConfig{
			StartingCapital:      100,
			DailyLossLimitPct:    0.15,
			ConsecutiveLossPause: 3,
			LossCooldown:         4 * time.Hour,
			MaxSlippagePct:       0.05,
			MaxTotalPositions:    5,
			MinPositionFraction:  0.05,
			MaxPositionFraction:  0.20,
			FlatBandPct:          0.10,
			DayBoundaryTZ:        "UTC",
			PositionCheckEvery:   30 * time.Second,
			EvaluationWorkers:    4,
			MinLiquidityUSD:      3000,
			MaxTopHolderPct:      20,
			MaxTaxPct:            10,
		},
		Pools: []PoolConfig{
			{
				Name:             "SAFE",
				Allocation:       0.60,
				MinScore:         75,
				MinConfluence:    3,
				MinAgeMinutes:    30,
				MaxAgeMinutes:    240,
				StopLossPct:      -0.20,
				PositionFraction: 0.15,
				MaxPositions:     3,
				TrailingPct:      0.20,
				FlatExitMinutes:  120,
			},
			{
				Name:             "HUNT",
				Allocation:       0.40,
				MinScore:         65,
				MinConfluence:    2,
				MinAgeMinutes:    0,
				MaxAgeMinutes:    30,
				StopLossPct:      -0.30,
				PositionFraction: 0.15,
				MaxPositions:     2,
				TrailingPct:      0.25,
				FlatExitMinutes:  240,
			},
		},
		Ladder: []TPLevelConfig{
			{TriggerPct: 0.50, SellFraction: 0.20, NewStopPct: 0},
			{TriggerPct: 1.00, SellFraction: 0.30, NewStopPct: 0.25},
			{TriggerPct: 2.00, SellFraction: 0.25, NewStopPct: 0.75},
			{TriggerPct: 5.00, SellFraction: 0.15, NewStopPct: 1.50},
		},
		Scoring: ScoringConfig{
			LiquidityWeight: 0.30,
			PatternWeight:   0.30,
			MomentumWeight:  0.25,
			SocialWeight:    0.15,
			MentionCap:      200,
		},
		Confluence: ConfluenceConfig{
			Weights: map[string]float64{
				"safety":       3,
				"liquidity":    1,
				"holders":      1,
				"volume":       1,
				"buy_pressure": 1,
				"momentum":     2,
				"smart_money":  2,
				"social_buzz":  0.5,
				"fresh":        1,
				"no_red_flags": 3,
			},
			MinHolders:        20,
			MinBuyPressure:    0.55,
			MinMomentumScore:  50,
			MinSmartWallets:   2,
			MinMentions:       20,
			FreshMaxAge:       240,
			MaxDump5mPct:      -20,
			StableMinVolume1h: 1000,
		},
		Feed: FeedConfig{
			StaleAfter:     60 * time.Second,
			RequestTimeout: 5 * time.Second,
		},
		Safety: SafetyConfig{
			Timeout:    10 * time.Second,
			MaxRetries: 2,
		},
		Execution: ExecutionConfig{
			Mode:         "paper",
			Scenario:     "realistic",
			MaxRetries:   3,
			RetryInitial: 500 * time.Millisecond,
			RetryMax:     5 * time.Second,
		},
		Notify: NotifyConfig{
			QueueSize: 256,
		},
		API: APIConfig{
			Addr: ":8080",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}
