// Package config loads the engine configuration from YAML and the environment.
// A loaded Config is validated once and treated as immutable afterwards.
package config

import (
	"time"

	"moonshot-engine/internal/domain"
)

// Config is the root configuration document.
type Config struct {
	Trading    TradingConfig    `yaml:"trading"`
	Pools      []PoolConfig     `yaml:"pools"` // priority order
	Ladder     []TPLevelConfig  `yaml:"take_profit_ladder"`
	Scoring    ScoringConfig    `yaml:"scoring"`
	Confluence ConfluenceConfig `yaml:"confluence"`
	Feed       FeedConfig       `yaml:"feed"`
	Safety     SafetyConfig     `yaml:"safety"`
	Execution  ExecutionConfig  `yaml:"execution"`
	Storage    StorageConfig    `yaml:"storage"`
	Notify     NotifyConfig     `yaml:"notify"`
	API        APIConfig        `yaml:"api"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// TradingConfig holds portfolio-wide limits.
type TradingConfig struct {
	StartingCapital      float64       `yaml:"starting_capital"`
	DailyLossLimitPct    float64       `yaml:"daily_loss_limit_pct"`
	ConsecutiveLossPause int           `yaml:"consecutive_loss_pause"`
	LossCooldown         time.Duration `yaml:"loss_cooldown"`
	MaxSlippagePct       float64       `yaml:"max_slippage_pct"`
	MaxTotalPositions    int           `yaml:"max_total_positions"`
	MinPositionFraction  float64       `yaml:"min_position_fraction"`
	MaxPositionFraction  float64       `yaml:"max_position_fraction"`
	FlatBandPct          float64       `yaml:"flat_band_pct"`
	DayBoundaryTZ        string        `yaml:"day_boundary_tz"`
	PositionCheckEvery   time.Duration `yaml:"position_check_interval"`
	EvaluationWorkers    int           `yaml:"evaluation_workers"`
	MinLiquidityUSD      float64       `yaml:"min_liquidity_usd"`
	MaxTopHolderPct      float64       `yaml:"max_top_holder_pct"`
	MaxTaxPct            float64       `yaml:"max_tax_pct"`
}

// PoolConfig is the YAML form of a risk pool.
type PoolConfig struct {
	Name             string  `yaml:"name"`
	Allocation       float64 `yaml:"allocation"`
	MinScore         int     `yaml:"min_score"`
	MinConfluence    int     `yaml:"min_confluence"`
	MinAgeMinutes    float64 `yaml:"min_age_minutes"`
	MaxAgeMinutes    float64 `yaml:"max_age_minutes"`
	StopLossPct      float64 `yaml:"stop_loss_pct"`
	PositionFraction float64 `yaml:"position_fraction"`
	MaxPositions     int     `yaml:"max_positions"`
	TrailingPct      float64 `yaml:"trailing_pct"`
	FlatExitMinutes  float64 `yaml:"flat_exit_minutes"`
}

// TPLevelConfig is the YAML form of a take-profit ladder rung.
type TPLevelConfig struct {
	TriggerPct   float64 `yaml:"trigger_pct"`
	SellFraction float64 `yaml:"sell_fraction"`
	NewStopPct   float64 `yaml:"new_stop_pct"`
}

// ScoringConfig weights the four quality sub-scores.
type ScoringConfig struct {
	LiquidityWeight float64 `yaml:"liquidity_weight"`
	PatternWeight   float64 `yaml:"pattern_weight"`
	MomentumWeight  float64 `yaml:"momentum_weight"`
	SocialWeight    float64 `yaml:"social_weight"`
	MentionCap      int     `yaml:"mention_cap"`
}

// ConfluenceConfig holds per-signal weights and thresholds.
type ConfluenceConfig struct {
	Weights           map[string]float64 `yaml:"weights"`
	MinHolders        int                `yaml:"min_holders"`
	MinBuyPressure    float64            `yaml:"min_buy_pressure"`
	MinMomentumScore  float64            `yaml:"min_momentum_score"`
	MinSmartWallets   int                `yaml:"min_smart_wallets"`
	MinMentions       int                `yaml:"min_mentions"`
	FreshMaxAge       float64            `yaml:"fresh_max_age_minutes"`
	MaxDump5mPct      float64            `yaml:"max_dump_5m_pct"`
	StableMinVolume1h float64            `yaml:"stable_min_volume_1h"`
}

// FeedConfig configures price sources.
type FeedConfig struct {
	WSURL          string        `yaml:"ws_url"`
	PollURL        string        `yaml:"poll_url"`
	StaleAfter     time.Duration `yaml:"stale_after"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// SafetyConfig configures the contract-security collaborator.
type SafetyConfig struct {
	BaseURL    string        `yaml:"base_url"`
	APIKey     string        `yaml:"-"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

// ExecutionConfig configures order submission.
type ExecutionConfig struct {
	Mode         string        `yaml:"mode"` // "paper"
	Scenario     string        `yaml:"scenario"`
	MaxRetries   int           `yaml:"max_retries"`
	RetryInitial time.Duration `yaml:"retry_initial"`
	RetryMax     time.Duration `yaml:"retry_max"`
}

// StorageConfig selects the event store backends.
type StorageConfig struct {
	UseMemory     bool   `yaml:"use_memory"`
	PostgresDSN   string `yaml:"-"`
	ClickhouseDSN string `yaml:"-"`
}

// NotifyConfig configures alert sinks.
type NotifyConfig struct {
	QueueSize      int    `yaml:"queue_size"`
	WebhookURL     string `yaml:"-"`
	TelegramToken  string `yaml:"-"`
	TelegramChatID string `yaml:"-"`
	NotifyRejects  bool   `yaml:"notify_rejections"`
}

// APIConfig configures the operator HTTP API.
type APIConfig struct {
	Addr      string `yaml:"addr"`
	JWTSecret string `yaml:"-"`
}

// LoggingConfig configures zerolog output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // console | json
}

// PoolConfigs returns the pools in priority order as domain values.
func (c *Config) PoolConfigs() []domain.PoolConfig {
	out := make([]domain.PoolConfig, 0, len(c.Pools))
	for _, p := range c.Pools {
		out = append(out, domain.PoolConfig{
			Name:             domain.PoolName(p.Name),
			Allocation:       p.Allocation,
			MinScore:         p.MinScore,
			MinConfluence:    p.MinConfluence,
			MinAgeMinutes:    p.MinAgeMinutes,
			MaxAgeMinutes:    p.MaxAgeMinutes,
			BaseStopLossPct:  p.StopLossPct,
			BaseSizeFraction: p.PositionFraction,
			MaxPositions:     p.MaxPositions,
			TrailingPct:      p.TrailingPct,
			FlatExitMinutes:  p.FlatExitMinutes,
		})
	}
	return out
}

// LadderLevels returns the take-profit ladder as domain values.
func (c *Config) LadderLevels() []domain.TPLevel {
	out := make([]domain.TPLevel, 0, len(c.Ladder))
	for _, l := range c.Ladder {
		out = append(out, domain.TPLevel{
			TriggerPct:   l.TriggerPct,
			SellFraction: l.SellFraction,
			NewStopPct:   l.NewStopPct,
		})
	}
	return out
}

// SignalWeights returns confluence weights keyed by signal.
func (c *Config) SignalWeights() map[domain.Signal]float64 {
	out := make(map[domain.Signal]float64, len(c.Confluence.Weights))
	for k, v := range c.Confluence.Weights {
		out[domain.Signal(k)] = v
	}
	return out
}

// Location returns the time zone that defines the trading day.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Trading.DayBoundaryTZ)
	if err != nil {
		return time.UTC
	}
	return loc
}
