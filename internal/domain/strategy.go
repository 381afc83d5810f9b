package domain

// PoolName identifies a risk pool.
type PoolName string

const (
	PoolSafe PoolName = "SAFE"
	PoolHunt PoolName = "HUNT"
)

// String returns the string representation of PoolName.
func (p PoolName) String() string {
	return string(p)
}

// IsValid checks if the pool is a known value.
func (p PoolName) IsValid() bool {
	return p == PoolSafe || p == PoolHunt
}

// PoolConfig holds the static parameters of one risk pool.
// Percentages are fractions: -0.20 means a 20% loss.
type PoolConfig struct {
	Name             PoolName
	Allocation       float64 // fraction of total capital
	MinScore         int     // 0-100
	MinConfluence    int     // 0-10
	MinAgeMinutes    float64 // inclusive
	MaxAgeMinutes    float64 // inclusive
	BaseStopLossPct  float64 // negative
	BaseSizeFraction float64 // fraction of pool capital per position
	MaxPositions     int
	TrailingPct      float64 // drawdown from high-water mark in moon mode
	FlatExitMinutes  float64 // stagnation window for time exit
}

// AgeInWindow reports whether ageMinutes falls in the pool's age window.
func (c PoolConfig) AgeInWindow(ageMinutes float64) bool {
	return ageMinutes >= c.MinAgeMinutes && ageMinutes <= c.MaxAgeMinutes
}

// TPLevel is one rung of the take-profit ladder.
type TPLevel struct {
	TriggerPct   float64 // gain over entry that fires the level, e.g. 0.50
	SellFraction float64 // fraction of the original entry size to sell
	NewStopPct   float64 // stop relative to entry after firing, e.g. 0 = breakeven
}
