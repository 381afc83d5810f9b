package domain

// ScenarioConfig describes the fill model used by the paper executor.
type ScenarioConfig struct {
	ScenarioID  string  // "optimistic" | "realistic" | "pessimistic"
	DelayMs     int64   // simulated confirmation delay
	SlippagePct float64 // adverse slippage applied to every fill, fraction
	FeePct      float64 // fee charged on notional, fraction
}

// Scenario ID constants
const (
	ScenarioOptimistic  = "optimistic"
	ScenarioRealistic   = "realistic"
	ScenarioPessimistic = "pessimistic"
)

// Predefined fill scenarios.
var (
	ScenarioConfigOptimistic = ScenarioConfig{
		ScenarioID:  ScenarioOptimistic,
		DelayMs:     0,
		SlippagePct: 0.005,
		FeePct:      0.0025,
	}

	ScenarioConfigRealistic = ScenarioConfig{
		ScenarioID:  ScenarioRealistic,
		DelayMs:     500,
		SlippagePct: 0.02,
		FeePct:      0.0025,
	}

	ScenarioConfigPessimistic = ScenarioConfig{
		ScenarioID:  ScenarioPessimistic,
		DelayMs:     2000,
		SlippagePct: 0.04,
		FeePct:      0.005,
	}
)

// ScenarioByID returns the predefined scenario with the given ID.
func ScenarioByID(id string) (ScenarioConfig, bool) {
	switch id {
	case ScenarioOptimistic:
		return ScenarioConfigOptimistic, true
	case ScenarioRealistic:
		return ScenarioConfigRealistic, true
	case ScenarioPessimistic:
		return ScenarioConfigPessimistic, true
	}
	return ScenarioConfig{}, false
}
