package domain

// SafetyFlag names a specific failed safety check.
type SafetyFlag string

const (
	FlagHoneypot            SafetyFlag = "honeypot"
	FlagMintEnabled         SafetyFlag = "mint-enabled"
	FlagProxy               SafetyFlag = "proxy"
	FlagFreezeAuthority     SafetyFlag = "freeze-authority"
	FlagCanPause            SafetyFlag = "can-pause"
	FlagTaxTooHigh          SafetyFlag = "tax-too-high"
	FlagLPUnlocked          SafetyFlag = "lp-unlocked"
	FlagHolderConcentration SafetyFlag = "holder-concentration"
	FlagUnavailable         SafetyFlag = "unavailable"
)

// SafetyVerdict is the outcome of a contract-security query.
type SafetyVerdict struct {
	Passed    bool
	Flags     []SafetyFlag
	CheckedAt int64 // ms
}

// Has reports whether the verdict carries flag f.
func (v SafetyVerdict) Has(f SafetyFlag) bool {
	for _, x := range v.Flags {
		if x == f {
			return true
		}
	}
	return false
}

// FailedVerdict returns a failing verdict carrying the given flags.
func FailedVerdict(at int64, flags ...SafetyFlag) SafetyVerdict {
	return SafetyVerdict{Passed: false, Flags: flags, CheckedAt: at}
}
