package domain

// RejectReason is the machine-readable reason a candidate was not admitted.
type RejectReason string

const (
	RejectRiskPaused       RejectReason = "risk-paused"
	RejectBelowThreshold   RejectReason = "below-threshold"
	RejectPoolFull         RejectReason = "pool-full"
	RejectSafetyFailed     RejectReason = "safety-failed"
	RejectInvalidCandidate RejectReason = "invalid-candidate"
	RejectAlreadyHeld      RejectReason = "already-held"
)

// Rejection records why a candidate was turned away.
type Rejection struct {
	Chain      Chain
	Address    string
	Reason     RejectReason
	Detail     string
	Score      int
	Confluence int
	AgeMinutes float64
	At         int64 // ms
}

// Error implements error so routers can return rejections directly.
func (r *Rejection) Error() string {
	if r.Detail != "" {
		return string(r.Reason) + ": " + r.Detail
	}
	return string(r.Reason)
}

// Decision is the synchronous result of evaluating one candidate.
type Decision struct {
	Chain        Chain
	Address      string
	Admitted     bool
	Pool         PoolName
	SizeFraction float64
	PositionID   string
	Score        QualityScore
	Confluence   ConfluenceResult
	Verdict      SafetyVerdict
	Rejection    *Rejection
	DecidedAt    int64 // ms
}
