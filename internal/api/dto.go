package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"moonshot-engine/internal/domain"
	"moonshot-engine/internal/engine"
	"moonshot-engine/internal/position"
)

// candidateRequest is the scanner snapshot accepted by POST /api/candidates.
// Omitted metrics stay unknown.
type candidateRequest struct {
	Chain            string   `json:"chain"`
	Address          string   `json:"address"`
	Symbol           string   `json:"symbol"`
	AgeMinutes       float64  `json:"age_minutes"`
	PriceUSD         *float64 `json:"price_usd"`
	LiquidityUSD     *float64 `json:"liquidity_usd"`
	Volume1hUSD      *float64 `json:"volume_1h_usd"`
	Volume24hUSD     *float64 `json:"volume_24h_usd"`
	Buys1h           *int     `json:"buys_1h"`
	Sells1h          *int     `json:"sells_1h"`
	HolderCount      *int     `json:"holder_count"`
	TopHolderPct     *float64 `json:"top_holder_pct"`
	TaxPct           *float64 `json:"tax_pct"`
	LPLocked         *bool    `json:"lp_locked"`
	MintEnabled      *bool    `json:"mint_enabled"`
	Proxy            *bool    `json:"proxy"`
	CanPause         *bool    `json:"can_pause"`
	PriceChange5mPct *float64 `json:"price_change_5m_pct"`
	PriceChange1hPct *float64 `json:"price_change_1h_pct"`
	VolumeTrend      string   `json:"volume_trend"`
	EMAFast          *float64 `json:"ema_fast"`
	EMASlow          *float64 `json:"ema_slow"`
	SocialMentions   *int     `json:"social_mentions"`
	SmartWallets     []string `json:"smart_wallets"`
	SmartMoney       bool     `json:"smart_money"`
	SocialBuzz       bool     `json:"social_buzz"`
}

// DecodeCandidate parses one candidate in the POST /api/candidates format.
func DecodeCandidate(data []byte, nowMs int64) (*domain.TokenCandidate, domain.AuxSignals, error) {
	var req candidateRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, domain.AuxSignals{}, fmt.Errorf("decode candidate: %w", err)
	}
	if req.Address == "" {
		return nil, domain.AuxSignals{}, errors.New("decode candidate: address is required")
	}
	c, aux := req.candidate(nowMs)
	return c, aux, nil
}

func (r candidateRequest) candidate(nowMs int64) (*domain.TokenCandidate, domain.AuxSignals) {
	chain := domain.Chain(r.Chain)
	if chain == "" {
		chain = domain.ChainSolana
	}
	c := &domain.TokenCandidate{
		Chain:      chain,
		Address:    r.Address,
		Symbol:     r.Symbol,
		AgeMinutes: r.AgeMinutes,
		ObservedAt: nowMs,
		Metrics: domain.RawMetrics{
			PriceUSD:         r.PriceUSD,
			LiquidityUSD:     r.LiquidityUSD,
			Volume1hUSD:      r.Volume1hUSD,
			Volume24hUSD:     r.Volume24hUSD,
			Buys1h:           r.Buys1h,
			Sells1h:          r.Sells1h,
			HolderCount:      r.HolderCount,
			TopHolderPct:     r.TopHolderPct,
			TaxPct:           r.TaxPct,
			LPLocked:         r.LPLocked,
			MintEnabled:      r.MintEnabled,
			Proxy:            r.Proxy,
			CanPause:         r.CanPause,
			PriceChange5mPct: r.PriceChange5mPct,
			PriceChange1hPct: r.PriceChange1hPct,
			VolumeTrend:      domain.VolumeTrend(r.VolumeTrend),
			EMAFast:          r.EMAFast,
			EMASlow:          r.EMASlow,
			SocialMentions:   r.SocialMentions,
		},
		SmartWallets: r.SmartWallets,
	}
	return c, domain.AuxSignals{SmartMoney: r.SmartMoney, SocialBuzz: r.SocialBuzz}
}

type signalResponse struct {
	Signal string  `json:"signal"`
	Pass   bool    `json:"pass"`
	Weight float64 `json:"weight"`
	Actual string  `json:"actual,omitempty"`
}

type decisionResponse struct {
	Chain        string           `json:"chain"`
	Address      string           `json:"address"`
	Admitted     bool             `json:"admitted"`
	Pool         string           `json:"pool,omitempty"`
	SizeFraction float64          `json:"size_fraction,omitempty"`
	PositionID   string           `json:"position_id,omitempty"`
	Score        int              `json:"score"`
	Confluence   int              `json:"confluence"`
	Confidence   float64          `json:"confidence"`
	Signals      []signalResponse `json:"signals"`
	SafetyPassed bool             `json:"safety_passed"`
	SafetyFlags  []string         `json:"safety_flags,omitempty"`
	Reason       string           `json:"reason,omitempty"`
	Detail       string           `json:"detail,omitempty"`
	DecidedAt    int64            `json:"decided_at"`
}

func toDecision(d domain.Decision) decisionResponse {
	out := decisionResponse{
		Chain:        string(d.Chain),
		Address:      d.Address,
		Admitted:     d.Admitted,
		Pool:         string(d.Pool),
		SizeFraction: d.SizeFraction,
		PositionID:   d.PositionID,
		Score:        d.Score.Value,
		Confluence:   d.Confluence.Count,
		Confidence:   d.Confluence.Confidence,
		SafetyPassed: d.Verdict.Passed,
		DecidedAt:    d.DecidedAt,
	}
	for _, sr := range d.Confluence.Signals {
		if sr.Signal == "" {
			continue
		}
		out.Signals = append(out.Signals, signalResponse{
			Signal: string(sr.Signal),
			Pass:   sr.Pass,
			Weight: sr.Weight,
			Actual: sr.Actual,
		})
	}
	for _, f := range d.Verdict.Flags {
		out.SafetyFlags = append(out.SafetyFlags, string(f))
	}
	if d.Rejection != nil {
		out.Reason = string(d.Rejection.Reason)
		out.Detail = d.Rejection.Detail
	}
	return out
}

type positionResponse struct {
	ID            string  `json:"id"`
	Chain         string  `json:"chain"`
	Address       string  `json:"address"`
	Symbol        string  `json:"symbol,omitempty"`
	Pool          string  `json:"pool"`
	State         string  `json:"state"`
	EntryPrice    float64 `json:"entry_price"`
	EntryValue    string  `json:"entry_value"`
	Remaining     float64 `json:"remaining"`
	StopPct       float64 `json:"stop_pct"`
	StopPrice     float64 `json:"stop_price"`
	FiredLevels   []int   `json:"fired_levels"`
	Trailing      bool    `json:"trailing"`
	HighWater     float64 `json:"high_water,omitempty"`
	RealizedPnL   string  `json:"realized_pnl"`
	LastPrice     float64 `json:"last_price"`
	UnrealizedPct float64 `json:"unrealized_pct"`
	Peak          float64 `json:"peak"`
	Stale         bool    `json:"stale"`
	OpenedAt      int64   `json:"opened_at"`
	LastTickAt    int64   `json:"last_tick_at,omitempty"`
}

func toPosition(v position.View) positionResponse {
	p := v.Position
	fired := p.FiredLevels
	if fired == nil {
		fired = []int{}
	}
	return positionResponse{
		ID:            p.ID,
		Chain:         string(p.Chain),
		Address:       p.Address,
		Symbol:        p.Symbol,
		Pool:          string(p.Pool),
		State:         string(p.State),
		EntryPrice:    p.EntryPrice,
		EntryValue:    p.EntryValue.StringFixed(8),
		Remaining:     p.Remaining,
		StopPct:       p.StopPct,
		StopPrice:     p.StopPrice(),
		FiredLevels:   fired,
		Trailing:      p.Trailing,
		HighWater:     p.HighWater,
		RealizedPnL:   p.RealizedPnL.StringFixed(8),
		LastPrice:     v.LastPrice,
		UnrealizedPct: v.UnrealizedPct(),
		Peak:          v.Peak,
		Stale:         v.Stale,
		OpenedAt:      p.OpenedAt,
		LastTickAt:    v.LastTickAt,
	}
}

type riskResponse struct {
	Day               string `json:"day"`
	RealizedPnL       string `json:"realized_pnl"`
	ConsecutiveLosses int    `json:"consecutive_losses"`
	Trades            int    `json:"trades"`
	Wins              int    `json:"wins"`
	Losses            int    `json:"losses"`
	Paused            bool   `json:"paused"`
	PauseReason       string `json:"pause_reason,omitempty"`
	PausedAt          int64  `json:"paused_at,omitempty"`
	ResumeAt          int64  `json:"resume_at,omitempty"`
}

func toRisk(st domain.RiskState) riskResponse {
	return riskResponse{
		Day:               st.Day,
		RealizedPnL:       st.RealizedPnL.StringFixed(8),
		ConsecutiveLosses: st.ConsecutiveLosses,
		Trades:            st.Trades,
		Wins:              st.Wins,
		Losses:            st.Losses,
		Paused:            st.Paused,
		PauseReason:       string(st.PauseReason),
		PausedAt:          st.PausedAt,
		ResumeAt:          st.ResumeAt,
	}
}

type poolResponse struct {
	Name         string  `json:"name"`
	Allocation   float64 `json:"allocation"`
	Open         int     `json:"open"`
	MaxPositions int     `json:"max_positions"`
}

type statusResponse struct {
	Status    string         `json:"status"`
	Session   string         `json:"session"`
	Uptime    string         `json:"uptime"`
	Risk      riskResponse   `json:"risk"`
	Pools     []poolResponse `json:"pools"`
	Positions int            `json:"positions"`
	LastSeq   int64          `json:"last_seq"`
}

func toStatus(st engine.Status, now time.Time) statusResponse {
	status := "running"
	if st.Risk.Paused {
		status = "paused"
	}
	out := statusResponse{
		Status:    status,
		Session:   st.Session,
		Uptime:    now.Sub(st.StartedAt).Round(time.Second).String(),
		Risk:      toRisk(st.Risk),
		Positions: st.Open,
		LastSeq:   st.LastSeq,
	}
	for _, pc := range st.Pools {
		out.Pools = append(out.Pools, poolResponse{
			Name:         string(pc.Name),
			Allocation:   pc.Allocation,
			Open:         st.Occupancy[pc.Name],
			MaxPositions: pc.MaxPositions,
		})
	}
	return out
}
