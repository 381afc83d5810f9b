// Package router admits scored candidates into the SAFE or HUNT risk pool.
//
// Admission and occupancy increment happen under one lock, so concurrent
// evaluations can never push a pool past its cap.
package router

import (
	"fmt"
	"math"
	"sync"

	"moonshot-engine/internal/domain"
)

// Gate reports whether new admissions are currently allowed.
// *risk.Governor satisfies it.
type Gate interface {
	Allow(nowMs int64) (bool, domain.PauseReason)
}

// Params configures the router.
type Params struct {
	Pools             []domain.PoolConfig // priority order
	MaxTotalPositions int                 // 0 disables the cross-pool cap
	SizeFloor         float64
	SizeCap           float64
}

// Request is the routing input for one candidate.
type Request struct {
	Chain      domain.Chain
	Address    string
	AgeMinutes float64
	Score      domain.QualityScore
	Confluence domain.ConfluenceResult
	At         int64 // ms
}

// Admission is a granted pool slot. The caller must Release it when the
// position closes or the entry fails.
type Admission struct {
	Pool         domain.PoolName
	Config       domain.PoolConfig
	SizeFraction float64
}

// Router holds pool occupancy.
type Router struct {
	mu    sync.Mutex
	p     Params
	gate  Gate
	occ   map[domain.PoolName]int
	total int
}

// New creates a router. gate may be nil, in which case admissions are never
// paused.
func New(p Params, gate Gate) *Router {
	return &Router{
		p:    p,
		gate: gate,
		occ:  make(map[domain.PoolName]int, len(p.Pools)),
	}
}

// Admit decides the pool for req and reserves a slot in it.
// On rejection the error is a *domain.Rejection.
func (r *Router) Admit(req Request) (Admission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.gate != nil {
		if ok, reason := r.gate.Allow(req.At); !ok {
			return Admission{}, r.reject(req, domain.RejectRiskPaused, string(reason))
		}
	}

	var full []domain.PoolName
	for _, pc := range r.p.Pools {
		if !qualifies(pc, req) {
			continue
		}
		if r.occ[pc.Name] >= pc.MaxPositions || r.totalFull() {
			full = append(full, pc.Name)
			continue
		}

		r.occ[pc.Name]++
		r.total++
		return Admission{
			Pool:         pc.Name,
			Config:       pc,
			SizeFraction: Size(pc.BaseSizeFraction, req.Confluence.Confidence, r.p.SizeFloor, r.p.SizeCap),
		}, nil
	}

	if len(full) > 0 {
		return Admission{}, r.reject(req, domain.RejectPoolFull, fmt.Sprintf("%v at capacity", full))
	}
	return Admission{}, r.reject(req, domain.RejectBelowThreshold,
		fmt.Sprintf("score=%d confluence=%d age=%.0fm", req.Score.Value, req.Confluence.Count, req.AgeMinutes))
}

func qualifies(pc domain.PoolConfig, req Request) bool {
	return pc.AgeInWindow(req.AgeMinutes) &&
		req.Score.Value >= pc.MinScore &&
		req.Confluence.Count >= pc.MinConfluence
}

func (r *Router) totalFull() bool {
	return r.p.MaxTotalPositions > 0 && r.total >= r.p.MaxTotalPositions
}

func (r *Router) reject(req Request, reason domain.RejectReason, detail string) *domain.Rejection {
	return &domain.Rejection{
		Chain:      req.Chain,
		Address:    req.Address,
		Reason:     reason,
		Detail:     detail,
		Score:      req.Score.Value,
		Confluence: req.Confluence.Count,
		AgeMinutes: req.AgeMinutes,
		At:         req.At,
	}
}

// Release frees one slot in pool. Occupancy never drops below zero.
func (r *Router) Release(pool domain.PoolName) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.occ[pool] > 0 {
		r.occ[pool]--
		r.total--
	}
}

// Restore replaces occupancy with counts rebuilt from the event log.
func (r *Router) Restore(counts map[domain.PoolName]int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.occ = make(map[domain.PoolName]int, len(counts))
	r.total = 0
	for pool, n := range counts {
		if n <= 0 {
			continue
		}
		r.occ[pool] = n
		r.total += n
	}
}

// Occupancy returns a snapshot of live positions per pool.
func (r *Router) Occupancy() map[domain.PoolName]int {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[domain.PoolName]int, len(r.p.Pools))
	for _, pc := range r.p.Pools {
		out[pc.Name] = r.occ[pc.Name]
	}
	return out
}

// Pools returns the configured pools in priority order.
func (r *Router) Pools() []domain.PoolConfig {
	return append([]domain.PoolConfig(nil), r.p.Pools...)
}

// Size scales base by confidence into base*[0.8, 1.2] and clamps the result
// to [floor, ceil]. It is monotonic in confidence.
func Size(base, confidence, floor, ceil float64) float64 {
	confidence = math.Max(0, math.Min(1, confidence))
	size := base * (0.8 + 0.4*confidence)
	if ceil > 0 && size > ceil {
		size = ceil
	}
	if size < floor {
		size = floor
	}
	return size
}
