package replay

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"moonshot-engine/internal/config"
	"moonshot-engine/internal/domain"
	"moonshot-engine/internal/idhash"
	"moonshot-engine/internal/position"
	"moonshot-engine/internal/risk"
	"moonshot-engine/internal/storage/memory"
)

// 2026-03-02 12:00 UTC
const noon = int64(1772452800000)

const minute = int64(60_000)

// history records events the way the live path does: step, settle, apply,
// then stamp a sequence number.
type history struct {
	t       *testing.T
	m       *position.Machine
	gov     *risk.Governor
	events  []*domain.Event
	live    map[string]*domain.Position
	lastSeq int64
}

func newHistory(t *testing.T) *history {
	cfg := config.Default()
	pools := make(map[domain.PoolName]domain.PoolConfig)
	for _, pc := range cfg.PoolConfigs() {
		pools[pc.Name] = pc
	}
	return &history{
		t:    t,
		m:    position.NewMachine(position.Params{Ladder: cfg.LadderLevels(), Pools: pools, FlatBandPct: cfg.Trading.FlatBandPct}),
		gov:  risk.New(riskParams()),
		live: make(map[string]*domain.Position),
	}
}

func riskParams() risk.Params {
	return risk.Params{
		Capital:              decimal.NewFromInt(100),
		DailyLossLimitPct:    0.15,
		MaxConsecutiveLosses: 3,
		Cooldown:             4 * time.Hour,
		Location:             time.UTC,
	}
}

func (h *history) record(ev *domain.Event) {
	h.lastSeq++
	ev.Seq = h.lastSeq
	ev.EventID = idhash.ComputeEventID(ev.Seq, string(ev.Type), ev.PositionID, ev.At)
	h.events = append(h.events, ev)
}

func (h *history) open(id string, pool domain.PoolName, entry float64, at int64) {
	h.t.Helper()
	pc, _ := h.m.Pool(pool)
	c := &domain.TokenCandidate{Chain: domain.ChainSolana, Address: "mint-" + id, Symbol: strings.ToUpper(id)}
	ev, err := position.OpenEvent(id, c, pc, 0.15, decimal.NewFromInt(15), entry, at)
	if err != nil {
		h.t.Fatalf("OpenEvent: %v", err)
	}
	h.record(ev)
	pos, err := position.New(ev)
	if err != nil {
		h.t.Fatalf("New: %v", err)
	}
	h.live[id] = pos
}

func (h *history) tick(id string, price float64, at int64) {
	h.t.Helper()
	pos := h.live[id]
	for _, ev := range h.m.Step(pos, position.Tick{Price: price, At: at}) {
		position.Settle(pos, ev, ev.Price)
		next := pos.Clone()
		if err := position.Apply(next, ev); err != nil {
			h.t.Fatalf("Apply %s: %v", ev.Type, err)
		}
		h.record(ev)
		next.Seq = ev.Seq
		h.live[id] = next
		pos = next
		if ev.Type == domain.EventPositionClosed {
			for _, rev := range h.gov.RecordClose(ev.PnL, ev.At) {
				rev := rev
				h.record(&rev)
			}
		}
	}
}

func (h *history) pause(reason domain.PauseReason, at int64) {
	for _, ev := range h.gov.Pause(reason, at) {
		ev := ev
		h.record(&ev)
	}
}

func TestRebuild_MatchesLivePath(t *testing.T) {
	h := newHistory(t)
	h.open("a", domain.PoolSafe, 1.0, noon)
	h.open("b", domain.PoolHunt, 2.0, noon+minute)
	h.tick("a", 1.5, noon+2*minute) // TP level 0, stop to breakeven
	h.tick("b", 3.0, noon+3*minute) // TP level 0
	h.tick("a", 0.99, noon+4*minute) // breakeven stop
	h.record(&domain.Event{Type: domain.EventCandidateRejected, Reason: string(domain.RejectBelowThreshold), Level: -1, At: noon + 5*minute})

	st, err := Rebuild(h.events, Params{Risk: riskParams()})
	if err != nil {
		t.Fatalf("Rebuild: %v", err)
	}

	if st.LastSeq != h.lastSeq || st.Events != len(h.events) {
		t.Errorf("LastSeq=%d Events=%d, want %d/%d", st.LastSeq, st.Events, h.lastSeq, len(h.events))
	}
	for id, want := range h.live {
		got := st.Positions[id]
		if !reflect.DeepEqual(got, want) {
			t.Errorf("position %s:\n got  %+v\n want %+v", id, got, want)
		}
	}

	if want := map[domain.PoolName]int{domain.PoolHunt: 1}; !reflect.DeepEqual(st.Occupancy, want) {
		t.Errorf("Occupancy = %v, want %v", st.Occupancy, want)
	}
	live := st.Live()
	if len(live) != 1 || live[0].ID != "b" || live[0].Remaining != 0.8 {
		t.Fatalf("Live = %+v, want b with 0.8 remaining", live)
	}
	if st.Closed() != 1 {
		t.Errorf("Closed = %d, want 1", st.Closed())
	}

	if st.Risk.Day != "2026-03-02" || st.Risk.Trades != 1 || st.Risk.Wins != 1 {
		t.Errorf("Risk = %+v", st.Risk)
	}
	if !st.Risk.RealizedPnL.Equal(decimal.RequireFromString("1.38")) {
		t.Errorf("Risk.RealizedPnL = %s, want 1.38", st.Risk.RealizedPnL)
	}
}

func TestRebuild_Idempotent(t *testing.T) {
	h := newHistory(t)
	h.open("a", domain.PoolSafe, 1.0, noon)
	h.tick("a", 7.0, noon+minute)
	h.tick("a", 8.0, noon+2*minute)

	first, err := Rebuild(h.events, Params{Risk: riskParams()})
	if err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	second, err := Rebuild(h.events, Params{Risk: riskParams()})
	if err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("rebuilds differ:\n%+v\n%+v", first, second)
	}

	pos := first.Positions["a"]
	if !pos.Trailing || pos.HighWater != 8.0 {
		t.Errorf("trailing=%v hwm=%v, want armed at 8.0", pos.Trailing, pos.HighWater)
	}
}

func TestRebuild_RiskPauses(t *testing.T) {
	h := newHistory(t)
	for i, id := range []string{"a", "b", "c"} {
		at := noon + int64(i)*10*minute
		h.open(id, domain.PoolSafe, 1.0, at)
		h.tick(id, 0.75, at+minute) // base stop, -3.75 each
	}

	st, err := Rebuild(h.events, Params{Risk: riskParams()})
	if err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	if !st.Risk.Paused || st.Risk.PauseReason != domain.PauseConsecutiveLosses {
		t.Fatalf("Risk = %+v, want consecutive-loss pause", st.Risk)
	}

	// The cooldown expires on time alone.
	later, err := Rebuild(h.events, Params{Risk: riskParams(), Now: noon + 5*60*minute})
	if err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	if later.Risk.Paused {
		t.Errorf("pause should have expired: %+v", later.Risk)
	}

	h.pause(domain.PausePersistenceFailure, noon+6*60*minute)
	st, err = Rebuild(h.events, Params{Risk: riskParams()})
	if err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	if st.Risk.PauseReason != domain.PausePersistenceFailure {
		t.Errorf("PauseReason = %s, want persistence-failure", st.Risk.PauseReason)
	}
}

func TestRebuild_Rejects(t *testing.T) {
	h := newHistory(t)
	h.open("a", domain.PoolSafe, 1.0, noon)
	h.tick("a", 0.5, noon+minute)

	t.Run("out of order", func(t *testing.T) {
		evs := []*domain.Event{h.events[1], h.events[0]}
		if _, err := Rebuild(evs, Params{}); !errors.Is(err, ErrInvalidOrdering) {
			t.Errorf("err = %v, want ErrInvalidOrdering", err)
		}
	})

	t.Run("event after close", func(t *testing.T) {
		extra := *h.events[1]
		extra.Seq = 99
		evs := append(append([]*domain.Event(nil), h.events...), &extra)
		if _, err := Rebuild(evs, Params{}); !errors.Is(err, position.ErrPositionClosed) {
			t.Errorf("err = %v, want ErrPositionClosed", err)
		}
	})

	t.Run("opened twice", func(t *testing.T) {
		dup := *h.events[0]
		dup.Seq = 99
		evs := append(append([]*domain.Event(nil), h.events...), &dup)
		if _, err := Rebuild(evs, Params{}); !errors.Is(err, position.ErrInvalidEvent) {
			t.Errorf("err = %v, want ErrInvalidEvent", err)
		}
	})
}

func TestRebuild_SkipsOrphans(t *testing.T) {
	h := newHistory(t)
	h.open("a", domain.PoolSafe, 1.0, noon)
	h.open("b", domain.PoolHunt, 1.0, noon+minute)
	h.tick("a", 1.5, noon+2*minute) // TP level 0 for a
	h.tick("b", 1.5, noon+3*minute)

	// Drop a's POSITION_OPENED, as if its append never landed.
	evs := append([]*domain.Event(nil), h.events[1:]...)

	st, err := Rebuild(evs, Params{Risk: riskParams()})
	if err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	if _, ok := st.Positions["a"]; ok {
		t.Error("orphaned position rebuilt")
	}
	b, ok := st.Positions["b"]
	if !ok || !b.IsLive() || len(b.FiredLevels) != 1 {
		t.Fatalf("position b = %+v", b)
	}
	if st.Occupancy[domain.PoolHunt] != 1 || st.Occupancy[domain.PoolSafe] != 0 {
		t.Errorf("occupancy = %v", st.Occupancy)
	}
	if len(st.Orphans) != 1 || st.Orphans[0].PositionID != "a" || st.Orphans[0].Seq != 3 {
		t.Errorf("orphans = %v", st.Orphans)
	}
	if !strings.Contains(st.Orphans[0].String(), "TP_HIT before POSITION_OPENED") {
		t.Errorf("orphan = %s", st.Orphans[0])
	}
}

func TestVerify(t *testing.T) {
	h := newHistory(t)
	h.open("a", domain.PoolSafe, 1.0, noon)
	h.tick("a", 2.5, noon+minute) // levels 0 and 1, stop to +25%
	h.tick("a", 1.1, noon+2*minute)

	if v := Verify(h.events); len(v) != 0 {
		t.Fatalf("clean log has violations: %v", v)
	}

	clone := func() []*domain.Event {
		out := make([]*domain.Event, len(h.events))
		for i, ev := range h.events {
			c := *ev
			out[i] = &c
		}
		return out
	}

	tests := []struct {
		name   string
		mutate func([]*domain.Event) []*domain.Event
		want   string
	}{
		{"gap", func(evs []*domain.Event) []*domain.Event {
			return append(evs[:1], evs[2:]...)
		}, "gap after seq 1"},
		{"duplicate id", func(evs []*domain.Event) []*domain.Event {
			evs[2].EventID = evs[1].EventID
			return evs
		}, "already used"},
		{"level skipped", func(evs []*domain.Event) []*domain.Event {
			evs[1].Level = 1
			evs[2].Level = 2
			return evs
		}, "level 1 fired after 0 levels"},
		{"stop loosened", func(evs []*domain.Event) []*domain.Event {
			evs[2].StopPct = -0.5
			return evs
		}, "stop loosened"},
		{"oversold", func(evs []*domain.Event) []*domain.Event {
			evs[1].Fraction = 0.95
			return evs
		}, "sell"},
		{"orphan", func(evs []*domain.Event) []*domain.Event {
			evs[0].Type = domain.EventDailyReset
			return evs
		}, "before POSITION_OPENED"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Verify(tt.mutate(clone()))
			if len(v) == 0 {
				t.Fatal("expected a violation")
			}
			found := false
			for _, x := range v {
				if strings.Contains(x.String(), tt.want) {
					found = true
				}
			}
			if !found {
				t.Errorf("violations %v do not mention %q", v, tt.want)
			}
		})
	}
}

func TestRunner(t *testing.T) {
	h := newHistory(t)
	h.open("a", domain.PoolSafe, 1.0, noon)
	h.tick("a", 1.6, noon+minute)

	store := memory.NewEventStore()
	ctx := context.Background()
	if err := store.AppendBulk(ctx, h.events); err != nil {
		t.Fatalf("AppendBulk: %v", err)
	}

	res, err := NewRunner(store).Run(ctx, Params{Risk: riskParams()})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Violations) != 0 {
		t.Errorf("Violations = %v", res.Violations)
	}
	if res.State.LastSeq != 2 || res.State.Occupancy[domain.PoolSafe] != 1 {
		t.Errorf("State = %+v", res.State)
	}
	if res.Counts[domain.EventPositionOpened] != 1 || res.Counts[domain.EventTPHit] != 1 {
		t.Errorf("Counts = %v", res.Counts)
	}
}
