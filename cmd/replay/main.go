package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"moonshot-engine/internal/config"
	"moonshot-engine/internal/domain"
	"moonshot-engine/internal/engine"
	"moonshot-engine/internal/logger"
	"moonshot-engine/internal/replay"
	pgstore "moonshot-engine/internal/storage/postgres"
)

func main() {
	configPath := flag.String("config", "", "Path to config.yaml (default: search path)")
	postgresDSN := flag.String("postgres-dsn", "", "PostgreSQL connection string (default: $POSTGRES_DSN)")
	positionID := flag.String("position-id", "", "Print the event trail of one position")
	atTime := flag.String("at", "", "Evaluate risk state at this time (RFC3339, default: now)")
	outputJSON := flag.Bool("json", false, "Output as JSON")

	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if *postgresDSN != "" {
		cfg.Storage.PostgresDSN = *postgresDSN
	}

	logger.Initialize(cfg.Logging.Level, "console")
	log := logger.GetForComponent("replay")

	if cfg.Storage.PostgresDSN == "" {
		log.Fatal().Msg("--postgres-dsn is required")
	}

	now := time.Now()
	if *atTime != "" {
		now, err = time.Parse(time.RFC3339, *atTime)
		if err != nil {
			log.Fatal().Err(err).Msg("parse --at")
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info().Str("signal", sig.String()).Msg("shutting down")
		cancel()
	}()

	pool, err := pgstore.NewPool(ctx, cfg.Storage.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("connect to postgres")
	}
	defer pool.Close()
	events := pgstore.NewEventStore(pool)

	if *positionID != "" {
		trail, err := events.GetByPosition(ctx, *positionID)
		if err != nil {
			log.Fatal().Err(err).Msg("load position events")
		}
		printTrail(trail, *outputJSON)
		return
	}

	res, err := replay.NewRunner(events).Run(ctx, replay.Params{
		Risk: engine.RiskParams(cfg),
		Now:  now.UnixMilli(),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("replay failed")
	}

	summary := summarize(res)
	if *outputJSON {
		output, _ := json.MarshalIndent(summary, "", "  ")
		fmt.Println(string(output))
	} else {
		printSummary(summary)
	}

	if len(res.Violations) > 0 {
		os.Exit(2)
	}
}

// Summary is the replay report.
type Summary struct {
	TotalEvents int              `json:"total_events"`
	LastSeq     int64            `json:"last_seq"`
	ByType      map[string]int   `json:"by_type"`
	Live        []LivePosition   `json:"live"`
	Closed      int              `json:"closed"`
	ClosedPnL   string           `json:"closed_pnl"`
	Occupancy   map[string]int   `json:"occupancy"`
	Risk        domain.RiskState `json:"risk"`
	Violations  []string         `json:"violations"`
}

// LivePosition is one open position after replay.
type LivePosition struct {
	ID          string  `json:"id"`
	Token       string  `json:"token"`
	Pool        string  `json:"pool"`
	State       string  `json:"state"`
	EntryPrice  float64 `json:"entry_price"`
	Remaining   float64 `json:"remaining"`
	StopPct     float64 `json:"stop_pct"`
	Trailing    bool    `json:"trailing"`
	RealizedPnL string  `json:"realized_pnl"`
	OpenedAt    string  `json:"opened_at"`
}

func summarize(res *replay.Result) Summary {
	st := res.State
	s := Summary{
		TotalEvents: st.Events,
		LastSeq:     st.LastSeq,
		ByType:      make(map[string]int),
		Occupancy:   make(map[string]int),
		Risk:        st.Risk,
	}
	for t, n := range res.Counts {
		s.ByType[string(t)] = n
	}
	for pool, n := range st.Occupancy {
		s.Occupancy[string(pool)] = n
	}
	for _, p := range st.Live() {
		s.Live = append(s.Live, LivePosition{
			ID:          p.ID,
			Token:       p.Address,
			Pool:        string(p.Pool),
			State:       string(p.State),
			EntryPrice:  p.EntryPrice,
			Remaining:   p.Remaining,
			StopPct:     p.StopPct,
			Trailing:    p.Trailing,
			RealizedPnL: p.RealizedPnL.StringFixed(4),
			OpenedAt:    time.UnixMilli(p.OpenedAt).UTC().Format(time.RFC3339),
		})
	}
	pnl := decimal.Zero
	for _, p := range st.Positions {
		if !p.IsLive() {
			s.Closed++
			pnl = pnl.Add(p.RealizedPnL)
		}
	}
	s.ClosedPnL = pnl.StringFixed(4)
	for _, v := range res.Violations {
		s.Violations = append(s.Violations, v.String())
	}
	return s
}

func printSummary(s Summary) {
	fmt.Printf("\n=== Replay Summary ===\n")
	fmt.Printf("Total Events:      %d\n", s.TotalEvents)
	fmt.Printf("Last Seq:          %d\n", s.LastSeq)
	for _, t := range []domain.EventType{
		domain.EventPositionOpened, domain.EventTPHit, domain.EventTrailingArmed, domain.EventHighWater,
		domain.EventPositionClosed, domain.EventCandidateRejected, domain.EventRiskPaused,
		domain.EventRiskResumed, domain.EventDailyReset,
	} {
		if n := s.ByType[string(t)]; n > 0 {
			fmt.Printf("  %-20s %d\n", t, n)
		}
	}
	fmt.Printf("Closed Positions:  %d (pnl %s)\n", s.Closed, s.ClosedPnL)
	fmt.Printf("Live Positions:    %d\n", len(s.Live))
	for _, p := range s.Live {
		fmt.Printf("  %s %-4s %-18s entry=%.8g remaining=%.2f stop=%+.0f%% trailing=%v\n",
			p.ID, p.Pool, p.State, p.EntryPrice, p.Remaining, p.StopPct*100, p.Trailing)
	}
	for pool, n := range s.Occupancy {
		fmt.Printf("Occupancy %-5s    %d\n", pool, n)
	}

	r := s.Risk
	fmt.Printf("\n=== Risk (%s) ===\n", r.Day)
	fmt.Printf("Realized PnL:      %s\n", r.RealizedPnL.StringFixed(4))
	fmt.Printf("Trades:            %d (%d wins, %d losses)\n", r.Trades, r.Wins, r.Losses)
	fmt.Printf("Losing Streak:     %d\n", r.ConsecutiveLosses)
	if r.Paused {
		fmt.Printf("Paused:            %s\n", r.PauseReason)
	} else {
		fmt.Printf("Paused:            no\n")
	}

	if len(s.Violations) == 0 {
		fmt.Printf("\nVerification:      OK\n")
		return
	}
	fmt.Printf("\nVerification:      %d violations\n", len(s.Violations))
	for _, v := range s.Violations {
		fmt.Printf("  %s\n", v)
	}
}

func printTrail(events []*domain.Event, asJSON bool) {
	if asJSON {
		output, _ := json.MarshalIndent(events, "", "  ")
		fmt.Println(string(output))
		return
	}
	for _, ev := range events {
		fmt.Printf("[%s] seq=%d type=%s price=%.8g fraction=%.4f stop=%+.2f level=%d reason=%s pnl=%s\n",
			time.UnixMilli(ev.At).UTC().Format(time.RFC3339Nano),
			ev.Seq, ev.Type, ev.Price, ev.Fraction, ev.StopPct, ev.Level, ev.Reason, ev.PnL.StringFixed(4))
	}
}
