// Package main runs the trading decision engine:
// - candidate evaluation (operator API and optional stdin queue)
// - position monitoring against the live price feed
// - daily risk rollover, notifications and metrics
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"moonshot-engine/internal/api"
	"moonshot-engine/internal/config"
	"moonshot-engine/internal/domain"
	"moonshot-engine/internal/engine"
	"moonshot-engine/internal/execution"
	"moonshot-engine/internal/feed"
	"moonshot-engine/internal/journal"
	"moonshot-engine/internal/logger"
	"moonshot-engine/internal/notify"
	"moonshot-engine/internal/observability"
	"moonshot-engine/internal/position"
	"moonshot-engine/internal/replay"
	"moonshot-engine/internal/risk"
	"moonshot-engine/internal/router"
	"moonshot-engine/internal/safety"
	"moonshot-engine/internal/storage"
	chstore "moonshot-engine/internal/storage/clickhouse"
	"moonshot-engine/internal/storage/memory"
	"moonshot-engine/internal/storage/migrations"
	pgstore "moonshot-engine/internal/storage/postgres"
)

// stores holds the storage backends.
type stores struct {
	events     storage.EventStore
	trades     storage.TradeStore
	daily      storage.DailyStatsStore
	rejections storage.RejectionStore
}

func main() {
	configPath := flag.String("config", "", "Path to config.yaml (default: search path)")
	postgresDSN := flag.String("postgres-dsn", "", "PostgreSQL connection string (default: $POSTGRES_DSN)")
	clickhouseDSN := flag.String("clickhouse-dsn", "", "ClickHouse connection string (default: $CLICKHOUSE_DSN)")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL and ClickHouse")
	apiAddr := flag.String("api-addr", "", "Operator API address (default: api.addr)")
	metricsAddr := flag.String("metrics-addr", ":9090", "Prometheus metrics HTTP address")
	readStdin := flag.Bool("candidates-stdin", false, "Queue JSON candidates read line by line from stdin")
	issueToken := flag.String("issue-token", "", "Print an operator API token for this name and exit")
	tokenTTL := flag.Duration("token-ttl", 24*time.Hour, "Lifetime of tokens issued with --issue-token")

	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if *postgresDSN != "" {
		cfg.Storage.PostgresDSN = *postgresDSN
	}
	if *clickhouseDSN != "" {
		cfg.Storage.ClickhouseDSN = *clickhouseDSN
	}
	if *useMemory {
		cfg.Storage.UseMemory = true
	}
	if *apiAddr != "" {
		cfg.API.Addr = *apiAddr
	}

	logger.Initialize(cfg.Logging.Level, cfg.Logging.Format)
	log := logger.GetForComponent("main")

	jwtManager := api.NewJWTManager(cfg.API.JWTSecret)
	if *issueToken != "" {
		token, err := jwtManager.GenerateToken(*issueToken, *tokenTTL)
		if err != nil {
			log.Fatal().Err(err).Msg("issue token")
		}
		fmt.Println(token)
		return
	}

	if !cfg.Storage.UseMemory && (cfg.Storage.PostgresDSN == "" || cfg.Storage.ClickhouseDSN == "") {
		log.Fatal().Msg("--postgres-dsn and --clickhouse-dsn are required (use --use-memory for in-memory storage)")
	}
	if cfg.Safety.BaseURL == "" {
		log.Fatal().Msg("SAFETY_API_URL is required")
	}
	if cfg.Feed.WSURL == "" && cfg.Feed.PollURL == "" {
		log.Fatal().Msg("PRICE_WS_URL or PRICE_POLL_URL is required")
	}

	ctx, cancel := context.WithCancel(context.Background())

	st, cleanup, err := createStores(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("create stores")
	}
	defer cleanup()

	done := make(chan error, 1)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Info().Str("signal", sig.String()).Msg("initiating graceful shutdown")
		cancel()

		select {
		case sig := <-sigCh:
			log.Warn().Str("signal", sig.String()).Msg("second signal, forcing immediate shutdown")
			os.Exit(1)
		case <-time.After(30 * time.Second):
			log.Error().Msg("graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		case <-done:
		}
	}()

	err = run(ctx, cfg, st, jwtManager, *metricsAddr, *readStdin)
	done <- err
	cancel()

	if err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("engine error")
	}
	log.Info().Msg("shutdown complete")
}

// run wires the components, restores state from the event log and blocks
// until ctx ends.
func run(ctx context.Context, cfg *config.Config, st *stores, jwtManager *api.JWTManager, metricsAddr string, readStdin bool) error {
	log := logger.GetForComponent("main")
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Replay
	gov := risk.New(engine.RiskParams(cfg))
	res, err := replay.NewRunner(st.events).Run(ctx, replay.Params{
		Risk: engine.RiskParams(cfg),
		Now:  time.Now().UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("replay event log: %w", err)
	}
	for _, v := range res.Violations {
		log.Warn().Str("violation", v.String()).Msg("event log inconsistency")
	}

	// Notifications
	sinks := []notify.Notifier{notify.NewLogNotifier(logger.GetForComponent("alerts"))}
	if cfg.Notify.WebhookURL != "" {
		sinks = append(sinks, notify.NewWebhookNotifier(cfg.Notify.WebhookURL))
	}
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		sinks = append(sinks, notify.NewTelegramNotifier(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	dispatcher := notify.NewDispatcher(cfg.Notify.QueueSize, logger.GetForComponent("notify"), sinks...)
	go dispatcher.Run(ctx)
	defer func() {
		cancel()
		<-dispatcher.Done()
	}()

	// Prices
	prices, closeFeed, err := createFeed(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeFeed()

	// Execution
	scenario, ok := domain.ScenarioByID(cfg.Execution.Scenario)
	if !ok {
		return fmt.Errorf("unknown execution scenario %q", cfg.Execution.Scenario)
	}
	exec := execution.NewRetrying(execution.NewPaper(scenario), execution.RetryConfig{
		MaxRetries: uint64(cfg.Execution.MaxRetries),
		Initial:    cfg.Execution.RetryInitial,
		Max:        cfg.Execution.RetryMax,
	}, logger.GetForComponent("execution"))

	// Safety
	checker := safety.NewHTTPClient(cfg.Safety.BaseURL,
		safety.WithAPIKey(cfg.Safety.APIKey),
		safety.WithTimeout(cfg.Safety.Timeout),
		safety.WithMaxRetries(cfg.Safety.MaxRetries),
		safety.WithThresholds(safety.Thresholds{
			MaxTaxPct:       cfg.Trading.MaxTaxPct,
			MaxTopHolderPct: cfg.Trading.MaxTopHolderPct,
			MinLPLockedPct:  safety.DefaultThresholds().MinLPLockedPct,
		}),
	)

	// Engine
	j, err := journal.New(ctx, st.events, logger.GetForComponent("journal"))
	if err != nil {
		return err
	}
	rt := router.New(engine.RouterParams(cfg), gov)
	positions := position.NewManager(position.Options{
		Machine:     engine.MachineFor(cfg),
		Prices:      feed.NewGuard(prices, cfg.Feed.RequestTimeout, cfg.Feed.StaleAfter),
		Executor:    exec,
		Journal:     j,
		Risk:        gov,
		Slots:       rt,
		Notifier:    dispatcher,
		Trades:      st.trades,
		Logger:      logger.Logger,
		MaxSlippage: cfg.Trading.MaxSlippagePct,
		CheckEvery:  cfg.Trading.PositionCheckEvery,
	})
	e := engine.New(engine.Options{
		Scorer:           engine.ScorerFor(cfg),
		Confluence:       engine.AggregatorFor(cfg),
		Safety:           checker,
		Router:           rt,
		Governor:         gov,
		Positions:        positions,
		Journal:          j,
		Rejections:       st.rejections,
		DailyStats:       st.daily,
		Notifier:         dispatcher,
		Capital:          engine.RiskParams(cfg).Capital,
		SafetyTimeout:    cfg.Safety.Timeout,
		Workers:          cfg.Trading.EvaluationWorkers,
		NotifyRejections: cfg.Notify.NotifyRejects,
		Logger:           logger.Logger,
	})
	e.Restore(ctx, res.State)

	dispatcher.Publish(notify.Notification{
		Kind:     notify.KindSystem,
		Severity: notify.SeverityMedium,
		Title:    "Engine started",
		Fields: []notify.Field{
			{Name: "Session", Value: e.Session()},
			{Name: "Open positions", Value: fmt.Sprintf("%d", len(res.State.Live()))},
			{Name: "Paused", Value: fmt.Sprintf("%v", res.State.Risk.Paused)},
		},
		At: time.Now().UnixMilli(),
	})

	// HTTP
	apiSrv := &http.Server{
		Addr:              cfg.API.Addr,
		Handler:           api.New(e, jwtManager, logger.Logger).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", observability.Handler())
	metricsSrv := &http.Server{Addr: metricsAddr, Handler: metricsMux, ReadHeaderTimeout: 10 * time.Second}

	for _, srv := range []*http.Server{apiSrv, metricsSrv} {
		go func(srv *http.Server) {
			log.Info().Str("addr", srv.Addr).Msg("starting HTTP server")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Str("addr", srv.Addr).Msg("HTTP server error")
			}
		}(srv)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = apiSrv.Shutdown(sctx)
		_ = metricsSrv.Shutdown(sctx)
	}()

	candidates := make(chan engine.Candidate)
	if readStdin {
		go readCandidates(ctx, os.Stdin, candidates, log)
	}

	return e.Run(ctx, candidates)
}

// createStores creates the storage backends and applies migrations.
func createStores(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*stores, func(), error) {
	if cfg.Storage.UseMemory {
		log.Warn().Msg("using in-memory storage, state is lost on exit")
		return &stores{
			events:     memory.NewEventStore(),
			trades:     memory.NewTradeStore(),
			daily:      memory.NewDailyStatsStore(),
			rejections: memory.NewRejectionStore(),
		}, func() {}, nil
	}

	// PostgreSQL
	pool, err := pgstore.NewPool(ctx, cfg.Storage.PostgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	applied, err := migrations.RunPostgresMigrations(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("postgres migrations: %w", err)
	}
	log.Info().Strs("applied", applied).Msg("postgres migrations done")

	// ClickHouse
	chConn, err := migrations.RunClickhouseMigrations(ctx, cfg.Storage.ClickhouseDSN)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("clickhouse migrations: %w", err)
	}

	st := &stores{
		// PostgreSQL: the event log, daily stats and trade history
		events: pgstore.NewEventStore(pool),
		daily:  pgstore.NewDailyStatsStore(pool),
		trades: storage.NewMirroredTradeStore(
			pgstore.NewTradeStore(pool),
			chstore.NewTradeStore(chConn),
			logger.GetForComponent("storage"),
		),

		// ClickHouse: rejection analytics
		rejections: chstore.NewRejectionStore(chConn),
	}

	cleanup := func() {
		chConn.Close()
		pool.Close()
	}
	return st, cleanup, nil
}

// createFeed prefers the WebSocket stream and falls back to HTTP polling.
func createFeed(ctx context.Context, cfg *config.Config) (feed.Source, func(), error) {
	if cfg.Feed.WSURL != "" {
		stream, err := feed.NewWSStream(ctx, cfg.Feed.WSURL, nil, logger.GetForComponent("feed"))
		if err != nil {
			return nil, nil, fmt.Errorf("connect price stream: %w", err)
		}
		return stream, func() { _ = stream.Close() }, nil
	}
	return feed.NewPoller(cfg.Feed.PollURL, feed.WithPollTimeout(cfg.Feed.RequestTimeout)), func() {}, nil
}

// readCandidates queues one JSON candidate per input line until r ends.
func readCandidates(ctx context.Context, r io.Reader, out chan<- engine.Candidate, log zerolog.Logger) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		c, aux, err := api.DecodeCandidate(line, time.Now().UnixMilli())
		if err != nil {
			log.Warn().Err(err).Msg("skipping candidate line")
			continue
		}
		select {
		case out <- engine.Candidate{Token: c, Aux: aux}:
		case <-ctx.Done():
			return
		}
	}
	if err := sc.Err(); err != nil {
		log.Error().Err(err).Msg("read candidates")
	}
}
