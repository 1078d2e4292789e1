// Command streamproc runs the engagement-events pipeline in one of two
// modes: "stream" (default) drives the live Stream Coordinator against the
// partitioned log, and "backfill" replays a historical window straight from
// Postgres through the same enrichment and sink path.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"

	"github.com/fable-fm/engagement-streamproc/internal/config"
	"github.com/fable-fm/engagement-streamproc/internal/coordinator"
	"github.com/fable-fm/engagement-streamproc/internal/domain"
	"github.com/fable-fm/engagement-streamproc/internal/enrich"
	"github.com/fable-fm/engagement-streamproc/internal/logging"
	"github.com/fable-fm/engagement-streamproc/internal/sink/httpsink"
	"github.com/fable-fm/engagement-streamproc/internal/sink/leaderboard"
	"github.com/fable-fm/engagement-streamproc/internal/sink/warehouse"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "streamproc:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	mode := "stream"
	if len(args) > 0 && !isFlag(args[0]) {
		mode = args[0]
		args = args[1:]
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.Env)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()

	switch mode {
	case "stream":
		return runStream(cfg, logger, args)
	case "backfill":
		return runBackfill(cfg, logger, args)
	default:
		return fmt.Errorf("unknown mode %q (want \"stream\" or \"backfill\")", mode)
	}
}

func isFlag(s string) bool {
	return len(s) > 0 && s[0] == '-'
}

// deps bundles the infrastructure clients shared by both run modes: the
// content store, the three sinks, and their own background tasks. It mirrors
// the teacher's convention of assembling everything in main and passing
// narrow interfaces into internal packages rather than constructing them
// there.
type deps struct {
	pgPool      *pgxpool.Pool
	redisClient *redis.Client
	chConn      clickhouse.Conn
	sinks       coordinator.Sinks
	leaderboard *leaderboard.Sink
	http        *httpsink.Sink
}

func buildDeps(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*deps, error) {
	pgCfg, err := pgxpool.ParseConfig(cfg.PostgresURL)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	pgCfg.MaxConns = int32(cfg.PostgresPoolSize + cfg.PostgresOverflow)
	pgPool, err := pgxpool.NewWithConfig(ctx, pgCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		pgPool.Close()
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	redisOpts.DB = cfg.RedisDB
	redisOpts.PoolSize = cfg.RedisMaxConns
	redisClient := redis.NewClient(redisOpts)
	lb := leaderboard.New(redisClient, logger, cfg.WindowMinutes, cfg.TopContentKey, cfg.AggregationTTL)

	var whSink coordinator.WarehouseSink
	var chConn clickhouse.Conn
	chConn, err = clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.ClickHouseURL},
		Auth: clickhouse.Auth{Database: cfg.ClickHouseDatabase},
	})
	if err != nil {
		// Per spec.md §4.4: absence of credentials/connectivity degrades the
		// warehouse sink to a logging no-op rather than aborting startup.
		logger.Warn("warehouse sink degraded to no-op: clickhouse connection failed", zap.Error(err))
		whSink = noopWarehouse{}
	} else {
		if err := warehouse.Bootstrap(ctx, chConn, cfg.ClickHouseDatabase, cfg.ClickHouseTable); err != nil {
			logger.Warn("warehouse sink degraded to no-op: bootstrap failed", zap.Error(err))
			whSink = noopWarehouse{}
			chConn = nil
		} else {
			table := cfg.ClickHouseDatabase + "." + cfg.ClickHouseTable
			whSink = warehouse.New(warehouse.WrapConn(chConn), table, cfg.WarehouseBatchSize, cfg.WarehouseMaxBatchAge, logger)
		}
	}

	httpSink := httpsink.New(cfg.HTTPSinkURL, cfg.HTTPSinkTimeout, cfg.HTTPSinkHeaders, logger)

	return &deps{
		pgPool:      pgPool,
		redisClient: redisClient,
		chConn:      chConn,
		leaderboard: lb,
		http:        httpSink,
		sinks: coordinator.Sinks{
			Leaderboard: lb,
			Warehouse:   whSink,
			HTTP:        httpSink,
		},
	}, nil
}

// close shuts sinks and clients down in reverse dependency order, per
// spec.md §5's shutdown sequence.
func (d *deps) close(logger *zap.Logger) {
	if d.chConn != nil {
		if err := d.chConn.Close(); err != nil {
			logger.Warn("error closing clickhouse connection", zap.Error(err))
		}
	}
	if err := d.redisClient.Close(); err != nil {
		logger.Warn("error closing redis client", zap.Error(err))
	}
	d.pgPool.Close()
}

// noopWarehouse satisfies coordinator.WarehouseSink when the real warehouse
// sink could not be initialised, per spec.md §4.4 and §7's FatalInit rule:
// warehouse init failure is degraded, not fatal.
type noopWarehouse struct{}

func (noopWarehouse) Add(ctx context.Context, ev domain.EnrichedEvent) error { return nil }
func (noopWarehouse) Flush(ctx context.Context) error                       { return nil }
func (noopWarehouse) MaybeFlushByAge(ctx context.Context) error             { return nil }

func runStream(cfg *config.Config, logger *zap.Logger, args []string) error {
	fs := flag.NewFlagSet("stream", flag.ExitOnError)
	metricsAddr := fs.String("metrics-addr", ":9090", "address for the /healthz and /metrics HTTP surface")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	d, err := buildDeps(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("build dependencies: %w", err)
	}
	defer d.close(logger)

	resolver := enrich.NewPoolResolver(d.pgPool, 10000)
	enricher := enrich.NewEnricher(resolver, logger)

	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.LogBrokers...),
		kgo.ConsumeTopics(cfg.LogTopic),
		kgo.ConsumerGroup(cfg.LogConsumerGroup),
		kgo.SessionTimeout(cfg.LogSessionTimeout),
		kgo.DisableAutoCommit(),
		kgo.ConsumeResetOffset(offsetFor(cfg.LogOffsetReset)),
	)
	if err != nil {
		return fmt.Errorf("connect log client: %w", err)
	}
	defer client.Close()

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()
	go d.leaderboard.RunCleanup(cleanupCtx)

	sc := coordinator.NewStreamCoordinator(client, enricher, d.sinks, coordinator.StreamConfig{
		MaxPollRecords: cfg.LogMaxPollRecords,
		BatchSize:      cfg.ProcessingBatchSize,
		Interval:       cfg.ProcessingInterval,
		ManualCommits:  cfg.AtLeastOnceCommits,
	}, logger)

	srv := newHealthServer(*metricsAddr, func() bool { return sc.Metrics().Running })
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("health server exited", zap.Error(err))
		}
	}()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("stream coordinator starting",
		zap.Strings("brokers", cfg.LogBrokers),
		zap.String("topic", cfg.LogTopic),
		zap.Int("batch_size", cfg.ProcessingBatchSize),
	)

	if err := sc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("stream coordinator: %w", err)
	}
	logger.Info("stream coordinator stopped")
	return nil
}

func runBackfill(cfg *config.Config, logger *zap.Logger, args []string) error {
	fs := flag.NewFlagSet("backfill", flag.ExitOnError)
	startDate := fs.String("start-date", "", "backfill window start, YYYY-MM-DD (required)")
	endDate := fs.String("end-date", "", "backfill window end, YYYY-MM-DD (required, exclusive)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *startDate == "" || *endDate == "" {
		return errors.New("backfill requires both --start-date and --end-date")
	}
	start, err := time.Parse("2006-01-02", *startDate)
	if err != nil {
		return fmt.Errorf("parse --start-date: %w", err)
	}
	end, err := time.Parse("2006-01-02", *endDate)
	if err != nil {
		return fmt.Errorf("parse --end-date: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	d, err := buildDeps(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("build dependencies: %w", err)
	}
	defer d.close(logger)

	bc := coordinator.NewBackfillCoordinator(coordinator.WrapPool(d.pgPool), d.sinks, coordinator.BackfillConfig{
		Start:     start,
		End:       end,
		PageSize:  cfg.BackfillBatchSize,
		PageDelay: 50 * time.Millisecond,
	}, logger)

	logger.Info("backfill starting", zap.Time("start", start), zap.Time("end", end))
	total, err := bc.Run(ctx)
	if err != nil {
		return fmt.Errorf("backfill: %w", err)
	}
	logger.Info("backfill complete", zap.Int("rows_processed", total))
	return nil
}

func offsetFor(reset string) kgo.Offset {
	if reset == "latest" {
		return kgo.NewOffset().AtEnd()
	}
	return kgo.NewOffset().AtStart()
}

// newHealthServer builds the minimal out-of-core health/metrics HTTP
// surface named in spec.md §1's Out-of-scope list: a /healthz liveness
// check and the Prometheus /metrics exposition, routed with the same
// go-chi/chi + go-chi/cors stack the teacher wires at its own HTTP entry
// points.
func newHealthServer(addr string, running func() bool) *http.Server {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet},
	}))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if !running() {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("not running"))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	return &http.Server{Addr: addr, Handler: r}
}
