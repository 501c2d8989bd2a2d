package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/prominencemaritime/flag-dispensations/internal/alerts/flagdispensation"
	"github.com/prominencemaritime/flag-dispensations/internal/analytics"
	"github.com/prominencemaritime/flag-dispensations/internal/api"
	"github.com/prominencemaritime/flag-dispensations/internal/circuitbreaker"
	"github.com/prominencemaritime/flag-dispensations/internal/config"
	"github.com/prominencemaritime/flag-dispensations/internal/cron"
	"github.com/prominencemaritime/flag-dispensations/internal/dispatcher"
	"github.com/prominencemaritime/flag-dispensations/internal/filter"
	"github.com/prominencemaritime/flag-dispensations/internal/leaderelection"
	"github.com/prominencemaritime/flag-dispensations/internal/metrics"
	"github.com/prominencemaritime/flag-dispensations/internal/pipeline"
	"github.com/prominencemaritime/flag-dispensations/internal/retention"
	"github.com/prominencemaritime/flag-dispensations/internal/router"
	"github.com/prominencemaritime/flag-dispensations/internal/routing"
	"github.com/prominencemaritime/flag-dispensations/internal/scheduler"
	"github.com/prominencemaritime/flag-dispensations/internal/store/postgres"
	"github.com/prominencemaritime/flag-dispensations/internal/tracking"
	"github.com/prominencemaritime/flag-dispensations/internal/transport/channel"

	_ "github.com/lib/pq"
)

// Build-time variables set via -ldflags
var (
	version = "dev"
	commit  = "unknown"
)

const (
	exitSuccess       = 0
	exitRuntimeError  = 1
	exitInvalidConfig = 2
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitRuntimeError)
	}

	cmd := os.Args[1]

	switch cmd {
	case "serve":
		os.Exit(runServe())
	case "run":
		os.Exit(runOnce(os.Args[2:]))
	case "validate":
		os.Exit(runValidate())
	case "config":
		os.Exit(runConfig())
	case "version":
		os.Exit(runVersion())
	case "--help", "-h", "help":
		printUsage()
		os.Exit(exitSuccess)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(exitRuntimeError)
	}
}

func printUsage() {
	fmt.Println(`flagalerts - vessel flag dispensation alert pipeline

Usage:
  flagalerts <command>

Commands:
  serve      Start the scheduled pipeline, dispatcher and HTTP API
  run        Execute one pipeline run and exit
             --dry-run   build jobs but deliver nothing, record nothing
             --no-dedup  skip the notified-key filter for this run
  validate   Validate configuration (no connections made)
  config     Print effective configuration as JSON (secrets masked)
  version    Print version information

Environment Variables:
  DATABASE_URL              PostgreSQL connection string (required)
  REDIS_ADDR                Redis address for analytics / tracking (optional)
  HTTP_ADDR                 HTTP server address (default: ":8080")

  LOOKBACK_DAYS             Recency window in days (default: "3")
  JOB_STATUS                Status of events to fetch (default: "pending")
  TIMEZONE                  IANA zone for the recency cutoff (default: "Europe/Athens")
  ENABLE_LINKS              Attach per-event links to rows (default: "false")
  BASE_URL                  Link base URL (required when ENABLE_LINKS=true)
  URL_PATH                  Link path segment (default: "/jobs/flag-extension-dispensation")
  ROUTING_FILE              Recipient routing rules file (default: "routing.yaml")
  SUBJECT_PREFIX            Notification subject prefix (default: "AlertDev")

  RUN_SCHEDULE              Cron expression for scheduled runs (default: "0 7 * * *")
  TICK_INTERVAL             Scheduler tick interval (default: "30s")

  TRACKING_BACKEND          Notified-key store, postgres or redis (default: "postgres")
  TRACKING_RETENTION        How long notified keys are kept (default: "2160h")
  RETENTION_INTERVAL        How often to prune old keys (default: "12h")
  RETENTION_BATCH_SIZE      Max keys pruned per cycle (default: "500")

  DELIVERY_MODE             webhook or smtp (default: "webhook")
  WEBHOOK_URL               Notification gateway endpoint (webhook mode)
  WEBHOOK_SECRET            HMAC signing secret (webhook mode)
  DELIVERY_TIMEOUT          Per-attempt delivery timeout (default: "30s")
  SMTP_ADDR                 SMTP server host:port (smtp mode)
  SMTP_FROM                 Sender address (smtp mode)
  SMTP_USERNAME             SMTP auth username (optional)
  SMTP_PASSWORD             SMTP auth password (optional)

  DB_OP_TIMEOUT             Database operation timeout (default: "5s")
  DB_MAX_OPEN_CONNS         Max open database connections (default: "25")
  DB_MAX_IDLE_CONNS         Max idle database connections (default: "5")
  DB_CONN_MAX_LIFETIME      Max connection lifetime (default: "30m")
  DB_CONN_MAX_IDLE_TIME     Max connection idle time (default: "5m")

  HTTP_SHUTDOWN_TIMEOUT     Graceful HTTP shutdown timeout (default: "10s")
  DISPATCHER_DRAIN_TIMEOUT  Dispatcher job drain timeout (default: "30s")
  EVENTBUS_BUFFER_SIZE      Job bus buffer size (default: "100")

  CIRCUIT_BREAKER_THRESHOLD Consecutive failures before opening (default: "5", 0 disables)
  CIRCUIT_BREAKER_COOLDOWN  Open state cooldown (default: "2m")

  METRICS_ENABLED           Enable Prometheus metrics (default: "false")
  METRICS_PATH              Metrics endpoint path (default: "/metrics")
  METRICS_PORT              Metrics server port (default: "9090")

  LEADER_ELECTION_ENABLED   Gate scheduler and pruner behind an advisory lock (default: "false")
  LEADER_LOCK_KEY           Advisory lock key (default: "539174")
  LEADER_RETRY_INTERVAL     Lock acquisition retry interval (default: "5s")
  LEADER_HEARTBEAT_INTERVAL Leadership heartbeat interval (default: "2s")`)
}

func runServe() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitInvalidConfig
	}

	logConfigWarnings(cfg)

	table, err := routing.LoadFile(cfg.RoutingFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load routing rules: %v\n", err)
		return exitInvalidConfig
	}

	// Connect to PostgreSQL
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open database: %v\n", err)
		return exitRuntimeError
	}
	defer db.Close()

	// Configure connection pool
	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.DBConnMaxIdleTime)

	log.Printf("flagalerts: db pool configured (max_open=%d, max_idle=%d, max_lifetime=%s, max_idle_time=%s)",
		cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime, cfg.DBConnMaxIdleTime)

	if err := db.Ping(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect to database: %v\n", err)
		return exitRuntimeError
	}

	alert := flagdispensation.New(cfg.SubjectPrefix)
	store := postgres.New(db, cfg.DBOpTimeout, alert.RequiredColumns())

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	}

	tracker := buildTracker(cfg, store, redisClient)

	recency, err := filter.New(cfg.LookbackDays, cfg.Timezone)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build recency filter: %v\n", err)
		return exitInvalidConfig
	}

	rt := router.New(table, router.LinkConfig{
		Enabled: cfg.EnableLinks,
		BaseURL: cfg.BaseURL,
		URLPath: cfg.URLPath,
	})

	pipe := pipeline.New(
		pipeline.Config{LookbackDays: cfg.LookbackDays, JobStatus: cfg.JobStatus},
		alert,
		store,
		recency,
		rt,
	).WithTracking(tracker)

	schedule, err := cron.Parse(cfg.RunSchedule, cfg.Timezone)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid RUN_SCHEDULE: %v\n", err)
		return exitInvalidConfig
	}

	// Initialize metrics sink (optional)
	var metricsSink *metrics.PrometheusSink
	var metricsServer *http.Server

	if cfg.MetricsEnabled {
		metricsSink = metrics.NewPrometheusSink(prometheus.DefaultRegisterer)
		log.Printf("flagalerts: metrics enabled (port=%s, path=%s)", cfg.MetricsPort, cfg.MetricsPath)

		metricsMux := http.NewServeMux()
		metricsMux.Handle(cfg.MetricsPath, promhttp.Handler())
		metricsServer = &http.Server{
			Addr:    ":" + cfg.MetricsPort,
			Handler: metricsMux,
		}
		go func() {
			log.Printf("flagalerts: metrics server listening on :%s", cfg.MetricsPort)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("flagalerts: metrics server error: %v", err)
			}
		}()
	} else {
		log.Println("flagalerts: METRICS_ENABLED not set; metrics disabled")
	}

	// Create job bus with optional metrics
	var busOpts []channel.Option
	if metricsSink != nil {
		busOpts = append(busOpts, channel.WithMetrics(metricsSink))
	}
	bus := channel.NewJobBus(cfg.EventBusBufferSize, busOpts...)

	sched := scheduler.New(
		scheduler.Config{TickInterval: cfg.TickInterval},
		schedule,
		pipe,
		store,
		bus,
	)
	if metricsSink != nil {
		sched = sched.WithMetrics(metricsSink)
	}

	disp := dispatcher.New(store, buildSender(cfg), tracker, alert.Name(), cfg.DeliveryTimeout).
		WithDrainTimeout(cfg.DispatcherDrainTimeout)
	if metricsSink != nil {
		disp = disp.WithMetrics(metricsSink)
	}
	if cfg.CircuitBreakerThreshold > 0 {
		disp = disp.WithBreaker(circuitbreaker.New(cfg.CircuitBreakerThreshold, cfg.CircuitBreakerCooldown))
	}

	// Wire analytics if Redis is configured
	if redisClient != nil {
		sink := analytics.NewRedisSink(redisClient).WithRetention(cfg.TrackingRetention)
		disp = disp.WithAnalytics(sink)
		log.Printf("flagalerts: analytics enabled (redis=%s)", cfg.RedisAddr)
	} else {
		log.Println("flagalerts: REDIS_ADDR not set; analytics disabled")
	}

	pruner := retention.New(
		retention.Config{
			Interval:  cfg.RetentionInterval,
			Retention: cfg.TrackingRetention,
			BatchSize: cfg.RetentionBatchSize,
		},
		tracker,
	)
	if metricsSink != nil {
		pruner = pruner.WithMetrics(metricsSink)
	}

	apiHandler := api.NewHandler(store).
		WithRunTrigger(sched).
		WithHealthChecker(store)
	if redisClient != nil {
		apiHandler = apiHandler.WithRedisChecker(redisPinger{redisClient})
	}

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: apiHandler,
	}

	go func() {
		log.Printf("flagalerts: http server listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("flagalerts: http server error: %v", err)
		}
	}()

	// Separate contexts for the leader duties and the dispatcher enable
	// ordered shutdown: stop producing jobs first, then drain.
	dispatcherCtx, cancelDispatcher := context.WithCancel(context.Background())

	var dispatcherWg sync.WaitGroup
	dispatcherWg.Add(1)
	go func() {
		defer dispatcherWg.Done()
		disp.Run(dispatcherCtx, bus.Channel())
	}()

	// Leader duties: the scheduler and the retention pruner. With leader
	// election disabled they run unconditionally.
	startDuties := func(ctx context.Context) *sync.WaitGroup {
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			if err := sched.Run(ctx); err != nil {
				log.Printf("flagalerts: scheduler error: %v", err)
			}
		}()
		go func() {
			defer wg.Done()
			pruner.Run(ctx)
		}()
		return &wg
	}

	var dutiesWg *sync.WaitGroup
	var cancelDuties context.CancelFunc

	var electorWg sync.WaitGroup
	var cancelElector context.CancelFunc

	if cfg.LeaderElectionEnabled {
		var dutyMu sync.Mutex
		elector := leaderelection.New(
			db,
			cfg.LeaderLockKey,
			cfg.LeaderRetryInterval,
			cfg.LeaderHeartbeatInterval,
			func(ctx context.Context) {
				dutyMu.Lock()
				defer dutyMu.Unlock()
				dutiesWg = startDuties(ctx)
			},
			func() {
				dutyMu.Lock()
				defer dutyMu.Unlock()
				if dutiesWg != nil {
					dutiesWg.Wait()
					dutiesWg = nil
				}
			},
		)
		if metricsSink != nil {
			elector = elector.WithMetrics(metricsSink)
		}

		var electorCtx context.Context
		electorCtx, cancelElector = context.WithCancel(context.Background())
		electorWg.Add(1)
		go func() {
			defer electorWg.Done()
			elector.Run(electorCtx)
		}()
		log.Printf("flagalerts: leader election enabled (lock_key=%d)", cfg.LeaderLockKey)
	} else {
		var dutiesCtx context.Context
		dutiesCtx, cancelDuties = context.WithCancel(context.Background())
		dutiesWg = startDuties(dutiesCtx)
		log.Println("flagalerts: LEADER_ELECTION_ENABLED not set; running duties unconditionally")
	}

	log.Printf("flagalerts: started (schedule=%q, tick=%s, http=%s)", cfg.RunSchedule, cfg.TickInterval, cfg.HTTPAddr)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	received := <-sig

	log.Printf("flagalerts: received signal %v, shutting down", received)

	// Phase 1: Stop the scheduler and pruner (no new jobs emitted)
	log.Println("flagalerts: stopping scheduler and pruner...")
	if cancelElector != nil {
		cancelElector()
		electorWg.Wait()
	}
	if cancelDuties != nil {
		cancelDuties()
	}
	if dutiesWg != nil {
		dutiesWg.Wait()
	}
	log.Println("flagalerts: scheduler and pruner stopped")

	// Phase 2: Stop dispatcher (drains buffered jobs before returning)
	log.Println("flagalerts: stopping dispatcher (draining jobs)...")
	cancelDispatcher()
	dispatcherWg.Wait()
	log.Println("flagalerts: dispatcher stopped")

	// Phase 3: Stop HTTP server with graceful shutdown
	log.Println("flagalerts: stopping http server...")
	httpShutdownCtx, httpShutdownCancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
	defer httpShutdownCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		log.Printf("flagalerts: http server shutdown error: %v", err)
	}
	log.Println("flagalerts: http server stopped")

	// Phase 4: Stop metrics server if running
	if metricsServer != nil {
		log.Println("flagalerts: stopping metrics server...")
		metricsShutdownCtx, metricsShutdownCancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
		defer metricsShutdownCancel()
		if err := metricsServer.Shutdown(metricsShutdownCtx); err != nil {
			log.Printf("flagalerts: metrics server shutdown error: %v", err)
		}
		log.Println("flagalerts: metrics server stopped")
	}

	log.Println("flagalerts: stopped")
	return exitSuccess
}

// logConfigWarnings flags configuration combinations that are valid but
// risky in production.
func logConfigWarnings(cfg config.Config) {
	if !cfg.LeaderElectionEnabled {
		log.Println("WARNING [P0]: LEADER_ELECTION_ENABLED=false. Running more than one instance " +
			"without leader election delivers every notification once per instance.")
	}

	if cfg.DeliveryMode != "smtp" && cfg.WebhookSecret == "" {
		log.Println("WARNING [P0]: WEBHOOK_SECRET not set. Deliveries to the gateway are unsigned " +
			"and cannot be authenticated.")
	}

	if cfg.CircuitBreakerThreshold == 0 {
		log.Println("WARNING [P1]: CIRCUIT_BREAKER_THRESHOLD=0. Circuit breaking is disabled; " +
			"a failing destination absorbs the full retry schedule on every job.")
	}

	if !cfg.MetricsEnabled {
		log.Println("WARNING [P1]: METRICS_ENABLED=false. No visibility into run outcomes or " +
			"delivery latency. Strongly recommended for production.")
	}

	if cfg.TrackingBackend == "redis" {
		log.Println("INFO: TRACKING_BACKEND=redis. Notified keys live in Redis; if Redis loses " +
			"its data set, already-sent events are re-notified on the next run.")
	}
}

// runOnce executes a single pipeline run synchronously and exits.
func runOnce(args []string) int {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	dryRun := fs.Bool("dry-run", false, "build jobs but deliver nothing, record nothing")
	noDedup := fs.Bool("no-dedup", false, "skip the notified-key filter for this run")
	if err := fs.Parse(args); err != nil {
		return exitRuntimeError
	}

	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitInvalidConfig
	}

	table, err := routing.LoadFile(cfg.RoutingFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load routing rules: %v\n", err)
		return exitInvalidConfig
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open database: %v\n", err)
		return exitRuntimeError
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect to database: %v\n", err)
		return exitRuntimeError
	}

	alert := flagdispensation.New(cfg.SubjectPrefix)
	store := postgres.New(db, cfg.DBOpTimeout, alert.RequiredColumns())

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	}
	tracker := buildTracker(cfg, store, redisClient)

	recency, err := filter.New(cfg.LookbackDays, cfg.Timezone)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build recency filter: %v\n", err)
		return exitInvalidConfig
	}

	rt := router.New(table, router.LinkConfig{
		Enabled: cfg.EnableLinks,
		BaseURL: cfg.BaseURL,
		URLPath: cfg.URLPath,
	})

	pipe := pipeline.New(
		pipeline.Config{LookbackDays: cfg.LookbackDays, JobStatus: cfg.JobStatus},
		alert,
		store,
		recency,
		rt,
	)
	if !*noDedup {
		pipe = pipe.WithTracking(tracker)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	report, jobs, err := pipe.Run(ctx)
	if storeErr := store.InsertRun(ctx, report); storeErr != nil {
		log.Printf("flagalerts: failed to store run report: %v", storeErr)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "run failed: %v\n", err)
		return exitRuntimeError
	}

	fmt.Printf("run %s: fetched=%d filtered=%d deduped=%d jobs=%d\n",
		report.ID, report.RowsFetched, report.RowsFiltered, report.RowsDeduped, report.JobsBuilt)

	if *dryRun {
		for _, job := range jobs {
			fmt.Printf("  [dry-run] %s: to=%s cc=[%s] rows=%d subject=%q\n",
				job.Metadata.VesselName, strings.Join(job.Recipients, ","),
				strings.Join(job.CCRecipients, ","), len(job.Rows), job.Metadata.Subject)
		}
		return exitSuccess
	}

	disp := dispatcher.New(store, buildSender(cfg), tracker, alert.Name(), cfg.DeliveryTimeout)
	if cfg.CircuitBreakerThreshold > 0 {
		disp = disp.WithBreaker(circuitbreaker.New(cfg.CircuitBreakerThreshold, cfg.CircuitBreakerCooldown))
	}
	if redisClient != nil {
		disp = disp.WithAnalytics(analytics.NewRedisSink(redisClient).WithRetention(cfg.TrackingRetention))
	}

	for _, job := range jobs {
		if err := disp.Dispatch(ctx, job); err != nil {
			log.Printf("flagalerts: dispatch error: %v", err)
		}
	}

	return exitSuccess
}

// buildTracker selects the notified-key store backend.
func buildTracker(cfg config.Config, store *postgres.Store, redisClient *redis.Client) tracking.Store {
	if cfg.TrackingBackend == "redis" {
		return tracking.NewRedisStore(redisClient)
	}
	return store
}

// buildSender selects the delivery transport.
func buildSender(cfg config.Config) dispatcher.Sender {
	if cfg.DeliveryMode == "smtp" {
		return dispatcher.NewSMTPSender(cfg.SMTPAddr, cfg.SMTPFrom, cfg.SMTPUsername, cfg.SMTPPassword)
	}
	return dispatcher.NewHTTPWebhookSender(cfg.WebhookURL, cfg.WebhookSecret)
}

// redisPinger adapts *redis.Client to api.HealthChecker.
type redisPinger struct {
	client *redis.Client
}

func (p redisPinger) PingContext(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

func runValidate() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitInvalidConfig
	}

	fmt.Println("configuration valid")
	return exitSuccess
}

func runConfig() int {
	cfg := config.Load()

	data, err := cfg.MaskedJSON()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to marshal config: %v\n", err)
		return exitRuntimeError
	}

	fmt.Println(string(data))
	return exitSuccess
}

func runVersion() int {
	fmt.Printf("flagalerts version %s (commit: %s)\n", version, commit)
	return exitSuccess
}
