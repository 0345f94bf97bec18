// Command sharepoold runs the subscription fulfillment engine: the JSON API,
// the order and pool services and the periodic reclaim and renewal jobs.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/sharepool/pkg/config"
	"github.com/dmitrymomot/sharepool/pkg/cron"
	"github.com/dmitrymomot/sharepool/pkg/email"
	"github.com/dmitrymomot/sharepool/pkg/file"
	"github.com/dmitrymomot/sharepool/pkg/httpserver"
	"github.com/dmitrymomot/sharepool/pkg/logger"
	"github.com/dmitrymomot/sharepool/pkg/metrics"
	"github.com/dmitrymomot/sharepool/pkg/pg"
	"github.com/dmitrymomot/sharepool/pkg/ratelimiter"
	"github.com/dmitrymomot/sharepool/pkg/redis"
	"github.com/dmitrymomot/sharepool/pkg/requestid"
	"github.com/dmitrymomot/sharepool/pkg/secrets"
	"github.com/dmitrymomot/sharepool/svc/api"
	"github.com/dmitrymomot/sharepool/svc/notify"
	"github.com/dmitrymomot/sharepool/svc/orders"
	"github.com/dmitrymomot/sharepool/svc/pgstore"
	"github.com/dmitrymomot/sharepool/svc/pool"
	"github.com/dmitrymomot/sharepool/svc/pricing"
	"github.com/dmitrymomot/sharepool/svc/renewal"
	"github.com/dmitrymomot/sharepool/svc/validation"
)

const serviceName = "sharepoold"

func main() {
	if err := config.LoadEnv(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Error("failed to load .env", logger.Error(err))
	}

	var cfg appConfig
	config.MustLoad(&cfg)

	opts := []logger.Option{
		logger.WithEnvironment(cfg.Env, serviceName),
		logger.WithContextExtractors(requestid.LoggerExtractor()),
	}
	if cfg.LogLevel != "" {
		opts = append(opts, logger.WithLevelName(cfg.LogLevel))
	}
	log := logger.New(opts...)
	logger.SetAsDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("sharepoold stopped with error", logger.Error(err))
		os.Exit(1)
	}
	log.Info("sharepoold stopped")
}

// stores groups the persistence backends chosen by STORAGE.
type stores struct {
	orders   orders.Store
	pool     pool.Store
	contacts contactBook
	checks   []httpserver.Check
	closers  []func()
	// limits is set when redis is connected, so rate limits are shared.
	limits ratelimiter.Store
}

// close releases connections in reverse order of opening.
func (s stores) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

type contactBook interface {
	notify.Contacts
	api.Contacts
}

func run(ctx context.Context, cfg appConfig, log *slog.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	st, err := openStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() { st.close() }()

	catalog, err := pricing.LoadCatalogFile(cfg.CatalogPath)
	if err != nil {
		return fmt.Errorf("load pricing catalog: %w", err)
	}

	var fileCfg file.Config
	if err := config.Load(&fileCfg); err != nil {
		return fmt.Errorf("load proof storage config: %w", err)
	}
	proofs, err := file.New(ctx, fileCfg)
	if err != nil {
		return fmt.Errorf("init proof storage: %w", err)
	}

	dispatcher, err := newDispatcher(cfg, st.contacts, log, m)
	if err != nil {
		return err
	}

	pipeline, err := newPipeline(proofs, log, m)
	if err != nil {
		return err
	}

	poolSvc := pool.NewService(st.pool, pool.WithLogger(log), pool.WithMetrics(m))
	orderSvc := orders.NewService(st.orders, pipeline, poolSvc, catalog,
		orders.WithLogger(log),
		orders.WithMetrics(m),
		orders.WithDispatcher(dispatcher))

	var renewalCfg renewal.Config
	if err := config.Load(&renewalCfg); err != nil {
		return fmt.Errorf("load renewal config: %w", err)
	}
	deduper, err := newDeduper(ctx, cfg, renewalCfg, &st)
	if err != nil {
		return err
	}
	scanner := renewal.NewScanner(st.orders, deduper, dispatcher,
		renewal.WithLogger(log),
		renewal.WithMetrics(m),
		renewal.WithWindow(renewalCfg.Window))

	scheduler := cron.New(
		cron.WithLogger(log),
		cron.WithCheckInterval(cfg.SchedulerTick),
		cron.WithObserver(m.JobRun))
	if err := renewal.Register(scheduler, renewalCfg, poolSvc, scanner); err != nil {
		return fmt.Errorf("register jobs: %w", err)
	}

	var apiCfg api.Config
	if err := config.Load(&apiCfg); err != nil {
		return fmt.Errorf("load api config: %w", err)
	}
	if apiCfg.AdminToken == "" {
		log.Warn("API_ADMIN_TOKEN is empty, admin API is disabled")
	}
	apiOpts := []api.Option{
		api.WithLogger(log),
		api.WithMetrics(m),
		api.WithMetricsHandler(metrics.Handler(reg)),
		api.WithReadinessChecks(st.checks...),
	}
	if local, ok := proofs.(*file.LocalStorage); ok {
		apiOpts = append(apiOpts, api.WithProofFiles(local.Handler()))
	}
	limiter, err := newLimiter(st, log)
	if err != nil {
		return err
	}
	if limiter != nil {
		apiOpts = append(apiOpts, api.WithRateLimiter(limiter))
	}
	handler := api.NewHandler(apiCfg, api.Deps{
		Orders:   orderSvc,
		Pool:     poolSvc,
		Catalog:  catalog,
		Proofs:   proofs,
		Contacts: st.contacts,
		Jobs:     scheduler,
	}, apiOpts...)

	var httpCfg httpserver.Config
	if err := config.Load(&httpCfg); err != nil {
		return fmt.Errorf("load http config: %w", err)
	}
	server := httpserver.NewFromConfig(httpCfg, httpserver.WithLogger(log))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(scheduler.Run(ctx))
	g.Go(server.Start(ctx, handler.Routes()))
	return g.Wait()
}

func openStores(ctx context.Context, cfg appConfig, log *slog.Logger) (stores, error) {
	switch cfg.Storage {
	case "memory":
		log.Warn("using in-memory storage, state is lost on exit")
		return stores{
			orders:   orders.NewMemoryStore(),
			pool:     pool.NewMemoryStore(),
			contacts: notify.NewMemoryContacts(),
		}, nil

	case "postgres":
		var pgCfg pg.Config
		if err := config.Load(&pgCfg); err != nil {
			return stores{}, fmt.Errorf("load postgres config: %w", err)
		}
		db, err := pg.Connect(ctx, pgCfg)
		if err != nil {
			return stores{}, err
		}
		if err := pg.Migrate(ctx, db, pgstore.Migrations(), pgCfg, log); err != nil {
			db.Close()
			return stores{}, err
		}
		var poolOpts []pgstore.PoolStoreOption
		var secretsCfg secrets.Config
		if err := config.Load(&secretsCfg); err != nil {
			db.Close()
			return stores{}, fmt.Errorf("load credentials key: %w", err)
		}
		if secretsCfg.Enabled() {
			cipher, err := secrets.FromConfig(secretsCfg, "pool-credentials")
			if err != nil {
				db.Close()
				return stores{}, fmt.Errorf("init credentials cipher: %w", err)
			}
			poolOpts = append(poolOpts, pgstore.WithCredentialSealer(cipher))
		} else {
			log.Warn("CREDENTIALS_KEY is not set, pool credentials are stored in plaintext")
		}
		return postgresStores(db, poolOpts...), nil

	default:
		return stores{}, fmt.Errorf("unknown STORAGE %q, want postgres or memory", cfg.Storage)
	}
}

func postgresStores(db *pgxpool.Pool, poolOpts ...pgstore.PoolStoreOption) stores {
	return stores{
		orders:   pgstore.NewOrderStore(db),
		pool:     pgstore.NewPoolStore(db, poolOpts...),
		contacts: pgstore.NewContactStore(db),
		checks:   []httpserver.Check{{Name: "postgres", Fn: pg.Healthcheck(db)}},
		closers:  []func(){db.Close},
	}
}

// newDeduper registers the redis readiness check and closer on st.
func newDeduper(ctx context.Context, cfg appConfig, rc renewal.Config, st *stores) (renewal.Deduper, error) {
	switch cfg.Dedup {
	case "memory":
		return renewal.NewMemoryDeduper(rc.DedupTTL), nil
	case "redis":
		var redisCfg redis.Config
		if err := config.Load(&redisCfg); err != nil {
			return nil, fmt.Errorf("load redis config: %w", err)
		}
		client, err := redis.Connect(ctx, redisCfg)
		if err != nil {
			return nil, err
		}
		st.checks = append(st.checks, httpserver.Check{Name: "redis", Fn: redis.Healthcheck(client)})
		st.closers = append(st.closers, func() { _ = client.Close() })
		st.limits = ratelimiter.NewRedisStore(client, redisCfg.KeyPrefix+"rl:")
		return renewal.NewRedisDeduper(client, redisCfg.KeyPrefix, rc.DedupTTL), nil
	default:
		return nil, fmt.Errorf("unknown RENEWAL_DEDUP %q, want redis or memory", cfg.Dedup)
	}
}

// newLimiter returns nil when RATE_LIMIT_BURST is zero.
func newLimiter(st stores, log *slog.Logger) (*ratelimiter.Limiter, error) {
	var rlCfg ratelimiter.Config
	if err := config.Load(&rlCfg); err != nil {
		return nil, fmt.Errorf("load rate limit config: %w", err)
	}
	if !rlCfg.Enabled() {
		log.Warn("rate limiting is disabled")
		return nil, nil
	}
	if err := rlCfg.Validate(); err != nil {
		return nil, err
	}
	store := st.limits
	if store == nil {
		store = ratelimiter.NewMemoryStore()
	}
	return ratelimiter.New(store, rlCfg), nil
}

func newDispatcher(cfg appConfig, contacts notify.Contacts, log *slog.Logger, m *metrics.Metrics) (notify.Dispatcher, error) {
	var emailCfg email.Config
	if err := config.Load(&emailCfg); err != nil {
		return nil, fmt.Errorf("load email config: %w", err)
	}
	sender, err := email.NewSender(emailCfg)
	if err != nil {
		return nil, fmt.Errorf("init email sender: %w", err)
	}
	if !emailCfg.Enabled() {
		log.Info("postmark is not configured, emails are written to disk", slog.String("dir", emailCfg.DevDir))
	}

	loc, err := time.LoadLocation(cfg.NotifyTimezone)
	if err != nil {
		return nil, fmt.Errorf("load NOTIFY_TIMEZONE: %w", err)
	}

	return notify.NewMultiDispatcher([]notify.Dispatcher{
		notify.NewLogDispatcher(log),
		notify.NewEmailDispatcher(sender, contacts, notify.NewFormatter(cfg.NotifyLang, loc)),
	}, notify.WithMultiLogger(log), notify.WithMultiMetrics(m)), nil
}

// newPipeline uses the HTTP extractor when configured. Without one every
// proof goes to manual review.
func newPipeline(proofs file.Storage, log *slog.Logger, m *metrics.Metrics) (*validation.Pipeline, error) {
	var vcfg validation.Config
	if err := config.Load(&vcfg); err != nil {
		return nil, fmt.Errorf("load validation config: %w", err)
	}

	var extractor validation.Extractor = validation.ExtractorFunc(func(context.Context, validation.Request) (validation.Extraction, error) {
		return validation.Extraction{}, validation.ErrExtractionUnavailable
	})
	if vcfg.ExtractorURL != "" {
		var httpOpts []validation.HTTPOption
		if vcfg.ExtractorToken != "" {
			httpOpts = append(httpOpts, validation.WithBearerToken(vcfg.ExtractorToken))
		}
		ex, err := validation.NewHTTPExtractor(vcfg.ExtractorURL, proofs, httpOpts...)
		if err != nil {
			return nil, fmt.Errorf("init extractor: %w", err)
		}
		extractor = ex
	} else {
		log.Warn("VALIDATION_EXTRACTOR_URL is empty, every proof needs manual review")
	}

	p, err := validation.NewPipelineFromConfig(extractor, vcfg,
		validation.WithLogger(log),
		validation.WithMetrics(m))
	if err != nil {
		return nil, fmt.Errorf("init validation pipeline: %w", err)
	}
	return p, nil
}
