package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gitlab.com/nevasik7/alerting"
	alerters "gitlab.com/nevasik7/alerting/alerters"
	lgcfg "gitlab.com/nevasik7/alerting/config"
	"gitlab.com/nevasik7/alerting/logger"
	"github.com/grafana/pyroscope-go"

	"tokenserver/internal/analytics"
	httptransport "tokenserver/internal/api/http"
	"tokenserver/internal/api/http/handlers"
	"tokenserver/internal/api/http/mw"
	"tokenserver/internal/blocktime"
	"tokenserver/internal/chain"
	"tokenserver/internal/comments"
	"tokenserver/internal/config"
	"tokenserver/internal/currency"
	"tokenserver/internal/domain"
	"tokenserver/internal/eventbus"
	"tokenserver/internal/kv"
	"tokenserver/internal/launchpad"
	"tokenserver/internal/metrics"
	"tokenserver/internal/pubsub/nats"
	"tokenserver/internal/reactions"
	"tokenserver/internal/scanner"
	"tokenserver/internal/sse"
	"tokenserver/internal/stores/clickhouse"
	"tokenserver/internal/stores/postgres"
	"tokenserver/internal/stores/redis"
	"tokenserver/internal/tokenrepo"
	"tokenserver/internal/watchlist"
)

// Container owns every long-lived dependency and the two background loops
// (Scanner.Run, Ingestor.Run) alongside the HTTP server, so a single
// Start/Stop pair governs the whole process. Grounded on the teacher's own
// Container shape (infra fields, cleanupF, app), generalized from one
// aggregator service to the full engine set this domain needs.
type Container struct {
	app *App

	redisCmd *redis.Client
	redisSub *redis.Client
	pg       *postgres.Pool
	ch       *clickhouse.Conn
	nc       *nats.Client

	scanner  *scanner.Scanner
	ingestor *launchpad.Ingestor

	bgCancel context.CancelFunc

	cleanupF func()

	httpSrv   *httptransport.Server
	profiler  *pyroscope.Profiler
	pprofStop func(ctx context.Context) error
}

func (c *Container) Start() error {
	bgCtx, cancel := context.WithCancel(context.Background())
	c.bgCancel = cancel

	go c.scanner.Run(bgCtx)
	go c.ingestor.Run(bgCtx)

	return c.app.Start()
}

func (c *Container) Stop(ctx context.Context) error {
	if c.bgCancel != nil {
		c.bgCancel()
	}

	if err := c.app.Shutdown(ctx); err != nil {
		return fmt.Errorf("app shutdown failed: %w", err)
	}

	if c.cleanupF != nil {
		c.cleanupF()
	}
	return nil
}

// Build assembles every dependency named in SPEC_FULL.md §2/§4 and returns
// a ready-to-start Container. Grounded on the teacher's own Build function
// shape (dial everything up front, fail fast on the first error), adapted
// to return an error instead of panicking so main() controls the exit path.
func Build(ctx context.Context, cfg *config.Config) (*Container, func(), error) {
	log := logger.New(lgcfg.LoggerCfg{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	log.Info("logger initialized")

	alert := alerting.NewAlerting(log, alerters.NewTelegramAlerter(&lgcfg.TelegramCfg{
		BotToken: cfg.Alerting.Token,
		ChatID:   cfg.Alerting.ChatID,
		AppName:  cfg.Alerting.AppName,
	}, log))

	profiler, err := metrics.InitPProf(&metrics.PProfConfig{
		AppInstanceID: cfg.App.InstanceID,
		AppName:       cfg.Alerting.AppName,
		ServerAddr:    cfg.Metrics.Pyroscope,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("init pprof/pyroscope: %w", err)
	}
	pprofStop := metrics.ServePPROF(cfg.Metrics.PPROF, log)

	// Redis: two distinct connections, one for ordinary commands, one
	// dedicated to pub/sub subscriptions (spec.md §5's two-connection rule).
	redisCmd, err := redis.New(ctx, cfg.Stores.Redis)
	if err != nil {
		return nil, nil, fmt.Errorf("connect redis (command): %w", err)
	}
	redisSub, err := redis.New(ctx, cfg.Stores.Redis)
	if err != nil {
		return nil, nil, fmt.Errorf("connect redis (subscribe): %w", err)
	}
	kvGateway := kv.New(redisCmd, redisSub)

	pg, err := postgres.New(ctx, cfg.Stores.Postgres)
	if err != nil {
		return nil, nil, fmt.Errorf("connect postgres: %w", err)
	}
	repo := postgres.NewRepository(pg)

	ch, err := clickhouse.New(ctx, &cfg.Stores.ClickHouse)
	if err != nil {
		return nil, nil, fmt.Errorf("connect clickhouse: %w", err)
	}
	discoveryWriter := clickhouse.NewPoolDiscoveryWriter(alert, ch.Native, cfg.Stores.ClickHouse.Writer)
	engagementWriter := clickhouse.NewEngagementWriter(alert, ch.Native, cfg.Stores.ClickHouse.Writer)

	nc, err := nats.Connect(&cfg.PubSub.NATS, log)
	if err != nil {
		return nil, nil, fmt.Errorf("connect nats: %w", err)
	}

	gateway, err := chain.NewGateway(ctx, cfg.Chain.RPCURL, cfg.Chain.PoolManagerAddress, cfg.Chain.StateViewAddress)
	if err != nil {
		return nil, nil, fmt.Errorf("connect chain rpc: %w", err)
	}

	bus := eventbus.New(log)
	eventbus.NewBridge(bus, nc, log)

	resolver := currency.NewResolver(cfg.Chain.ChainID, gateway)
	timestamps := blocktime.NewCache(gateway)
	classifier := scanner.NewClassifier(cfg.Classifier.Hooks, cfg.Classifier.BasePairings)
	processor := scanner.NewProcessor(resolver, gateway, classifier)
	tokens := tokenrepo.New(log, kvGateway, bus)
	scannerSvc := scanner.NewScanner(cfg.Scanner, gateway, timestamps, processor, classifier, tokens)

	allowList := launchpad.NewAllowList(cfg.ExternalFeed.NetworkIDs, cfg.ExternalFeed.Protocols)
	ingestor := launchpad.New(log, cfg.ExternalFeed.URL, cfg.ExternalFeed.APIKey, allowList, bus)
	feedHandler := launchpad.NewHandler(log, kvGateway)

	commentsEngine := comments.New(log, repo, repo, kvGateway, bus)
	reactionsEngine := reactions.New(log, kvGateway, bus)
	watchlistEngine := watchlist.New(log, repo, repo, kvGateway, bus)

	bus.On(domain.TopicCommentCreated, commentsEngine.HandleCommentCreated)
	bus.On(domain.TopicEmojiReacted, reactionsEngine.HandleEmojiReacted)
	bus.On(domain.TopicNewTokenCreated, feedHandler.HandleNewTokenCreated)
	analytics.New(log, bus, discoveryWriter, engagementWriter)

	hub := sse.NewHub(kvGateway, log)

	deps := map[string]handlers.HealthChecker{
		"chain":    gateway,
		"postgres": pg,
		"redis":    kvGateway,
		"nats":     nc,
	}

	api := handlers.NewAPI(log, watchlistEngine, commentsEngine, reactionsEngine, tokens, scannerSvc, feedHandler, hub, deps, cfg.API.HTTP.SSEWriteTimeout)

	logMW := mw.NewLogging(log)
	gzipMW := mw.NewGzip(0, log)
	rateLimitMW := mw.NewRateLimit(&cfg.RateLimit, redisCmd.Client)
	corsMW := mw.NewCORSConfig(&cfg.API.HTTP.CORS)

	httpSrv := httptransport.NewServer(log, cfg, api, logMW, gzipMW, rateLimitMW, corsMW)

	c := &Container{
		app:       New(alert, httpSrv),
		redisCmd:  redisCmd,
		redisSub:  redisSub,
		pg:        pg,
		ch:        ch,
		nc:        nc,
		scanner:   scannerSvc,
		ingestor:  ingestor,
		httpSrv:   httpSrv,
		profiler:  profiler,
		pprofStop: pprofStop,
	}

	cleanup := func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if c.profiler != nil {
			if err := c.profiler.Stop(); err != nil {
				log.Errorf("stop profiler: %v", err)
			}
		}
		if err := c.pprofStop(cleanupCtx); err != nil {
			log.Errorf("stop pprof server: %v", err)
		}
		if err := bus.Close(cleanupCtx); err != nil {
			log.Errorf("close event bus: %v", err)
		}
		if err := discoveryWriter.Close(cleanupCtx); err != nil {
			log.Errorf("close pool discovery writer: %v", err)
		}
		if err := engagementWriter.Close(cleanupCtx); err != nil {
			log.Errorf("close engagement writer: %v", err)
		}
		if err := ch.Close(); err != nil {
			log.Errorf("close clickhouse connection: %v", err)
		}
		if err := nc.Close(); err != nil {
			log.Errorf("close nats connection: %v", err)
		}
		pg.Close()
		if err := redisCmd.Close(); err != nil {
			log.Errorf("close redis command connection: %v", err)
		}
		if err := redisSub.Close(); err != nil {
			log.Errorf("close redis subscribe connection: %v", err)
		}

		log.Info("dependencies cleaned up")
	}
	// Run defers the returned func and Stop calls c.cleanupF too; the Once
	// makes the second call a no-op instead of closing everything twice.
	var cleanupOnce sync.Once
	cleanupF := func() { cleanupOnce.Do(cleanup) }
	c.cleanupF = cleanupF

	log.Info("wiring complete")
	return c, cleanupF, nil
}
