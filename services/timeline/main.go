package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/connectsocial/internal/config"
	"github.com/connectsocial/internal/conversation"
	"github.com/connectsocial/internal/feed"
	"github.com/connectsocial/internal/feed/memory"
	feedredis "github.com/connectsocial/internal/feed/redis"
	"github.com/connectsocial/internal/gateway"
	"github.com/connectsocial/internal/handler"
	"github.com/connectsocial/internal/logger"
	"github.com/connectsocial/internal/metrics"
	"github.com/connectsocial/internal/middleware"
	"github.com/connectsocial/internal/notify"
	"github.com/connectsocial/internal/repository"
	"github.com/connectsocial/internal/schedule"
	"github.com/connectsocial/internal/startup"
	"github.com/connectsocial/internal/ws"
	"github.com/connectsocial/migrations"
)

const connectWait = 60 * time.Second

// eventFeed описывает то, что нужно от драйвера ленты (подписки контроллеров, публикация из вебхука, Close).
type eventFeed interface {
	feed.Feed
	Close() error
}

func main() {
	logger.SetPrefix("timeline")
	migrate := flag.Bool("migrate", false, "run database migrations and exit")
	dev := flag.Bool("dev", false, "start with embedded PostgreSQL and the in-process feed (no external services)")
	flag.Parse()

	logger.Info("starting timeline service")
	cfg, err := config.Load()
	if err != nil {
		logger.Errorf("config: %v", err)
		os.Exit(1)
	}
	logger.SetLevel(cfg.LogLevel)
	if *dev {
		cfg.Feed.Driver = config.FeedMemory
	}

	rootCtx, rootCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer rootCancel()

	var embeddedDB *embeddedpostgres.EmbeddedPostgres
	if *dev {
		embeddedDB, err = startEmbeddedPostgres(cfg)
		if err != nil {
			logger.Errorf("embedded postgres: %v", err)
			os.Exit(1)
		}
		defer func() {
			logger.Info("stopping embedded postgres...")
			if err := embeddedDB.Stop(); err != nil {
				logger.Errorf("embedded postgres stop: %v", err)
			}
		}()
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL())
	if err != nil {
		logger.Errorf("parse db config: %v", err)
		os.Exit(1)
	}
	poolCfg.MaxConns = int32(cfg.DBMaxConnections())
	poolCfg.MinConns = 2

	pool, err := startup.ConnectDB(rootCtx, poolCfg, connectWait)
	if err != nil {
		logger.Errorf("database: %v", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := runMigrations(rootCtx, pool); err != nil {
		logger.Errorf("migrations: %v", err)
		os.Exit(1)
	}
	if *migrate && !*dev {
		return
	}
	logger.Info("database connected, migrations applied")

	var rdb *redis.Client
	if cfg.RedisURL != "" && (cfg.Feed.Driver == config.FeedRedis || !*dev) {
		rdb, err = startup.ConnectRedis(rootCtx, cfg.RedisURL, connectWait)
		if err != nil {
			logger.Errorf("redis: %v", err)
			os.Exit(1)
		}
		defer rdb.Close()
	}

	events, err := openFeed(rootCtx, cfg, rdb)
	if err != nil {
		logger.Errorf("feed: %v", err)
		os.Exit(1)
	}
	defer events.Close()
	logger.Infof("feed driver: %s", cfg.Feed.Driver)

	msgRepo := repository.NewMessageRepository(pool)
	recordRepo := repository.NewRecordRepository(pool)
	templateRepo := repository.NewTemplateRepository(pool)
	gw := gateway.NewClient(cfg.Gateway.URL, cfg.Gateway.Token, cfg.Gateway.Timeout)

	sinks := notify.Multi{notify.LogSink{}}
	var (
		subs      *notify.SubscriptionStore
		publicKey string
	)
	if rdb != nil {
		keys := &notify.VAPIDKeys{PublicKey: cfg.Push.VAPIDPublicKey, PrivateKey: cfg.Push.VAPIDPrivateKey}
		if keys.PublicKey == "" || keys.PrivateKey == "" {
			keys, err = notify.EnsureVAPIDKeys(cfg.Push.VAPIDKeysFile)
		}
		if err != nil {
			logger.Errorf("vapid keys: %v (web push disabled)", err)
		} else {
			subs = notify.NewSubscriptionStore(rdb)
			push := notify.NewWebPushSink(subs, keys, cfg.Push.Subscriber)
			publicKey = push.PublicKey()
			sinks = append(sinks, push)
		}
	}

	loc := cfg.Location()
	opts := conversation.Options{
		TopicPrefix: cfg.Feed.TopicPrefix,
		Location:    loc,
		Window:      cfg.Schedule.ReengagementWindow,
		SMSOffset:   cfg.Schedule.SMSOffset,
		MinLead:     cfg.Schedule.SMSMinLead,
	}
	factory := func(l conversation.Listener, n notify.Sink) *conversation.Controller {
		return conversation.New(conversation.Deps{
			Resolver:  recordRepo,
			Reader:    msgRepo,
			Writer:    msgRepo,
			Transport: gw,
			Feed:      events,
			Notifier:  n,
			Listener:  l,
		}, opts)
	}

	hubCtx, hubCancel := context.WithCancel(context.Background())
	hub := ws.NewHub(factory, sinks, cfg.MaxWSConnections, ws.Limits{
		WriteWait:      cfg.WSWriteTimeout,
		PongWait:       cfg.WSPongTimeout,
		MaxMessageSize: cfg.WSMaxMessageSize,
		SendBuffer:     cfg.WSSendBufferSize,
	})
	var hubWg sync.WaitGroup
	hubWg.Add(2)
	go func() {
		defer hubWg.Done()
		hub.Run(hubCtx)
	}()
	go func() {
		defer hubWg.Done()
		hub.RunRefresh(hubCtx, cfg.Schedule.RefreshCron)
	}()

	var pushStore handler.SubscriptionStore
	if subs != nil {
		pushStore = subs
	}
	templateH := handler.NewTemplateHandler(templateRepo)
	phoneH := handler.NewPhoneFieldHandler(recordRepo)
	pushH := handler.NewPushHandler(pushStore, publicKey)
	webhookH := handler.NewWebhookHandler(msgRepo, events, cfg.Feed.TopicPrefix, cfg.Gateway.Token)
	scheduleH := handler.NewScheduleHandler(schedule.NewCalculator(loc, cfg.Schedule.SMSOffset, cfg.Schedule.SMSMinLead, nil))
	wsH := handler.NewWSHandler(hub, cfg.CORSAllowedOrigins)
	limiter := middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)

	go limiter.Run(hubCtx, time.Minute, 10*time.Minute)

	r := chi.NewRouter()
	if cfg.TrustProxy {
		r.Use(chimw.RealIP)
	}
	r.Use(middleware.RecoverJSON)
	r.Use(middleware.RequestLog)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   splitOrigins(cfg.CORSAllowedOrigins),
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := pool.Ping(ctx); err != nil {
			http.Error(w, "db unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if cfg.MetricsEnabled {
		r.Handle("/metrics", metrics.Handler())
	}
	r.Get("/ws", wsH.ServeWS)

	r.Route("/api", func(r chi.Router) {
		r.Use(limiter.Handler)
		r.Get("/templates", templateH.List)
		r.Get("/templates/{id}", templateH.Get)
		r.Get("/objects/{object}/phone-field", phoneH.Get)
		r.Put("/objects/{object}/phone-field", phoneH.Put)
		r.Get("/push/config", pushH.Config)
		r.Post("/push/subscribe", pushH.Subscribe)
		r.Delete("/push/subscribe", pushH.Unsubscribe)
		r.Post("/schedule/validate", scheduleH.Validate)
		r.Post("/webhooks/messages", webhookH.Messages)
	})

	srv := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("server listening on %s", cfg.ServerAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Errorf("server error: %v", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("server shutdown: %v", err)
	}
	logger.Info("server stopped accepting connections")
	hubCancel()
	hubWg.Wait()
	logger.Infof("hub stopped, dropped log lines: %d", logger.Dropped())
}

func openFeed(ctx context.Context, cfg *config.Config, rdb *redis.Client) (eventFeed, error) {
	switch cfg.Feed.Driver {
	case config.FeedMemory:
		return memory.New(), nil
	case config.FeedNATS:
		return startup.ConnectNATSFeed(ctx, cfg.Feed.NATSURL, connectWait)
	case config.FeedRedis:
		if rdb == nil {
			return nil, fmt.Errorf("feed driver redis requires REDIS_URL")
		}
		return feedredis.NewWithClient(rdb), nil
	}
	return nil, fmt.Errorf("unknown feed driver %q", cfg.Feed.Driver)
}

func splitOrigins(s string) []string {
	var out []string
	for _, o := range strings.Split(s, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

func runMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	names, err := migrations.Names()
	if err != nil {
		return err
	}
	for _, name := range names {
		data, err := migrations.Files.ReadFile(name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := pool.Exec(ctx, string(data)); err != nil {
			return fmt.Errorf("run migration %s: %w", name, err)
		}
	}
	logger.Infof("migrations applied: %d", len(names))
	return nil
}

func startEmbeddedPostgres(cfg *config.Config) (*embeddedpostgres.EmbeddedPostgres, error) {
	const (
		port     = 5432
		user     = "timeline"
		password = "timeline_secret"
		database = "timeline"
	)

	dataDir := filepath.Join(".", ".pgdata")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create pgdata dir: %w", err)
	}

	db := embeddedpostgres.NewDatabase(
		embeddedpostgres.DefaultConfig().
			Port(port).
			Username(user).
			Password(password).
			Database(database).
			DataPath(dataDir).
			RuntimePath(filepath.Join(os.TempDir(), "embedded-pg-runtime")),
	)

	logger.Info("starting embedded PostgreSQL...")
	if err := db.Start(); err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}

	cfg.Database.URL = fmt.Sprintf(
		"postgres://%s:%s@localhost:%d/%s?sslmode=disable",
		user, password, port, database,
	)
	logger.Infof("embedded PostgreSQL running on port %d", port)
	return db, nil
}
