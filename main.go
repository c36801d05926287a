package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/jmossahebi/jello2/api"
	"github.com/jmossahebi/jello2/backup"
	"github.com/jmossahebi/jello2/board"
	"github.com/jmossahebi/jello2/config"
	"github.com/jmossahebi/jello2/domain"
	"github.com/jmossahebi/jello2/storage"
	"github.com/jmossahebi/jello2/syncer"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := setupLogger(cfg)

	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	local, err := storage.OpenLocal(cfg.LocalDBPath, cfg.LocalMaxPages, logger)
	if err != nil {
		log.Fatalf("local store: %v", err)
	}

	var (
		remote  domain.RemoteStore
		deduper api.Deduper
	)
	if cfg.RemoteEnabled() {
		rs, rc, err := openRemote(cfg, logger)
		if err != nil {
			log.Fatalf("remote store: %v", err)
		}
		defer rc.Close()
		remote = rs
		deduper = api.NewRedisDeduper(rc, cfg.IdempotencyTTL)
		log.WithField("table", cfg.StateTable).Info("remote storage enabled")
	} else {
		log.Info("remote storage not configured, running local only")
	}

	broker := api.NewBroker()
	var sched *backup.Scheduler
	ctrl := syncer.New(syncer.Options{
		Local:  local,
		Remote: remote,
		Render: broker.Render,
		Alert:  broker.Alert,
		AfterPersist: func(ctx context.Context, st domain.State) {
			if sched != nil {
				sched.AfterPersist(ctx, st)
			}
		},
		Delays: syncer.DefaultDelays(),
		Logger: logger,
	})
	if cfg.BackupDir != "" {
		sched = backup.New(local, ctrl, backup.Options{
			Dir:      cfg.BackupDir,
			Interval: cfg.BackupInterval,
			Keep:     cfg.BackupKeep,
			Logger:   logger,
		})
		go sched.Run(ctx, time.Hour)
	}
	svc := board.NewService(ctrl, domain.NewIDGenerator(nil, nil), board.Options{Logger: logger})

	auth, err := setupAuth(cfg, logger)
	if err != nil {
		log.Fatalf("auth: %v", err)
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:  []string{"*"},
		AllowHeaders:  []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, "Idempotency-Key"},
		ExposeHeaders: []string{echo.HeaderContentDisposition},
	}))
	api.Register(e, api.Deps{
		Boards:  svc,
		Auth:    auth,
		Broker:  broker,
		Deduper: deduper,
		Local:   local,
		Logger:  logger,
	})

	go func() {
		if err := e.Start(cfg.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http: %v", err)
		}
	}()
	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown")
	}
	svc.Close()
	svc.Stop()
	if err := local.Close(); err != nil {
		log.WithError(err).Warn("close local store")
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("tracer shutdown")
	}
}

func setupLogger(cfg config.Config) *log.Logger {
	logger := log.StandardLogger()
	if cfg.Debug {
		logger.SetLevel(log.DebugLevel)
	}
	if cfg.LogFormat == "json" {
		logger.SetFormatter(&log.JSONFormatter{})
	}
	if cfg.Log.Path != "" {
		logger.SetOutput(io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   cfg.Log.Path,
			MaxSize:    cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAge:     cfg.Log.MaxAgeDays,
			Compress:   cfg.Log.Compress,
		}))
	}
	return logger
}

func openRemote(cfg config.Config, logger *log.Logger) (*storage.RemoteStore, *redis.Client, error) {
	tcfg := storage.TableConfig{
		ConnectionString: cfg.StorageConnectionString,
		ServiceURL:       cfg.TableServiceURL,
		Table:            cfg.StateTable,
	}
	var refresher storage.Refresher
	if cfg.StorageConnectionString == "" {
		cred := storage.NewRefreshingCredential(storage.FileTokenSource{Path: cfg.TokenFile})
		tcfg.Credential = cred
		refresher = cred
	}
	table, err := storage.NewTableClient(tcfg)
	if err != nil {
		return nil, nil, err
	}
	redisOpts, err := config.RedisOptions(cfg.RedisConnectionString)
	if err != nil {
		return nil, nil, err
	}
	rc := redis.NewClient(redisOpts)
	docs := storage.NewCache(storage.NewTables(table, logger), rc, cfg.SnapshotCacheTTL)
	return storage.NewRemoteStore(docs, storage.NewNotifier(rc, logger), refresher, logger), rc, nil
}

func setupAuth(cfg config.Config, logger *log.Logger) (*api.Auth, error) {
	if cfg.SharedSecret != "" {
		logger.Warn("local HS256 auth mode enabled")
		return api.NewAuth(api.AuthConfig{SharedSecret: []byte(cfg.SharedSecret)}), nil
	}
	if cfg.Auth0Domain == "" {
		logger.Warn("no token issuer configured, remote sessions cannot be authenticated")
		return api.NewAuth(api.AuthConfig{}), nil
	}
	jwks, err := keyfunc.Get(cfg.JWKSURL(), keyfunc.Options{
		RefreshInterval: time.Hour,
		RefreshErrorHandler: func(err error) {
			logger.WithError(err).Warn("jwks refresh failed")
		},
	})
	if err != nil {
		return nil, err
	}
	return api.NewAuth(api.AuthConfig{
		JWKS:        jwks,
		Audience:    cfg.Auth0Audience,
		Issuer:      cfg.Issuer(),
		KeyCacheTTL: cfg.JWKSCacheTTL,
	}), nil
}
