package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	handlers "TrailSafe/internal/handler"
	"TrailSafe/internal/listeners"
	"TrailSafe/internal/models"
	"TrailSafe/internal/safety"
	"TrailSafe/pkg/cache"
	"TrailSafe/pkg/config"
	"TrailSafe/pkg/i18n"
	"TrailSafe/pkg/logger"
	"TrailSafe/pkg/metrics"
	"TrailSafe/pkg/middleware"
	"TrailSafe/pkg/notification"
	"TrailSafe/pkg/scheduler"
	"TrailSafe/pkg/sse"
	"TrailSafe/pkg/storage"
	"TrailSafe/pkg/util"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	if err := config.Load(); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	cfg := config.GlobalConfig

	logger.Init(cfg.Log)
	defer logger.Sync()

	db, err := util.InitDatabase(cfg.DBDriver, cfg.DSN, cfg.Mode == "debug")
	if err != nil {
		logger.Error("failed to init database", zap.Error(err))
		os.Exit(1)
	}
	if err := models.Migrate(db); err != nil {
		logger.Error("failed to migrate database", zap.Error(err))
		os.Exit(1)
	}
	if err := db.AutoMigrate(&middleware.AccessLog{}); err != nil {
		logger.Error("failed to migrate access log", zap.Error(err))
		os.Exit(1)
	}

	appCache, err := cache.NewCache(cache.Config{
		Type: cfg.CacheType,
		Redis: cache.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		},
		Local: cache.LocalConfig{
			MaxSize:           1000,
			DefaultExpiration: 5 * time.Minute,
			CleanupInterval:   10 * time.Minute,
		},
	})
	if err != nil {
		logger.Error("failed to init cache", zap.Error(err))
		os.Exit(1)
	}
	defer appCache.Close()

	translator, err := i18n.NewI18nSupport(cfg.DefaultLanguage)
	if err != nil {
		logger.Error("failed to init i18n", zap.Error(err))
		os.Exit(1)
	}

	m := metrics.NewMetrics()

	transports := notification.NewAlertTransports(
		notification.NewSMS(cfg.SMS, nil),
		notification.NewMailNotification(cfg.Mail),
		notification.NewPush(cfg.Push, nil),
	)
	cascade := safety.NewCascade(transports, safety.LoggedAuthorityNotifier{}, translator, m, cfg.CascadeContactDelay)

	sched := scheduler.New()
	defer sched.Stop()

	svc := safety.NewService(db, safety.Options{
		GracePeriod:        cfg.GracePeriod,
		MaxCredentialTries: cfg.MaxCredentialTries,
		Pepper:             cfg.CredentialPepper,
	}, safety.BcryptVerifier{}, cascade, sched, m)

	cr := scheduler.NewCron(nil)
	if _, err := cr.AddWithCtx(cfg.GraceSweepSpec, svc.SweepExpiredGracePeriods); err != nil {
		logger.Error("failed to register grace sweep", zap.Error(err))
		os.Exit(1)
	}
	cr.Start()
	defer cr.Stop()

	hub := sse.NewHub(30 * time.Second)
	listeners.RegisterAlertListeners(hub)

	var media storage.MediaStore
	if cfg.MinioEndpoint != "" {
		store, err := storage.NewMinioStore(storage.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			logger.Warn("media storage unavailable", zap.Error(err))
		} else {
			media = store
		}
	}

	limiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		Rate:       cfg.RateLimit,
		Identifier: "ip",
		AddHeaders: true,
		SkipPaths:  []string{"/health", "/metrics"},
	}, nil).WithObserver(middleware.NewPrometheusObserver())

	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(m.GinMiddleware())

	accessLogger := middleware.NewAccessLogger(cfg.GeoIPDatabase)
	defer accessLogger.Close()

	h := handlers.NewHandlers(db, svc, hub, media, limiter, appCache, m, accessLogger)
	h.Register(engine)

	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: engine,
	}
	go func() {
		logger.Info("server listening", zap.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}()

	// 启动即补扫一次，追上停机期间过期的宽限期
	go svc.SweepExpiredGracePeriods(context.Background())

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("forced shutdown", zap.Error(err))
	}
}
