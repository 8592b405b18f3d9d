package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-digest-notifier/internal/handler"
	internalmiddleware "github.com/noah-isme/sma-digest-notifier/internal/middleware"
	"github.com/noah-isme/sma-digest-notifier/internal/repository"
	"github.com/noah-isme/sma-digest-notifier/internal/service"
	"github.com/noah-isme/sma-digest-notifier/pkg/cache"
	"github.com/noah-isme/sma-digest-notifier/pkg/config"
	"github.com/noah-isme/sma-digest-notifier/pkg/database"
	"github.com/noah-isme/sma-digest-notifier/pkg/dingtalk"
	"github.com/noah-isme/sma-digest-notifier/pkg/export"
	"github.com/noah-isme/sma-digest-notifier/pkg/logger"
	reqidmiddleware "github.com/noah-isme/sma-digest-notifier/pkg/middleware/requestid"
	"github.com/noah-isme/sma-digest-notifier/pkg/pocketbase"
	"github.com/noah-isme/sma-digest-notifier/pkg/scheduler"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if err := run(cfg, logr); err != nil {
		logr.Sugar().Errorw("notifier stopped with error", "error", err, "fatal", scheduler.IsFatal(err))
		_ = logr.Sync()
		os.Exit(1)
	}
	logr.Sugar().Infow("notifier finished")
}

func run(cfg *config.Config, logr *zap.Logger) error {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return fmt.Errorf("load timezone %q: %w", cfg.Timezone, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metricsSvc := service.NewMetricsService()

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			logr.Sugar().Warnw("redis unavailable, continuing without identity cache and delivery claims", "error", err)
			redisClient = nil
		}
	}
	cacheRepo := repository.NewCacheRepository(redisClient)
	defer cacheRepo.Close() //nolint:errcheck
	cacheSvc := service.NewCacheService(cacheRepo, metricsSvc, cfg.Redis.IdentityTTL, logr, redisClient != nil)

	deliverySvc := service.NewDeliveryService(cacheSvc, nil, cfg.Redis.ClaimTTL, logr)
	if cfg.Delivery.LogEnabled {
		db, err := database.NewPostgres(ctx, cfg.Database)
		if err != nil {
			return fmt.Errorf("connect delivery log database: %w", err)
		}
		defer db.Close() //nolint:errcheck
		store := repository.NewDeliveryRepository(db)
		if err := store.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("prepare delivery log schema: %w", err)
		}
		deliverySvc = service.NewDeliveryService(cacheSvc, store, cfg.Redis.ClaimTTL, logr)
	}

	records := pocketbase.New(pocketbase.Config{
		BaseURL:    cfg.Source.BaseURL,
		PageSize:   cfg.Source.PageSize,
		Identity:   cfg.Source.Identity,
		Password:   cfg.Source.Password,
		Timeout:    cfg.HTTPClient.Timeout,
		Retries:    cfg.HTTPClient.Retries,
		RetryDelay: cfg.HTTPClient.RetryDelay,
		Logger:     logr,
	})
	platform := dingtalk.New(dingtalk.Config{
		OAPIBaseURL:  cfg.DingTalk.OAPIBaseURL,
		APIBaseURL:   cfg.DingTalk.APIBaseURL,
		AppKey:       cfg.DingTalk.AppKey,
		AppSecret:    cfg.DingTalk.AppSecret,
		RobotCode:    cfg.DingTalk.RobotCode,
		TimeZone:     cfg.Timezone,
		SendInterval: cfg.DingTalk.SendInterval,
		Timeout:      cfg.HTTPClient.Timeout,
		Retries:      cfg.HTTPClient.Retries,
		RetryDelay:   cfg.HTTPClient.RetryDelay,
		Logger:       logr,
	})
	gateway := service.NewDingTalkGateway(platform)

	dispatchSvc := service.NewDispatchService(service.DispatchConfig{
		Location:     loc,
		MisfireGrace: cfg.Dispatch.MisfireGrace,
		Workers:      cfg.Dispatch.Workers,
		RefreshSpec:  cfg.Dispatch.RefreshSpec,
		MorningSpec:  cfg.Dispatch.MorningSpec,
		SlotSpecs:    cfg.Dispatch.SlotSpecs,
		EveningSpec:  cfg.Dispatch.EveningSpec,
	}, service.DispatchDependencies{
		Catalog:     repository.NewCourseRepository(records, cfg.Source.CourseCollection, logr),
		Subscribers: repository.NewSubscriberRepository(platform, cfg.DingTalk.FormName, repository.FormLabels{
			Push:        cfg.DingTalk.FormPushLabel,
			PushEnabled: cfg.DingTalk.FormPushEnabled,
			URL:         cfg.DingTalk.FormURLLabel,
		}, logr),
		Gateway:     gateway,
		Identities:  service.NewIdentityService(gateway, cacheSvc, cfg.Redis.IdentityTTL),
		Resolver:    service.NewSubscriptionResolver(cfg.Subscription.URLPrefix),
		Deliveries:  deliverySvc,
		Metrics:     metricsSvc,
		Logger:      logr,
	})
	previewSvc := service.NewPreviewService(dispatchSvc, nil, export.NewPDFExporter().WithUTF8Font(cfg.Export.PDFFontFile))

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(internalmiddleware.Metrics(metricsSvc))
	handler.RegisterRoutes(r, cfg.APIPrefix, handler.NewOpsHandler(dispatchSvc, previewSvc, deliverySvc, metricsSvc.Handler()))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logr.Sugar().Infow("ops server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Errorw("ops server failed", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logr.Sugar().Warnw("ops server shutdown failed", "error", err)
		}
	}()

	logr.Sugar().Infow("dispatcher starting", "timezone", loc.String(), "workers", cfg.Dispatch.Workers, "grace", cfg.Dispatch.MisfireGrace)
	err = dispatchSvc.Run(ctx)
	if errors.Is(err, context.Canceled) {
		logr.Sugar().Infow("dispatcher interrupted")
		return nil
	}
	return err
}
