package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"taoo-rewards/internal/auth"
	"taoo-rewards/internal/cache"
	"taoo-rewards/internal/catalog"
	"taoo-rewards/internal/clock"
	"taoo-rewards/internal/config"
	"taoo-rewards/internal/database"
	"taoo-rewards/internal/events"
	"taoo-rewards/internal/handlers"
	"taoo-rewards/internal/logging"
	"taoo-rewards/internal/lottery"
	"taoo-rewards/internal/middleware"
	"taoo-rewards/internal/models"
	"taoo-rewards/internal/otpcode"
	"taoo-rewards/internal/receipt"
	"taoo-rewards/internal/scheduler"
	adminsvc "taoo-rewards/internal/services/admin"
	"taoo-rewards/internal/services/otpauth"
	"taoo-rewards/internal/services/rewards"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLogger, _ := zap.NewProduction()
		bootLogger.Fatal("config load failed", zap.Error(err))
	}

	logger, err := logging.New(logging.Options{
		Level:      cfg.Log.Level,
		Path:       cfg.Log.Path,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	})
	if err != nil {
		bootLogger, _ := zap.NewProduction()
		bootLogger.Fatal("logger init failed", zap.Error(err))
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := database.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}
	defer store.Close()
	logger.Info("database ready", zap.String("dialect", store.Dialect()))

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Fatal("redis connection failed", zap.Error(err))
		}
		defer rdb.Close()
	} else {
		logger.Warn("REDIS_ADDR not set, otp codes are kept in memory")
	}

	var publisher events.Publisher = events.NoopPublisher{}
	if cfg.NATSURL != "" {
		natsPub, err := events.ConnectNATS(cfg.NATSURL, logger)
		if err != nil {
			logger.Fatal("nats connection failed", zap.Error(err))
		}
		defer natsPub.Close()
		publisher = natsPub
	}

	wheelCache := cache.NewWheelCache(cfg.WheelCacheTTL, func(ctx context.Context) ([]models.WheelSegment, error) {
		segments, err := store.LoadWheel(ctx)
		if err != nil || segments != nil {
			return segments, err
		}
		return config.LoadWheel(cfg.WheelConfigPath)
	})
	if _, err := wheelCache.Get(ctx); err != nil {
		logger.Fatal("wheel config invalid", zap.Error(err))
	}

	testCode := ""
	if cfg.DemoMode {
		testCode = cfg.OTP.TestCode
		logger.Warn("demo mode enabled, test otp code is accepted")
	}
	clk := clock.System{}
	jwtMgr := auth.NewManager(cfg.JWTSecret, cfg.JWTIssuer, cfg.SessionTTL)

	otpSvc := otpauth.NewService(
		store,
		otpauth.NewCodeStore(rdb, "taoo:otp:"),
		otpcode.NewIssuer(cfg.OTP.Secret, cfg.OTP.TTL, testCode),
		otpauth.LogSender{Logger: logger},
		publisher,
		clk,
		otpauth.Config{TTL: cfg.OTP.TTL, ResendCooldown: cfg.OTP.ResendCooldown},
		logger,
	)
	var analyzer receipt.Analyzer = receipt.NewSimulatedAnalyzer(cfg.Receipt.SimulatedFor, nil)
	if cfg.Receipt.URL != "" {
		analyzer = receipt.NewRemoteAnalyzer(cfg.Receipt.URL, cfg.Receipt.Token, cfg.Receipt.Timeout)
	} else {
		logger.Warn("RECEIPT_OCR_URL not set, receipt totals are simulated")
	}
	rewardSvc := rewards.NewService(rewards.Deps{
		Store:     store,
		Wheel:     wheelCache,
		Engine:    lottery.NewEngine(),
		Gate:      lottery.NewGate(clk, cfg.SpinLocation),
		Analyzer:  analyzer,
		Catalog:   catalog.Default(),
		Publisher: publisher,
		Logger:    logger,
	})

	sweeper := scheduler.NewSweeper(cfg.SweepInterval, logger, otpSvc, rewardSvc)
	sweeper.Start(ctx)
	defer sweeper.Stop()

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(middleware.Recovery(logger), middleware.RequestLogger(logger), middleware.CORS(cfg.CORSOrigins))
	r.MaxMultipartMemory = 8 << 20

	handler := handlers.NewHandler(handlers.Deps{
		OTP:     otpSvc,
		Rewards: rewardSvc,
		JWT:     jwtMgr,
		Wheels:  store,
		Cache:   wheelCache,
		Env:     adminsvc.NewEnvService(cfg.EnvFilePath),
		DB:      store,
		Admin:   handlers.AdminCredentials{Password: cfg.AdminPassword, TOTPSecret: cfg.AdminTOTPSecret},
		Logger:  logger,
	})
	handlers.RegisterRoutes(r, handler, jwtMgr, handlers.RouteOptions{
		AdminIPs:    cfg.AdminAllowedIPs,
		SendLimiter: middleware.NewRateLimiter(cfg.OTP.SendRatePerMinute),
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("port", cfg.HTTPPort), zap.Bool("admin", cfg.AdminEnabled()))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("server stopped")
}
