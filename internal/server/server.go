package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/SinaHo/phone-auth-backend/api/v1/authrpc"
	"github.com/SinaHo/phone-auth-backend/internal/config"
	"github.com/SinaHo/phone-auth-backend/internal/database"
	"github.com/SinaHo/phone-auth-backend/internal/delivery"
	"github.com/SinaHo/phone-auth-backend/internal/handler"
	"github.com/SinaHo/phone-auth-backend/internal/metrics"
	"github.com/SinaHo/phone-auth-backend/internal/middleware"
	"github.com/SinaHo/phone-auth-backend/internal/repository"
	"github.com/SinaHo/phone-auth-backend/internal/service"
	"github.com/SinaHo/phone-auth-backend/internal/token"
)

type AppServer struct {
	cfg        *config.Config
	logger     *zap.Logger
	db         *sqlx.DB
	rdb        *redis.Client
	dispatcher *delivery.Dispatcher
	health     *health.Server
	httpServer *http.Server

	GRPC *grpc.Server
	HTTP *echo.Echo
}

func NewAppServer(cfg *config.Config, logger *zap.Logger) (*AppServer, error) {
	sugar := logger.Sugar()

	db, err := database.Open(cfg, sugar)
	if err != nil {
		sugar.Errorf("failed to open database: %v", err)
		return nil, err
	}

	// Redis
	rd := cfg.Redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     rd.Addr,
		Password: rd.Password,
		DB:       rd.DB,
	})
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		sugar.Errorf("failed to ping redis: %v", err)
		db.Close()
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	dispatcher := delivery.NewDispatcher(newSender(cfg.Delivery, sugar), sugar, m, cfg.Delivery.Timeout)
	issuer := token.NewIssuer([]byte(cfg.JWT.SigningKey), cfg.JWT.Issuer, cfg.JWT.AccessTTL, cfg.JWT.RefreshTTL)

	// Repository → Service → Handler
	userRepo := repository.NewUserRepository(db)
	codeRepo := repository.NewCodeRepository(rdb, cfg.Redis.KeyPrefix, cfg.Auth.MaxVerifyAttempts)
	authSvc := service.NewAuthService(userRepo, codeRepo, issuer, dispatcher, cfg.Auth, sugar, m)
	profileSvc := service.NewProfileService(userRepo, codeRepo, sugar, m)

	// Logging interceptor & Auth interceptor
	authInt := middleware.AuthInterceptor(sugar, issuer, publicMethods())
	logInt := middleware.UnaryLoggingInterceptor(sugar, m)

	grpcServer := grpc.NewServer(
		grpc.ChainUnaryInterceptor(logInt, authInt),
	)
	authrpc.RegisterAuthenticationServer(grpcServer, handler.NewAuthHandler(authSvc, profileSvc, sugar))

	healthSrv := health.NewServer()
	healthSrv.SetServingStatus(authrpc.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthSrv)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Pre(echomw.RemoveTrailingSlash())
	e.Use(echomw.Recover())
	e.Use(middleware.RequestID)
	e.Use(m.Middleware())
	e.Use(middleware.RequestLogger(sugar))

	handler.NewUserHandler(authSvc, profileSvc, sugar).Register(e, middleware.JWTAuth(sugar, issuer))
	e.GET("/health", handler.NewHealthHandler(sugar, map[string]handler.HealthCheck{
		"db":    db.PingContext,
		"redis": func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
	}).Health)
	e.GET("/metrics", echo.WrapHandler(m.Handler()))

	sugar.Infof("AppServer initialized successfully")
	return &AppServer{
		cfg:        cfg,
		logger:     logger,
		db:         db,
		rdb:        rdb,
		dispatcher: dispatcher,
		health:     healthSrv,
		httpServer: &http.Server{
			Handler:           e,
			ReadHeaderTimeout: 10 * time.Second,
		},
		GRPC: grpcServer,
		HTTP: e,
	}, nil
}

func newSender(cfg config.DeliveryConfig, logger *zap.SugaredLogger) delivery.Sender {
	if cfg.Mode == "http" {
		return delivery.NewHTTPSender(cfg.GatewayURL, cfg.APIKey, cfg.Timeout)
	}
	return delivery.NewLogSender(logger)
}

func publicMethods() map[string]bool {
	public := map[string]bool{
		"/grpc.health.v1.Health/Check": true,
	}
	for method := range authrpc.PublicMethods {
		public[method] = true
	}
	return public
}

// Run listens on the configured ports and serves until either server stops.
func (a *AppServer) Run() error {
	sugar := a.logger.Sugar()

	grpcAddr := fmt.Sprintf(":%d", a.cfg.Server.GRPCPort)
	grpcLis, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		sugar.Errorf("listen error on %s: %v", grpcAddr, err)
		return fmt.Errorf("listen: %w", err)
	}
	httpAddr := fmt.Sprintf(":%d", a.cfg.Server.HTTPPort)
	httpLis, err := net.Listen("tcp", httpAddr)
	if err != nil {
		grpcLis.Close()
		sugar.Errorf("listen error on %s: %v", httpAddr, err)
		return fmt.Errorf("listen: %w", err)
	}
	return a.Serve(grpcLis, httpLis)
}

// Serve runs both servers on the given listeners. It returns nil after
// GracefulStop.
func (a *AppServer) Serve(grpcLis, httpLis net.Listener) error {
	sugar := a.logger.Sugar()
	sugar.Infof("gRPC server listening on %s", grpcLis.Addr())
	sugar.Infof("HTTP server listening on %s", httpLis.Addr())

	errCh := make(chan error, 2)
	go func() {
		errCh <- a.GRPC.Serve(grpcLis)
	}()
	go func() {
		err := a.httpServer.Serve(httpLis)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()
	return <-errCh
}

func (a *AppServer) GracefulStop() {
	sugar := a.logger.Sugar()
	sugar.Info("Shutting down servers gracefully")

	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	a.health.Shutdown()
	if err := a.httpServer.Shutdown(ctx); err != nil {
		sugar.Warnw("HTTP shutdown incomplete", "error", err)
	}
	a.GRPC.GracefulStop()
	if err := a.dispatcher.Wait(ctx); err != nil {
		sugar.Warnw("pending code deliveries abandoned", "error", err)
	}

	a.db.Close()
	a.rdb.Close()
	sugar.Info("Resources closed, server stopped")
}
