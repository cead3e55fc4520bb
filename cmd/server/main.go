package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc/health"

	"taskhub/internal/auth"
	"taskhub/internal/config"
	"taskhub/internal/crypto"
	taskhubgrpc "taskhub/internal/grpc"
	internalhttp "taskhub/internal/http"
	"taskhub/internal/identity"
	"taskhub/internal/jobs"
	"taskhub/internal/logging"
	"taskhub/internal/repository"
	"taskhub/internal/repository/memory"
	"taskhub/internal/repository/mongostore"
	"taskhub/internal/repository/postgres"
	"taskhub/internal/repository/redisstore"
	"taskhub/internal/tasks"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.New("taskhub", "info").WithError(err).Fatal("config load failed")
	}
	log := logging.New("taskhub", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg, log)
	if err != nil {
		log.WithError(err).WithField("driver", cfg.StoreDriver).Fatal("store connection failed")
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.WithError(err).Warn("store close error")
		}
	}()
	log.WithField("driver", cfg.StoreDriver).Info("store ready")

	signer, err := auth.NewSigner(cfg.JWTSecret, cfg.JWTIssuer, cfg.SessionTokenTTL)
	if err != nil {
		log.WithError(err).Fatal("token signer init failed")
	}
	identitySvc := identity.NewService(store, crypto.NewBcryptHasher(cfg.BcryptCost), signer, log)
	taskSvc := tasks.NewService(store, log)

	if cfg.BootstrapAdmin() {
		admin, err := identitySvc.EnsureAdmin(ctx, identity.RegisterInput{
			Username: cfg.AdminUsername,
			Email:    cfg.AdminEmail,
			Password: cfg.AdminPassword,
		})
		if err != nil {
			log.WithError(err).Fatal("admin bootstrap failed")
		}
		log.WithField("account_id", admin.ID).Info("admin account ready")
	}

	server := internalhttp.NewServer(cfg, identitySvc, taskSvc, store, log)
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Infof("taskhub http listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("http server error")
		}
	}()

	var stopGRPC func()
	if cfg.GRPCAddr != "" {
		healthServer := health.NewServer()
		grpcServer, err := taskhubgrpc.NewServer(cfg.ServiceAuth, healthServer)
		if err != nil {
			log.WithError(err).Fatal("grpc server init failed")
		}
		jobs.StartHealthProbe(ctx, cfg.HealthProbeInterval, cfg.StoreTimeout, store, healthServer, taskhubgrpc.ServiceName, log)

		go func() {
			listener, err := net.Listen("tcp", cfg.GRPCAddr)
			if err != nil {
				log.WithError(err).Fatal("grpc listen error")
			}
			log.Infof("taskhub grpc listening on %s", cfg.GRPCAddr)
			if err := grpcServer.Serve(listener); err != nil {
				log.WithError(err).Fatal("grpc server error")
			}
		}()
		stopGRPC = func() {
			healthServer.Shutdown()
			grpcServer.GracefulStop()
		}
	}

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("shutdown error")
	}
	if stopGRPC != nil {
		stopGRPC()
	}
	log.Info("taskhub stopped")
}

func openStore(ctx context.Context, cfg config.Config, log *logrus.Entry) (repository.Store, error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		store := postgres.NewStore(pool)
		if err := store.Migrate(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		return store, nil

	case config.DriverMongo:
		return mongostore.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase, cfg.StoreTimeout)

	case config.DriverRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, cfg.StoreTimeout)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		return redisstore.NewStore(client, redisstore.DefaultPrefix), nil

	case config.DriverMemory:
		log.Warn("memory store selected, data is lost on restart")
		return memory.NewStore(), nil
	}
	return nil, fmt.Errorf("unsupported store driver %q", cfg.StoreDriver)
}
