// cmd/dispatcher/main.go
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jack139/internvl-backend/internal/backoff"
	"github.com/jack139/internvl-backend/internal/config"
	"github.com/jack139/internvl-backend/internal/dispatcher"
	etcd_infra "github.com/jack139/internvl-backend/internal/infra/etcd"
	"github.com/jack139/internvl-backend/internal/infra/internvl"
	redis_infra "github.com/jack139/internvl-backend/internal/infra/redis"
	"github.com/jack139/internvl-backend/internal/tracing"
	"github.com/jack139/internvl-backend/internal/usecase"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// 1. Parse the required startup parameters.
	queueNo, poolSize, mainDevice := parseArgs()

	// 2. Initialize logger and tracer
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	tracerShutdown, err := tracing.InitTracer("internvl-dispatcher")
	if err != nil {
		log.Fatalf("failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := tracerShutdown(context.Background()); err != nil {
			log.Printf("failed to shutdown tracer: %v", err)
		}
	}()

	// 3. Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	instanceID := uuid.New().String()
	workChannel := cfg.RequestQueuePrefix + queueNo
	log.Printf("Starting dispatcher %s, request queue NO. %s, pool size %d", instanceID, queueNo, poolSize)

	// 4. Create root context for lifecycle management
	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 5. Setup graceful shutdown
	setupGracefulShutdown(cancel)

	// 6. Construct the inference engine. A load failure is fatal: the
	// process must not start draining requests it cannot answer.
	engine, err := internvl.New(rootCtx, internvl.Config{
		Endpoint:    cfg.EngineEndpoint,
		ModelPath:   cfg.ModelPath,
		DeviceCount: cfg.DeviceCount,
		MainDevice:  mainDevice,
		Timeout:     cfg.EngineTimeout,
	}, logger)
	if err != nil {
		log.Fatalf("Failed to construct inference engine: %v", err)
	}

	// 7. Connect to the broker
	redisClient := redis_infra.NewClient(cfg.RedisAddr, cfg.RedisPassword)
	defer redisClient.Close()

	broker := redis_infra.NewBroker(redisClient, logger)
	if err := broker.Ping(rootCtx); err != nil {
		// Not fatal — the listener's reconnect loop will keep retrying.
		logger.Warn("broker not reachable at startup", "addr", cfg.RedisAddr, "error", err)
	} else {
		log.Println("Connected to redis.")
	}

	// 8. Register this instance in etcd when endpoints are configured
	if len(cfg.EtcdEndpoints) > 0 {
		etcdClient, err := etcd_infra.NewClient(cfg.EtcdEndpoints, cfg.EtcdTimeout)
		if err != nil {
			log.Fatalf("Failed to create etcd client: %v", err)
		}
		defer etcdClient.Close()

		registry := etcd_infra.NewRegistry(etcdClient, logger)
		regCtx, regCancel := context.WithTimeout(rootCtx, 5*time.Second)
		defer regCancel()
		err = registry.Register(regCtx, etcd_infra.Instance{
			ID:             instanceID,
			Channel:        workChannel,
			PoolSize:       poolSize,
			MessageTimeout: cfg.MessageTimeout.String(),
		}, int64(cfg.RegistryTTL.Seconds()))
		if err != nil {
			log.Fatalf("Failed to register dispatcher instance: %v", err)
		}

		defer func() {
			deregCtx, deregCancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer deregCancel()
			if err := registry.Deregister(deregCtx); err != nil {
				logger.Error("failed to deregister dispatcher", "error", err)
			}
		}()
	}

	// 9. Serve prometheus metrics
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{Addr: cfg.MetricsListenAddr, Handler: mux}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Metrics server failed: %v", err)
		}
	}()

	// 10. Start the dispatch pool and the channel listener
	service := usecase.NewChatService(engine, broker, logger)

	pool := dispatcher.NewPool(poolSize, logger)
	if err := pool.Start(rootCtx); err != nil {
		log.Fatalf("Failed to start dispatch pool: %v", err)
	}

	listener := dispatcher.NewListener(
		broker, service, service, pool,
		workChannel,
		backoff.NewConstant(cfg.ReconnectBackoff),
		logger,
	)

	listenerDone := make(chan struct{})
	go func() {
		listener.Run(rootCtx)
		close(listenerDone)
	}()

	// 11. Block until shutdown
	<-rootCtx.Done()
	log.Println("Shutting down dispatcher gracefully...")

	<-listenerDone

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := pool.Stop(shutdownCtx); err != nil {
		logger.Warn("dispatch pool did not drain in time", "error", err)
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("metrics server shutdown failed", "error", err)
	}

	log.Println("Dispatcher shut down.")
}

// parseArgs reads the positional startup parameters. All three are
// required; anything missing or malformed is a usage error.
func parseArgs() (queueNo string, poolSize, mainDevice int) {
	if len(os.Args) < 4 {
		usage()
	}

	queueNo = os.Args[1]

	var err error
	poolSize, err = strconv.Atoi(os.Args[2])
	if err != nil || poolSize < 1 {
		usage()
	}
	mainDevice, err = strconv.Atoi(os.Args[3])
	if err != nil || mainDevice < 0 {
		usage()
	}
	return queueNo, poolSize, mainDevice
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: dispatcher <QUEUE_NO.> <pool_size> <main_device>")
	os.Exit(2)
}

func setupGracefulShutdown(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Printf("Received signal %v. Initiating graceful shutdown...", sig)
		cancel()
	}()
}
