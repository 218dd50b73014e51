// Apparat API — HTTP-слой сервиса сборки мобильных приложений.
//
// Обрабатывает запросы пользователей (me, init, info, build, remove),
// отправляет проекты на удалённую сборку и ставит первую задачу
// опроса статуса в очередь.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/Apparat/internal/api"
	"github.com/shaiso/Apparat/internal/build"
	"github.com/shaiso/Apparat/internal/mq"
	"github.com/shaiso/Apparat/internal/remote"
	"github.com/shaiso/Apparat/internal/repo"
	"github.com/shaiso/Apparat/internal/telemetry"
)

var (
	startTime = time.Now()
	reqTotal  = promauto.NewCounter(prometheus.CounterOpts{
		Name: "apparat_api_http_requests_total",
		Help: "Total HTTP requests handled by apparat_api",
	})
)

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger()
	logger.Info("starting apparat-api")

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// DB pool
	pool, err := repo.NewPool(ctx)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("database connected")

	projectRepo := repo.NewProjectRepo(pool)

	// RabbitMQ: подключение устанавливается в фоне, публикации
	// до готовности ждут (и теряются после таймаута — best-effort).
	mqURL := os.Getenv("RABBITMQ_URL")
	if mqURL == "" {
		mqURL = mq.DefaultURL()
	}
	topo := mq.TopologyFromEnv()

	mqConn := mq.NewConnection(mqURL, topo, reconnectDelay(), logger)
	defer mqConn.Close()

	publisher := mq.NewPublisher(mqConn, topo, logger)

	// Клиент сервиса сборки
	service := remote.NewClient(remote.DefaultURL())

	// Orchestrator
	orch := build.New(build.Config{
		Store:     projectRepo,
		Service:   service,
		Publisher: publisher,
		Logger:    logger,
	})

	// API handler
	handler := api.NewHandler(api.Config{
		Orchestrator: orch,
		Logger:       logger,
	})

	mux := http.NewServeMux()

	// Health и metrics
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		reqTotal.Inc()
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "ok %s", time.Since(startTime))
	})
	mux.Handle("/metrics", promhttp.Handler())

	// Регистрируем API маршруты
	handler.RegisterRoutes(mux)

	addr := ":8080"
	if v := os.Getenv("API_PORT"); v != "" {
		addr = ":" + v
	}

	server := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	// Запускаем сервер в горутине
	go func() {
		logger.Info("listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			cancel()
		}
	}()

	// Ожидаем сигнал завершения
	<-ctx.Done()
	logger.Info("shutting down")

	// Graceful shutdown с таймаутом 10 секунд
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	logger.Info("apparat-api stopped")
}

// reconnectDelay читает паузу переподключения из MQ_RECONNECT_DELAY.
func reconnectDelay() time.Duration {
	if v := os.Getenv("MQ_RECONNECT_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return mq.DefaultReconnectDelay
}
