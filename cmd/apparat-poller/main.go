// Apparat Poller — потребитель задач проверки статуса сборки.
//
// Poller:
//   - Получает задачи из рабочей очереди RabbitMQ
//   - Запрашивает текущий статус у сервиса сборки
//   - Сохраняет отчёт и ставит следующую проверку, пока сборка идёт
//   - Слушает fanout-уведомления об удалении проектов
//
// Экземпляры масштабируются горизонтально: очередь рабочая,
// конкурирующие потребители.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/Apparat/internal/build"
	"github.com/shaiso/Apparat/internal/mq"
	"github.com/shaiso/Apparat/internal/remote"
	"github.com/shaiso/Apparat/internal/repo"
	"github.com/shaiso/Apparat/internal/telemetry"
)

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger()
	logger.Info("starting apparat-poller")

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

	// RabbitMQ
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

	// Poller
	poller := build.NewPoller(projectRepo, service, publisher, logger)

	// Потребитель рабочей очереди: машина опроса статусов
	checkConsumer := mq.NewConsumer(mqConn, topo, logger, mq.ConsumerConfig{
		Declare: mq.WorkQueue,
		Handler: poller.HandleCheck,
	})

	// Побочный канал: уведомления об удалении проектов
	removedConsumer := mq.NewConsumer(mqConn, topo, logger, mq.ConsumerConfig{
		Declare:  mq.RemovedQueue,
		Handler:  poller.HandleRemoved,
		Prefetch: 1,
	})

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := checkConsumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("check consumer error", "error", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := removedConsumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("removed consumer error", "error", err)
		}
	}()

	// HTTP mux: /healthz + /metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	port := ":8082"
	if v := os.Getenv("POLLER_PORT"); v != "" {
		port = ":" + v
	}

	go func() {
		logger.Info("listening", "addr", port)
		if err := http.ListenAndServe(port, mux); err != nil {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	// Ожидаем сигнал завершения
	<-ctx.Done()

	// Останавливаем потребителей; неподтверждённые сообщения брокер
	// доставит следующему живому экземпляру.
	wg.Wait()
	logger.Info("apparat-poller stopped")
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
