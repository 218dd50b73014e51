package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Метрики инфраструктуры очередей.
var (
	// MQReconnects — количество переподключений к RabbitMQ.
	MQReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "apparat_mq_reconnects_total",
		Help: "Total number of RabbitMQ reconnects",
	})

	// MQPublishes — количество опубликованных сообщений.
	MQPublishes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "apparat_mq_publishes_total",
		Help: "Total number of messages published",
	})

	// MQPublishDrops — количество потерянных публикаций (брокер недоступен).
	MQPublishDrops = promauto.NewCounter(prometheus.CounterOpts{
		Name: "apparat_mq_publish_drops_total",
		Help: "Total number of publishes dropped because the broker was unavailable",
	})
)

// Метрики предметной области.
var (
	// Checks — обработанные задачи проверки статуса, по результату.
	// result: continued | finished | not_found | failed
	Checks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "apparat_checks_total",
		Help: "Status check tasks processed, by outcome",
	}, []string{"result"})

	// Builds — запуски сборки, по результату.
	// result: ok | failed
	Builds = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "apparat_builds_total",
		Help: "Build submissions, by outcome",
	}, []string{"result"})
)
