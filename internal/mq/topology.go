package mq

import (
	"fmt"
	"os"
	"strconv"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Topology — имена и параметры топологии брокера.
//
// Имена — конфигурация, не контракт кода: переопределяются через
// окружение (TopologyFromEnv). Объявление идемпотентно и выполняется
// на каждом подключении.
type Topology struct {
	// Exchange — auto-retry обменник (topic), через который задачи
	// проверки попадают в рабочую очередь и возвращаются в неё же
	// для продолжения опроса.
	Exchange string

	// Queue — долговечная рабочая очередь задач проверки.
	Queue string

	// RoutingKey — ключ маршрутизации публикаций.
	RoutingKey string

	// RemovedExchange — fanout обменник уведомлений об удалении
	// проекта. Не долговечный: это кэш-инвалидация, не источник истины.
	RemovedExchange string

	// Prefetch — потолок одновременно неподтверждённых доставок
	// на потребителя.
	Prefetch int
}

// DefaultTopology возвращает топологию по умолчанию.
func DefaultTopology() Topology {
	return Topology{
		Exchange:        "apparat.builds",
		Queue:           "builds.check",
		RoutingKey:      "#",
		RemovedExchange: "apparat.builds.removed",
		Prefetch:        30,
	}
}

// TopologyFromEnv возвращает топологию с переопределениями из окружения:
// MQ_EXCHANGE, MQ_QUEUE, MQ_REMOVED_EXCHANGE, MQ_PREFETCH.
func TopologyFromEnv() Topology {
	t := DefaultTopology()

	if v := os.Getenv("MQ_EXCHANGE"); v != "" {
		t.Exchange = v
	}
	if v := os.Getenv("MQ_QUEUE"); v != "" {
		t.Queue = v
	}
	if v := os.Getenv("MQ_REMOVED_EXCHANGE"); v != "" {
		t.RemovedExchange = v
	}
	if v := os.Getenv("MQ_PREFETCH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			t.Prefetch = n
		}
	}

	return t
}

// declareTopology объявляет обменники, рабочую очередь и привязку.
func declareTopology(ch *amqp.Channel, t Topology) error {
	err := ch.ExchangeDeclare(
		t.Exchange, // name
		"topic",    // type
		true,       // durable
		false,      // auto-deleted
		false,      // internal
		false,      // no-wait
		nil,        // arguments
	)
	if err != nil {
		return fmt.Errorf("declare exchange %s: %w", t.Exchange, err)
	}

	_, err = ch.QueueDeclare(
		t.Queue, // name
		true,    // durable
		false,   // delete when unused
		false,   // exclusive
		false,   // no-wait
		nil,     // arguments
	)
	if err != nil {
		return fmt.Errorf("declare queue %s: %w", t.Queue, err)
	}

	if err := ch.QueueBind(t.Queue, t.RoutingKey, t.Exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue %s to %s: %w", t.Queue, t.Exchange, err)
	}

	err = ch.ExchangeDeclare(
		t.RemovedExchange, // name
		"fanout",          // type
		false,             // durable
		true,              // auto-deleted
		false,             // internal
		false,             // no-wait
		nil,               // arguments
	)
	if err != nil {
		return fmt.Errorf("declare exchange %s: %w", t.RemovedExchange, err)
	}

	return nil
}
