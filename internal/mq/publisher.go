package mq

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/Apparat/internal/telemetry"
)

// DefaultPublishWait — предел ожидания Ready-подключения при публикации.
const DefaultPublishWait = 30 * time.Second

// Publisher публикует сообщения в RabbitMQ.
//
// Все публикации best-effort (fire-and-forget): вызывающий не блокируется
// на доставке и не получает ошибку. Если подключение не станет Ready за
// отведённое время, сообщение теряется — следующая проверка статуса,
// инициированная пользователем, перезапустит цикл опроса.
type Publisher struct {
	conn   *Connection
	topo   Topology
	logger *slog.Logger
	wait   time.Duration
}

// NewPublisher создаёт новый Publisher.
func NewPublisher(conn *Connection, topo Topology, logger *slog.Logger) *Publisher {
	return &Publisher{
		conn:   conn,
		topo:   topo,
		logger: logger,
		wait:   DefaultPublishWait,
	}
}

// PublishCheck ставит задачу проверки статуса в auto-retry обменник.
func (p *Publisher) PublishCheck(ctx context.Context, env TaskEnvelope) {
	body, err := env.Encode()
	if err != nil {
		p.logger.Error("encode task envelope", "error", err)
		return
	}

	p.publish(ctx, p.topo.Exchange, p.topo.RoutingKey, body, true,
		"user", env.User, "project", env.Project, "uid", env.UID)
}

// PublishRemoved рассылает уведомление об удалении проекта
// всем подписчикам fanout-обменника.
func (p *Publisher) PublishRemoved(ctx context.Context, env RemovedEnvelope) {
	body, err := env.Encode()
	if err != nil {
		p.logger.Error("encode removed envelope", "error", err)
		return
	}

	p.publish(ctx, p.topo.RemovedExchange, "", body, false,
		"user", env.User, "project", env.Project, "uid", env.UID)
}

// publish ждёт актуальную Ready-сессию и публикует ровно один раз.
// Сессия не кэшируется между публикациями: после разрыва старый хэндл
// мёртв, на каждой публикации берётся текущий. Повторов нет — сообщение
// либо уходит, либо теряется, но никогда не дублируется.
func (p *Publisher) publish(ctx context.Context, exchange, key string, body []byte, persistent bool, logAttrs ...any) {
	ctx, cancel := context.WithTimeout(ctx, p.wait)
	defer cancel()

	sess, err := p.conn.AwaitReady(ctx, 0)
	if err != nil {
		telemetry.MQPublishDrops.Inc()
		p.logger.Warn("publish dropped, broker unavailable",
			append([]any{"exchange", exchange, "error", err}, logAttrs...)...)
		return
	}

	mode := amqp.Transient
	if persistent {
		mode = amqp.Persistent
	}

	err = sess.PublishCh.PublishWithContext(
		ctx,
		exchange,
		key,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  ContentType,
			DeliveryMode: mode,
			MessageId:    uuid.New().String(),
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err != nil {
		telemetry.MQPublishDrops.Inc()
		p.logger.Warn("publish failed, message dropped",
			append([]any{"exchange", exchange, "generation", sess.Gen, "error", err}, logAttrs...)...)
		return
	}

	telemetry.MQPublishes.Inc()
	p.logger.Debug("published message",
		append([]any{"exchange", exchange, "routing_key", key}, logAttrs...)...)
}
