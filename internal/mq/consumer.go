package mq

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Handler обрабатывает одно доставленное сообщение.
//
// Возвращённая ошибка логируется, но сообщение подтверждается в любом
// случае: повторная доставка задаче с неисправимой ошибкой не помогает,
// а зацикленный redelivery остановил бы очередь для остальных.
type Handler func(ctx context.Context, d *Delivery) error

// Delivery — доставленное сообщение.
type Delivery struct {
	// Body — тело сообщения.
	Body []byte

	// Redelivered — сообщение уже доставлялось (процесс упал до ack).
	Redelivered bool

	raw amqp.Delivery
}

// DeclareFunc готовит очередь на канале сессии и возвращает её имя.
// Вызывается заново на каждом подключении.
type DeclareFunc func(ch *amqp.Channel, t Topology) (string, error)

// WorkQueue — рабочая очередь задач проверки статуса.
// Сама очередь объявлена топологией; здесь только имя.
func WorkQueue(ch *amqp.Channel, t Topology) (string, error) {
	return t.Queue, nil
}

// RemovedQueue объявляет эксклюзивную очередь уведомлений об удалении
// и привязывает её к fanout-обменнику. Очередь не долговечна и
// удаляется при отключении потребителя: повторное уведомление для
// уже отсутствующей записи — no-op, терять их не страшно.
func RemovedQueue(ch *amqp.Channel, t Topology) (string, error) {
	q, err := ch.QueueDeclare(
		"",    // name (server-generated)
		false, // durable
		true,  // delete when unused
		true,  // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return "", fmt.Errorf("declare removed queue: %w", err)
	}

	if err := ch.QueueBind(q.Name, "", t.RemovedExchange, false, nil); err != nil {
		return "", fmt.Errorf("bind removed queue: %w", err)
	}

	return q.Name, nil
}

// ConsumerConfig — конфигурация Consumer.
type ConsumerConfig struct {
	// Declare готовит очередь на свежем подключении.
	Declare DeclareFunc

	// Handler — обработчик сообщений.
	Handler Handler

	// Prefetch — потолок одновременно неподтверждённых доставок.
	// 0 — берётся из топологии.
	Prefetch int
}

// Consumer потребляет сообщения из очереди, переживая разрывы
// подключения. Каждая доставка обрабатывается в своей горутине;
// потолок одновременной работы задаёт prefetch — брокер не выдаст
// больше неподтверждённых сообщений.
type Consumer struct {
	conn     *Connection
	topo     Topology
	logger   *slog.Logger
	declare  DeclareFunc
	handler  Handler
	prefetch int
}

// NewConsumer создаёт новый Consumer.
func NewConsumer(conn *Connection, topo Topology, logger *slog.Logger, cfg ConsumerConfig) *Consumer {
	prefetch := cfg.Prefetch
	if prefetch <= 0 {
		prefetch = topo.Prefetch
	}
	if prefetch <= 0 {
		prefetch = 1
	}

	return &Consumer{
		conn:     conn,
		topo:     topo,
		logger:   logger,
		declare:  cfg.Declare,
		handler:  cfg.Handler,
		prefetch: prefetch,
	}
}

// Start блокируется до отмены контекста или закрытия подключения.
//
// При разрыве подключения Consumer ждёт сессию с поколением строго
// больше умершей — хэндлы не переиспользуются через реконнект. Если
// закрылся только канал потребителя, а подключение живо, канал
// поднимается заново на той же сессии. Неподтверждённые на момент
// остановки сообщения брокер доставит следующему живому потребителю:
// это основной механизм восстановления после падения.
func (c *Consumer) Start(ctx context.Context) error {
	var lastGen uint64
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		sess, err := c.conn.AwaitReady(ctx, lastGen)
		if err != nil {
			return err
		}
		lastGen = sess.Gen

		for {
			ch, deliveries, queue, err := c.setup(sess)
			if err != nil {
				c.logger.Error("consumer setup failed", "generation", sess.Gen, "error", err)
				break
			}

			c.logger.Info("consumer started", "queue", queue, "prefetch", c.prefetch, "generation", sess.Gen)

			c.drain(ctx, deliveries, &wg)
			ch.Close()
			if ctx.Err() != nil {
				return ctx.Err()
			}

			if !c.resumable(sess) {
				c.logger.Warn("deliveries channel closed, waiting for reconnect", "queue", queue, "generation", sess.Gen)
				break
			}

			c.logger.Warn("consumer channel closed, reopening on the same connection", "queue", queue, "generation", sess.Gen)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
		}
	}
}

// resumable сообщает, что подключение живо и сессия всё ещё текущая:
// закрылся только канал потребителя, ждать новое поколение не нужно.
func (c *Consumer) resumable(sess *Session) bool {
	return c.conn.Session() == sess
}

// setup открывает канал потребителя и готовит очередь, prefetch и подписку.
//
// Канал у каждого потребителя собственный: prefetch действует на уровне
// канала, и общий канал двух потребителей перетирал бы qos друг друга;
// ошибка уровня канала тоже остаётся локальной для одного потребителя.
func (c *Consumer) setup(sess *Session) (*amqp.Channel, <-chan amqp.Delivery, string, error) {
	ch, err := sess.Channel()
	if err != nil {
		return nil, nil, "", fmt.Errorf("open consumer channel: %w", err)
	}

	queue, err := c.declare(ch, c.topo)
	if err != nil {
		ch.Close()
		return nil, nil, "", err
	}

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		ch.Close()
		return nil, nil, "", fmt.Errorf("set qos: %w", err)
	}

	deliveries, err := ch.Consume(
		queue, // queue
		"",    // consumer tag (auto-generated)
		false, // auto-ack (ack вручную, после обработки)
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		ch.Close()
		return nil, nil, "", fmt.Errorf("consume %s: %w", queue, err)
	}

	return ch, deliveries, queue, nil
}

// drain обрабатывает доставки до закрытия канала или отмены контекста.
func (c *Consumer) drain(ctx context.Context, deliveries <-chan amqp.Delivery, wg *sync.WaitGroup) {
	for {
		select {
		case <-ctx.Done():
			return

		case raw, ok := <-deliveries:
			if !ok {
				return
			}

			wg.Add(1)
			go func() {
				defer wg.Done()
				c.handle(ctx, raw)
			}()
		}
	}
}

// handle вызывает обработчик и подтверждает доставку.
//
// Обработчик получает контекст, отвязанный от сигнала остановки:
// начатая задача доводится до конца и только потом подтверждается.
// Иначе остановка процесса обрывала бы обработку посередине, а
// безусловный ack превращал бы обрыв в потерю сообщения.
//
// Подтверждение происходит строго после обработчика: процесс, упавший
// между обработкой и ack, приведёт к повторной доставке, а не к потере.
func (c *Consumer) handle(ctx context.Context, raw amqp.Delivery) {
	hctx := context.WithoutCancel(ctx)

	d := &Delivery{
		Body:        raw.Body,
		Redelivered: raw.Redelivered,
		raw:         raw,
	}

	if err := c.handler(hctx, d); err != nil {
		// Ошибка обработчика не останавливает поток сообщений:
		// сбой уже зафиксирован в хранилище, задача подтверждается.
		c.logger.Error("handler failed", "error", err, "redelivered", d.Redelivered)
	}

	if err := d.raw.Ack(false); err != nil {
		c.logger.Warn("ack failed", "error", err)
	}
}
