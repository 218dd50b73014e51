// Package mq предоставляет инфраструктуру для работы с RabbitMQ.
//
// Структура:
//   - connection.go — жизненный цикл подключения (state machine, фиксированная
//     пауза переподключения, поколения сессий)
//   - topology.go   — объявление обменников, очереди, привязок
//   - envelope.go   — формат сообщений (TaskEnvelope, RemovedEnvelope)
//   - publisher.go  — best-effort публикация
//   - consumer.go   — потребление с prefetch и ack после обработки
//
// Топология:
//   - auto-retry обменник (topic) → долговечная рабочая очередь задач
//     проверки статуса; ключ маршрутизации '#'
//   - fanout обменник уведомлений об удалении → эксклюзивные очереди
//     подписчиков (не долговечные, auto-delete)
//
// Гарантии доставки: at-least-once. Сообщение подтверждается после
// обработки; упавший до ack процесс получит повторную доставку.
// Обработчики обязаны быть безопасны к повторному запуску.
package mq
