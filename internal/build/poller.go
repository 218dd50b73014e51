package build

import (
	"context"
	"errors"
	"log/slog"

	"github.com/shaiso/Apparat/internal/domain"
	"github.com/shaiso/Apparat/internal/mq"
	"github.com/shaiso/Apparat/internal/remote"
	"github.com/shaiso/Apparat/internal/repo"
	"github.com/shaiso/Apparat/internal/telemetry"
)

// Poller — машина опроса статусов сборки.
//
// Обрабатывает задачи рабочей очереди (HandleCheck) и уведомления
// об удалении (HandleRemoved). Цикл опроса самоподдерживающийся:
// задача порождает следующую, только когда её собственная проверка
// завершилась и сборка ещё идёт — больше одной проверки на проект
// одновременно в полёте не бывает.
type Poller struct {
	store     ProjectStore
	service   BuildService
	publisher TaskPublisher
	logger    *slog.Logger
}

// NewPoller создаёт новый Poller.
func NewPoller(store ProjectStore, service BuildService, publisher TaskPublisher, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}

	return &Poller{
		store:     store,
		service:   service,
		publisher: publisher,
		logger:    logger,
	}
}

// HandleCheck обрабатывает одну задачу проверки статуса.
//
// Любой исход завершается подтверждением сообщения: сбой одной задачи
// не должен ронять потребителя или стопорить очередь для остальных.
// Сбои фиксируются в хранилище записью {error}, чтобы их было видно
// по запросу статуса.
func (p *Poller) HandleCheck(ctx context.Context, d *mq.Delivery) error {
	env, err := mq.DecodeTask(d.Body)
	if err != nil {
		// Неразборчивое сообщение отбрасывается: redelivery его не починит.
		return err
	}

	logger := telemetry.WithProject(p.logger, env.User, env.Project, env.UID)

	rec, err := p.store.Find(ctx, env.User, env.Project, env.UID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			// Записи нет — эта задача не завершится успехом никогда.
			telemetry.Checks.WithLabelValues("not_found").Inc()
			logger.Debug("check dropped, record not found")
			return nil
		}
		// Икота хранилища не должна крутить redelivery бесконечно.
		telemetry.Checks.WithLabelValues("failed").Inc()
		logger.Error("check failed, store unavailable", "error", err)
		return nil
	}

	appID := rec.AppID()
	if appID == 0 {
		telemetry.Checks.WithLabelValues("not_found").Inc()
		logger.Debug("check dropped, record has no app id")
		return nil
	}
	logger = telemetry.WithApp(logger, appID)

	report, err := p.service.Status(ctx, env.Key, appID)
	if err != nil {
		msg := remote.Normalize(err)
		if uerr := p.store.Upsert(ctx, env.User, env.Project, env.UID, domain.Failure{Error: msg}); uerr != nil {
			logger.Error("persist check failure", "error", uerr)
		}
		telemetry.Checks.WithLabelValues("failed").Inc()
		logger.Warn("status fetch failed", "error", msg)
		return nil
	}

	report.Normalize()
	if err := p.store.Upsert(ctx, env.User, env.Project, env.UID, report); err != nil {
		telemetry.Checks.WithLabelValues("failed").Inc()
		logger.Error("persist report failed", "error", err)
		return nil
	}

	if next := NextCheck(env, report); next != nil {
		p.publisher.PublishCheck(ctx, *next)
		telemetry.Checks.WithLabelValues("continued").Inc()
		logger.Debug("build still pending, recheck scheduled")
		return nil
	}

	telemetry.Checks.WithLabelValues("finished").Inc()
	logger.Info("build finished")
	return nil
}

// NextCheck решает, продолжать ли цепочку опроса.
//
// Чистая функция: возвращает следующую задачу, пока хоть одна
// платформа в состоянии pending, иначе nil. Завершение цикла
// неявное — отсутствие следующего сообщения, а не отдельный статус.
func NextCheck(env mq.TaskEnvelope, report *domain.StatusReport) *mq.TaskEnvelope {
	if report == nil || !report.HasPending() {
		return nil
	}

	next := env
	return &next
}

// HandleRemoved обрабатывает уведомление об удалении проекта.
// Удаление отсутствующей записи — no-op: уведомления доставляются
// всем экземплярам, включая тот, что удалил запись сам.
func (p *Poller) HandleRemoved(ctx context.Context, d *mq.Delivery) error {
	env, err := mq.DecodeRemoved(d.Body)
	if err != nil {
		return err
	}

	logger := telemetry.WithProject(p.logger, env.User, env.Project, env.UID)

	err = p.store.Remove(ctx, env.User, env.Project, env.UID)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		logger.Error("remove record failed", "error", err)
		return nil
	}

	logger.Debug("record removed")
	return nil
}
