package build

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/shaiso/Apparat/internal/domain"
	"github.com/shaiso/Apparat/internal/mq"
	"github.com/shaiso/Apparat/internal/remote"
	"github.com/shaiso/Apparat/internal/repo"
	"github.com/shaiso/Apparat/internal/telemetry"
)

// ProjectStore — персистентное хранилище записей проектов.
// Find возвращает repo.ErrNotFound для отсутствующего ключа.
type ProjectStore interface {
	Find(ctx context.Context, user, project, uid string) (*domain.Record, error)
	Upsert(ctx context.Context, user, project, uid string, data any) error
	Remove(ctx context.Context, user, project, uid string) error
}

// BuildService — удалённый сервис сборки.
type BuildService interface {
	Me(ctx context.Context, token string) (*remote.Account, error)
	Status(ctx context.Context, token string, appID int64) (*domain.StatusReport, error)
	Create(ctx context.Context, token, archivePath string, opts remote.CreateOptions) (*domain.StatusReport, error)
	Delete(ctx context.Context, token string, appID int64) error
}

// TaskPublisher — постановка задач и уведомлений в брокер.
// Публикации best-effort, ошибок не возвращают.
type TaskPublisher interface {
	PublishCheck(ctx context.Context, env mq.TaskEnvelope)
	PublishRemoved(ctx context.Context, env mq.RemovedEnvelope)
}

// Params — параметры сборки из запроса пользователя.
type Params struct {
	Private  bool                         `json:"private"`
	Debug    bool                         `json:"debug"`
	Hydrates bool                         `json:"hydrates"`
	Keys     map[string]remote.SigningKey `json:"keys,omitempty"`
}

// Orchestrator — путь отправки проекта на сборку:
// архив → загрузка → запись статуса → первая задача опроса.
type Orchestrator struct {
	store     ProjectStore
	service   BuildService
	publisher TaskPublisher
	paths     Paths
	skeleton  string
	logger    *slog.Logger
}

// Config — конфигурация Orchestrator.
type Config struct {
	Store     ProjectStore
	Service   BuildService
	Publisher TaskPublisher

	// Paths — шаблоны путей (опционально; по умолчанию DefaultPaths).
	Paths Paths

	// Skeleton — tar со скелетом нового приложения для Init.
	Skeleton string

	// Logger — логгер (опционально).
	Logger *slog.Logger
}

// New создаёт новый Orchestrator.
func New(cfg Config) *Orchestrator {
	paths := cfg.Paths
	if paths.ProjectTemplate == "" {
		paths = DefaultPaths()
	}

	skeleton := cfg.Skeleton
	if skeleton == "" {
		skeleton = os.Getenv("APPARAT_SKELETON")
	}
	if skeleton == "" {
		skeleton = "/usr/share/apparat/skeleton.tar"
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Orchestrator{
		store:     cfg.Store,
		service:   cfg.Service,
		publisher: cfg.Publisher,
		paths:     paths,
		skeleton:  skeleton,
		logger:    logger,
	}
}

// Build отправляет проект на сборку.
//
// Результат наблюдается через хранилище: успешная отправка кладёт
// первый отчёт, любой сбой конвейера — запись {error}. Сбой также
// возвращается вызывающему (маршрутному слою).
//
// Повторная сборка заменяет приложение целиком (delete-then-create):
// двух живых приложений на один ключ проекта не бывает.
func (o *Orchestrator) Build(ctx context.Context, user, project, uid, key string, params Params) error {
	logger := telemetry.WithProject(o.logger, user, project, uid)

	dir := o.paths.Project(user, project)
	if _, err := os.Stat(dir); err != nil {
		return ErrProjectNotFound
	}

	archive := o.paths.TmpArchive()
	// Временный архив удаляется на любом исходе.
	defer os.Remove(archive)

	if err := Pack(dir, archive); err != nil {
		return o.fail(ctx, logger, user, project, uid, err)
	}

	// Сбой удаления старого приложения глотается намеренно: сервис
	// ненадёжно поддерживает обновление на месте, и блокировать
	// пересборку из-за потерянного app id нельзя.
	if rec, err := o.store.Find(ctx, user, project, uid); err == nil {
		if appID := rec.AppID(); appID != 0 {
			if derr := o.service.Delete(ctx, key, appID); derr != nil {
				logger.Warn("delete previous app failed", "app_id", appID, "error", remote.Normalize(derr))
			}
		}
	}

	opts := remote.CreateOptions{
		Title:    project,
		Private:  params.Private,
		Debug:    params.Debug,
		Hydrates: params.Hydrates,
		Keys:     params.Keys,
	}

	report, err := o.service.Create(ctx, key, archive, opts)
	if err != nil {
		return o.fail(ctx, logger, user, project, uid, err)
	}

	report.Normalize()
	if err := o.store.Upsert(ctx, user, project, uid, report); err != nil {
		telemetry.Builds.WithLabelValues("failed").Inc()
		return fmt.Errorf("persist report: %w", err)
	}

	if !report.HasError() {
		o.publisher.PublishCheck(ctx, mq.TaskEnvelope{
			User:    user,
			Project: project,
			UID:     uid,
			Key:     key,
		})
	}

	telemetry.Builds.WithLabelValues("ok").Inc()
	logger.Info("build submitted", "app_id", report.ID)
	return nil
}

// fail зеркалирует сбой конвейера в хранилище и возвращает его
// вызывающему: запрос статуса увидит ту же ошибку, что и отправитель.
func (o *Orchestrator) fail(ctx context.Context, logger *slog.Logger, user, project, uid string, err error) error {
	msg := remote.Normalize(err)

	if uerr := o.store.Upsert(ctx, user, project, uid, domain.Failure{Error: msg}); uerr != nil {
		logger.Error("persist failure record", "error", uerr)
	}

	telemetry.Builds.WithLabelValues("failed").Inc()
	logger.Warn("build failed", "error", msg)
	return err
}

// Info возвращает сохранённую запись проекта.
func (o *Orchestrator) Info(ctx context.Context, user, project, uid string) (*domain.Record, error) {
	return o.store.Find(ctx, user, project, uid)
}

// Remove удаляет запись проекта и рассылает уведомление, чтобы
// остальные экземпляры сбросили свои записи. Удаление отсутствующей
// записи — no-op.
func (o *Orchestrator) Remove(ctx context.Context, user, project, uid string) error {
	if err := o.store.Remove(ctx, user, project, uid); err != nil && !errors.Is(err, repo.ErrNotFound) {
		return err
	}

	o.publisher.PublishRemoved(ctx, mq.RemovedEnvelope{
		User:    user,
		Project: project,
		UID:     uid,
	})

	return nil
}

// Me возвращает учётную запись владельца токена.
func (o *Orchestrator) Me(ctx context.Context, key string) (*remote.Account, error) {
	return o.service.Me(ctx, key)
}

// Init разворачивает скелет нового приложения в каталог проекта.
func (o *Orchestrator) Init(ctx context.Context, user, project string) error {
	dir := o.paths.Project(user, project)
	if _, err := os.Stat(dir); err == nil {
		return ErrProjectExists
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create project dir: %w", err)
	}
	if err := Unpack(o.skeleton, dir); err != nil {
		return fmt.Errorf("unpack skeleton: %w", err)
	}

	telemetry.WithProject(o.logger, user, project, "").Info("project initialized")
	return nil
}
