package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/shaiso/Apparat/internal/build"
	"github.com/shaiso/Apparat/internal/remote"
	"github.com/shaiso/Apparat/internal/repo"
)

// Handler — главный обработчик API с зависимостями.
type Handler struct {
	orch   *build.Orchestrator
	logger *slog.Logger
}

// Config — конфигурация для создания Handler.
type Config struct {
	Orchestrator *build.Orchestrator
	Logger       *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	return &Handler{
		orch:   cfg.Orchestrator,
		logger: cfg.Logger,
	}
}

// Me возвращает учётную запись владельца токена.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	account, err := h.orch.Me(r.Context(), r.PathValue("key"))
	if err != nil {
		Fail(w, remote.Normalize(err))
		return
	}
	Success(w, account)
}

// Init разворачивает скелет нового приложения.
func (h *Handler) Init(w http.ResponseWriter, r *http.Request) {
	err := h.orch.Init(r.Context(), r.PathValue("user"), r.PathValue("project"))
	if err != nil {
		if errors.Is(err, build.ErrProjectExists) {
			Fail(w, err.Error())
			return
		}
		h.logger.Error("init failed", "error", err)
		Fail(w, "init failed")
		return
	}
	Success(w, true)
}

// Info возвращает сохранённую запись проекта:
// последний отчёт о сборке либо {error}.
func (h *Handler) Info(w http.ResponseWriter, r *http.Request) {
	rec, err := h.orch.Info(r.Context(), r.PathValue("user"), r.PathValue("project"), r.PathValue("uid"))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			Fail(w, "project not found")
			return
		}
		h.logger.Error("info failed", "error", err)
		Fail(w, "info failed")
		return
	}
	Success(w, json.RawMessage(rec.Data))
}

// Build отправляет проект на сборку.
// Тело запроса — параметры сборки (private, debug, hydrates, keys).
func (h *Handler) Build(w http.ResponseWriter, r *http.Request) {
	// Пустое тело допустимо: сборка с параметрами по умолчанию.
	var params build.Params
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil && !errors.Is(err, io.EOF) {
		Fail(w, "malformed build params")
		return
	}

	err := h.orch.Build(
		r.Context(),
		r.PathValue("user"),
		r.PathValue("project"),
		r.PathValue("uid"),
		r.PathValue("key"),
		params,
	)
	if err != nil {
		Fail(w, remote.Normalize(err))
		return
	}
	Success(w, true)
}

// Remove удаляет запись проекта и рассылает уведомление.
func (h *Handler) Remove(w http.ResponseWriter, r *http.Request) {
	err := h.orch.Remove(r.Context(), r.PathValue("user"), r.PathValue("project"), r.PathValue("uid"))
	if err != nil {
		h.logger.Error("remove failed", "error", err)
		Fail(w, "remove failed")
		return
	}
	Success(w, true)
}
