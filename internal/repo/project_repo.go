package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Apparat/internal/domain"
)

// ProjectRepo — репозиторий записей проектов.
//
// Схема:
//
//	CREATE TABLE projects (
//	    usr        text        NOT NULL,
//	    project    text        NOT NULL,
//	    uid        text        NOT NULL,
//	    data       jsonb       NOT NULL,
//	    updated_at timestamptz NOT NULL DEFAULT now(),
//	    PRIMARY KEY (usr, project, uid)
//	);
//
// Запись уникальна по ключу (usr, project, uid). Upsert: последняя
// запись побеждает, версионирования нет.
type ProjectRepo struct {
	pool *pgxpool.Pool
}

// NewProjectRepo создаёт новый ProjectRepo.
func NewProjectRepo(pool *pgxpool.Pool) *ProjectRepo {
	return &ProjectRepo{pool: pool}
}

// Find возвращает запись проекта по ключу.
func (r *ProjectRepo) Find(ctx context.Context, user, project, uid string) (*domain.Record, error) {
	query := `
		SELECT usr, project, uid, data, updated_at
		FROM projects
		WHERE usr = $1 AND project = $2 AND uid = $3
	`

	var rec domain.Record
	err := r.pool.QueryRow(ctx, query, user, project, uid).Scan(
		&rec.User, &rec.Project, &rec.UID, &rec.Data, &rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find project: %w", err)
	}

	return &rec, nil
}

// Upsert записывает данные проекта (отчёт или ошибку конвейера),
// перезаписывая предыдущее содержимое.
func (r *ProjectRepo) Upsert(ctx context.Context, user, project, uid string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal project data: %w", err)
	}

	query := `
		INSERT INTO projects (usr, project, uid, data, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (usr, project, uid)
		DO UPDATE SET data = EXCLUDED.data, updated_at = now()
	`
	if _, err := r.pool.Exec(ctx, query, user, project, uid, raw); err != nil {
		return fmt.Errorf("upsert project: %w", err)
	}

	return nil
}

// Remove удаляет запись проекта.
// Возвращает ErrNotFound, если записи не было.
func (r *ProjectRepo) Remove(ctx context.Context, user, project, uid string) error {
	query := `DELETE FROM projects WHERE usr = $1 AND project = $2 AND uid = $3`

	tag, err := r.pool.Exec(ctx, query, user, project, uid)
	if err != nil {
		return fmt.Errorf("remove project: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}
