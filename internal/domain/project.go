package domain

import (
	"encoding/json"
	"time"
)

// Failure — запись об ошибке конвейера сборки. Сохраняется вместо
// отчёта, когда сборка упала до того, как удалённый сервис вернул
// хоть какой-то статус (архивация, загрузка, первая запись).
type Failure struct {
	Error string `json:"error"`
}

// Record — сохранённая запись проекта.
//
// Ключ записи — (User, Project, UID), уникален. Data содержит либо
// последний StatusReport, либо Failure. Семантика upsert: последняя
// запись побеждает, версионирования нет.
type Record struct {
	// User — владелец проекта.
	User string `json:"user"`

	// Project — имя проекта.
	Project string `json:"project"`

	// UID — идентификатор экземпляра проекта.
	UID string `json:"uid"`

	// Data — сырое содержимое: StatusReport или Failure.
	Data json.RawMessage `json:"data"`

	// UpdatedAt — время последней записи.
	UpdatedAt time.Time `json:"updated_at"`
}

// Report декодирует Data как StatusReport.
// Возвращает false, если запись содержит не отчёт, а ошибку конвейера.
func (r *Record) Report() (*StatusReport, bool) {
	if len(r.Data) == 0 {
		return nil, false
	}

	var report StatusReport
	if err := json.Unmarshal(r.Data, &report); err != nil {
		return nil, false
	}

	if report.ID == 0 && len(report.Status) == 0 {
		return nil, false
	}

	return &report, true
}

// AppID возвращает идентификатор приложения на удалённом сервисе.
// Возвращает 0, если запись не содержит отчёта (например, хранит Failure).
func (r *Record) AppID() int64 {
	report, ok := r.Report()
	if !ok {
		return 0
	}
	return report.ID
}

// FailureMessage возвращает сообщение об ошибке конвейера.
// Возвращает false, если запись содержит отчёт, а не ошибку.
func (r *Record) FailureMessage() (string, bool) {
	if _, ok := r.Report(); ok {
		return "", false
	}

	var failure Failure
	if err := json.Unmarshal(r.Data, &failure); err != nil {
		return "", false
	}
	if failure.Error == "" {
		return "", false
	}
	return failure.Error, true
}
