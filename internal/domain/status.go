package domain

// PlatformState — состояние сборки для одной платформы.
//
// Жизненный цикл:
//
//	pending → complete
//	        ↘ error
//
// Удалённый сервис может вернуть null/неизвестное значение —
// такие состояния нормализуются в error перед сохранением.
type PlatformState string

const (
	// StatePending — сборка ещё выполняется.
	StatePending PlatformState = "pending"

	// StateComplete — сборка завершена успешно.
	StateComplete PlatformState = "complete"

	// StateError — сборка завершилась с ошибкой.
	StateError PlatformState = "error"
)

// IsTerminal возвращает true, если состояние финальное.
func (s PlatformState) IsTerminal() bool {
	switch s {
	case StateComplete, StateError:
		return true
	default:
		return false
	}
}

// MissingKeyMessage — сообщение для платформы, по которой удалённый
// сервис вернул пустое состояние. Чаще всего это означает, что для
// платформы не был загружен ключ подписи.
const MissingKeyMessage = "missing signing key"

// StatusReport — отчёт удалённого сервиса о сборке одного приложения
// по всем платформам.
type StatusReport struct {
	// ID — идентификатор приложения на удалённом сервисе.
	ID int64 `json:"id"`

	// Title — название приложения.
	Title string `json:"title,omitempty"`

	// Status — состояние сборки по платформам.
	Status map[string]PlatformState `json:"status"`

	// Error — сообщения об ошибках по платформам.
	Error map[string]string `json:"error,omitempty"`
}

// Normalize приводит отчёт к инварианту хранилища: платформа никогда
// не хранится с пустым/неизвестным состоянием. Такие платформы
// переводятся в error с фиксированным сообщением.
func (r *StatusReport) Normalize() {
	for platform, state := range r.Status {
		switch state {
		case StatePending, StateComplete, StateError:
			continue
		}

		r.Status[platform] = StateError

		if r.Error == nil {
			r.Error = make(map[string]string)
		}
		if r.Error[platform] == "" {
			r.Error[platform] = MissingKeyMessage
		}
	}
}

// HasPending возвращает true, если хотя бы одна платформа ещё собирается.
func (r *StatusReport) HasPending() bool {
	for _, state := range r.Status {
		if state == StatePending {
			return true
		}
	}
	return false
}

// HasError возвращает true, если хотя бы одна платформа завершилась с ошибкой.
func (r *StatusReport) HasError() bool {
	for _, state := range r.Status {
		if state == StateError {
			return true
		}
	}
	return false
}
