package remote

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
)

// Error — нормализованная ошибка удалённого сервиса сборки.
//
// Любой сбой — сетевой, аутентификации, 4xx/5xx, кривой ответ —
// сводится к одной человекочитаемой строке. Сырые транспортные
// ошибки не протекают в сохранённое состояние.
type Error struct {
	Message string
}

// Error реализует error.
func (e *Error) Error() string {
	return e.Message
}

// apiError извлекает сообщение из тела ошибки API.
// Сервис возвращает {"error": "..."}; если тело не разобрать —
// используется сырой текст или статус.
func apiError(status int, body []byte) error {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		return &Error{Message: payload.Error}
	}

	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = http.StatusText(status)
	}
	return &Error{Message: msg}
}

// Normalize возвращает сообщение для любой ошибки клиента.
func Normalize(err error) string {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	return err.Error()
}
