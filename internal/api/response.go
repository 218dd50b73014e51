package api

import (
	"encoding/json"
	"net/http"
)

// Контракт ответа унаследован от предыдущей версии сервиса:
// HTTP-статус всегда 200, исход кодируется полем code.
//   - успех:  {"code": 1, "result": ...}
//   - ошибка: {"code": 0, "message": "..."}

// successResponse — успешный ответ.
type successResponse struct {
	Code   int `json:"code"`
	Result any `json:"result"`
}

// errorResponse — ответ с ошибкой.
type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Success отправляет успешный ответ.
func Success(w http.ResponseWriter, result any) {
	writeJSON(w, successResponse{Code: 1, Result: result})
}

// Fail отправляет ответ с сообщением об ошибке.
func Fail(w http.ResponseWriter, message string) {
	writeJSON(w, errorResponse{Code: 0, Message: message})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(v)
}
