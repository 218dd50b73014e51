package api

import (
	"net/http"
)

// RegisterRoutes регистрирует все маршруты API.
//
// Пути повторяют контракт предыдущей версии сервиса: все аргументы
// в сегментах пути, токен — последним сегментом маршрута build.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Middleware chain
	chain := Chain(
		Recovery(h.logger),
		Logging(h.logger),
	)

	mux.Handle("GET /me/{key}", chain(http.HandlerFunc(h.Me)))
	mux.Handle("GET /init/{user}/{project}", chain(http.HandlerFunc(h.Init)))
	mux.Handle("GET /info/{user}/{project}/{uid}", chain(http.HandlerFunc(h.Info)))
	mux.Handle("GET /remove/{user}/{project}/{uid}", chain(http.HandlerFunc(h.Remove)))
	mux.Handle("POST /build/{user}/{project}/{uid}/{key}", chain(http.HandlerFunc(h.Build)))
}
