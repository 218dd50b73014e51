// Package api — HTTP-слой сервиса.
//
// Маршруты:
//   - GET  /me/{key}                       — учётная запись по токену
//   - GET  /init/{user}/{project}          — скелет нового приложения
//   - GET  /info/{user}/{project}/{uid}    — сохранённый статус сборки
//   - GET  /remove/{user}/{project}/{uid}  — удаление записи проекта
//   - POST /build/{user}/{project}/{uid}/{key} — отправка на сборку
//
// Ответы всегда HTTP 200 с конвертом {code, result|message} —
// унаследованный контракт, клиенты разбирают поле code.
package api
