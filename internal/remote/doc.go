// Package remote — клиент удалённого сервиса сборки мобильных приложений.
//
// Операции:
//   - Me     — учётная запись владельца токена
//   - Status — отчёт о сборке приложения по платформам
//   - Create — создание приложения из архива проекта (multipart)
//   - Delete — удаление приложения
//
// Все ошибки сервиса нормализуются в remote.Error с одной
// человекочитаемой строкой (см. errors.go).
package remote
