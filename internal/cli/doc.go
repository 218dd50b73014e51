// Package cli — команды apparat-cli поверх HTTP API.
//
// Команды:
//   - me              — учётная запись по токену
//   - project init    — новый проект из скелета
//   - project build   — отправка на сборку
//   - project info    — сохранённый статус сборки
//   - project remove  — удаление записи проекта
package cli
