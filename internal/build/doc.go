// Package build — отправка проектов на удалённую сборку и опрос статуса.
//
// # Обзор
//
// Путь отправки (Orchestrator.Build):
//
//  1. Проверка каталога проекта (NotFound до любых сетевых вызовов)
//  2. Упаковка в tar.gz (временный файл удаляется на любом исходе)
//  3. Best-effort удаление предыдущего приложения (замена целиком)
//  4. Создание приложения из архива (ключи подписи без id опускаются)
//  5. Нормализация и запись первого отчёта
//  6. Публикация первой задачи опроса, если ни одна платформа не упала
//
// Путь опроса (Poller.HandleCheck), по одной доставке:
//
//  1. Поиск записи по (user, project, uid); нет записи или app id —
//     подтвердить и отбросить
//  2. Запрос текущего отчёта у сервиса сборки (токен из envelope)
//  3. Нормализация и запись отчёта
//  4. Есть pending-платформы → публикуется следующая задача;
//     нет → цепочка обрывается, завершение неявное
//
// Сообщение подтверждается после записи в хранилище, не раньше:
// падение процесса до ack приводит к повторной доставке, не к потере.
// Любой сбой опроса фиксируется записью {error} и подтверждается —
// одна битая задача не останавливает очередь.
//
// Побочный канал (Poller.HandleRemoved): уведомления об удалении
// проекта инвалидируют запись; повторное уведомление — no-op.
package build
