package mq

import (
	"encoding/json"
	"fmt"
)

// ContentType — MIME-тип тела всех сообщений.
const ContentType = "application/json"

// TaskEnvelope — сообщение «проверь статус сборки этого проекта».
//
// Инвариант: сообщение самодостаточно. Потребитель может работать
// в другом экземпляре процесса, чем издатель, поэтому ни одно поле
// не восстанавливается из разделяемого состояния при потреблении.
type TaskEnvelope struct {
	// User — владелец проекта.
	User string `json:"user"`

	// Project — имя проекта.
	Project string `json:"project"`

	// UID — идентификатор экземпляра проекта.
	UID string `json:"uid"`

	// Key — токен аутентификации удалённого сервиса сборки.
	Key string `json:"key"`
}

// Encode сериализует envelope для публикации.
func (e TaskEnvelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// DecodeTask разбирает тело сообщения рабочей очереди.
func DecodeTask(body []byte) (TaskEnvelope, error) {
	var env TaskEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return env, fmt.Errorf("unmarshal task envelope: %w", err)
	}
	if env.User == "" || env.Project == "" || env.UID == "" {
		return env, fmt.Errorf("task envelope missing key fields: %+v", env)
	}
	return env, nil
}

// RemovedEnvelope — уведомление «проект удалён».
type RemovedEnvelope struct {
	User    string `json:"user"`
	Project string `json:"project"`
	UID     string `json:"uid"`
}

// Encode сериализует envelope для публикации.
func (e RemovedEnvelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// DecodeRemoved разбирает тело уведомления об удалении.
func DecodeRemoved(body []byte) (RemovedEnvelope, error) {
	var env RemovedEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return env, fmt.Errorf("unmarshal removed envelope: %w", err)
	}
	if env.User == "" || env.Project == "" || env.UID == "" {
		return env, fmt.Errorf("removed envelope missing key fields: %+v", env)
	}
	return env, nil
}
