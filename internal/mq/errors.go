package mq

import "errors"

// Ошибки инфраструктуры очередей.
var (
	// ErrClosed — подключение закрыто навсегда (Close вызван).
	ErrClosed = errors.New("connection closed")
)
