package build

import "errors"

// Ошибки конвейера сборки.
var (
	// ErrProjectNotFound — каталог проекта не существует.
	ErrProjectNotFound = errors.New("project not found")

	// ErrProjectExists — каталог проекта уже существует (init).
	ErrProjectExists = errors.New("project already exists")
)
