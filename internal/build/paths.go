package build

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Paths строит файловые пути из шаблонов.
//
// Шаблоны используют подстановки {{user}}, {{project}} и {{file}}.
// Значения пользователя экранируются: в путь попадают только
// латиница и цифры в нижнем регистре, остальное заменяется дефисом.
type Paths struct {
	// ProjectTemplate — каталог проекта, например
	// /var/lib/apparat/projects/{{user}}/{{project}}
	ProjectTemplate string

	// TmpTemplate — путь временного архива, например
	// /tmp/apparat-{{file}}.tar.gz
	TmpTemplate string
}

// DefaultPaths возвращает шаблоны путей.
// Корень данных переопределяется через APPARAT_DATA_DIR.
func DefaultPaths() Paths {
	dataDir := os.Getenv("APPARAT_DATA_DIR")
	if dataDir == "" {
		dataDir = "/var/lib/apparat"
	}

	return Paths{
		ProjectTemplate: filepath.Join(dataDir, "projects", "{{user}}", "{{project}}"),
		TmpTemplate:     filepath.Join(os.TempDir(), "apparat-{{file}}.tar.gz"),
	}
}

// Project возвращает каталог проекта пользователя.
func (p Paths) Project(user, project string) string {
	return expand(p.ProjectTemplate, map[string]string{
		"user":    Escape(user),
		"project": Escape(project),
	})
}

// TmpArchive возвращает уникальный путь для временного архива.
func (p Paths) TmpArchive() string {
	return expand(p.TmpTemplate, map[string]string{
		"file": uuid.New().String(),
	})
}

// Escape приводит значение к безопасному для пути виду.
func Escape(value string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		default:
			return '-'
		}
	}, value)
}

// expand подставляет значения в шаблон пути.
func expand(tmpl string, vars map[string]string) string {
	out := tmpl
	for name, value := range vars {
		out = strings.ReplaceAll(out, "{{"+name+"}}", value)
	}
	return out
}
