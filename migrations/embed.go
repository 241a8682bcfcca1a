// Package migrations содержит встроенные SQL-миграции хранилища ленты.
package migrations

import (
	"embed"
	"io/fs"
	"sort"
)

// Files содержит все .sql файлы из этой директории (порядок важен: 001, 002, ...).
//
//go:embed *.sql
var Files embed.FS

// Names возвращает имена миграций в порядке применения.
func Names() ([]string, error) {
	names, err := fs.Glob(Files, "*.sql")
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}
