// Package migrate reads embedded SQL migrations for the Postgres and SQLite stores.
package migrate

import (
	"fmt"
	"io/fs"
	"sort"
	"strings"
)

// Table records applied migrations by file name
const Table = "schema_migrations"

// File is one migration ready to execute
type File struct {
	Name string
	Up   string
}

// Files returns the .sql files at the root of fsys in name order with their
// Up sections extracted. Files with an empty Up section are skipped.
func Files(fsys fs.FS) ([]File, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	files := make([]File, 0, len(names))
	for _, name := range names {
		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", name, err)
		}
		up := ExtractUp(string(content))
		if strings.TrimSpace(up) == "" {
			continue
		}
		files = append(files, File{Name: name, Up: up})
	}
	return files, nil
}

// ExtractUp returns the SQL in the -- +migrate Up section
func ExtractUp(content string) string {
	upIdx := strings.Index(content, "-- +migrate Up")
	if upIdx == -1 {
		return content
	}
	downIdx := strings.Index(content, "-- +migrate Down")
	if downIdx == -1 {
		return content[upIdx+len("-- +migrate Up"):]
	}
	return content[upIdx+len("-- +migrate Up") : downIdx]
}

// IsAlreadyExists reports whether err means the DDL was already applied
func IsAlreadyExists(err error) bool {
	value := strings.ToLower(err.Error())
	return strings.Contains(value, "already exists") || strings.Contains(value, "duplicate column name")
}
