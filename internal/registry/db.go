// Package registry persists release history (runs, stage outcomes,
// artifacts) in a per-project sqlite database. The file records of the
// pipeline stay authoritative; the registry serves the history commands
// and the serve API.
package registry

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const (
	stateDirName = ".droidship"
	dbName       = "registry.db"
)

// StateDir ensures and returns the per-project state directory.
func StateDir(projectRoot string) (string, error) {
	if projectRoot == "" {
		projectRoot = "."
	}
	path := filepath.Join(projectRoot, stateDirName)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}
	return path, nil
}

// Open opens the registry database for a project, creating it if needed.
func Open(projectRoot string) (*sql.DB, error) {
	dir, err := StateDir(projectRoot)
	if err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?cache=shared&_pragma=foreign_keys(1)", filepath.Join(dir, dbName))
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	return conn, nil
}
