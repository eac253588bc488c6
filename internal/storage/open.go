// Package storage provides the record store drivers behind tracker.Store.
package storage

import (
	"errors"
	"strings"
	"time"

	"bosswatch/internal/tracker"
	logx "bosswatch/pkg/logx"
)

type Config struct {
	Driver string
	Path   string
	// BusyTimeout applies to the sqlite driver only.
	BusyTimeout time.Duration
}

// Open initializes the configured store. An empty driver defaults to "file".
func Open(cfg Config, log logx.Logger) (tracker.Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
