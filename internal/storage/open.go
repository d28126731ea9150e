package storage

import (
	"fmt"
	"strings"

	logx "signbot/pkg/logx"
)

// Open initializes the configured store. An empty driver means "file".
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	log = log.With(logx.String("comp", "storage"), logx.String("driver", driver))

	switch driver {
	case "", "file":
		if strings.TrimSpace(cfg.Path) == "" {
			cfg.Path = "./data/signbot.json"
		}
		return openFile(cfg, log)
	case "memory", "mem":
		return NewMemory(), nil
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "redis":
		return openRedis(cfg, log)
	case "postgres", "postgresql", "pg":
		return openPostgres(cfg, log)
	case "none":
		return nil, ErrDisabled
	default:
		return nil, fmt.Errorf("unknown storage driver: %q", cfg.Driver)
	}
}
