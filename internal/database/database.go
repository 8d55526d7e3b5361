package database

import (
	"database/sql"
	"fmt"

	"device-management/internal/config"
)

// Open 根据配置的驱动打开数据库
func Open(cfg *config.DatabaseConfig) (*sql.DB, error) {
	switch cfg.Driver {
	case "postgres":
		return NewPostgresDB(cfg)
	case "sqlite3":
		return NewSQLiteDB(cfg)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// Close 关闭数据库连接
func Close(db *sql.DB) error {
	if db != nil {
		return db.Close()
	}
	return nil
}
