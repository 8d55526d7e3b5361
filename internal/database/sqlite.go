package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"device-management/internal/config"

	_ "github.com/mattn/go-sqlite3"
)

const sqliteBusyTimeoutMs = 5000

// NewSQLiteDB 创建SQLite数据库连接（本地开发 / 测试）
// 外键必须打开，否则 ON DELETE CASCADE / SET NULL 不生效
func NewSQLiteDB(cfg *config.DatabaseConfig) (*sql.DB, error) {
	path := cfg.Path
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}

	var dsn string
	if path == ":memory:" {
		dsn = fmt.Sprintf("file::memory:?_busy_timeout=%d&_foreign_keys=on", sqliteBusyTimeoutMs)
	} else {
		dsn = fmt.Sprintf("file:%s?_busy_timeout=%d&_foreign_keys=on&_journal_mode=WAL", path, sqliteBusyTimeoutMs)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite 单写者；内存库每个连接都是独立的库，只能用一个连接
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}
