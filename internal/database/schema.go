package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"strings"
)

//go:embed schema/*.sql
var schemaFS embed.FS

// Schema 返回指定驱动的建表 DDL
func Schema(driver string) (string, error) {
	data, err := schemaFS.ReadFile("schema/" + driver + ".sql")
	if err != nil {
		return "", fmt.Errorf("no schema for driver %q: %w", driver, err)
	}
	return string(data), nil
}

// ApplySchema 在一个事务中执行建表 DDL（CREATE ... IF NOT EXISTS，可重复执行）
func ApplySchema(ctx context.Context, db *sql.DB, driver string) error {
	ddl, err := Schema(driver)
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin schema transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for i, stmt := range SplitStatements(ddl) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute statement %d: %w", i+1, err)
		}
	}
	return tx.Commit()
}

// SplitStatements 去掉 "--" 注释行后按分号拆分SQL语句
func SplitStatements(sqlContent string) []string {
	var b strings.Builder
	for _, line := range strings.Split(sqlContent, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	var out []string
	for _, stmt := range strings.Split(b.String(), ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}
