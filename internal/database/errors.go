package database

import (
	"errors"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

// IsIntegrityViolation 判断是否为约束冲突（唯一键、外键、非空、CHECK）
// PostgreSQL: SQLSTATE class 23；SQLite: SQLITE_CONSTRAINT
func IsIntegrityViolation(err error) bool {
	if err == nil {
		return false
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code.Class() == "23"
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code == sqlite3.ErrConstraint
	}

	return false
}
