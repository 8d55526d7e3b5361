package domain

import (
	"database/sql"
	"time"
)

// User 用户（对应 users 表）
type User struct {
	ID           string         `db:"id"`
	Email        string         `db:"email"` // NOT NULL
	Name         string         `db:"name"`  // NOT NULL
	Phone        sql.NullString `db:"phone"` // nullable
	RegisteredAt time.Time      `db:"registered_at"`
}

// ToJSON 转换为JSON格式（用于HTTP响应）
func (u *User) ToJSON() map[string]any {
	m := map[string]any{
		"id":            u.ID,
		"email":         u.Email,
		"name":          u.Name,
		"phone":         nil,
		"registered_at": u.RegisteredAt.UTC().Format(time.RFC3339Nano),
	}
	if u.Phone.Valid {
		m["phone"] = u.Phone.String
	}
	return m
}
