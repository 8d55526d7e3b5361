package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"device-management/internal/domain"

	"github.com/google/uuid"
)

const userColumns = `id, email, name, phone, registered_at`

// SQLUsersRepository 用户Repository实现
type SQLUsersRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLUsersRepository 创建用户Repository
func NewSQLUsersRepository(db *sql.DB) *SQLUsersRepository {
	return &SQLUsersRepository{db: db, now: utcNow}
}

var _ UsersRepository = (*SQLUsersRepository)(nil)

// GetUser 根据id获取用户
func (r *SQLUsersRepository) GetUser(ctx context.Context, id string) (*domain.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NewNotFound(domain.EntityUser, id)
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

// ListUsers 查询全部用户
func (r *SQLUsersRepository) ListUsers(ctx context.Context) ([]*domain.User, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY registered_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	users := []*domain.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate users: %w", err)
	}
	return users, nil
}

// CreateUser 创建用户，id 和 registered_at 由Repository生成
func (r *SQLUsersRepository) CreateUser(ctx context.Context, user *domain.User) (*domain.User, error) {
	if user == nil {
		return nil, fmt.Errorf("user is required")
	}
	created := *user
	created.ID = uuid.NewString()
	created.RegisteredAt = r.now()

	if _, err := r.db.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`) VALUES ($1, $2, $3, $4, $5)`,
		created.ID, created.Email, created.Name, created.Phone, created.RegisteredAt,
	); err != nil {
		return nil, storeError("insert user", err)
	}
	return &created, nil
}

// DeleteUser 删除用户
func (r *SQLUsersRepository) DeleteUser(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return storeError("delete user", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return domain.NewNotFound(domain.EntityUser, id)
	}
	return nil
}

func scanUser(row rowScanner) (*domain.User, error) {
	var u domain.User
	if err := row.Scan(&u.ID, &u.Email, &u.Name, &u.Phone, &u.RegisteredAt); err != nil {
		return nil, err
	}
	u.RegisteredAt = u.RegisteredAt.UTC()
	return &u, nil
}
