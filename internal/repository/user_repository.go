package repository

import (
	"context"
	"database/sql"
	"strings"

	"github.com/iliyamo/boxoffice/internal/model"
)

type UserRepo struct{ conn }

func NewUserRepo(db *sql.DB) *UserRepo { return &UserRepo{conn{db: db}} }

// CreateUser inserts u. The email must already be normalised.
func (r *UserRepo) CreateUser(ctx context.Context, u model.User) error {
	_, err := r.q(ctx).ExecContext(ctx,
		"INSERT INTO users (id, email, password_hash, role, is_active, created_at, updated_at) VALUES (?,?,?,?,?,?,?)",
		u.ID, u.Email, u.PasswordHash, u.Role, u.IsActive, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		if isDuplicate(err) {
			return model.ErrEmailExists
		}
		return mapErr("insert user", err)
	}
	return nil
}

// GetUserByEmail fetches a user by normalized email.
func (r *UserRepo) GetUserByEmail(ctx context.Context, email string) (model.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	var u model.User
	err := r.q(ctx).QueryRowContext(ctx,
		"SELECT id,email,password_hash,role,is_active,created_at,updated_at FROM users WHERE email=? LIMIT 1",
		email).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Role, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return model.User{}, mapErr("get user by email", err)
	}
	return u, nil
}

// GetUserByID fetches a user by id.
func (r *UserRepo) GetUserByID(ctx context.Context, id string) (model.User, error) {
	var u model.User
	err := r.q(ctx).QueryRowContext(ctx,
		"SELECT id,email,password_hash,role,is_active,created_at,updated_at FROM users WHERE id=? LIMIT 1",
		id).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Role, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return model.User{}, mapErr("get user", err)
	}
	return u, nil
}
