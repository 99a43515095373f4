package postgres

import (
	"context"
	"strings"
	"time"

	"github.com/oneflow-erp/oneflow-api/internal"
	"github.com/oneflow-erp/oneflow-api/internal/store"
	"github.com/oneflow-erp/oneflow-api/internal/user"
)

const userColumns = `user_id, name, email, password_hash, role, hourly_rate, is_active, token_version, version, created_at, updated_at`

const publicColumns = `user_id, name, email, role, hourly_rate, is_active, version, created_at, updated_at`

type UserRepository struct {
	pool *store.Pool
	now  func() time.Time
}

func NewUserRepository(pool *store.Pool) user.RepositoryAPI {
	return &UserRepository{
		pool: pool,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*user.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE email = ? AND is_active = ?`, email, true)
}

func (r *UserRepository) GetByID(ctx context.Context, id int64) (*user.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE user_id = ? AND is_active = ?`, id, true)
}

func (r *UserRepository) Exists(ctx context.Context, id int64) (bool, error) {
	var found int64
	return r.pool.Get(ctx, &found, `SELECT user_id FROM users WHERE user_id = ?`, id)
}

func (r *UserRepository) EmailTaken(ctx context.Context, email string, excludeID int64) (bool, error) {
	var found int64
	return r.pool.Get(ctx, &found,
		`SELECT user_id FROM users WHERE email = ? AND is_active = ? AND user_id <> ? LIMIT 1`,
		email, true, excludeID)
}

func (r *UserRepository) Create(ctx context.Context, u *user.User) error {
	now := r.now()
	var created user.User
	_, err := r.pool.Get(ctx, &created,
		`INSERT INTO users (name, email, password_hash, role, hourly_rate, is_active, token_version, version, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, 0, 1, ?, ?)
		 RETURNING `+userColumns,
		u.Name, u.Email, u.PasswordHash, string(u.Role), u.HourlyRate, u.IsActive, now, now)
	if err != nil {
		return r.mapWriteError(err)
	}
	*u = created
	return nil
}

// Update touches only the non-nil fields of in and bumps version. Deactivating
// through Update also bumps token_version.
func (r *UserRepository) Update(ctx context.Context, id int64, in user.UpdateUserInput) (*user.User, error) {
	sets := make([]string, 0, 8)
	args := make([]interface{}, 0, 8)

	if in.Name != nil {
		sets = append(sets, "name = ?")
		args = append(args, *in.Name)
	}
	if in.Email != nil {
		sets = append(sets, "email = ?")
		args = append(args, *in.Email)
	}
	if in.Role != nil {
		sets = append(sets, "role = ?")
		args = append(args, string(*in.Role))
	}
	if in.HourlyRate != nil {
		sets = append(sets, "hourly_rate = ?")
		args = append(args, *in.HourlyRate)
	}
	if in.IsActive != nil {
		sets = append(sets, "is_active = ?")
		args = append(args, *in.IsActive)
		if !*in.IsActive {
			sets = append(sets, "token_version = token_version + 1")
		}
	}
	if len(sets) == 0 {
		return nil, internal.ErrNoFieldsToUpdate
	}

	sets = append(sets, "version = version + 1", "updated_at = ?")
	args = append(args, r.now())

	query := `UPDATE users SET ` + strings.Join(sets, ", ") + ` WHERE user_id = ?`
	args = append(args, id)
	if in.ExpectedVersion != nil {
		query += ` AND version = ?`
		args = append(args, *in.ExpectedVersion)
	}
	query += ` RETURNING ` + userColumns

	u, err := r.getOne(ctx, query, args...)
	if err != nil {
		return nil, r.mapWriteError(err)
	}
	return u, nil
}

func (r *UserRepository) UpdatePassword(ctx context.Context, id int64, hash string) (*user.User, error) {
	return r.getOne(ctx,
		`UPDATE users SET password_hash = ?, token_version = token_version + 1, version = version + 1, updated_at = ?
		 WHERE user_id = ? AND is_active = ?
		 RETURNING `+userColumns,
		hash, r.now(), id, true)
}

func (r *UserRepository) List(ctx context.Context) ([]*user.PublicUser, error) {
	var users []*user.PublicUser
	if err := r.pool.Query(ctx, &users, `SELECT `+publicColumns+` FROM users ORDER BY user_id ASC`); err != nil {
		return nil, err
	}
	return users, nil
}

func (r *UserRepository) Deactivate(ctx context.Context, id int64) (*user.User, error) {
	return r.getOne(ctx,
		`UPDATE users SET is_active = ?, token_version = token_version + 1, version = version + 1, updated_at = ?
		 WHERE user_id = ? AND is_active = ?
		 RETURNING `+userColumns,
		false, r.now(), id, true)
}

func (r *UserRepository) BumpTokenVersion(ctx context.Context, id int64) (*user.User, error) {
	return r.getOne(ctx,
		`UPDATE users SET token_version = token_version + 1, updated_at = ?
		 WHERE user_id = ? AND is_active = ?
		 RETURNING `+userColumns,
		r.now(), id, true)
}

func (r *UserRepository) getOne(ctx context.Context, query string, args ...interface{}) (*user.User, error) {
	var u user.User
	found, err := r.pool.Get(ctx, &u, query, args...)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return &u, nil
}

// mapWriteError turns a hit on users_active_email_key into ErrDuplicateEmail.
func (r *UserRepository) mapWriteError(err error) error {
	if r.pool.IsUniqueViolation(err) {
		return internal.ErrDuplicateEmail.WithCause(err)
	}
	return err
}
