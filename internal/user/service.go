package user

import (
	"context"
	"log/slog"
	"strings"

	"github.com/oneflow-erp/oneflow-api/internal"
	"github.com/oneflow-erp/oneflow-api/internal/core/common/validation"
	"github.com/oneflow-erp/oneflow-api/internal/core/events"
	coreuser "github.com/oneflow-erp/oneflow-api/internal/core/user"
)

// RepositoryAPI is the users table. Lookups return (nil, nil) when no active
// row matches.
type RepositoryAPI interface {
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByID(ctx context.Context, id int64) (*User, error)
	EmailTaken(ctx context.Context, email string, excludeID int64) (bool, error)
	Create(ctx context.Context, u *User) error
	Update(ctx context.Context, id int64, in UpdateUserInput) (*User, error)
	Exists(ctx context.Context, id int64) (bool, error)
	UpdatePassword(ctx context.Context, id int64, hash string) (*User, error)
	List(ctx context.Context) ([]*PublicUser, error)
	Deactivate(ctx context.Context, id int64) (*User, error)
	BumpTokenVersion(ctx context.Context, id int64) (*User, error)
}

type PasswordHasher interface {
	HashPassword(password string) (string, error)
	VerifyPassword(hash, password string) (bool, error)
	BurnComparison(password string)
}

type EventPublisher interface {
	Publish(ctx context.Context, event events.Event) error
}

type Service struct {
	repo      RepositoryAPI
	hasher    PasswordHasher
	publisher EventPublisher
	logger    *slog.Logger
}

func NewService(repo RepositoryAPI, hasher PasswordHasher, publisher EventPublisher, logger *slog.Logger) *Service {
	return &Service{
		repo:      repo,
		hasher:    hasher,
		publisher: publisher,
		logger:    logger,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *Service) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return s.repo.GetByEmail(ctx, normalizeEmail(email))
}

func (s *Service) GetUserByID(ctx context.Context, id int64) (*User, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) CreateUser(ctx context.Context, in CreateUserInput) (*User, error) {
	in.Email = normalizeEmail(in.Email)
	in.Name = strings.TrimSpace(in.Name)
	if in.Role == "" {
		in.Role = coreuser.RoleTeamMember
	}

	v := validation.NewValidator()
	v.Field("name", in.Name).Required()
	v.Field("email", in.Email).Required().Email()
	v.Field("password", in.Password).Required()
	v.Field("role", in.Role).Role()
	v.Field("hourly_rate", in.HourlyRate).NonNegative()
	if appErr := v.Validate(); appErr != nil {
		return nil, appErr
	}

	taken, err := s.repo.EmailTaken(ctx, in.Email, 0)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, internal.ErrDuplicateEmail
	}

	hash, err := s.hasher.HashPassword(in.Password)
	if err != nil {
		return nil, internal.NewInternalError("failed to hash password", err)
	}

	u := &User{
		Name:         in.Name,
		Email:        in.Email,
		PasswordHash: hash,
		Role:         in.Role,
		HourlyRate:   in.HourlyRate,
		IsActive:     true,
	}
	if err := s.repo.Create(ctx, u); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "user created", "user_id", u.ID, "role", u.Role)
	s.publish(ctx, events.NewUserEvent(events.EventTypeUserRegistered, u.ID, u.Email, map[string]interface{}{
		"role": string(u.Role),
	}))
	return u, nil
}

// UpdateUser applies only the supplied fields. It returns (nil, nil) when no
// row has id.
func (s *Service) UpdateUser(ctx context.Context, id int64, in UpdateUserInput) (*User, error) {
	if in.Empty() {
		return nil, internal.ErrNoFieldsToUpdate
	}

	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		in.Name = &name
	}
	if in.Email != nil {
		email := normalizeEmail(*in.Email)
		in.Email = &email
	}

	v := validation.NewValidator()
	if in.Name != nil {
		v.Field("name", in.Name).Required()
	}
	v.Field("email", in.Email).Email()
	v.Field("role", in.Role).Role()
	v.Field("hourly_rate", in.HourlyRate).NonNegative()
	if appErr := v.Validate(); appErr != nil {
		return nil, appErr
	}

	if in.Email != nil {
		taken, err := s.repo.EmailTaken(ctx, *in.Email, id)
		if err != nil {
			return nil, err
		}
		if taken {
			return nil, internal.ErrDuplicateEmail
		}
	}

	u, err := s.repo.Update(ctx, id, in)
	if err != nil {
		return nil, err
	}
	if u == nil {
		if in.ExpectedVersion == nil {
			return nil, nil
		}
		exists, err := s.repo.Exists(ctx, id)
		if err != nil {
			return nil, err
		}
		if exists {
			return nil, internal.ErrStaleWrite
		}
		return nil, nil
	}

	eventType := events.EventTypeUserUpdated
	if in.IsActive != nil && !*in.IsActive {
		eventType = events.EventTypeUserDeactivated
	}
	s.publish(ctx, events.NewUserEvent(eventType, u.ID, u.Email, map[string]interface{}{
		"version": u.Version,
	}))
	return u, nil
}

// AuthenticateUser returns the claim payload for a matching active user and
// nil otherwise. Unknown email and wrong password are indistinguishable.
func (s *Service) AuthenticateUser(ctx context.Context, email, password string) (*coreuser.ClaimPayload, error) {
	u, err := s.repo.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return nil, err
	}
	if u == nil {
		s.hasher.BurnComparison(password)
		return nil, nil
	}

	ok, err := s.hasher.VerifyPassword(u.PasswordHash, password)
	if err != nil {
		s.logger.WarnContext(ctx, "stored password hash is unreadable", "user_id", u.ID, "error", err)
		return nil, nil
	}
	if !ok {
		return nil, nil
	}

	claims := u.Claims()
	return &claims, nil
}

// ChangePassword verifies oldPassword and stores a hash of newPassword. It
// returns false, without error, when no active user has id. Outstanding tokens
// are revoked.
func (s *Service) ChangePassword(ctx context.Context, id int64, oldPassword, newPassword string) (bool, error) {
	u, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return false, err
	}
	if u == nil {
		return false, nil
	}

	ok, err := s.hasher.VerifyPassword(u.PasswordHash, oldPassword)
	if err != nil || !ok {
		return false, internal.ErrInvalidCredentials
	}

	hash, err := s.hasher.HashPassword(newPassword)
	if err != nil {
		return false, internal.NewInternalError("failed to hash password", err)
	}

	updated, err := s.repo.UpdatePassword(ctx, id, hash)
	if err != nil {
		return false, err
	}
	if updated == nil {
		return false, nil
	}

	s.logger.InfoContext(ctx, "password changed", "user_id", id)
	s.publish(ctx, events.NewUserEvent(events.EventTypeUserPasswordChanged, updated.ID, updated.Email, map[string]interface{}{
		"token_version": updated.TokenVersion,
	}))
	return true, nil
}

// GetAllUsers lists every user, active or not, without password hashes.
func (s *Service) GetAllUsers(ctx context.Context) ([]*PublicUser, error) {
	users, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	if users == nil {
		users = []*PublicUser{}
	}
	return users, nil
}

// DeactivateUser soft-deletes the user and revokes their tokens. It reports
// whether a row was affected.
func (s *Service) DeactivateUser(ctx context.Context, id int64) (bool, error) {
	u, err := s.repo.Deactivate(ctx, id)
	if err != nil {
		return false, err
	}
	if u == nil {
		return false, nil
	}

	s.logger.InfoContext(ctx, "user deactivated", "user_id", id)
	s.publish(ctx, events.NewUserEvent(events.EventTypeUserDeactivated, u.ID, u.Email, nil))
	return true, nil
}

// RevokeTokens invalidates every token issued to the user so far.
func (s *Service) RevokeTokens(ctx context.Context, id int64) (bool, error) {
	u, err := s.repo.BumpTokenVersion(ctx, id)
	if err != nil {
		return false, err
	}
	if u == nil {
		return false, nil
	}

	s.logger.InfoContext(ctx, "tokens revoked", "user_id", id, "token_version", u.TokenVersion)
	s.publish(ctx, events.NewUserEvent(events.EventTypeUserTokensRevoked, u.ID, u.Email, map[string]interface{}{
		"token_version": u.TokenVersion,
	}))
	return true, nil
}

func (s *Service) publish(ctx context.Context, event events.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "failed to publish user event", "event_type", event.EventType(), "error", err)
	}
}
