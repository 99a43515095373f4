package auth

import (
	"context"
	"log/slog"

	"github.com/oneflow-erp/oneflow-api/internal"
	coreuser "github.com/oneflow-erp/oneflow-api/internal/core/user"
	"github.com/oneflow-erp/oneflow-api/internal/user"
)

// UserService is the subset of user.Service the auth flows depend on.
type UserService interface {
	AuthenticateUser(ctx context.Context, email, password string) (*coreuser.ClaimPayload, error)
	CreateUser(ctx context.Context, in user.CreateUserInput) (*user.User, error)
	GetUserByID(ctx context.Context, id int64) (*user.User, error)
	ChangePassword(ctx context.Context, id int64, oldPassword, newPassword string) (bool, error)
}

type TokenIssuer interface {
	GenerateTokens(p coreuser.ClaimPayload) (*TokenPair, error)
	VerifyToken(token string) (*coreuser.ClaimPayload, error)
	VerifyRefreshToken(token string) (*coreuser.RefreshPayload, error)
}

// Service is the main auth service with dependencies
type Service struct {
	users  UserService
	tokens TokenIssuer
	logger *slog.Logger
}

// NewService creates a new auth service
func NewService(users UserService, tokens TokenIssuer, logger *slog.Logger) *Service {
	return &Service{
		users:  users,
		tokens: tokens,
		logger: logger,
	}
}

// Login exchanges credentials for a token pair. Every credential failure is
// the same ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, dto LoginDTO) (*AuthResult, error) {
	if appErr := dto.Validate(); appErr != nil {
		return nil, appErr
	}

	claims, err := s.users.AuthenticateUser(ctx, dto.Email, dto.Password)
	if err != nil {
		return nil, err
	}
	if claims == nil {
		s.logger.InfoContext(ctx, "login rejected")
		return nil, internal.ErrInvalidCredentials
	}

	u, err := s.users.GetUserByID(ctx, claims.UserID)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, internal.ErrInvalidCredentials
	}

	tokens, err := s.tokens.GenerateTokens(*claims)
	if err != nil {
		return nil, internal.NewInternalError("failed to issue tokens", err)
	}

	s.logger.InfoContext(ctx, "login succeeded", "user_id", u.ID)
	return &AuthResult{Message: "Login successful", User: u.Public(), Tokens: tokens}, nil
}

// Register creates a user and logs them in.
func (s *Service) Register(ctx context.Context, dto RegisterDTO) (*AuthResult, error) {
	if appErr := dto.Validate(); appErr != nil {
		return nil, appErr
	}
	// Privileged roles are granted by an admin through the user endpoints.
	if !dto.SelfAssignable() {
		return nil, internal.ErrRoleNotAllowed
	}

	u, err := s.users.CreateUser(ctx, dto.ToCreateInput())
	if err != nil {
		return nil, err
	}

	tokens, err := s.tokens.GenerateTokens(u.Claims())
	if err != nil {
		return nil, internal.NewInternalError("failed to issue tokens", err)
	}

	return &AuthResult{Message: "User registered successfully", User: u.Public(), Tokens: tokens}, nil
}

// Refresh issues a new pair for a valid refresh token whose user is still
// active and whose token version is current. Claims come from the row, not
// the old token.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	payload, err := s.tokens.VerifyRefreshToken(refreshToken)
	if err != nil {
		return nil, err
	}

	u, err := s.current(ctx, payload.UserID, payload.TokenVersion)
	if err != nil {
		return nil, err
	}

	tokens, err := s.tokens.GenerateTokens(u.Claims())
	if err != nil {
		return nil, internal.NewInternalError("failed to issue tokens", err)
	}
	return tokens, nil
}

// Authorize verifies an access token and returns the caller's current
// identity. Revoked tokens and tokens of deactivated users fail with
// TokenRevoked.
func (s *Service) Authorize(ctx context.Context, accessToken string) (*coreuser.ClaimPayload, error) {
	claims, err := s.tokens.VerifyToken(accessToken)
	if err != nil {
		return nil, err
	}

	u, err := s.current(ctx, claims.UserID, claims.TokenVersion)
	if err != nil {
		return nil, err
	}

	fresh := u.Claims()
	return &fresh, nil
}

// Profile resolves authenticated claims back to the user row.
func (s *Service) Profile(ctx context.Context, claims *coreuser.ClaimPayload) (*user.PublicUser, error) {
	u, err := s.users.GetUserByID(ctx, claims.UserID)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, internal.ErrUserNotFound
	}
	return u.Public(), nil
}

func (s *Service) ChangePassword(ctx context.Context, claims *coreuser.ClaimPayload, dto ChangePasswordDTO) error {
	if appErr := dto.Validate(); appErr != nil {
		return appErr
	}

	ok, err := s.users.ChangePassword(ctx, claims.UserID, dto.OldPassword, dto.NewPassword)
	if err != nil {
		return err
	}
	if !ok {
		return internal.ErrUserNotFound
	}
	return nil
}

func (s *Service) current(ctx context.Context, id int64, tokenVersion int) (*user.User, error) {
	u, err := s.users.GetUserByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if u == nil || u.TokenVersion != tokenVersion {
		return nil, &TokenError{Kind: TokenRevoked}
	}
	return u, nil
}
