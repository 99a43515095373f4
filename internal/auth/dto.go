package auth

import (
	"strings"

	"github.com/oneflow-erp/oneflow-api/internal"
	"github.com/oneflow-erp/oneflow-api/internal/core/common/validation"
	coreuser "github.com/oneflow-erp/oneflow-api/internal/core/user"
	"github.com/oneflow-erp/oneflow-api/internal/user"
)

// LoginDTO is the transport shape used by the HTTP handler to accept login requests.
type LoginDTO struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RegisterDTO carries a self-registration request.
type RegisterDTO struct {
	Name       string  `json:"name"`
	Email      string  `json:"email"`
	Password   string  `json:"password"`
	Role       string  `json:"role"`
	HourlyRate float64 `json:"hourly_rate"`
}

// RefreshTokenDTO for refresh token requests
type RefreshTokenDTO struct {
	RefreshToken string `json:"refreshToken"`
}

type ChangePasswordDTO struct {
	OldPassword string `json:"oldPassword"`
	NewPassword string `json:"newPassword"`
}

// AuthResult is the login/register response body.
type AuthResult struct {
	Message string           `json:"message"`
	User    *user.PublicUser `json:"user"`
	Tokens  *TokenPair       `json:"tokens"`
}

const (
	minPasswordLen = 8
	maxPasswordLen = 72
)

func (d LoginDTO) Validate() *internal.AppError {
	v := validation.NewValidator()
	v.Field("email", d.Email).Required()
	v.Field("password", d.Password).Required()
	return v.Validate()
}

func (d RegisterDTO) Validate() *internal.AppError {
	v := validation.NewValidator()
	v.Field("name", d.Name).Required().MaxLength(255)
	v.Field("email", strings.TrimSpace(d.Email)).Required().Email().MaxLength(320)
	v.Field("password", d.Password).Required().
		MinLength(minPasswordLen, internal.ErrCodeWeakPassword).
		MaxLength(maxPasswordLen)
	v.Field("role", d.Role).Role()
	v.Field("hourly_rate", d.HourlyRate).NonNegative()
	return v.Validate()
}

// SelfAssignable reports whether an anonymous caller may register with the
// requested role. Only team members can sign themselves up.
func (d RegisterDTO) SelfAssignable() bool {
	return d.Role == "" || coreuser.Role(d.Role) == coreuser.RoleTeamMember
}

func (d RegisterDTO) ToCreateInput() user.CreateUserInput {
	role := coreuser.Role(d.Role)
	if role == "" {
		role = coreuser.RoleTeamMember
	}
	return user.CreateUserInput{
		Name:       d.Name,
		Email:      d.Email,
		Password:   d.Password,
		Role:       role,
		HourlyRate: d.HourlyRate,
	}
}

func (d RefreshTokenDTO) Validate() *internal.AppError {
	v := validation.NewValidator()
	v.Field("refreshToken", d.RefreshToken).Required()
	return v.Validate()
}

func (d ChangePasswordDTO) Validate() *internal.AppError {
	v := validation.NewValidator()
	v.Field("oldPassword", d.OldPassword).Required()
	v.Field("newPassword", d.NewPassword).Required().
		MinLength(minPasswordLen, internal.ErrCodeWeakPassword).
		MaxLength(maxPasswordLen)
	return v.Validate()
}
