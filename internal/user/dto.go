package user

import (
	"github.com/oneflow-erp/oneflow-api/internal"
	"github.com/oneflow-erp/oneflow-api/internal/core/common/validation"
	coreuser "github.com/oneflow-erp/oneflow-api/internal/core/user"
)

// UpdateUserDTO is the PATCH /users/{id} body. Absent fields are untouched.
type UpdateUserDTO struct {
	Name            *string  `json:"name,omitempty"`
	Email           *string  `json:"email,omitempty"`
	Role            *string  `json:"role,omitempty"`
	HourlyRate      *float64 `json:"hourly_rate,omitempty"`
	IsActive        *bool    `json:"is_active,omitempty"`
	ExpectedVersion *int     `json:"expected_version,omitempty"`
}

func (d UpdateUserDTO) Validate() *internal.AppError {
	v := validation.NewValidator()
	if d.Name != nil {
		v.Field("name", d.Name).Required().MaxLength(255)
	}
	if d.Email != nil {
		v.Field("email", d.Email).Required().Email().MaxLength(320)
	}
	v.Field("role", d.Role).Role()
	v.Field("hourly_rate", d.HourlyRate).NonNegative()
	return v.Validate()
}

func (d UpdateUserDTO) ToUpdateInput() UpdateUserInput {
	in := UpdateUserInput{
		Name:            d.Name,
		Email:           d.Email,
		HourlyRate:      d.HourlyRate,
		IsActive:        d.IsActive,
		ExpectedVersion: d.ExpectedVersion,
	}
	if d.Role != nil {
		role := coreuser.Role(*d.Role)
		in.Role = &role
	}
	return in
}

type UsersResponse struct {
	Users []*PublicUser `json:"users"`
}

type UserResponse struct {
	User *PublicUser `json:"user"`
}

type MessageResponse struct {
	Message string `json:"message"`
}
