package models

import (
	"strings"

	"github.com/asaskevich/govalidator"

	dErrors "portal/pkg/domain-errors"
)

const (
	minPasswordLength = 6
	maxPasswordLength = 72
)

type RegisterRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role,omitempty"`
}

func (r *RegisterRequest) Normalize() {
	r.Email = NormalizeEmail(r.Email)
	r.Username = strings.TrimSpace(r.Username)
	r.Role = strings.ToLower(strings.TrimSpace(r.Role))
	if r.Role == "" {
		r.Role = string(RoleUser)
	}
}

func (r *RegisterRequest) Validate() error {
	if err := validateEmail(r.Email); err != nil {
		return err
	}
	if !govalidator.StringLength(r.Username, "3", "30") {
		return dErrors.New(dErrors.CodeInvalidInput, "username must be between 3 and 30 characters")
	}
	if err := validatePassword(r.Password, "password"); err != nil {
		return err
	}
	if _, ok := ParseRole(r.Role); !ok {
		return dErrors.New(dErrors.CodeInvalidInput, "unknown role")
	}
	return nil
}

// LoginRequest accepts either an email or a username in Identifier.
type LoginRequest struct {
	Identifier string `json:"identifier"`
	Email      string `json:"email,omitempty"`
	Password   string `json:"password"`
}

func (r *LoginRequest) Normalize() {
	if strings.TrimSpace(r.Identifier) == "" {
		r.Identifier = r.Email
	}
	r.Identifier = strings.TrimSpace(r.Identifier)
	if strings.Contains(r.Identifier, "@") {
		r.Identifier = NormalizeEmail(r.Identifier)
	}
}

func (r *LoginRequest) Validate() error {
	if r.Identifier == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "email or username is required")
	}
	if r.Password == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "password is required")
	}
	return nil
}

type ForgotPasswordRequest struct {
	Email string `json:"email"`
}

func (r *ForgotPasswordRequest) Normalize() {
	r.Email = NormalizeEmail(r.Email)
}

func (r *ForgotPasswordRequest) Validate() error {
	return validateEmail(r.Email)
}

type ResetPasswordRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

func (r *ResetPasswordRequest) Normalize() {
	r.Token = strings.TrimSpace(r.Token)
}

func (r *ResetPasswordRequest) Validate() error {
	if r.Token == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "token is required")
	}
	return validatePassword(r.Password, "password")
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

func (r *ChangePasswordRequest) Validate() error {
	if r.CurrentPassword == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "current_password is required")
	}
	return validatePassword(r.NewPassword, "new_password")
}

type UpdateStatusRequest struct {
	Status string `json:"status"`
}

func (r *UpdateStatusRequest) Validate() (Status, error) {
	st, ok := ParseStatus(r.Status)
	if !ok {
		return "", dErrors.New(dErrors.CodeInvalidInput, "unknown status")
	}
	return st, nil
}

type UpdateRoleRequest struct {
	Role string `json:"role"`
}

func (r *UpdateRoleRequest) Validate() (Role, error) {
	role, ok := ParseRole(r.Role)
	if !ok {
		return "", dErrors.New(dErrors.CodeInvalidInput, "unknown role")
	}
	return role, nil
}

func validateEmail(email string) error {
	if !govalidator.StringLength(email, "3", "254") || !govalidator.IsEmail(email) {
		return dErrors.New(dErrors.CodeInvalidInput, "invalid email")
	}
	return nil
}

func validatePassword(password, field string) error {
	if len(password) < minPasswordLength {
		return dErrors.New(dErrors.CodeInvalidInput, field+" must be at least 6 characters")
	}
	if len(password) > maxPasswordLength {
		return dErrors.New(dErrors.CodeInvalidInput, field+" is too long")
	}
	return nil
}
