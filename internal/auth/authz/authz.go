// Package authz decides whether an authenticated user may use an endpoint.
// Roles are matched by exact set membership; there is no hierarchy, so an
// endpoint open to staff is not implicitly open to admin.
package authz

import (
	"portal/internal/auth/models"
)

// Reason explains a denial.
type Reason string

const (
	ReasonNone        Reason = ""
	ReasonForbidden   Reason = "forbidden"
	ReasonNotApproved Reason = "not_approved"
)

type Decision struct {
	Allowed  bool
	Reason   Reason
	UserRole models.Role
	Required []models.Role
}

// Authorize allows user when required is empty or contains the user's role.
func Authorize(user *models.User, required models.RoleSet) Decision {
	if user == nil {
		return Decision{Reason: ReasonForbidden, Required: required.Slice()}
	}
	d := Decision{UserRole: user.Role, Required: required.Slice()}
	if len(required) > 0 && !required.Contains(user.Role) {
		d.Reason = ReasonForbidden
		return d
	}
	d.Allowed = true
	return d
}

// Policy is the access rule for one endpoint.
type Policy struct {
	Roles models.RoleSet
	// RequireApproved denies non-admin users whose status is not approved.
	RequireApproved bool
}

// Evaluate applies the role check and then, when required, the approval check.
func (p Policy) Evaluate(user *models.User) Decision {
	d := Authorize(user, p.Roles)
	if !d.Allowed || !p.RequireApproved {
		return d
	}
	if user.Role != models.RoleAdmin && !user.IsApproved() {
		d.Allowed = false
		d.Reason = ReasonNotApproved
	}
	return d
}
