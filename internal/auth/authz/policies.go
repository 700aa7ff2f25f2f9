package authz

import "portal/internal/auth/models"

// Endpoint names used as keys in Policies.
const (
	EndpointMe             = "auth.me"
	EndpointChangePassword = "auth.change_password"
	EndpointListSessions   = "auth.sessions.list"
	EndpointRevokeSession  = "auth.sessions.revoke"
	EndpointLogout         = "auth.logout"
	EndpointLogoutAll      = "auth.logout_all"
	EndpointSetUserStatus  = "admin.users.status"
	EndpointSetUserRole    = "admin.users.role"
	EndpointDeleteUser     = "admin.users.delete"
	EndpointUserSessions   = "admin.users.sessions"
)

// Policies is the access table for every protected endpoint.
var Policies = map[string]Policy{
	EndpointMe:             {},
	EndpointChangePassword: {},
	EndpointListSessions:   {},
	EndpointRevokeSession:  {},
	EndpointLogout:         {},
	EndpointLogoutAll:      {},
	EndpointSetUserStatus:  {Roles: models.Roles(models.RoleAdmin)},
	EndpointSetUserRole:    {Roles: models.Roles(models.RoleAdmin)},
	EndpointDeleteUser:     {Roles: models.Roles(models.RoleAdmin)},
	EndpointUserSessions:   {Roles: models.Roles(models.RoleAdmin, models.RoleStaff), RequireApproved: true},
}

// PolicyFor returns the named policy. Unknown names deny everyone.
func PolicyFor(endpoint string) Policy {
	if p, ok := Policies[endpoint]; ok {
		return p
	}
	return Policy{Roles: models.Roles(denyAll)}
}

// denyAll is a role no user can hold.
const denyAll models.Role = "-"
