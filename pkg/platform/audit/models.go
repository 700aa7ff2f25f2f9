package audit

import (
	"context"
	"time"

	id "portal/pkg/domain"
)

// EventCategory classifies audit events by their primary purpose so sinks can
// apply different retention and routing.
type EventCategory string

const (
	// CategoryCompliance covers account lifecycle changes.
	CategoryCompliance EventCategory = "compliance"
	// CategorySecurity covers credential and session events.
	CategorySecurity EventCategory = "security"
	// CategoryOperations covers routine activity.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Category  EventCategory `json:"category"`
	Timestamp time.Time     `json:"timestamp"`
	UserID    id.UserID     `json:"user_id"`
	Action    string        `json:"action"`
	Reason    string        `json:"reason,omitempty"`
	Email     string        `json:"email,omitempty"`
	IP        string        `json:"ip,omitempty"`
	RequestID string        `json:"request_id,omitempty"`
	// ActorID is set when someone other than UserID performed the action,
	// e.g. an admin suspending an account.
	ActorID string `json:"actor_id,omitempty"`
}

type AuditEvent string

const (
	EventUserRegistered         AuditEvent = "user_registered"
	EventLoginSucceeded         AuditEvent = "login_succeeded"
	EventLoginFailed            AuditEvent = "login_failed"
	EventLoggedOut              AuditEvent = "logged_out"
	EventSessionRevoked         AuditEvent = "session_revoked"
	EventSessionsRevoked        AuditEvent = "sessions_revoked"
	EventPasswordResetRequested AuditEvent = "password_reset_requested"
	EventPasswordResetCompleted AuditEvent = "password_reset_completed"
	EventPasswordResetMailFail  AuditEvent = "password_reset_delivery_failed"
	EventPasswordChanged        AuditEvent = "password_changed"
	EventUserStatusChanged      AuditEvent = "user_status_changed"
	EventUserRoleChanged        AuditEvent = "user_role_changed"
	EventUserDeleted            AuditEvent = "user_deleted"
	EventRateLimitExceeded      AuditEvent = "rate_limit_exceeded"
)

var eventCategories = map[AuditEvent]EventCategory{
	EventUserRegistered:    CategoryCompliance,
	EventUserStatusChanged: CategoryCompliance,
	EventUserRoleChanged:   CategoryCompliance,
	EventUserDeleted:       CategoryCompliance,

	EventLoginFailed:            CategorySecurity,
	EventSessionRevoked:         CategorySecurity,
	EventSessionsRevoked:        CategorySecurity,
	EventPasswordResetRequested: CategorySecurity,
	EventPasswordResetCompleted: CategorySecurity,
	EventPasswordResetMailFail:  CategorySecurity,
	EventPasswordChanged:        CategorySecurity,
	EventRateLimitExceeded:      CategorySecurity,

	EventLoginSucceeded: CategoryOperations,
	EventLoggedOut:      CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}

// Sink receives every published event.
type Sink interface {
	Append(ctx context.Context, event Event) error
}

// Store is a Sink that can also be queried.
type Store interface {
	Sink
	ListByUser(ctx context.Context, userID id.UserID) ([]Event, error)
}
