// Package models holds the rate limiting vocabulary shared by stores and
// middleware.
package models

import (
	"strings"
	"time"
)

// EndpointClass groups endpoints that share a limit.
type EndpointClass string

const (
	// ClassLogin covers login and registration.
	ClassLogin EndpointClass = "login"
	// ClassPasswordReset covers forgot-password and reset-password.
	ClassPasswordReset EndpointClass = "password_reset"
)

func (c EndpointClass) IsValid() bool {
	switch c {
	case ClassLogin, ClassPasswordReset:
		return true
	}
	return false
}

// Limit is the number of requests allowed per sliding window.
type Limit struct {
	Requests int
	Window   time.Duration
}

// DefaultLimits apply when configuration does not override a class.
var DefaultLimits = map[EndpointClass]Limit{
	ClassLogin:         {Requests: 10, Window: time.Minute},
	ClassPasswordReset: {Requests: 5, Window: 15 * time.Minute},
}

// RateLimitResult is the outcome of one check against a bucket.
type RateLimitResult struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
	// RetryAfter is in whole seconds and only set when Allowed is false.
	RetryAfter int
}

// RetryAfterSeconds rounds the wait until at up to whole seconds, at least one.
func RetryAfterSeconds(now, at time.Time) int {
	d := at.Sub(now)
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}

// NewIPKey builds the bucket key for a client address within a class.
func NewIPKey(class EndpointClass, ip string) string {
	ip = strings.TrimSpace(ip)
	if ip == "" {
		ip = "unknown"
	}
	return "ratelimit:" + string(class) + ":ip:" + ip
}

type RateLimitExceededResponse struct {
	Error      string `json:"error"`
	Message    string `json:"error_description"`
	RetryAfter int    `json:"retry_after"`
}
