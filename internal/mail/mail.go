// Package mail delivers the few transactional messages the platform sends.
package mail

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"
)

type Message struct {
	To      string
	Subject string
	Body    string
}

// Sender delivers one message. Implementations must honor ctx cancellation
// where the transport allows it.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// PasswordResetMessage builds the reset mail for to with the given link.
func PasswordResetMessage(to, link string, validFor time.Duration) Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Hi %s,\n\n", GreetingName(to))
	b.WriteString("We received a request to reset your password. Use the link below to choose a new one:\n\n")
	fmt.Fprintf(&b, "%s\n\n", link)
	fmt.Fprintf(&b, "The link expires in %s and can be used once. ", humanDuration(validFor))
	b.WriteString("If you did not ask for a reset you can ignore this message.\n")
	return Message{
		To:      to,
		Subject: "Reset your password",
		Body:    b.String(),
	}
}

// GreetingName derives a display name from the local part of an address:
// "jane.doe@example.com" becomes "Jane".
func GreetingName(address string) string {
	local := address
	if at := strings.IndexByte(address, '@'); at > 0 {
		local = address[:at]
	}
	parts := strings.FieldsFunc(local, func(r rune) bool {
		return r == '.' || r == '_' || r == '-' || r == '+'
	})
	if len(parts) == 0 {
		return "there"
	}
	runes := []rune(parts[0])
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}

func humanDuration(d time.Duration) string {
	switch {
	case d >= time.Hour && d%time.Hour == 0:
		if d == time.Hour {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", d/time.Hour)
	case d >= time.Minute && d%time.Minute == 0:
		return fmt.Sprintf("%d minutes", d/time.Minute)
	default:
		return d.String()
	}
}
