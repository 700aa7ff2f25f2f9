// Package attrs reads values back out of slog-style key/value argument lists.
package attrs

import (
	"fmt"
	"log/slog"
)

// ExtractString returns the value for key from a list formatted the way
// slog accepts arguments: alternating key and value, or slog.Attr entries.
// Stringers are rendered; anything else that is not a string yields "".
func ExtractString(args []any, key string) string {
	for i := 0; i < len(args); i++ {
		switch k := args[i].(type) {
		case slog.Attr:
			if k.Key == key {
				return k.Value.String()
			}
		case string:
			if i+1 >= len(args) {
				return ""
			}
			if k == key {
				return asString(args[i+1])
			}
			i++
		}
	}
	return ""
}

func asString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case fmt.Stringer:
		return s.String()
	default:
		return ""
	}
}
