package validators

import "strings"

// SanitizeCode normalizes a user-entered code to the uppercase form codes
// are stored under, so "  save20 " matches SAVE20.
func SanitizeCode(input string) string {
	return strings.ToUpper(strings.TrimSpace(input))
}
