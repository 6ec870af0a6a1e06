package logger

import "strings"

// MaskEmail keeps the domain of an address and drops the local part.
func MaskEmail(email string) string {
	at := strings.LastIndexByte(email, '@')
	if at < 0 {
		if email == "" {
			return ""
		}
		return "***"
	}
	return "***" + email[at:]
}
