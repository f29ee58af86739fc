package logger

import "strings"

// MaskEmail keeps the first character of the local part and the domain.
func MaskEmail(value string) string {
	value = strings.TrimSpace(value)
	at := strings.LastIndex(value, "@")
	if at <= 0 {
		return maskLast4(value)
	}
	local, domain := value[:at], value[at+1:]
	return local[:1] + strings.Repeat("*", max(len(local)-1, 1)) + "@" + domain
}

// MaskSecret keeps only the last 4 characters of a credential.
func MaskSecret(value string) string {
	return maskLast4(strings.TrimSpace(value))
}

func maskLast4(value string) string {
	if value == "" {
		return ""
	}
	if len(value) <= 4 {
		return strings.Repeat("*", len(value))
	}
	return strings.Repeat("*", len(value)-4) + value[len(value)-4:]
}
