package config

import "strings"

// MaskSecret masks a secret for display, keeping a short prefix and suffix
// of long values.
func MaskSecret(value string) string {
	switch n := len(value); {
	case n == 0:
		return ""
	case n <= 4:
		return strings.Repeat("*", n)
	case n <= 8:
		return value[:2] + strings.Repeat("*", n-2)
	default:
		return value[:4] + strings.Repeat("*", n-8) + value[n-4:]
	}
}

// Redacted returns a copy of the configuration safe to print.
func (c *Config) Redacted() *Config {
	out := *c
	out.Notify.Redis.Password = MaskSecret(c.Notify.Redis.Password)
	return &out
}
