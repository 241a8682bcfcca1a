package model

import "strings"

// NormalizePhone оставляет только цифры: "+1 (555) 010-2030" -> "15550102030".
func NormalizePhone(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// E164 returns the normalized phone with a leading '+', or "" when there are no digits.
func E164(s string) string {
	d := NormalizePhone(s)
	if d == "" {
		return ""
	}
	return "+" + d
}
