package utils

import "strings"

// MaskKey keeps the first and last four characters of an API key.
func MaskKey(key string) string {
	key = strings.TrimSpace(key)
	if len(key) <= 8 {
		return strings.Repeat("*", len(key))
	}
	return key[:4] + strings.Repeat("*", len(key)-8) + key[len(key)-4:]
}

// NormalizeAsset upper-cases and trims an asset code.
func NormalizeAsset(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
