package utils

// MaskSecret keeps a short prefix of a credential so logs stay useful
// without leaking it.
func MaskSecret(s string) string {
	if len(s) <= 8 {
		return "*****"
	}
	return s[:4] + "*****"
}
