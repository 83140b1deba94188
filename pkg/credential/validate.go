package credential

import "regexp"

var clientIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

const maxSecretLength = 1024

// ValidClientID reports whether id is a well-formed clientId.
func ValidClientID(id string) bool {
	return clientIDPattern.MatchString(id)
}

// ValidSecretLength reports whether secret is within the accepted length
// bound. Length only: a too-short or empty secret is handled by the
// missing-credentials check, not by this function.
func ValidSecretLength(secret string) bool {
	return len(secret) <= maxSecretLength
}
