package status

import (
	"regexp"

	stringutil "domainop/pkg/strings"
)

const maxMessageLength = 1024

var bearerToken = regexp.MustCompile(`(?i)(bearer|token|password)([=:\s]+)\S+`)

// SanitizeErrorMessage makes an error message fit for a condition or event:
// single line, credentials masked, bounded length.
func SanitizeErrorMessage(msg string) string {
	msg = bearerToken.ReplaceAllString(msg, "${1}${2}[REDACTED]")
	return stringutil.SingleLine(msg, maxMessageLength)
}
