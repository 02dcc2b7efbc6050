package notify

import "regexp"

// Credential-shaped substrings are masked before any delivery or
// retention. Applied uniformly to every log message, independent of
// call site.
var (
	// Long hexadecimal runs look like Canvas access tokens.
	hexTokenPattern = regexp.MustCompile(`[0-9a-fA-F]{32,}`)

	// access_token query parameters leak through URLs in error text.
	accessTokenPattern = regexp.MustCompile(`(?i)(access_token=)[^&\s"']+`)
)

const mask = "[REDACTED]"

// Redact masks credential-shaped substrings in s.
func Redact(s string) string {
	s = accessTokenPattern.ReplaceAllString(s, "${1}"+mask)
	s = hexTokenPattern.ReplaceAllString(s, mask)
	return s
}
