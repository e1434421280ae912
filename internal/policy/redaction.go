package policy

import "regexp"

var (
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	// Mainland resident identity number: 17 digits plus a digit or X check code.
	residentIDPattern = regexp.MustCompile(`\b[1-9]\d{5}(?:19|20)\d{2}(?:0[1-9]|1[0-2])(?:0[1-9]|[12]\d|3[01])\d{3}[\dXx]\b`)
	cardPattern       = regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`)
	mobilePattern     = regexp.MustCompile(`(?:\+?86[ -]?)?\b1[3-9]\d{9}\b`)
	phonePattern      = regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`)
)

type rule struct {
	pattern *regexp.Regexp
	marker  string
}

// Order matters: longer numeric identities are masked before the generic
// card and phone patterns can claim them.
var rules = []rule{
	{emailPattern, "[REDACTED_EMAIL]"},
	{residentIDPattern, "[REDACTED_ID]"},
	{cardPattern, "[REDACTED_CARD]"},
	{mobilePattern, "[REDACTED_MOBILE]"},
	{phonePattern, "[REDACTED_PHONE]"},
}

// RedactPII masks common high-risk PII patterns before chat turns are stored.
func RedactPII(input string) (redacted string, changed bool) {
	out := input
	for _, r := range rules {
		next := r.pattern.ReplaceAllString(out, r.marker)
		changed = changed || next != out
		out = next
	}
	return out, changed
}
