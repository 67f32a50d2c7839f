package leads

import (
	"regexp"
	"strings"

	"github.com/nyaruka/phonenumbers"
)

var e164Pattern = regexp.MustCompile(`^\+[1-9][0-9]{6,14}$`)

// NormalizeE164 formats a phone number to E.164 using region for national numbers.
// Numbers the library rejects fall back to digit rules for NANP input.
// Returns "" if no plausible number can be built.
func NormalizeE164(input, region string) string {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return ""
	}
	if region == "" {
		region = "US"
	}

	if num, err := phonenumbers.Parse(trimmed, region); err == nil && phonenumbers.IsValidNumber(num) {
		return phonenumbers.Format(num, phonenumbers.E164)
	}

	var b strings.Builder
	for _, r := range trimmed {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()

	var out string
	switch {
	case strings.HasPrefix(trimmed, "+"):
		out = "+" + digits
	case len(digits) == 10:
		out = "+1" + digits
	case len(digits) == 11 && digits[0] == '1':
		out = "+" + digits
	}
	if !e164Pattern.MatchString(out) {
		return ""
	}
	return out
}
