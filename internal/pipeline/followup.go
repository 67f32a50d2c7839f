package pipeline

import (
	"fmt"
	"strings"

	"lead-qualifier/internal/leads"
)

// FollowupBody picks the SMS text for a verdict.
func FollowupBody(status leads.Status, name, brand, link string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		name = "there"
	}
	switch status {
	case leads.StatusQualified:
		return fmt.Sprintf("Hi %s! Thanks for speaking with us. Book your tour at %s here: %s We look forward to meeting you!", name, brand, link)
	case leads.StatusNoAnswer, leads.StatusCallFailed:
		return fmt.Sprintf("Hi %s! We tried to call you about your inquiry with %s. You can book a tour any time here: %s", name, brand, link)
	default:
		return fmt.Sprintf("Hi %s! Thanks for your interest in %s. While we may not be the perfect fit right now, feel free to reach out if your needs change. You can always book a tour: %s", name, brand, link)
	}
}
