package leads

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Notification is an inbound lead email as read from the mailbox.
type Notification struct {
	// UID is the mailbox-local id used to mark the message read.
	UID        int
	MessageID  string
	From       string
	Subject    string
	Body       string
	ReceivedAt time.Time
}

// CorrelationKey is stable across re-reads of the same notification.
// The provider Message-ID is preferred; otherwise sender, subject and timestamp are hashed.
func (n Notification) CorrelationKey() string {
	if id := strings.Trim(strings.TrimSpace(n.MessageID), "<>"); id != "" {
		return "msg:" + strings.ToLower(id)
	}
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(n.From)) + "\x00" +
		strings.TrimSpace(n.Subject) + "\x00" +
		n.ReceivedAt.UTC().Format(time.RFC3339)))
	return "hash:" + hex.EncodeToString(sum[:16])
}

type field int

const (
	fieldNone field = iota
	fieldName
	fieldEmail
	fieldPhone
	fieldOffice
	fieldMessage
	fieldCampaign
	fieldPageName
	fieldPageURL
)

// Labels as the landing-page builder writes them, lower-cased.
var labelFields = map[string]field{
	"fname": fieldName,
	"email": fieldEmail,
	"phone": fieldPhone,
	"what_kind_of_office_space_are_you_interested_in": fieldOffice,
	"message":    fieldMessage,
	"campaignid": fieldCampaign,
	"page name":  fieldPageName,
	"url":        fieldPageURL,
}

// Parse extracts a Lead from a labeled notification body: each label on its own line,
// its value on the following line(s). Missing fields stay empty.
// ok is false when the body lacks a name or phone.
func Parse(body string, receivedAt time.Time) (Lead, bool) {
	values := make(map[field][]string)
	seen := make(map[field]bool)
	current := fieldNone

	body = strings.ReplaceAll(body, "\r\n", "\n")
	for _, raw := range strings.Split(body, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		if f, ok := labelFields[strings.ToLower(strings.TrimSuffix(line, ":"))]; ok {
			// Only the first occurrence of a label counts.
			if seen[f] {
				current = fieldNone
				continue
			}
			seen[f] = true
			current = f
			continue
		}
		if current == fieldNone {
			continue
		}
		values[current] = append(values[current], line)
		if current != fieldMessage {
			current = fieldNone
		}
	}

	first := func(f field) string {
		if v := values[f]; len(v) > 0 {
			return v[0]
		}
		return ""
	}

	l := Lead{
		Name:           first(fieldName),
		Email:          first(fieldEmail),
		Phone:          first(fieldPhone),
		OfficeInterest: first(fieldOffice),
		Message:        strings.Join(values[fieldMessage], " "),
		CampaignID:     first(fieldCampaign),
		PageName:       first(fieldPageName),
		ReceivedAt:     receivedAt,
	}
	if u := first(fieldPageURL); strings.HasPrefix(strings.ToLower(u), "http") {
		l.PageURL = u
	}

	if l.Name == "" || l.Phone == "" {
		return Lead{}, false
	}
	return l, true
}

// ParseNotification parses n and prepares the lead for dialing.
// Failures are classified as ClassParse.
func ParseNotification(n Notification, region string) (Lead, error) {
	l, ok := Parse(n.Body, n.ReceivedAt)
	if !ok {
		return Lead{}, E(ClassParse, "parse notification", ErrNoLead)
	}
	l.Key = n.CorrelationKey()
	// An unusable phone is kept raw so the lead is still recorded as call_failed.
	if e164 := NormalizeE164(l.Phone, region); e164 != "" {
		l.Phone = e164
	}
	if l.EmailValid() != nil {
		l.Email = ""
	}
	if err := l.Validate(); err != nil {
		return Lead{}, E(ClassParse, "validate lead", err)
	}
	return l, nil
}
