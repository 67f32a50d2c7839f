package mailbox

import (
	"context"
	"fmt"
	"html"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"lead-qualifier/internal/config"
	"lead-qualifier/internal/leads"

	imap "github.com/BrianLeishman/go-imap"
)

// IMAPMailbox reads lead notifications from one folder. A fresh connection is
// opened per poll; the library has no context support, so ctx is only checked
// between steps.
type IMAPMailbox struct {
	cfg config.MailboxConfig
}

func NewIMAPMailbox(cfg config.MailboxConfig) *IMAPMailbox {
	return &IMAPMailbox{cfg: cfg}
}

func (m *IMAPMailbox) dial() (*imap.Dialer, error) {
	d, err := imap.New(m.cfg.Username, m.cfg.Password, m.cfg.Host, m.cfg.Port)
	if err != nil {
		return nil, fmt.Errorf("mailbox: connect: %w", err)
	}
	folder := m.cfg.Folder
	if folder == "" {
		folder = "INBOX"
	}
	if err := d.SelectFolder(folder); err != nil {
		_ = d.Close()
		return nil, fmt.Errorf("mailbox: select %s: %w", folder, err)
	}
	return d, nil
}

func (m *IMAPMailbox) ListUnread(ctx context.Context, subjectFilter string) ([]leads.Notification, error) {
	d, err := m.dial()
	if err != nil {
		return nil, err
	}
	defer d.Close()

	search := "UNSEEN"
	if subjectFilter != "" {
		search += " SUBJECT " + strconv.Quote(subjectFilter)
	}
	uids, err := d.GetUIDs(search)
	if err != nil {
		return nil, fmt.Errorf("mailbox: search: %w", err)
	}
	if len(uids) == 0 || ctx.Err() != nil {
		return nil, ctx.Err()
	}

	emails, err := d.GetEmails(uids...)
	if err != nil {
		return nil, fmt.Errorf("mailbox: fetch: %w", err)
	}
	out := make([]leads.Notification, 0, len(emails))
	for _, e := range emails {
		out = append(out, toNotification(e))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UID < out[j].UID })
	return out, nil
}

func (m *IMAPMailbox) MarkRead(ctx context.Context, uid int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d, err := m.dial()
	if err != nil {
		return err
	}
	defer d.Close()
	if _, err := d.Exec(fmt.Sprintf(`UID STORE %d +FLAGS.SILENT (\Seen)`, uid), false, 0, nil); err != nil {
		return fmt.Errorf("mailbox: mark read %d: %w", uid, err)
	}
	return nil
}

func toNotification(e *imap.Email) leads.Notification {
	body := e.Text
	if strings.TrimSpace(body) == "" {
		body = stripHTML(e.HTML)
	}
	return leads.Notification{
		UID:        e.UID,
		MessageID:  e.MessageID,
		From:       firstSender(e.From),
		Subject:    e.Subject,
		Body:       body,
		ReceivedAt: e.Received,
	}
}

// firstSender picks the lowest address so the correlation key is stable
// when a message lists several senders.
func firstSender(from imap.EmailAddresses) string {
	addrs := make([]string, 0, len(from))
	for addr := range from {
		addrs = append(addrs, addr)
	}
	if len(addrs) == 0 {
		return ""
	}
	sort.Strings(addrs)
	return addrs[0]
}

var (
	blockTags = regexp.MustCompile(`(?i)<\s*(br|/p|/div|/tr|/li|/h[1-6])\s*/?>`)
	anyTag    = regexp.MustCompile(`(?s)<[^>]*>`)
	blankRuns = regexp.MustCompile(`\n{3,}`)
)

// stripHTML keeps line structure so label/value lines survive.
func stripHTML(s string) string {
	s = blockTags.ReplaceAllString(s, "\n")
	s = anyTag.ReplaceAllString(s, "")
	s = html.UnescapeString(s)
	s = strings.ReplaceAll(s, "\u00a0", " ")
	return strings.TrimSpace(blankRuns.ReplaceAllString(s, "\n\n"))
}
