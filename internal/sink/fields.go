package sink

import (
	"fmt"
	"sort"
	"time"

	"lead-qualifier/internal/leads"
)

// Column names in the lead table. The table schema must match exactly.
const (
	ColLeadKey             = "Lead Key"
	ColName                = "Name"
	ColEmail               = "Email"
	ColPhone               = "Phone"
	ColOfficeInterest      = "Office Space Interest"
	ColMessage             = "Message"
	ColCampaignID          = "Campaign ID"
	ColCallSID             = "Call SID"
	ColCallStatus          = "Call Status"
	ColCallDuration        = "Call Duration (seconds)"
	ColQualificationStatus = "Qualification Status"
	ColQualificationReason = "Qualification Reason"
	ColEmailReceivedAt     = "Email Received At"
	ColCallInitiatedAt     = "Call Initiated At"
	ColCallCompletedAt     = "Call Completed At"
	ColSMSSentAt           = "SMS Sent At"
	ColSpeedToLead         = "Speed to Lead (seconds)"
	ColPageName            = "Page Name"
	ColPageURL             = "Page URL"
	ColCreatedAt           = "Created At"
	ColYearsInBusiness     = "Years in Business"
	ColEmployees           = "Number of Employees"
	ColHasClients          = "Has Clients"
	ColBudget              = "Budget"
	ColOfficePreference    = "Office Preference"
)

var columns = map[string]bool{
	ColLeadKey: true, ColName: true, ColEmail: true, ColPhone: true, ColOfficeInterest: true,
	ColMessage: true, ColCampaignID: true, ColCallSID: true, ColCallStatus: true, ColCallDuration: true,
	ColQualificationStatus: true, ColQualificationReason: true, ColEmailReceivedAt: true,
	ColCallInitiatedAt: true, ColCallCompletedAt: true, ColSMSSentAt: true, ColSpeedToLead: true,
	ColPageName: true, ColPageURL: true, ColCreatedAt: true, ColYearsInBusiness: true,
	ColEmployees: true, ColHasClients: true, ColBudget: true, ColOfficePreference: true,
}

var answerColumns = [leads.NumQuestions]string{
	ColYearsInBusiness, ColEmployees, ColHasClients, ColBudget, ColOfficePreference,
}

const (
	DefaultOfficeInterest = "Other"
	DefaultPageName       = "Mesh Cowork - Private Offices"
	DefaultPageURL        = "http://tour.meshcowork.com/private-offices/"
)

// Fields is one row keyed by column name. ColLeadKey is always present.
type Fields map[string]any

func (f Fields) LeadKey() string {
	s, _ := f[ColLeadKey].(string)
	return s
}

// Check fails on any column the table does not have.
func (f Fields) Check() error {
	if f.LeadKey() == "" {
		return fmt.Errorf("%w: %q is required", ErrSchema, ColLeadKey)
	}
	var unknown []string
	for k := range f {
		if !columns[k] {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return fmt.Errorf("%w: unknown columns %q", ErrSchema, unknown)
	}
	return nil
}

// RecordFields maps a finalized lead record onto the table columns.
func RecordFields(r leads.Record) Fields {
	l := r.Lead
	f := Fields{
		ColLeadKey:             l.Key,
		ColName:                l.Name,
		ColEmail:               l.Email,
		ColPhone:               l.Phone,
		ColOfficeInterest:      orDefault(l.OfficeInterest, DefaultOfficeInterest),
		ColMessage:             l.Message,
		ColCampaignID:          l.CampaignID,
		ColCallSID:             r.CallID,
		ColCallStatus:          r.CallStatus,
		ColCallDuration:        r.CallDurationSeconds,
		ColQualificationStatus: string(r.Verdict.Status),
		ColQualificationReason: r.Verdict.Reason,
		ColSpeedToLead:         r.SpeedToLeadSeconds,
		ColPageName:            orDefault(l.PageName, DefaultPageName),
		ColPageURL:             orDefault(l.PageURL, DefaultPageURL),
	}
	putTime(f, ColEmailReceivedAt, l.ReceivedAt)
	putTime(f, ColCallInitiatedAt, r.CallInitiatedAt)
	putTime(f, ColCallCompletedAt, r.CallCompletedAt)
	putTime(f, ColSMSSentAt, r.SMSSentAt)
	putTime(f, ColCreatedAt, r.CreatedAt)
	for i, col := range answerColumns {
		if r.Answers[i] != "" {
			f[col] = r.Answers[i]
		}
	}
	return f
}

// SMSSentFields is the late correction written after the follow-up goes out.
func SMSSentFields(leadKey string, at time.Time) Fields {
	return Fields{ColLeadKey: leadKey, ColSMSSentAt: at.UTC().Format(time.RFC3339)}
}

// Unset timestamps are omitted so an upsert never blanks a column.
func putTime(f Fields, col string, t time.Time) {
	if !t.IsZero() {
		f[col] = t.UTC().Format(time.RFC3339)
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
