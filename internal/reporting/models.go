package reporting

import (
	"fmt"
	"time"
)

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Period is a named reporting window ending now.
type Period string

const (
	PeriodToday Period = "today"
	PeriodWeek  Period = "week"
	PeriodMonth Period = "month"
)

func ParsePeriod(s string) (Period, error) {
	switch p := Period(s); p {
	case PeriodToday, PeriodWeek, PeriodMonth:
		return p, nil
	case "":
		return PeriodToday, nil
	default:
		return "", fmt.Errorf("%w: unknown period %q", ErrInvalidRequest, s)
	}
}

// Range resolves the window: today starts at UTC midnight, week and month are
// the trailing 7 and 30 days.
func (p Period) Range(now time.Time) TimeRange {
	now = now.UTC()
	switch p {
	case PeriodWeek:
		return TimeRange{From: now.AddDate(0, 0, -7), To: now}
	case PeriodMonth:
		return TimeRange{From: now.AddDate(0, 0, -30), To: now}
	default:
		y, m, d := now.Date()
		return TimeRange{From: time.Date(y, m, d, 0, 0, 0, 0, time.UTC), To: now}
	}
}

// LeadReport aggregates pipeline activity over a period.
type LeadReport struct {
	Period Period    `json:"period"`
	Range  TimeRange `json:"range"`

	TotalLeads       int `json:"total_leads"`
	QualifiedLeads   int `json:"qualified_leads"`
	UnqualifiedLeads int `json:"unqualified_leads"`
	NoAnswerLeads    int `json:"no_answer_leads"`
	CallFailedLeads  int `json:"call_failed_leads"`

	CallsMade int `json:"calls_made"`
	SMSSent   int `json:"sms_sent"`
	Errors    int `json:"errors"`

	AverageSpeedToLeadSeconds float64 `json:"average_speed_to_lead_seconds"`

	// ConversionRate is qualified / total leads, in percent.
	ConversionRate float64 `json:"conversion_rate"`
}
