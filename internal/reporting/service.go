package reporting

import (
	"context"
	"errors"
	"math"
	"time"

	"lead-qualifier/internal/audit"
	"lead-qualifier/internal/leads"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// Repository is the activity source. Both audit repositories satisfy it.
type Repository interface {
	List(ctx context.Context, f audit.Filter) ([]audit.Event, error)
}

type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service { return &Service{repo: repo, clock: time.Now} }

func (s *Service) LeadReport(ctx context.Context, period Period) (LeadReport, error) {
	if s.repo == nil {
		return LeadReport{}, errors.New("reporting: repository not configured")
	}
	if _, err := ParsePeriod(string(period)); err != nil {
		return LeadReport{}, err
	}
	rng := period.Range(s.clock())
	if !rng.To.After(rng.From) {
		return LeadReport{}, ErrInvalidRequest
	}

	rows, err := s.repo.List(ctx, audit.Filter{Since: rng.From, Until: rng.To})
	if err != nil {
		return LeadReport{}, err
	}

	out := LeadReport{Period: period, Range: rng}
	var speedTotal, speedCount int
	for _, e := range rows {
		switch e.Type {
		case audit.EventLeadProcessed:
			out.TotalLeads++
			switch leads.Status(e.Status) {
			case leads.StatusQualified:
				out.QualifiedLeads++
			case leads.StatusUnqualified:
				out.UnqualifiedLeads++
			case leads.StatusNoAnswer:
				out.NoAnswerLeads++
			case leads.StatusCallFailed:
				out.CallFailedLeads++
			}
			if leads.Status(e.Status) != leads.StatusCallFailed {
				speedTotal += e.SpeedToLeadSeconds
				speedCount++
			}
		case audit.EventCallMade:
			if e.Status == audit.StatusSuccess {
				out.CallsMade++
			}
		case audit.EventSMSSent:
			if e.Status == audit.StatusSuccess {
				out.SMSSent++
			}
		case audit.EventLeadError:
			out.Errors++
		}
	}
	if speedCount > 0 {
		out.AverageSpeedToLeadSeconds = round2(float64(speedTotal) / float64(speedCount))
	}
	if out.TotalLeads > 0 {
		out.ConversionRate = round2(float64(out.QualifiedLeads) / float64(out.TotalLeads) * 100)
	}
	return out, nil
}

func round2(f float64) float64 { return math.Round(f*100) / 100 }
