package audit

import (
	"context"
	"errors"
	"time"

	"lead-qualifier/internal/leads"
	"lead-qualifier/pkg/logger"

	"github.com/google/uuid"
)

// Repository is the persistence contract for activity events.
//
// It MUST be append-only.
type Repository interface {
	Append(ctx context.Context, e Event) error
	List(ctx context.Context, f Filter) ([]Event, error)
}

// Service records pipeline activity for the ops surface and reports.
//
// Callers should treat recording as best-effort: the Record* helpers log
// failures and never return them.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if !e.Type.Valid() {
		return ErrInvalidEvent
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	return s.repo.Append(ctx, e)
}

func (s *Service) List(ctx context.Context, f Filter) ([]Event, error) {
	if s.repo == nil {
		return nil, errors.New("audit: repository not configured")
	}
	return s.repo.List(ctx, f)
}

// LastError returns the most recent lead_error for a lead, or leads.ErrNotFound.
func (s *Service) LastError(ctx context.Context, leadKey string) (Event, error) {
	evs, err := s.List(ctx, Filter{Type: EventLeadError, LeadKey: leadKey, Limit: 1})
	if err != nil {
		return Event{}, err
	}
	if len(evs) == 0 {
		return Event{}, leads.ErrNotFound
	}
	return evs[0], nil
}

func (s *Service) record(ctx context.Context, e Event) {
	if s == nil {
		return
	}
	if err := s.Append(ctx, e); err != nil {
		logger.From(ctx).Warn("activity not recorded", "type", e.Type, "lead_key", e.LeadKey, "err", err)
	}
}

func (s *Service) RecordCallMade(ctx context.Context, lead leads.Lead, callID string, err error) {
	e := Event{Type: EventCallMade, LeadKey: lead.Key, LeadName: lead.Name, LeadPhone: lead.Phone, CallID: callID, Status: StatusSuccess, Message: "outbound call placed"}
	if err != nil {
		e.Status, e.ErrorClass, e.Message = StatusFailed, leads.ClassOf(err), err.Error()
	}
	s.record(ctx, e)
}

func (s *Service) RecordSMSSent(ctx context.Context, leadKey, name, phone string, err error) {
	e := Event{Type: EventSMSSent, LeadKey: leadKey, LeadName: name, LeadPhone: phone, Status: StatusSuccess, Message: "follow-up sms sent"}
	if err != nil {
		e.Status, e.Message = StatusFailed, err.Error()
	}
	s.record(ctx, e)
}

func (s *Service) RecordLeadProcessed(ctx context.Context, r leads.Record, message string) {
	s.record(ctx, Event{
		Type:               EventLeadProcessed,
		LeadKey:            r.Lead.Key,
		LeadName:           r.Lead.Name,
		LeadPhone:          r.Lead.Phone,
		CallID:             r.CallID,
		Status:             string(r.Verdict.Status),
		SpeedToLeadSeconds: r.SpeedToLeadSeconds,
		Message:            message,
	})
}

func (s *Service) RecordLeadError(ctx context.Context, leadKey string, err error) {
	if err == nil {
		return
	}
	s.record(ctx, Event{Type: EventLeadError, LeadKey: leadKey, Status: StatusFailed, ErrorClass: leads.ClassOf(err), Message: err.Error()})
}

func (s *Service) RecordAlert(ctx context.Context, class leads.Class, leadKey, message string) {
	s.record(ctx, Event{Type: EventAlert, LeadKey: leadKey, Status: StatusFailed, ErrorClass: class, Message: message})
}

func (s *Service) RecordCommand(ctx context.Context, actor, command string) {
	s.record(ctx, Event{Type: EventCommand, Actor: actor, Status: StatusSuccess, Message: command})
}
