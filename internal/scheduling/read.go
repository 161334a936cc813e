package scheduling

import (
	"context"
	"fmt"
	"time"

	"github.com/dukerupert/famcal/internal/apperror"
	"github.com/dukerupert/famcal/internal/model"
	"github.com/dukerupert/famcal/internal/recurrence"
)

// ListEvents returns the family's resolved occurrences overlapping
// [start, end), filtered and paginated.
func (s *Service) ListEvents(ctx context.Context, familyID int64, start, end time.Time, filter model.ListFilter, requesterID int64) (_ *model.EventList, err error) {
	const op = "list_events"
	defer s.observe(op, &err)

	if err := s.checkListArgs(start, end, &filter); err != nil {
		return nil, err
	}
	if err := s.requireMember(ctx, op, familyID, requesterID); err != nil {
		return nil, err
	}

	occs, err := s.events.FindByDateRange(ctx, familyID, start, end)
	if err != nil {
		return nil, s.internal(op, err, "family_id", familyID)
	}

	matched := make([]model.Occurrence, 0, len(occs))
	for _, o := range occs {
		if filter.EventType != "" && o.EventType != filter.EventType {
			continue
		}
		if o.IsSynced && !filter.IncludeSynced {
			continue
		}
		if len(filter.Participants) > 0 && !model.ShareParticipant(filter.Participants, o.Participants) {
			continue
		}
		matched = append(matched, o)
	}

	total := len(matched)
	lo := min(filter.Offset, total)
	hi := min(lo+filter.Limit, total)
	return &model.EventList{
		Events: matched[lo:hi],
		Pagination: model.Pagination{
			Total:   total,
			Limit:   filter.Limit,
			Offset:  filter.Offset,
			HasMore: hi < total,
		},
	}, nil
}

func (s *Service) checkListArgs(start, end time.Time, filter *model.ListFilter) error {
	var fields []model.FieldError
	if start.IsZero() || end.IsZero() || !end.After(start) {
		fields = append(fields, model.FieldError{Field: "end", Message: "must be after start"})
	}
	if filter.Limit == 0 {
		filter.Limit = min(DefaultPageSize, s.maxPageSize)
	}
	if filter.Limit < 0 || filter.Limit > s.maxPageSize {
		fields = append(fields, model.FieldError{Field: "limit", Message: fmt.Sprintf("must be between 1 and %d", s.maxPageSize)})
	}
	if filter.Offset < 0 {
		fields = append(fields, model.FieldError{Field: "offset", Message: "must not be negative"})
	}
	if filter.EventType != "" && !filter.EventType.Valid() {
		fields = append(fields, model.FieldError{Field: "event_type", Message: `must be "elastic" or "blocker"`})
	}
	if len(fields) > 0 {
		return &apperror.ValidationError{Fields: fields}
	}
	return nil
}

// GetEventByID returns the event with its exceptions. When occurrenceDate is
// set, the resolved occurrence for that date is included.
func (s *Service) GetEventByID(ctx context.Context, eventID string, occurrenceDate model.Date, requesterID int64) (_ *model.EventDetail, err error) {
	const op = "get_event"
	defer s.observe(op, &err)

	ev, member, err := s.loadEvent(ctx, op, eventID, requesterID)
	if err != nil {
		return nil, err
	}
	if !member {
		return nil, apperror.Forbidden("requester is not a member of this family")
	}

	detail := &model.EventDetail{Event: *ev, Exceptions: []model.EventException{}}
	if ev.IsRecurring() {
		xs, err := s.events.GetExceptions(ctx, ev.ID)
		if err != nil {
			return nil, s.internal(op, err, "event_id", ev.ID)
		}
		if xs != nil {
			detail.Exceptions = xs
		}
	}

	if !occurrenceDate.IsZero() {
		occ, cancelled, ok := recurrence.OccurrenceOn(ev, detail.Exceptions, occurrenceDate)
		if !ok {
			return nil, apperror.NotFound("occurrence", eventID+"@"+occurrenceDate.String())
		}
		detail.Occurrence = &occ
		detail.Cancelled = cancelled
	}
	return detail, nil
}

// ListSeries returns every stored event of the family with its exceptions,
// for calendar export.
func (s *Service) ListSeries(ctx context.Context, familyID, requesterID int64) (_ []model.EventDetail, err error) {
	const op = "list_series"
	defer s.observe(op, &err)

	if err := s.requireMember(ctx, op, familyID, requesterID); err != nil {
		return nil, err
	}
	details, err := s.events.ListByFamily(ctx, familyID)
	if err != nil {
		return nil, s.internal(op, err, "family_id", familyID)
	}
	return details, nil
}

// ListAudit returns the family's audit trail, newest first.
func (s *Service) ListAudit(ctx context.Context, familyID int64, limit, offset int, requesterID int64) (_ []model.AuditEntry, err error) {
	const op = "list_audit"
	defer s.observe(op, &err)

	if s.auditReader == nil {
		return nil, s.internal(op, errNoAuditReader)
	}
	if limit == 0 {
		limit = min(DefaultPageSize, s.maxPageSize)
	}
	if limit < 0 || limit > s.maxPageSize {
		return nil, apperror.Validation("limit", "must be between 1 and %d", s.maxPageSize)
	}
	if offset < 0 {
		return nil, apperror.Validation("offset", "must not be negative")
	}
	if err := s.requireMember(ctx, op, familyID, requesterID); err != nil {
		return nil, err
	}

	entries, err := s.auditReader.List(ctx, familyID, limit, offset)
	if err != nil {
		return nil, s.internal(op, err, "family_id", familyID)
	}
	if entries == nil {
		entries = []model.AuditEntry{}
	}
	return entries, nil
}
