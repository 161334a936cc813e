package scheduling

import (
	"context"
	"strings"
	"time"

	"github.com/dukerupert/famcal/internal/apperror"
	"github.com/dukerupert/famcal/internal/domain"
	"github.com/dukerupert/famcal/internal/model"
	"github.com/dukerupert/famcal/internal/recurrence"
)

// CreateEvent validates and persists a new local event.
func (s *Service) CreateEvent(ctx context.Context, cmd model.CreateEventCommand, requesterID int64) (_ *model.Event, err error) {
	const op = "create_event"
	defer s.observe(op, &err)

	if err := s.requireMember(ctx, op, cmd.FamilyID, requesterID); err != nil {
		return nil, err
	}

	ev := &model.Event{
		FamilyID:     cmd.FamilyID,
		Title:        strings.TrimSpace(cmd.Title),
		StartTime:    cmd.StartTime.UTC(),
		EndTime:      cmd.EndTime.UTC(),
		IsAllDay:     cmd.IsAllDay,
		EventType:    cmd.EventType,
		Recurrence:   normalized(cmd.Recurrence),
		CreatedBy:    requesterID,
		Participants: domain.UniqueParticipants(cmd.Participants),
	}
	if err := domain.ValidateEvent(ev.Title, ev.StartTime, ev.EndTime, ev.EventType, ev.Recurrence); err != nil {
		return nil, err
	}
	if err := s.checkParticipants(ctx, op, ev.FamilyID, ev.Participants); err != nil {
		return nil, err
	}
	if err := s.checkConflicts(ctx, op, ev, ""); err != nil {
		return nil, err
	}

	created, err := s.events.Create(ctx, ev)
	if err != nil {
		return nil, s.internal(op, err, "family_id", ev.FamilyID)
	}

	s.record(created.FamilyID, requesterID, ActionCreate, created.ID, map[string]any{
		"title":      created.Title,
		"event_type": string(created.EventType),
		"recurring":  created.IsRecurring(),
	})
	return created, nil
}

// UpdateEvent applies cmd to the event according to scope:
//
//   - this: moves occurrenceDate by writing an exception; the series is
//     untouched. Only start and end may change, and a cancelled occurrence
//     cannot be moved.
//   - future: ends the series before occurrenceDate and, when cmd carries
//     changes, starts a successor series there with them applied.
//   - all: rewrites the event and drops every exception of a series.
//
// For scope future the returned event is the successor when one was created,
// otherwise the truncated series.
func (s *Service) UpdateEvent(ctx context.Context, eventID string, cmd model.UpdateEventCommand, scope model.Scope, occurrenceDate model.Date, requesterID int64) (_ *model.Event, err error) {
	const op = "update_event"
	defer s.observe(op, &err)

	ev, member, err := s.loadEvent(ctx, op, eventID, requesterID)
	if err != nil {
		return nil, err
	}
	if err := domain.CanModify(ev, member); err != nil {
		return nil, err
	}
	if err := domain.ValidateScope(scope, ev.Recurrence, occurrenceDate); err != nil {
		return nil, err
	}

	switch scope {
	case model.ScopeThis:
		return s.updateOccurrence(ctx, op, ev, &cmd, occurrenceDate, requesterID)
	case model.ScopeFuture:
		return s.updateFuture(ctx, op, ev, &cmd, occurrenceDate, requesterID)
	}
	return s.updateAll(ctx, op, ev, &cmd, requesterID, model.ScopeAll)
}

func (s *Service) updateAll(ctx context.Context, op string, ev *model.Event, cmd *model.UpdateEventCommand, requesterID int64, scope model.Scope) (*model.Event, error) {
	if cmd.IsEmpty() {
		return nil, apperror.Validation("", "no changes supplied")
	}

	next := applyUpdate(*ev, cmd)
	if err := domain.ValidateEvent(next.Title, next.StartTime, next.EndTime, next.EventType, next.Recurrence); err != nil {
		return nil, err
	}
	if cmd.Participants != nil {
		if err := s.checkParticipants(ctx, op, next.FamilyID, next.Participants); err != nil {
			return nil, err
		}
	}
	if err := s.checkConflicts(ctx, op, &next, ev.ID); err != nil {
		return nil, err
	}

	clearExceptions := ev.IsRecurring()
	updated, err := s.events.Update(ctx, &next, clearExceptions)
	if err != nil {
		return nil, s.internal(op, err, "event_id", ev.ID, "family_id", ev.FamilyID)
	}

	s.record(ev.FamilyID, requesterID, ActionUpdate, ev.ID, map[string]any{
		"scope":              string(scope),
		"exceptions_cleared": clearExceptions,
	})
	return updated, nil
}

func (s *Service) updateOccurrence(ctx context.Context, op string, ev *model.Event, cmd *model.UpdateEventCommand, date model.Date, requesterID int64) (*model.Event, error) {
	if err := singleOccurrenceFields(cmd); err != nil {
		return nil, err
	}
	if !cmd.TimesChanged() {
		return nil, apperror.Validation("", "no changes supplied")
	}

	exceptions, err := s.events.GetExceptions(ctx, ev.ID)
	if err != nil {
		return nil, s.internal(op, err, "event_id", ev.ID)
	}
	occ, cancelled, ok := recurrence.OccurrenceOn(ev, exceptions, date)
	if !ok {
		return nil, notAnOccurrence(date)
	}
	if cancelled {
		return nil, apperror.Validation("occurrence_date", "occurrence %s is cancelled", date)
	}

	start, end := moveInterval(occ.StartTime, occ.EndTime, cmd)
	if err := domain.ValidateEvent(ev.Title, start, end, ev.EventType, nil); err != nil {
		return nil, err
	}

	probe := *ev
	probe.StartTime, probe.EndTime = start, end
	if err := s.checkConflicts(ctx, op, &probe, ev.ID); err != nil {
		return nil, err
	}

	x := &model.EventException{EventID: ev.ID, OriginalDate: date, NewStartTime: &start, NewEndTime: &end}
	if _, err := s.events.CreateException(ctx, x); err != nil {
		return nil, s.internal(op, err, "event_id", ev.ID, "occurrence_date", date.String())
	}

	s.record(ev.FamilyID, requesterID, ActionUpdate, ev.ID, map[string]any{
		"scope":           string(model.ScopeThis),
		"occurrence_date": date.String(),
	})
	return ev, nil
}

// singleOccurrenceFields rejects changes an exception cannot carry. An
// occurrence only stores its own start and end.
func singleOccurrenceFields(cmd *model.UpdateEventCommand) error {
	var fields []model.FieldError
	reject := func(field string, set bool) {
		if set {
			fields = append(fields, model.FieldError{Field: field, Message: "cannot be changed for a single occurrence"})
		}
	}
	reject("title", cmd.Title != nil)
	reject("is_all_day", cmd.IsAllDay != nil)
	reject("event_type", cmd.EventType != nil)
	reject("recurrence_pattern", cmd.Recurrence != nil || cmd.ClearRecurrence)
	reject("participants", cmd.Participants != nil)
	if len(fields) > 0 {
		return &apperror.ValidationError{Fields: fields}
	}
	return nil
}

func (s *Service) updateFuture(ctx context.Context, op string, ev *model.Event, cmd *model.UpdateEventCommand, date model.Date, requesterID int64) (*model.Event, error) {
	seq := recurrence.NewSequence(*ev.Recurrence, ev.StartTime, ev.EndTime)
	raw, ok := seq.On(date)
	if !ok {
		return nil, notAnOccurrence(date)
	}
	if first, _ := seq.First(); first.Date == date {
		return s.updateAll(ctx, op, ev, cmd, requesterID, model.ScopeFuture)
	}

	exceptions, err := s.events.GetExceptions(ctx, ev.ID)
	if err != nil {
		return nil, s.internal(op, err, "event_id", ev.ID)
	}
	head := truncate(ev, exceptions, date)

	var successor *model.Event
	if !cmd.IsEmpty() {
		base := *ev
		base.StartTime, base.EndTime = raw.Start, raw.End
		next := applyUpdate(base, cmd)
		next.ID = ""
		next.CreatedBy = requesterID
		// An inherited pattern may leave the successor with a single date.
		if next.Recurrence != nil && cmd.Recurrence == nil && !next.Recurrence.EndDate.Time().After(next.StartTime) {
			next.Recurrence = nil
		}

		if err := domain.ValidateEvent(next.Title, next.StartTime, next.EndTime, next.EventType, next.Recurrence); err != nil {
			return nil, err
		}
		if cmd.Participants != nil {
			if err := s.checkParticipants(ctx, op, next.FamilyID, next.Participants); err != nil {
				return nil, err
			}
		}
		if err := s.checkConflicts(ctx, op, &next, ev.ID); err != nil {
			return nil, err
		}
		successor = &next
	}

	if err := s.events.Split(ctx, ev.ID, head, date, successor); err != nil {
		return nil, s.internal(op, err, "event_id", ev.ID, "occurrence_date", date.String())
	}

	details := map[string]any{
		"scope":           string(model.ScopeFuture),
		"occurrence_date": date.String(),
	}
	resultID := ev.ID
	if successor != nil {
		details["successor_id"] = successor.ID
		resultID = successor.ID
	}
	if head == nil {
		details["series_deleted"] = true
	}
	s.record(ev.FamilyID, requesterID, ActionUpdate, ev.ID, details)

	result, err := s.events.FindByID(ctx, resultID)
	if err != nil {
		return nil, s.internal(op, err, "event_id", resultID)
	}
	if result == nil {
		// The series was removed entirely and nothing replaced it.
		return nil, apperror.NotFound("event", resultID)
	}
	return result, nil
}

// DeleteEvent removes the event according to scope: this cancels one
// occurrence, future ends the series before occurrenceDate, all deletes the
// event outright.
func (s *Service) DeleteEvent(ctx context.Context, eventID string, scope model.Scope, occurrenceDate model.Date, requesterID int64) (err error) {
	const op = "delete_event"
	defer s.observe(op, &err)

	ev, member, err := s.loadEvent(ctx, op, eventID, requesterID)
	if err != nil {
		return err
	}
	if err := domain.CanModify(ev, member); err != nil {
		return err
	}
	if err := domain.ValidateScope(scope, ev.Recurrence, occurrenceDate); err != nil {
		return err
	}

	details := map[string]any{"scope": string(scope)}
	if !occurrenceDate.IsZero() && scope != model.ScopeAll {
		details["occurrence_date"] = occurrenceDate.String()
	}

	switch scope {
	case model.ScopeThis:
		seq := recurrence.NewSequence(*ev.Recurrence, ev.StartTime, ev.EndTime)
		if _, ok := seq.On(occurrenceDate); !ok {
			return notAnOccurrence(occurrenceDate)
		}
		x := &model.EventException{EventID: ev.ID, OriginalDate: occurrenceDate, IsCancelled: true}
		if _, err := s.events.CreateException(ctx, x); err != nil {
			return s.internal(op, err, "event_id", ev.ID, "occurrence_date", occurrenceDate.String())
		}

	case model.ScopeFuture:
		seq := recurrence.NewSequence(*ev.Recurrence, ev.StartTime, ev.EndTime)
		if _, ok := seq.On(occurrenceDate); !ok {
			return notAnOccurrence(occurrenceDate)
		}
		if first, _ := seq.First(); first.Date == occurrenceDate {
			if err := s.events.Delete(ctx, ev.ID); err != nil {
				return s.internal(op, err, "event_id", ev.ID)
			}
			details["series_deleted"] = true
			break
		}
		exceptions, err := s.events.GetExceptions(ctx, ev.ID)
		if err != nil {
			return s.internal(op, err, "event_id", ev.ID)
		}
		head := truncate(ev, exceptions, occurrenceDate)
		if err := s.events.Split(ctx, ev.ID, head, occurrenceDate, nil); err != nil {
			return s.internal(op, err, "event_id", ev.ID, "occurrence_date", occurrenceDate.String())
		}
		if head == nil {
			details["series_deleted"] = true
		}

	default:
		if err := s.events.Delete(ctx, ev.ID); err != nil {
			return s.internal(op, err, "event_id", ev.ID)
		}
	}

	s.record(ev.FamilyID, requesterID, ActionDelete, ev.ID, details)
	return nil
}

func (s *Service) checkParticipants(ctx context.Context, op string, familyID int64, refs []model.ParticipantRef) error {
	if len(refs) == 0 {
		return nil
	}
	members, children, err := s.roster(ctx, familyID)
	if err != nil {
		return s.internal(op, err, "family_id", familyID)
	}
	return domain.ValidateParticipants(refs, members, children)
}

// checkConflicts runs blocker detection on ev's base interval. Elastic
// events are never rejected, so detection is skipped for them here.
func (s *Service) checkConflicts(ctx context.Context, op string, ev *model.Event, excludeID string) error {
	if ev.EventType != model.EventTypeBlocker {
		return nil
	}
	conflicts, err := s.events.CheckConflicts(ctx, ev.FamilyID, ev.StartTime, ev.EndTime, ev.Participants, excludeID)
	if err != nil {
		return s.internal(op, err, "family_id", ev.FamilyID)
	}
	return domain.CheckConflicts(ev.EventType, conflicts)
}

func notAnOccurrence(d model.Date) error {
	return apperror.Validation("occurrence_date", "%s is not an occurrence of this event", d)
}

func normalized(p *model.RecurrencePattern) *model.RecurrencePattern {
	if p == nil {
		return nil
	}
	n := p.Normalized()
	return &n
}

// applyUpdate returns ev with every field cmd supplies replaced. The
// returned event never shares its pattern with ev.
func applyUpdate(ev model.Event, cmd *model.UpdateEventCommand) model.Event {
	if ev.Recurrence != nil {
		p := *ev.Recurrence
		ev.Recurrence = &p
	}
	if cmd.Title != nil {
		ev.Title = strings.TrimSpace(*cmd.Title)
	}
	ev.StartTime, ev.EndTime = moveInterval(ev.StartTime, ev.EndTime, cmd)
	if cmd.IsAllDay != nil {
		ev.IsAllDay = *cmd.IsAllDay
	}
	if cmd.EventType != nil {
		ev.EventType = *cmd.EventType
	}
	switch {
	case cmd.ClearRecurrence:
		ev.Recurrence = nil
	case cmd.Recurrence != nil:
		ev.Recurrence = normalized(cmd.Recurrence)
	}
	if cmd.Participants != nil {
		ev.Participants = domain.UniqueParticipants(*cmd.Participants)
	}
	return ev
}

// moveInterval applies the command's times to [start, end). A lone new start
// keeps the original duration.
func moveInterval(start, end time.Time, cmd *model.UpdateEventCommand) (time.Time, time.Time) {
	switch {
	case cmd.StartTime != nil && cmd.EndTime != nil:
		return cmd.StartTime.UTC(), cmd.EndTime.UTC()
	case cmd.StartTime != nil:
		return cmd.StartTime.UTC(), cmd.StartTime.UTC().Add(end.Sub(start))
	case cmd.EndTime != nil:
		return start, cmd.EndTime.UTC()
	}
	return start, end
}

// truncate returns ev ending the day before cut. When only the first
// occurrence would remain it becomes a single event carrying that
// occurrence's times; nil means that occurrence was cancelled and nothing
// remains.
func truncate(ev *model.Event, exceptions []model.EventException, cut model.Date) *model.Event {
	head := *ev
	p := *ev.Recurrence
	p.EndDate = cut.AddDays(-1)
	head.Recurrence = &p
	if p.EndDate.Time().After(head.StartTime) {
		return &head
	}

	first := model.DateOf(ev.StartTime)
	for _, x := range exceptions {
		if x.OriginalDate != first {
			continue
		}
		if x.IsCancelled {
			return nil
		}
		if x.IsReschedule() {
			head.StartTime, head.EndTime = *x.NewStartTime, *x.NewEndTime
		}
	}
	head.Recurrence = nil
	return &head
}
