// Package domain holds the pure business rules for a single event. Nothing
// here performs I/O.
package domain

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dukerupert/famcal/internal/apperror"
	"github.com/dukerupert/famcal/internal/model"
)

const MaxTitleLength = 200

// ValidateParticipants fails if any user reference is not a family member or
// any child reference is not on the family's roster.
func ValidateParticipants(refs []model.ParticipantRef, members []model.FamilyMember, children []model.Child) error {
	users := make(map[int64]struct{}, len(members))
	for _, m := range members {
		users[m.UserID] = struct{}{}
	}
	kids := make(map[int64]struct{}, len(children))
	for _, c := range children {
		kids[c.ID] = struct{}{}
	}

	var fields []model.FieldError
	for i, ref := range refs {
		var found bool
		switch ref.Type {
		case model.ParticipantUser:
			_, found = users[ref.ID]
		case model.ParticipantChild:
			_, found = kids[ref.ID]
		default:
			fields = append(fields, model.FieldError{
				Field:   fmt.Sprintf("participants[%d]", i),
				Message: fmt.Sprintf("participant %d has an unknown type", ref.ID),
			})
			continue
		}
		if !found {
			fields = append(fields, model.FieldError{
				Field:   fmt.Sprintf("participants[%d]", i),
				Message: fmt.Sprintf("%s %d not found in family", ref.Type, ref.ID),
			})
		}
	}
	if len(fields) > 0 {
		return &apperror.ValidationError{Fields: fields}
	}
	return nil
}

// CanModify fails when the requester is outside the family or the event is
// mirrored from an external calendar.
func CanModify(ev *model.Event, requesterIsFamilyMember bool) error {
	if !requesterIsFamilyMember {
		return apperror.Forbidden("requester is not a member of this family")
	}
	if ev.IsSynced {
		return apperror.Forbidden("synced events cannot be modified")
	}
	return nil
}

// ValidateScope checks that "this" and "future" are only used on a recurring
// event with an occurrence date. "all" is always legal.
func ValidateScope(scope model.Scope, pattern *model.RecurrencePattern, occurrenceDate model.Date) error {
	switch scope {
	case model.ScopeAll:
		return nil
	case model.ScopeThis, model.ScopeFuture:
		if pattern == nil {
			return apperror.Validation("scope", "scope %q requires a recurring event", scope)
		}
		if occurrenceDate.IsZero() {
			return apperror.Validation("occurrence_date", "scope %q requires an occurrence date", scope)
		}
		return nil
	}
	return apperror.Validation("scope", "unknown scope %q", scope)
}

// CheckConflicts turns detected conflicts into a ConflictError for blockers.
// Elastic events never fail here.
func CheckConflicts(eventType model.EventType, conflicts []model.ConflictingEvent) error {
	if eventType != model.EventTypeBlocker || len(conflicts) == 0 {
		return nil
	}
	return &apperror.ConflictError{Conflicts: conflicts}
}

// EventFields collects field-level problems with an event's own values.
func EventFields(title string, start, end time.Time, eventType model.EventType, pattern *model.RecurrencePattern) []model.FieldError {
	var fields []model.FieldError

	title = strings.TrimSpace(title)
	switch n := utf8.RuneCountInString(title); {
	case n == 0:
		fields = append(fields, model.FieldError{Field: "title", Message: "is required"})
	case n > MaxTitleLength:
		fields = append(fields, model.FieldError{Field: "title", Message: fmt.Sprintf("must be at most %d characters", MaxTitleLength)})
	}

	if start.IsZero() {
		fields = append(fields, model.FieldError{Field: "start_time", Message: "is required"})
	}
	if end.IsZero() {
		fields = append(fields, model.FieldError{Field: "end_time", Message: "is required"})
	}
	if !start.IsZero() && !end.IsZero() && !end.After(start) {
		fields = append(fields, model.FieldError{Field: "end_time", Message: "must be after start_time"})
	}

	if !eventType.Valid() {
		fields = append(fields, model.FieldError{Field: "event_type", Message: `must be "elastic" or "blocker"`})
	}

	if pattern != nil {
		fields = append(fields, PatternFields(*pattern, start)...)
	}
	return fields
}

// PatternFields validates a recurrence pattern against its event's start.
func PatternFields(p model.RecurrencePattern, start time.Time) []model.FieldError {
	var fields []model.FieldError
	if !p.Frequency.Valid() {
		fields = append(fields, model.FieldError{Field: "recurrence_pattern.frequency", Message: `must be "daily", "weekly" or "monthly"`})
	}
	switch {
	case p.Interval < 0:
		fields = append(fields, model.FieldError{Field: "recurrence_pattern.interval", Message: "must be a positive integer"})
	case p.Interval > model.MaxInterval:
		fields = append(fields, model.FieldError{Field: "recurrence_pattern.interval", Message: fmt.Sprintf("must be at most %d", model.MaxInterval)})
	}
	switch {
	case p.EndDate.IsZero():
		fields = append(fields, model.FieldError{Field: "recurrence_pattern.end_date", Message: "is required"})
	case !start.IsZero() && !p.EndDate.Time().After(start):
		fields = append(fields, model.FieldError{Field: "recurrence_pattern.end_date", Message: "must be after start_time"})
	}
	return fields
}

// ValidateEvent returns a ValidationError when EventFields finds problems.
func ValidateEvent(title string, start, end time.Time, eventType model.EventType, pattern *model.RecurrencePattern) error {
	if fields := EventFields(title, start, end, eventType, pattern); len(fields) > 0 {
		return &apperror.ValidationError{Fields: fields}
	}
	return nil
}

// UniqueParticipants drops repeated references, keeping first-seen order.
func UniqueParticipants(refs []model.ParticipantRef) []model.ParticipantRef {
	seen := make(map[model.ParticipantRef]struct{}, len(refs))
	out := make([]model.ParticipantRef, 0, len(refs))
	for _, r := range refs {
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out
}
