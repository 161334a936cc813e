package scheduling

import (
	"context"
	"errors"
	"strings"

	"github.com/dukerupert/famcal/internal/apperror"
	"github.com/dukerupert/famcal/internal/domain"
	"github.com/dukerupert/famcal/internal/model"
)

// ValidateEvent is a read-only dry run of CreateEvent. Field and participant
// problems are reported in the result rather than as an error. Conflicts are
// detected for both event types but only invalidate a blocker. excludeID,
// when set, is left out of conflict detection so an edit form can validate
// against everything but itself.
func (s *Service) ValidateEvent(ctx context.Context, cmd model.CreateEventCommand, excludeID string, requesterID int64) (_ *model.ValidationResult, err error) {
	const op = "validate_event"
	defer s.observe(op, &err)

	if err := s.requireMember(ctx, op, cmd.FamilyID, requesterID); err != nil {
		return nil, err
	}

	start, end := cmd.StartTime.UTC(), cmd.EndTime.UTC()
	refs := domain.UniqueParticipants(cmd.Participants)
	fields := domain.EventFields(strings.TrimSpace(cmd.Title), start, end, cmd.EventType, normalized(cmd.Recurrence))

	if err := s.checkParticipants(ctx, op, cmd.FamilyID, refs); err != nil {
		var ve *apperror.ValidationError
		if !errors.As(err, &ve) {
			return nil, err
		}
		fields = append(fields, ve.Fields...)
	}

	result := &model.ValidationResult{
		Errors:    []model.FieldError{},
		Conflicts: []model.ConflictingEvent{},
	}
	if len(fields) > 0 {
		result.Errors = fields
	}

	if !start.IsZero() && end.After(start) && len(refs) > 0 {
		conflicts, err := s.events.CheckConflicts(ctx, cmd.FamilyID, start, end, refs, excludeID)
		if err != nil {
			return nil, s.internal(op, err, "family_id", cmd.FamilyID)
		}
		if len(conflicts) > 0 {
			result.Conflicts = conflicts
		}
	}

	result.Valid = len(result.Errors) == 0 && domain.CheckConflicts(cmd.EventType, result.Conflicts) == nil
	return result, nil
}
