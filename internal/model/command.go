package model

import "time"

type CreateEventCommand struct {
	FamilyID     int64              `json:"family_id"`
	Title        string             `json:"title"`
	StartTime    time.Time          `json:"start_time"`
	EndTime      time.Time          `json:"end_time"`
	IsAllDay     bool               `json:"is_all_day"`
	EventType    EventType          `json:"event_type"`
	Recurrence   *RecurrencePattern `json:"recurrence_pattern"`
	Participants []ParticipantRef   `json:"participants"`
}

// UpdateEventCommand carries only the fields being changed; nil means keep.
type UpdateEventCommand struct {
	Title           *string            `json:"title"`
	StartTime       *time.Time         `json:"start_time"`
	EndTime         *time.Time         `json:"end_time"`
	IsAllDay        *bool              `json:"is_all_day"`
	EventType       *EventType         `json:"event_type"`
	Recurrence      *RecurrencePattern `json:"recurrence_pattern"`
	ClearRecurrence bool               `json:"clear_recurrence"`
	Participants    *[]ParticipantRef  `json:"participants"`
}

func (c *UpdateEventCommand) IsEmpty() bool {
	return c.Title == nil && c.StartTime == nil && c.EndTime == nil && c.IsAllDay == nil &&
		c.EventType == nil && c.Recurrence == nil && !c.ClearRecurrence && c.Participants == nil
}

// TimesChanged reports whether the command moves the event in time.
func (c *UpdateEventCommand) TimesChanged() bool {
	return c.StartTime != nil || c.EndTime != nil
}

type ListFilter struct {
	Participants  []ParticipantRef
	EventType     EventType
	IncludeSynced bool
	Limit         int
	Offset        int
}

type Pagination struct {
	Total   int  `json:"total"`
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
}

type EventList struct {
	Events     []Occurrence `json:"events"`
	Pagination Pagination   `json:"pagination"`
}

// FieldError is a single field-level validation failure.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type ValidationResult struct {
	Valid     bool               `json:"valid"`
	Errors    []FieldError       `json:"errors"`
	Conflicts []ConflictingEvent `json:"conflicts"`
}
