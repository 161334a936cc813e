package model

import (
	"fmt"
	"time"
)

type EventType string

const (
	EventTypeElastic EventType = "elastic"
	EventTypeBlocker EventType = "blocker"
)

func (t EventType) Valid() bool {
	return t == EventTypeElastic || t == EventTypeBlocker
}

type Frequency string

const (
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
)

func (f Frequency) Valid() bool {
	switch f {
	case FrequencyDaily, FrequencyWeekly, FrequencyMonthly:
		return true
	}
	return false
}

// RecurrencePattern is embedded in its owning event. EndDate is an inclusive
// bound on generated occurrence dates.
type RecurrencePattern struct {
	Frequency Frequency `json:"frequency"`
	Interval  int       `json:"interval"`
	EndDate   Date      `json:"end_date"`
}

// MaxInterval is the largest accepted recurrence interval.
const MaxInterval = 1000

// Normalized returns a copy with Interval defaulted to 1.
func (p RecurrencePattern) Normalized() RecurrencePattern {
	if p.Interval == 0 {
		p.Interval = 1
	}
	return p
}

// Scope is the blast radius of a mutation on a recurring event.
type Scope string

const (
	ScopeThis   Scope = "this"
	ScopeFuture Scope = "future"
	ScopeAll    Scope = "all"
)

func ParseScope(s string) (Scope, error) {
	switch Scope(s) {
	case ScopeThis, ScopeFuture, ScopeAll:
		return Scope(s), nil
	case "":
		return ScopeAll, nil
	}
	return "", fmt.Errorf("unknown scope %q", s)
}

type Event struct {
	ID                 string             `json:"id"`
	FamilyID           int64              `json:"family_id"`
	Title              string             `json:"title"`
	StartTime          time.Time          `json:"start_time"`
	EndTime            time.Time          `json:"end_time"`
	IsAllDay           bool               `json:"is_all_day"`
	EventType          EventType          `json:"event_type"`
	Recurrence         *RecurrencePattern `json:"recurrence_pattern"`
	IsSynced           bool               `json:"is_synced"`
	ExternalCalendarID *string            `json:"external_calendar_id"`
	CreatedBy          int64              `json:"created_by"`
	Participants       []ParticipantRef   `json:"participants"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
}

func (e *Event) IsRecurring() bool {
	return e.Recurrence != nil
}

func (e *Event) Duration() time.Duration {
	return e.EndTime.Sub(e.StartTime)
}

// EventException overrides a single occurrence of a recurring event.
// Nil NewStartTime/NewEndTime means the occurrence keeps its base times.
type EventException struct {
	ID           string     `json:"id"`
	EventID      string     `json:"event_id"`
	OriginalDate Date       `json:"original_date"`
	NewStartTime *time.Time `json:"new_start_time"`
	NewEndTime   *time.Time `json:"new_end_time"`
	IsCancelled  bool       `json:"is_cancelled"`
	CreatedAt    time.Time  `json:"created_at"`
}

func (x *EventException) IsReschedule() bool {
	return !x.IsCancelled && x.NewStartTime != nil && x.NewEndTime != nil
}

// Occurrence is one concrete, exception-applied instance of an event.
type Occurrence struct {
	EventID      string           `json:"event_id"`
	FamilyID     int64            `json:"family_id"`
	Title        string           `json:"title"`
	StartTime    time.Time        `json:"start_time"`
	EndTime      time.Time        `json:"end_time"`
	IsAllDay     bool             `json:"is_all_day"`
	EventType    EventType        `json:"event_type"`
	IsSynced     bool             `json:"is_synced"`
	IsRecurring  bool             `json:"is_recurring"`
	OriginalDate Date             `json:"original_date"`
	IsModified   bool             `json:"is_modified"`
	Participants []ParticipantRef `json:"participants"`
	HasConflict  bool             `json:"has_conflict"`
}

// ConflictingEvent describes a blocker that collides with a candidate interval.
type ConflictingEvent struct {
	ID           string           `json:"id"`
	Title        string           `json:"title"`
	StartTime    time.Time        `json:"start_time"`
	EndTime      time.Time        `json:"end_time"`
	Participants []ParticipantRef `json:"participants"`
}

// EventDetail is an event as returned by a single-event read. When an
// occurrence date was requested, Occurrence carries the resolved instance.
type EventDetail struct {
	Event
	Occurrence *Occurrence      `json:"occurrence,omitempty"`
	Exceptions []EventException `json:"exceptions"`
	Cancelled  bool             `json:"cancelled"`
}
