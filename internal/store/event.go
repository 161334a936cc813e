package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/famcal/internal/conflict"
	"github.com/dukerupert/famcal/internal/model"
	"github.com/dukerupert/famcal/internal/recurrence"
)

type EventStore struct {
	db *sql.DB
}

func NewEventStore(db *sql.DB) *EventStore {
	return &EventStore{db: db}
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const eventCols = `id, family_id, title, start_time, end_time, is_all_day, event_type,
	recurrence_frequency, recurrence_interval, recurrence_end_date,
	is_synced, external_calendar_id, created_by, created_at, updated_at`

const exceptionCols = `id, event_id, original_date, new_start_time, new_end_time, is_cancelled, created_at`

func scanEvent(scanner interface{ Scan(...any) error }) (*model.Event, error) {
	var e model.Event
	var eventType string
	var freq, externalID sql.NullString
	var interval int
	var endDate model.Date

	err := scanner.Scan(
		&e.ID, &e.FamilyID, &e.Title, &e.StartTime, &e.EndTime, &e.IsAllDay, &eventType,
		&freq, &interval, &endDate,
		&e.IsSynced, &externalID, &e.CreatedBy, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	e.EventType = model.EventType(eventType)
	e.StartTime = e.StartTime.UTC()
	e.EndTime = e.EndTime.UTC()
	if freq.Valid {
		e.Recurrence = &model.RecurrencePattern{
			Frequency: model.Frequency(freq.String),
			Interval:  interval,
			EndDate:   endDate,
		}
	}
	if externalID.Valid {
		e.ExternalCalendarID = &externalID.String
	}
	return &e, nil
}

func scanException(scanner interface{ Scan(...any) error }) (*model.EventException, error) {
	var x model.EventException
	var newStart, newEnd sql.NullTime

	err := scanner.Scan(&x.ID, &x.EventID, &x.OriginalDate, &newStart, &newEnd, &x.IsCancelled, &x.CreatedAt)
	if err != nil {
		return nil, err
	}
	if newStart.Valid {
		t := newStart.Time.UTC()
		x.NewStartTime = &t
	}
	if newEnd.Valid {
		t := newEnd.Time.UTC()
		x.NewEndTime = &t
	}
	return &x, nil
}

// FindByID returns the event with its participants, or nil if it does not exist.
func (s *EventStore) FindByID(ctx context.Context, id string) (*model.Event, error) {
	return findEvent(ctx, s.db, id)
}

func findEvent(ctx context.Context, q querier, id string) (*model.Event, error) {
	row := q.QueryRowContext(ctx, `SELECT `+eventCols+` FROM events WHERE id = ?`, id)
	e, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get event: %w", err)
	}

	parts, err := participantsFor(ctx, q, []string{id})
	if err != nil {
		return nil, err
	}
	e.Participants = parts[id]
	return e, nil
}

// Create inserts ev and its participant associations. An empty ID is
// assigned a new UUID.
func (s *EventStore) Create(ctx context.Context, ev *model.Event) (*model.Event, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := insertEvent(ctx, tx, ev); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return s.FindByID(ctx, ev.ID)
}

func insertEvent(ctx context.Context, q querier, ev *model.Event) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	freq, interval, endDate := patternArgs(ev.Recurrence)

	_, err := q.ExecContext(ctx,
		`INSERT INTO events (id, family_id, title, start_time, end_time, is_all_day, event_type,
			recurrence_frequency, recurrence_interval, recurrence_end_date,
			is_synced, external_calendar_id, created_by, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.FamilyID, ev.Title, ev.StartTime.UTC(), ev.EndTime.UTC(), ev.IsAllDay, string(ev.EventType),
		freq, interval, endDate,
		ev.IsSynced, ev.ExternalCalendarID, ev.CreatedBy, now, now,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return addParticipants(ctx, q, ev.ID, ev.Participants)
}

func patternArgs(p *model.RecurrencePattern) (freq sql.NullString, interval int, endDate model.Date) {
	if p == nil {
		return sql.NullString{}, 1, model.Date{}
	}
	n := p.Normalized()
	return sql.NullString{String: string(n.Frequency), Valid: true}, n.Interval, n.EndDate
}

// Update writes every mutable column of ev and replaces its participant set.
// When clearExceptions is set, all of the event's exceptions are removed in
// the same transaction.
func (s *EventStore) Update(ctx context.Context, ev *model.Event, clearExceptions bool) (*model.Event, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := updateEvent(ctx, tx, ev); err != nil {
		return nil, err
	}
	if err := replaceParticipants(ctx, tx, ev.ID, ev.Participants); err != nil {
		return nil, err
	}
	if clearExceptions {
		if _, err := deleteExceptions(ctx, tx, ev.ID); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return s.FindByID(ctx, ev.ID)
}

func updateEvent(ctx context.Context, q querier, ev *model.Event) error {
	freq, interval, endDate := patternArgs(ev.Recurrence)
	res, err := q.ExecContext(ctx,
		`UPDATE events
		 SET title = ?, start_time = ?, end_time = ?, is_all_day = ?, event_type = ?,
		     recurrence_frequency = ?, recurrence_interval = ?, recurrence_end_date = ?, updated_at = ?
		 WHERE id = ?`,
		ev.Title, ev.StartTime.UTC(), ev.EndTime.UTC(), ev.IsAllDay, string(ev.EventType),
		freq, interval, endDate, time.Now().UTC(), ev.ID,
	)
	if err != nil {
		return fmt.Errorf("update event: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("update event %s: %w", ev.ID, sql.ErrNoRows)
	}
	return nil
}

// Split ends series id at cut and optionally starts successor in its place,
// all in one transaction. head is the rewritten series (normally with its end
// date moved before cut); a nil head deletes the series instead. Exceptions of
// the series on or after cut are dropped.
func (s *EventStore) Split(ctx context.Context, id string, head *model.Event, cut model.Date, successor *model.Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	switch {
	case head == nil:
		if _, err := tx.ExecContext(ctx, `DELETE FROM events WHERE id = ?`, id); err != nil {
			return fmt.Errorf("delete event: %w", err)
		}
	case head.Recurrence == nil:
		if err := updateEvent(ctx, tx, head); err != nil {
			return err
		}
		if _, err := deleteExceptions(ctx, tx, id); err != nil {
			return err
		}
	default:
		if err := updateEvent(ctx, tx, head); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`DELETE FROM event_exceptions WHERE event_id = ? AND original_date >= ?`,
			id, cut,
		)
		if err != nil {
			return fmt.Errorf("delete trailing exceptions: %w", err)
		}
	}

	if successor != nil {
		if err := insertEvent(ctx, tx, successor); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Delete removes the event. Participants and exceptions cascade.
func (s *EventStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete event: %w", err)
	}
	return nil
}

// CreateException writes x, replacing any existing exception for the same
// (event_id, original_date).
func (s *EventStore) CreateException(ctx context.Context, x *model.EventException) (*model.EventException, error) {
	if x.ID == "" {
		x.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO event_exceptions (id, event_id, original_date, new_start_time, new_end_time, is_cancelled, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (event_id, original_date) DO UPDATE SET
		     new_start_time = excluded.new_start_time,
		     new_end_time = excluded.new_end_time,
		     is_cancelled = excluded.is_cancelled`,
		x.ID, x.EventID, x.OriginalDate, nullTime(x.NewStartTime), nullTime(x.NewEndTime), x.IsCancelled, time.Now().UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("upsert event exception: %w", err)
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT `+exceptionCols+` FROM event_exceptions WHERE event_id = ? AND original_date = ?`,
		x.EventID, x.OriginalDate,
	)
	saved, err := scanException(row)
	if err != nil {
		return nil, fmt.Errorf("get event exception: %w", err)
	}
	return saved, nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

// GetExceptions returns the event's exceptions ordered by original date.
func (s *EventStore) GetExceptions(ctx context.Context, eventID string) ([]model.EventException, error) {
	byEvent, err := exceptionsFor(ctx, s.db, []string{eventID})
	if err != nil {
		return nil, err
	}
	return byEvent[eventID], nil
}

// DeleteExceptions removes every exception of the event and reports how many
// there were.
func (s *EventStore) DeleteExceptions(ctx context.Context, eventID string) (int64, error) {
	return deleteExceptions(ctx, s.db, eventID)
}

func deleteExceptions(ctx context.Context, q querier, eventID string) (int64, error) {
	res, err := q.ExecContext(ctx, `DELETE FROM event_exceptions WHERE event_id = ?`, eventID)
	if err != nil {
		return 0, fmt.Errorf("delete event exceptions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

func (s *EventStore) GetParticipants(ctx context.Context, eventID string) ([]model.ParticipantRef, error) {
	byEvent, err := participantsFor(ctx, s.db, []string{eventID})
	if err != nil {
		return nil, err
	}
	return byEvent[eventID], nil
}

// AddParticipants associates refs with the event. Existing associations are kept.
func (s *EventStore) AddParticipants(ctx context.Context, eventID string, refs []model.ParticipantRef) error {
	return addParticipants(ctx, s.db, eventID, refs)
}

func (s *EventStore) RemoveParticipants(ctx context.Context, eventID string, refs []model.ParticipantRef) error {
	for _, r := range refs {
		_, err := s.db.ExecContext(ctx,
			`DELETE FROM event_participants WHERE event_id = ? AND participant_type = ? AND participant_id = ?`,
			eventID, r.Type.String(), r.ID,
		)
		if err != nil {
			return fmt.Errorf("remove participant: %w", err)
		}
	}
	return nil
}

func addParticipants(ctx context.Context, q querier, eventID string, refs []model.ParticipantRef) error {
	for _, r := range refs {
		_, err := q.ExecContext(ctx,
			`INSERT OR IGNORE INTO event_participants (event_id, participant_type, participant_id) VALUES (?, ?, ?)`,
			eventID, r.Type.String(), r.ID,
		)
		if err != nil {
			return fmt.Errorf("add participant: %w", err)
		}
	}
	return nil
}

func replaceParticipants(ctx context.Context, q querier, eventID string, refs []model.ParticipantRef) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM event_participants WHERE event_id = ?`, eventID); err != nil {
		return fmt.Errorf("clear participants: %w", err)
	}
	return addParticipants(ctx, q, eventID, refs)
}

// CheckConflicts returns the family's blocker events, other than excludeID,
// that overlap [start, end) and share a participant with participants.
func (s *EventStore) CheckConflicts(ctx context.Context, familyID int64, start, end time.Time, participants []model.ParticipantRef, excludeID string) ([]model.ConflictingEvent, error) {
	if len(participants) == 0 {
		return nil, nil
	}
	events, err := loadEvents(ctx, s.db,
		`SELECT `+eventCols+` FROM events
		 WHERE family_id = ? AND event_type = ? AND start_time < ? AND end_time > ? AND id != ?
		 ORDER BY start_time`,
		familyID, string(model.EventTypeBlocker), end.UTC(), start.UTC(), excludeID,
	)
	if err != nil {
		return nil, err
	}
	return conflict.Detect(conflict.Query{
		FamilyID:     familyID,
		Start:        start,
		End:          end,
		Participants: participants,
		ExcludeID:    excludeID,
	}, events), nil
}

// FindByDateRange returns the family's resolved occurrences overlapping
// [start, end), sorted by start time, with per-occurrence conflict flags set.
func (s *EventStore) FindByDateRange(ctx context.Context, familyID int64, start, end time.Time) ([]model.Occurrence, error) {
	events, err := loadEvents(ctx, s.db,
		`SELECT `+eventCols+` FROM events
		 WHERE family_id = ? AND (
		     (recurrence_frequency IS NULL AND start_time < ? AND end_time > ?)
		     OR (recurrence_frequency IS NOT NULL AND start_time < ?)
		     OR id IN (SELECT event_id FROM event_exceptions
		               WHERE is_cancelled = 0 AND new_start_time < ? AND new_end_time > ?)
		 )
		 ORDER BY start_time`,
		familyID, end.UTC(), start.UTC(), end.UTC(), end.UTC(), start.UTC(),
	)
	if err != nil {
		return nil, err
	}

	var recurring []string
	for _, e := range events {
		if e.IsRecurring() {
			recurring = append(recurring, e.ID)
		}
	}
	exceptions, err := exceptionsFor(ctx, s.db, recurring)
	if err != nil {
		return nil, err
	}

	var occs []model.Occurrence
	for i := range events {
		occs = append(occs, recurrence.Resolve(&events[i], exceptions[events[i].ID], start, end)...)
	}
	conflict.Flag(occs)
	return occs, nil
}

// ListByFamily returns every event of the family with its participants and
// exceptions, ordered by start time.
func (s *EventStore) ListByFamily(ctx context.Context, familyID int64) ([]model.EventDetail, error) {
	events, err := loadEvents(ctx, s.db,
		`SELECT `+eventCols+` FROM events WHERE family_id = ? ORDER BY start_time`,
		familyID,
	)
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(events))
	for i, e := range events {
		ids[i] = e.ID
	}
	exceptions, err := exceptionsFor(ctx, s.db, ids)
	if err != nil {
		return nil, err
	}

	details := make([]model.EventDetail, len(events))
	for i, e := range events {
		details[i] = model.EventDetail{Event: e, Exceptions: exceptions[e.ID]}
	}
	return details, nil
}

// loadEvents runs query, scans every row and then attaches participants.
// Rows are closed before the participant query runs.
func loadEvents(ctx context.Context, q querier, query string, args ...any) ([]model.Event, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}

	var events []model.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, *e)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	rows.Close()

	if len(events) == 0 {
		return nil, nil
	}
	ids := make([]string, len(events))
	for i, e := range events {
		ids[i] = e.ID
	}
	parts, err := participantsFor(ctx, q, ids)
	if err != nil {
		return nil, err
	}
	for i := range events {
		events[i].Participants = parts[events[i].ID]
	}
	return events, nil
}

func participantsFor(ctx context.Context, q querier, ids []string) (map[string][]model.ParticipantRef, error) {
	out := make(map[string][]model.ParticipantRef, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := q.QueryContext(ctx,
		`SELECT event_id, participant_type, participant_id FROM event_participants
		 WHERE event_id IN (`+placeholders(len(ids))+`) ORDER BY rowid`,
		stringArgs(ids)...,
	)
	if err != nil {
		return nil, fmt.Errorf("query participants: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var eventID, kind string
		var ref model.ParticipantRef
		if err := rows.Scan(&eventID, &kind, &ref.ID); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		if ref.Type, err = model.ParseParticipantType(kind); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		out[eventID] = append(out[eventID], ref)
	}
	return out, rows.Err()
}

func exceptionsFor(ctx context.Context, q querier, ids []string) (map[string][]model.EventException, error) {
	out := make(map[string][]model.EventException, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := q.QueryContext(ctx,
		`SELECT `+exceptionCols+` FROM event_exceptions
		 WHERE event_id IN (`+placeholders(len(ids))+`) ORDER BY event_id, original_date`,
		stringArgs(ids)...,
	)
	if err != nil {
		return nil, fmt.Errorf("query event exceptions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		x, err := scanException(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event exception: %w", err)
		}
		out[x.EventID] = append(out[x.EventID], *x)
	}
	return out, rows.Err()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func stringArgs(ss []string) []any {
	args := make([]any, len(ss))
	for i, s := range ss {
		args[i] = s
	}
	return args
}
