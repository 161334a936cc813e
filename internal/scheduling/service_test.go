package scheduling

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dukerupert/famcal/internal/apperror"
	"github.com/dukerupert/famcal/internal/database"
	"github.com/dukerupert/famcal/internal/model"
	"github.com/dukerupert/famcal/internal/store"
)

type memAudit struct {
	mu      sync.Mutex
	entries []model.AuditEntry
}

func (a *memAudit) Record(e model.AuditEntry) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, e)
}

func (a *memAudit) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []string
	for _, e := range a.entries {
		out = append(out, e.Action)
	}
	return out
}

type env struct {
	svc      *Service
	events   *store.EventStore
	audit    *memAudit
	db       *sql.DB
	familyID int64
	userID   int64
	otherID  int64
	childID  int64
	outsider int64
}

func setupService(t *testing.T) *env {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("enable foreign keys: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	families := store.NewFamilyStore(db)
	users := store.NewUserStore(db)
	children := store.NewChildStore(db)

	fam, err := families.Create(ctx, "Smith")
	if err != nil {
		t.Fatalf("create family: %v", err)
	}
	mk := func(email string, member bool) int64 {
		u, err := users.Create(ctx, email, email)
		if err != nil {
			t.Fatalf("create user: %v", err)
		}
		if member {
			if _, err := families.AddMember(ctx, fam.ID, u.ID, "member"); err != nil {
				t.Fatalf("add member: %v", err)
			}
		}
		return u.ID
	}
	e := &env{
		events:   store.NewEventStore(db),
		audit:    &memAudit{},
		db:       db,
		familyID: fam.ID,
		userID:   mk("u@example.com", true),
		otherID:  mk("o@example.com", true),
		outsider: mk("x@example.com", false),
	}
	kid, err := children.Create(ctx, fam.ID, "Sam")
	if err != nil {
		t.Fatalf("create child: %v", err)
	}
	e.childID = kid.ID

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	e.svc = NewService(e.events, families, children, e.audit, logger, WithAuditReader(store.NewAuditStore(db)))
	return e
}

func at(day, hour, min int) time.Time {
	return time.Date(2024, 1, day, hour, min, 0, 0, time.UTC)
}

func (e *env) create(t *testing.T, title string, typ model.EventType, start, end time.Time, refs ...model.ParticipantRef) *model.Event {
	t.Helper()
	ev, err := e.svc.CreateEvent(context.Background(), model.CreateEventCommand{
		FamilyID: e.familyID, Title: title, StartTime: start, EndTime: end, EventType: typ, Participants: refs,
	}, e.userID)
	if err != nil {
		t.Fatalf("create %s: %v", title, err)
	}
	return ev
}

// dailySeries creates a daily elastic series Jan 1-31 2024, 09:00-10:00.
func (e *env) dailySeries(t *testing.T) *model.Event {
	t.Helper()
	ev, err := e.svc.CreateEvent(context.Background(), model.CreateEventCommand{
		FamilyID:     e.familyID,
		Title:        "Piano practice",
		StartTime:    at(1, 9, 0),
		EndTime:      at(1, 10, 0),
		EventType:    model.EventTypeElastic,
		Recurrence:   &model.RecurrencePattern{Frequency: model.FrequencyDaily, Interval: 1, EndDate: model.Date{Year: 2024, Month: 1, Day: 31}},
		Participants: []model.ParticipantRef{model.ChildRef(e.childID)},
	}, e.userID)
	if err != nil {
		t.Fatalf("create series: %v", err)
	}
	return ev
}

func (e *env) markSynced(t *testing.T, id string) {
	t.Helper()
	if _, err := e.db.Exec(`UPDATE events SET is_synced = 1, external_calendar_id = 'gcal-1' WHERE id = ?`, id); err != nil {
		t.Fatalf("mark synced: %v", err)
	}
}

func wantKind(t *testing.T, err error, kind string) {
	t.Helper()
	if got := apperror.Kind(err); got != kind {
		t.Fatalf("error kind = %q (%v), want %q", got, err, kind)
	}
}

func day(d int) model.Date { return model.Date{Year: 2024, Month: time.January, Day: d} }

func ptr[T any](v T) *T { return &v }

func TestCreateBlockerConflictRejected(t *testing.T) {
	e := setupService(t)
	u := model.UserRef(e.userID)

	first := e.create(t, "Dentist", model.EventTypeBlocker, at(8, 10, 0), at(8, 11, 0), u)

	_, err := e.svc.CreateEvent(context.Background(), model.CreateEventCommand{
		FamilyID: e.familyID, Title: "Call", StartTime: at(8, 10, 30), EndTime: at(8, 11, 30),
		EventType: model.EventTypeBlocker, Participants: []model.ParticipantRef{u},
	}, e.userID)

	var ce *apperror.ConflictError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %v, want ConflictError", err)
	}
	if len(ce.Conflicts) != 1 || ce.Conflicts[0].ID != first.ID {
		t.Errorf("conflicts = %+v, want exactly %s", ce.Conflicts, first.ID)
	}

	occs, err := e.events.FindByDateRange(context.Background(), e.familyID, at(8, 0, 0), at(9, 0, 0))
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(occs) != 1 {
		t.Errorf("stored occurrences = %d, want 1 (nothing persisted)", len(occs))
	}
}

func TestCreateElasticAllowedDespiteOverlap(t *testing.T) {
	e := setupService(t)
	u := model.UserRef(e.userID)

	e.create(t, "Dentist", model.EventTypeBlocker, at(8, 10, 0), at(8, 11, 0), u)
	e.create(t, "Reading", model.EventTypeElastic, at(8, 10, 30), at(8, 11, 30), u)
}

func TestCreateBlockerWithoutSharedParticipant(t *testing.T) {
	e := setupService(t)

	e.create(t, "Dentist", model.EventTypeBlocker, at(8, 10, 0), at(8, 11, 0), model.UserRef(e.userID))
	e.create(t, "Call", model.EventTypeBlocker, at(8, 10, 30), at(8, 11, 30), model.UserRef(e.otherID))
}

func TestCreateValidation(t *testing.T) {
	e := setupService(t)
	ctx := context.Background()

	tests := []struct {
		name string
		cmd  model.CreateEventCommand
		kind string
	}{
		{"end before start", model.CreateEventCommand{FamilyID: e.familyID, Title: "x", StartTime: at(2, 10, 0), EndTime: at(2, 9, 0), EventType: model.EventTypeElastic}, apperror.KindValidation},
		{"missing title", model.CreateEventCommand{FamilyID: e.familyID, StartTime: at(2, 9, 0), EndTime: at(2, 10, 0), EventType: model.EventTypeElastic}, apperror.KindValidation},
		{"unknown participant", model.CreateEventCommand{FamilyID: e.familyID, Title: "x", StartTime: at(2, 9, 0), EndTime: at(2, 10, 0), EventType: model.EventTypeElastic,
			Participants: []model.ParticipantRef{model.UserRef(e.outsider)}}, apperror.KindValidation},
		{"unknown child", model.CreateEventCommand{FamilyID: e.familyID, Title: "x", StartTime: at(2, 9, 0), EndTime: at(2, 10, 0), EventType: model.EventTypeElastic,
			Participants: []model.ParticipantRef{model.ChildRef(e.childID + 100)}}, apperror.KindValidation},
		{"pattern end before start", model.CreateEventCommand{FamilyID: e.familyID, Title: "x", StartTime: at(2, 9, 0), EndTime: at(2, 10, 0), EventType: model.EventTypeElastic,
			Recurrence: &model.RecurrencePattern{Frequency: model.FrequencyWeekly, EndDate: day(1)}}, apperror.KindValidation},
		{"interval too large", model.CreateEventCommand{FamilyID: e.familyID, Title: "x", StartTime: at(2, 9, 0), EndTime: at(2, 10, 0), EventType: model.EventTypeElastic,
			Recurrence: &model.RecurrencePattern{Frequency: model.FrequencyDaily, Interval: 1 << 48, EndDate: model.Date{Year: 2024, Month: 12, Day: 31}}}, apperror.KindValidation},
	}
	for _, tt := range tests {
		_, err := e.svc.CreateEvent(ctx, tt.cmd, e.userID)
		if got := apperror.Kind(err); got != tt.kind {
			t.Errorf("%s: kind = %q (%v), want %q", tt.name, got, err, tt.kind)
		}
	}
}

func TestCreateRequiresMembership(t *testing.T) {
	e := setupService(t)

	_, err := e.svc.CreateEvent(context.Background(), model.CreateEventCommand{
		FamilyID: e.familyID, Title: "x", StartTime: at(2, 9, 0), EndTime: at(2, 10, 0), EventType: model.EventTypeElastic,
	}, e.outsider)
	wantKind(t, err, apperror.KindForbidden)
}

func TestCreateRecordsAudit(t *testing.T) {
	e := setupService(t)
	e.create(t, "Swim", model.EventTypeElastic, at(3, 9, 0), at(3, 10, 0))

	if got := e.audit.actions(); len(got) != 1 || got[0] != ActionCreate {
		t.Errorf("audit = %v, want [%s]", got, ActionCreate)
	}
}

func TestUpdateSingleOccurrence(t *testing.T) {
	e := setupService(t)
	ctx := context.Background()
	series := e.dailySeries(t)

	newEnd := at(15, 11, 0)
	_, err := e.svc.UpdateEvent(ctx, series.ID, model.UpdateEventCommand{EndTime: &newEnd}, model.ScopeThis, day(15), e.userID)
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	xs, err := e.events.GetExceptions(ctx, series.ID)
	if err != nil {
		t.Fatalf("get exceptions: %v", err)
	}
	if len(xs) != 1 || xs[0].OriginalDate != day(15) {
		t.Fatalf("exceptions = %+v, want one for 2024-01-15", xs)
	}
	if xs[0].IsCancelled {
		t.Error("exception should not be cancelled")
	}
	if xs[0].NewEndTime == nil || !xs[0].NewEndTime.Equal(newEnd) {
		t.Errorf("exception end = %v, want %v", xs[0].NewEndTime, newEnd)
	}

	got, _ := e.events.FindByID(ctx, series.ID)
	if !got.EndTime.Equal(at(1, 10, 0)) {
		t.Errorf("base end = %v, want unchanged", got.EndTime)
	}
}

func TestUpdateSingleOccurrenceRejectsSeriesFields(t *testing.T) {
	e := setupService(t)
	ctx := context.Background()
	series := e.dailySeries(t)
	blocker := model.EventTypeBlocker
	participants := []model.ParticipantRef{model.UserRef(e.userID)}
	newStart := at(15, 16, 0)

	tests := []struct {
		name  string
		cmd   model.UpdateEventCommand
		field string
	}{
		{"title", model.UpdateEventCommand{Title: ptr("Recital")}, "title"},
		{"title with times", model.UpdateEventCommand{Title: ptr("Recital"), StartTime: &newStart}, "title"},
		{"event type", model.UpdateEventCommand{EventType: &blocker}, "event_type"},
		{"participants", model.UpdateEventCommand{Participants: &participants}, "participants"},
		{"recurrence", model.UpdateEventCommand{ClearRecurrence: true}, "recurrence_pattern"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.svc.UpdateEvent(ctx, series.ID, tt.cmd, model.ScopeThis, day(15), e.userID)
			var verr *apperror.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("err = %v, want ValidationError", err)
			}
			if len(verr.Fields) == 0 || verr.Fields[0].Field != tt.field {
				t.Errorf("fields = %+v, want %q", verr.Fields, tt.field)
			}
		})
	}

	xs, _ := e.events.GetExceptions(ctx, series.ID)
	if len(xs) != 0 {
		t.Errorf("exceptions = %+v, want none", xs)
	}
}

func TestUpdateSingleOccurrenceReschedules(t *testing.T) {
	e := setupService(t)
	ctx := context.Background()
	series := e.dailySeries(t)

	newStart := at(15, 16, 0)
	_, err := e.svc.UpdateEvent(ctx, series.ID, model.UpdateEventCommand{StartTime: &newStart}, model.ScopeThis, day(15), e.userID)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	// Writing the same occurrence again replaces the exception.
	newStart = at(15, 17, 0)
	_, err = e.svc.UpdateEvent(ctx, series.ID, model.UpdateEventCommand{StartTime: &newStart}, model.ScopeThis, day(15), e.userID)
	if err != nil {
		t.Fatalf("second update: %v", err)
	}

	xs, _ := e.events.GetExceptions(ctx, series.ID)
	if len(xs) != 1 {
		t.Fatalf("exceptions = %d, want 1", len(xs))
	}
	if !xs[0].NewStartTime.Equal(at(15, 17, 0)) || !xs[0].NewEndTime.Equal(at(15, 18, 0)) {
		t.Errorf("new interval = %v-%v, want 17:00-18:00", xs[0].NewStartTime, xs[0].NewEndTime)
	}

	list, err := e.svc.ListEvents(ctx, e.familyID, at(15, 0, 0), at(16, 0, 0), model.ListFilter{IncludeSynced: true}, e.userID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list.Events) != 1 || !list.Events[0].StartTime.Equal(at(15, 17, 0)) || !list.Events[0].IsModified {
		t.Errorf("listed = %+v, want the rescheduled occurrence", list.Events)
	}
}

func TestUpdateThisRejectsNonOccurrence(t *testing.T) {
	e := setupService(t)
	series := e.dailySeries(t)

	newStart := at(3, 12, 0)
	_, err := e.svc.UpdateEvent(context.Background(), series.ID, model.UpdateEventCommand{StartTime: &newStart}, model.ScopeThis, model.Date{Year: 2024, Month: 2, Day: 3}, e.userID)
	wantKind(t, err, apperror.KindValidation)
}

func TestUpdateScopeRequiresRecurring(t *testing.T) {
	e := setupService(t)
	ev := e.create(t, "Swim", model.EventTypeElastic, at(3, 9, 0), at(3, 10, 0))

	newStart := at(3, 12, 0)
	_, err := e.svc.UpdateEvent(context.Background(), ev.ID, model.UpdateEventCommand{StartTime: &newStart}, model.ScopeThis, day(3), e.userID)
	wantKind(t, err, apperror.KindValidation)

	series := e.dailySeries(t)
	_, err = e.svc.UpdateEvent(context.Background(), series.ID, model.UpdateEventCommand{Title: ptr("x")}, model.ScopeFuture, model.Date{}, e.userID)
	wantKind(t, err, apperror.KindValidation)
}

func TestUpdateAllClearsExceptions(t *testing.T) {
	e := setupService(t)
	ctx := context.Background()
	series := e.dailySeries(t)

	if err := e.svc.DeleteEvent(ctx, series.ID, model.ScopeThis, day(5), e.userID); err != nil {
		t.Fatalf("delete occurrence: %v", err)
	}
	moved := at(6, 15, 0)
	if _, err := e.svc.UpdateEvent(ctx, series.ID, model.UpdateEventCommand{StartTime: &moved}, model.ScopeThis, day(6), e.userID); err != nil {
		t.Fatalf("update occurrence: %v", err)
	}

	updated, err := e.svc.UpdateEvent(ctx, series.ID, model.UpdateEventCommand{Title: ptr("Guitar practice")}, model.ScopeAll, model.Date{}, e.userID)
	if err != nil {
		t.Fatalf("update all: %v", err)
	}
	if updated.Title != "Guitar practice" {
		t.Errorf("title = %q, want %q", updated.Title, "Guitar practice")
	}

	xs, err := e.events.GetExceptions(ctx, series.ID)
	if err != nil {
		t.Fatalf("get exceptions: %v", err)
	}
	if len(xs) != 0 {
		t.Errorf("exceptions = %d, want 0 after scope all", len(xs))
	}
}

func TestUpdateAllConflictExcludesSelf(t *testing.T) {
	e := setupService(t)
	ctx := context.Background()
	u := model.UserRef(e.userID)

	ev := e.create(t, "Dentist", model.EventTypeBlocker, at(8, 10, 0), at(8, 11, 0), u)
	other := e.create(t, "Call", model.EventTypeBlocker, at(8, 12, 0), at(8, 13, 0), u)

	// Moving within its own old interval never conflicts with itself.
	newEnd := at(8, 11, 30)
	if _, err := e.svc.UpdateEvent(ctx, ev.ID, model.UpdateEventCommand{EndTime: &newEnd}, model.ScopeAll, model.Date{}, e.userID); err != nil {
		t.Fatalf("update: %v", err)
	}

	// Moving onto another blocker does.
	newStart := at(8, 12, 30)
	_, err := e.svc.UpdateEvent(ctx, ev.ID, model.UpdateEventCommand{StartTime: &newStart}, model.ScopeAll, model.Date{}, e.userID)
	var ce *apperror.ConflictError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %v, want ConflictError", err)
	}
	if ce.Conflicts[0].ID != other.ID {
		t.Errorf("conflict = %s, want %s", ce.Conflicts[0].ID, other.ID)
	}

	got, _ := e.events.FindByID(ctx, ev.ID)
	if !got.StartTime.Equal(at(8, 10, 0)) {
		t.Errorf("start = %v, want unchanged after rejected update", got.StartTime)
	}
}

func TestUpdateElasticToBlockerChecksConflicts(t *testing.T) {
	e := setupService(t)
	u := model.UserRef(e.userID)

	e.create(t, "Dentist", model.EventTypeBlocker, at(8, 10, 0), at(8, 11, 0), u)
	soft := e.create(t, "Reading", model.EventTypeElastic, at(8, 10, 30), at(8, 11, 30), u)

	blocker := model.EventTypeBlocker
	_, err := e.svc.UpdateEvent(context.Background(), soft.ID, model.UpdateEventCommand{EventType: &blocker}, model.ScopeAll, model.Date{}, e.userID)
	wantKind(t, err, apperror.KindConflict)
}

func TestUpdateFutureCreatesSuccessor(t *testing.T) {
	e := setupService(t)
	ctx := context.Background()
	series := e.dailySeries(t)

	if err := e.svc.DeleteEvent(ctx, series.ID, model.ScopeThis, day(10), e.userID); err != nil {
		t.Fatalf("cancel Jan 10: %v", err)
	}
	if err := e.svc.DeleteEvent(ctx, series.ID, model.ScopeThis, day(25), e.userID); err != nil {
		t.Fatalf("cancel Jan 25: %v", err)
	}

	successor, err := e.svc.UpdateEvent(ctx, series.ID, model.UpdateEventCommand{Title: ptr("Violin practice")}, model.ScopeFuture, day(20), e.userID)
	if err != nil {
		t.Fatalf("update future: %v", err)
	}
	if successor.ID == series.ID {
		t.Fatal("expected a successor series")
	}
	if successor.Title != "Violin practice" {
		t.Errorf("successor title = %q", successor.Title)
	}
	if !successor.StartTime.Equal(at(20, 9, 0)) {
		t.Errorf("successor start = %v, want Jan 20 09:00", successor.StartTime)
	}
	if successor.Recurrence == nil || successor.Recurrence.EndDate != day(31) {
		t.Errorf("successor pattern = %+v, want inherited end date", successor.Recurrence)
	}
	if len(successor.Participants) != 1 || successor.Participants[0] != model.ChildRef(e.childID) {
		t.Errorf("successor participants = %v, want inherited", successor.Participants)
	}

	head, _ := e.events.FindByID(ctx, series.ID)
	if head.Recurrence.EndDate != day(19) {
		t.Errorf("head end date = %s, want 2024-01-19", head.Recurrence.EndDate)
	}
	xs, _ := e.events.GetExceptions(ctx, series.ID)
	if len(xs) != 1 || xs[0].OriginalDate != day(10) {
		t.Errorf("head exceptions = %+v, want only Jan 10", xs)
	}

	list, err := e.svc.ListEvents(ctx, e.familyID, at(18, 0, 0), at(23, 0, 0), model.ListFilter{IncludeSynced: true}, e.userID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	wantTitles := []string{"Piano practice", "Piano practice", "Violin practice", "Violin practice", "Violin practice"}
	if len(list.Events) != len(wantTitles) {
		t.Fatalf("listed %d occurrences, want %d", len(list.Events), len(wantTitles))
	}
	for i, o := range list.Events {
		if o.Title != wantTitles[i] {
			t.Errorf("occurrence %d title = %q, want %q", i, o.Title, wantTitles[i])
		}
	}
}

func TestUpdateFutureWithoutChangesTruncates(t *testing.T) {
	e := setupService(t)
	ctx := context.Background()
	series := e.dailySeries(t)

	got, err := e.svc.UpdateEvent(ctx, series.ID, model.UpdateEventCommand{}, model.ScopeFuture, day(20), e.userID)
	if err != nil {
		t.Fatalf("update future: %v", err)
	}
	if got.ID != series.ID || got.Recurrence.EndDate != day(19) {
		t.Errorf("got %s ending %s, want truncated original ending 2024-01-19", got.ID, got.Recurrence.EndDate)
	}
}

func TestUpdateFutureOnSecondDayLeavesSingleEvent(t *testing.T) {
	e := setupService(t)
	ctx := context.Background()
	series := e.dailySeries(t)

	if _, err := e.svc.UpdateEvent(ctx, series.ID, model.UpdateEventCommand{Title: ptr("New")}, model.ScopeFuture, day(2), e.userID); err != nil {
		t.Fatalf("update future: %v", err)
	}
	head, _ := e.events.FindByID(ctx, series.ID)
	if head.Recurrence != nil {
		t.Errorf("head pattern = %+v, want single event", head.Recurrence)
	}
	if !head.StartTime.Equal(at(1, 9, 0)) {
		t.Errorf("head start = %v, want Jan 1 09:00", head.StartTime)
	}
}

func TestUpdateFutureOnFirstOccurrenceActsAsAll(t *testing.T) {
	e := setupService(t)
	ctx := context.Background()
	series := e.dailySeries(t)

	got, err := e.svc.UpdateEvent(ctx, series.ID, model.UpdateEventCommand{Title: ptr("Renamed")}, model.ScopeFuture, day(1), e.userID)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got.ID != series.ID || got.Title != "Renamed" || got.Recurrence.EndDate != day(31) {
		t.Errorf("got %+v, want whole series renamed", got)
	}
}

func TestSyncedEventsAreImmutable(t *testing.T) {
	e := setupService(t)
	ctx := context.Background()
	ev := e.create(t, "School", model.EventTypeBlocker, at(4, 8, 0), at(4, 15, 0), model.ChildRef(e.childID))
	e.markSynced(t, ev.ID)

	_, err := e.svc.UpdateEvent(ctx, ev.ID, model.UpdateEventCommand{Title: ptr("x")}, model.ScopeAll, model.Date{}, e.userID)
	var fe *apperror.ForbiddenError
	if !errors.As(err, &fe) || fe.Reason != "synced events cannot be modified" {
		t.Errorf("update err = %v, want synced ForbiddenError", err)
	}

	err = e.svc.DeleteEvent(ctx, ev.ID, model.ScopeAll, model.Date{}, e.userID)
	if !errors.As(err, &fe) {
		t.Errorf("delete err = %v, want ForbiddenError", err)
	}

	got, _ := e.events.FindByID(ctx, ev.ID)
	if got == nil || got.Title != "School" {
		t.Errorf("stored event = %+v, want unchanged", got)
	}
}

func TestMutationsRequireMembership(t *testing.T) {
	e := setupService(t)
	ctx := context.Background()
	ev := e.create(t, "Swim", model.EventTypeElastic, at(3, 9, 0), at(3, 10, 0))

	_, err := e.svc.UpdateEvent(ctx, ev.ID, model.UpdateEventCommand{Title: ptr("x")}, model.ScopeAll, model.Date{}, e.outsider)
	wantKind(t, err, apperror.KindForbidden)

	err = e.svc.DeleteEvent(ctx, ev.ID, model.ScopeAll, model.Date{}, e.outsider)
	wantKind(t, err, apperror.KindForbidden)

	_, err = e.svc.GetEventByID(ctx, ev.ID, model.Date{}, e.outsider)
	wantKind(t, err, apperror.KindForbidden)
}

func TestMissingEvent(t *testing.T) {
	e := setupService(t)
	ctx := context.Background()

	_, err := e.svc.GetEventByID(ctx, "nope", model.Date{}, e.userID)
	wantKind(t, err, apperror.KindNotFound)
	_, err = e.svc.UpdateEvent(ctx, "nope", model.UpdateEventCommand{Title: ptr("x")}, model.ScopeAll, model.Date{}, e.userID)
	wantKind(t, err, apperror.KindNotFound)
	err = e.svc.DeleteEvent(ctx, "nope", model.ScopeAll, model.Date{}, e.userID)
	wantKind(t, err, apperror.KindNotFound)
}

func TestDeleteSingleOccurrence(t *testing.T) {
	e := setupService(t)
	ctx := context.Background()
	series := e.dailySeries(t)

	if err := e.svc.DeleteEvent(ctx, series.ID, model.ScopeThis, day(15), e.userID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	xs, _ := e.events.GetExceptions(ctx, series.ID)
	if len(xs) != 1 || !xs[0].IsCancelled || xs[0].OriginalDate != day(15) {
		t.Fatalf("exceptions = %+v, want one cancellation on Jan 15", xs)
	}
	if got, _ := e.events.FindByID(ctx, series.ID); got == nil {
		t.Fatal("series should still exist")
	}

	list, err := e.svc.ListEvents(ctx, e.familyID, at(14, 0, 0), at(17, 0, 0), model.ListFilter{IncludeSynced: true}, e.userID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list.Events) != 2 {
		t.Fatalf("listed %d, want 2 (Jan 14 and 16)", len(list.Events))
	}
	for _, o := range list.Events {
		if o.OriginalDate == day(15) {
			t.Error("cancelled occurrence listed")
		}
	}

	detail, err := e.svc.GetEventByID(ctx, series.ID, day(15), e.userID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !detail.Cancelled {
		t.Error("expected occurrence to be reported cancelled")
	}
}

func TestUpdateCancelledOccurrenceRejected(t *testing.T) {
	e := setupService(t)
	ctx := context.Background()
	series := e.dailySeries(t)

	if err := e.svc.DeleteEvent(ctx, series.ID, model.ScopeThis, day(15), e.userID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	newStart := at(15, 16, 0)
	_, err := e.svc.UpdateEvent(ctx, series.ID, model.UpdateEventCommand{StartTime: &newStart}, model.ScopeThis, day(15), e.userID)
	wantKind(t, err, apperror.KindValidation)

	xs, _ := e.events.GetExceptions(ctx, series.ID)
	if len(xs) != 1 || !xs[0].IsCancelled {
		t.Fatalf("exceptions = %+v, want the cancellation kept", xs)
	}
	list, err := e.svc.ListEvents(ctx, e.familyID, at(15, 0, 0), at(16, 0, 0), model.ListFilter{IncludeSynced: true}, e.userID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list.Events) != 0 {
		t.Errorf("listed = %+v, want the cancelled occurrence to stay hidden", list.Events)
	}
}

func TestDeleteFuture(t *testing.T) {
	e := setupService(t)
	ctx := context.Background()
	series := e.dailySeries(t)

	if err := e.svc.DeleteEvent(ctx, series.ID, model.ScopeFuture, day(11), e.userID); err != nil {
		t.Fatalf("delete future: %v", err)
	}
	got, _ := e.events.FindByID(ctx, series.ID)
	if got.Recurrence.EndDate != day(10) {
		t.Errorf("end date = %s, want 2024-01-10", got.Recurrence.EndDate)
	}

	if err := e.svc.DeleteEvent(ctx, series.ID, model.ScopeFuture, day(1), e.userID); err != nil {
		t.Fatalf("delete future from first: %v", err)
	}
	if got, _ := e.events.FindByID(ctx, series.ID); got != nil {
		t.Error("expected whole series deleted")
	}
}

func TestDeleteFutureWhenOnlyCancelledFirstRemains(t *testing.T) {
	e := setupService(t)
	ctx := context.Background()
	series := e.dailySeries(t)

	if err := e.svc.DeleteEvent(ctx, series.ID, model.ScopeThis, day(1), e.userID); err != nil {
		t.Fatalf("cancel first: %v", err)
	}
	if err := e.svc.DeleteEvent(ctx, series.ID, model.ScopeFuture, day(2), e.userID); err != nil {
		t.Fatalf("delete future: %v", err)
	}
	if got, _ := e.events.FindByID(ctx, series.ID); got != nil {
		t.Errorf("got %+v, want series removed", got)
	}
}

func TestDeleteAll(t *testing.T) {
	e := setupService(t)
	ctx := context.Background()
	series := e.dailySeries(t)

	if err := e.svc.DeleteEvent(ctx, series.ID, model.ScopeAll, model.Date{}, e.userID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if got, _ := e.events.FindByID(ctx, series.ID); got != nil {
		t.Error("expected event deleted")
	}
	if got := e.audit.actions(); got[len(got)-1] != ActionDelete {
		t.Errorf("last audit action = %q, want %q", got[len(got)-1], ActionDelete)
	}
}

func TestListEventsFiltersAndPaginates(t *testing.T) {
	e := setupService(t)
	ctx := context.Background()
	u := model.UserRef(e.userID)
	o := model.UserRef(e.otherID)

	e.create(t, "A", model.EventTypeBlocker, at(8, 9, 0), at(8, 10, 0), u)
	e.create(t, "B", model.EventTypeElastic, at(8, 11, 0), at(8, 12, 0), o)
	e.create(t, "C", model.EventTypeElastic, at(8, 13, 0), at(8, 14, 0), u)
	synced := e.create(t, "D", model.EventTypeBlocker, at(8, 15, 0), at(8, 16, 0), u)
	e.markSynced(t, synced.ID)

	list, err := e.svc.ListEvents(ctx, e.familyID, at(8, 0, 0), at(9, 0, 0), model.ListFilter{IncludeSynced: true}, e.userID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if list.Pagination.Total != 4 || len(list.Events) != 4 {
		t.Errorf("total = %d, events = %d, want 4", list.Pagination.Total, len(list.Events))
	}

	list, _ = e.svc.ListEvents(ctx, e.familyID, at(8, 0, 0), at(9, 0, 0), model.ListFilter{}, e.userID)
	if list.Pagination.Total != 3 {
		t.Errorf("without synced total = %d, want 3", list.Pagination.Total)
	}

	list, _ = e.svc.ListEvents(ctx, e.familyID, at(8, 0, 0), at(9, 0, 0), model.ListFilter{EventType: model.EventTypeElastic, IncludeSynced: true}, e.userID)
	if list.Pagination.Total != 2 {
		t.Errorf("elastic total = %d, want 2", list.Pagination.Total)
	}

	list, _ = e.svc.ListEvents(ctx, e.familyID, at(8, 0, 0), at(9, 0, 0), model.ListFilter{Participants: []model.ParticipantRef{o}, IncludeSynced: true}, e.userID)
	if list.Pagination.Total != 1 || list.Events[0].Title != "B" {
		t.Errorf("participant filter = %+v, want only B", list.Events)
	}

	list, _ = e.svc.ListEvents(ctx, e.familyID, at(8, 0, 0), at(9, 0, 0), model.ListFilter{Limit: 2, Offset: 1, IncludeSynced: true}, e.userID)
	if len(list.Events) != 2 || list.Events[0].Title != "B" || !list.Pagination.HasMore {
		t.Errorf("page = %+v / %+v, want B,C with more", list.Events, list.Pagination)
	}

	list, _ = e.svc.ListEvents(ctx, e.familyID, at(8, 0, 0), at(9, 0, 0), model.ListFilter{Limit: 2, Offset: 10, IncludeSynced: true}, e.userID)
	if len(list.Events) != 0 || list.Pagination.HasMore {
		t.Errorf("past end = %+v, want empty page", list)
	}
}

func TestListEventsRejectsBadArgs(t *testing.T) {
	e := setupService(t)
	ctx := context.Background()

	tests := []struct {
		name       string
		start, end time.Time
		filter     model.ListFilter
	}{
		{"inverted window", at(9, 0, 0), at(8, 0, 0), model.ListFilter{}},
		{"limit too large", at(8, 0, 0), at(9, 0, 0), model.ListFilter{Limit: 101}},
		{"negative offset", at(8, 0, 0), at(9, 0, 0), model.ListFilter{Offset: -1}},
	}
	for _, tt := range tests {
		_, err := e.svc.ListEvents(ctx, e.familyID, tt.start, tt.end, tt.filter, e.userID)
		if apperror.Kind(err) != apperror.KindValidation {
			t.Errorf("%s: err = %v, want validation", tt.name, err)
		}
	}

	_, err := e.svc.ListEvents(ctx, e.familyID, at(8, 0, 0), at(9, 0, 0), model.ListFilter{}, e.outsider)
	wantKind(t, err, apperror.KindForbidden)
}

func TestListEventsFlagsConflicts(t *testing.T) {
	e := setupService(t)
	ctx := context.Background()
	u := model.UserRef(e.userID)

	e.create(t, "Dentist", model.EventTypeBlocker, at(8, 10, 0), at(8, 11, 0), u)
	e.create(t, "Reading", model.EventTypeElastic, at(8, 10, 30), at(8, 11, 30), u)
	e.create(t, "Lunch", model.EventTypeElastic, at(8, 12, 0), at(8, 13, 0), u)

	list, err := e.svc.ListEvents(ctx, e.familyID, at(8, 0, 0), at(9, 0, 0), model.ListFilter{IncludeSynced: true}, e.userID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := map[string]bool{"Dentist": true, "Reading": true, "Lunch": false}
	for _, o := range list.Events {
		if o.HasConflict != want[o.Title] {
			t.Errorf("%s: has_conflict = %v, want %v", o.Title, o.HasConflict, want[o.Title])
		}
	}
}

func TestGetEventByIDOccurrence(t *testing.T) {
	e := setupService(t)
	ctx := context.Background()
	series := e.dailySeries(t)

	newStart := at(12, 15, 0)
	if _, err := e.svc.UpdateEvent(ctx, series.ID, model.UpdateEventCommand{StartTime: &newStart}, model.ScopeThis, day(12), e.userID); err != nil {
		t.Fatalf("update: %v", err)
	}

	detail, err := e.svc.GetEventByID(ctx, series.ID, day(12), e.userID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if detail.Occurrence == nil || !detail.Occurrence.StartTime.Equal(newStart) {
		t.Errorf("occurrence = %+v, want start %v", detail.Occurrence, newStart)
	}
	if len(detail.Exceptions) != 1 {
		t.Errorf("exceptions = %d, want 1", len(detail.Exceptions))
	}

	_, err = e.svc.GetEventByID(ctx, series.ID, model.Date{Year: 2024, Month: 3, Day: 1}, e.userID)
	wantKind(t, err, apperror.KindNotFound)
}

func TestValidateEvent(t *testing.T) {
	e := setupService(t)
	ctx := context.Background()
	u := model.UserRef(e.userID)
	existing := e.create(t, "Dentist", model.EventTypeBlocker, at(8, 10, 0), at(8, 11, 0), u)

	cmd := model.CreateEventCommand{
		FamilyID: e.familyID, Title: "Call", StartTime: at(8, 10, 30), EndTime: at(8, 11, 30),
		EventType: model.EventTypeBlocker, Participants: []model.ParticipantRef{u},
	}

	res, err := e.svc.ValidateEvent(ctx, cmd, "", e.userID)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if res.Valid || len(res.Conflicts) != 1 || res.Conflicts[0].ID != existing.ID {
		t.Errorf("blocker result = %+v, want invalid with one conflict", res)
	}

	cmd.EventType = model.EventTypeElastic
	res, _ = e.svc.ValidateEvent(ctx, cmd, "", e.userID)
	if !res.Valid || len(res.Conflicts) != 1 {
		t.Errorf("elastic result = %+v, want valid with informational conflict", res)
	}

	cmd.EventType = model.EventTypeBlocker
	res, _ = e.svc.ValidateEvent(ctx, cmd, existing.ID, e.userID)
	if !res.Valid {
		t.Errorf("excluded result = %+v, want valid", res)
	}

	cmd.Title = ""
	cmd.Participants = []model.ParticipantRef{model.ChildRef(e.childID + 50)}
	res, _ = e.svc.ValidateEvent(ctx, cmd, "", e.userID)
	if res.Valid || len(res.Errors) != 2 {
		t.Errorf("bad input result = %+v, want two field errors", res)
	}

	var n int
	e.db.QueryRow(`SELECT COUNT(*) FROM events`).Scan(&n)
	if n != 1 {
		t.Errorf("events = %d, validate must not persist", n)
	}
}

func TestListAudit(t *testing.T) {
	e := setupService(t)
	ctx := context.Background()

	ev := e.create(t, "Swim", model.EventTypeElastic, at(3, 9, 0), at(3, 10, 0))
	for _, entry := range e.audit.entries {
		if err := store.NewAuditStore(e.db).Create(ctx, &entry); err != nil {
			t.Fatalf("persist audit: %v", err)
		}
	}

	entries, err := e.svc.ListAudit(ctx, e.familyID, 10, 0, e.userID)
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	if len(entries) != 1 || entries[0].EntityID != ev.ID {
		t.Errorf("entries = %+v, want the create of %s", entries, ev.ID)
	}

	_, err = e.svc.ListAudit(ctx, e.familyID, 10, 0, e.outsider)
	wantKind(t, err, apperror.KindForbidden)
}
