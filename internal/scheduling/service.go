// Package scheduling orchestrates event reads and scoped mutations for a
// family calendar: membership and immutability checks, participant and scope
// validation, blocker conflict detection, persistence and audit.
package scheduling

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dukerupert/famcal/internal/apperror"
	"github.com/dukerupert/famcal/internal/model"
)

// EventRepository is the storage collaborator for events, their exceptions
// and participant associations.
type EventRepository interface {
	FindByID(ctx context.Context, id string) (*model.Event, error)
	FindByDateRange(ctx context.Context, familyID int64, start, end time.Time) ([]model.Occurrence, error)
	ListByFamily(ctx context.Context, familyID int64) ([]model.EventDetail, error)
	Create(ctx context.Context, ev *model.Event) (*model.Event, error)
	Update(ctx context.Context, ev *model.Event, clearExceptions bool) (*model.Event, error)
	Split(ctx context.Context, id string, head *model.Event, cut model.Date, successor *model.Event) error
	Delete(ctx context.Context, id string) error
	CreateException(ctx context.Context, x *model.EventException) (*model.EventException, error)
	GetExceptions(ctx context.Context, eventID string) ([]model.EventException, error)
	CheckConflicts(ctx context.Context, familyID int64, start, end time.Time, participants []model.ParticipantRef, excludeID string) ([]model.ConflictingEvent, error)
}

type FamilyRepository interface {
	IsUserMember(ctx context.Context, familyID, userID int64) (bool, error)
	GetFamilyMembers(ctx context.Context, familyID int64) ([]model.FamilyMember, error)
}

type ChildRepository interface {
	FindByFamilyID(ctx context.Context, familyID int64) ([]model.Child, error)
}

// AuditLog accepts entries fire-and-forget.
type AuditLog interface {
	Record(entry model.AuditEntry)
}

type AuditReader interface {
	List(ctx context.Context, familyID int64, limit, offset int) ([]model.AuditEntry, error)
}

// Notifier is told about every committed mutation.
type Notifier interface {
	EventChanged(familyID int64, action, eventID string)
}

// OperationObserver counts operation outcomes.
type OperationObserver interface {
	ObserveOperation(op string, err error)
}

// Audit actions, also passed to the Notifier.
const (
	ActionCreate = "event.create"
	ActionUpdate = "event.update"
	ActionDelete = "event.delete"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 100
)

var errNoAuditReader = errors.New("no audit reader configured")

type Service struct {
	events   EventRepository
	families FamilyRepository
	children ChildRepository
	audit    AuditLog
	logger   *slog.Logger

	auditReader AuditReader
	notifier    Notifier
	observer    OperationObserver
	maxPageSize int
}

type Option func(*Service)

func WithAuditReader(r AuditReader) Option { return func(s *Service) { s.auditReader = r } }

func WithNotifier(n Notifier) Option { return func(s *Service) { s.notifier = n } }

func WithObserver(o OperationObserver) Option { return func(s *Service) { s.observer = o } }

// WithMaxPageSize lowers the listing page cap. Values outside 1..100 are ignored.
func WithMaxPageSize(n int) Option {
	return func(s *Service) {
		if n > 0 && n <= MaxPageSize {
			s.maxPageSize = n
		}
	}
}

func NewService(events EventRepository, families FamilyRepository, children ChildRepository, audit AuditLog, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		events:      events,
		families:    families,
		children:    children,
		audit:       audit,
		logger:      logger,
		maxPageSize: MaxPageSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// observe is deferred by every public operation with a pointer to its
// named error result.
func (s *Service) observe(op string, err *error) {
	if s.observer != nil {
		s.observer.ObserveOperation(op, *err)
	}
}

// internal logs an unexpected collaborator failure and hides it behind an
// InternalError.
func (s *Service) internal(op string, err error, attrs ...any) error {
	s.logger.Error("scheduling collaborator failed", append([]any{"op", op, "error", err}, attrs...)...)
	return apperror.Internal(op, err)
}

func (s *Service) requireMember(ctx context.Context, op string, familyID, requesterID int64) error {
	ok, err := s.families.IsUserMember(ctx, familyID, requesterID)
	if err != nil {
		return s.internal(op, err, "family_id", familyID)
	}
	if !ok {
		return apperror.Forbidden("requester is not a member of this family")
	}
	return nil
}

// loadEvent fetches an event and reports whether the requester belongs to
// its family.
func (s *Service) loadEvent(ctx context.Context, op, eventID string, requesterID int64) (*model.Event, bool, error) {
	ev, err := s.events.FindByID(ctx, eventID)
	if err != nil {
		return nil, false, s.internal(op, err, "event_id", eventID)
	}
	if ev == nil {
		return nil, false, apperror.NotFound("event", eventID)
	}
	ok, err := s.families.IsUserMember(ctx, ev.FamilyID, requesterID)
	if err != nil {
		return nil, false, s.internal(op, err, "event_id", eventID, "family_id", ev.FamilyID)
	}
	return ev, ok, nil
}

// roster fetches the family's members and children concurrently.
func (s *Service) roster(ctx context.Context, familyID int64) ([]model.FamilyMember, []model.Child, error) {
	var (
		members  []model.FamilyMember
		children []model.Child
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		members, err = s.families.GetFamilyMembers(gctx, familyID)
		return err
	})
	g.Go(func() error {
		var err error
		children, err = s.children.FindByFamilyID(gctx, familyID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return members, children, nil
}

func (s *Service) record(familyID, userID int64, action, eventID string, details map[string]any) {
	s.audit.Record(model.AuditEntry{
		FamilyID:   familyID,
		UserID:     userID,
		Action:     action,
		EntityType: "event",
		EntityID:   eventID,
		Details:    details,
	})
	if s.notifier != nil {
		s.notifier.EventChanged(familyID, action, eventID)
	}
}
