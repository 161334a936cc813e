package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/dukerupert/famcal/internal/auth"
	"github.com/dukerupert/famcal/internal/model"
)

// Scheduler is the slice of the scheduling service the event endpoints use.
type Scheduler interface {
	ListEvents(ctx context.Context, familyID int64, start, end time.Time, filter model.ListFilter, requesterID int64) (*model.EventList, error)
	GetEventByID(ctx context.Context, eventID string, occurrenceDate model.Date, requesterID int64) (*model.EventDetail, error)
	CreateEvent(ctx context.Context, cmd model.CreateEventCommand, requesterID int64) (*model.Event, error)
	UpdateEvent(ctx context.Context, eventID string, cmd model.UpdateEventCommand, scope model.Scope, occurrenceDate model.Date, requesterID int64) (*model.Event, error)
	DeleteEvent(ctx context.Context, eventID string, scope model.Scope, occurrenceDate model.Date, requesterID int64) error
	ValidateEvent(ctx context.Context, cmd model.CreateEventCommand, excludeID string, requesterID int64) (*model.ValidationResult, error)
}

type EventHandler struct {
	svc    Scheduler
	logger *slog.Logger
}

func NewEventHandler(svc Scheduler, logger *slog.Logger) *EventHandler {
	return &EventHandler{svc: svc, logger: logger}
}

func (h *EventHandler) List(w http.ResponseWriter, r *http.Request) {
	familyID, err := parseFamilyID(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}

	q := r.URL.Query()
	startStr, endStr := q.Get("start"), q.Get("end")
	if startStr == "" || endStr == "" {
		badRequest(w, "start and end query parameters are required")
		return
	}
	start, err := parseFlexibleTime(startStr)
	if err != nil {
		badRequest(w, "start must be RFC3339 or YYYY-MM-DD format")
		return
	}
	end, err := parseFlexibleTime(endStr)
	if err != nil {
		badRequest(w, "end must be RFC3339 or YYYY-MM-DD format")
		return
	}

	filter := model.ListFilter{
		EventType:     model.EventType(q.Get("event_type")),
		IncludeSynced: true,
	}
	if filter.Limit, err = intParam(r, "limit"); err != nil {
		badRequest(w, err.Error())
		return
	}
	if filter.Offset, err = intParam(r, "offset"); err != nil {
		badRequest(w, err.Error())
		return
	}
	if v := q.Get("include_synced"); v != "" {
		if filter.IncludeSynced, err = strconv.ParseBool(v); err != nil {
			badRequest(w, "include_synced must be true or false")
			return
		}
	}
	for _, p := range q["participant"] {
		ref, err := model.ParseParticipantRef(p)
		if err != nil {
			badRequest(w, err.Error())
			return
		}
		filter.Participants = append(filter.Participants, ref)
	}

	list, err := h.svc.ListEvents(r.Context(), familyID, start, end, filter, auth.UserID(r.Context()))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *EventHandler) Get(w http.ResponseWriter, r *http.Request) {
	var date model.Date
	if s := r.URL.Query().Get("occurrence_date"); s != "" {
		d, err := model.ParseDate(s)
		if err != nil {
			badRequest(w, err.Error())
			return
		}
		date = d
	}

	detail, err := h.svc.GetEventByID(r.Context(), r.PathValue("id"), date, auth.UserID(r.Context()))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (h *EventHandler) Create(w http.ResponseWriter, r *http.Request) {
	var cmd model.CreateEventCommand
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		badRequest(w, "invalid JSON")
		return
	}

	ev, err := h.svc.CreateEvent(r.Context(), cmd, auth.UserID(r.Context()))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, ev)
}

func (h *EventHandler) Update(w http.ResponseWriter, r *http.Request) {
	scope, date, err := scopeParams(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}

	var cmd model.UpdateEventCommand
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		badRequest(w, "invalid JSON")
		return
	}

	ev, err := h.svc.UpdateEvent(r.Context(), r.PathValue("id"), cmd, scope, date, auth.UserID(r.Context()))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (h *EventHandler) Delete(w http.ResponseWriter, r *http.Request) {
	scope, date, err := scopeParams(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}

	if err := h.svc.DeleteEvent(r.Context(), r.PathValue("id"), scope, date, auth.UserID(r.Context())); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type validateRequest struct {
	model.CreateEventCommand
	ExcludeEventID string `json:"exclude_event_id"`
}

func (h *EventHandler) Validate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON")
		return
	}

	result, err := h.svc.ValidateEvent(r.Context(), req.CreateEventCommand, req.ExcludeEventID, auth.UserID(r.Context()))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
