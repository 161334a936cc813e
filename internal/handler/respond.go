package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/dukerupert/famcal/internal/apperror"
	"github.com/dukerupert/famcal/internal/model"
)

type errorBody struct {
	Error     string                   `json:"error"`
	Fields    []model.FieldError       `json:"fields,omitempty"`
	Conflicts []model.ConflictingEvent `json:"conflicts,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: msg})
}

// writeError maps a service error onto its HTTP status. Internal errors are
// logged here with their cause; the client only sees "internal error".
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var (
		ve *apperror.ValidationError
		fe *apperror.ForbiddenError
		ne *apperror.NotFoundError
		ce *apperror.ConflictError
	)
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "validation failed", Fields: ve.Fields})
	case errors.As(err, &fe):
		writeJSON(w, http.StatusForbidden, errorBody{Error: fe.Reason})
	case errors.As(err, &ne):
		writeJSON(w, http.StatusNotFound, errorBody{Error: ne.Error()})
	case errors.As(err, &ce):
		writeJSON(w, http.StatusConflict, errorBody{Error: ce.Error(), Conflicts: ce.Conflicts})
	default:
		logger.Error("request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}

func parseFlexibleTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}

func parseFamilyID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("family_id"), 10, 64)
	if err != nil || id < 1 {
		return 0, errors.New("invalid family_id")
	}
	return id, nil
}

// intParam returns the query parameter as an int, or 0 when absent.
func intParam(r *http.Request, name string) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, errors.New(name + " must be an integer")
	}
	return n, nil
}

func scopeParams(r *http.Request) (model.Scope, model.Date, error) {
	q := r.URL.Query()
	scope, err := model.ParseScope(q.Get("scope"))
	if err != nil {
		return "", model.Date{}, err
	}
	var date model.Date
	if s := q.Get("occurrence_date"); s != "" {
		date, err = model.ParseDate(s)
		if err != nil {
			return "", model.Date{}, err
		}
	}
	return scope, date, nil
}
