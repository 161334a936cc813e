package handler

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/dukerupert/famcal/internal/auth"
	"github.com/dukerupert/famcal/internal/ics"
	"github.com/dukerupert/famcal/internal/model"
)

// FamilyReader serves the family-wide read endpoints.
type FamilyReader interface {
	ListSeries(ctx context.Context, familyID, requesterID int64) ([]model.EventDetail, error)
	ListAudit(ctx context.Context, familyID int64, limit, offset int, requesterID int64) ([]model.AuditEntry, error)
}

type FamilyLookup interface {
	GetByID(ctx context.Context, id int64) (*model.Family, error)
}

type FamilyHandler struct {
	svc      FamilyReader
	families FamilyLookup
	logger   *slog.Logger
	now      func() time.Time
}

func NewFamilyHandler(svc FamilyReader, families FamilyLookup, logger *slog.Logger) *FamilyHandler {
	return &FamilyHandler{svc: svc, families: families, logger: logger, now: time.Now}
}

func (h *FamilyHandler) Audit(w http.ResponseWriter, r *http.Request) {
	familyID, err := parseFamilyID(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	limit, err := intParam(r, "limit")
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	offset, err := intParam(r, "offset")
	if err != nil {
		badRequest(w, err.Error())
		return
	}

	entries, err := h.svc.ListAudit(r.Context(), familyID, limit, offset, auth.UserID(r.Context()))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// Export serves the family's calendar as text/calendar.
func (h *FamilyHandler) Export(w http.ResponseWriter, r *http.Request) {
	familyID, err := parseFamilyID(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}

	series, err := h.svc.ListSeries(r.Context(), familyID, auth.UserID(r.Context()))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	name := "Family " + strconv.FormatInt(familyID, 10)
	if fam, err := h.families.GetByID(r.Context(), familyID); err != nil {
		h.logger.Warn("look up family name", "family_id", familyID, "error", err)
	} else if fam != nil {
		name = fam.Name
	}

	var buf bytes.Buffer
	if err := ics.Export(&buf, name, series, h.now()); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="family-`+strconv.FormatInt(familyID, 10)+`.ics"`)
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}
