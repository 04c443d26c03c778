package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/familydiary/diary/internal/logging"
	"github.com/familydiary/diary/internal/middleware"
	"github.com/familydiary/diary/internal/models"
)

// CalendarHandler serves month views of the diary.
type CalendarHandler struct {
	Entries CalendarStore
}

// Family handles GET /family/calendar/{year}/{month}: every public entry of
// the month, whoever wrote it.
func (h CalendarHandler) Family(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	year, month, ok := h.period(w, r)
	if !ok {
		return
	}

	entries, err := h.Entries.ListPublicMonth(ctx, year, month)
	if err != nil {
		logging.FromContext(ctx).Error("list family calendar", "error", err, "year", year, "month", int(month))
		respondError(ctx, w, http.StatusInternalServerError, "failed to load calendar")
		return
	}
	respondJSON(ctx, w, http.StatusOK, models.CalendarPage{Entries: entries, Year: year, Month: int(month)})
}

// Mine handles GET /my/calendar/{year}/{month}: the caller's entries of the
// month in both visibilities.
func (h CalendarHandler) Mine(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, ok := middleware.CallerFromContext(ctx)
	if !ok {
		respondError(ctx, w, http.StatusUnauthorized, "unauthorized")
		return
	}
	year, month, ok := h.period(w, r)
	if !ok {
		return
	}

	entries, err := h.Entries.ListForOwnerMonth(ctx, caller.OwnerID, year, month)
	if err != nil {
		logging.FromContext(ctx).Error("list own calendar", "error", err, "year", year, "month", int(month))
		respondError(ctx, w, http.StatusInternalServerError, "failed to load calendar")
		return
	}
	respondJSON(ctx, w, http.StatusOK, models.CalendarPage{Entries: entries, Year: year, Month: int(month)})
}

func (h CalendarHandler) period(w http.ResponseWriter, r *http.Request) (int, time.Month, bool) {
	ctx := r.Context()
	if h.Entries == nil {
		logging.FromContext(ctx).Error("calendar store unavailable")
		respondError(ctx, w, http.StatusInternalServerError, "calendar services unavailable")
		return 0, 0, false
	}

	year, err := strconv.Atoi(chi.URLParam(r, "year"))
	if err != nil || year < 1 || year > 9999 {
		respondError(ctx, w, http.StatusBadRequest, "invalid year")
		return 0, 0, false
	}
	month, err := strconv.Atoi(chi.URLParam(r, "month"))
	if err != nil || month < 1 || month > 12 {
		respondError(ctx, w, http.StatusBadRequest, "invalid month")
		return 0, 0, false
	}
	return year, time.Month(month), true
}
