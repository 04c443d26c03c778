package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/familydiary/diary/internal/entrykey"
	"github.com/familydiary/diary/internal/logging"
	"github.com/familydiary/diary/internal/prompts"
	"github.com/familydiary/diary/internal/repositories"
)

// PromptHandler serves the generated writing prompts.
type PromptHandler struct {
	Prompts PromptLookup
	NowFunc func() time.Time
}

// Get handles GET /prompt?date=YYYY-MM-DD. Without a date it returns the
// prompt for today in Japan time.
func (h PromptHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.Prompts == nil {
		logging.FromContext(ctx).Error("prompt lookup unavailable")
		respondError(ctx, w, http.StatusInternalServerError, "prompt services unavailable")
		return
	}

	date := strings.TrimSpace(r.URL.Query().Get("date"))
	if date == "" {
		date = h.now().In(prompts.JST).Format(entrykey.DateLayout)
	}
	if !entrykey.ValidDate(date) {
		respondError(ctx, w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}

	prompt, err := h.Prompts.Get(ctx, date)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			respondError(ctx, w, http.StatusNotFound, "no prompt for "+date)
			return
		}
		logging.FromContext(ctx).Error("load prompt", "error", err, "date", date)
		respondError(ctx, w, http.StatusInternalServerError, "failed to load prompt")
		return
	}
	respondJSON(ctx, w, http.StatusOK, prompt)
}

func (h PromptHandler) now() time.Time {
	if h.NowFunc != nil {
		return h.NowFunc()
	}
	return time.Now()
}
