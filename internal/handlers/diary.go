package handlers

import (
	"encoding/base64"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/familydiary/diary/internal/entrykey"
	"github.com/familydiary/diary/internal/logging"
	"github.com/familydiary/diary/internal/metrics"
	"github.com/familydiary/diary/internal/middleware"
	"github.com/familydiary/diary/internal/models"
	"github.com/familydiary/diary/internal/repositories"
	"github.com/familydiary/diary/internal/storage"
)

const (
	recentLimit          = 30
	defaultMaxPhotoBytes = 5 << 20
)

// DiaryHandler serves the caller's own entries.
type DiaryHandler struct {
	Entries       EntryStore
	Photos        PhotoStore
	Metrics       metrics.Recorder
	MaxPhotoBytes int
}

// Recent handles GET / with the caller's most recent entries.
func (h DiaryHandler) Recent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	entries, err := h.Entries.ListRecent(ctx, caller.OwnerID, recentLimit)
	if err != nil {
		logging.FromContext(ctx).Error("list recent entries", "error", err)
		respondError(ctx, w, http.StatusInternalServerError, "failed to load entries")
		return
	}
	respondJSON(ctx, w, http.StatusOK, models.EntryList{Entries: entries})
}

// Get handles GET /diary/{recordKey}.
func (h DiaryHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	key, ok := recordKey(w, r)
	if !ok {
		return
	}

	entry, err := h.Entries.Get(ctx, caller.OwnerID, key.String())
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			respondError(ctx, w, http.StatusNotFound, "entry not found")
			return
		}
		logging.FromContext(ctx).Error("load entry", "error", err, "recordKey", key.String())
		respondError(ctx, w, http.StatusInternalServerError, "failed to load entry")
		return
	}
	respondJSON(ctx, w, http.StatusOK, entry)
}

// Save handles POST /diary/{recordKey}. The visibility comes from the key; a
// body whose is_public disagrees with it is rejected.
func (h DiaryHandler) Save(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.FromContext(ctx)
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	key, ok := recordKey(w, r)
	if !ok {
		return
	}

	var input models.EntryInput
	if err := decodeJSON(w, r, maxBodyBytes, &input); err != nil {
		logger.Warn("invalid entry payload", "error", err)
		respondError(ctx, w, http.StatusBadRequest, "invalid request body")
		return
	}

	if !visibleText(input.Text) {
		respondError(ctx, w, http.StatusBadRequest, "entry_text is required")
		return
	}
	if input.IsPublic != nil && *input.IsPublic != key.IsPublic() {
		respondError(ctx, w, http.StatusBadRequest, "is_public does not match the record key")
		return
	}

	saved, err := h.Entries.Upsert(ctx, models.DiaryEntry{
		OwnerID:   caller.OwnerID,
		RecordKey: key.String(),
		Text:      input.Text,
		IsPublic:  key.IsPublic(),
		PhotoURL:  strings.TrimSpace(input.PhotoURL),
	})
	if err != nil {
		logger.Error("save entry", "error", err, "recordKey", key.String())
		respondError(ctx, w, http.StatusInternalServerError, "failed to save entry")
		return
	}

	h.recorder().EntrySaved(string(key.Visibility))
	logger.Info("entry saved", "recordKey", key.String())
	respondJSON(ctx, w, http.StatusOK, saved)
}

// Delete handles DELETE /diary/{recordKey}. Only the addressed visibility is
// removed.
func (h DiaryHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	key, ok := recordKey(w, r)
	if !ok {
		return
	}

	if err := h.Entries.Delete(ctx, caller.OwnerID, key.String()); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			respondError(ctx, w, http.StatusNotFound, "entry not found")
			return
		}
		logging.FromContext(ctx).Error("delete entry", "error", err, "recordKey", key.String())
		respondError(ctx, w, http.StatusInternalServerError, "failed to delete entry")
		return
	}

	h.recorder().EntryDeleted()
	respondJSON(ctx, w, http.StatusOK, map[string]string{"message": "entry deleted"})
}

// UploadPhoto handles POST /diary/{recordKey}/photo with a base64 image body.
func (h DiaryHandler) UploadPhoto(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.FromContext(ctx)
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	key, ok := recordKey(w, r)
	if !ok {
		return
	}
	if h.Photos == nil {
		logger.Error("photo storage unavailable")
		respondError(ctx, w, http.StatusServiceUnavailable, "photo storage is not configured")
		return
	}

	maxBytes := h.maxPhotoBytes()
	var upload models.PhotoUpload
	if err := decodeJSON(w, r, int64(base64.StdEncoding.EncodedLen(maxBytes))+maxBodyBytes/16, &upload); err != nil {
		if isTooLarge(err) {
			respondError(ctx, w, http.StatusRequestEntityTooLarge, "photo is too large")
			return
		}
		logger.Warn("invalid photo payload", "error", err)
		respondError(ctx, w, http.StatusBadRequest, "invalid request body")
		return
	}

	encoded := stripDataURL(strings.TrimSpace(upload.Image))
	if encoded == "" {
		respondError(ctx, w, http.StatusBadRequest, "image is required")
		return
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		respondError(ctx, w, http.StatusBadRequest, "image is not valid base64")
		return
	}
	if len(data) > maxBytes {
		respondError(ctx, w, http.StatusRequestEntityTooLarge, "photo is too large")
		return
	}

	spanCtx, span := logging.StartSpan(ctx, "photo.upload", "recordKey", key.String(), "bytes", len(data))
	stored, err := h.Photos.Upload(spanCtx, caller.Username, key.String(), data)
	span.End(err)
	if err != nil {
		if errors.Is(err, storage.ErrUnsupportedImage) {
			respondError(ctx, w, http.StatusUnsupportedMediaType, "image must be JPEG, PNG, GIF or WebP")
			return
		}
		logger.Error("upload photo", "error", err, "recordKey", key.String())
		respondError(ctx, w, http.StatusInternalServerError, "failed to upload photo")
		return
	}

	h.recorder().PhotoUploaded(len(data))
	logger.Info("photo uploaded", "recordKey", key.String(), "objectKey", stored.Key, "bytes", len(data))
	respondJSON(ctx, w, http.StatusOK, models.PhotoUploaded{PhotoURL: stored.URL})
}

func (h DiaryHandler) caller(w http.ResponseWriter, r *http.Request) (middleware.Caller, bool) {
	caller, ok := middleware.CallerFromContext(r.Context())
	if !ok {
		respondError(r.Context(), w, http.StatusUnauthorized, "unauthorized")
		return middleware.Caller{}, false
	}
	if h.Entries == nil {
		logging.FromContext(r.Context()).Error("entry store unavailable")
		respondError(r.Context(), w, http.StatusInternalServerError, "diary services unavailable")
		return middleware.Caller{}, false
	}
	return caller, true
}

func (h DiaryHandler) recorder() metrics.Recorder {
	if h.Metrics == nil {
		return metrics.Nop{}
	}
	return h.Metrics
}

func (h DiaryHandler) maxPhotoBytes() int {
	if h.MaxPhotoBytes > 0 {
		return h.MaxPhotoBytes
	}
	return defaultMaxPhotoBytes
}

func recordKey(w http.ResponseWriter, r *http.Request) (entrykey.Key, bool) {
	key, err := entrykey.Parse(chi.URLParam(r, "recordKey"))
	if err != nil {
		respondError(r.Context(), w, http.StatusBadRequest, err.Error())
		return entrykey.Key{}, false
	}
	return key, true
}

// stripDataURL drops a "data:<type>;base64," prefix.
func stripDataURL(s string) string {
	if !strings.HasPrefix(s, "data:") {
		return s
	}
	if _, payload, ok := strings.Cut(s, ";base64,"); ok {
		return payload
	}
	return s
}
