package handlers

import (
	"net/http"

	"github.com/familydiary/diary/internal/models"
)

// HealthHandler responds with service health information.
type HealthHandler struct{}

// Handle implements GET /health.
func (HealthHandler) Handle(w http.ResponseWriter, r *http.Request) {
	respondJSON(r.Context(), w, http.StatusOK, models.Health{Status: "healthy", Message: "API is running"})
}
