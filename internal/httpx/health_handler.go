package httpx

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/prasetya/stockguard/internal/health"
)

type HealthHandler struct {
	Reporter *health.Reporter
}

func (h *HealthHandler) Register(r *chi.Mux) {
	r.Get("/status", h.status)
}

func (h *HealthHandler) status(w http.ResponseWriter, r *http.Request) {
	rep, err := h.Reporter.Report(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "report failed"})
		return
	}
	writeJSON(w, http.StatusOK, rep)
}
