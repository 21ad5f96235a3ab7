package httpx

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/prasetya/stockguard/internal/webhook"
)

type WebhookHandler struct {
	Proc *webhook.Processor
}

func (h *WebhookHandler) Register(r *chi.Mux) {
	r.Post("/webhooks/payment", h.payment)
}

func (h *WebhookHandler) payment(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable body"})
		return
	}

	res := h.Proc.Handle(r.Context(), body,
		r.Header.Get("X-Gateway-Signature"),
		r.Header.Get("Idempotency-Key"))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(res.Code)
	_, _ = w.Write(res.Body)
}
