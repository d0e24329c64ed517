package web

import (
	"net/http"

	"duka-agent/internal/app"

	"github.com/go-chi/chi/v5"
)

// Handler holds the ApplicationService and the chi router.
type Handler struct {
	svc    app.ApplicationService
	router chi.Router
}

// NewHandler creates and wires the chi router with all routes.
func NewHandler(svc app.ApplicationService) http.Handler {
	h := &Handler{svc: svc}

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(Logger)
	r.Use(Recoverer)

	r.Get("/api/health", h.health)

	// Inbound messages are short; a kilobyte-scale cap keeps the channel
	// webhook from being used to stream junk.
	r.Group(func(r chi.Router) {
		r.Use(RequestBodyLimit(64 << 10)) // 64 KB
		r.Post("/whatsapp", h.whatsappReply)
	})

	h.router = r
	return r
}

// health returns service status.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	type response struct {
		Status string `json:"status"`
	}
	writeJSON(w, response{Status: "ok"})
}

// whatsappReply handles one inbound channel message. The channel posts a
// form-encoded Body field and expects the reply wrapped in the
// <Response><Message>…</Message></Response> envelope.
func (h *Handler) whatsappReply(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, r, "invalid form body", "BAD_REQUEST", http.StatusBadRequest)
		return
	}
	body := r.PostFormValue("Body")
	if body == "" {
		writeError(w, r, "Body is required", "BAD_REQUEST", http.StatusBadRequest)
		return
	}

	reply := h.svc.HandleMessage(r.Context(), body)
	writeMessageEnvelope(w, reply)
}
