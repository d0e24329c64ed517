package web

import (
	"encoding/json"
	"net/http"
	"strings"
)

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id,omitempty"`
}

// writeError writes a structured JSON error response.
func writeError(w http.ResponseWriter, r *http.Request, message, code string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	resp := errorResponse{
		Error:     message,
		Code:      code,
		RequestID: requestIDFromContext(r.Context()),
	}
	_ = json.NewEncoder(w).Encode(resp)
}

// writeJSON writes a JSON response with status 200.
func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// messageEscaper escapes the XML-significant characters in message text.
// Quotes and newlines stay literal: the text sits in element content, and the
// channel renders newlines as line breaks.
var messageEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
)

// writeMessageEnvelope writes the channel's reply envelope. The wrapper must
// stay byte-for-byte as the channel expects it; only the inner text is
// escaped.
func writeMessageEnvelope(w http.ResponseWriter, text string) {
	w.Header().Set("Content-Type", "application/xml")
	_, _ = w.Write([]byte("<Response><Message>" + messageEscaper.Replace(text) + "</Message></Response>"))
}
