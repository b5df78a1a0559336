package httptransport

import (
	"encoding/json"
	"net/http"
)

// apiError is the error envelope: a short reason in error, an optional
// longer detail in message.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, reason string) {
	writeJSON(w, code, apiError{Error: reason})
}

func writeErrDetail(w http.ResponseWriter, code int, reason, detail string) {
	writeJSON(w, code, apiError{Error: reason, Message: detail})
}
