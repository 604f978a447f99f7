package httputil

import (
	"encoding/json"
	"io"
	"net/http"
	"regexp"

	"github.com/banshee-data/motion.report/internal/monitoring"
)

// WriteJSONError writes a JSON error response with the given status code and message.
func WriteJSONError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, map[string]string{"error": msg})
}

// WriteJSON writes a JSON response with the given status code and data.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		monitoring.Logf("failed to encode json response: %v", err)
	}
}

var callbackPattern = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$.]*$`)

// ValidCallback reports whether name is safe to use as a JSONP callback.
func ValidCallback(name string) bool {
	return len(name) <= 64 && callbackPattern.MatchString(name)
}

// WriteJSONP writes data wrapped in a call to callback as JavaScript. The
// callback must satisfy ValidCallback.
func WriteJSONP(w http.ResponseWriter, callback string, data interface{}) {
	if !ValidCallback(callback) {
		BadRequest(w, "invalid callback")
		return
	}
	payload, err := json.Marshal(data)
	if err != nil {
		monitoring.Logf("failed to encode jsonp response: %v", err)
		WriteJSONError(w, http.StatusInternalServerError, "encoding failed")
		return
	}
	w.Header().Set("Content-Type", "application/javascript")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, callback+"("+string(payload)+")")
}

// WriteText writes a plain text response.
func WriteText(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	io.WriteString(w, msg)
}

// MethodNotAllowed writes a 405 Method Not Allowed response.
func MethodNotAllowed(w http.ResponseWriter) {
	WriteJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
}

// BadRequest writes a 400 Bad Request response with the given message.
func BadRequest(w http.ResponseWriter, msg string) {
	WriteJSONError(w, http.StatusBadRequest, msg)
}
