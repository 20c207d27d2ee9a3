package httputil

import (
	"encoding/json"
	"log"
	"net/http"
)

// The control surface keeps the response envelope the web front end already
// understands: {"status": "success", ...} on success and
// {"status": "error", "message": ...} on failure.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// WriteJSONError writes a JSON error envelope with the given status code and message.
func WriteJSONError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, map[string]string{"status": StatusError, "message": msg})
}

// WriteJSON writes a JSON response with the given status code and data.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("failed to encode json response: %v", err)
	}
}

// WriteJSONOK writes a successful JSON response (200 OK).
func WriteJSONOK(w http.ResponseWriter, data interface{}) {
	WriteJSON(w, http.StatusOK, data)
}

// WriteSuccess writes a 200 envelope with status "success" merged with the
// given fields.
func WriteSuccess(w http.ResponseWriter, fields map[string]interface{}) {
	body := make(map[string]interface{}, len(fields)+1)
	for k, v := range fields {
		body[k] = v
	}
	body["status"] = StatusSuccess
	WriteJSONOK(w, body)
}

// BadRequest writes a 400 Bad Request response with the given message.
func BadRequest(w http.ResponseWriter, msg string) {
	WriteJSONError(w, http.StatusBadRequest, msg)
}

// InternalServerError writes a 500 Internal Server Error response.
func InternalServerError(w http.ResponseWriter, msg string) {
	WriteJSONError(w, http.StatusInternalServerError, msg)
}
