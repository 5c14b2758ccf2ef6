// internal/httpx/respond.go
package httpx

import (
	"encoding/json"
	"net/http"
)

type apiError struct {
	Status  string `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteJSON encodes payload with the given status code.
func WriteJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

// WriteError writes the error envelope used by every service.
func WriteError(w http.ResponseWriter, statusCode int, code, message string) {
	WriteJSON(w, statusCode, apiError{
		Status:  "error",
		Code:    code,
		Message: message,
	})
}
