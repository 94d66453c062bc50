package httpapi

import (
	"encoding/json"
	"net/http"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// Ok wraps data in the success envelope
func Ok(data any) map[string]any {
	return map[string]any{
		"status": "success",
		"data":   data,
	}
}

// Fail wraps a message in the error envelope
func Fail(message string) map[string]any {
	return map[string]any{
		"status":  "error",
		"message": message,
	}
}
