package handlers

import (
	"encoding/json"
	"net/http"
)

// ErrorResponse is the body of every non-2xx JSON response
type ErrorResponse struct {
	Detail string `json:"detail"`
	JobID  string `json:"job_id,omitempty"`
	Stage  string `json:"stage,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, ErrorResponse{Detail: detail})
}
