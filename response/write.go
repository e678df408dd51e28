package response

import (
	"encoding/json"
	"net/http"
)

type errorBody struct {
	Error                string      `json:"error"`
	Messages             []string    `json:"messages"`
	Result               interface{} `json:"result"`
	RequiresSubscription bool        `json:"requiresSubscription,omitempty"`
}

// WriteError serializes e as the response body with e.StatusCode
func WriteError(w http.ResponseWriter, r *http.Request, e *Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.StatusCode)
	json.NewEncoder(w).Encode(errorBody{
		Error:                e.Message,
		Messages:             e.Messages,
		Result:               e.Result,
		RequiresSubscription: e.RequiresSubscription,
	})
}

// WriteResponse serializes v as the response body with 200 OK
func WriteResponse(w http.ResponseWriter, r *http.Request, v interface{}) {
	WriteResponseWithStatus(w, r, http.StatusOK, v)
}

// WriteResponseWithStatus serializes v as the response body with the given status
func WriteResponseWithStatus(w http.ResponseWriter, r *http.Request, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
