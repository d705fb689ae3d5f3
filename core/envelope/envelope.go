/*
Package envelope writes the uniform JSON response envelope of the REST API.

Successful responses look like

	{"success": true, "data": ...}

and failures like

	{"success": false, "error": "Validation failed", "details": [{"field": "content", "message": "..."}]}
*/
package envelope

import (
	"net/http"

	"github.com/goccy/go-json"
)

// FieldError describes a validation failure of a single field
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Response is the response body of every API call. Data is written as is on success,
// even when it is empty.
type Response struct {
	Success    bool
	Data       interface{}
	Error      string
	Details    []FieldError
	Message    string
	Pagination *Pagination
}

type successBody struct {
	Success    bool        `json:"success"`
	Data       interface{} `json:"data"`
	Message    string      `json:"message,omitempty"`
	Pagination *Pagination `json:"pagination,omitempty"`
}

type failureBody struct {
	Success bool         `json:"success"`
	Error   string       `json:"error"`
	Details []FieldError `json:"details,omitempty"`
}

// MarshalJSON is a custom JSON marshaller
func (r Response) MarshalJSON() ([]byte, error) {
	if r.Success {
		return json.Marshal(successBody{Success: true, Data: r.Data, Message: r.Message, Pagination: r.Pagination})
	}
	return json.Marshal(failureBody{Error: r.Error, Details: r.Details})
}

// Pagination is attached to list responses which carry a plain array as data
type Pagination struct {
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// Write writes the response with the given status code
func Write(w http.ResponseWriter, status int, response Response) {
	jsonData, err := json.Marshal(response)
	if err != nil {
		http.Error(w, `{"success":false,"error":"Internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(jsonData)
}

// OK writes a successful response with data
func OK(w http.ResponseWriter, status int, data interface{}) {
	Write(w, status, Response{Success: true, Data: data})
}

// Paginated writes a successful response with a list and its pagination
func Paginated(w http.ResponseWriter, data interface{}, pagination Pagination) {
	Write(w, http.StatusOK, Response{Success: true, Data: data, Pagination: &pagination})
}

// Error writes a failure response
func Error(w http.ResponseWriter, status int, message string) {
	Write(w, status, Response{Success: false, Error: message})
}

// ValidationError writes a 400 failure response with field details
func ValidationError(w http.ResponseWriter, message string, details []FieldError) {
	Write(w, http.StatusBadRequest, Response{Success: false, Error: message, Details: details})
}
