package pipeline

import (
	"encoding/json"
	"net/http"
	"strconv"
)

// Response is the value every stage and handler produces.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
	// Route is the registered path template that produced the response, or
	// empty when no route handled the request. It is never written.
	Route string
}

// ErrorBody is the JSON body of every error response.
type ErrorBody struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retry_after,omitempty"`
}

// ServerError is the generic 500 used when a failure must not leak detail.
func ServerError() *Response {
	return JSON(http.StatusInternalServerError, ErrorBody{
		Error:   "Server error",
		Message: "An unexpected error occurred",
	})
}

// NewResponse returns an empty response with the given status.
func NewResponse(status int) *Response {
	return &Response{Status: status, Header: make(http.Header)}
}

// JSON returns a response whose body is v encoded as JSON. Values that cannot
// be encoded produce a bare 500.
func JSON(status int, v any) *Response {
	resp := NewResponse(status)
	body, err := json.Marshal(v)
	if err != nil {
		resp.Status = http.StatusInternalServerError
		body = []byte(`{"error":"Server error","message":"An unexpected error occurred"}`)
	}
	resp.Header.Set("Content-Type", "application/json")
	resp.Body = body
	return resp
}

// WithHeader sets a header and returns the response for chaining.
func (r *Response) WithHeader(name, value string) *Response {
	if r.Header == nil {
		r.Header = make(http.Header)
	}
	r.Header.Set(name, value)
	return r
}

// Write copies the response onto w.
func (r *Response) Write(w http.ResponseWriter) error {
	h := w.Header()
	for name, values := range r.Header {
		h[name] = values
	}
	if len(r.Body) > 0 {
		h.Set("Content-Length", strconv.Itoa(len(r.Body)))
	}
	status := r.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if len(r.Body) == 0 {
		return nil
	}
	_, err := w.Write(r.Body)
	return err
}
