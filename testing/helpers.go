package testing

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// TestContext creates a context with a timeout for testing.
func TestContext(t *testing.T) context.Context {
	return TestContextWithTimeout(t, 30*time.Second)
}

// TestContextWithTimeout creates a context with a custom timeout.
func TestContextWithTimeout(t *testing.T, timeout time.Duration) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}

// HTTPTestRequest creates an HTTP request for testing.
type HTTPTestRequest struct {
	Method  string
	Path    string
	Body    any
	RawBody string
	Headers map[string]string
}

// NewHTTPTestRequest creates a new HTTP test request.
func NewHTTPTestRequest(method, path string) *HTTPTestRequest {
	return &HTTPTestRequest{
		Method:  method,
		Path:    path,
		Headers: make(map[string]string),
	}
}

// WithBody adds a JSON body to the request.
func (r *HTTPTestRequest) WithBody(body any) *HTTPTestRequest {
	r.Body = body
	return r
}

// WithRawBody sends body verbatim. Content-Type is left to the caller.
func (r *HTTPTestRequest) WithRawBody(body string) *HTTPTestRequest {
	r.RawBody = body
	return r
}

// WithHeader adds a header to the request.
func (r *HTTPTestRequest) WithHeader(key, value string) *HTTPTestRequest {
	r.Headers[key] = value
	return r
}

// WithContentType sets the Content-Type header.
func (r *HTTPTestRequest) WithContentType(contentType string) *HTTPTestRequest {
	return r.WithHeader("Content-Type", contentType)
}

// Build builds the HTTP request.
func (r *HTTPTestRequest) Build(t *testing.T) *http.Request {
	t.Helper()

	var body io.Reader
	switch {
	case r.Body != nil:
		data, err := json.Marshal(r.Body)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
		body = bytes.NewReader(data)
	case r.RawBody != "":
		body = strings.NewReader(r.RawBody)
	}

	req := httptest.NewRequest(r.Method, r.Path, body)
	for key, value := range r.Headers {
		req.Header.Set(key, value)
	}

	if r.Body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	return req
}

// HTTPTestResponse wraps httptest.ResponseRecorder with helper methods.
type HTTPTestResponse struct {
	*httptest.ResponseRecorder
	t *testing.T
}

// NewHTTPTestResponse creates a new HTTP test response.
func NewHTTPTestResponse(t *testing.T) *HTTPTestResponse {
	return &HTTPTestResponse{
		ResponseRecorder: httptest.NewRecorder(),
		t:                t,
	}
}

// AssertStatus asserts the response status code.
func (r *HTTPTestResponse) AssertStatus(expected int) *HTTPTestResponse {
	r.t.Helper()
	if r.Code != expected {
		r.t.Errorf("expected status %d, got %d: %s", expected, r.Code, r.Body.String())
	}
	return r
}

// AssertOK asserts status 200.
func (r *HTTPTestResponse) AssertOK() *HTTPTestResponse {
	r.t.Helper()
	return r.AssertStatus(http.StatusOK)
}

// AssertCreated asserts status 201.
func (r *HTTPTestResponse) AssertCreated() *HTTPTestResponse {
	r.t.Helper()
	return r.AssertStatus(http.StatusCreated)
}

// AssertNoContent asserts status 204.
func (r *HTTPTestResponse) AssertNoContent() *HTTPTestResponse {
	r.t.Helper()
	return r.AssertStatus(http.StatusNoContent)
}

// AssertBadRequest asserts status 400.
func (r *HTTPTestResponse) AssertBadRequest() *HTTPTestResponse {
	r.t.Helper()
	return r.AssertStatus(http.StatusBadRequest)
}

// AssertNotFound asserts status 404.
func (r *HTTPTestResponse) AssertNotFound() *HTTPTestResponse {
	r.t.Helper()
	return r.AssertStatus(http.StatusNotFound)
}

// AssertConflict asserts status 409.
func (r *HTTPTestResponse) AssertConflict() *HTTPTestResponse {
	r.t.Helper()
	return r.AssertStatus(http.StatusConflict)
}

// DecodeJSON decodes the response body as JSON.
func (r *HTTPTestResponse) DecodeJSON(v any) *HTTPTestResponse {
	r.t.Helper()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		r.t.Fatalf("failed to decode JSON: %v", err)
	}
	return r
}

// AssertErrorCode asserts the body is an error envelope carrying code.
func (r *HTTPTestResponse) AssertErrorCode(code string) *HTTPTestResponse {
	r.t.Helper()
	var env struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(r.Body.Bytes(), &env); err != nil {
		r.t.Fatalf("failed to decode error envelope: %v", err)
	}
	if env.Error.Code != code {
		r.t.Errorf("error code: expected %s, got %s", code, env.Error.Code)
	}
	return r
}

// ExecuteRequest executes a request against a handler.
func ExecuteRequest(t *testing.T, handler http.Handler, req *http.Request) *HTTPTestResponse {
	resp := NewHTTPTestResponse(t)
	handler.ServeHTTP(resp, req)
	return resp
}

// MustJSON marshals to JSON or panics.
func MustJSON(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}

// Float64Ptr returns a pointer to a float64.
func Float64Ptr(f float64) *float64 {
	return &f
}
