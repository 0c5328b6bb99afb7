package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name    string
		err     *AppError
		wantSub string
	}{
		{
			name:    "without wrapped error",
			err:     New(CodeBadRequest, "invalid input"),
			wantSub: "BAD_REQUEST: invalid input",
		},
		{
			name:    "with wrapped error",
			err:     Wrap(errors.New("upstream 500"), CodeGeocodeUnavailable, "lookup failed"),
			wantSub: "GEOCODE_UNAVAILABLE: lookup failed: upstream 500",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.err.Error()
			if got != tt.wantSub {
				t.Errorf("Error() = %v, want %v", got, tt.wantSub)
			}
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	underlying := errors.New("underlying error")
	appErr := Wrap(underlying, CodeInternal, "wrapped")

	if appErr.Unwrap() != underlying {
		t.Error("Unwrap() should return underlying error")
	}

	if New(CodeBadRequest, "no wrap").Unwrap() != nil {
		t.Error("Unwrap() should return nil for unwrapped error")
	}
}

func TestAppError_Is(t *testing.T) {
	err1 := New(CodeNotFound, "resource not found")
	err2 := New(CodeNotFound, "different message")
	err3 := New(CodeBadRequest, "bad request")

	if !err1.Is(err2) {
		t.Error("errors with same code should match")
	}
	if err1.Is(err3) {
		t.Error("errors with different code should not match")
	}
	if err1.Is(errors.New("not app error")) {
		t.Error("AppError should not match non-AppError")
	}
}

func TestSentinels_MatchWrapped(t *testing.T) {
	cause := errors.New("ZERO_RESULTS")
	err := fmt.Errorf("geocode %q: %w", "nowhere", GeocodeNotFound(cause))

	if !errors.Is(err, ErrGeocodeNotFound) {
		t.Error("wrapped GeocodeNotFound should match ErrGeocodeNotFound")
	}
	if errors.Is(err, ErrGeocodeUnavailable) {
		t.Error("GeocodeNotFound should not match ErrGeocodeUnavailable")
	}
	if !errors.Is(err, cause) {
		t.Error("cause should stay reachable")
	}
	if !errors.Is(ClipboardWriteFailed(nil), ErrClipboardWriteFailed) {
		t.Error("ClipboardWriteFailed should match its sentinel")
	}
}

func TestErrorConstructors(t *testing.T) {
	tests := []struct {
		name     string
		err      *AppError
		wantCode string
	}{
		{"Internal", Internal("internal error"), CodeInternal},
		{"NotFound", NotFound("picker"), CodeNotFound},
		{"BadRequest", BadRequest("bad input"), CodeBadRequest},
		{"Unauthorized", Unauthorized(""), CodeUnauthorized},
		{"Forbidden", Forbidden("other session"), CodeForbidden},
		{"Validation", Validation("invalid"), CodeValidation},
		{"Conflict", Conflict("duplicate"), CodeConflict},
		{"Unavailable", Unavailable("service down"), CodeUnavailable},
		{"RateLimited", RateLimited("too many requests"), CodeRateLimited},
		{"GeocodeNotFound", GeocodeNotFound(nil), CodeGeocodeNotFound},
		{"GeocodeUnavailable", GeocodeUnavailable(nil), CodeGeocodeUnavailable},
		{"ClipboardWriteFailed", ClipboardWriteFailed(nil), CodeClipboardWriteFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Code != tt.wantCode {
				t.Errorf("Code = %s, want %s", tt.err.Code, tt.wantCode)
			}
		})
	}
}

func TestNotFound_Message(t *testing.T) {
	err := NotFound("picker")
	if err.Message != "picker not found" {
		t.Errorf("Message = %s, want 'picker not found'", err.Message)
	}
}

func TestValidationWithDetails(t *testing.T) {
	err := ValidationWithDetails("validation failed", map[string]string{"address": "min"})

	if err.Code != CodeValidation {
		t.Errorf("Code = %s, want %s", err.Code, CodeValidation)
	}
	if err.Details["address"] != "min" {
		t.Errorf("Details[address] = %s, want 'min'", err.Details["address"])
	}
}

func TestIsHelpers(t *testing.T) {
	stdErr := errors.New("standard error")

	if !IsNotFound(NotFound("x")) || IsNotFound(BadRequest("bad")) || IsNotFound(stdErr) {
		t.Error("IsNotFound mismatch")
	}
	if !IsValidation(Validation("x")) || IsValidation(BadRequest("bad")) || IsValidation(stdErr) {
		t.Error("IsValidation mismatch")
	}
	if !IsGeocodeFailure(GeocodeNotFound(nil)) || !IsGeocodeFailure(GeocodeUnavailable(nil)) {
		t.Error("IsGeocodeFailure should match both geocode codes")
	}
	if IsGeocodeFailure(ClipboardWriteFailed(nil)) || IsGeocodeFailure(stdErr) {
		t.Error("IsGeocodeFailure should not match other errors")
	}
}

func TestCode(t *testing.T) {
	if code := Code(NotFound("resource")); code != CodeNotFound {
		t.Errorf("Code() = %s, want %s", code, CodeNotFound)
	}
	if code := Code(errors.New("standard error")); code != "" {
		t.Errorf("Code() = %s, want empty string", code)
	}
	if code := Code(nil); code != "" {
		t.Errorf("Code(nil) = %s, want empty string", code)
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{NotFound("picker"), http.StatusNotFound},
		{Validation("bad"), http.StatusBadRequest},
		{GeocodeNotFound(nil), http.StatusNotFound},
		{GeocodeUnavailable(nil), http.StatusServiceUnavailable},
		{ClipboardWriteFailed(nil), http.StatusUnprocessableEntity},
		{RateLimited("slow down"), http.StatusTooManyRequests},
		{Unauthorized(""), http.StatusUnauthorized},
		{Forbidden(""), http.StatusForbidden},
		{New("SOMETHING_ELSE", "unknown"), http.StatusInternalServerError},
		{errors.New("plain"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.err), func(t *testing.T) {
			if got := HTTPStatus(tt.err); got != tt.want {
				t.Errorf("HTTPStatus() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, GeocodeNotFound(errors.New("ZERO_RESULTS")), "trace-1")

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %s", ct)
	}

	var body ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Error.Code != CodeGeocodeNotFound || body.TraceID != "trace-1" {
		t.Errorf("unexpected body %+v", body)
	}
}

func TestWriteError_PlainErrorHidesMessage(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, errors.New("secret connection string"), "")

	var body ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Error.Code != CodeInternal || body.Error.Message == "secret connection string" {
		t.Errorf("plain errors must not leak, got %+v", body)
	}
}

func TestAppError_ErrorsAs(t *testing.T) {
	var target *AppError
	if !errors.As(NotFound("picker"), &target) {
		t.Fatal("errors.As should work with AppError")
	}
	if target.Code != CodeNotFound {
		t.Errorf("Code = %s, want %s", target.Code, CodeNotFound)
	}
}
