// Package validation provides input validation utilities.
package validation

import (
	"encoding/json"
	"errors"
	"math"
	"mime"
	"net/http"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	apperrors "github.com/mycobrun/cobrun-picker/errors"
)

// MaxBodyBytes caps request bodies read by DecodeAndValidate.
const MaxBodyBytes = 64 << 10

var (
	validate *validator.Validate
	once     sync.Once
)

// GetValidator returns the singleton validator instance.
func GetValidator() *validator.Validate {
	once.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())

		// Use JSON tag names for error messages
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})

		registerCustomValidations(validate)
	})

	return validate
}

func registerCustomValidations(v *validator.Validate) {
	_ = v.RegisterValidation("latitude", validateLatitude)
	_ = v.RegisterValidation("longitude", validateLongitude)
	_ = v.RegisterValidation("finite", validateFinite)
}

// Latitude validates latitude values (-90 to 90).
func validateLatitude(fl validator.FieldLevel) bool {
	lat := fl.Field().Float()
	return lat >= -90 && lat <= 90
}

// Longitude validates longitude values (-180 to 180).
func validateLongitude(fl validator.FieldLevel) bool {
	lng := fl.Field().Float()
	return lng >= -180 && lng <= 180
}

func validateFinite(fl validator.FieldLevel) bool {
	f := fl.Field().Float()
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// Validate validates a struct and returns the raw validator error.
func Validate(s any) error {
	return GetValidator().Struct(s)
}

// ValidateStruct validates s and returns the parsed field errors alongside
// the raw error.
func ValidateStruct(s any) (ValidationErrors, error) {
	err := Validate(s)
	return ParseValidationErrors(err), err
}

// ValidateVar validates a single variable.
func ValidateVar(field any, tag string) error {
	return GetValidator().Var(field, tag)
}

// ValidationError represents a single validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return ""
	}
	var sb strings.Builder
	for i, e := range ve {
		if i > 0 {
			sb.WriteString("; ")
		}
		sb.WriteString(e.Field)
		sb.WriteString(": ")
		sb.WriteString(e.Message)
	}
	return sb.String()
}

// Details flattens the errors into a field → message map for AppError.
func (ve ValidationErrors) Details() map[string]string {
	if len(ve) == 0 {
		return nil
	}
	details := make(map[string]string, len(ve))
	for _, e := range ve {
		details[e.Field] = e.Message
	}
	return details
}

// ParseValidationErrors converts validator.ValidationErrors to our format.
func ParseValidationErrors(err error) ValidationErrors {
	if err == nil {
		return nil
	}

	var validationErrors ValidationErrors

	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		for _, e := range ve {
			field := e.Field()
			if field == "" {
				field = "value"
			}
			validationErrors = append(validationErrors, ValidationError{
				Field:   field,
				Message: getErrorMessage(e),
			})
		}
	}

	return validationErrors
}

func getErrorMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "latitude":
		return "must be a valid latitude (-90 to 90)"
	case "longitude":
		return "must be a valid longitude (-180 to 180)"
	case "finite":
		return "must be a finite number"
	case "min":
		return "must be at least " + e.Param()
	case "max":
		return "must be at most " + e.Param()
	case "oneof":
		return "must be one of: " + e.Param()
	case "gt":
		return "must be greater than " + e.Param()
	case "gte":
		return "must be greater than or equal to " + e.Param()
	default:
		return "is invalid"
	}
}

// DecodeAndValidate decodes a JSON request body into dst and validates it.
// On failure it writes the error response and returns false.
func DecodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	if ct := r.Header.Get("Content-Type"); ct != "" {
		mediaType, _, err := mime.ParseMediaType(ct)
		if err != nil || mediaType != "application/json" {
			apperrors.WriteErrorWithStatus(w, http.StatusUnsupportedMediaType,
				apperrors.CodeBadRequest, "Content-Type must be application/json")
			return false
		}
	}

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		apperrors.WriteError(w, apperrors.BadRequest("invalid JSON body: "+err.Error()), "")
		return false
	}

	if verrs, err := ValidateStruct(dst); err != nil {
		apperrors.WriteError(w, apperrors.ValidationWithDetails("validation failed", verrs.Details()), "")
		return false
	}

	return true
}
