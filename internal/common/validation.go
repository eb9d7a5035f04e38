package common

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	validate *validator.Validate

	// Gateway ids are 24 hex characters
	objectIDRegex = regexp.MustCompile(`^[a-fA-F0-9]{24}$`)
)

func init() {
	validate = validator.New()

	// Register custom validations
	validate.RegisterValidation("objectid", validateObjectID)
}

// ValidateStruct validates a struct using validator tags
func ValidateStruct(s interface{}) map[string]string {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return map[string]string{"body": err.Error()}
	}

	fieldErrors := make(map[string]string)
	for _, fe := range verrs {
		field := strings.ToLower(fe.Field())
		fieldErrors[field] = getValidationMessage(fe)
	}
	return fieldErrors
}

// DecodeAndValidate decodes JSON request body and validates it
func DecodeAndValidate(r *http.Request, dst interface{}) map[string]string {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return map[string]string{"body": "Invalid JSON format"}
	}
	return ValidateStruct(dst)
}

// Custom validation functions
func validateObjectID(fl validator.FieldLevel) bool {
	id := fl.Field().String()
	if id == "" {
		return true // Allow empty (use `required` tag if needed)
	}
	return objectIDRegex.MatchString(id)
}

// Get human-readable validation messages
func getValidationMessage(err validator.FieldError) string {
	switch err.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", err.Field())
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", err.Field(), err.Param())
	case "max":
		return fmt.Sprintf("%s must not exceed %s characters", err.Field(), err.Param())
	case "objectid":
		return fmt.Sprintf("%s must be a valid id", err.Field())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", err.Field(), err.Param())
	case "gte":
		return fmt.Sprintf("%s must be at least %s", err.Field(), err.Param())
	case "lte":
		return fmt.Sprintf("%s must be at most %s", err.Field(), err.Param())
	case "dive":
		return fmt.Sprintf("%s contains an invalid value", err.Field())
	default:
		return fmt.Sprintf("%s is invalid", err.Field())
	}
}

// ValidateObjectID reports whether id looks like a gateway id
func ValidateObjectID(id string) bool {
	return objectIDRegex.MatchString(id)
}

// SanitizeString trims whitespace and normalizes a string
func SanitizeString(s string) string {
	return strings.TrimSpace(s)
}
