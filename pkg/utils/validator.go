package utils

import (
	goerrors "errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/turtacn/accessgate/pkg/errors"
)

// Validator holds the singleton instance of the validator.
var defaultValidator *validator.Validate

func init() {
	defaultValidator = validator.New()
	// Register custom validation functions
	_ = defaultValidator.RegisterValidation("pathpattern", validatePathPattern)
}

// ValidateStruct validates a struct using the default validator.
// It returns an invalid_request error naming each failing field.
func ValidateStruct(s interface{}) errors.GateError {
	err := defaultValidator.Struct(s)
	if err == nil {
		return nil
	}
	var validationErrors validator.ValidationErrors
	if !goerrors.As(err, &validationErrors) {
		return errors.ErrInvalidRequest(err.Error())
	}
	messages := make([]string, 0, len(validationErrors))
	fields := make(map[string]string, len(validationErrors))
	for _, fe := range validationErrors {
		msg := formatValidationError(fe)
		messages = append(messages, msg)
		fields[toSnakeCase(fe.Field())] = msg
	}
	return errors.ErrInvalidRequest(strings.Join(messages, "; ")).WithMetadata("fields", fields)
}

// validatePathPattern accepts absolute path patterns that compile.
func validatePathPattern(fl validator.FieldLevel) bool {
	field := fl.Field().String()
	if !strings.HasPrefix(field, "/") {
		return false
	}
	_, err := CompilePathPattern(field)
	return err == nil
}

// formatValidationError creates a user-friendly error message.
func formatValidationError(fe validator.FieldError) string {
	field := toSnakeCase(fe.Field())
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", field, fe.Param())
	case "pathpattern":
		return fmt.Sprintf("%s must be an absolute path pattern", field)
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}

var (
	matchFirstCap = regexp.MustCompile("(.)([A-Z][a-z]+)")
	matchAllCap   = regexp.MustCompile("([a-z0-9])([A-Z])")
)

// toSnakeCase converts a string from CamelCase to snake_case.
// This is used to format field names in the validation error response.
func toSnakeCase(str string) string {
	snake := matchFirstCap.ReplaceAllString(str, "${1}_${2}")
	snake = matchAllCap.ReplaceAllString(snake, "${1}_${2}")
	return strings.ToLower(snake)
}

//Personal.AI order the ending
