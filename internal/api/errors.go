package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/phrazzld/learnflow/internal/api/shared"
	"github.com/phrazzld/learnflow/internal/domain"
	"github.com/phrazzld/learnflow/internal/service/auth"
	"github.com/phrazzld/learnflow/internal/store"
)

// MapErrorToStatusCode maps internal errors to appropriate HTTP status codes
// based on the error type. This prevents leaking internal error types or
// messages to clients.
func MapErrorToStatusCode(err error) int {
	var verrs validator.ValidationErrors
	switch {
	case err == nil:
		return http.StatusOK

	// Authentication errors
	case errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrExpiredToken),
		errors.Is(err, auth.ErrTokenNotYetValid),
		errors.Is(err, auth.ErrMissingToken),
		errors.Is(err, auth.ErrWrongTokenType):
		return http.StatusUnauthorized

	// Storage failures win over whatever cause they wrap
	case errors.Is(err, domain.ErrStorage):
		return http.StatusInternalServerError

	// Bad request errors
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrInvalidID),
		errors.Is(err, store.ErrInvalidEntity),
		errors.As(err, &verrs):
		return http.StatusBadRequest

	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden

	case errors.Is(err, domain.ErrNotFound),
		errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound

	case errors.Is(err, domain.ErrConflict),
		errors.Is(err, store.ErrVersionConflict),
		errors.Is(err, store.ErrDuplicate):
		return http.StatusConflict

	case errors.Is(err, domain.ErrDomain):
		return http.StatusUnprocessableEntity

	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a client-safe message for err. Only messages
// built from caller input or domain rules are passed through; storage and
// unknown errors collapse to a generic message.
func GetSafeErrorMessage(err error) string {
	if err == nil {
		return "An unexpected error occurred"
	}

	var (
		verrs     validator.ValidationErrors
		validErr  *domain.ValidationError
		notFound  *domain.NotFoundError
		domainErr *domain.DomainError
	)
	switch {
	case errors.Is(err, auth.ErrExpiredToken):
		return "Token expired"
	case MapErrorToStatusCode(err) == http.StatusUnauthorized:
		return "Invalid token"

	case errors.Is(err, domain.ErrStorage):
		return "An unexpected error occurred"

	case errors.As(err, &verrs):
		return SanitizeValidationError(err)
	case errors.As(err, &validErr):
		return sanitizeDomainValidation(validErr)
	case errors.Is(err, domain.ErrInvalidID):
		return "Invalid ID"
	case errors.Is(err, store.ErrInvalidEntity):
		return "Invalid entity data"

	case errors.Is(err, domain.ErrForbidden):
		return "You are not allowed to perform this operation"

	case errors.As(err, &notFound):
		return capitalize(notFound.Entity) + " not found"
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, store.ErrNotFound):
		return "Resource not found"

	case errors.Is(err, domain.ErrConflict), errors.Is(err, store.ErrVersionConflict):
		return "The resource was modified concurrently, please retry"
	case errors.Is(err, store.ErrDuplicate):
		return "Resource already exists"

	case errors.As(err, &domainErr):
		return capitalize(domainErr.Reason)

	default:
		return "An unexpected error occurred"
	}
}

// ErrorDetails returns the client-safe detail lines for err, such as every
// violation found in a template.
func ErrorDetails(err error) []string {
	var validErr *domain.ValidationError
	if errors.As(err, &validErr) && len(validErr.Violations) > 0 {
		return validErr.Violations
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 1 {
		out := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			out = append(out, fieldMessage(fe))
		}
		return out
	}
	return nil
}

// HandleAPIError writes the error response for err. fallback replaces the
// generic message for server errors so clients see which operation failed.
func HandleAPIError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	status := MapErrorToStatusCode(err)
	message := GetSafeErrorMessage(err)
	if status >= http.StatusInternalServerError && fallback != "" {
		message = fallback
	}

	var opts []shared.ResponseOption
	if details := ErrorDetails(err); details != nil {
		opts = append(opts, shared.WithDetails(details))
	}
	if status == http.StatusForbidden || status == http.StatusConflict {
		opts = append(opts, shared.WithElevatedLogLevel())
	}
	shared.RespondWithErrorAndLog(w, r, status, message, err, opts...)
}

// SanitizeValidationError removes sensitive details from validation errors
// and returns a user-friendly message.
func SanitizeValidationError(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return fieldMessage(verrs[0])
	}
	return "Validation error"
}

func fieldMessage(fe validator.FieldError) string {
	return fmt.Sprintf("Invalid %s: %s", fe.Field(), getValidationTagMessage(fe.Tag()))
}

func sanitizeDomainValidation(err *domain.ValidationError) string {
	switch {
	case len(err.Violations) > 0 && err.Message != "":
		return capitalize(err.Message)
	case err.Field != "" && err.Message != "":
		return fmt.Sprintf("Invalid %s: %s", err.Field, err.Message)
	case err.Message != "":
		return capitalize(err.Message)
	default:
		return "Validation error"
	}
}

// getValidationTagMessage maps validation tags to user-friendly error messages
func getValidationTagMessage(tag string) string {
	switch tag {
	case "required":
		return "required field"
	case "uuid", "uuid4":
		return "invalid UUID"
	case "min", "gte":
		return "too small"
	case "max", "lte":
		return "too large"
	case "oneof":
		return "invalid value"
	case "dive":
		return "invalid element"
	default:
		return "validation failed"
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
