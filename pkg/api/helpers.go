package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	appErrors "tabgraph-backend/pkg/errors"
)

var validate = validator.New()

// Validate checks a decoded request body against its struct tags, returning a
// validation error naming the offending fields.
func Validate(v interface{}) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	invalid, ok := err.(validator.ValidationErrors)
	if !ok {
		return appErrors.NewValidation(err.Error())
	}

	messages := make([]string, 0, len(invalid))
	for _, fe := range invalid {
		messages = append(messages, fe.Namespace()+" failed on "+fe.Tag())
	}
	return appErrors.NewValidation(strings.Join(messages, "; "))
}

// Success writes data as a JSON response with the given status code.
func Success(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// Error writes a uniform JSON error body with the given status code.
func Error(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: message})
}

// FromError maps a service error onto the HTTP boundary: validation errors
// become 422, not-found 404, upstream failures 502, everything else 500.
func FromError(w http.ResponseWriter, err error) {
	switch {
	case appErrors.IsValidation(err):
		Error(w, http.StatusUnprocessableEntity, err.Error())
	case appErrors.IsNotFound(err):
		Error(w, http.StatusNotFound, err.Error())
	case appErrors.IsExternal(err):
		Error(w, http.StatusBadGateway, err.Error())
	default:
		Error(w, http.StatusInternalServerError, "internal server error")
	}
}
