package services

import (
	"errors"
	"fmt"
	"net/http"
)

// ServiceError is the typed failure every engine operation returns. Status
// carries the transport mapping for the thin API layer; Code is stable and
// machine-readable.
type ServiceError struct {
	Status  int
	Code    string
	Message string
	Cause   error
}

func (e *ServiceError) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Cause)
}

func (e *ServiceError) Unwrap() error { return e.Cause }

func newServiceError(status int, code, message string, cause error) *ServiceError {
	return &ServiceError{Status: status, Code: code, Message: message, Cause: cause}
}

func errNotFound(message string) *ServiceError {
	return newServiceError(http.StatusNotFound, "HIER_NOT_FOUND", message, nil)
}

func errParentNotFound(message string) *ServiceError {
	return newServiceError(http.StatusNotFound, "HIER_PARENT_NOT_FOUND", message, nil)
}

func errNoParent(message string) *ServiceError {
	return newServiceError(http.StatusNotFound, "HIER_NO_PARENT", message, nil)
}

func errValidation(message string) *ServiceError {
	return newServiceError(http.StatusBadRequest, "HIER_INVALID_BODY", message, nil)
}

func errInvalidQuery(message string) *ServiceError {
	return newServiceError(http.StatusBadRequest, "HIER_INVALID_QUERY", message, nil)
}

func errCycle(message string) *ServiceError {
	return newServiceError(http.StatusConflict, "HIER_CYCLE", message, nil)
}

func errHasChildren(message string) *ServiceError {
	return newServiceError(http.StatusConflict, "HIER_HAS_CHILDREN", message, nil)
}

// IsCode reports whether err is a ServiceError carrying the given code.
func IsCode(err error, code string) bool {
	var svcErr *ServiceError
	return errors.As(err, &svcErr) && svcErr.Code == code
}
