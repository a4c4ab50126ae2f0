// Package errors maps runorch failures onto HTTP error responses.
package errors

import (
	"encoding/json"
	goerrors "errors"
	"fmt"
	"net/http"

	gferrors "github.com/fulmenhq/gofulmen/errors"

	"github.com/michaelbracke25100/DLWR-DGSA-ca-data-platform-api/pkg/dispatch"
	"github.com/michaelbracke25100/DLWR-DGSA-ca-data-platform-api/pkg/orchestrator"
	"github.com/michaelbracke25100/DLWR-DGSA-ca-data-platform-api/pkg/runparams"
	"github.com/michaelbracke25100/DLWR-DGSA-ca-data-platform-api/pkg/secrets"
)

// Error codes returned in HTTPError.Code.
const (
	CodeNotFound           = "NOT_FOUND"
	CodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	CodeValidation         = "VALIDATION_ERROR"
	CodeConflict           = "CONFLICT"
	CodeExternalService    = "EXTERNAL_SERVICE_ERROR"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeInternal           = "INTERNAL_ERROR"
)

// RequestIDHeader carries the request id between middleware and responses.
const RequestIDHeader = "X-Request-ID"

// HTTPError is the body of an error response.
type HTTPError struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	RequestID string         `json:"request_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// HTTPErrorResponse wraps HTTPError under an "error" key.
type HTTPErrorResponse struct {
	Error HTTPError `json:"error"`
}

// Error is an error that knows its HTTP status and code.
type Error struct {
	Status  int
	Code    string
	Message string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error with the given status and code.
func New(status int, code, message string) *Error {
	return &Error{Status: status, Code: code, Message: message}
}

// WithDetails returns e with details merged in.
func (e *Error) WithDetails(details map[string]any) *Error {
	if len(details) == 0 {
		return e
	}
	if e.Details == nil {
		e.Details = make(map[string]any, len(details))
	}
	for k, v := range details {
		e.Details[k] = v
	}
	return e
}

// NewNotFoundError reports a missing resource.
func NewNotFoundError(message string) *Error {
	return New(http.StatusNotFound, CodeNotFound, message)
}

// NewValidationError reports bad caller input.
func NewValidationError(message string) *Error {
	return New(http.StatusBadRequest, CodeValidation, message)
}

// NewExternalServiceError reports a failed call to a dependency.
func NewExternalServiceError(service string, err error) *Error {
	e := New(http.StatusBadGateway, CodeExternalService, service+" request failed")
	e.Err = err
	return e.WithDetails(map[string]any{"service": service})
}

// WrapInternal hides err behind a generic message.
func WrapInternal(err error, message string) *Error {
	e := New(http.StatusInternalServerError, CodeInternal, message)
	e.Err = err
	return e
}

// Classify maps err onto an Error. Errors that are already an *Error pass
// through unchanged.
func Classify(err error) *Error {
	var appErr *Error
	if goerrors.As(err, &appErr) {
		return appErr
	}

	var verrs runparams.ValidationErrors
	switch {
	case goerrors.Is(err, orchestrator.ErrPipelineNotFound),
		goerrors.Is(err, orchestrator.ErrRunNotFound):
		return wrap(NewNotFoundError(err.Error()), err)
	case goerrors.As(err, &verrs):
		e := wrap(NewValidationError("run parameters failed validation"), err)
		msgs := make([]string, 0, len(verrs))
		for _, v := range verrs {
			msgs = append(msgs, v.Error())
		}
		return e.WithDetails(map[string]any{"violations": msgs})
	case goerrors.Is(err, orchestrator.ErrInvalidFilter),
		goerrors.Is(err, runparams.ErrUnknownJobType),
		goerrors.Is(err, runparams.ErrValidationFailed),
		goerrors.Is(err, secrets.ErrUnresolvable):
		return wrap(NewValidationError(err.Error()), err)
	case goerrors.Is(err, dispatch.ErrDuplicate):
		return wrap(New(http.StatusConflict, CodeConflict, err.Error()), err)
	case goerrors.Is(err, dispatch.ErrDispatchFailed):
		return NewExternalServiceError("executor", err)
	default:
		return WrapInternal(err, "internal server error")
	}
}

func wrap(e *Error, err error) *Error {
	e.Err = err
	return e
}

// Response renders e for a request id.
func (e *Error) Response(requestID string) HTTPErrorResponse {
	return HTTPErrorResponse{Error: HTTPError{
		Code:      e.Code,
		Message:   e.Message,
		RequestID: requestID,
		Details:   e.Details,
	}}
}

// RespondWithError classifies err and writes it as JSON.
func RespondWithError(w http.ResponseWriter, r *http.Request, err error) {
	e := Classify(err)
	requestID := ""
	if r != nil {
		requestID = r.Header.Get(RequestIDHeader)
	}
	WriteJSON(w, e.Status, e.Response(requestID))
}

// WriteJSON writes body as JSON with status.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// envelopeFields is the serialized shape of a gofulmen error envelope.
type envelopeFields struct {
	Code          string         `json:"code"`
	Message       string         `json:"message"`
	Context       map[string]any `json:"context"`
	Details       map[string]any `json:"details"`
	CorrelationID string         `json:"correlation_id"`
}

// FromEnvelope converts a gofulmen envelope into an Error with status.
func FromEnvelope(env *gferrors.ErrorEnvelope, status int) *Error {
	if env == nil {
		return New(status, CodeInternal, http.StatusText(status))
	}

	var fields envelopeFields
	if raw, err := json.Marshal(env); err == nil {
		_ = json.Unmarshal(raw, &fields)
	}
	if fields.Code == "" {
		fields.Code = CodeInternal
	}

	e := New(status, fields.Code, fields.Message)
	e.WithDetails(fields.Details)
	e.WithDetails(fields.Context)
	if fields.CorrelationID != "" {
		e.WithDetails(map[string]any{"correlation_id": fields.CorrelationID})
	}
	return e
}
