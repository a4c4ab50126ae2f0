// Package middleware holds the HTTP middleware used by the runorch server.
package middleware

import (
	"fmt"
	"net/http"

	gferrors "github.com/fulmenhq/gofulmen/errors"
	"go.uber.org/zap"

	apperrors "github.com/michaelbracke25100/DLWR-DGSA-ca-data-platform-api/internal/errors"
	"github.com/michaelbracke25100/DLWR-DGSA-ca-data-platform-api/internal/observability"
)

// ErrorResponse is the JSON body written for failed requests.
type ErrorResponse = apperrors.HTTPErrorResponse

// Recovery turns handler panics into INTERNAL_ERROR responses.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}

			requestID := r.Header.Get(apperrors.RequestIDHeader)
			observability.CLILogger.Error("Handler panic",
				zap.Any("panic", rec),
				zap.String("path", r.URL.Path),
				zap.String("request_id", requestID))

			envelope := gferrors.NewErrorEnvelope(apperrors.CodeInternal, fmt.Sprintf("panic: %v", rec))
			if requestID != "" {
				envelope = envelope.WithCorrelationID(requestID)
			}
			writeEnvelope(w, envelope, http.StatusInternalServerError, requestID)
		}()
		next.ServeHTTP(w, r)
	})
}

// ErrorHandler is an alias for Recovery.
func ErrorHandler(next http.Handler) http.Handler {
	return Recovery(next)
}

func writeErrorResponse(w http.ResponseWriter, envelope *gferrors.ErrorEnvelope, status int) {
	writeEnvelope(w, envelope, status, "")
}

func writeEnvelope(w http.ResponseWriter, envelope *gferrors.ErrorEnvelope, status int, requestID string) {
	e := apperrors.FromEnvelope(envelope, status)
	apperrors.WriteJSON(w, status, e.Response(requestID))
}
