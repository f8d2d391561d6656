package core

import (
	"context"
	"errors"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	CourierErrorBadInput             = "COURIER_BAD_INPUT"
	CourierErrorInvalidSignature     = "COURIER_INVALID_SIGNATURE"
	CourierErrorReplayDetected       = "COURIER_REPLAY_DETECTED"
	CourierErrorUndecodablePayload   = "COURIER_UNDECODABLE_PAYLOAD"
	CourierErrorNotFound             = "COURIER_NOT_FOUND"
	CourierErrorConflict             = "COURIER_CONFLICT"
	CourierErrorInvalidTransition    = "COURIER_INVALID_TRANSITION"
	CourierErrorAdmissionUnavailable = "COURIER_ADMISSION_UNAVAILABLE"
	CourierErrorTimeout              = "COURIER_TIMEOUT"
	CourierErrorOutboundFailure      = "COURIER_OUTBOUND_FAILURE"
	CourierErrorInternal             = "COURIER_INTERNAL_ERROR"
)

// MapError converts any error into the rich envelope returned to callers.
func MapError(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureCourierErrorEnvelope(richErr)
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return NewCourierError(err.Error(), goerrors.CategoryNotFound, CourierErrorNotFound)
	case errors.Is(err, ErrVersionConflict),
		errors.Is(err, ErrClaimLost),
		errors.Is(err, ErrNDRAlreadyOpen),
		errors.Is(err, ErrRTOAlreadyExists):
		return NewCourierError(err.Error(), goerrors.CategoryConflict, CourierErrorConflict)
	case errors.Is(err, ErrInvalidNDRStatusTransition),
		errors.Is(err, ErrInvalidRTOStatusTransition),
		errors.Is(err, ErrInvalidDeadLetterTransition),
		errors.Is(err, ErrInvalidDisposition),
		errors.Is(err, ErrFinancialSummaryImmutable):
		return NewCourierError(err.Error(), goerrors.CategoryConflict, CourierErrorInvalidTransition)
	case errors.Is(err, ErrActorRequired),
		errors.Is(err, ErrReasonRequired),
		errors.Is(err, ErrUnknownCanonicalStatus),
		errors.Is(err, ErrInvalidWorkflowDefinition):
		return NewCourierError(err.Error(), goerrors.CategoryBadInput, CourierErrorBadInput)
	case errors.Is(err, context.DeadlineExceeded):
		return NewCourierError(err.Error(), goerrors.CategoryOperation, CourierErrorTimeout).
			WithCode(http.StatusGatewayTimeout)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	if strings.Contains(msg, "required") || strings.Contains(msg, "invalid") {
		return NewCourierError(err.Error(), goerrors.CategoryBadInput, CourierErrorBadInput)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureCourierErrorEnvelope(mapped)
}

func NewCourierError(message string, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureCourierErrorEnvelope(
		goerrors.New(message, category).
			WithTextCode(textCode),
	)
}

func WrapCourierError(err error, category goerrors.Category, message string, textCode string) *goerrors.Error {
	if err == nil {
		return nil
	}
	return ensureCourierErrorEnvelope(
		goerrors.Wrap(err, category, message).
			WithTextCode(textCode),
	)
}

// HasTextCode reports whether err carries the given envelope text code.
func HasTextCode(err error, textCode string) bool {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) || richErr == nil {
		return false
	}
	return richErr.TextCode == textCode
}

func ensureCourierErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = courierHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultCourierTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultCourierTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return CourierErrorBadInput
	case goerrors.CategoryNotFound:
		return CourierErrorNotFound
	case goerrors.CategoryAuth, goerrors.CategoryAuthz:
		return CourierErrorInvalidSignature
	case goerrors.CategoryConflict:
		return CourierErrorConflict
	default:
		return CourierErrorInternal
	}
}

func courierHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
