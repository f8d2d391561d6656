package webhooks

import (
	"net/http"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-courier-sync/core"
)

func webhookError(
	message string,
	category goerrors.Category,
	code int,
	textCode string,
	metadata map[string]any,
) error {
	err := goerrors.New(message, category).
		WithCode(code).
		WithTextCode(textCode)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func webhookWrapError(
	source error,
	category goerrors.Category,
	message string,
	code int,
	textCode string,
	metadata map[string]any,
) error {
	if source == nil {
		return webhookError(message, category, code, textCode, metadata)
	}
	err := goerrors.Wrap(source, category, message).
		WithCode(code).
		WithTextCode(textCode)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func invalidSignature(message string, metadata map[string]any) error {
	return webhookError(
		message,
		goerrors.CategoryAuth,
		http.StatusUnauthorized,
		core.CourierErrorInvalidSignature,
		metadata,
	)
}

func replayDetected(message string, metadata map[string]any) error {
	return webhookError(
		message,
		goerrors.CategoryAuth,
		http.StatusUnauthorized,
		core.CourierErrorReplayDetected,
		metadata,
	)
}

func undecodablePayload(source error, metadata map[string]any) error {
	return webhookWrapError(
		source,
		goerrors.CategoryBadInput,
		"webhooks: payload could not be decoded",
		http.StatusBadRequest,
		core.CourierErrorUndecodablePayload,
		metadata,
	)
}

func admissionUnavailable(source error, metadata map[string]any) error {
	return webhookWrapError(
		source,
		goerrors.CategoryInternal,
		"webhooks: admission store unavailable",
		http.StatusInternalServerError,
		core.CourierErrorAdmissionUnavailable,
		metadata,
	)
}

// IsSecurityRejection reports whether err is an invalid signature or replay rejection.
func IsSecurityRejection(err error) bool {
	return core.HasTextCode(err, core.CourierErrorInvalidSignature) ||
		core.HasTextCode(err, core.CourierErrorReplayDetected)
}
