package webhooks

import (
	"net/http"

	goerrors "github.com/goliatone/go-errors"
	"github.com/trianglegrrl/dhyana/core"
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

func signatureMissing(message string, metadata map[string]any) error {
	return webhookError(
		message,
		goerrors.CategoryAuth,
		http.StatusUnauthorized,
		core.PipelineErrorSignatureMissing,
		metadata,
	)
}

func signatureInvalid(message string, metadata map[string]any) error {
	return webhookError(
		message,
		goerrors.CategoryAuth,
		http.StatusUnauthorized,
		core.PipelineErrorSignatureInvalid,
		metadata,
	)
}

func timestampStale(message string, metadata map[string]any) error {
	return webhookError(
		message,
		goerrors.CategoryAuth,
		http.StatusUnauthorized,
		core.PipelineErrorTimestampStale,
		metadata,
	)
}

func webhookBadInput(message string, metadata map[string]any) error {
	return webhookError(
		message,
		goerrors.CategoryBadInput,
		http.StatusBadRequest,
		core.PipelineErrorBadInput,
		metadata,
	)
}

func webhookInternal(message string, metadata map[string]any) error {
	return webhookError(
		message,
		goerrors.CategoryInternal,
		http.StatusInternalServerError,
		core.PipelineErrorInternal,
		metadata,
	)
}
