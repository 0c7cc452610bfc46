package jobber

import (
	"net/http"

	goerrors "github.com/goliatone/go-errors"
	"github.com/trianglegrrl/dhyana/core"
)

func malformedPayload(message string, cause error) error {
	if cause != nil {
		return goerrors.Wrap(cause, goerrors.CategoryBadInput, message).
			WithCode(http.StatusBadRequest).
			WithTextCode(core.PipelineErrorMalformedPayload)
	}
	return goerrors.New(message, goerrors.CategoryBadInput).
		WithCode(http.StatusBadRequest).
		WithTextCode(core.PipelineErrorMalformedPayload)
}

func platformUnavailable(message string, cause error, metadata map[string]any) error {
	richErr := goerrors.New(message, goerrors.CategoryExternal).
		WithCode(http.StatusBadGateway).
		WithTextCode(core.PipelineErrorPlatformUnreliable)
	if cause != nil {
		richErr = goerrors.Wrap(cause, goerrors.CategoryExternal, message).
			WithCode(http.StatusBadGateway).
			WithTextCode(core.PipelineErrorPlatformUnreliable)
	}
	if len(metadata) > 0 {
		richErr = richErr.WithMetadata(metadata)
	}
	return richErr
}

func platformRejected(message string, metadata map[string]any) error {
	richErr := goerrors.New(message, goerrors.CategoryExternal).
		WithCode(http.StatusBadGateway).
		WithTextCode(core.PipelineErrorPlatformRejected)
	if len(metadata) > 0 {
		richErr = richErr.WithMetadata(metadata)
	}
	return richErr
}

func clientBadInput(message string) error {
	return goerrors.New(message, goerrors.CategoryBadInput).
		WithCode(http.StatusBadRequest).
		WithTextCode(core.PipelineErrorBadInput)
}
