package query

import (
	"net/http"

	goerrors "github.com/goliatone/go-errors"

	"github.com/trianglegrrl/dhyana/core"
)

func queryDependencyError(message string) error {
	return goerrors.New(message, goerrors.CategoryInternal).
		WithCode(http.StatusInternalServerError).
		WithTextCode(core.PipelineErrorInternal)
}

func queryWrapValidation(err error, message string) error {
	if err == nil {
		return nil
	}
	return goerrors.Wrap(err, goerrors.CategoryValidation, message).
		WithCode(http.StatusBadRequest).
		WithTextCode(core.PipelineErrorBadInput)
}
