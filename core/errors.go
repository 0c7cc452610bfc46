package core

import (
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	PipelineErrorBadInput           = "SYNC_BAD_INPUT"
	PipelineErrorSignatureInvalid   = "SYNC_SIGNATURE_INVALID"
	PipelineErrorSignatureMissing   = "SYNC_SIGNATURE_MISSING"
	PipelineErrorTimestampStale     = "SYNC_TIMESTAMP_STALE"
	PipelineErrorUnknownEvent       = "SYNC_UNKNOWN_EVENT"
	PipelineErrorMalformedPayload   = "SYNC_MALFORMED_PAYLOAD"
	PipelineErrorEntityNotFound     = "SYNC_ENTITY_NOT_FOUND"
	PipelineErrorTaskConflict       = "SYNC_TASK_CONFLICT"
	PipelineErrorRateLimited        = "SYNC_RATE_LIMITED"
	PipelineErrorPlatformRejected   = "SYNC_PLATFORM_REJECTED"
	PipelineErrorPlatformUnreliable = "SYNC_PLATFORM_UNAVAILABLE"
	PipelineErrorInternal           = "SYNC_INTERNAL_ERROR"
)

func PipelineErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensurePipelineErrorEnvelope(richErr)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "signature") && strings.Contains(msg, "missing"):
		return newPipelineError(err.Error(), goerrors.CategoryAuth, PipelineErrorSignatureMissing)
	case strings.Contains(msg, "signature"):
		return newPipelineError(err.Error(), goerrors.CategoryAuth, PipelineErrorSignatureInvalid)
	case strings.Contains(msg, "timestamp") && strings.Contains(msg, "stale"):
		return newPipelineError(err.Error(), goerrors.CategoryAuth, PipelineErrorTimestampStale)
	case strings.Contains(msg, "throttl"), strings.Contains(msg, "rate limit"):
		return newPipelineError(err.Error(), goerrors.CategoryRateLimit, PipelineErrorRateLimited)
	case strings.Contains(msg, "not found"):
		return newPipelineError(err.Error(), goerrors.CategoryNotFound, PipelineErrorEntityNotFound)
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"), strings.Contains(msg, "malformed"):
		return newPipelineError(err.Error(), goerrors.CategoryBadInput, PipelineErrorBadInput)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensurePipelineErrorEnvelope(mapped)
}

func newPipelineError(message string, category goerrors.Category, textCode string) *goerrors.Error {
	return ensurePipelineErrorEnvelope(
		goerrors.New(message, category).
			WithTextCode(textCode),
	)
}

func ensurePipelineErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = pipelineHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultPipelineTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultPipelineTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return PipelineErrorBadInput
	case goerrors.CategoryNotFound:
		return PipelineErrorEntityNotFound
	case goerrors.CategoryAuth, goerrors.CategoryAuthz:
		return PipelineErrorSignatureInvalid
	case goerrors.CategoryConflict:
		return PipelineErrorTaskConflict
	case goerrors.CategoryRateLimit:
		return PipelineErrorRateLimited
	case goerrors.CategoryExternal:
		return PipelineErrorPlatformUnreliable
	default:
		return PipelineErrorInternal
	}
}

func pipelineHTTPStatus(category goerrors.Category) int {
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
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// IsPermanent reports whether a sync failure should skip retry and go
// straight to the dead letter list. Validation and bad input never heal
// on their own; IO, rate limits, and upstream errors do.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return false
	}
	switch richErr.Category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation, goerrors.CategoryAuthz:
		return true
	default:
		return false
	}
}
