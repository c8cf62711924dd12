package core

import (
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

// Text codes for the webhook error taxonomy. Format, authentication,
// unknown-message and unknown-kind failures map to 400 and are never
// retried by the provider; upstream-unavailable maps to 503 and is safe
// to retry. Undeclared transitions are logged and metered but the webhook
// still acknowledges them to avoid provider retry storms.
const (
	ErrorCodeFormat               = "MAILSTATUS_FORMAT"
	ErrorCodeAuthentication       = "MAILSTATUS_AUTHENTICATION"
	ErrorCodeUpstreamUnavailable  = "MAILSTATUS_UPSTREAM_UNAVAILABLE"
	ErrorCodeUnknownMessage       = "MAILSTATUS_UNKNOWN_MESSAGE"
	ErrorCodeUnknownKind          = "MAILSTATUS_UNKNOWN_KIND"
	ErrorCodeUndeclaredTransition = "MAILSTATUS_UNDECLARED_TRANSITION"
	ErrorCodeBadInput             = "MAILSTATUS_BAD_INPUT"
	ErrorCodeInternal             = "MAILSTATUS_INTERNAL"
)

func NewFormatError(message string, metadata map[string]any) error {
	return newError(message, goerrors.CategoryBadInput, http.StatusBadRequest, ErrorCodeFormat, metadata)
}

func WrapFormatError(source error, message string, metadata map[string]any) error {
	return wrapError(source, goerrors.CategoryBadInput, message, http.StatusBadRequest, ErrorCodeFormat, metadata)
}

// Authentication failures deliberately carry 400 rather than 401: the
// provider retries 5xx responses only, and a spoofed payload must never
// be retried.
func NewAuthenticationError(message string, metadata map[string]any) error {
	return newError(message, goerrors.CategoryAuth, http.StatusBadRequest, ErrorCodeAuthentication, metadata)
}

func WrapAuthenticationError(source error, message string, metadata map[string]any) error {
	return wrapError(source, goerrors.CategoryAuth, message, http.StatusBadRequest, ErrorCodeAuthentication, metadata)
}

func NewUpstreamUnavailableError(message string, metadata map[string]any) error {
	return newError(message, goerrors.CategoryOperation, http.StatusServiceUnavailable, ErrorCodeUpstreamUnavailable, metadata)
}

func WrapUpstreamUnavailableError(source error, message string, metadata map[string]any) error {
	return wrapError(source, goerrors.CategoryOperation, message, http.StatusServiceUnavailable, ErrorCodeUpstreamUnavailable, metadata)
}

func NewUnknownMessageError(providerMessageID string) error {
	return newError(
		"core: no message matches provider message id",
		goerrors.CategoryNotFound,
		http.StatusBadRequest,
		ErrorCodeUnknownMessage,
		map[string]any{"provider_message_id": providerMessageID},
	)
}

func NewUnknownKindError(kind string) error {
	return newError(
		"core: unknown notification kind",
		goerrors.CategoryBadInput,
		http.StatusBadRequest,
		ErrorCodeUnknownKind,
		map[string]any{"kind": kind},
	)
}

func NewBadInputError(message string, metadata map[string]any) error {
	return newError(message, goerrors.CategoryBadInput, http.StatusBadRequest, ErrorCodeBadInput, metadata)
}

func NewInternalError(message string, metadata map[string]any) error {
	return newError(message, goerrors.CategoryInternal, http.StatusInternalServerError, ErrorCodeInternal, metadata)
}

func WrapInternalError(source error, message string, metadata map[string]any) error {
	return wrapError(source, goerrors.CategoryInternal, message, http.StatusInternalServerError, ErrorCodeInternal, metadata)
}

// HasErrorCode reports whether err carries the given taxonomy text code.
func HasErrorCode(err error, textCode string) bool {
	if err == nil {
		return false
	}
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(richErr.TextCode), strings.TrimSpace(textCode))
}

// IsRetryable reports whether the provider should retry the delivery,
// i.e. the failure is an upstream certificate-fetch outage.
func IsRetryable(err error) bool {
	return HasErrorCode(err, ErrorCodeUpstreamUnavailable)
}

// HTTPStatus resolves the webhook response code for err, defaulting to
// 500 for unclassified failures.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) && richErr.Code != 0 {
		return richErr.Code
	}
	return http.StatusInternalServerError
}

func newError(
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

func wrapError(
	source error,
	category goerrors.Category,
	message string,
	code int,
	textCode string,
	metadata map[string]any,
) error {
	if source == nil {
		return newError(message, category, code, textCode, metadata)
	}
	err := goerrors.Wrap(source, category, message).
		WithCode(code).
		WithTextCode(textCode)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}
