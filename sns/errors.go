package sns

import (
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

// Text codes for verification failures. Every code except
// SNS_CERTIFICATE_UNAVAILABLE is an authentication-class failure the
// provider must not retry; certificate-unavailable is a transient
// upstream outage and carries a 503.
const (
	ErrorCodeUnknownSignatureVersion = "SNS_UNKNOWN_SIGNATURE_VERSION"
	ErrorCodeInvalidType             = "SNS_INVALID_TYPE"
	ErrorCodeInvalidCertificateURL   = "SNS_INVALID_CERTIFICATE_URL"
	ErrorCodeCertificateUnavailable  = "SNS_CERTIFICATE_UNAVAILABLE"
	ErrorCodeInvalidSignature        = "SNS_INVALID_SIGNATURE"
	ErrorCodeUnknownTimestampFormat  = "SNS_UNKNOWN_TIMESTAMP_FORMAT"
	ErrorCodeMessageExpired          = "SNS_MESSAGE_EXPIRED"
	ErrorCodeInvalidTopic            = "SNS_INVALID_TOPIC"
)

func newVerificationError(message, textCode string, metadata map[string]any) error {
	err := goerrors.New(message, goerrors.CategoryAuth).
		WithCode(http.StatusBadRequest).
		WithTextCode(textCode)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

// NewCertificateUnavailableError builds the transient 503-class failure
// used when the signing certificate cannot be fetched or parsed.
func NewCertificateUnavailableError(source error, message string, metadata map[string]any) error {
	var err *goerrors.Error
	if source != nil {
		err = goerrors.Wrap(source, goerrors.CategoryOperation, message)
	} else {
		err = goerrors.New(message, goerrors.CategoryOperation)
	}
	err = err.
		WithCode(http.StatusServiceUnavailable).
		WithTextCode(ErrorCodeCertificateUnavailable)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

// IsCertificateUnavailable reports whether err is a transient
// certificate fetch/parse failure rather than a verification rejection.
func IsCertificateUnavailable(err error) bool {
	return hasTextCode(err, ErrorCodeCertificateUnavailable)
}

// IsVerificationFailure reports whether err is a deterministic
// authentication-class rejection of the payload.
func IsVerificationFailure(err error) bool {
	if err == nil {
		return false
	}
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return false
	}
	return richErr.Category == goerrors.CategoryAuth
}

func hasTextCode(err error, textCode string) bool {
	if err == nil {
		return false
	}
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return false
	}
	return strings.EqualFold(richErr.TextCode, textCode)
}
