package sns

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// The signing certificate URL arrives inside the untrusted payload, so
// only provider-operated hosts over https are ever fetched.
var certificateHostPattern = regexp.MustCompile(`^sns\.[a-z0-9-]{3,}\.amazonaws\.com(\.cn)?$`)

const defaultCertificateBodyLimit = 64 * 1024

// CertificateSource resolves a signing certificate URL to its RSA public
// key.
type CertificateSource interface {
	PublicKey(ctx context.Context, certURL string) (*rsa.PublicKey, error)
}

// ValidateCertificateURL rejects certificate URLs outside the provider
// allow-list before any network access happens.
func ValidateCertificateURL(raw string) error {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return newVerificationError(
			"sns: signing certificate url is malformed",
			ErrorCodeInvalidCertificateURL,
			map[string]any{"signing_cert_url": raw},
		)
	}
	if parsed.Scheme != "https" {
		return newVerificationError(
			"sns: signing certificate url must use https",
			ErrorCodeInvalidCertificateURL,
			map[string]any{"signing_cert_url": raw, "scheme": parsed.Scheme},
		)
	}
	if !certificateHostPattern.MatchString(strings.ToLower(parsed.Hostname())) {
		return newVerificationError(
			"sns: signing certificate host is not an allowed provider host",
			ErrorCodeInvalidCertificateURL,
			map[string]any{"signing_cert_url": raw, "host": parsed.Hostname()},
		)
	}
	return nil
}

// CertificateFetcher retrieves and parses PEM X.509 certificates over an
// injected HTTP client. Fetch and parse failures are transient
// upstream-unavailable failures; URL validation failures are
// authentication failures.
type CertificateFetcher struct {
	Client       *http.Client
	MaxBodyBytes int64
}

func NewCertificateFetcher(client *http.Client, timeout time.Duration) *CertificateFetcher {
	if client == nil {
		client = &http.Client{}
	}
	if timeout > 0 {
		clone := *client
		clone.Timeout = timeout
		client = &clone
	}
	return &CertificateFetcher{Client: client, MaxBodyBytes: defaultCertificateBodyLimit}
}

func (f *CertificateFetcher) PublicKey(ctx context.Context, certURL string) (*rsa.PublicKey, error) {
	if err := ValidateCertificateURL(certURL); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, certURL, nil)
	if err != nil {
		return nil, NewCertificateUnavailableError(err, "sns: building certificate request failed", map[string]any{
			"signing_cert_url": certURL,
		})
	}
	client := f.Client
	if client == nil {
		client = &http.Client{}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, NewCertificateUnavailableError(err, "sns: certificate fetch failed", map[string]any{
			"signing_cert_url": certURL,
		})
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, NewCertificateUnavailableError(nil, "sns: certificate fetch returned non-2xx status", map[string]any{
			"signing_cert_url": certURL,
			"status_code":      resp.StatusCode,
		})
	}

	limit := f.MaxBodyBytes
	if limit <= 0 {
		limit = defaultCertificateBodyLimit
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return nil, NewCertificateUnavailableError(err, "sns: reading certificate body failed", map[string]any{
			"signing_cert_url": certURL,
		})
	}
	return parseCertificatePublicKey(certURL, body)
}

func parseCertificatePublicKey(certURL string, body []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(body)
	if block == nil {
		return nil, NewCertificateUnavailableError(nil, "sns: certificate body is not PEM", map[string]any{
			"signing_cert_url": certURL,
		})
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, NewCertificateUnavailableError(err, "sns: certificate parse failed", map[string]any{
			"signing_cert_url": certURL,
		})
	}
	publicKey, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return nil, NewCertificateUnavailableError(nil, "sns: certificate does not carry an RSA public key", map[string]any{
			"signing_cert_url": certURL,
		})
	}
	return publicKey, nil
}

var _ CertificateSource = (*CertificateFetcher)(nil)
