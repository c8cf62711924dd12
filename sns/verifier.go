package sns

import (
	"context"
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"
	"time"
)

// TimestampLayout is the fixed UTC timestamp format carried by provider
// payloads.
const TimestampLayout = "2006-01-02T15:04:05.000000Z"

const supportedSignatureVersion = "2"

const defaultFreshnessWindow = time.Hour

// Verifier authenticates provider payloads: signature version, signing
// certificate, RSA-SHA256 signature over the canonical bytes, timestamp
// freshness, and topic membership, in that order. Checks are pure
// functions of the payload; nothing is mutated before the first failing
// check.
type Verifier struct {
	certificates CertificateSource
	topics       map[string]struct{}

	// FreshnessWindow bounds how old a payload timestamp may be. Future
	// timestamps are accepted; only age is checked.
	FreshnessWindow time.Duration
	Now             func() time.Time
}

func NewVerifier(certificates CertificateSource, topics []string) (*Verifier, error) {
	if certificates == nil {
		return nil, fmt.Errorf("sns: certificate source is required")
	}
	allowed := make(map[string]struct{}, len(topics))
	for _, topic := range topics {
		topic = strings.TrimSpace(topic)
		if topic == "" {
			continue
		}
		allowed[topic] = struct{}{}
	}
	return &Verifier{
		certificates:    certificates,
		topics:          allowed,
		FreshnessWindow: defaultFreshnessWindow,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}, nil
}

// Verify authenticates payload. Returns nil when the payload is genuine,
// fresh, and addressed to an allowed topic; otherwise an
// authentication-class error, or a certificate-unavailable error when
// the signing certificate could not be fetched.
func (v *Verifier) Verify(ctx context.Context, payload Payload) error {
	if payload.SignatureVersion != supportedSignatureVersion {
		return newVerificationError(
			"sns: unsupported signature version",
			ErrorCodeUnknownSignatureVersion,
			map[string]any{"signature_version": payload.SignatureVersion},
		)
	}

	if err := ValidateCertificateURL(payload.SigningCertURL); err != nil {
		return err
	}
	publicKey, err := v.certificates.PublicKey(ctx, payload.SigningCertURL)
	if err != nil {
		return err
	}

	canonical, err := payload.CanonicalBytes()
	if err != nil {
		return err
	}

	if err := verifySignature(publicKey, canonical, payload.Signature); err != nil {
		return err
	}

	if err := v.checkFreshness(payload.Timestamp); err != nil {
		return err
	}

	if _, ok := v.topics[payload.TopicARN]; !ok {
		return newVerificationError(
			"sns: topic is not in the allow-list",
			ErrorCodeInvalidTopic,
			map[string]any{"topic_arn": payload.TopicARN},
		)
	}
	return nil
}

func verifySignature(publicKey *rsa.PublicKey, canonical []byte, signature string) error {
	decoded, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return newVerificationError(
			"sns: signature is not valid base64",
			ErrorCodeInvalidSignature,
			nil,
		)
	}
	digest := sha256.Sum256(canonical)
	if err := rsa.VerifyPKCS1v15(publicKey, crypto.SHA256, digest[:], decoded); err != nil {
		return newVerificationError(
			"sns: signature does not match canonical payload",
			ErrorCodeInvalidSignature,
			nil,
		)
	}
	return nil
}

func (v *Verifier) checkFreshness(timestamp string) error {
	parsed, err := time.Parse(TimestampLayout, timestamp)
	if err != nil {
		return newVerificationError(
			"sns: timestamp format is not recognized",
			ErrorCodeUnknownTimestampFormat,
			map[string]any{"timestamp": timestamp},
		)
	}
	window := v.FreshnessWindow
	if window <= 0 {
		window = defaultFreshnessWindow
	}
	now := time.Now().UTC()
	if v.Now != nil {
		now = v.Now().UTC()
	}
	if now.Sub(parsed) > window {
		return newVerificationError(
			"sns: payload timestamp is older than the freshness window",
			ErrorCodeMessageExpired,
			map[string]any{"timestamp": timestamp, "window": window.String()},
		)
	}
	return nil
}
