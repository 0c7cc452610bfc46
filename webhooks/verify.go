package webhooks

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/trianglegrrl/dhyana/core"
)

type VerificationResult string

const (
	VerificationValid            VerificationResult = "valid"
	VerificationInvalidSignature VerificationResult = "invalid_signature"
	VerificationMissingSignature VerificationResult = "missing_signature"
	VerificationStaleTimestamp   VerificationResult = "stale_timestamp"
)

// ResultFromError collapses a verifier error into the result enum the
// boundary reports. nil maps to VerificationValid.
func ResultFromError(err error) VerificationResult {
	if err == nil {
		return VerificationValid
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		switch richErr.TextCode {
		case core.PipelineErrorSignatureMissing:
			return VerificationMissingSignature
		case core.PipelineErrorTimestampStale:
			return VerificationStaleTimestamp
		}
	}
	return VerificationInvalidSignature
}

type Verifier interface {
	Verify(ctx context.Context, req core.InboundRequest) error
}

// HeaderHMACVerifier checks an HMAC-SHA256 digest of the raw body
// carried in a single header, hex or base64 encoded.
type HeaderHMACVerifier struct {
	Header   string
	Prefix   string
	Secret   string
	Encoding string // hex | base64
}

func (v HeaderHMACVerifier) Verify(_ context.Context, req core.InboundRequest) error {
	header := strings.TrimSpace(headerValue(req.Headers, v.Header))
	if header == "" {
		return signatureMissing(
			fmt.Sprintf("webhooks: %s signature header is required", strings.TrimSpace(v.Header)),
			map[string]any{"header": strings.TrimSpace(v.Header)},
		)
	}
	secret := strings.TrimSpace(v.Secret)
	if secret == "" {
		return webhookInternal("webhooks: signature secret is required", nil)
	}
	signature := strings.TrimPrefix(header, strings.TrimSpace(v.Prefix))
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return signatureMissing("webhooks: signature value is required", nil)
	}

	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(req.Body)
	expected := mac.Sum(nil)

	switch strings.ToLower(strings.TrimSpace(v.Encoding)) {
	case "base64":
		decoded, err := base64.StdEncoding.DecodeString(signature)
		if err != nil {
			return signatureInvalid("webhooks: decode base64 signature failed", nil)
		}
		if subtle.ConstantTimeCompare(decoded, expected) != 1 {
			return signatureInvalid("webhooks: signature verification failed", nil)
		}
	default:
		decoded, err := hex.DecodeString(signature)
		if err != nil {
			return signatureInvalid("webhooks: decode hex signature failed", nil)
		}
		if subtle.ConstantTimeCompare(decoded, expected) != 1 {
			return signatureInvalid("webhooks: signature verification failed", nil)
		}
	}
	return nil
}

// TimestampedHMACVerifier implements the v0 signing scheme: the digest
// covers "{version}:{timestamp}:{raw body}" and the timestamp header
// must be within MaxSkew of now in either direction.
type TimestampedHMACVerifier struct {
	SignatureHeader string
	TimestampHeader string
	Version         string
	Secret          string
	MaxSkew         time.Duration
	Now             func() time.Time
}

func (v TimestampedHMACVerifier) Verify(_ context.Context, req core.InboundRequest) error {
	signature := strings.TrimSpace(headerValue(req.Headers, v.SignatureHeader))
	if signature == "" {
		return signatureMissing(
			fmt.Sprintf("webhooks: %s signature header is required", strings.TrimSpace(v.SignatureHeader)),
			map[string]any{"header": strings.TrimSpace(v.SignatureHeader)},
		)
	}
	rawTimestamp := strings.TrimSpace(headerValue(req.Headers, v.TimestampHeader))
	if rawTimestamp == "" {
		return signatureMissing(
			fmt.Sprintf("webhooks: %s timestamp header is required", strings.TrimSpace(v.TimestampHeader)),
			map[string]any{"header": strings.TrimSpace(v.TimestampHeader)},
		)
	}
	secret := strings.TrimSpace(v.Secret)
	if secret == "" {
		return webhookInternal("webhooks: signature secret is required", nil)
	}

	unix, err := strconv.ParseInt(rawTimestamp, 10, 64)
	if err != nil {
		return signatureInvalid("webhooks: timestamp header is not a unix time", nil)
	}
	now := v.now()
	skew := now.Sub(time.Unix(unix, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > v.maxSkew() {
		return timestampStale(
			"webhooks: timestamp stale, delivery outside the replay window",
			map[string]any{"skew_ms": skew.Milliseconds()},
		)
	}

	version := strings.TrimSpace(v.Version)
	if version == "" {
		version = "v0"
	}
	base := version + ":" + rawTimestamp + ":" + string(req.Body)
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(base))
	expected := version + "=" + hex.EncodeToString(mac.Sum(nil))

	if subtle.ConstantTimeCompare([]byte(signature), []byte(expected)) != 1 {
		return signatureInvalid("webhooks: signature verification failed", nil)
	}
	return nil
}

func (v TimestampedHMACVerifier) now() time.Time {
	if v.Now != nil {
		return v.Now().UTC()
	}
	return time.Now().UTC()
}

func (v TimestampedHMACVerifier) maxSkew() time.Duration {
	if v.MaxSkew > 0 {
		return v.MaxSkew
	}
	return 5 * time.Minute
}

// BodyDigest returns a short sha256 prefix of the raw body, safe to log
// in place of payload contents.
func BodyDigest(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])[:12]
}

func headerValue(headers map[string]string, key string) string {
	if len(headers) == 0 {
		return ""
	}
	for existing, value := range headers {
		if strings.EqualFold(strings.TrimSpace(existing), strings.TrimSpace(key)) {
			return strings.TrimSpace(value)
		}
	}
	return ""
}
