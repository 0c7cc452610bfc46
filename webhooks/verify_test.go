package webhooks

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strconv"
	"testing"
	"time"

	"github.com/trianglegrrl/dhyana/core"
)

func slackSigned(secret string, ts time.Time, body []byte) map[string]string {
	stamp := strconv.FormatInt(ts.Unix(), 10)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte("v0:" + stamp + ":" + string(body)))
	return map[string]string{
		"X-Slack-Request-Timestamp": stamp,
		"X-Slack-Signature":         "v0=" + hex.EncodeToString(mac.Sum(nil)),
	}
}

func TestTimestampedHMACVerifier_Valid(t *testing.T) {
	now := time.Date(2026, 2, 13, 12, 0, 0, 0, time.UTC)
	body := []byte(`{"type":"event_callback"}`)
	verifier := TimestampedHMACVerifier{
		SignatureHeader: "X-Slack-Signature",
		TimestampHeader: "X-Slack-Request-Timestamp",
		Secret:          "signing-secret",
		Now:             func() time.Time { return now },
	}

	req := core.InboundRequest{
		Platform: core.PlatformSlack,
		Headers:  slackSigned("signing-secret", now.Add(-30*time.Second), body),
		Body:     body,
	}
	if err := verifier.Verify(context.Background(), req); err != nil {
		t.Fatalf("expected valid signature, got: %v", err)
	}
}

func TestTimestampedHMACVerifier_FlippedBodyByte(t *testing.T) {
	now := time.Date(2026, 2, 13, 12, 0, 0, 0, time.UTC)
	body := []byte(`{"type":"event_callback"}`)
	verifier := TimestampedHMACVerifier{
		SignatureHeader: "X-Slack-Signature",
		TimestampHeader: "X-Slack-Request-Timestamp",
		Secret:          "signing-secret",
		Now:             func() time.Time { return now },
	}

	headers := slackSigned("signing-secret", now, body)
	tampered := append([]byte(nil), body...)
	tampered[0] ^= 0x01

	err := verifier.Verify(context.Background(), core.InboundRequest{
		Platform: core.PlatformSlack,
		Headers:  headers,
		Body:     tampered,
	})
	if ResultFromError(err) != VerificationInvalidSignature {
		t.Fatalf("expected invalid signature, got %q (err=%v)", ResultFromError(err), err)
	}
}

func TestTimestampedHMACVerifier_StaleTimestamp(t *testing.T) {
	now := time.Date(2026, 2, 13, 12, 0, 0, 0, time.UTC)
	body := []byte(`{"type":"event_callback"}`)
	verifier := TimestampedHMACVerifier{
		SignatureHeader: "X-Slack-Signature",
		TimestampHeader: "X-Slack-Request-Timestamp",
		Secret:          "signing-secret",
		MaxSkew:         5 * time.Minute,
		Now:             func() time.Time { return now },
	}

	// A correctly signed request replayed ten minutes later.
	err := verifier.Verify(context.Background(), core.InboundRequest{
		Platform: core.PlatformSlack,
		Headers:  slackSigned("signing-secret", now.Add(-10*time.Minute), body),
		Body:     body,
	})
	if ResultFromError(err) != VerificationStaleTimestamp {
		t.Fatalf("expected stale timestamp, got %q (err=%v)", ResultFromError(err), err)
	}

	// Future skew is rejected symmetrically.
	err = verifier.Verify(context.Background(), core.InboundRequest{
		Platform: core.PlatformSlack,
		Headers:  slackSigned("signing-secret", now.Add(10*time.Minute), body),
		Body:     body,
	})
	if ResultFromError(err) != VerificationStaleTimestamp {
		t.Fatalf("expected stale timestamp for future skew, got %q", ResultFromError(err))
	}
}

func TestTimestampedHMACVerifier_MissingHeaders(t *testing.T) {
	verifier := TimestampedHMACVerifier{
		SignatureHeader: "X-Slack-Signature",
		TimestampHeader: "X-Slack-Request-Timestamp",
		Secret:          "signing-secret",
	}
	err := verifier.Verify(context.Background(), core.InboundRequest{Platform: core.PlatformSlack})
	if ResultFromError(err) != VerificationMissingSignature {
		t.Fatalf("expected missing signature, got %q", ResultFromError(err))
	}
}

func TestHeaderHMACVerifier_Base64Body(t *testing.T) {
	body := []byte(`{"data":{"webHookEvent":{"topic":"CLIENT_CREATE"}}}`)
	mac := hmac.New(sha256.New, []byte("hook-secret"))
	mac.Write(body)
	signature := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	verifier := HeaderHMACVerifier{
		Header:   "X-Jobber-Hmac-SHA256",
		Secret:   "hook-secret",
		Encoding: "base64",
	}

	req := core.InboundRequest{
		Platform: core.PlatformJobber,
		Headers:  map[string]string{"X-Jobber-Hmac-SHA256": signature},
		Body:     body,
	}
	if err := verifier.Verify(context.Background(), req); err != nil {
		t.Fatalf("expected valid signature, got: %v", err)
	}

	req.Body = append([]byte(nil), body...)
	req.Body[3] ^= 0x01
	err := verifier.Verify(context.Background(), req)
	if ResultFromError(err) != VerificationInvalidSignature {
		t.Fatalf("expected invalid signature, got %q", ResultFromError(err))
	}
}

func TestHeaderHMACVerifier_MissingHeader(t *testing.T) {
	verifier := HeaderHMACVerifier{
		Header:   "X-Jobber-Hmac-SHA256",
		Secret:   "hook-secret",
		Encoding: "base64",
	}
	err := verifier.Verify(context.Background(), core.InboundRequest{Platform: core.PlatformJobber})
	if ResultFromError(err) != VerificationMissingSignature {
		t.Fatalf("expected missing signature, got %q", ResultFromError(err))
	}
}

func TestBodyDigest_StableAndShort(t *testing.T) {
	a := BodyDigest([]byte("payload"))
	b := BodyDigest([]byte("payload"))
	if a != b {
		t.Fatalf("expected stable digest")
	}
	if len(a) != 12 {
		t.Fatalf("expected 12 hex chars, got %d", len(a))
	}
	if a == BodyDigest([]byte("other")) {
		t.Fatalf("expected distinct digests for distinct bodies")
	}
}
