package billing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// DefaultTolerance bounds how stale a signed timestamp may be before the
// delivery is rejected as a possible replay of a captured request.
const DefaultTolerance = 5 * time.Minute

// VerifyProviderSignature checks the payment provider's transport-level
// signature over the raw request body. The header format is
// "t=<unix>,v1=<hex hmac>[,v1=<hex hmac>...]" and the signed payload is
// "<t>.<raw body>" — verification must run against the raw bytes, never a
// re-serialized form.
//
// Returns false for malformed headers, expired timestamps, and signature
// mismatches alike; the caller must not parse the payload in any of those
// cases.
func VerifyProviderSignature(rawBody []byte, header, secret string, tolerance time.Duration) bool {
	if header == "" || secret == "" {
		return false
	}

	var ts int64
	var candidates [][]byte
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			parsed, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return false
			}
			ts = parsed
		case "v1":
			sig, err := hex.DecodeString(v)
			if err != nil {
				continue
			}
			candidates = append(candidates, sig)
		}
	}
	if ts == 0 || len(candidates) == 0 {
		return false
	}

	if tolerance > 0 {
		age := time.Since(time.Unix(ts, 0))
		if age > tolerance || age < -tolerance {
			return false
		}
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte("."))
	mac.Write(rawBody)
	expected := mac.Sum(nil)

	for _, sig := range candidates {
		if hmac.Equal(sig, expected) {
			return true
		}
	}
	return false
}

// SignPayload produces a provider-style signature header for the given body.
// Used by tests and the replay tooling.
func SignPayload(rawBody []byte, secret string, at time.Time) string {
	ts := strconv.FormatInt(at.Unix(), 10)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(rawBody)
	return "t=" + ts + ",v1=" + hex.EncodeToString(mac.Sum(nil))
}
