// Package signature implements the signed message contract shared by the job
// producer and the worker. Any two parties that agree on the secret can
// independently produce and verify the same signature; there is no session
// state.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// canonicalTimeLayout pins scheduled_for to millisecond-precision UTC so both
// sides of the contract serialize the timestamp identically.
const canonicalTimeLayout = "2006-01-02T15:04:05.000Z"

// CanonicalTime formats t the way the signed canonical string expects it.
func CanonicalTime(t time.Time) string {
	return t.UTC().Format(canonicalTimeLayout)
}

// CanonicalString joins the routing/identity fields of a queue message.
// The payload is deliberately excluded: only routing fields are authenticated,
// payload integrity is the transport's concern.
func CanonicalString(jobID, tenantID, jobType string, scheduledFor time.Time) string {
	return strings.Join([]string{jobID, tenantID, jobType, CanonicalTime(scheduledFor)}, "|")
}

// Sign computes the hex HMAC-SHA256 of the canonical string under secret.
func Sign(jobID, tenantID, jobType string, scheduledFor time.Time, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(CanonicalString(jobID, tenantID, jobType, scheduledFor)))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify recomputes the expected signature and compares in constant time.
// Malformed hex input yields false, never an error.
func Verify(jobID, tenantID, jobType string, scheduledFor time.Time, sig, secret string) bool {
	got, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(CanonicalString(jobID, tenantID, jobType, scheduledFor)))
	return hmac.Equal(got, mac.Sum(nil))
}
