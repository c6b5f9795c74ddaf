// Package signature authenticates inbound webhooks: the shared-secret header
// sent by the CRM, and HMAC-SHA256 signed requests from internal callers such
// as the cron that triggers retry sweeps.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Sign generates the HMAC-SHA256 signature for the given payload.
// The content to sign is "{timestamp}.{payload}".
// Returns a versioned signature in the format "v1=<hex>".
func Sign(payload []byte, secret string, timestamp int64) string {
	content := fmt.Sprintf("%d.%s", timestamp, payload)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(content))
	return "v1=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks whether sig matches the signature for payload, secret and
// timestamp, and that the timestamp is within tolerance of now. A zero
// tolerance skips the freshness check.
func Verify(payload []byte, secret string, timestamp int64, sig string, now time.Time, tolerance time.Duration) bool {
	if secret == "" {
		return false
	}
	if tolerance > 0 {
		skew := now.Sub(time.Unix(timestamp, 0))
		if skew < 0 {
			skew = -skew
		}
		if skew > tolerance {
			return false
		}
	}
	expected := Sign(payload, secret, timestamp)
	return hmac.Equal([]byte(expected), []byte(sig))
}
