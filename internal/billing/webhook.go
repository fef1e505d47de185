package billing

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

// ToleranceSeconds bounds the accepted clock skew between the signature
// timestamp and local time; older payloads are treated as replays.
const ToleranceSeconds = 300

// ErrInvalidSignature covers every verification failure: missing timestamp,
// missing digests, stale timestamp, or digest mismatch. Callers must reject
// the payload before parsing any event semantics.
var ErrInvalidSignature = errors.New("billing: invalid webhook signature")

// VerifySignature checks a Stripe-Signature header against the raw body.
//
// The header carries `t=<unix>` and one or more `v1=<hex>` HMAC-SHA256
// digests computed over "{t}.{body}" with the shared webhook secret. Any
// matching digest under constant-time comparison accepts the payload.
func VerifySignature(secret, header string, body []byte, now time.Time) error {
	timestamp, digests := parseSignatureHeader(header)
	if timestamp == 0 || len(digests) == 0 {
		return ErrInvalidSignature
	}

	skew := now.Unix() - timestamp
	if skew < 0 {
		skew = -skew
	}
	if skew > ToleranceSeconds {
		return ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte("."))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, digest := range digests {
		if len(digest) == len(expected) && subtle.ConstantTimeCompare([]byte(digest), []byte(expected)) == 1 {
			return nil
		}
	}
	return ErrInvalidSignature
}

func parseSignatureHeader(header string) (int64, []string) {
	var timestamp int64
	var digests []string

	for _, part := range strings.Split(header, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch key {
		case "t":
			ts, err := strconv.ParseInt(value, 10, 64)
			if err == nil {
				timestamp = ts
			}
		case "v1":
			digests = append(digests, value)
		}
	}
	return timestamp, digests
}
