// Package signature authenticates payment-processor webhook payloads.
//
// The processor signs each delivery with HMAC-SHA256 over
// "<timestamp>.<raw body>" and sends the result in a header of
// comma-separated key=value pairs containing at least t=<unix seconds>
// and v1=<lowercase hex signature>.
package signature

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

var (
	ErrNoSignature      = errors.New("signature: missing t or v1 field")
	ErrSignatureInvalid = errors.New("signature: mismatch")
	ErrTimestampExpired = errors.New("signature: timestamp outside tolerance")
)

// DefaultTolerance bounds how old a signed timestamp may be before the
// payload is treated as a replay. Rejecting stale timestamps is a policy
// choice layered on top of the signature scheme itself; a Verifier with
// Tolerance == 0 skips the check entirely.
const DefaultTolerance = 5 * time.Minute

// Verifier checks webhook signatures against a shared secret.
type Verifier struct {
	Secret    string
	Tolerance time.Duration

	// Now is overridable for tests. Nil means time.Now.
	Now func() time.Time
}

// ParseHeader extracts the timestamp and v1 signature from a signature
// header. Unknown pairs are ignored; a repeated key keeps the first value.
func ParseHeader(header string) (timestamp int64, sig []byte, err error) {
	var haveT, haveV1 bool
	for _, pair := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			if haveT {
				continue
			}
			ts, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return 0, nil, ErrNoSignature
			}
			timestamp = ts
			haveT = true
		case "v1":
			if haveV1 {
				continue
			}
			raw, err := hex.DecodeString(v)
			if err != nil {
				return 0, nil, ErrNoSignature
			}
			sig = raw
			haveV1 = true
		}
	}
	if !haveT || !haveV1 {
		return 0, nil, ErrNoSignature
	}
	return timestamp, sig, nil
}

// Verify authenticates payload against the signature header. It returns nil
// only when the v1 signature matches the HMAC computed with the shared
// secret and, when a tolerance is configured, the timestamp is fresh.
func (v *Verifier) Verify(payload []byte, header string) error {
	ts, got, err := ParseHeader(header)
	if err != nil {
		return err
	}

	if v.Tolerance > 0 {
		now := time.Now
		if v.Now != nil {
			now = v.Now
		}
		age := now().Sub(time.Unix(ts, 0))
		if age < 0 {
			age = -age
		}
		if age > v.Tolerance {
			return ErrTimestampExpired
		}
	}

	want := ComputeSignature(payload, ts, v.Secret)
	// Length check first; ConstantTimeCompare XOR-accumulates over every
	// byte so a mismatch position never changes timing.
	if len(got) != len(want) || subtle.ConstantTimeCompare(got, want) != 1 {
		return ErrSignatureInvalid
	}
	return nil
}

// ComputeSignature returns the HMAC-SHA256 of "<timestamp>.<payload>"
// keyed by secret. Exposed so tests and local tooling can build valid
// headers.
func ComputeSignature(payload []byte, timestamp int64, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	return mac.Sum(nil)
}

// Header builds a signature header for payload at the given timestamp.
// Used by tests and the local webhook replay tool.
func Header(payload []byte, timestamp int64, secret string) string {
	sig := ComputeSignature(payload, timestamp, secret)
	return "t=" + strconv.FormatInt(timestamp, 10) + ",v1=" + hex.EncodeToString(sig)
}
