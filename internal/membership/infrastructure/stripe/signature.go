package stripe

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultTolerance is how far a signed timestamp may drift from now before
// the event is rejected as a possible replay.
const DefaultTolerance = 5 * time.Minute

var (
	errNoSignature      = errors.New("no v1 signature in header")
	errNoTimestamp      = errors.New("no timestamp in header")
	errTimestampOutside = errors.New("timestamp outside tolerance")
	errMismatch         = errors.New("signature mismatch")
)

// SignatureVerifier checks webhook signatures in the provider's
// "t=<unix>,v1=<hex hmac>" header scheme. The signed payload is the
// timestamp and the raw body joined with a dot, keyed with the endpoint
// secret over HMAC-SHA256.
type SignatureVerifier struct {
	secret    []byte
	tolerance time.Duration
	now       func() time.Time
}

// NewSignatureVerifier creates a verifier for the given endpoint secret.
func NewSignatureVerifier(secret string) *SignatureVerifier {
	return &SignatureVerifier{
		secret:    []byte(secret),
		tolerance: DefaultTolerance,
		now:       time.Now,
	}
}

// Verify checks the signature header against the payload.
func (v *SignatureVerifier) Verify(payload []byte, sigHeader string) error {
	timestamp, signatures, err := parseHeader(sigHeader)
	if err != nil {
		return err
	}

	age := v.now().Sub(time.Unix(timestamp, 0))
	if age > v.tolerance || age < -v.tolerance {
		return errTimestampOutside
	}

	expected := computeSignature(v.secret, timestamp, payload)
	for _, sig := range signatures {
		if hmac.Equal(sig, expected) {
			return nil
		}
	}
	return errMismatch
}

// parseHeader extracts the timestamp and all v1 signatures from the header.
// Multiple v1 entries are legal during secret rotation.
func parseHeader(header string) (int64, [][]byte, error) {
	var (
		timestamp  int64
		gotTime    bool
		signatures [][]byte
	)

	for _, part := range strings.Split(header, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch key {
		case "t":
			ts, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return 0, nil, fmt.Errorf("malformed timestamp: %w", err)
			}
			timestamp = ts
			gotTime = true
		case "v1":
			sig, err := hex.DecodeString(value)
			if err != nil {
				continue
			}
			signatures = append(signatures, sig)
		}
	}

	if !gotTime {
		return 0, nil, errNoTimestamp
	}
	if len(signatures) == 0 {
		return 0, nil, errNoSignature
	}
	return timestamp, signatures, nil
}

func computeSignature(secret []byte, timestamp int64, payload []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	return mac.Sum(nil)
}
