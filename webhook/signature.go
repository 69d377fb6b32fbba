// Package webhook implements the authenticated intake side of the payment
// provider's event deliveries: raw-body signature verification, event
// normalization, and the per-event-id dedupe state machine.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Verification failures, ordered by pipeline stage. All of them terminate
// the request before the dedupe store is touched.
var (
	ErrSignatureMalformed = errors.New("webhook: malformed signature header")
	ErrSignatureTimestamp = errors.New("webhook: signature timestamp outside tolerance")
	ErrSignatureMismatch  = errors.New("webhook: signature mismatch")
	ErrMalformedPayload   = errors.New("webhook: malformed event payload")
)

// DefaultTolerance is the maximum accepted skew between the signature
// timestamp and the local clock.
const DefaultTolerance = 5 * time.Minute

// EventHeader is the minimal verified view of an event envelope: enough to
// claim the event id in the dedupe store before full parsing.
type EventHeader struct {
	ID        string
	Type      string
	CreatedAt int64
}

// Verifier checks provider signatures over raw webhook bodies. The signature
// scheme is the provider's "t=<unix>,v1=<hex>" header: an HMAC-SHA256 of
// "<t>.<raw body>" keyed with the endpoint signing secret. Any byte mutation
// of the body between receipt and verification invalidates the signature.
type Verifier struct {
	tolerance time.Duration
	now       func() time.Time
}

// NewVerifier builds a Verifier. A non-positive tolerance falls back to
// DefaultTolerance; a nil clock falls back to time.Now.
func NewVerifier(tolerance time.Duration, now func() time.Time) *Verifier {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	if now == nil {
		now = time.Now
	}
	return &Verifier{tolerance: tolerance, now: now}
}

// Verify authenticates rawBody against sigHeader using secret and, on
// success, decodes the envelope header fields. rawBody must be the
// byte-exact POST body as received.
func (v *Verifier) Verify(rawBody []byte, sigHeader, secret string) (*EventHeader, error) {
	ts, candidates, err := parseSignatureHeader(sigHeader)
	if err != nil {
		return nil, err
	}
	skew := v.now().Unix() - ts
	if skew < 0 {
		skew = -skew
	}
	if skew > int64(v.tolerance/time.Second) {
		return nil, fmt.Errorf("%w: t=%d", ErrSignatureTimestamp, ts)
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte("."))
	mac.Write(rawBody)
	expected := mac.Sum(nil)

	matched := false
	for _, candidate := range candidates {
		decoded, err := hex.DecodeString(strings.ToLower(candidate))
		if err != nil {
			continue
		}
		if hmac.Equal(expected, decoded) {
			matched = true
		}
	}
	if !matched {
		return nil, ErrSignatureMismatch
	}

	var envelope struct {
		ID      string `json:"id"`
		Type    string `json:"type"`
		Created int64  `json:"created"`
	}
	if err := json.Unmarshal(rawBody, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if strings.TrimSpace(envelope.ID) == "" || strings.TrimSpace(envelope.Type) == "" {
		return nil, fmt.Errorf("%w: missing id or type", ErrMalformedPayload)
	}
	return &EventHeader{ID: envelope.ID, Type: envelope.Type, CreatedAt: envelope.Created}, nil
}

// parseSignatureHeader splits "t=<unix>,v1=<hex>(,v1=<hex>)*" into its
// timestamp and candidate signatures. Unknown schemes are ignored so the
// provider can rotate schemes without breaking older endpoints.
func parseSignatureHeader(header string) (int64, []string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0, nil, fmt.Errorf("%w: empty header", ErrSignatureMalformed)
	}
	var (
		ts         int64
		tsSeen     bool
		candidates []string
	)
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			return 0, nil, fmt.Errorf("%w: %q", ErrSignatureMalformed, part)
		}
		switch key {
		case "t":
			parsed, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return 0, nil, fmt.Errorf("%w: invalid timestamp %q", ErrSignatureMalformed, value)
			}
			ts = parsed
			tsSeen = true
		case "v1":
			if value != "" {
				candidates = append(candidates, value)
			}
		}
	}
	if !tsSeen {
		return 0, nil, fmt.Errorf("%w: missing timestamp", ErrSignatureMalformed)
	}
	if len(candidates) == 0 {
		return 0, nil, fmt.Errorf("%w: missing v1 signature", ErrSignatureMalformed)
	}
	return ts, candidates, nil
}

// Sign renders a valid signature header for rawBody at ts. Tests and local
// tooling use it to produce deliveries the Verifier accepts.
func Sign(rawBody []byte, secret string, ts time.Time) string {
	unix := strconv.FormatInt(ts.Unix(), 10)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(unix))
	mac.Write([]byte("."))
	mac.Write(rawBody)
	return "t=" + unix + ",v1=" + hex.EncodeToString(mac.Sum(nil))
}
