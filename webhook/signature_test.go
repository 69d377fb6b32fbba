package webhook

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const testSecret = "whsec_test_secret"

var baseTime = time.Unix(1700000000, 0)

func validBody() []byte {
	return []byte(`{"id":"evt_1","type":"payment_intent.succeeded","created":1700000000,"data":{"object":{"id":"pi_1","object":"payment_intent","status":"succeeded"}}}`)
}

func TestVerify_ValidSignature(t *testing.T) {
	body := validBody()
	header := Sign(body, testSecret, baseTime)
	v := NewVerifier(DefaultTolerance, func() time.Time { return baseTime })

	parsed, err := v.Verify(body, header, testSecret)
	require.NoError(t, err)
	require.Equal(t, "evt_1", parsed.ID)
	require.Equal(t, "payment_intent.succeeded", parsed.Type)
	require.Equal(t, int64(1700000000), parsed.CreatedAt)
}

func TestVerify_MultipleV1Entries(t *testing.T) {
	body := validBody()
	good := Sign(body, testSecret, baseTime)
	// Rotated-secret deliveries carry an old v1 alongside the current one.
	header := "t=1700000000,v1=deadbeef," + good[len("t=1700000000,"):]
	v := NewVerifier(DefaultTolerance, func() time.Time { return baseTime })

	_, err := v.Verify(body, header, testSecret)
	require.NoError(t, err)
}

func TestVerify_BodyMutationRejected(t *testing.T) {
	body := validBody()
	header := Sign(body, testSecret, baseTime)
	v := NewVerifier(DefaultTolerance, func() time.Time { return baseTime })

	for i := 0; i < len(body); i += 7 {
		mutated := append([]byte(nil), body...)
		mutated[i] ^= 0x01
		_, err := v.Verify(mutated, header, testSecret)
		require.ErrorIs(t, err, ErrSignatureMismatch, "mutation at byte %d must invalidate the signature", i)
	}
}

func TestVerify_WrongSecretRejected(t *testing.T) {
	body := validBody()
	header := Sign(body, "whsec_other", baseTime)
	v := NewVerifier(DefaultTolerance, func() time.Time { return baseTime })

	_, err := v.Verify(body, header, testSecret)
	require.ErrorIs(t, err, ErrSignatureMismatch)
}

func TestVerify_TimestampOutsideTolerance(t *testing.T) {
	body := validBody()
	header := Sign(body, testSecret, baseTime)
	v := NewVerifier(DefaultTolerance, func() time.Time { return baseTime.Add(6 * time.Minute) })

	_, err := v.Verify(body, header, testSecret)
	require.ErrorIs(t, err, ErrSignatureTimestamp)

	// Future-dated signatures are rejected symmetrically.
	v = NewVerifier(DefaultTolerance, func() time.Time { return baseTime.Add(-6 * time.Minute) })
	_, err = v.Verify(body, header, testSecret)
	require.ErrorIs(t, err, ErrSignatureTimestamp)
}

func TestVerify_MalformedHeaders(t *testing.T) {
	body := validBody()
	v := NewVerifier(DefaultTolerance, func() time.Time { return baseTime })

	for _, header := range []string{
		"",
		"v1=abcdef",
		"t=1700000000",
		"t=notanumber,v1=abcdef",
		"garbage",
	} {
		_, err := v.Verify(body, header, testSecret)
		require.ErrorIs(t, err, ErrSignatureMalformed, "header %q", header)
	}
}

func TestVerify_MissingEnvelopeFields(t *testing.T) {
	v := NewVerifier(DefaultTolerance, func() time.Time { return baseTime })

	for _, body := range [][]byte{
		[]byte(`not json`),
		[]byte(`{"type":"payment_intent.succeeded"}`),
		[]byte(`{"id":"evt_1"}`),
	} {
		header := Sign(body, testSecret, baseTime)
		_, err := v.Verify(body, header, testSecret)
		require.ErrorIs(t, err, ErrMalformedPayload)
	}
}

func TestVerify_CreatedOptional(t *testing.T) {
	body := []byte(`{"id":"evt_2","type":"refund.updated"}`)
	header := Sign(body, testSecret, baseTime)
	v := NewVerifier(DefaultTolerance, func() time.Time { return baseTime })

	parsed, err := v.Verify(body, header, testSecret)
	require.NoError(t, err)
	require.Zero(t, parsed.CreatedAt)
}
