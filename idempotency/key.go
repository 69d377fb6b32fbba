// Package idempotency derives deterministic idempotency keys for outbound
// provider calls from a scope label and a merchant-controlled business id.
package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// MaxKeyLength is the longest key accepted by the payment provider.
const MaxKeyLength = 255

// Well-known scopes used across the toolkit.
const (
	ScopeCheckoutPayment      = "checkout_payment"
	ScopeCheckoutSubscription = "checkout_subscription"
	ScopeRefund               = "refund"
	ScopeCustomer             = "customer"
)

// Key returns the idempotency key for (scope, businessID). Identical inputs
// always yield identical keys and distinct business ids yield distinct keys.
// When the literal "scope:businessID" form fits within MaxKeyLength it is
// returned verbatim; otherwise the business id is replaced with its SHA-256
// hex digest and the scope is truncated to keep the key within bounds.
func Key(scope, businessID string) (string, error) {
	scope = strings.TrimSpace(scope)
	businessID = strings.TrimSpace(businessID)
	if scope == "" {
		return "", fmt.Errorf("idempotency scope required")
	}
	if businessID == "" {
		return "", fmt.Errorf("business id required")
	}
	if len(scope)+1+len(businessID) <= MaxKeyLength {
		return scope + ":" + businessID, nil
	}
	sum := sha256.Sum256([]byte(businessID))
	digest := hex.EncodeToString(sum[:])
	maxScope := MaxKeyLength - 1 - len(digest)
	if len(scope) > maxScope {
		scope = scope[:maxScope]
	}
	return scope + ":" + digest, nil
}
