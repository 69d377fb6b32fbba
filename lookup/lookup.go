// Package lookup resolves provider object ids to their linked payment
// intent or subscription ids. It is the fallback path for thin events whose
// data.object omits linkage fields, and the only place the convergence
// engine performs outbound provider reads.
package lookup

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	stripe "github.com/stripe/stripe-go/v81"
)

// ProviderAPI is the narrow read-only slice of the provider client the
// resolver needs.
type ProviderAPI interface {
	Invoice(ctx context.Context, id string) (*stripe.Invoice, error)
	Event(ctx context.Context, id string) (*stripe.Event, error)
}

// Resolver dispatches on the object-id prefix: pi_ and sub_ ids pass
// through, in_ ids load the invoice, evt_ ids load the event and inspect
// its embedded object. An empty result means the linkage is absent at the
// provider, which is not an error.
type Resolver struct {
	api ProviderAPI
}

// NewResolver wires a Resolver over the given provider API.
func NewResolver(api ProviderAPI) *Resolver {
	return &Resolver{api: api}
}

// PaymentIntentID resolves objectID to a payment intent id, or "" when the
// object carries no payment-intent linkage.
func (r *Resolver) PaymentIntentID(ctx context.Context, objectID string) (string, error) {
	objectID = strings.TrimSpace(objectID)
	switch {
	case objectID == "":
		return "", nil
	case strings.HasPrefix(objectID, "pi_"):
		return objectID, nil
	case strings.HasPrefix(objectID, "in_"):
		inv, err := r.api.Invoice(ctx, objectID)
		if err != nil {
			return "", fmt.Errorf("lookup: invoice %s: %w", objectID, err)
		}
		if inv == nil || inv.PaymentIntent == nil {
			return "", nil
		}
		return inv.PaymentIntent.ID, nil
	case strings.HasPrefix(objectID, "evt_"):
		return r.fromEvent(ctx, objectID, "payment_intent", "pi_")
	default:
		return "", nil
	}
}

// SubscriptionID resolves objectID to a subscription id, or "" when the
// object carries no subscription linkage.
func (r *Resolver) SubscriptionID(ctx context.Context, objectID string) (string, error) {
	objectID = strings.TrimSpace(objectID)
	switch {
	case objectID == "":
		return "", nil
	case strings.HasPrefix(objectID, "sub_"):
		return objectID, nil
	case strings.HasPrefix(objectID, "in_"):
		inv, err := r.api.Invoice(ctx, objectID)
		if err != nil {
			return "", fmt.Errorf("lookup: invoice %s: %w", objectID, err)
		}
		if inv == nil || inv.Subscription == nil {
			return "", nil
		}
		return inv.Subscription.ID, nil
	case strings.HasPrefix(objectID, "evt_"):
		return r.fromEvent(ctx, objectID, "subscription", "sub_")
	default:
		return "", nil
	}
}

// fromEvent loads an event and pulls the named linkage field from its
// embedded object. The embedded object's own id is used when it already is
// the target kind.
func (r *Resolver) fromEvent(ctx context.Context, eventID, field, wantPrefix string) (string, error) {
	ev, err := r.api.Event(ctx, eventID)
	if err != nil {
		return "", fmt.Errorf("lookup: event %s: %w", eventID, err)
	}
	if ev == nil || ev.Data == nil || len(ev.Data.Raw) == 0 {
		return "", nil
	}
	var generic map[string]json.RawMessage
	if err := json.Unmarshal(ev.Data.Raw, &generic); err != nil {
		return "", fmt.Errorf("lookup: event %s object: %w", eventID, err)
	}
	var objectID string
	if raw, ok := generic["id"]; ok {
		_ = json.Unmarshal(raw, &objectID)
	}
	if strings.HasPrefix(objectID, wantPrefix) {
		return objectID, nil
	}
	raw, ok := generic[field]
	if !ok {
		return "", nil
	}
	if id := decodeReference(raw); id != "" {
		return id, nil
	}
	return "", nil
}

// decodeReference accepts both "pi_x" and {"id":"pi_x"} forms.
func decodeReference(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.ID
	}
	return ""
}
