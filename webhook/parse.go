package webhook

import (
	"encoding/json"
	"fmt"
	"strings"

	stripe "github.com/stripe/stripe-go/v81"
)

// ObjectKind classifies the payload object carried by an event.
type ObjectKind string

const (
	KindPaymentIntent   ObjectKind = "payment_intent"
	KindInvoice         ObjectKind = "invoice"
	KindSubscription    ObjectKind = "subscription"
	KindRefund          ObjectKind = "refund"
	KindCheckoutSession ObjectKind = "checkout_session"
	KindUnknown         ObjectKind = "unknown"
)

// Metadata keys carrying merchant business ids on provider objects.
const (
	MetadataBusinessPaymentID      = "business_payment_id"
	MetadataBusinessSubscriptionID = "business_subscription_id"
)

// ParsedEvent is the normalized event view consumed by the convergence
// engine. Both intake paths (raw body and SDK-typed event) produce the same
// shape. CreatedAt is unix seconds, zero when the event carried no timestamp.
type ParsedEvent struct {
	ID           string
	Type         string
	CreatedAt    int64
	ObjectID     string
	ObjectKind   ObjectKind
	ObjectStatus string

	PaymentIntentID   string
	SubscriptionID    string
	RefundID          string
	CustomerID        string
	InvoiceID         string
	CheckoutSessionID string

	BusinessPaymentID      string
	BusinessSubscriptionID string
}

// flexibleID decodes provider references that arrive either as a bare id
// string or as an expanded object with an "id" field.
type flexibleID string

func (f *flexibleID) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" || trimmed == "" {
		*f = ""
		return nil
	}
	if strings.HasPrefix(trimmed, "\"") {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexibleID(s)
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*f = flexibleID(obj.ID)
	return nil
}

// rawObject is the subset of data.object fields the parser walks. The same
// decode covers payment intents, invoices, subscriptions, refunds, and
// checkout sessions; irrelevant fields simply stay empty.
type rawObject struct {
	ID                string            `json:"id"`
	Object            string            `json:"object"`
	Status            string            `json:"status"`
	Mode              string            `json:"mode"`
	ClientReferenceID string            `json:"client_reference_id"`
	Metadata          map[string]string `json:"metadata"`
	PaymentIntent     flexibleID        `json:"payment_intent"`
	Subscription      flexibleID        `json:"subscription"`
	Customer          flexibleID        `json:"customer"`
	Invoice           flexibleID        `json:"invoice"`
	LatestCharge      flexibleID        `json:"latest_charge"`
}

// ParseRaw normalizes a verified raw webhook body into a ParsedEvent.
func ParseRaw(rawBody []byte) (*ParsedEvent, error) {
	var envelope struct {
		ID      string `json:"id"`
		Type    string `json:"type"`
		Created int64  `json:"created"`
		Data    struct {
			Object json.RawMessage `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rawBody, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if strings.TrimSpace(envelope.ID) == "" || strings.TrimSpace(envelope.Type) == "" {
		return nil, fmt.Errorf("%w: missing id or type", ErrMalformedPayload)
	}
	return normalize(envelope.ID, envelope.Type, envelope.Created, envelope.Data.Object)
}

// FromStripeEvent normalizes an SDK-typed event fetched from the provider's
// API. The reconciler feeds this variant; the field mapping is identical to
// ParseRaw because the SDK retains the raw object payload.
func FromStripeEvent(ev *stripe.Event) (*ParsedEvent, error) {
	if ev == nil {
		return nil, fmt.Errorf("%w: nil event", ErrMalformedPayload)
	}
	if strings.TrimSpace(ev.ID) == "" || strings.TrimSpace(string(ev.Type)) == "" {
		return nil, fmt.Errorf("%w: missing id or type", ErrMalformedPayload)
	}
	var objectRaw json.RawMessage
	if ev.Data != nil {
		objectRaw = ev.Data.Raw
	}
	return normalize(ev.ID, string(ev.Type), ev.Created, objectRaw)
}

func normalize(id, eventType string, created int64, objectRaw json.RawMessage) (*ParsedEvent, error) {
	parsed := &ParsedEvent{
		ID:         id,
		Type:       eventType,
		CreatedAt:  created,
		ObjectKind: KindUnknown,
	}
	if len(objectRaw) == 0 {
		return parsed, nil
	}
	var obj rawObject
	if err := json.Unmarshal(objectRaw, &obj); err != nil {
		return nil, fmt.Errorf("%w: data.object: %v", ErrMalformedPayload, err)
	}

	parsed.ObjectID = obj.ID
	parsed.ObjectStatus = obj.Status
	parsed.PaymentIntentID = string(obj.PaymentIntent)
	parsed.SubscriptionID = string(obj.Subscription)
	parsed.CustomerID = string(obj.Customer)
	parsed.InvoiceID = string(obj.Invoice)
	parsed.BusinessPaymentID = obj.Metadata[MetadataBusinessPaymentID]
	parsed.BusinessSubscriptionID = obj.Metadata[MetadataBusinessSubscriptionID]

	switch obj.Object {
	case "payment_intent":
		parsed.ObjectKind = KindPaymentIntent
		parsed.PaymentIntentID = obj.ID
	case "invoice":
		parsed.ObjectKind = KindInvoice
		parsed.InvoiceID = obj.ID
	case "subscription":
		parsed.ObjectKind = KindSubscription
		parsed.SubscriptionID = obj.ID
	case "refund":
		parsed.ObjectKind = KindRefund
		parsed.RefundID = obj.ID
	case "checkout.session":
		parsed.ObjectKind = KindCheckoutSession
		parsed.CheckoutSessionID = obj.ID
		switch obj.Mode {
		case "payment":
			if ref := strings.TrimSpace(obj.ClientReferenceID); ref != "" {
				parsed.BusinessPaymentID = ref
			}
		case "subscription":
			if ref := strings.TrimSpace(obj.ClientReferenceID); ref != "" {
				parsed.BusinessSubscriptionID = ref
			}
		}
	}
	return parsed, nil
}
