// Package provider adapts the Stripe SDK client to the narrow read and
// write surfaces the rest of the toolkit depends on.
package provider

import (
	"context"
	"fmt"
	"strings"
	"time"

	stripe "github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"
)

// Client wraps one authenticated SDK client. It satisfies the object-lookup
// and event-listing seams and issues refunds with caller-supplied
// idempotency keys.
type Client struct {
	api *client.API
}

// New builds a Client from the account's secret API key.
func New(apiKey string) (*Client, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, fmt.Errorf("provider: missing api key")
	}
	api := &client.API{}
	api.Init(apiKey, nil)
	return &Client{api: api}, nil
}

// Invoice fetches one invoice by id.
func (c *Client) Invoice(ctx context.Context, id string) (*stripe.Invoice, error) {
	inv, err := c.api.Invoices.Get(id, &stripe.InvoiceParams{Params: stripe.Params{Context: ctx}})
	if err != nil {
		return nil, fmt.Errorf("provider: get invoice %s: %w", id, err)
	}
	return inv, nil
}

// Event fetches one event by id.
func (c *Client) Event(ctx context.Context, id string) (*stripe.Event, error) {
	ev, err := c.api.Events.Get(id, &stripe.EventParams{Params: stripe.Params{Context: ctx}})
	if err != nil {
		return nil, fmt.Errorf("provider: get event %s: %w", id, err)
	}
	return ev, nil
}

// ListEvents returns a single page of events of the given types created
// after createdAfter, plus the provider's has-more marker.
func (c *Client) ListEvents(ctx context.Context, types []string, createdAfter time.Time, startingAfterEventID string, limit int) ([]*stripe.Event, bool, error) {
	params := &stripe.EventListParams{
		ListParams: stripe.ListParams{
			Context: ctx,
			Single:  true,
			Limit:   stripe.Int64(int64(limit)),
		},
		Types: stripe.StringSlice(types),
	}
	if !createdAfter.IsZero() {
		params.CreatedRange = &stripe.RangeQueryParams{GreaterThan: createdAfter.Unix()}
	}
	if startingAfterEventID != "" {
		params.ListParams.StartingAfter = stripe.String(startingAfterEventID)
	}

	iter := c.api.Events.List(params)
	var events []*stripe.Event
	for iter.Next() {
		events = append(events, iter.Event())
	}
	if err := iter.Err(); err != nil {
		return nil, false, fmt.Errorf("provider: list events: %w", err)
	}
	return events, iter.List().GetListMeta().HasMore, nil
}

// CreateRefund issues a full refund for the given payment intent. The
// idempotency key makes retried calls collapse into one provider-side
// refund.
func (c *Client) CreateRefund(ctx context.Context, paymentIntentID, idempotencyKey string) (*stripe.Refund, error) {
	params := &stripe.RefundParams{
		Params:        stripe.Params{Context: ctx},
		PaymentIntent: stripe.String(paymentIntentID),
	}
	if idempotencyKey != "" {
		params.Params.IdempotencyKey = stripe.String(idempotencyKey)
	}
	ref, err := c.api.Refunds.New(params)
	if err != nil {
		return nil, fmt.Errorf("provider: refund %s: %w", paymentIntentID, err)
	}
	return ref, nil
}
