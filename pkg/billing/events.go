package billing

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Ref is an expandable provider reference. Providers deliver these either as
// a bare ID string or as an embedded object carrying an "id" field; both
// forms unmarshal to the ID.
type Ref struct {
	ID string
}

func (r *Ref) UnmarshalJSON(b []byte) error {
	if len(b) == 0 || string(b) == "null" {
		r.ID = ""
		return nil
	}
	if b[0] == '"' {
		return json.Unmarshal(b, &r.ID)
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	r.ID = obj.ID
	return nil
}

func (r Ref) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.ID)
}

// Price identifies the provider price a line item bills against.
type Price struct {
	ID       string            `json:"id"`
	Metadata map[string]string `json:"metadata"`
}

// LineItem is one billable line on a subscription or checkout session.
type LineItem struct {
	Price    Price `json:"price"`
	Quantity int64 `json:"quantity"`
}

// CheckoutSessionEvent is the payload of a checkout-completed webhook.
// It is the only event kind that creates rows, so its metadata is validated
// strictly: there is nothing in the database to fall back to.
type CheckoutSessionEvent struct {
	ID           string            `json:"id"`
	Subscription Ref               `json:"subscription"`
	Customer     Ref               `json:"customer"`
	Metadata     map[string]string `json:"metadata"`
	Items        []LineItem        `json:"line_items"`
}

// CheckoutMetadata is the validated form of a checkout session's metadata.
type CheckoutMetadata struct {
	UserID uuid.UUID
	Plan   PlanType
}

// Validate checks the event against the strict checkout schema and returns
// the typed metadata. Loosely-typed metadata never travels deeper than this
// boundary.
func (e *CheckoutSessionEvent) Validate() (CheckoutMetadata, error) {
	var meta CheckoutMetadata

	if e.Subscription.ID == "" {
		return meta, NewValidationError("subscription", "missing subscription reference")
	}

	rawUser, ok := e.Metadata["userId"]
	if !ok || rawUser == "" {
		return meta, NewValidationError("metadata.userId", "required")
	}
	userID, err := uuid.Parse(rawUser)
	if err != nil {
		return meta, NewValidationError("metadata.userId", "not a valid UUID")
	}

	rawPlan, ok := e.Metadata["planType"]
	if !ok || rawPlan == "" {
		return meta, NewValidationError("metadata.planType", "required")
	}
	plan := PlanType(rawPlan)
	if !plan.Valid() {
		return meta, NewValidationError("metadata.planType", "unknown plan type "+rawPlan)
	}

	meta.UserID = userID
	meta.Plan = plan
	return meta, nil
}

// SubscriptionEvent is the payload of subscription-updated and
// subscription-deleted webhooks: the full current shape of the provider
// subscription at event time.
type SubscriptionEvent struct {
	ID                 string            `json:"id"`
	Customer           Ref               `json:"customer"`
	Status             string            `json:"status"`
	Metadata           map[string]string `json:"metadata"`
	Items              []LineItem        `json:"items"`
	CurrentPeriodStart int64             `json:"current_period_start"` // unix seconds, 0 when absent
	CurrentPeriodEnd   int64             `json:"current_period_end"`   // unix seconds, 0 when absent
	CancelAtPeriodEnd  bool              `json:"cancel_at_period_end"`
	CanceledAt         int64             `json:"canceled_at"` // unix seconds, 0 when absent
}

// UserID extracts the user linkage from event metadata. ok is false when the
// linkage is missing or malformed; callers recover it from the subscription
// row instead.
func (e *SubscriptionEvent) UserID() (uuid.UUID, bool) {
	raw, present := e.Metadata["userId"]
	if !present || raw == "" {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// FirstBillablePrice returns the price ID of the first line item that bills
// against a price, or "" when none exists.
func (e *SubscriptionEvent) FirstBillablePrice() string {
	for _, item := range e.Items {
		if item.Price.ID != "" {
			return item.Price.ID
		}
	}
	return ""
}

// PeriodStart returns the period start as a time, nil when absent.
func (e *SubscriptionEvent) PeriodStart() *time.Time {
	return unixPtr(e.CurrentPeriodStart)
}

// PeriodEnd returns the period end as a time, nil when absent.
func (e *SubscriptionEvent) PeriodEnd() *time.Time {
	return unixPtr(e.CurrentPeriodEnd)
}

// CanceledTime returns the cancellation timestamp, nil when absent.
func (e *SubscriptionEvent) CanceledTime() *time.Time {
	return unixPtr(e.CanceledAt)
}

// InvoiceEvent is the payload of a payment-failed webhook. Only the
// subscription linkage is trusted; the rest of the payload is re-fetched
// from the provider before any row changes.
type InvoiceEvent struct {
	ID           string `json:"id"`
	Subscription Ref    `json:"subscription"`
	Customer     Ref    `json:"customer"`
}

func unixPtr(sec int64) *time.Time {
	if sec == 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}
