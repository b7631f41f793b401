// Package billing describes the read-only view of a billing provider that the revenue scan consumes.
package billing

import "time"

type Mode string

const (
	ModeTest Mode = "test"
	ModeLive Mode = "live"
)

// Credential is the decrypted secret used to build a provider client. It never leaves memory.
type Credential struct {
	APIKey string
	Mode   Mode
}

type Customer struct {
	ID                     string
	Email                  string
	Name                   string
	DefaultPaymentMethodID string
}

type Invoice struct {
	ID             string
	CustomerID     string
	SubscriptionID string
	Status         string
	AmountDue      int64
	DueDate        *time.Time
	HostedURL      string
}

// Price carries the recurring interval as the provider spells it; one-off prices have an empty interval.
type Price struct {
	ID         string
	Nickname   string
	UnitAmount int64
	Interval   string
}

type SubscriptionItem struct {
	ID       string
	Quantity int64
	Price    Price
}

type Subscription struct {
	ID         string
	CustomerID string
	Status     string
	Items      []SubscriptionItem
}

type Card struct {
	Last4    string
	ExpMonth int
	ExpYear  int
}

type PaymentMethod struct {
	ID   string
	Type string
	Card *Card
}

type Dispute struct {
	ID       string
	ChargeID string
	Amount   int64
	Reason   string
	Status   string
	DueBy    *time.Time
}

type Charge struct {
	ID         string
	CustomerID string
}

type Account struct {
	ID       string
	Name     string
	Email    string
	Livemode bool
}

const (
	InvoiceStatusOpen = "open"

	SubscriptionStatusActive = "active"

	PaymentMethodTypeCard = "card"

	DisputeStatusNeedsResponse = "needs_response"
	DisputeStatusUnderReview   = "under_review"
)

// Page is one provider page. Cursor is the id of the last raw item the provider returned, which can
// differ from the last element of Data when the adapter filters client-side.
type Page[T any] struct {
	Data    []T
	HasMore bool
	Cursor  string
}

type ListParams struct {
	Limit         int
	StartingAfter string
}

type InvoiceListParams struct {
	ListParams
	Status string
}

type SubscriptionListParams struct {
	ListParams
	Status     string
	CustomerID string
}

type DisputeListParams struct {
	ListParams
	Statuses []string
}
