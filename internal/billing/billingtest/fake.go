// Package billingtest provides an in-memory billing.Client for tests.
package billingtest

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/smallbiznis/leakradar/internal/billing"
)

const (
	OpListCustomers     = "list_customers"
	OpGetCustomer       = "get_customer"
	OpListSubscriptions = "list_subscriptions"
	OpGetSubscription   = "get_subscription"
	OpListInvoices      = "list_invoices"
	OpGetPaymentMethod  = "get_payment_method"
	OpListDisputes      = "list_disputes"
	OpGetCharge         = "get_charge"
	OpVerifyAccount     = "verify_account"
)

// Client serves fixtures with provider-style cursor pagination. Fail and Panic inject
// failures per operation; FailIDs fails single lookups.
type Client struct {
	mu sync.Mutex

	Account        billing.Account
	Customers      []billing.Customer
	Subscriptions  []billing.Subscription
	Invoices       []billing.Invoice
	PaymentMethods map[string]billing.PaymentMethod
	Disputes       []billing.Dispute
	Charges        map[string]billing.Charge

	Fail    map[string]error
	Panic   map[string]any
	FailIDs map[string]error

	calls map[string]int
}

var _ billing.Client = (*Client)(nil)

func New() *Client {
	return &Client{
		Account:        billing.Account{ID: "acct_test", Name: "Test Account"},
		PaymentMethods: map[string]billing.PaymentMethod{},
		Charges:        map[string]billing.Charge{},
		Fail:           map[string]error{},
		Panic:          map[string]any{},
		FailIDs:        map[string]error{},
		calls:          map[string]int{},
	}
}

func (c *Client) Calls(op string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[op]
}

func (c *Client) enter(op string, id string) error {
	c.mu.Lock()
	c.calls[op]++
	p, panics := c.Panic[op]
	err := c.Fail[op]
	if err == nil && id != "" {
		err = c.FailIDs[id]
	}
	c.mu.Unlock()

	if panics {
		panic(p)
	}
	return err
}

func (c *Client) VerifyAccount(ctx context.Context) (*billing.Account, error) {
	if err := c.enter(OpVerifyAccount, ""); err != nil {
		return nil, err
	}
	account := c.Account
	return &account, nil
}

func (c *Client) ListCustomers(ctx context.Context, params billing.ListParams) (billing.Page[billing.Customer], error) {
	if err := c.enter(OpListCustomers, ""); err != nil {
		return billing.Page[billing.Customer]{}, err
	}
	return page(c.Customers, params, func(v billing.Customer) string { return v.ID }, nil), nil
}

func (c *Client) GetCustomer(ctx context.Context, id string) (*billing.Customer, error) {
	if err := c.enter(OpGetCustomer, id); err != nil {
		return nil, err
	}
	for _, customer := range c.Customers {
		if customer.ID == id {
			found := customer
			return &found, nil
		}
	}
	return nil, fmt.Errorf("customer %s: %w", id, billing.ErrNotFound)
}

func (c *Client) ListSubscriptions(ctx context.Context, params billing.SubscriptionListParams) (billing.Page[billing.Subscription], error) {
	if err := c.enter(OpListSubscriptions, ""); err != nil {
		return billing.Page[billing.Subscription]{}, err
	}
	keep := func(s billing.Subscription) bool {
		if params.Status != "" && s.Status != params.Status {
			return false
		}
		return params.CustomerID == "" || s.CustomerID == params.CustomerID
	}
	return page(c.Subscriptions, params.ListParams, func(v billing.Subscription) string { return v.ID }, keep), nil
}

func (c *Client) GetSubscription(ctx context.Context, id string) (*billing.Subscription, error) {
	if err := c.enter(OpGetSubscription, id); err != nil {
		return nil, err
	}
	for _, sub := range c.Subscriptions {
		if sub.ID == id {
			found := sub
			return &found, nil
		}
	}
	return nil, fmt.Errorf("subscription %s: %w", id, billing.ErrNotFound)
}

func (c *Client) ListInvoices(ctx context.Context, params billing.InvoiceListParams) (billing.Page[billing.Invoice], error) {
	if err := c.enter(OpListInvoices, ""); err != nil {
		return billing.Page[billing.Invoice]{}, err
	}
	keep := func(inv billing.Invoice) bool {
		return params.Status == "" || inv.Status == params.Status
	}
	return page(c.Invoices, params.ListParams, func(v billing.Invoice) string { return v.ID }, keep), nil
}

func (c *Client) GetPaymentMethod(ctx context.Context, id string) (*billing.PaymentMethod, error) {
	if err := c.enter(OpGetPaymentMethod, id); err != nil {
		return nil, err
	}
	pm, ok := c.PaymentMethods[id]
	if !ok {
		return nil, fmt.Errorf("payment method %s: %w", id, billing.ErrNotFound)
	}
	return &pm, nil
}

// ListDisputes filters after slicing the page, the way the provider adapter does.
func (c *Client) ListDisputes(ctx context.Context, params billing.DisputeListParams) (billing.Page[billing.Dispute], error) {
	if err := c.enter(OpListDisputes, ""); err != nil {
		return billing.Page[billing.Dispute]{}, err
	}
	raw := page(c.Disputes, params.ListParams, func(v billing.Dispute) string { return v.ID }, nil)
	if len(params.Statuses) == 0 {
		return raw, nil
	}
	filtered := raw.Data[:0:0]
	for _, d := range raw.Data {
		if slices.Contains(params.Statuses, d.Status) {
			filtered = append(filtered, d)
		}
	}
	raw.Data = filtered
	return raw, nil
}

func (c *Client) GetCharge(ctx context.Context, id string) (*billing.Charge, error) {
	if err := c.enter(OpGetCharge, id); err != nil {
		return nil, err
	}
	charge, ok := c.Charges[id]
	if !ok {
		return nil, fmt.Errorf("charge %s: %w", id, billing.ErrNotFound)
	}
	return &charge, nil
}

func page[T any](all []T, params billing.ListParams, id func(T) string, keep func(T) bool) billing.Page[T] {
	items := all
	if keep != nil {
		items = make([]T, 0, len(all))
		for _, v := range all {
			if keep(v) {
				items = append(items, v)
			}
		}
	}

	start := 0
	if params.StartingAfter != "" {
		for i, v := range items {
			if id(v) == params.StartingAfter {
				start = i + 1
				break
			}
		}
	}
	limit := params.Limit
	if limit <= 0 {
		limit = billing.DefaultPageSize
	}
	end := min(start+limit, len(items))

	out := billing.Page[T]{Data: append([]T(nil), items[start:end]...), HasMore: end < len(items)}
	if end > start {
		out.Cursor = id(items[end-1])
	}
	return out
}

// Factory hands out preconfigured clients keyed by API key.
type Factory struct {
	mu      sync.Mutex
	Clients map[string]*Client
	Err     error
}

func NewFactory() *Factory {
	return &Factory{Clients: map[string]*Client{}}
}

func (f *Factory) Provider() string { return "stripe" }

func (f *Factory) NewClient(cred billing.Credential) (billing.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	client, ok := f.Clients[cred.APIKey]
	if !ok {
		return nil, billing.ErrInvalidCredential
	}
	return client, nil
}
