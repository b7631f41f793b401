// Package stripe adapts the Stripe API to the billing reader interfaces.
package stripe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/smallbiznis/leakradar/internal/billing"
	"github.com/smallbiznis/leakradar/internal/config"
	stripego "github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const ProviderName = "stripe"

var Module = fx.Module("billing.stripe",
	fx.Provide(
		NewFactory,
		func(f *Factory) billing.Factory { return f },
	),
)

// Factory builds one API client per credential. Clients share nothing but configuration.
type Factory struct {
	cfg     config.StripeConfig
	log     *zap.Logger
	baseURL string
}

func NewFactory(cfg config.Config, log *zap.Logger) *Factory {
	return &Factory{cfg: cfg.Stripe, log: log.Named("billing.stripe")}
}

func (f *Factory) Provider() string { return ProviderName }

func (f *Factory) NewClient(cred billing.Credential) (billing.Client, error) {
	if strings.TrimSpace(cred.APIKey) == "" {
		return nil, billing.ErrInvalidCredential
	}

	backendCfg := &stripego.BackendConfig{
		MaxNetworkRetries: stripego.Int64(f.cfg.MaxNetworkRetries),
		HTTPClient:        &http.Client{Timeout: f.cfg.Timeout},
		LeveledLogger:     f.log.Sugar(),
	}
	if f.baseURL != "" {
		backendCfg.URL = stripego.String(f.baseURL)
	}

	api := &client.API{}
	api.Init(cred.APIKey, &stripego.Backends{
		API:     stripego.GetBackendWithConfig(stripego.APIBackend, backendCfg),
		Connect: stripego.GetBackendWithConfig(stripego.ConnectBackend, backendCfg),
		Uploads: stripego.GetBackendWithConfig(stripego.UploadsBackend, backendCfg),
	})

	return &Client{api: api, mode: cred.Mode}, nil
}

type Client struct {
	api  *client.API
	mode billing.Mode
}

var _ billing.Client = (*Client)(nil)

func listParams(ctx context.Context, p billing.ListParams) stripego.ListParams {
	lp := stripego.ListParams{Context: ctx, Single: true}
	if p.Limit > 0 {
		lp.Limit = stripego.Int64(int64(p.Limit))
	}
	if p.StartingAfter != "" {
		lp.StartingAfter = stripego.String(p.StartingAfter)
	}
	return lp
}

func hasMore(meta *stripego.ListMeta) bool {
	return meta != nil && meta.HasMore
}

func (c *Client) VerifyAccount(ctx context.Context) (*billing.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	acct, err := c.api.Accounts.Get()
	if err != nil {
		return nil, classify("get_account", err)
	}
	return &billing.Account{
		ID:       acct.ID,
		Name:     accountName(acct),
		Email:    acct.Email,
		Livemode: c.mode == billing.ModeLive,
	}, nil
}

func accountName(acct *stripego.Account) string {
	if acct.BusinessProfile != nil && acct.BusinessProfile.Name != "" {
		return acct.BusinessProfile.Name
	}
	if acct.Settings != nil && acct.Settings.Dashboard != nil && acct.Settings.Dashboard.DisplayName != "" {
		return acct.Settings.Dashboard.DisplayName
	}
	return acct.Email
}

func (c *Client) ListCustomers(ctx context.Context, params billing.ListParams) (billing.Page[billing.Customer], error) {
	var page billing.Page[billing.Customer]
	it := c.api.Customers.List(&stripego.CustomerListParams{ListParams: listParams(ctx, params)})
	for it.Next() {
		cus := it.Customer()
		page.Cursor = cus.ID
		page.Data = append(page.Data, toCustomer(cus))
	}
	if err := it.Err(); err != nil {
		return billing.Page[billing.Customer]{}, classify("list_customers", err)
	}
	page.HasMore = hasMore(it.Meta())
	return page, nil
}

func (c *Client) GetCustomer(ctx context.Context, id string) (*billing.Customer, error) {
	cus, err := c.api.Customers.Get(id, &stripego.CustomerParams{Params: stripego.Params{Context: ctx}})
	if err != nil {
		return nil, classify("get_customer", err)
	}
	if cus.Deleted {
		return nil, fmt.Errorf("customer %s: %w", id, billing.ErrNotFound)
	}
	out := toCustomer(cus)
	return &out, nil
}

func toCustomer(cus *stripego.Customer) billing.Customer {
	out := billing.Customer{ID: cus.ID, Email: cus.Email, Name: cus.Name}
	switch {
	case cus.InvoiceSettings != nil && cus.InvoiceSettings.DefaultPaymentMethod != nil:
		out.DefaultPaymentMethodID = cus.InvoiceSettings.DefaultPaymentMethod.ID
	case cus.DefaultSource != nil:
		out.DefaultPaymentMethodID = cus.DefaultSource.ID
	}
	return out
}

func (c *Client) ListSubscriptions(ctx context.Context, params billing.SubscriptionListParams) (billing.Page[billing.Subscription], error) {
	req := &stripego.SubscriptionListParams{ListParams: listParams(ctx, params.ListParams)}
	if params.Status != "" {
		req.Status = stripego.String(params.Status)
	}
	if params.CustomerID != "" {
		req.Customer = stripego.String(params.CustomerID)
	}

	var page billing.Page[billing.Subscription]
	it := c.api.Subscriptions.List(req)
	for it.Next() {
		sub := it.Subscription()
		page.Cursor = sub.ID
		page.Data = append(page.Data, toSubscription(sub))
	}
	if err := it.Err(); err != nil {
		return billing.Page[billing.Subscription]{}, classify("list_subscriptions", err)
	}
	page.HasMore = hasMore(it.Meta())
	return page, nil
}

func (c *Client) GetSubscription(ctx context.Context, id string) (*billing.Subscription, error) {
	sub, err := c.api.Subscriptions.Get(id, &stripego.SubscriptionParams{Params: stripego.Params{Context: ctx}})
	if err != nil {
		return nil, classify("get_subscription", err)
	}
	out := toSubscription(sub)
	return &out, nil
}

func toSubscription(sub *stripego.Subscription) billing.Subscription {
	out := billing.Subscription{ID: sub.ID, Status: string(sub.Status)}
	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}
	if sub.Items == nil {
		return out
	}
	for _, item := range sub.Items.Data {
		if item == nil {
			continue
		}
		converted := billing.SubscriptionItem{ID: item.ID, Quantity: item.Quantity}
		if item.Price != nil {
			converted.Price = billing.Price{
				ID:         item.Price.ID,
				Nickname:   item.Price.Nickname,
				UnitAmount: item.Price.UnitAmount,
			}
			if item.Price.Recurring != nil {
				converted.Price.Interval = string(item.Price.Recurring.Interval)
			}
		}
		out.Items = append(out.Items, converted)
	}
	return out
}

func (c *Client) ListInvoices(ctx context.Context, params billing.InvoiceListParams) (billing.Page[billing.Invoice], error) {
	req := &stripego.InvoiceListParams{ListParams: listParams(ctx, params.ListParams)}
	if params.Status != "" {
		req.Status = stripego.String(params.Status)
	}

	var page billing.Page[billing.Invoice]
	it := c.api.Invoices.List(req)
	for it.Next() {
		inv := it.Invoice()
		page.Cursor = inv.ID
		page.Data = append(page.Data, toInvoice(inv))
	}
	if err := it.Err(); err != nil {
		return billing.Page[billing.Invoice]{}, classify("list_invoices", err)
	}
	page.HasMore = hasMore(it.Meta())
	return page, nil
}

func toInvoice(inv *stripego.Invoice) billing.Invoice {
	out := billing.Invoice{
		ID:        inv.ID,
		Status:    string(inv.Status),
		AmountDue: inv.AmountDue,
		HostedURL: inv.HostedInvoiceURL,
	}
	if inv.Customer != nil {
		out.CustomerID = inv.Customer.ID
	}
	if inv.Subscription != nil {
		out.SubscriptionID = inv.Subscription.ID
	}
	if inv.DueDate > 0 {
		due := time.Unix(inv.DueDate, 0).UTC()
		out.DueDate = &due
	}
	return out
}

func (c *Client) GetPaymentMethod(ctx context.Context, id string) (*billing.PaymentMethod, error) {
	pm, err := c.api.PaymentMethods.Get(id, &stripego.PaymentMethodParams{Params: stripego.Params{Context: ctx}})
	if err != nil {
		return nil, classify("get_payment_method", err)
	}
	out := billing.PaymentMethod{ID: pm.ID, Type: string(pm.Type)}
	if pm.Card != nil {
		out.Card = &billing.Card{
			Last4:    pm.Card.Last4,
			ExpMonth: int(pm.Card.ExpMonth),
			ExpYear:  int(pm.Card.ExpYear),
		}
	}
	return &out, nil
}

// ListDisputes filters statuses after fetching because the list endpoint has no status filter.
// Cursor still tracks the last raw dispute so paging never stalls on a filtered page.
func (c *Client) ListDisputes(ctx context.Context, params billing.DisputeListParams) (billing.Page[billing.Dispute], error) {
	var page billing.Page[billing.Dispute]
	it := c.api.Disputes.List(&stripego.DisputeListParams{ListParams: listParams(ctx, params.ListParams)})
	for it.Next() {
		d := it.Dispute()
		page.Cursor = d.ID
		if len(params.Statuses) > 0 && !slices.Contains(params.Statuses, string(d.Status)) {
			continue
		}
		page.Data = append(page.Data, toDispute(d))
	}
	if err := it.Err(); err != nil {
		return billing.Page[billing.Dispute]{}, classify("list_disputes", err)
	}
	page.HasMore = hasMore(it.Meta())
	return page, nil
}

func toDispute(d *stripego.Dispute) billing.Dispute {
	out := billing.Dispute{
		ID:     d.ID,
		Amount: d.Amount,
		Reason: string(d.Reason),
		Status: string(d.Status),
	}
	if d.Charge != nil {
		out.ChargeID = d.Charge.ID
	}
	if d.EvidenceDetails != nil && d.EvidenceDetails.DueBy > 0 {
		due := time.Unix(d.EvidenceDetails.DueBy, 0).UTC()
		out.DueBy = &due
	}
	return out
}

func (c *Client) GetCharge(ctx context.Context, id string) (*billing.Charge, error) {
	ch, err := c.api.Charges.Get(id, &stripego.ChargeParams{Params: stripego.Params{Context: ctx}})
	if err != nil {
		return nil, classify("get_charge", err)
	}
	out := billing.Charge{ID: ch.ID}
	if ch.Customer != nil {
		out.CustomerID = ch.Customer.ID
	}
	return &out, nil
}

// classify maps SDK errors onto billing.ErrorKind so callers never import the SDK.
func classify(op string, err error) error {
	var serr *stripego.Error
	if !errors.As(err, &serr) {
		return fmt.Errorf("stripe %s: %w", op, err)
	}

	kind := billing.KindProvider
	switch {
	case serr.HTTPStatusCode == http.StatusTooManyRequests:
		kind = billing.KindRateLimited
	case serr.HTTPStatusCode == http.StatusUnauthorized:
		kind = billing.KindAuthentication
	case serr.HTTPStatusCode == http.StatusForbidden:
		kind = billing.KindPermission
	case serr.HTTPStatusCode == http.StatusNotFound || serr.Code == stripego.ErrorCodeResourceMissing:
		kind = billing.KindNotFound
	case serr.HTTPStatusCode >= 400 && serr.HTTPStatusCode < 500:
		kind = billing.KindInvalidRequest
	case serr.HTTPStatusCode == 0 && serr.Type == stripego.ErrorTypeInvalidRequest:
		kind = billing.KindInvalidRequest
	}

	return &billing.ProviderError{
		Kind:       kind,
		Op:         op,
		StatusCode: serr.HTTPStatusCode,
		Err:        err,
	}
}
