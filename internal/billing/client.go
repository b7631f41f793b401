package billing

import "context"

type CustomerReader interface {
	ListCustomers(ctx context.Context, params ListParams) (Page[Customer], error)
	GetCustomer(ctx context.Context, id string) (*Customer, error)
}

type SubscriptionReader interface {
	ListSubscriptions(ctx context.Context, params SubscriptionListParams) (Page[Subscription], error)
	GetSubscription(ctx context.Context, id string) (*Subscription, error)
}

type InvoiceReader interface {
	ListInvoices(ctx context.Context, params InvoiceListParams) (Page[Invoice], error)
}

type PaymentMethodReader interface {
	GetPaymentMethod(ctx context.Context, id string) (*PaymentMethod, error)
}

type DisputeReader interface {
	ListDisputes(ctx context.Context, params DisputeListParams) (Page[Dispute], error)
	GetCharge(ctx context.Context, id string) (*Charge, error)
}

type AccountVerifier interface {
	VerifyAccount(ctx context.Context) (*Account, error)
}

// Client is the full capability set a revenue scan needs from one organization's provider account.
type Client interface {
	CustomerReader
	SubscriptionReader
	InvoiceReader
	PaymentMethodReader
	DisputeReader
	AccountVerifier
}

// Factory builds provider clients from decrypted credentials.
type Factory interface {
	Provider() string
	NewClient(cred Credential) (Client, error)
}
