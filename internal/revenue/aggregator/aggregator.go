// Package aggregator turns one organization's billing data into candidate revenue issues and current MRR.
package aggregator

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/leakradar/internal/billing"
	"github.com/smallbiznis/leakradar/internal/clock"
	"github.com/smallbiznis/leakradar/internal/config"
	"github.com/smallbiznis/leakradar/internal/observability/logger"
	"github.com/smallbiznis/leakradar/internal/observability/metrics"
	"github.com/smallbiznis/leakradar/internal/observability/tracing"
	"github.com/smallbiznis/leakradar/internal/revenue/domain"
	"github.com/smallbiznis/leakradar/internal/revenue/mrr"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	notAvailable = "N/A"
	reasonPanic  = "panic"
)

var tracer = otel.Tracer("leakradar/revenue")

type Options struct {
	Log     *zap.Logger
	Clock   clock.Clock
	Config  config.ScanConfig
	Metrics *metrics.ScanMetrics
}

type Aggregator struct {
	log     *zap.Logger
	clock   clock.Clock
	cfg     config.ScanConfig
	metrics *metrics.ScanMetrics
}

func New(opts Options) *Aggregator {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Aggregator{
		log:     log.Named("revenue.aggregator"),
		clock:   clk,
		cfg:     opts.Config,
		metrics: opts.Metrics,
	}
}

// Result is everything one organization's scan produced. Sources has an entry for every pass.
type Result struct {
	Issues     []domain.Issue
	CurrentMRR float64
	Sources    domain.SourceStatus
	Errors     map[domain.Source]error
}

// IsPartial reports whether any pass failed or stopped at the page ceiling.
func (r Result) IsPartial() bool {
	for _, state := range r.Sources {
		if state != domain.SourceStateOK {
			return true
		}
	}
	return false
}

func (r Result) IsTruncated() bool {
	for _, state := range r.Sources {
		if state == domain.SourceStateTruncated {
			return true
		}
	}
	return false
}

type passOutput struct {
	issues    []domain.Issue
	truncated bool
}

// Collect runs every pass against client. It never fails as a whole: a failing pass is recorded in
// Result.Sources and its issues are dropped.
func (a *Aggregator) Collect(ctx context.Context, client billing.Client) Result {
	now := a.clock.Now().UTC()
	res := Result{
		Sources: make(domain.SourceStatus, len(domain.Sources)),
		Errors:  map[domain.Source]error{},
	}

	passes := []struct {
		source domain.Source
		run    func(context.Context) (passOutput, error)
	}{
		{domain.SourceFailedPayments, func(ctx context.Context) (passOutput, error) { return a.failedPayments(ctx, client, now) }},
		{domain.SourceFailedSubscriptions, func(ctx context.Context) (passOutput, error) { return a.failedSubscriptions(ctx, client, now) }},
		{domain.SourceExpiringCards, func(ctx context.Context) (passOutput, error) { return a.expiringCards(ctx, client, now) }},
		{domain.SourceChargebacks, func(ctx context.Context) (passOutput, error) { return a.chargebacks(ctx, client, now) }},
		{domain.SourceCurrentMRR, func(ctx context.Context) (passOutput, error) {
			value, truncated, err := a.currentMRR(ctx, client)
			if err != nil {
				return passOutput{}, err
			}
			res.CurrentMRR = value
			return passOutput{truncated: truncated}, nil
		}},
	}

	for _, pass := range passes {
		out, err := a.runPass(ctx, pass.source, pass.run)
		switch {
		case err != nil:
			res.Sources[pass.source] = domain.SourceStateFailed
			res.Errors[pass.source] = err
		case out.truncated:
			res.Sources[pass.source] = domain.SourceStateTruncated
			res.Issues = append(res.Issues, out.issues...)
		default:
			res.Sources[pass.source] = domain.SourceStateOK
			res.Issues = append(res.Issues, out.issues...)
		}
	}
	if res.Sources[domain.SourceCurrentMRR] == domain.SourceStateFailed {
		res.CurrentMRR = 0
	}

	return res
}

func (a *Aggregator) runPass(ctx context.Context, source domain.Source, fn func(context.Context) (passOutput, error)) (out passOutput, err error) {
	ctx, span := tracer.Start(ctx, "revenue.scan.pass", trace.WithAttributes(tracing.ContextAttributes(ctx)...))
	span.SetAttributes(attribute.String("revenue.source", string(source)))
	defer span.End()

	log := logger.WithContext(ctx, a.log).With(zap.String("source", string(source)))
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pass %s panicked: %v", source, r)
			out = passOutput{}
			span.RecordError(tracing.SafeError(err))
			span.SetStatus(codes.Error, reasonPanic)
			log.Error("revenue.pass.failed",
				zap.String("error_type", reasonPanic),
				zap.Bool("retryable", false),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
			a.metrics.IncSourceFailure(string(source), reasonPanic)
		}
	}()

	out, err = fn(ctx)
	if err != nil {
		kind := billing.ClassifyError(err)
		span.RecordError(tracing.SafeError(err))
		span.SetStatus(codes.Error, string(kind))
		log.Warn("revenue.pass.failed",
			zap.String("error_type", string(kind)),
			zap.Bool("retryable", kind.Retryable()),
			zap.Error(err),
			zap.Duration("duration", time.Since(start)),
		)
		a.metrics.IncSourceFailure(string(source), string(kind))
		return passOutput{}, err
	}

	if out.truncated {
		log.Warn("revenue.pass.truncated", zap.Int("max_pages", a.cfg.MaxPages))
		a.metrics.IncSourceTruncated(string(source))
	}
	span.SetAttributes(attribute.Int("revenue.issues", len(out.issues)), attribute.Bool("revenue.truncated", out.truncated))
	log.Debug("revenue.pass.completed",
		zap.Int("issues", len(out.issues)),
		zap.Duration("duration", time.Since(start)),
	)
	return out, nil
}

func (a *Aggregator) pageRequest() billing.PageRequest {
	return billing.PageRequest{PageSize: a.cfg.PageSize, MaxPages: a.cfg.MaxPages}
}

func (a *Aggregator) failedPayments(ctx context.Context, client billing.Client, now time.Time) (passOutput, error) {
	var out passOutput
	stats, err := billing.Paginate(ctx, a.pageRequest(),
		func(ctx context.Context, params billing.ListParams) (billing.Page[billing.Invoice], error) {
			return client.ListInvoices(ctx, billing.InvoiceListParams{ListParams: params, Status: billing.InvoiceStatusOpen})
		},
		func(inv billing.Invoice) error {
			if inv.DueDate == nil || !inv.DueDate.Before(now) {
				return nil
			}
			email, name, err := a.customerContact(ctx, client, inv.CustomerID)
			if err != nil {
				a.skipItem(ctx, domain.SourceFailedPayments, "invoice_id", inv.ID, err)
				return nil
			}

			daysOverdue := wholeDays(now.Sub(*inv.DueDate))
			priority := domain.PriorityHigh
			if daysOverdue > a.cfg.OverdueCriticalDays {
				priority = domain.PriorityCritical
			}
			issue, err := domain.NewIssue(domain.FailedPaymentDetails{
				InvoiceID:   inv.ID,
				DaysOverdue: daysOverdue,
				InvoiceURL:  inv.HostedURL,
			}, domain.IssueFields{
				CustomerEmail: email,
				CustomerName:  name,
				Amount:        dollars(inv.AmountDue),
				Priority:      priority,
				DetectedAt:    now,
			})
			if err != nil {
				return err
			}
			out.issues = append(out.issues, issue)
			return nil
		},
	)
	out.truncated = stats.Truncated
	return out, err
}

func (a *Aggregator) failedSubscriptions(ctx context.Context, client billing.Client, now time.Time) (passOutput, error) {
	var out passOutput
	stats, err := billing.Paginate(ctx, a.pageRequest(),
		func(ctx context.Context, params billing.ListParams) (billing.Page[billing.Invoice], error) {
			return client.ListInvoices(ctx, billing.InvoiceListParams{ListParams: params, Status: billing.InvoiceStatusOpen})
		},
		func(inv billing.Invoice) error {
			if inv.SubscriptionID == "" {
				return nil
			}
			sub, err := client.GetSubscription(ctx, inv.SubscriptionID)
			if err != nil {
				a.skipItem(ctx, domain.SourceFailedSubscriptions, "subscription_id", inv.SubscriptionID, err)
				return nil
			}
			customerID := sub.CustomerID
			if customerID == "" {
				customerID = inv.CustomerID
			}
			email, name, err := a.customerContact(ctx, client, customerID)
			if err != nil {
				a.skipItem(ctx, domain.SourceFailedSubscriptions, "invoice_id", inv.ID, err)
				return nil
			}

			issue, err := domain.NewIssue(domain.FailedSubscriptionDetails{
				SubscriptionID: sub.ID,
				InvoiceID:      inv.ID,
				PlanName:       planName(sub),
				MRRImpact:      round2(mrr.SubscriptionDecimal(sub.Items)),
			}, domain.IssueFields{
				CustomerEmail: email,
				CustomerName:  name,
				Amount:        dollars(inv.AmountDue),
				Priority:      domain.PriorityCritical,
				DetectedAt:    now,
			})
			if err != nil {
				return err
			}
			out.issues = append(out.issues, issue)
			return nil
		},
	)
	out.truncated = stats.Truncated
	return out, err
}

func (a *Aggregator) expiringCards(ctx context.Context, client billing.Client, now time.Time) (passOutput, error) {
	var out passOutput
	stats, err := billing.Paginate(ctx, a.pageRequest(),
		client.ListCustomers,
		func(customer billing.Customer) error {
			if customer.DefaultPaymentMethodID == "" {
				return nil
			}
			pm, err := client.GetPaymentMethod(ctx, customer.DefaultPaymentMethodID)
			if err != nil {
				a.skipItem(ctx, domain.SourceExpiringCards, "customer_id", customer.ID, err)
				return nil
			}
			if pm.Type != billing.PaymentMethodTypeCard || pm.Card == nil {
				return nil
			}

			expiry := time.Date(pm.Card.ExpYear, time.Month(pm.Card.ExpMonth), 1, 0, 0, 0, 0, time.UTC)
			days := wholeDays(expiry.Sub(now))
			if days < 0 || days > a.cfg.CardExpiryWindowDays {
				return nil
			}

			impact := decimal.Zero
			var subscriptionIDs []string
			subStats, err := billing.Paginate(ctx, a.pageRequest(),
				func(ctx context.Context, params billing.ListParams) (billing.Page[billing.Subscription], error) {
					return client.ListSubscriptions(ctx, billing.SubscriptionListParams{
						ListParams: params,
						Status:     billing.SubscriptionStatusActive,
						CustomerID: customer.ID,
					})
				},
				func(sub billing.Subscription) error {
					impact = impact.Add(mrr.SubscriptionDecimal(sub.Items))
					subscriptionIDs = append(subscriptionIDs, sub.ID)
					return nil
				},
			)
			if err != nil {
				a.skipItem(ctx, domain.SourceExpiringCards, "customer_id", customer.ID, err)
				return nil
			}
			if subStats.Truncated {
				out.truncated = true
			}
			if impact.IsZero() {
				return nil
			}

			priority := domain.PriorityHigh
			if days < a.cfg.CardCriticalDays {
				priority = domain.PriorityCritical
			}
			amount := round2(impact)
			issue, err := domain.NewIssue(domain.ExpiringCardDetails{
				CardLast4:       pm.Card.Last4,
				ExpirationDate:  fmt.Sprintf("%02d/%04d", pm.Card.ExpMonth, pm.Card.ExpYear),
				DaysUntilExpiry: days,
				SubscriptionIDs: subscriptionIDs,
			}, domain.IssueFields{
				CustomerEmail: orNA(customer.Email),
				CustomerName:  orNA(customer.Name),
				Amount:        amount,
				Priority:      priority,
				DetectedAt:    now,
			})
			if err != nil {
				return err
			}
			out.issues = append(out.issues, issue)
			return nil
		},
	)
	out.truncated = out.truncated || stats.Truncated
	return out, err
}

func (a *Aggregator) chargebacks(ctx context.Context, client billing.Client, now time.Time) (passOutput, error) {
	var out passOutput
	stats, err := billing.Paginate(ctx, a.pageRequest(),
		func(ctx context.Context, params billing.ListParams) (billing.Page[billing.Dispute], error) {
			return client.ListDisputes(ctx, billing.DisputeListParams{
				ListParams: params,
				Statuses:   []string{billing.DisputeStatusNeedsResponse, billing.DisputeStatusUnderReview},
			})
		},
		func(dispute billing.Dispute) error {
			email, name := notAvailable, notAvailable
			if dispute.ChargeID != "" {
				charge, err := client.GetCharge(ctx, dispute.ChargeID)
				switch {
				case err != nil:
					a.skipLookup(ctx, domain.SourceChargebacks, "charge_id", dispute.ChargeID, err)
				case charge.CustomerID != "":
					e, n, err := a.customerContact(ctx, client, charge.CustomerID)
					if err != nil {
						a.skipLookup(ctx, domain.SourceChargebacks, "customer_id", charge.CustomerID, err)
					} else {
						email, name = e, n
					}
				}
			}

			var dueBy *string
			if dispute.DueBy != nil {
				formatted := dispute.DueBy.UTC().Format(time.RFC3339)
				dueBy = &formatted
			}
			priority := domain.PriorityHigh
			if dispute.Status == billing.DisputeStatusNeedsResponse {
				priority = domain.PriorityCritical
			}
			issue, err := domain.NewIssue(domain.ChargebackDetails{
				DisputeID: dispute.ID,
				Reason:    dispute.Reason,
				DueBy:     dueBy,
				Status:    dispute.Status,
			}, domain.IssueFields{
				CustomerEmail: email,
				CustomerName:  name,
				Amount:        dollars(dispute.Amount),
				Priority:      priority,
				DetectedAt:    now,
			})
			if err != nil {
				return err
			}
			out.issues = append(out.issues, issue)
			return nil
		},
	)
	out.truncated = stats.Truncated
	return out, err
}

func (a *Aggregator) currentMRR(ctx context.Context, client billing.Client) (float64, bool, error) {
	total := decimal.Zero
	stats, err := billing.Paginate(ctx, a.pageRequest(),
		func(ctx context.Context, params billing.ListParams) (billing.Page[billing.Subscription], error) {
			return client.ListSubscriptions(ctx, billing.SubscriptionListParams{ListParams: params, Status: billing.SubscriptionStatusActive})
		},
		func(sub billing.Subscription) error {
			total = total.Add(mrr.SubscriptionDecimal(sub.Items))
			return nil
		},
	)
	if err != nil {
		return 0, false, err
	}
	return round2(total), stats.Truncated, nil
}

func (a *Aggregator) customerContact(ctx context.Context, client billing.Client, customerID string) (string, string, error) {
	if customerID == "" {
		return notAvailable, notAvailable, nil
	}
	customer, err := client.GetCustomer(ctx, customerID)
	if err != nil {
		return "", "", err
	}
	return orNA(customer.Email), orNA(customer.Name), nil
}

// skipItem drops one record whose lookup failed. The pass itself still counts as complete.
func (a *Aggregator) skipItem(ctx context.Context, source domain.Source, key, id string, err error) {
	kind := billing.ClassifyError(err)
	logger.WithContext(ctx, a.log).Warn("revenue.item.skipped",
		zap.String("source", string(source)),
		zap.String(key, id),
		zap.String("error_type", string(kind)),
		zap.Bool("retryable", kind.Retryable()),
		zap.Error(err),
	)
}

// skipLookup keeps the record but without the enrichment that failed.
func (a *Aggregator) skipLookup(ctx context.Context, source domain.Source, key, id string, err error) {
	kind := billing.ClassifyError(err)
	logger.WithContext(ctx, a.log).Warn("revenue.lookup.skipped",
		zap.String("source", string(source)),
		zap.String(key, id),
		zap.String("error_type", string(kind)),
		zap.Error(err),
	)
}

func planName(sub *billing.Subscription) string {
	if len(sub.Items) == 0 || sub.Items[0].Price.Nickname == "" {
		return notAvailable
	}
	return sub.Items[0].Price.Nickname
}

func orNA(v string) string {
	if v == "" {
		return notAvailable
	}
	return v
}

func dollars(cents int64) float64 {
	if cents <= 0 {
		return 0
	}
	return decimal.NewFromInt(cents).Shift(-2).InexactFloat64()
}

func round2(d decimal.Decimal) float64 {
	return d.Round(2).InexactFloat64()
}

func wholeDays(d time.Duration) int {
	return int(math.Floor(d.Hours() / 24))
}
