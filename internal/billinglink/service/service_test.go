package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/leakradar/internal/billing"
	"github.com/smallbiznis/leakradar/internal/billing/billingtest"
	"github.com/smallbiznis/leakradar/internal/billinglink/domain"
	"github.com/smallbiznis/leakradar/internal/billinglink/repository"
	"github.com/smallbiznis/leakradar/internal/clock"
	revenuedomain "github.com/smallbiznis/leakradar/internal/revenue/domain"
	revenuerepo "github.com/smallbiznis/leakradar/internal/revenue/repository"
	"github.com/smallbiznis/leakradar/internal/secret"
	"github.com/smallbiznis/leakradar/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	testKey  = "sk_test_51HabcdefWXYZ"
	otherKey = "sk_test_51HzyxwvuQRST"
	liveKey  = "sk_live_51Hlivekey9876"
)

type harness struct {
	conn     *gorm.DB
	node     *snowflake.Node
	factory  *billingtest.Factory
	svc      *Service
	resolver *Resolver
	repo     domain.Repository
	revenue  revenuedomain.Repository
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	conn, err := db.NewTest()
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := conn.AutoMigrate(&domain.Link{}, &revenuedomain.Snapshot{}, &revenuedomain.Issue{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}

	factory := billingtest.NewFactory()
	for key, acct := range map[string]string{testKey: "acct_1", otherKey: "acct_2", liveKey: "acct_1"} {
		c := billingtest.New()
		c.Account = billing.Account{ID: acct, Name: "Acme " + acct}
		factory.Clients[key] = c
	}

	log := zaptest.NewLogger(t)
	repo := repository.Provide()
	revenue := revenuerepo.NewRepository()
	cipher := secret.NewCipherFromSecret("test-secret")

	svc := New(Params{
		DB:          conn,
		Log:         log,
		GenID:       node,
		Clock:       clock.NewFakeClock(time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC)),
		Repo:        repo,
		RevenueRepo: revenue,
		Factory:     factory,
		Cipher:      cipher,
	})

	return &harness{
		conn:     conn,
		node:     node,
		factory:  factory,
		svc:      svc,
		resolver: NewResolver(conn, log, repo, factory, cipher),
		repo:     repo,
		revenue:  revenue,
	}
}

func TestConnectStoresEncryptedCredential(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	orgID := h.node.Generate()

	resp, err := h.svc.Connect(ctx, orgID.String(), domain.ConnectRequest{APIKey: testKey, Mode: "test"})
	require.NoError(t, err)
	assert.Equal(t, "acct_1", resp.AccountID)
	assert.Equal(t, "Acme acct_1", resp.AccountName)
	assert.Equal(t, "sk_test_••••WXYZ", resp.MaskedKey)
	assert.Equal(t, "stripe", resp.Provider)

	link, err := h.repo.FindByOrg(ctx, h.conn, orgID)
	require.NoError(t, err)
	require.NotNil(t, link)
	assert.NotContains(t, string(link.Credential), testKey)
	assert.Equal(t, "WXYZ", link.KeyLast4)

	got, err := h.svc.Get(ctx, orgID.String())
	require.NoError(t, err)
	assert.Equal(t, resp.MaskedKey, got.MaskedKey)
}

func TestConnectValidatesKey(t *testing.T) {
	h := newHarness(t)
	orgID := h.node.Generate().String()

	cases := []struct {
		name string
		req  domain.ConnectRequest
		want error
	}{
		{"bad prefix", domain.ConnectRequest{APIKey: "pk_test_abcdefgh", Mode: "test"}, domain.ErrInvalidAPIKey},
		{"too short", domain.ConnectRequest{APIKey: "sk_test_ab", Mode: "test"}, domain.ErrInvalidAPIKey},
		{"bad mode", domain.ConnectRequest{APIKey: testKey, Mode: "staging"}, domain.ErrInvalidMode},
		{"mode mismatch", domain.ConnectRequest{APIKey: liveKey, Mode: "test"}, domain.ErrModeMismatch},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.svc.Connect(context.Background(), orgID, tc.req)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestConnectRejectsInvalidOrganization(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.Connect(context.Background(), "not-an-id", domain.ConnectRequest{APIKey: testKey, Mode: "test"})
	assert.ErrorIs(t, err, domain.ErrInvalidOrganization)
}

func TestConnectVerificationFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	orgID := h.node.Generate()

	_, err := h.svc.Connect(ctx, orgID.String(), domain.ConnectRequest{APIKey: "sk_test_unknownkey", Mode: "test"})
	assert.ErrorIs(t, err, domain.ErrVerificationFailed)

	h.factory.Clients[testKey].Fail[billingtest.OpVerifyAccount] = &billing.ProviderError{Kind: billing.KindAuthentication, Op: "account"}
	_, err = h.svc.Connect(ctx, orgID.String(), domain.ConnectRequest{APIKey: testKey, Mode: "test"})
	assert.ErrorIs(t, err, domain.ErrVerificationFailed)

	h.factory.Clients[testKey].Fail[billingtest.OpVerifyAccount] = &billing.ProviderError{Kind: billing.KindRateLimited, Op: "account"}
	_, err = h.svc.Connect(ctx, orgID.String(), domain.ConnectRequest{APIKey: testKey, Mode: "test"})
	assert.ErrorIs(t, err, domain.ErrProviderUnavailable)

	link, err := h.repo.FindByOrg(ctx, h.conn, orgID)
	require.NoError(t, err)
	assert.Nil(t, link)
}

func TestConnectRejectsAccountLinkedElsewhere(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.Connect(ctx, h.node.Generate().String(), domain.ConnectRequest{APIKey: testKey, Mode: "test"})
	require.NoError(t, err)

	_, err = h.svc.Connect(ctx, h.node.Generate().String(), domain.ConnectRequest{APIKey: liveKey, Mode: "live"})
	assert.ErrorIs(t, err, domain.ErrAccountLinkedElsewhere)
}

func TestReconnectReplacesLink(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	orgID := h.node.Generate()

	_, err := h.svc.Connect(ctx, orgID.String(), domain.ConnectRequest{APIKey: testKey, Mode: "test"})
	require.NoError(t, err)
	first, err := h.repo.FindByOrg(ctx, h.conn, orgID)
	require.NoError(t, err)

	resp, err := h.svc.Connect(ctx, orgID.String(), domain.ConnectRequest{APIKey: otherKey, Mode: "test"})
	require.NoError(t, err)
	assert.Equal(t, "acct_2", resp.AccountID)

	second, err := h.repo.FindByOrg(ctx, h.conn, orgID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "QRST", second.KeyLast4)

	var count int64
	require.NoError(t, h.conn.Model(&domain.Link{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestConnectWithoutSecret(t *testing.T) {
	h := newHarness(t)
	h.svc.cipher = secret.NewCipherFromSecret("")

	_, err := h.svc.Connect(context.Background(), h.node.Generate().String(), domain.ConnectRequest{APIKey: testKey, Mode: "test"})
	assert.ErrorIs(t, err, secret.ErrKeyMissing)
}

func TestGetNotFound(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.Get(context.Background(), h.node.Generate().String())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDisconnectRemovesScanHistory(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	orgID := h.node.Generate()
	keep := h.node.Generate()

	_, err := h.svc.Connect(ctx, orgID.String(), domain.ConnectRequest{APIKey: testKey, Mode: "test"})
	require.NoError(t, err)

	for _, org := range []snowflake.ID{orgID, keep} {
		snap := &revenuedomain.Snapshot{
			ID:               h.node.Generate(),
			OrgID:            org,
			SnapshotDate:     time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC),
			IssueCountByType: datatypes.NewJSONType(revenuedomain.IssueCounts{}),
			SourceStatus:     datatypes.NewJSONType(revenuedomain.SourceStatus{}),
		}
		require.NoError(t, h.revenue.UpsertSnapshot(ctx, h.conn, snap))
		issue, err := revenuedomain.NewIssue(revenuedomain.FailedPaymentDetails{InvoiceID: "in_1"}, revenuedomain.IssueFields{
			CustomerEmail: "a@example.com",
			Amount:        10,
			Priority:      revenuedomain.PriorityHigh,
			DetectedAt:    snap.SnapshotDate,
		})
		require.NoError(t, err)
		issue.Assign(h.node.Generate(), snap.ID, org)
		require.NoError(t, h.revenue.CreateIssues(ctx, h.conn, []revenuedomain.Issue{issue}))
	}

	require.NoError(t, h.svc.Disconnect(ctx, orgID.String()))

	var snapshots, issues int64
	require.NoError(t, h.conn.Model(&revenuedomain.Snapshot{}).Where("org_id = ?", orgID).Count(&snapshots).Error)
	require.NoError(t, h.conn.Model(&revenuedomain.Issue{}).Where("org_id = ?", orgID).Count(&issues).Error)
	assert.Zero(t, snapshots)
	assert.Zero(t, issues)

	require.NoError(t, h.conn.Model(&revenuedomain.Snapshot{}).Where("org_id = ?", keep).Count(&snapshots).Error)
	assert.EqualValues(t, 1, snapshots)

	_, err = h.svc.Get(ctx, orgID.String())
	assert.ErrorIs(t, err, domain.ErrNotFound)

	err = h.svc.Disconnect(ctx, orgID.String())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestResolverBuildsClientFromStoredCredential(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.node.Generate()
	b := h.node.Generate()

	_, err := h.svc.Connect(ctx, a.String(), domain.ConnectRequest{APIKey: testKey, Mode: "test"})
	require.NoError(t, err)
	_, err = h.svc.Connect(ctx, b.String(), domain.ConnectRequest{APIKey: otherKey, Mode: "test"})
	require.NoError(t, err)

	ids, err := h.resolver.ListLinkedOrganizations(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []snowflake.ID{a, b}, ids)

	client, err := h.resolver.ClientFor(ctx, b)
	require.NoError(t, err)
	account, err := client.VerifyAccount(ctx)
	require.NoError(t, err)
	assert.Equal(t, "acct_2", account.ID)

	_, err = h.resolver.ClientFor(ctx, h.node.Generate())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
