package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Allforms/estatepadi/internal/domain"
	"github.com/Allforms/estatepadi/pkg/paystackclient"
)

func successfulTxn(reference string) *paystackclient.Transaction {
	return &paystackclient.Transaction{
		Reference:     reference,
		Status:        "success",
		PaidAt:        paystackclient.Timestamp("2026-03-15T09:00:00.000Z"),
		Customer:      paystackclient.Customer{Email: "ada@example.com"},
		Authorization: paystackclient.Authorization{AuthorizationCode: "AUTH_1", Reusable: true},
	}
}

func TestCreateActivatesSubscription(t *testing.T) {
	f := newFixture()
	f.gateway.Transactions["ref-1"] = successfulTxn("ref-1")

	sub, err := f.service().Create(context.Background(), userAudit(f.user.ID), f.user.ID, CreateRequest{PlanID: f.monthly.ID, Reference: "ref-1"})
	require.NoError(t, err)

	assert.Equal(t, domain.StatusActive, sub.Status)
	assert.Equal(t, "CUS_new", sub.CustomerCode)
	assert.Equal(t, "SUB_CUS_new", sub.SubscriptionCode)
	assert.Equal(t, "tok_CUS_new", sub.EmailToken)
	assert.Equal(t, "AUTH_1", sub.AuthorizationCode)
	require.NotNil(t, sub.NextBillingDate)
	assert.True(t, sub.NextBillingDate.Equal(time.Date(2026, time.April, 15, 9, 0, 0, 0, time.UTC)))

	assert.True(t, f.store.User(f.user.ID).SubscriptionActive)
	assert.Equal(t, []string{domain.RoutingKeyActivated}, f.publisher.routingKeys())

	audits := f.store.Audits()
	require.Len(t, audits, 1)
	assert.Equal(t, "api:create", audits[0].Audit.Source)
	assert.Equal(t, "create", audits[0].Action)
	assert.Equal(t, f.user.ID, audits[0].Audit.ActorID)
}

func TestCreateUsesGatewayNextPaymentDate(t *testing.T) {
	f := newFixture()
	f.gateway.Transactions["ref-1"] = successfulTxn("ref-1")
	f.gateway.CreatedSub = &paystackclient.Subscription{
		SubscriptionCode: "SUB_x",
		EmailToken:       "tok_x",
		Status:           "active",
		NextPaymentDate:  paystackclient.Timestamp("2027-03-15T00:00:00.000Z"),
	}

	sub, err := f.service().Create(context.Background(), userAudit(f.user.ID), f.user.ID, CreateRequest{PlanID: f.yearly.ID, Reference: "ref-1"})
	require.NoError(t, err)
	assert.True(t, sub.NextBillingDate.Equal(time.Date(2027, time.March, 15, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, "SUB_x", sub.SubscriptionCode)
}

func TestCreateReusesExistingCustomerCode(t *testing.T) {
	f := newFixture()
	f.gateway.Transactions["ref-1"] = successfulTxn("ref-1")
	f.store.PutSubscription(domain.Subscription{UserID: f.user.ID, CustomerCode: "CUS_old", Status: domain.StatusCancelled})

	_, err := f.service().Create(context.Background(), userAudit(f.user.ID), f.user.ID, CreateRequest{PlanID: f.monthly.ID, Reference: "ref-1"})
	require.NoError(t, err)

	assert.Equal(t, 0, f.gateway.CallCount("create_customer"))
	require.Len(t, f.gateway.CreateSubCalls, 1)
	assert.Equal(t, "CUS_old", f.gateway.CreateSubCalls[0].Customer)
	assert.Equal(t, "PLN_monthly", f.gateway.CreateSubCalls[0].Plan)
	assert.Equal(t, "AUTH_1", f.gateway.CreateSubCalls[0].Authorization)
	assert.Equal(t, []string{domain.RoutingKeyReactivated}, f.publisher.routingKeys())
}

func TestCreateRejectsInvalidInput(t *testing.T) {
	tests := []struct {
		name string
		req  CreateRequest
		want error
	}{
		{name: "missing plan", req: CreateRequest{Reference: "ref-1"}, want: ErrPlanRequired},
		{name: "missing reference", req: CreateRequest{PlanID: "plan-monthly"}, want: ErrReferenceRequired},
		{name: "blank reference", req: CreateRequest{PlanID: "plan-monthly", Reference: "   "}, want: ErrReferenceRequired},
		{name: "unknown plan", req: CreateRequest{PlanID: "plan-gold", Reference: "ref-1"}, want: ErrPlanNotFound},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture()
			_, err := f.service().Create(context.Background(), userAudit(f.user.ID), f.user.ID, tc.req)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if f.gateway.TotalCalls() != 0 {
				t.Fatalf("expected no gateway calls, got %d", f.gateway.TotalCalls())
			}
		})
	}
}

func TestCreateGatewayFailures(t *testing.T) {
	gatewayErr := &paystackclient.APIError{Op: "x", StatusCode: 500, Message: "boom"}

	tests := []struct {
		name  string
		setup func(f *fixture)
		want  error
	}{
		{
			name:  "verification fails",
			setup: func(f *fixture) { f.gateway.VerifyErr = gatewayErr },
			want:  ErrVerificationFailed,
		},
		{
			name: "customer creation fails",
			setup: func(f *fixture) {
				f.gateway.Transactions["ref-1"] = successfulTxn("ref-1")
				f.gateway.CustomerErr = gatewayErr
			},
			want: ErrCustomerCreationFailed,
		},
		{
			name: "subscription creation fails",
			setup: func(f *fixture) {
				f.gateway.Transactions["ref-1"] = successfulTxn("ref-1")
				f.gateway.CreateSubErr = gatewayErr
			},
			want: ErrSubscriptionCreationFailed,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture()
			tc.setup(f)

			_, err := f.service().Create(context.Background(), userAudit(f.user.ID), f.user.ID, CreateRequest{PlanID: f.monthly.ID, Reference: "ref-1"})
			require.ErrorIs(t, err, tc.want)
			require.ErrorIs(t, err, ErrGatewayUnavailable)

			var apiErr *paystackclient.APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Nil(t, f.store.Subscription(f.user.ID))
		})
	}
}

func TestCreateRejectsUnusableTransaction(t *testing.T) {
	f := newFixture()
	failed := successfulTxn("ref-failed")
	failed.Status = "failed"
	noAuth := successfulTxn("ref-noauth")
	noAuth.Authorization = paystackclient.Authorization{}
	f.gateway.Transactions["ref-failed"] = failed
	f.gateway.Transactions["ref-noauth"] = noAuth

	svc := f.service()
	_, err := svc.Create(context.Background(), userAudit(f.user.ID), f.user.ID, CreateRequest{PlanID: f.monthly.ID, Reference: "ref-failed"})
	require.ErrorIs(t, err, ErrTransactionNotSuccessful)

	_, err = svc.Create(context.Background(), userAudit(f.user.ID), f.user.ID, CreateRequest{PlanID: f.monthly.ID, Reference: "ref-noauth"})
	require.ErrorIs(t, err, ErrAuthorizationMissing)

	assert.Equal(t, 0, f.gateway.CallCount("create_subscription"))
}

func activeSubscription(f *fixture, mutate func(*domain.Subscription)) *domain.Subscription {
	sub := domain.Subscription{
		UserID:          f.user.ID,
		PlanID:          strPtr(f.monthly.ID),
		Status:          domain.StatusActive,
		NextBillingDate: timePtr(fixedNow.AddDate(0, 0, 20)),
	}
	if mutate != nil {
		mutate(&sub)
	}
	return f.store.PutSubscription(sub)
}

func TestCancelWithoutGatewayCodesIsLocalOnly(t *testing.T) {
	f := newFixture()
	seeded := activeSubscription(f, nil)

	res, err := f.service().Cancel(context.Background(), userAudit(f.user.ID), f.user.ID)
	require.NoError(t, err)

	assert.Equal(t, CancelModeLocalOnly, res.Mode)
	assert.True(t, res.Degraded)
	assert.NotEmpty(t, res.Warning)
	assert.Equal(t, 0, f.gateway.TotalCalls())

	stored := f.store.Subscription(f.user.ID)
	assert.Equal(t, domain.StatusCancelled, stored.Status)
	assert.True(t, stored.NextBillingDate.Equal(*seeded.NextBillingDate), "cancel keeps the paid-through date")
	assert.True(t, f.store.User(f.user.ID).SubscriptionActive, "access continues until the paid period ends")
	assert.Equal(t, []string{domain.RoutingKeyCancelled}, f.publisher.routingKeys())
}

func TestCancelDisablesOnGateway(t *testing.T) {
	f := newFixture()
	activeSubscription(f, func(s *domain.Subscription) {
		s.CustomerCode = "CUS_1"
		s.SubscriptionCode = "SUB_1"
		s.EmailToken = "tok_1"
	})

	res, err := f.service().Cancel(context.Background(), userAudit(f.user.ID), f.user.ID)
	require.NoError(t, err)

	assert.Equal(t, CancelModeGateway, res.Mode)
	assert.False(t, res.Degraded)
	assert.Empty(t, res.Warning)
	assert.Equal(t, []string{"SUB_1"}, f.gateway.Disabled)
	assert.Equal(t, 0, f.gateway.CallCount("list_subscriptions"))
	assert.Equal(t, domain.StatusCancelled, res.Subscription.Status)
}

func TestCancelLooksUpMissingToken(t *testing.T) {
	f := newFixture()
	activeSubscription(f, func(s *domain.Subscription) { s.CustomerCode = "CUS_1" })
	f.gateway.SubscriptionPages = []paystackclient.SubscriptionPage{{
		Subscriptions: []paystackclient.Subscription{
			{SubscriptionCode: "SUB_old", EmailToken: "tok_old", Status: "cancelled", Customer: paystackclient.Customer{CustomerCode: "CUS_1"}, Plan: paystackclient.Plan{PlanCode: "PLN_monthly"}},
			{SubscriptionCode: "SUB_live", EmailToken: "tok_live", Status: "active", Customer: paystackclient.Customer{CustomerCode: "CUS_1"}, Plan: paystackclient.Plan{PlanCode: "PLN_monthly"}},
		},
	}}

	res, err := f.service().Cancel(context.Background(), userAudit(f.user.ID), f.user.ID)
	require.NoError(t, err)

	assert.Equal(t, CancelModeGateway, res.Mode)
	assert.Equal(t, []string{"SUB_live"}, f.gateway.Disabled)
	stored := f.store.Subscription(f.user.ID)
	assert.Equal(t, "SUB_live", stored.SubscriptionCode)
	assert.Equal(t, "tok_live", stored.EmailToken)
}

func TestCancelWithoutMatchingGatewaySubscriptionIsLocalOnly(t *testing.T) {
	f := newFixture()
	activeSubscription(f, func(s *domain.Subscription) { s.CustomerCode = "CUS_1" })
	f.gateway.SubscriptionPages = []paystackclient.SubscriptionPage{{
		Subscriptions: []paystackclient.Subscription{
			{SubscriptionCode: "SUB_other", EmailToken: "tok", Status: "active", Customer: paystackclient.Customer{CustomerCode: "CUS_1"}, Plan: paystackclient.Plan{PlanCode: "PLN_yearly"}},
		},
	}}

	res, err := f.service().Cancel(context.Background(), userAudit(f.user.ID), f.user.ID)
	require.NoError(t, err)
	assert.Equal(t, CancelModeLocalOnly, res.Mode)
	assert.Empty(t, f.gateway.Disabled)
}

func TestCancelListingFailureIsUnverified(t *testing.T) {
	f := newFixture()
	activeSubscription(f, func(s *domain.Subscription) { s.CustomerCode = "CUS_1" })
	f.gateway.ListSubsErr = errors.New("connection reset")

	res, err := f.service().Cancel(context.Background(), userAudit(f.user.ID), f.user.ID)
	require.NoError(t, err)

	assert.Equal(t, CancelModeLocalUnverified, res.Mode)
	assert.Equal(t, "Could not cancel on Paystack - please verify manually", res.Warning)
	assert.Equal(t, domain.StatusCancelled, f.store.Subscription(f.user.ID).Status)
}

func TestCancelDisableFailureLeavesRecordActive(t *testing.T) {
	f := newFixture()
	activeSubscription(f, func(s *domain.Subscription) {
		s.SubscriptionCode = "SUB_1"
		s.EmailToken = "tok_1"
	})
	f.gateway.DisableErr = &paystackclient.APIError{Op: "disable_subscription", StatusCode: 400, Message: "Subscription with code not found or already inactive"}

	_, err := f.service().Cancel(context.Background(), userAudit(f.user.ID), f.user.ID)
	require.ErrorIs(t, err, ErrCancellationFailed)
	assert.Equal(t, domain.StatusActive, f.store.Subscription(f.user.ID).Status)
	assert.Empty(t, f.store.Audits())
}

func TestCancelWithCodeButNoTokenAlwaysCallsGateway(t *testing.T) {
	withCode := func(s *domain.Subscription) {
		s.CustomerCode = "CUS_1"
		s.SubscriptionCode = "SUB_1"
	}

	t.Run("token found", func(t *testing.T) {
		f := newFixture()
		activeSubscription(f, withCode)
		f.gateway.SubscriptionPages = []paystackclient.SubscriptionPage{{
			Subscriptions: []paystackclient.Subscription{
				{SubscriptionCode: "SUB_1", EmailToken: "tok_found", Status: "active", Customer: paystackclient.Customer{CustomerCode: "CUS_1"}},
			},
		}}

		res, err := f.service().Cancel(context.Background(), userAudit(f.user.ID), f.user.ID)
		require.NoError(t, err)
		assert.Equal(t, CancelModeGateway, res.Mode)
		assert.Equal(t, []string{"SUB_1"}, f.gateway.Disabled)
		assert.Equal(t, "tok_found", f.store.Subscription(f.user.ID).EmailToken)
	})

	t.Run("listing fails", func(t *testing.T) {
		f := newFixture()
		activeSubscription(f, withCode)
		f.gateway.ListSubsErr = errors.New("connection reset")

		res, err := f.service().Cancel(context.Background(), userAudit(f.user.ID), f.user.ID)
		require.NoError(t, err)
		assert.Equal(t, CancelModeGateway, res.Mode)
		assert.False(t, res.Degraded)
		assert.Equal(t, []string{"SUB_1"}, f.gateway.Disabled)
		assert.Equal(t, domain.StatusCancelled, f.store.Subscription(f.user.ID).Status)
	})

	t.Run("no customer code", func(t *testing.T) {
		f := newFixture()
		activeSubscription(f, func(s *domain.Subscription) { s.SubscriptionCode = "SUB_1" })

		res, err := f.service().Cancel(context.Background(), userAudit(f.user.ID), f.user.ID)
		require.NoError(t, err)
		assert.Equal(t, CancelModeGateway, res.Mode)
		assert.Equal(t, []string{"SUB_1"}, f.gateway.Disabled)
	})

	t.Run("listing and disable fail", func(t *testing.T) {
		f := newFixture()
		activeSubscription(f, withCode)
		f.gateway.ListSubsErr = errors.New("connection reset")
		f.gateway.DisableErr = errors.New("connection reset")

		_, err := f.service().Cancel(context.Background(), userAudit(f.user.ID), f.user.ID)
		require.ErrorIs(t, err, ErrCancellationFailed)
		assert.Equal(t, domain.StatusActive, f.store.Subscription(f.user.ID).Status)
		assert.Empty(t, f.store.Audits())
		assert.Empty(t, f.publisher.routingKeys())
	})
}

func TestCancelRequiresActiveSubscription(t *testing.T) {
	f := newFixture()
	svc := f.service()

	_, err := svc.Cancel(context.Background(), userAudit(f.user.ID), f.user.ID)
	if !errors.Is(err, ErrNoActiveSubscription) {
		t.Fatalf("expected ErrNoActiveSubscription without a record, got %v", err)
	}

	activeSubscription(f, func(s *domain.Subscription) { s.Status = domain.StatusCancelled })
	_, err = svc.Cancel(context.Background(), userAudit(f.user.ID), f.user.ID)
	if !errors.Is(err, ErrNoActiveSubscription) {
		t.Fatalf("expected ErrNoActiveSubscription for a cancelled record, got %v", err)
	}
}

func TestReactivateRestartsLapsedSubscription(t *testing.T) {
	f := newFixture()
	activeSubscription(f, func(s *domain.Subscription) {
		s.Status = domain.StatusCancelled
		s.SubscriptionCode = "SUB_1"
		s.EmailToken = "tok_1"
		s.NextBillingDate = timePtr(fixedNow.AddDate(0, 0, -3))
	})

	sub, err := f.service().Reactivate(context.Background(), userAudit(f.user.ID), f.user.ID)
	require.NoError(t, err)

	assert.Equal(t, domain.StatusActive, sub.Status)
	assert.True(t, sub.NextBillingDate.Equal(fixedNow.AddDate(0, 1, 0)))
	assert.Equal(t, []string{"SUB_1"}, f.gateway.Enabled)
	assert.True(t, f.store.User(f.user.ID).SubscriptionActive)
	assert.Equal(t, []string{domain.RoutingKeyReactivated}, f.publisher.routingKeys())
}

func TestReactivateKeepsFuturePaidThroughDate(t *testing.T) {
	f := newFixture()
	seeded := activeSubscription(f, func(s *domain.Subscription) {
		s.Status = domain.StatusPastDue
		s.SubscriptionCode = "SUB_1"
	})

	sub, err := f.service().Reactivate(context.Background(), userAudit(f.user.ID), f.user.ID)
	require.NoError(t, err)
	assert.True(t, sub.NextBillingDate.Equal(*seeded.NextBillingDate))
}

func TestReactivateErrors(t *testing.T) {
	tests := []struct {
		name  string
		setup func(f *fixture)
		want  error
	}{
		{name: "no record", setup: func(f *fixture) {}, want: ErrSubscriptionNotFound},
		{
			name:  "already active",
			setup: func(f *fixture) { activeSubscription(f, func(s *domain.Subscription) { s.SubscriptionCode = "SUB_1" }) },
			want:  ErrNotReactivatable,
		},
		{
			name:  "paused",
			setup: func(f *fixture) { activeSubscription(f, func(s *domain.Subscription) { s.Status = domain.StatusPaused }) },
			want:  ErrNotReactivatable,
		},
		{
			name:  "no gateway code",
			setup: func(f *fixture) { activeSubscription(f, func(s *domain.Subscription) { s.Status = domain.StatusCancelled }) },
			want:  ErrSubscriptionCodeMissing,
		},
		{
			name: "gateway refuses",
			setup: func(f *fixture) {
				activeSubscription(f, func(s *domain.Subscription) {
					s.Status = domain.StatusCancelled
					s.SubscriptionCode = "SUB_1"
				})
				f.gateway.EnableErr = errors.New("timeout")
			},
			want: ErrReactivationFailed,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture()
			tc.setup(f)
			_, err := f.service().Reactivate(context.Background(), userAudit(f.user.ID), f.user.ID)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if len(f.store.Audits()) != 0 {
				t.Fatalf("expected no writes, got %d audit rows", len(f.store.Audits()))
			}
		})
	}
}

func TestStatusWithoutSubscription(t *testing.T) {
	f := newFixture()
	view, err := f.service().Status(context.Background(), f.user.ID)
	require.NoError(t, err)
	assert.False(t, view.HasSubscription)
	assert.Equal(t, "inactive", view.Status)
	assert.False(t, view.IsActive)
}

func TestStatusDerivesReadSideState(t *testing.T) {
	f := newFixture()
	activeSubscription(f, func(s *domain.Subscription) {
		s.SubscriptionCode = "SUB_1"
		s.NextBillingDate = timePtr(fixedNow.Add(-2 * time.Hour))
	})

	view, err := f.service().Status(context.Background(), f.user.ID)
	require.NoError(t, err)

	assert.True(t, view.HasSubscription)
	assert.Equal(t, "active", view.Status)
	assert.True(t, view.IsActive)
	assert.True(t, view.IsExpired)
	assert.True(t, view.GracePeriodActive)
	assert.Equal(t, 0, view.DaysUntilExpiry)
	assert.True(t, view.CanCancel)
	assert.False(t, view.CanReactivate)
	require.NotNil(t, view.Plan)
	assert.Equal(t, "PLN_monthly", view.Plan.PlanCode)
	assert.Equal(t, "5000", view.Plan.AmountMajor.String())
}

func TestListPlans(t *testing.T) {
	f := newFixture()
	plans, err := f.service().ListPlans(context.Background())
	require.NoError(t, err)
	require.Len(t, plans, 2)
	codes := []string{plans[0].PlanCode, plans[1].PlanCode}
	assert.ElementsMatch(t, []string{"PLN_monthly", "PLN_yearly"}, codes)
}

func TestHistoryClampsLimit(t *testing.T) {
	f := newFixture()
	for i := 0; i < 60; i++ {
		require.NoError(t, f.store.AppendHistory(context.Background(), []domain.HistoryEntry{{
			UserID:           f.user.ID,
			SubscriptionCode: "SUB_1",
			Status:           domain.GatewayActive,
			RecordedAt:       fixedNow.Add(time.Duration(i) * time.Minute),
		}}))
	}

	entries, err := f.service().History(context.Background(), f.user.ID, 0)
	require.NoError(t, err)
	assert.Len(t, entries, 50)
	assert.True(t, entries[0].RecordedAt.After(entries[1].RecordedAt))

	empty, err := f.service().History(context.Background(), "user-unknown", 10)
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}
