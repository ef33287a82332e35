package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/Allforms/estatepadi/internal/domain"
	"github.com/Allforms/estatepadi/internal/testutil"
)

var fixedNow = time.Date(2026, time.March, 15, 10, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type published struct {
	Exchange   string
	RoutingKey string
	Body       domain.SubscriptionNotification
}

type recordingPublisher struct {
	mu       sync.Mutex
	err      error
	messages []published
}

func (p *recordingPublisher) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	msg, _ := body.(domain.SubscriptionNotification)
	p.messages = append(p.messages, published{Exchange: exchange, RoutingKey: routingKey, Body: msg})
	return nil
}

func (p *recordingPublisher) routingKeys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	keys := make([]string, 0, len(p.messages))
	for _, m := range p.messages {
		keys = append(keys, m.RoutingKey)
	}
	return keys
}

type stubRunLock struct {
	err      error
	acquired int
	released int
}

func (l *stubRunLock) Acquire(ctx context.Context) (func(context.Context), error) {
	if l.err != nil {
		return nil, l.err
	}
	l.acquired++
	return func(context.Context) { l.released++ }, nil
}

var errDatabaseDown = errors.New("database unavailable")

// fixture wires the core against the in-memory store and scripted gateway.
type fixture struct {
	store     *testutil.InMemorySubscriptionStore
	gateway   *testutil.FakeGateway
	publisher *recordingPublisher
	notifier  *Notifier
	metrics   *Metrics

	user    *domain.User
	monthly *domain.SubscriptionPlan
	yearly  *domain.SubscriptionPlan
}

func newFixture() *fixture {
	st := testutil.NewInMemorySubscriptionStore()
	st.Now = func() time.Time { return fixedNow }

	pub := &recordingPublisher{}
	notifier := NewNotifier(pub, "subscription_events", st, discardLogger())
	notifier.now = func() time.Time { return fixedNow }

	f := &fixture{
		store:     st,
		gateway:   testutil.NewFakeGateway(),
		publisher: pub,
		notifier:  notifier,
		metrics:   NewMetrics(),
	}
	f.user = st.AddUser(domain.User{ID: "user-1", Email: "ada@example.com", FirstName: "Ada", LastName: "Obi"})
	f.monthly = st.AddPlan(domain.SubscriptionPlan{ID: "plan-monthly", PlanCode: "PLN_monthly", Name: "Estate Monthly", Amount: 500000, Interval: domain.IntervalMonthly})
	f.yearly = st.AddPlan(domain.SubscriptionPlan{ID: "plan-yearly", PlanCode: "PLN_yearly", Name: "Estate Yearly", Amount: 5000000, Interval: domain.IntervalYearly})
	return f
}

func (f *fixture) service() *Service {
	svc := NewService(f.store, f.gateway, f.notifier, discardLogger())
	svc.now = func() time.Time { return fixedNow }
	return svc
}

func (f *fixture) processor() *WebhookProcessor {
	p := NewWebhookProcessor(f.store, f.notifier, f.metrics, discardLogger())
	p.now = func() time.Time { return fixedNow }
	return p
}

func (f *fixture) reconciler(lock RunLock) *Reconciler {
	r := NewReconciler(f.store, f.gateway, lock, f.notifier, f.metrics, discardLogger(), ReconcileOptions{})
	r.now = func() time.Time { return fixedNow }
	return r
}

func userAudit(userID string) domain.AuditContext {
	return domain.AuditContext{ActorID: userID, ActorKind: domain.ActorUser, RequestID: "req-test"}
}

func timePtr(t time.Time) *time.Time { return &t }

func strPtr(s string) *string { return &s }
