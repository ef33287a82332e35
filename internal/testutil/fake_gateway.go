package testutil

import (
	"context"
	"sync"

	"github.com/Allforms/estatepadi/pkg/paystackclient"
)

// FakeGateway is a scripted Paystack stand-in. Each operation returns the
// configured value or error and records that it was called.
type FakeGateway struct {
	mu sync.Mutex

	Transactions    map[string]*paystackclient.Transaction
	VerifyErr       error
	Customer        *paystackclient.Customer
	CustomerErr     error
	CreatedSub      *paystackclient.Subscription
	CreateSubErr    error
	CreateSubErrFor map[string]error // keyed by customer code
	// SubscriptionPages are returned in order by ListSubscriptions; a customer
	// filter narrows the first page to that customer's subscriptions.
	SubscriptionPages []paystackclient.SubscriptionPage
	ListSubsErr       error
	SuccessfulTxns    []paystackclient.Transaction
	ListTxnsErr       error
	DisableErr        error
	EnableErr         error

	Calls          map[string]int
	CreateSubCalls []paystackclient.CreateSubscriptionRequest
	Disabled       []string
	Enabled        []string
}

func NewFakeGateway() *FakeGateway {
	return &FakeGateway{
		Transactions:    map[string]*paystackclient.Transaction{},
		CreateSubErrFor: map[string]error{},
		Calls:           map[string]int{},
	}
}

func (g *FakeGateway) record(op string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Calls[op]++
}

// CallCount returns how often op was called.
func (g *FakeGateway) CallCount(op string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.Calls[op]
}

// TotalCalls returns the number of calls across all operations.
func (g *FakeGateway) TotalCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	total := 0
	for _, n := range g.Calls {
		total += n
	}
	return total
}

func (g *FakeGateway) VerifyTransaction(ctx context.Context, reference string) (*paystackclient.Transaction, error) {
	g.record("verify_transaction")
	if g.VerifyErr != nil {
		return nil, g.VerifyErr
	}
	txn, ok := g.Transactions[reference]
	if !ok {
		return nil, &paystackclient.APIError{Op: "verify_transaction", StatusCode: 404, Message: "Transaction reference not found"}
	}
	c := *txn
	return &c, nil
}

func (g *FakeGateway) CreateCustomer(ctx context.Context, req paystackclient.CreateCustomerRequest) (*paystackclient.Customer, error) {
	g.record("create_customer")
	if g.CustomerErr != nil {
		return nil, g.CustomerErr
	}
	if g.Customer != nil {
		c := *g.Customer
		return &c, nil
	}
	return &paystackclient.Customer{CustomerCode: "CUS_new", Email: req.Email}, nil
}

func (g *FakeGateway) CreateSubscription(ctx context.Context, req paystackclient.CreateSubscriptionRequest) (*paystackclient.Subscription, error) {
	g.record("create_subscription")
	g.mu.Lock()
	g.CreateSubCalls = append(g.CreateSubCalls, req)
	g.mu.Unlock()
	if err := g.CreateSubErrFor[req.Customer]; err != nil {
		return nil, err
	}
	if g.CreateSubErr != nil {
		return nil, g.CreateSubErr
	}
	if g.CreatedSub != nil {
		c := *g.CreatedSub
		return &c, nil
	}
	return &paystackclient.Subscription{SubscriptionCode: "SUB_" + req.Customer, EmailToken: "tok_" + req.Customer, Status: "active"}, nil
}

func (g *FakeGateway) ListSubscriptions(ctx context.Context, params paystackclient.ListSubscriptionsParams) (*paystackclient.SubscriptionPage, error) {
	g.record("list_subscriptions")
	if g.ListSubsErr != nil {
		return nil, g.ListSubsErr
	}
	page := params.Page
	if page <= 0 {
		page = 1
	}
	if page > len(g.SubscriptionPages) {
		return &paystackclient.SubscriptionPage{Meta: paystackclient.Meta{Page: page, PageCount: len(g.SubscriptionPages)}}, nil
	}
	p := g.SubscriptionPages[page-1]
	out := paystackclient.SubscriptionPage{Meta: p.Meta}
	if out.Meta.PageCount == 0 {
		out.Meta.PageCount = len(g.SubscriptionPages)
		out.Meta.Page = page
	}
	for _, s := range p.Subscriptions {
		if params.Customer == "" || s.Customer.CustomerCode == params.Customer {
			out.Subscriptions = append(out.Subscriptions, s)
		}
	}
	return &out, nil
}

func (g *FakeGateway) ListSuccessfulTransactions(ctx context.Context, perPage int) ([]paystackclient.Transaction, error) {
	g.record("list_transactions")
	if g.ListTxnsErr != nil {
		return nil, g.ListTxnsErr
	}
	return append([]paystackclient.Transaction(nil), g.SuccessfulTxns...), nil
}

func (g *FakeGateway) DisableSubscription(ctx context.Context, code, emailToken string) error {
	g.record("disable_subscription")
	if g.DisableErr != nil {
		return g.DisableErr
	}
	g.mu.Lock()
	g.Disabled = append(g.Disabled, code)
	g.mu.Unlock()
	return nil
}

func (g *FakeGateway) EnableSubscription(ctx context.Context, code, emailToken string) error {
	g.record("enable_subscription")
	if g.EnableErr != nil {
		return g.EnableErr
	}
	g.mu.Lock()
	g.Enabled = append(g.Enabled, code)
	g.mu.Unlock()
	return nil
}
