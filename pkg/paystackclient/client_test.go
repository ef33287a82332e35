package paystackclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "sk_test_secret", 5*time.Second)
}

func TestVerifyTransaction(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/transaction/verify/txn_ref_ok", r.URL.Path)
		assert.Equal(t, "Bearer sk_test_secret", r.Header.Get("Authorization"))
		io.WriteString(w, `{"status":true,"message":"Verification successful","data":{
			"reference":"txn_ref_ok","status":"success","amount":100000,
			"paid_at":"2025-06-01T12:00:00.000Z",
			"customer":{"email":"a@x.com","customer_code":"CUS_1"},
			"authorization":{"authorization_code":"AUTH_1","reusable":true},
			"plan":{"plan_code":"PLN_1","interval":"monthly"}}}`)
	})

	txn, err := client.VerifyTransaction(context.Background(), "txn_ref_ok")
	require.NoError(t, err)
	assert.True(t, txn.Successful())
	assert.Equal(t, "AUTH_1", txn.Authorization.AuthorizationCode)
	assert.Equal(t, "a@x.com", txn.Customer.Email)
	assert.Equal(t, "CUS_1", txn.Customer.CustomerCode)
	assert.Equal(t, "PLN_1", txn.Plan.PlanCode)
	assert.Equal(t, Timestamp("2025-06-01T12:00:00.000Z"), txn.PaidAt)
}

func TestVerifyTransactionFailedChargeIsNotAnError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"status":true,"message":"ok","data":{"reference":"r","status":"failed","plan":{}}}`)
	})

	txn, err := client.VerifyTransaction(context.Background(), "r")
	require.NoError(t, err)
	assert.False(t, txn.Successful())
	assert.False(t, txn.Plan.HasCode())
}

func TestNon2xxReturnsAPIError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"status":false,"message":"Transaction reference not found"}`)
	})

	_, err := client.VerifyTransaction(context.Background(), "missing")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "verify_transaction", apiErr.Op)
	assert.Equal(t, "Transaction reference not found", apiErr.Message)
}

func TestFalseEnvelopeReturnsAPIError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"status":false,"message":"Subscription not active"}`)
	})

	err := client.DisableSubscription(context.Background(), "SUB_1", "tok")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusOK, apiErr.StatusCode)
}

func TestMalformedBodyReturnsDecodeError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `<html>gateway timeout</html>`)
	})

	_, err := client.VerifyTransaction(context.Background(), "r")
	var decErr *DecodeError
	require.True(t, errors.As(err, &decErr))
}

func TestCreateCustomerRequiresCustomerCode(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body CreateCustomerRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "a@x.com", body.Email)
		io.WriteString(w, `{"status":true,"message":"ok","data":{"email":"a@x.com"}}`)
	})

	_, err := client.CreateCustomer(context.Background(), CreateCustomerRequest{Email: "a@x.com"})
	var decErr *DecodeError
	require.True(t, errors.As(err, &decErr))
}

func TestCreateSubscription(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/subscription", r.URL.Path)
		var body CreateSubscriptionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, CreateSubscriptionRequest{Customer: "CUS_1", Plan: "PLN_1", Authorization: "AUTH_1"}, body)
		io.WriteString(w, `{"status":true,"message":"ok","data":{"subscription_code":"SUB_1","email_token":"tok","status":"active","next_payment_date":"2025-07-01T00:00:00Z","plan":42,"customer":1173}}`)
	})

	sub, err := client.CreateSubscription(context.Background(), CreateSubscriptionRequest{Customer: "CUS_1", Plan: "PLN_1", Authorization: "AUTH_1"})
	require.NoError(t, err)
	assert.Equal(t, "SUB_1", sub.SubscriptionCode)
	assert.Equal(t, "tok", sub.EmailToken)
	assert.Equal(t, int64(42), sub.Plan.ID)
	assert.Equal(t, int64(1173), sub.Customer.ID)
}

func TestCreateSubscriptionDocumentedResponse(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"status":true,"message":"Subscription successfully created","data":{
			"customer":1173,"plan":28,"integration":100032,"domain":"test","start":1459296064,
			"status":"active","quantity":1,"amount":50000,
			"authorization":{"authorization_code":"AUTH_6tmt288t0o","reusable":true,"channel":"card","last4":"4081"},
			"invoice_limit":0,"subscription_code":"SUB_vsyqdmlzble3uii","email_token":"d7gofp6yppn3qz7",
			"id":9,"createdAt":"2016-03-30T00:01:04.687Z","updatedAt":"2016-03-30T00:01:04.687Z",
			"cron_expression":"0 0 28 * *","next_payment_date":"2016-04-28T07:00:00.000Z"}}`)
	})

	sub, err := client.CreateSubscription(context.Background(), CreateSubscriptionRequest{Customer: "CUS_1", Plan: "PLN_1"})
	require.NoError(t, err)
	assert.Equal(t, "SUB_vsyqdmlzble3uii", sub.SubscriptionCode)
	assert.Equal(t, "d7gofp6yppn3qz7", sub.EmailToken)
	assert.Equal(t, int64(1173), sub.Customer.ID)
	assert.Empty(t, sub.Customer.CustomerCode)
	assert.Equal(t, int64(28), sub.Plan.ID)
	assert.Equal(t, "AUTH_6tmt288t0o", sub.Authorization.AuthorizationCode)
	assert.Equal(t, Timestamp("2016-04-28T07:00:00.000Z"), sub.NextPaymentDate)
}

func TestFlexibleNestedObjects(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantID   int64
		wantCode string
		wantErr  bool
	}{
		{name: "object", body: `{"customer":{"id":5,"customer_code":"CUS_5"},"authorization":{"authorization_code":"AUTH_5"}}`, wantID: 5, wantCode: "CUS_5"},
		{name: "bare ids", body: `{"customer":7,"authorization":12}`, wantID: 7},
		{name: "nulls", body: `{"customer":null,"authorization":null}`},
		{name: "customer string", body: `{"customer":"CUS_x"}`, wantErr: true},
		{name: "authorization string", body: `{"authorization":"AUTH_x"}`, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var sub Subscription
			err := json.Unmarshal([]byte(tc.body), &sub)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected an error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if sub.Customer.ID != tc.wantID || sub.Customer.CustomerCode != tc.wantCode {
				t.Fatalf("expected customer %d/%q, got %d/%q", tc.wantID, tc.wantCode, sub.Customer.ID, sub.Customer.CustomerCode)
			}
		})
	}
}

func TestListSubscriptionsPaginationParams(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "CUS_1", r.URL.Query().Get("customer"))
		assert.Equal(t, "2", r.URL.Query().Get("page"))
		assert.Equal(t, "50", r.URL.Query().Get("perPage"))
		io.WriteString(w, `{"status":true,"message":"ok","data":[
			{"subscription_code":"SUB_1","status":"active","next_payment_date":1751328000,"customer":{"email":"a@x.com"},"plan":{"plan_code":"PLN_1"}},
			{"subscription_code":"SUB_2","status":"non-renewing","next_payment_date":null,"customer":{"email":"a@x.com"},"plan":null}
		],"meta":{"total":52,"page":2,"perPage":50,"pageCount":2}}`)
	})

	page, err := client.ListSubscriptions(context.Background(), ListSubscriptionsParams{Customer: "CUS_1", Page: 2, PerPage: 50})
	require.NoError(t, err)
	require.Len(t, page.Subscriptions, 2)
	assert.Equal(t, Timestamp("1751328000"), page.Subscriptions[0].NextPaymentDate)
	assert.Equal(t, Timestamp(""), page.Subscriptions[1].NextPaymentDate)
	assert.Equal(t, 2, page.Meta.PageCount)
}

func TestListSuccessfulTransactions(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "success", r.URL.Query().Get("status"))
		assert.Equal(t, "100", r.URL.Query().Get("perPage"))
		io.WriteString(w, `{"status":true,"message":"ok","data":[{"reference":"r1","status":"success","plan":{}}],"meta":{"total":1}}`)
	})

	txns, err := client.ListSuccessfulTransactions(context.Background(), 100)
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.Equal(t, "r1", txns[0].Reference)
}

func TestEnableSubscriptionSendsCodeAndToken(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/subscription/enable", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "SUB_1", body["code"])
		assert.Equal(t, "tok", body["token"])
		io.WriteString(w, `{"status":true,"message":"Subscription enabled successfully"}`)
	})

	require.NoError(t, client.EnableSubscription(context.Background(), "SUB_1", "tok"))
}

func TestObserverSeesEveryCall(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	var gotOp string
	var gotStatus int
	var gotErr error
	client.Observe = func(op string, statusCode int, err error, _ time.Duration) {
		gotOp, gotStatus, gotErr = op, statusCode, err
	}

	_ = client.EnableSubscription(context.Background(), "SUB_1", "tok")
	assert.Equal(t, "enable_subscription", gotOp)
	assert.Equal(t, http.StatusInternalServerError, gotStatus)
	assert.Error(t, gotErr)
}

func TestTransportErrorIsWrapped(t *testing.T) {
	client := NewClient("http://127.0.0.1:1", "sk", time.Second)
	_, err := client.VerifyTransaction(context.Background(), "r")
	require.Error(t, err)
	var apiErr *APIError
	assert.False(t, errors.As(err, &apiErr))
}
