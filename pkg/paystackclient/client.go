/**
 * @description
 * This package provides a client for the Paystack REST API. It covers the calls the
 * subscription core needs: verifying transactions, creating customers and
 * subscriptions, listing subscriptions and transactions, and enabling or disabling
 * subscriptions.
 *
 * @notes
 * - The client never retries. Callers decide how to recover from failures.
 * - Business status is not interpreted here; a transaction with status "failed" is
 *   returned as a value, not as an error.
 */
package paystackclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultBaseURL is the production Paystack API.
const DefaultBaseURL = "https://api.paystack.co"

// CallObserver is notified after every API call. statusCode is 0 when no response was received.
type CallObserver func(op string, statusCode int, err error, elapsed time.Duration)

// Client is a client for the Paystack API.
type Client struct {
	BaseURL    string
	SecretKey  string
	HTTPClient *http.Client
	Observe    CallObserver
}

// NewClient creates a new Paystack API client.
func NewClient(baseURL, secretKey string, timeout time.Duration) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		BaseURL:   strings.TrimSuffix(baseURL, "/"),
		SecretKey: secretKey,
		HTTPClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// VerifyTransaction fetches the outcome of a charge by its reference.
func (c *Client) VerifyTransaction(ctx context.Context, reference string) (*Transaction, error) {
	var txn Transaction
	path := "/transaction/verify/" + url.PathEscape(reference)
	if _, err := c.do(ctx, "verify_transaction", http.MethodGet, path, nil, &txn); err != nil {
		return nil, err
	}
	return &txn, nil
}

// CreateCustomer registers a payer and returns the new customer.
func (c *Client) CreateCustomer(ctx context.Context, req CreateCustomerRequest) (*Customer, error) {
	var cust Customer
	if _, err := c.do(ctx, "create_customer", http.MethodPost, "/customer", req, &cust); err != nil {
		return nil, err
	}
	if cust.CustomerCode == "" {
		return nil, &DecodeError{Op: "create_customer", StatusCode: http.StatusOK, Err: errors.New("customer_code missing")}
	}
	return &cust, nil
}

// CreateSubscription starts a recurring subscription for a customer on a plan.
func (c *Client) CreateSubscription(ctx context.Context, req CreateSubscriptionRequest) (*Subscription, error) {
	var sub Subscription
	if _, err := c.do(ctx, "create_subscription", http.MethodPost, "/subscription", req, &sub); err != nil {
		return nil, err
	}
	if sub.SubscriptionCode == "" {
		return nil, &DecodeError{Op: "create_subscription", StatusCode: http.StatusOK, Err: errors.New("subscription_code missing")}
	}
	return &sub, nil
}

// ListSubscriptions returns one page of subscriptions, optionally filtered by customer.
func (c *Client) ListSubscriptions(ctx context.Context, params ListSubscriptionsParams) (*SubscriptionPage, error) {
	q := url.Values{}
	if params.Customer != "" {
		q.Set("customer", params.Customer)
	}
	if params.PerPage > 0 {
		q.Set("perPage", strconv.Itoa(params.PerPage))
	}
	if params.Page > 0 {
		q.Set("page", strconv.Itoa(params.Page))
	}
	path := "/subscription"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var subs []Subscription
	meta, err := c.do(ctx, "list_subscriptions", http.MethodGet, path, nil, &subs)
	if err != nil {
		return nil, err
	}
	page := &SubscriptionPage{Subscriptions: subs}
	if meta != nil {
		page.Meta = *meta
	}
	return page, nil
}

// ListSuccessfulTransactions returns the most recent successful charges.
func (c *Client) ListSuccessfulTransactions(ctx context.Context, perPage int) ([]Transaction, error) {
	q := url.Values{}
	q.Set("status", "success")
	if perPage > 0 {
		q.Set("perPage", strconv.Itoa(perPage))
	}

	var txns []Transaction
	if _, err := c.do(ctx, "list_transactions", http.MethodGet, "/transaction?"+q.Encode(), nil, &txns); err != nil {
		return nil, err
	}
	return txns, nil
}

// DisableSubscription stops future charges on a subscription.
func (c *Client) DisableSubscription(ctx context.Context, code, emailToken string) error {
	_, err := c.do(ctx, "disable_subscription", http.MethodPost, "/subscription/disable", toggleSubscriptionRequest{Code: code, Token: emailToken}, nil)
	return err
}

// EnableSubscription resumes a disabled subscription.
func (c *Client) EnableSubscription(ctx context.Context, code, emailToken string) error {
	_, err := c.do(ctx, "enable_subscription", http.MethodPost, "/subscription/enable", toggleSubscriptionRequest{Code: code, Token: emailToken}, nil)
	return err
}

// do executes one request and decodes the envelope's data into out when out is non-nil.
func (c *Client) do(ctx context.Context, op, method, path string, payload, out interface{}) (meta *Meta, err error) {
	started := time.Now()
	statusCode := 0
	defer func() {
		if c.Observe != nil {
			c.Observe(op, statusCode, err, time.Since(started))
		}
	}()

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s request: %w", op, err)
		}
		body = bytes.NewBuffer(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.SecretKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute %s request: %w", op, err)
	}
	defer resp.Body.Close()
	statusCode = resp.StatusCode

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s response: %w", op, err)
	}

	var env envelope
	decodeErr := json.Unmarshal(bodyBytes, &env)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := env.Message
		if decodeErr != nil {
			log.Printf("level=warn component=paystack_client op=%s status=%d msg=\"non-2xx response (unparsable error body)\"", op, resp.StatusCode)
		} else {
			log.Printf("level=warn component=paystack_client op=%s status=%d message=%q", op, resp.StatusCode, msg)
		}
		return nil, &APIError{Op: op, StatusCode: resp.StatusCode, Message: msg}
	}
	if decodeErr != nil {
		return nil, &DecodeError{Op: op, StatusCode: resp.StatusCode, Err: decodeErr}
	}
	if !env.Status {
		return nil, &APIError{Op: op, StatusCode: resp.StatusCode, Message: env.Message}
	}

	if out != nil {
		if len(env.Data) == 0 || bytes.Equal(env.Data, []byte("null")) {
			return nil, &DecodeError{Op: op, StatusCode: resp.StatusCode, Err: errors.New("response data missing")}
		}
		if err := json.Unmarshal(env.Data, out); err != nil {
			return nil, &DecodeError{Op: op, StatusCode: resp.StatusCode, Err: err}
		}
	}
	return env.Meta, nil
}
