package paystackclient

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// envelope is the wrapper Paystack puts around every response body.
type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Meta    *Meta           `json:"meta,omitempty"`
}

// Meta carries pagination details for list endpoints.
type Meta struct {
	Total     int `json:"total"`
	Skipped   int `json:"skipped"`
	PerPage   int `json:"perPage"`
	Page      int `json:"page"`
	PageCount int `json:"pageCount"`
}

// Timestamp is a gateway timestamp kept in its raw form. Paystack mostly sends
// ISO-8601 strings but some payloads carry unix seconds, so both are accepted.
type Timestamp string

// UnmarshalJSON accepts a string, a number, or null.
func (t *Timestamp) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*t = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*t = Timestamp(s)
		return nil
	}
	n, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return fmt.Errorf("timestamp: unsupported value %s", b)
	}
	*t = Timestamp(strconv.FormatInt(int64(n), 10))
	return nil
}

func (t Timestamp) String() string { return string(t) }

// Customer is a Paystack customer.
type Customer struct {
	ID           int64  `json:"id"`
	CustomerCode string `json:"customer_code"`
	Email        string `json:"email"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	Phone        string `json:"phone"`
}

// UnmarshalJSON accepts an object, a bare customer id, or null. Create and list
// endpoints send the id only.
func (c *Customer) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	*c = Customer{}
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	if b[0] == '{' {
		type plain Customer
		var v plain
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*c = Customer(v)
		return nil
	}
	id, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return fmt.Errorf("customer: unsupported value %s", b)
	}
	c.ID = id
	return nil
}

// Authorization is a reusable card authorization.
type Authorization struct {
	AuthorizationCode string `json:"authorization_code"`
	Reusable          bool   `json:"reusable"`
	Channel           string `json:"channel"`
	Last4             string `json:"last4"`
}

// UnmarshalJSON accepts an object, or a bare id or null that carry nothing usable.
func (a *Authorization) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	*a = Authorization{}
	if len(b) == 0 || b[0] != '{' {
		if len(b) > 0 && !bytes.Equal(b, []byte("null")) {
			if _, err := strconv.ParseInt(string(b), 10, 64); err != nil {
				return fmt.Errorf("authorization: unsupported value %s", b)
			}
		}
		return nil
	}
	type plain Authorization
	var v plain
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*a = Authorization(v)
	return nil
}

// Plan is the plan attached to a transaction or subscription. Paystack sends a full
// object, an empty object, a bare plan id, or null depending on the endpoint, so
// Plan only ever carries what could be decoded.
type Plan struct {
	ID       int64  `json:"id"`
	PlanCode string `json:"plan_code"`
	Name     string `json:"name"`
	Interval string `json:"interval"`
	Amount   int64  `json:"amount"`
}

// UnmarshalJSON accepts an object, a number, a string, or null.
func (p *Plan) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	*p = Plan{}
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	switch b[0] {
	case '{':
		type plain Plan
		var v plain
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*p = Plan(v)
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		p.PlanCode = s
	default:
		id, err := strconv.ParseInt(string(b), 10, 64)
		if err != nil {
			return fmt.Errorf("plan: unsupported value %s", b)
		}
		p.ID = id
	}
	return nil
}

// HasCode reports whether plan data with a plan code was present.
func (p Plan) HasCode() bool { return p.PlanCode != "" }

// Transaction is a charge as returned by verify and list endpoints.
type Transaction struct {
	ID            int64         `json:"id"`
	Reference     string        `json:"reference"`
	Status        string        `json:"status"`
	Amount        int64         `json:"amount"`
	PaidAt        Timestamp     `json:"paid_at"`
	CreatedAt     Timestamp     `json:"created_at"`
	Customer      Customer      `json:"customer"`
	Authorization Authorization `json:"authorization"`
	Plan          Plan          `json:"plan"`
}

// Successful reports whether the gateway marked the charge successful.
func (t *Transaction) Successful() bool { return t.Status == "success" }

// Subscription is a Paystack recurring billing agreement.
type Subscription struct {
	ID               int64         `json:"id"`
	SubscriptionCode string        `json:"subscription_code"`
	EmailToken       string        `json:"email_token"`
	Status           string        `json:"status"`
	NextPaymentDate  Timestamp     `json:"next_payment_date"`
	CreatedAt        Timestamp     `json:"createdAt"`
	Customer         Customer      `json:"customer"`
	Plan             Plan          `json:"plan"`
	Authorization    Authorization `json:"authorization"`
}

// SubscriptionPage is one page of a subscription listing.
type SubscriptionPage struct {
	Subscriptions []Subscription
	Meta          Meta
}

// CreateCustomerRequest is the body of POST /customer.
type CreateCustomerRequest struct {
	Email     string `json:"email"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Phone     string `json:"phone,omitempty"`
}

// CreateSubscriptionRequest is the body of POST /subscription.
type CreateSubscriptionRequest struct {
	Customer      string `json:"customer"`
	Plan          string `json:"plan"`
	Authorization string `json:"authorization,omitempty"`
}

type toggleSubscriptionRequest struct {
	Code  string `json:"code"`
	Token string `json:"token"`
}

// ListSubscriptionsParams filters GET /subscription. Customer may be empty to list all.
type ListSubscriptionsParams struct {
	Customer string
	Page     int
	PerPage  int
}
