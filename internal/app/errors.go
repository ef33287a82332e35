package app

import (
	"errors"
	"fmt"
)

// ErrGatewayUnavailable wraps every failure of a gateway call made on behalf of a user.
var ErrGatewayUnavailable = errors.New("payment gateway unavailable")

var (
	ErrVerificationFailed         = fmt.Errorf("%w: transaction verification failed", ErrGatewayUnavailable)
	ErrCustomerCreationFailed     = fmt.Errorf("%w: customer creation failed", ErrGatewayUnavailable)
	ErrSubscriptionCreationFailed = fmt.Errorf("%w: subscription creation failed", ErrGatewayUnavailable)
	ErrCancellationFailed         = fmt.Errorf("%w: subscription cancellation failed", ErrGatewayUnavailable)
	ErrReactivationFailed         = fmt.Errorf("%w: subscription reactivation failed", ErrGatewayUnavailable)
)

var (
	ErrPlanRequired             = errors.New("plan_id is required")
	ErrReferenceRequired        = errors.New("reference is required")
	ErrPlanNotFound             = errors.New("plan not found")
	ErrUserNotFound             = errors.New("user not found")
	ErrSubscriptionNotFound     = errors.New("subscription not found")
	ErrTransactionNotSuccessful = errors.New("transaction was not successful")
	ErrAuthorizationMissing     = errors.New("authorization code missing from verified transaction")
	ErrNoActiveSubscription     = errors.New("no active subscription found")
	ErrNotReactivatable         = errors.New("only cancelled or past due subscriptions can be reactivated")
	ErrSubscriptionCodeMissing  = errors.New("subscription has no gateway subscription code; create a new subscription instead")
	ErrReconcileInProgress      = errors.New("reconciliation already in progress")
)

// gatewayFailure attaches the gateway cause to one of the sentinel failures above.
func gatewayFailure(kind error, cause error) error {
	return fmt.Errorf("%w: %w", kind, cause)
}
