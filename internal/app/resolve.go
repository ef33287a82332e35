package app

import (
	"context"
	"errors"
	"strings"

	"github.com/Allforms/estatepadi/internal/domain"
)

// lookupKeys are the identifiers a gateway payload may carry for a subscriber.
type lookupKeys struct {
	SubscriptionCode string
	CustomerCode     string
	Email            string
}

// resolution is the user a payload belongs to and their current record, if any.
type resolution struct {
	User         *domain.User
	Subscription *domain.Subscription
}

// resolveSubscriber finds the subscriber by subscription code, then customer code,
// then email. It returns nil, nil when nobody matches; only infrastructure errors
// are returned.
func resolveSubscriber(ctx context.Context, repo Repository, keys lookupKeys) (*resolution, error) {
	lookups := []struct {
		key  string
		find func(context.Context, string) (*domain.Subscription, error)
	}{
		{strings.TrimSpace(keys.SubscriptionCode), repo.FindSubscriptionByCode},
		{strings.TrimSpace(keys.CustomerCode), repo.FindSubscriptionByCustomerCode},
	}

	for _, l := range lookups {
		if l.key == "" {
			continue
		}
		sub, err := l.find(ctx, l.key)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		user, err := repo.FindUserByID(ctx, sub.UserID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			return nil, err
		}
		return &resolution{User: user, Subscription: sub}, nil
	}

	email := strings.TrimSpace(keys.Email)
	if email == "" {
		return nil, nil
	}
	user, err := repo.FindUserByEmail(ctx, email)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	sub, err := repo.FindSubscriptionByUserID(ctx, user.ID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	return &resolution{User: user, Subscription: sub}, nil
}
