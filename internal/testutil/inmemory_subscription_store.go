package testutil

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/Allforms/estatepadi/internal/domain"
)

// AuditRecord is an audit entry captured by the in-memory store.
type AuditRecord struct {
	Audit    domain.AuditContext
	ObjectID string
	Action   string
	Changes  map[string]domain.FieldChange
}

// InMemorySubscriptionStore implements the subscription repository for tests. It
// mirrors the Postgres store: one record per user, a no-op when the mutation
// changes nothing, and the user's active flag recomputed on every write.
type InMemorySubscriptionStore struct {
	mu            sync.RWMutex
	users         map[string]*domain.User
	plans         map[string]*domain.SubscriptionPlan
	subscriptions map[string]*domain.Subscription // keyed by user id
	history       []domain.HistoryEntry
	audits        []AuditRecord
	Now           func() time.Time

	// MutateErr, when set, is returned by MutateSubscription before any change.
	MutateErr error
	// HistoryErr, when set, is returned by AppendHistory.
	HistoryErr error
}

func NewInMemorySubscriptionStore() *InMemorySubscriptionStore {
	return &InMemorySubscriptionStore{
		users:         make(map[string]*domain.User),
		plans:         make(map[string]*domain.SubscriptionPlan),
		subscriptions: make(map[string]*domain.Subscription),
		Now:           time.Now,
	}
}

// AddUser seeds a user and returns it. An empty ID is generated.
func (s *InMemorySubscriptionStore) AddUser(u domain.User) *domain.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	s.users[u.ID] = &u
	return &u
}

// AddPlan seeds a plan and returns it. An empty ID is generated.
func (s *InMemorySubscriptionStore) AddPlan(p domain.SubscriptionPlan) *domain.SubscriptionPlan {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	s.plans[p.ID] = &p
	return &p
}

// PutSubscription seeds a record directly, bypassing mutation rules.
func (s *InMemorySubscriptionStore) PutSubscription(sub domain.Subscription) *domain.Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = s.Now()
		sub.UpdatedAt = sub.CreatedAt
	}
	s.subscriptions[sub.UserID] = sub.Clone()
	return sub.Clone()
}

// Subscription returns a copy of the stored record of a user, or nil.
func (s *InMemorySubscriptionStore) Subscription(userID string) *domain.Subscription {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.subscriptions[userID].Clone()
}

// User returns a copy of a stored user, or nil.
func (s *InMemorySubscriptionStore) User(userID string) *domain.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userID]
	if !ok {
		return nil
	}
	c := *u
	return &c
}

// History returns every appended history entry.
func (s *InMemorySubscriptionStore) History() []domain.HistoryEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.HistoryEntry(nil), s.history...)
}

// Audits returns every captured audit record.
func (s *InMemorySubscriptionStore) Audits() []AuditRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]AuditRecord(nil), s.audits...)
}

// SubscriptionCount is the number of stored records.
func (s *InMemorySubscriptionStore) SubscriptionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subscriptions)
}

func (s *InMemorySubscriptionStore) FindUserByID(ctx context.Context, userID string) (*domain.User, error) {
	if u := s.User(userID); u != nil {
		return u, nil
	}
	return nil, domain.ErrNotFound
}

func (s *InMemorySubscriptionStore) FindUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, domain.ErrNotFound
	}
	u, ok := lo.Find(lo.Values(s.users), func(u *domain.User) bool {
		return strings.EqualFold(u.Email, email)
	})
	if !ok {
		return nil, domain.ErrNotFound
	}
	c := *u
	return &c, nil
}

func (s *InMemorySubscriptionStore) FindPlanByID(ctx context.Context, planID string) (*domain.SubscriptionPlan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.plans[planID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	c := *p
	return &c, nil
}

func (s *InMemorySubscriptionStore) FindPlanByCode(ctx context.Context, planCode string) (*domain.SubscriptionPlan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if planCode == "" {
		return nil, domain.ErrNotFound
	}
	p, ok := lo.Find(lo.Values(s.plans), func(p *domain.SubscriptionPlan) bool {
		return p.PlanCode == planCode
	})
	if !ok {
		return nil, domain.ErrNotFound
	}
	c := *p
	return &c, nil
}

func (s *InMemorySubscriptionStore) ListPlans(ctx context.Context) ([]domain.SubscriptionPlan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	plans := lo.Map(lo.Values(s.plans), func(p *domain.SubscriptionPlan, _ int) domain.SubscriptionPlan { return *p })
	sort.Slice(plans, func(i, j int) bool {
		if plans[i].Amount != plans[j].Amount {
			return plans[i].Amount < plans[j].Amount
		}
		return plans[i].Name < plans[j].Name
	})
	return plans, nil
}

func (s *InMemorySubscriptionStore) FindSubscriptionByUserID(ctx context.Context, userID string) (*domain.Subscription, error) {
	if sub := s.Subscription(userID); sub != nil {
		return sub, nil
	}
	return nil, domain.ErrNotFound
}

func (s *InMemorySubscriptionStore) FindSubscriptionByCode(ctx context.Context, code string) (*domain.Subscription, error) {
	return s.findSubscription(func(sub *domain.Subscription) bool {
		return code != "" && sub.SubscriptionCode == code
	})
}

func (s *InMemorySubscriptionStore) FindSubscriptionByCustomerCode(ctx context.Context, code string) (*domain.Subscription, error) {
	return s.findSubscription(func(sub *domain.Subscription) bool {
		return code != "" && sub.CustomerCode == code
	})
}

func (s *InMemorySubscriptionStore) findSubscription(match func(*domain.Subscription) bool) (*domain.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := lo.Find(lo.Values(s.subscriptions), match)
	if !ok {
		return nil, domain.ErrNotFound
	}
	return sub.Clone(), nil
}

func (s *InMemorySubscriptionStore) ListOrphanedSubscriptions(ctx context.Context) ([]domain.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	orphans := lo.FilterMap(lo.Values(s.subscriptions), func(sub *domain.Subscription, _ int) (domain.Subscription, bool) {
		return *sub.Clone(), sub.IsOrphaned()
	})
	sort.Slice(orphans, func(i, j int) bool { return orphans[i].CreatedAt.Before(orphans[j].CreatedAt) })
	return orphans, nil
}

func (s *InMemorySubscriptionStore) MutateSubscription(ctx context.Context, audit domain.AuditContext, userID string, fn domain.SubscriptionMutation) (*domain.MutationResult, error) {
	if s.MutateErr != nil {
		return nil, s.MutateErr
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[userID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	current := s.subscriptions[userID].Clone()

	next, err := fn(current.Clone())
	if err != nil {
		return nil, err
	}

	now := s.Now()
	result := &domain.MutationResult{Before: current, After: current}
	if next == nil || domain.SameState(current, next) {
		result.UserActive = domain.SubscriptionActiveFlag(current, now)
		return result, nil
	}
	if !next.Status.Valid() {
		return nil, fmt.Errorf("invalid subscription mutation: unknown status %q", next.Status)
	}
	if next.Status == domain.StatusActive && next.NextBillingDate == nil {
		return nil, fmt.Errorf("invalid subscription mutation: active subscription without next billing date")
	}
	if next.PlanID != nil {
		if _, ok := s.plans[*next.PlanID]; !ok {
			return nil, fmt.Errorf("invalid subscription mutation: referenced plan does not exist")
		}
	}

	saved := next.Clone()
	saved.UserID = userID
	saved.UpdatedAt = now
	if current == nil {
		saved.ID = uuid.NewString()
		saved.CreatedAt = now
	} else {
		saved.ID = current.ID
		saved.CreatedAt = current.CreatedAt
	}
	s.subscriptions[userID] = saved

	active := domain.SubscriptionActiveFlag(saved, now)
	user.SubscriptionActive = active

	action := "update"
	if current == nil {
		action = "create"
	}
	s.audits = append(s.audits, AuditRecord{
		Audit:    audit,
		ObjectID: saved.ID,
		Action:   action,
		Changes:  domain.DiffSubscriptions(current, saved),
	})

	result.After = saved.Clone()
	result.Changed = true
	result.Created = current == nil
	result.UserActive = active
	return result, nil
}

func (s *InMemorySubscriptionStore) AppendHistory(ctx context.Context, entries []domain.HistoryEntry) error {
	if s.HistoryErr != nil {
		return s.HistoryErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		if e.RecordedAt.IsZero() {
			e.RecordedAt = s.Now()
		}
		s.history = append(s.history, e)
	}
	return nil
}

func (s *InMemorySubscriptionStore) ListHistoryByUser(ctx context.Context, userID string, limit int) ([]domain.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := lo.Filter(s.history, func(e domain.HistoryEntry, _ int) bool { return e.UserID == userID })
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].RecordedAt.After(entries[j].RecordedAt) })
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}
