/**
 * @description
 * Reconciliation brings local subscription records in line with the payment
 * gateway. It runs three independent phases and reports every item it touched;
 * a failing item or phase never stops the others.
 *
 * @notes
 * - Phase 1 sweeps successful plan transactions.
 * - Phase 2 mirrors every gateway subscription onto its user and records history.
 * - Phase 3 repairs records that have payment credentials but no gateway subscription.
 */
package app

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/Allforms/estatepadi/internal/domain"
	"github.com/Allforms/estatepadi/pkg/paystackclient"
)

// maxSubscriptionPages bounds pagination in case the gateway misreports page counts.
const maxSubscriptionPages = 1000

// Skip and failure reasons recorded on reconciliation items.
const (
	ReasonUserNotFound     = "user_not_found"
	ReasonPlanNotFound     = "plan_not_found"
	ReasonAlreadyCurrent   = "already_current"
	ReasonMissingEmail     = "missing_email"
	ReasonNoPlan           = "no_plan"
	ReasonNoLongerOrphaned = "no_longer_orphaned"
)

// ReconcileOptions tunes the gateway page sizes used by a run.
type ReconcileOptions struct {
	TransactionPageSize  int
	SubscriptionPageSize int
}

// Reconciler runs reconciliation passes against the gateway.
type Reconciler struct {
	repo     Repository
	gateway  Gateway
	lock     RunLock
	notifier *Notifier
	metrics  *Metrics
	logger   *slog.Logger
	opts     ReconcileOptions
	now      func() time.Time
}

// NewReconciler creates a reconciler. A nil lock lets runs overlap.
func NewReconciler(repo Repository, gateway Gateway, lock RunLock, notifier *Notifier, metrics *Metrics, logger *slog.Logger, opts ReconcileOptions) *Reconciler {
	if opts.TransactionPageSize <= 0 {
		opts.TransactionPageSize = 100
	}
	if opts.SubscriptionPageSize <= 0 {
		opts.SubscriptionPageSize = 100
	}
	return &Reconciler{
		repo:     repo,
		gateway:  gateway,
		lock:     lock,
		notifier: notifier,
		metrics:  metrics,
		logger:   logger,
		opts:     opts,
		now:      time.Now,
	}
}

// Run performs one full reconciliation. Item and phase failures are reported in the
// summary; an error is returned only when the run could not start.
func (r *Reconciler) Run(ctx context.Context, requestID string) (*domain.ReconcileSummary, error) {
	if r.lock != nil {
		release, err := r.lock.Acquire(ctx)
		if err != nil {
			if errors.Is(err, ErrReconcileInProgress) {
				r.metrics.reconcileRun("skipped_locked", 0)
			}
			return nil, err
		}
		defer release(context.WithoutCancel(ctx))
	}

	started := r.now()
	summary := domain.NewReconcileSummary(started.UTC())
	r.logger.Info("reconciliation started", "request_id", requestID)

	r.sweepTransactions(ctx, requestID, summary)
	r.sweepSubscriptions(ctx, requestID, summary)
	r.repairOrphans(ctx, requestID, summary)

	finished := r.now()
	summary.FinishedAt = finished.UTC()

	result := "completed"
	if summary.Failed > 0 || len(summary.PhaseErrors) > 0 {
		result = "partial"
	}
	r.metrics.reconcileRun(result, finished.Sub(started))
	r.logger.Info("reconciliation finished",
		"request_id", requestID,
		"result", result,
		"synced", summary.Synced,
		"created", summary.Created,
		"skipped", summary.Skipped,
		"failed", summary.Failed,
		"history_recorded", summary.HistoryRecorded,
		"phase_errors", len(summary.PhaseErrors),
	)
	return summary, nil
}

func (r *Reconciler) record(summary *domain.ReconcileSummary, item domain.ReconcileItem) {
	summary.Record(item)
	r.metrics.reconcileItem(item)
	if item.Outcome == domain.OutcomeFailed {
		r.logger.Warn("reconciliation item failed", "phase", item.Phase, "user_id", item.UserID, "email", item.Email, "reason", item.Reason)
	}
}

func (r *Reconciler) phaseError(summary *domain.ReconcileSummary, phase domain.ReconcilePhase, err error) {
	summary.RecordPhaseError(phase, err)
	r.logger.Error("reconciliation phase failed", "phase", phase, "error", err)
}

// mutationOutcome maps a committed mutation to an item outcome.
func mutationOutcome(result *domain.MutationResult) (domain.ReconcileOutcome, string) {
	switch {
	case result.Created:
		return domain.OutcomeCreated, ""
	case result.Changed:
		return domain.OutcomeSynced, ""
	default:
		return domain.OutcomeSkipped, ReasonAlreadyCurrent
	}
}

// sweepTransactions activates users whose successful plan payments are newer than
// the local record. One-off transactions without plan data are ignored.
func (r *Reconciler) sweepTransactions(ctx context.Context, requestID string, summary *domain.ReconcileSummary) {
	const phase = domain.PhaseTransactionSweep
	audit := domain.SystemAudit("reconcile:"+string(phase), requestID)

	txns, err := r.gateway.ListSuccessfulTransactions(ctx, r.opts.TransactionPageSize)
	if err != nil {
		r.phaseError(summary, phase, err)
		return
	}

	for _, txn := range txns {
		if !txn.Plan.HasCode() {
			continue
		}
		item := domain.ReconcileItem{Phase: phase, Email: txn.Customer.Email, Reference: txn.Reference}

		user, err := r.repo.FindUserByEmail(ctx, txn.Customer.Email)
		if err != nil {
			r.record(summary, lookupFailure(item, ReasonUserNotFound, err))
			continue
		}
		item.UserID = user.ID

		plan, err := r.repo.FindPlanByCode(ctx, txn.Plan.PlanCode)
		if err != nil {
			r.record(summary, lookupFailure(item, ReasonPlanNotFound, err))
			continue
		}

		paidAt := domain.PaymentTime(r.now(), txn.PaidAt.String(), txn.CreatedAt.String())
		next := domain.NextBillingDate(plan.Interval, paidAt)
		authCode := txn.Authorization.AuthorizationCode
		customerCode := txn.Customer.CustomerCode

		result, err := r.repo.MutateSubscription(ctx, audit, user.ID, func(cur *domain.Subscription) (*domain.Subscription, error) {
			if cur == nil {
				cur = &domain.Subscription{}
			}
			current := cur.NextBillingDate != nil && !cur.NextBillingDate.Before(next)
			if !current {
				status, ok := nextStatusFor(cur, domain.EventFirstCharge)
				if !ok {
					return nil, nil
				}
				cur.Status = status
				cur.PlanID = &plan.ID
				cur.NextBillingDate = &next
			}
			if cur.AuthorizationCode == "" {
				cur.AuthorizationCode = authCode
			}
			if cur.CustomerCode == "" {
				cur.CustomerCode = customerCode
			}
			return cur, nil
		})
		if err != nil {
			item.Outcome, item.Reason = domain.OutcomeFailed, err.Error()
			r.record(summary, item)
			continue
		}
		item.Outcome, item.Reason = mutationOutcome(result)
		item.SubscriptionCode = result.After.SubscriptionCode
		r.record(summary, item)
		r.notifier.SubscriptionChanged(ctx, result)
	}
}

// sweepSubscriptions lists every gateway subscription, groups them by customer
// email, and mirrors the preferred one onto the user's record.
func (r *Reconciler) sweepSubscriptions(ctx context.Context, requestID string, summary *domain.ReconcileSummary) {
	const phase = domain.PhaseSubscriptionSweep
	audit := domain.SystemAudit("reconcile:"+string(phase), requestID)

	subs, err := r.listAllSubscriptions(ctx)
	if err != nil {
		r.phaseError(summary, phase, err)
		return
	}

	groups := lo.GroupBy(subs, func(s paystackclient.Subscription) string {
		return strings.ToLower(strings.TrimSpace(s.Customer.Email))
	})
	emails := lo.Keys(groups)
	sort.Strings(emails)

	plans := newPlanCache(r.repo)
	for _, email := range emails {
		group := groups[email]
		item := domain.ReconcileItem{Phase: phase, Email: email}
		if email == "" {
			item.Outcome, item.Reason = domain.OutcomeSkipped, ReasonMissingEmail
			r.record(summary, item)
			continue
		}

		user, err := r.repo.FindUserByEmail(ctx, email)
		if err != nil {
			r.record(summary, lookupFailure(item, ReasonUserNotFound, err))
			continue
		}
		item.UserID = user.ID

		r.recordHistory(ctx, summary, item, group, plans)

		idx := domain.PickPreferred(lo.Map(group, func(s paystackclient.Subscription, _ int) domain.GatewayStatus {
			return domain.GatewayStatus(s.Status)
		}))
		chosen := group[idx]
		item.SubscriptionCode = chosen.SubscriptionCode

		plan, err := plans.byCode(ctx, chosen.Plan.PlanCode)
		if err != nil {
			r.record(summary, lookupFailure(item, ReasonPlanNotFound, err))
			continue
		}

		mapped, known := domain.GatewayStatus(chosen.Status).LocalStatus()
		reported, hasReported := domain.ParseGatewayTime(chosen.NextPaymentDate.String())
		now := r.now()

		result, err := r.repo.MutateSubscription(ctx, audit, user.ID, func(cur *domain.Subscription) (*domain.Subscription, error) {
			if cur == nil {
				cur = &domain.Subscription{Status: domain.StatusCancelled}
			}
			if known {
				cur.Status = mapped
			}
			cur.PlanID = &plan.ID
			if chosen.SubscriptionCode != "" {
				cur.SubscriptionCode = chosen.SubscriptionCode
			}
			if chosen.EmailToken != "" {
				cur.EmailToken = chosen.EmailToken
			}
			if code := chosen.Authorization.AuthorizationCode; code != "" {
				cur.AuthorizationCode = code
			}
			if code := chosen.Customer.CustomerCode; code != "" {
				cur.CustomerCode = code
			}
			switch {
			case hasReported:
				cur.NextBillingDate = &reported
			case cur.Status == domain.StatusActive && cur.NextBillingDate == nil:
				next := domain.NextBillingDate(plan.Interval, now)
				cur.NextBillingDate = &next
			}
			return cur, nil
		})
		if err != nil {
			item.Outcome, item.Reason = domain.OutcomeFailed, err.Error()
			r.record(summary, item)
			continue
		}
		item.Outcome, item.Reason = mutationOutcome(result)
		r.record(summary, item)
		r.notifier.SubscriptionChanged(ctx, result)
	}
}

// recordHistory appends one history entry per gateway subscription of a user. A
// failure is reported as its own item and does not stop the sync.
func (r *Reconciler) recordHistory(ctx context.Context, summary *domain.ReconcileSummary, item domain.ReconcileItem, group []paystackclient.Subscription, plans *planCache) {
	entries := make([]domain.HistoryEntry, 0, len(group))
	for _, s := range group {
		entry := domain.HistoryEntry{
			UserID:            item.UserID,
			SubscriptionCode:  s.SubscriptionCode,
			Status:            domain.GatewayStatus(s.Status),
			AuthorizationCode: s.Authorization.AuthorizationCode,
			EmailToken:        s.EmailToken,
		}
		if plan, err := plans.byCode(ctx, s.Plan.PlanCode); err == nil {
			entry.PlanID = &plan.ID
		}
		if next, ok := domain.ParseGatewayTime(s.NextPaymentDate.String()); ok {
			entry.NextBillingDate = &next
		}
		entries = append(entries, entry)
	}

	if err := r.repo.AppendHistory(ctx, entries); err != nil {
		item.Outcome, item.Reason = domain.OutcomeFailed, "history: "+err.Error()
		r.record(summary, item)
		return
	}
	summary.HistoryRecorded += len(entries)
}

func (r *Reconciler) listAllSubscriptions(ctx context.Context) ([]paystackclient.Subscription, error) {
	var all []paystackclient.Subscription
	for page := 1; page <= maxSubscriptionPages; page++ {
		res, err := r.gateway.ListSubscriptions(ctx, paystackclient.ListSubscriptionsParams{
			Page:    page,
			PerPage: r.opts.SubscriptionPageSize,
		})
		if err != nil {
			return nil, err
		}
		all = append(all, res.Subscriptions...)
		if len(res.Subscriptions) == 0 || res.Meta.PageCount <= page {
			break
		}
	}
	return all, nil
}

// repairOrphans creates gateway subscriptions for records that were charged but
// never got one.
func (r *Reconciler) repairOrphans(ctx context.Context, requestID string, summary *domain.ReconcileSummary) {
	const phase = domain.PhaseOrphanRepair
	audit := domain.SystemAudit("reconcile:"+string(phase), requestID)

	orphans, err := r.repo.ListOrphanedSubscriptions(ctx)
	if err != nil {
		r.phaseError(summary, phase, err)
		return
	}

	for _, orphan := range orphans {
		item := domain.ReconcileItem{Phase: phase, UserID: orphan.UserID}
		if user, err := r.repo.FindUserByID(ctx, orphan.UserID); err == nil {
			item.Email = user.Email
		}
		if !orphan.HasPlan() {
			item.Outcome, item.Reason = domain.OutcomeFailed, ReasonNoPlan
			r.record(summary, item)
			continue
		}
		plan, err := r.repo.FindPlanByID(ctx, *orphan.PlanID)
		if err != nil {
			item.Outcome, item.Reason = domain.OutcomeFailed, ReasonPlanNotFound
			if !errors.Is(err, domain.ErrNotFound) {
				item.Reason = err.Error()
			}
			r.record(summary, item)
			continue
		}

		created, err := r.gateway.CreateSubscription(ctx, paystackclient.CreateSubscriptionRequest{
			Customer:      orphan.CustomerCode,
			Plan:          plan.PlanCode,
			Authorization: orphan.AuthorizationCode,
		})
		if err != nil {
			item.Outcome, item.Reason = domain.OutcomeFailed, err.Error()
			r.record(summary, item)
			continue
		}
		item.SubscriptionCode = created.SubscriptionCode

		mapped, known := domain.GatewayStatus(created.Status).LocalStatus()
		reported, hasReported := domain.ParseGatewayTime(created.NextPaymentDate.String())
		now := r.now()

		result, err := r.repo.MutateSubscription(ctx, audit, orphan.UserID, func(cur *domain.Subscription) (*domain.Subscription, error) {
			if cur == nil || !cur.IsOrphaned() {
				return nil, nil
			}
			cur.SubscriptionCode = created.SubscriptionCode
			cur.EmailToken = created.EmailToken
			if known {
				cur.Status = mapped
			}
			switch {
			case hasReported:
				cur.NextBillingDate = &reported
			case cur.NextBillingDate == nil:
				next := domain.NextBillingDate(plan.Interval, now)
				cur.NextBillingDate = &next
			}
			return cur, nil
		})
		if err != nil {
			item.Outcome, item.Reason = domain.OutcomeFailed, err.Error()
			r.record(summary, item)
			continue
		}
		if !result.Changed {
			item.Outcome, item.Reason = domain.OutcomeSkipped, ReasonNoLongerOrphaned
			r.record(summary, item)
			continue
		}
		item.Outcome = domain.OutcomeCreated
		r.record(summary, item)
		r.notifier.SubscriptionChanged(ctx, result)
	}
}

// lookupFailure turns a failed lookup into a skipped item for a missing row and a
// failed one for anything else.
func lookupFailure(item domain.ReconcileItem, notFoundReason string, err error) domain.ReconcileItem {
	if errors.Is(err, domain.ErrNotFound) {
		item.Outcome, item.Reason = domain.OutcomeSkipped, notFoundReason
		return item
	}
	item.Outcome, item.Reason = domain.OutcomeFailed, err.Error()
	return item
}

// planCache memoises plan lookups by code for the length of a phase.
type planCache struct {
	repo  Repository
	plans map[string]*domain.SubscriptionPlan
}

func newPlanCache(repo Repository) *planCache {
	return &planCache{repo: repo, plans: make(map[string]*domain.SubscriptionPlan)}
}

func (c *planCache) byCode(ctx context.Context, code string) (*domain.SubscriptionPlan, error) {
	if code == "" {
		return nil, domain.ErrNotFound
	}
	if p, ok := c.plans[code]; ok {
		return p, nil
	}
	p, err := c.repo.FindPlanByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	c.plans[code] = p
	return p, nil
}
