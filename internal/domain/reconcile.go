package domain

import "time"

// ReconcilePhase names one of the independent passes of a reconciliation run.
type ReconcilePhase string

const (
	PhaseTransactionSweep  ReconcilePhase = "transaction_sweep"
	PhaseSubscriptionSweep ReconcilePhase = "subscription_sweep"
	PhaseOrphanRepair      ReconcilePhase = "orphan_repair"
)

// ReconcileOutcome is what happened to a single item.
type ReconcileOutcome string

const (
	OutcomeSynced  ReconcileOutcome = "synced"
	OutcomeCreated ReconcileOutcome = "created"
	OutcomeSkipped ReconcileOutcome = "skipped"
	OutcomeFailed  ReconcileOutcome = "failed"
)

// ReconcileItem records the outcome for one transaction, user, or orphaned record.
type ReconcileItem struct {
	Phase            ReconcilePhase   `json:"phase"`
	Outcome          ReconcileOutcome `json:"outcome"`
	Email            string           `json:"email,omitempty"`
	UserID           string           `json:"user_id,omitempty"`
	Reference        string           `json:"reference,omitempty"`
	SubscriptionCode string           `json:"subscription_code,omitempty"`
	Reason           string           `json:"reason,omitempty"`
}

// PhaseError is a failure that stopped a whole phase, such as a failed gateway listing.
type PhaseError struct {
	Phase ReconcilePhase `json:"phase"`
	Error string         `json:"error"`
}

// ReconcileSummary is the result of a reconciliation run. Partial failure is normal
// and is reported here rather than returned as an error.
type ReconcileSummary struct {
	StartedAt       time.Time       `json:"started_at"`
	FinishedAt      time.Time       `json:"finished_at"`
	Synced          int             `json:"synced"`
	Created         int             `json:"created"`
	Skipped         int             `json:"skipped"`
	Failed          int             `json:"failed"`
	HistoryRecorded int             `json:"history_recorded"`
	Items           []ReconcileItem `json:"items"`
	PhaseErrors     []PhaseError    `json:"phase_errors"`
}

// NewReconcileSummary returns an empty summary with non-nil slices so it encodes as [].
func NewReconcileSummary(startedAt time.Time) *ReconcileSummary {
	return &ReconcileSummary{
		StartedAt:   startedAt,
		Items:       []ReconcileItem{},
		PhaseErrors: []PhaseError{},
	}
}

// Record appends an item and bumps the matching counter.
func (s *ReconcileSummary) Record(item ReconcileItem) {
	switch item.Outcome {
	case OutcomeSynced:
		s.Synced++
	case OutcomeCreated:
		s.Created++
	case OutcomeSkipped:
		s.Skipped++
	case OutcomeFailed:
		s.Failed++
	}
	s.Items = append(s.Items, item)
}

// RecordPhaseError notes a phase that could not run.
func (s *ReconcileSummary) RecordPhaseError(phase ReconcilePhase, err error) {
	s.PhaseErrors = append(s.PhaseErrors, PhaseError{Phase: phase, Error: err.Error()})
}

// Empty reports whether the run touched nothing at all.
func (s *ReconcileSummary) Empty() bool {
	return len(s.Items) == 0 && len(s.PhaseErrors) == 0 && s.HistoryRecorded == 0
}
