package domain

// User is the subset of the account record the subscription core reads.
// SubscriptionActive is the one column the core writes.
type User struct {
	ID                 string `json:"id"`
	Email              string `json:"email"`
	FirstName          string `json:"first_name"`
	LastName           string `json:"last_name"`
	PhoneNumber        string `json:"phone_number"`
	SubscriptionActive bool   `json:"subscription_active"`
}

// ActorKind identifies who triggered a mutation.
type ActorKind string

const (
	ActorUser    ActorKind = "user"
	ActorGateway ActorKind = "gateway"
	ActorSystem  ActorKind = "system"
)

// AuditContext travels with every subscription mutation and ends up in the audit log.
type AuditContext struct {
	ActorID   string
	ActorKind ActorKind
	Source    string // e.g. "webhook:charge.success", "reconcile:orphan_repair", "api:cancel"
	IPAddress string
	RequestID string
}

// WithSource returns a copy of a with Source replaced.
func (a AuditContext) WithSource(source string) AuditContext {
	a.Source = source
	return a
}

// SystemAudit is the audit context used by background jobs.
func SystemAudit(source, requestID string) AuditContext {
	return AuditContext{ActorKind: ActorSystem, Source: source, RequestID: requestID}
}
