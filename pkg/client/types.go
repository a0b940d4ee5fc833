package client

import "time"

// Entry is one link of the audit chain as returned by the service.
type Entry struct {
	ID            int64          `json:"id"`
	Timestamp     time.Time      `json:"timestamp"`
	UserPrincipal string         `json:"userPrincipal"`
	Action        string         `json:"action"`
	ResourceType  string         `json:"resourceType,omitempty"`
	ResourceID    string         `json:"resourceId,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	PreviousHash  string         `json:"previousHash"`
	Hash          string         `json:"hash"`
}

// SearchRequest is the body of POST /audit/search. Zero fields do not filter.
type SearchRequest struct {
	ResourceID    string         `json:"resourceId,omitempty"`
	ResourceType  string         `json:"resourceType,omitempty"`
	Action        string         `json:"action,omitempty"`
	UserPrincipal string         `json:"userPrincipal,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	From          *time.Time     `json:"from,omitempty"`
	To            *time.Time     `json:"to,omitempty"`
	SortOrder     string         `json:"sortOrder,omitempty"`
	Limit         int            `json:"limit,omitempty"`
}

// RecordRequest is the body of POST /audit/events. An empty UserPrincipal is
// replaced by the token subject, or SYSTEM when the service runs without auth.
// Naming a principal other than the token subject requires the audit:delegate
// role.
type RecordRequest struct {
	Action        string         `json:"action"`
	ResourceType  string         `json:"resourceType,omitempty"`
	ResourceID    string         `json:"resourceId,omitempty"`
	UserPrincipal string         `json:"userPrincipal,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	Timestamp     *time.Time     `json:"timestamp,omitempty"`
}

// Verification statuses.
const (
	StatusValid  = "VALID"
	StatusBroken = "BROKEN"
	StatusEmpty  = "EMPTY"
)

// BrokenLink identifies the first entry whose stored hash did not match.
type BrokenLink struct {
	EntryID      int64  `json:"entryId"`
	ExpectedHash string `json:"expectedHash"`
	ActualHash   string `json:"actualHash"`
}

// VerificationResult is the outcome of GET /audit/verify.
type VerificationResult struct {
	Status          string      `json:"status"`
	TotalEntries    int64       `json:"totalEntries"`
	VerifiedEntries int64       `json:"verifiedEntries"`
	VerifiedAt      time.Time   `json:"verifiedAt"`
	BrokenLink      *BrokenLink `json:"brokenLink"`
}

// Valid reports whether the verified range was intact (or empty).
func (r *VerificationResult) Valid() bool { return r.Status != StatusBroken }

// ChainInfo summarises the chain and its parameters.
type ChainInfo struct {
	Entries             int64    `json:"entries"`
	Root                string   `json:"root"`
	GenesisPreviousHash string   `json:"genesisPreviousHash"`
	Algorithm           string   `json:"algorithm"`
	ExcludedActions     []string `json:"excludedActions"`
}

// Exclusions is the exclusion set as reported by the admin API.
type Exclusions struct {
	ExcludedActions  []string `json:"excludedActions"`
	AvailableActions []string `json:"availableActions,omitempty"`
}
