// Package audit reads the audit trail written by the ledger and stock services.
package audit

import "time"

// TimelineFilters narrows the audit timeline of one tenant.
type TimelineFilters struct {
	TenantID int64
	From     time.Time
	To       time.Time
	ActorID  *int64
	Action   string
	Entity   string
	EntityID string
	Limit    int
}

// TimelineRow is one audit record.
type TimelineRow struct {
	ID       int64          `json:"id"`
	At       time.Time      `json:"at"`
	ActorID  *int64         `json:"actor_id,omitempty"`
	Action   string         `json:"action"`
	Entity   string         `json:"entity"`
	EntityID string         `json:"entity_id"`
	Meta     map[string]any `json:"meta,omitempty"`
}
