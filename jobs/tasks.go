package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskLedgerIntegrity scans tenants for unbalanced journal entries.
	TaskLedgerIntegrity = "ledger:integrity"
	// TaskSeedAccounts creates missing system accounts for tenants.
	TaskSeedAccounts = "ledger:seed_accounts"
	// TaskIdempotencyCleanup prunes expired request keys.
	TaskIdempotencyCleanup = "maintenance:idempotency_cleanup"
)

// LedgerIntegrityPayload limits the scan to TenantIDs. Empty scans every tenant.
type LedgerIntegrityPayload struct {
	TenantIDs []int64 `json:"tenant_ids,omitempty"`
}

// SeedAccountsPayload names the tenant to seed. Zero seeds every tenant.
type SeedAccountsPayload struct {
	TenantID int64 `json:"tenant_id,omitempty"`
}

// IdempotencyCleanupPayload sets the key retention. Zero keeps seven days.
type IdempotencyCleanupPayload struct {
	RetentionHours int `json:"retention_hours,omitempty"`
}

// NewLedgerIntegrityTask constructs an Asynq task.
func NewLedgerIntegrityTask(payload LedgerIntegrityPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerIntegrity, data), nil
}

// NewSeedAccountsTask constructs an Asynq task.
func NewSeedAccountsTask(payload SeedAccountsPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSeedAccounts, data), nil
}

// NewIdempotencyCleanupTask constructs an Asynq task.
func NewIdempotencyCleanupTask(payload IdempotencyCleanupPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, data), nil
}

func decodePayload(t *asynq.Task, dest any) error {
	if len(t.Payload()) == 0 {
		return nil
	}
	if err := json.Unmarshal(t.Payload(), dest); err != nil {
		return asynq.SkipRetry
	}
	return nil
}
