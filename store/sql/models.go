package sqlstore

import (
	"time"

	"github.com/uptrace/bun"
)

type entityRecord struct {
	bun.BaseModel `bun:"table:synced_entities,alias:se"`

	ID          string         `bun:"id,pk"`
	Kind        string         `bun:"kind,notnull"`
	ExternalID  string         `bun:"external_id,notnull"`
	Fields      map[string]any `bun:"fields,type:jsonb,notnull"`
	Active      bool           `bun:"active,notnull"`
	Provisional bool           `bun:"provisional,notnull"`
	CreatedAt   time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt   time.Time      `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type syncTaskRecord struct {
	bun.BaseModel `bun:"table:sync_tasks,alias:st"`

	ID            string         `bun:"id,pk"`
	Kind          string         `bun:"kind,notnull"`
	ExternalID    string         `bun:"external_id,notnull"`
	Op            string         `bun:"op,notnull"`
	Transition    string         `bun:"transition"`
	Fields        map[string]any `bun:"fields,type:jsonb,notnull"`
	ParentRefs    []parentRef    `bun:"parent_refs,type:jsonb,notnull"`
	Attempts      int            `bun:"attempts,notnull"`
	NextAttemptAt time.Time      `bun:"next_attempt_at,notnull"`
	Status        string         `bun:"status,notnull"`
	LastError     string         `bun:"last_error"`
	ClaimedAt     *time.Time     `bun:"claimed_at,nullzero"`
	CreatedAt     time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt     time.Time      `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type parentRef struct {
	Kind       string `json:"kind"`
	ExternalID string `json:"external_id"`
	Field      string `json:"field,omitempty"`
}

type webhookDeliveryRecord struct {
	bun.BaseModel `bun:"table:webhook_deliveries,alias:wd"`

	ID             string     `bun:"id,pk"`
	Platform       string     `bun:"platform,notnull"`
	DeliveryID     string     `bun:"delivery_id,notnull"`
	PayloadDigest  string     `bun:"payload_digest,notnull"`
	ClaimID        string     `bun:"claim_id,notnull"`
	Status         string     `bun:"status,notnull"`
	Attempts       int        `bun:"attempts,notnull"`
	NextAttemptAt  *time.Time `bun:"next_attempt_at,nullzero"`
	LeaseExpiresAt *time.Time `bun:"lease_expires_at,nullzero"`
	CreatedAt      time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt      time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type notificationDispatchRecord struct {
	bun.BaseModel `bun:"table:notification_dispatches,alias:nd"`

	ID          string    `bun:"id,pk"`
	DispatchKey string    `bun:"dispatch_key,notnull"`
	Status      string    `bun:"status,notnull"`
	MessageTS   string    `bun:"message_ts"`
	Attempts    int       `bun:"attempts,notnull"`
	LastError   string    `bun:"last_error"`
	CreatedAt   time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt   time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type rateLimitStateRecord struct {
	bun.BaseModel `bun:"table:rate_limit_states,alias:rls"`

	ID         string         `bun:"id,pk"`
	ProviderID string         `bun:"provider_id,notnull"`
	ScopeType  string         `bun:"scope_type,notnull"`
	ScopeID    string         `bun:"scope_id,notnull"`
	BucketKey  string         `bun:"bucket_key,notnull"`
	Limit      int            `bun:"limit_value,notnull"`
	Remaining  int            `bun:"remaining,notnull"`
	ResetAt    *time.Time     `bun:"reset_at,nullzero"`
	RetryAfter *int           `bun:"retry_after_seconds,nullzero"`
	Metadata   map[string]any `bun:"metadata,type:jsonb,notnull"`
	CreatedAt  time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt  time.Time      `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}
