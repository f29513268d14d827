package models

import "time"

// Shadow statuses for PortalOrderLink. POSTED rows with a non-empty
// external id are the only eligible inputs to the sync engine.
const (
	OrderLinkStatusPosted    = "POSTED"
	OrderLinkStatusCancelled = "CANCELLED"
	OrderLinkStatusClosed    = "CLOSED"
	OrderLinkStatusError     = "ERROR"
)

const (
	SyncRunStatusQueued  = "queued"
	SyncRunStatusRunning = "running"
	SyncRunStatusSuccess = "success"
	SyncRunStatusFailed  = "failed"
	SyncRunStatusPartial = "partial"
)

const (
	SyncTriggeredManual = "manual"
	SyncTriggeredRetry  = "retry"
	SyncTriggeredSystem = "system"
)

// PortalOrderLink is the control entry tracking an order's last known synced
// state and its portal-assigned id. Created by the upstream posting flow when
// an order first reaches the portal; the sync engine only ever moves status
// POSTED -> CANCELLED/CLOSED or refreshes the timestamp. Never deleted here.
type PortalOrderLink struct {
	ID           uint       `gorm:"primary_key" json:"id"`
	TenantId     string     `gorm:"uniqueIndex:idx_portal_order_link,priority:1;size:50;not null" json:"tenant_id"`
	OrderNo      string     `gorm:"uniqueIndex:idx_portal_order_link,priority:2;size:100;not null" json:"order_no"`
	ExternalId   string     `gorm:"size:128" json:"external_id"`
	Status       string     `gorm:"size:20;not null" json:"status"`
	LastUpdateAt *time.Time `json:"last_update_at"`
	CreatedAt    time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// PortalSyncRun is one reconciliation pass for one tenant.
type PortalSyncRun struct {
	ID            uint       `gorm:"primary_key" json:"id"`
	TenantId      string     `gorm:"index;size:50;not null" json:"tenant_id"`
	Status        string     `gorm:"size:20;not null" json:"status"`
	TriggeredBy   string     `gorm:"size:20" json:"triggered_by"`
	StatsJSON     []byte     `gorm:"type:json" json:"stats"`
	RecordsSynced int        `json:"records_synced"`
	ErrorCount    int        `json:"error_count"`
	ParentRunId   *uint      `gorm:"index" json:"parent_run_id"`
	StartedAt     *time.Time `json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at"`
	DurationMs    int64      `json:"duration_ms"`
	CreatedAt     time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// PortalSyncError records one order's failure inside a pass. Failures never
// abort the pass; they accumulate here and in the run's error count.
type PortalSyncError struct {
	ID        uint      `gorm:"primary_key" json:"id"`
	SyncRunId uint      `gorm:"index;not null" json:"sync_run_id"`
	TenantId  string    `gorm:"index;size:50;not null" json:"tenant_id"`
	OrderNo   string    `gorm:"size:100" json:"order_no"`
	Category  string    `gorm:"size:32" json:"category"`
	ErrorCode string    `gorm:"size:64" json:"error_code"`
	Message   string    `gorm:"type:text" json:"message"`
	Retryable bool      `gorm:"default:false" json:"retryable"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}
