package domain

import (
	"time"

	"github.com/lib/pq"
	"gorm.io/datatypes"
)

// ExportStatus is the export job lifecycle state. Jobs move strictly
// pending -> processing -> completed|failed; the terminal states never
// transition again.
type ExportStatus string

const (
	ExportStatusPending    ExportStatus = "pending"
	ExportStatusProcessing ExportStatus = "processing"
	ExportStatusCompleted  ExportStatus = "completed"
	ExportStatusFailed     ExportStatus = "failed"
)

// ExportFormat is the requested output format for an export job.
type ExportFormat string

const (
	ExportFormatCSV  ExportFormat = "csv"
	ExportFormatJSON ExportFormat = "json"
	ExportFormatXLSX ExportFormat = "xlsx"
)

func (f ExportFormat) Valid() bool {
	switch f {
	case ExportFormatCSV, ExportFormatJSON, ExportFormatXLSX:
		return true
	}
	return false
}

// ExportJob is one audit export request and its outcome. Format, filters and
// organization are write-once at creation; only Process advances status.
type ExportJob struct {
	ID          int64        `gorm:"column:id;primaryKey"`
	OrgID       int64        `gorm:"column:org_id;index"`
	RequestedBy string       `gorm:"column:requested_by"`
	Status      ExportStatus `gorm:"column:status"`
	Format      ExportFormat `gorm:"column:format"`

	DateFrom    time.Time      `gorm:"column:date_from"`
	DateTo      time.Time      `gorm:"column:date_to"`
	EventTypes  pq.StringArray `gorm:"column:event_types;type:text[]"`
	UserIDs     pq.StringArray `gorm:"column:user_ids;type:text[]"`
	EntityTypes pq.StringArray `gorm:"column:entity_types;type:text[]"`

	// Success fields, set together on the processing -> completed transition.
	// FileContent is stored snappy-compressed; TotalRecords, FileSizeBytes and
	// Checksum describe the uncompressed bytes.
	TotalRecords  *int64  `gorm:"column:total_records"`
	FileSizeBytes *int64  `gorm:"column:file_size_bytes"`
	FileContent   []byte  `gorm:"column:file_content"`
	Checksum      *string `gorm:"column:checksum"`

	ErrorMessage *string `gorm:"column:error_message"`

	ExpiresAt   *time.Time `gorm:"column:expires_at"`
	CreatedAt   time.Time  `gorm:"column:created_at"`
	CompletedAt *time.Time `gorm:"column:completed_at"`
}

func (ExportJob) TableName() string { return "audit_export_jobs" }

// AuditRecord is a row in the platform audit trail. This subsystem only reads
// it; ingestion is owned elsewhere.
type AuditRecord struct {
	ID         int64             `gorm:"column:id;primaryKey"`
	OrgID      int64             `gorm:"column:org_id;index"`
	EventType  string            `gorm:"column:event_type"`
	EntityType string            `gorm:"column:entity_type"`
	EntityID   string            `gorm:"column:entity_id"`
	UserID     string            `gorm:"column:user_id"`
	IPAddress  *string           `gorm:"column:ip_address"`
	UserAgent  *string           `gorm:"column:user_agent"`
	Metadata   datatypes.JSONMap `gorm:"column:metadata"`
	OccurredAt time.Time         `gorm:"column:occurred_at;index"`
}

func (AuditRecord) TableName() string { return "audit_records" }

// ExportAccessLog records one successful download of a completed export.
// Append-only.
type ExportAccessLog struct {
	ID         string    `gorm:"column:id;primaryKey"`
	JobID      int64     `gorm:"column:job_id;index"`
	OrgID      int64     `gorm:"column:org_id"`
	UserID     string    `gorm:"column:user_id"`
	IPAddress  string    `gorm:"column:ip_address"`
	UserAgent  string    `gorm:"column:user_agent"`
	AccessedAt time.Time `gorm:"column:accessed_at"`
}

func (ExportAccessLog) TableName() string { return "audit_export_access_logs" }

// OrganizationMember carries the role used by the org-admin gate. Membership
// management itself lives outside this service.
type OrganizationMember struct {
	OrgID  int64  `gorm:"column:org_id;primaryKey"`
	UserID string `gorm:"column:user_id;primaryKey"`
	Role   string `gorm:"column:role"`
}

func (OrganizationMember) TableName() string { return "organization_members" }
