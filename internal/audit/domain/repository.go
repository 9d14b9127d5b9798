package domain

import (
	"context"
	"time"

	"github.com/coursekitlabs/coursekit/pkg/db/pagination"
	"gorm.io/gorm"
)

// RecordFilter is the immutable filter set captured at job creation. DateTo is
// exclusive.
type RecordFilter struct {
	DateFrom    time.Time
	DateTo      time.Time
	EventTypes  []string
	UserIDs     []string
	EntityTypes []string
}

// PendingJobRef identifies a dispatchable job for the scheduler.
type PendingJobRef struct {
	ID    int64 `gorm:"column:id"`
	OrgID int64 `gorm:"column:org_id"`
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, job *ExportJob) error
	FindByID(ctx context.Context, db *gorm.DB, orgID, id int64) (*ExportJob, error)
	List(ctx context.Context, db *gorm.DB, orgID int64, page pagination.Pagination) ([]*ExportJob, error)
	Delete(ctx context.Context, db *gorm.DB, orgID, id int64) (int64, error)

	// ClaimPending atomically moves a pending job to processing. The
	// conditional update is the at-most-once guard: exactly one concurrent
	// caller observes claimed=true.
	ClaimPending(ctx context.Context, db *gorm.DB, orgID, id int64) (bool, error)
	MarkCompleted(ctx context.Context, db *gorm.DB, job *ExportJob) error
	MarkFailed(ctx context.Context, db *gorm.DB, orgID, id int64, message string, at time.Time) error

	ListRecords(ctx context.Context, db *gorm.DB, orgID int64, filter RecordFilter) ([]AuditRecord, error)

	InsertAccessLog(ctx context.Context, db *gorm.DB, entry *ExportAccessLog) error
	ListAccessLogs(ctx context.Context, db *gorm.DB, orgID, jobID int64) ([]ExportAccessLog, error)

	ListPending(ctx context.Context, db *gorm.DB, limit int) ([]PendingJobRef, error)
	DeleteExpired(ctx context.Context, db *gorm.DB, before time.Time) (int64, error)
}
