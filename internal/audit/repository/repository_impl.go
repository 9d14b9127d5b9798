package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/coursekitlabs/coursekit/internal/audit/domain"
	"github.com/coursekitlabs/coursekit/pkg/db/pagination"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, job *domain.ExportJob) error {
	return db.WithContext(ctx).Create(job).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, orgID, id int64) (*domain.ExportJob, error) {
	var job domain.ExportJob
	err := db.WithContext(ctx).
		Where("org_id = ? AND id = ?", orgID, id).
		First(&job).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &job, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, orgID int64, page pagination.Pagination) ([]*domain.ExportJob, error) {
	stmt := db.WithContext(ctx).
		Model(&domain.ExportJob{}).
		Where("org_id = ?", orgID)

	if page.PageToken != "" {
		cursor, err := pagination.DecodeCursor(page.PageToken)
		if err != nil {
			return nil, err
		}
		cursorID, err := snowflake.ParseString(cursor.ID)
		if err != nil {
			return nil, pagination.ErrInvalidCursor
		}
		createdAt, err := time.Parse(time.RFC3339Nano, cursor.CreatedAt)
		if err != nil {
			return nil, pagination.ErrInvalidCursor
		}
		stmt = stmt.Where(
			"created_at < ? OR (created_at = ? AND id < ?)",
			createdAt, createdAt, cursorID.Int64(),
		)
	}

	stmt = stmt.Order("created_at desc, id desc")
	if page.PageSize > 0 {
		// One extra row tells the caller whether another page exists.
		stmt = stmt.Limit(page.PageSize + 1)
	}

	var jobs []*domain.ExportJob
	if err := stmt.Find(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

func (r *repo) Delete(ctx context.Context, db *gorm.DB, orgID, id int64) (int64, error) {
	result := db.WithContext(ctx).
		Where("org_id = ? AND id = ?", orgID, id).
		Delete(&domain.ExportJob{})
	return result.RowsAffected, result.Error
}

func (r *repo) ClaimPending(ctx context.Context, db *gorm.DB, orgID, id int64) (bool, error) {
	result := db.WithContext(ctx).
		Model(&domain.ExportJob{}).
		Where("org_id = ? AND id = ? AND status = ?", orgID, id, domain.ExportStatusPending).
		Update("status", domain.ExportStatusProcessing)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repo) MarkCompleted(ctx context.Context, db *gorm.DB, job *domain.ExportJob) error {
	return db.WithContext(ctx).
		Model(&domain.ExportJob{}).
		Where("org_id = ? AND id = ? AND status = ?", job.OrgID, job.ID, domain.ExportStatusProcessing).
		Updates(map[string]any{
			"status":          domain.ExportStatusCompleted,
			"total_records":   job.TotalRecords,
			"file_size_bytes": job.FileSizeBytes,
			"file_content":    job.FileContent,
			"checksum":        job.Checksum,
			"expires_at":      job.ExpiresAt,
			"completed_at":    job.CompletedAt,
		}).Error
}

func (r *repo) MarkFailed(ctx context.Context, db *gorm.DB, orgID, id int64, message string, at time.Time) error {
	return db.WithContext(ctx).
		Model(&domain.ExportJob{}).
		Where("org_id = ? AND id = ? AND status = ?", orgID, id, domain.ExportStatusProcessing).
		Updates(map[string]any{
			"status":        domain.ExportStatusFailed,
			"error_message": message,
			"completed_at":  at,
		}).Error
}

func (r *repo) ListRecords(ctx context.Context, db *gorm.DB, orgID int64, filter domain.RecordFilter) ([]domain.AuditRecord, error) {
	stmt := db.WithContext(ctx).
		Model(&domain.AuditRecord{}).
		Where("org_id = ?", orgID).
		Where("occurred_at >= ? AND occurred_at < ?", filter.DateFrom, filter.DateTo)

	if len(filter.EventTypes) > 0 {
		stmt = stmt.Where("event_type IN ?", filter.EventTypes)
	}
	if len(filter.UserIDs) > 0 {
		stmt = stmt.Where("user_id IN ?", filter.UserIDs)
	}
	if len(filter.EntityTypes) > 0 {
		stmt = stmt.Where("entity_type IN ?", filter.EntityTypes)
	}

	var records []domain.AuditRecord
	if err := stmt.Order("occurred_at ASC, id ASC").Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

func (r *repo) InsertAccessLog(ctx context.Context, db *gorm.DB, entry *domain.ExportAccessLog) error {
	return db.WithContext(ctx).Create(entry).Error
}

func (r *repo) ListAccessLogs(ctx context.Context, db *gorm.DB, orgID, jobID int64) ([]domain.ExportAccessLog, error) {
	var entries []domain.ExportAccessLog
	err := db.WithContext(ctx).
		Where("org_id = ? AND job_id = ?", orgID, jobID).
		Order("accessed_at ASC, id ASC").
		Find(&entries).Error
	return entries, err
}

func (r *repo) ListPending(ctx context.Context, db *gorm.DB, limit int) ([]domain.PendingJobRef, error) {
	var refs []domain.PendingJobRef
	err := db.WithContext(ctx).
		Model(&domain.ExportJob{}).
		Select("id", "org_id").
		Where("status = ?", domain.ExportStatusPending).
		Order("created_at ASC, id ASC").
		Limit(limit).
		Scan(&refs).Error
	return refs, err
}

func (r *repo) DeleteExpired(ctx context.Context, db *gorm.DB, before time.Time) (int64, error) {
	result := db.WithContext(ctx).
		Where("status = ? AND expires_at IS NOT NULL AND expires_at < ?", domain.ExportStatusCompleted, before).
		Delete(&domain.ExportJob{})
	return result.RowsAffected, result.Error
}
