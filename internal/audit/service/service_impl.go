package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/coursekitlabs/coursekit/internal/audit/domain"
	"github.com/coursekitlabs/coursekit/internal/audit/export"
	"github.com/coursekitlabs/coursekit/internal/clock"
	"github.com/coursekitlabs/coursekit/internal/config"
	"github.com/coursekitlabs/coursekit/internal/orgcontext"
	"github.com/coursekitlabs/coursekit/pkg/db/pagination"
	"github.com/golang/snappy"
	"github.com/oklog/ulid/v2"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// maxExportRange bounds the synchronous Process call; wider windows have to be
// split into multiple jobs.
const maxExportRange = 366 * 24 * time.Hour

// processTimeout caps one processing run end to end.
const processTimeout = 5 * time.Minute

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  domain.Repository
	Clock clock.Clock
	Cfg   config.Config
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	repo  domain.Repository
	genID *snowflake.Node
	clock clock.Clock
	cfg   config.Config
}

func New(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("audit.export.service"),
		repo:  p.Repo,
		genID: p.GenID,
		clock: p.Clock,
		cfg:   p.Cfg,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateRequest) (*domain.Response, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, domain.ErrInvalidOrganization
	}

	format := domain.ExportFormat(strings.ToLower(strings.TrimSpace(req.Format)))
	if !format.Valid() {
		return nil, domain.ErrInvalidFormat
	}

	if req.DateFrom.IsZero() || req.DateTo.IsZero() {
		return nil, domain.ErrInvalidDateRange
	}
	if req.DateTo.Before(req.DateFrom) {
		return nil, domain.ErrInvalidDateRange
	}
	if req.DateTo.Sub(req.DateFrom) > maxExportRange {
		return nil, domain.ErrInvalidDateRange
	}

	var requestedBy string
	if actor, ok := orgcontext.ActorFromContext(ctx); ok {
		requestedBy = actor.UserID
	}

	job := &domain.ExportJob{
		ID:          s.genID.Generate().Int64(),
		OrgID:       orgID,
		RequestedBy: requestedBy,
		Status:      domain.ExportStatusPending,
		Format:      format,
		DateFrom:    req.DateFrom.UTC(),
		DateTo:      req.DateTo.UTC(),
		EventTypes:  trimAll(req.EventTypes),
		UserIDs:     trimAll(req.UserIDs),
		EntityTypes: trimAll(req.EntityTypes),
		CreatedAt:   s.clock.Now(ctx),
	}

	if err := s.repo.Insert(ctx, s.db, job); err != nil {
		return nil, err
	}

	s.log.Info("export job created",
		zap.String("job_id", snowflake.ID(job.ID).String()),
		zap.String("format", string(format)),
		zap.Time("date_from", job.DateFrom),
		zap.Time("date_to", job.DateTo),
	)

	resp := s.toResponse(job)
	return &resp, nil
}

func (s *Service) List(ctx context.Context, req domain.ListRequest) (domain.ListResponse, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return domain.ListResponse{}, domain.ErrInvalidOrganization
	}

	pageSize := req.PageSize
	if pageSize < 0 {
		pageSize = 0
	} else if pageSize == 0 {
		pageSize = 50
	}

	jobs, err := s.repo.List(ctx, s.db, orgID, pagination.Pagination{
		PageToken: req.PageToken,
		PageSize:  int(pageSize),
	})
	if err != nil {
		return domain.ListResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(jobs, pageSize, func(job *domain.ExportJob) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        snowflake.ID(job.ID).String(),
			CreatedAt: job.CreatedAt.Format(time.RFC3339Nano),
		})
		if err != nil {
			return ""
		}
		return token
	})
	if pageInfo != nil && pageInfo.HasMore && len(jobs) > int(pageSize) {
		jobs = jobs[:pageSize]
	}

	resp := make([]domain.Response, 0, len(jobs))
	for _, job := range jobs {
		if job == nil {
			continue
		}
		resp = append(resp, s.toResponse(job))
	}

	out := domain.ListResponse{Jobs: resp}
	if pageInfo != nil {
		out.PageInfo = *pageInfo
	}
	return out, nil
}

func (s *Service) Get(ctx context.Context, id string) (*domain.Response, error) {
	orgID, jobID, err := s.scope(ctx, id)
	if err != nil {
		return nil, err
	}

	job, err := s.repo.FindByID(ctx, s.db, orgID, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, domain.ErrNotFound
	}

	resp := s.toResponse(job)
	return &resp, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	orgID, jobID, err := s.scope(ctx, id)
	if err != nil {
		return err
	}

	rows, err := s.repo.Delete(ctx, s.db, orgID, jobID)
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrNotFound
	}

	s.log.Info("export job deleted", zap.String("job_id", id))
	return nil
}

// Process drives one job from pending to a terminal state. The claim is an
// atomic conditional update; of N concurrent callers exactly one proceeds and
// the rest see ErrNotPending. Failures after the claim are written back onto
// the job so it never stays stuck in processing.
func (s *Service) Process(ctx context.Context, id string) (*domain.ProcessResult, error) {
	orgID, jobID, err := s.scope(ctx, id)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, processTimeout)
	defer cancel()

	claimed, err := s.repo.ClaimPending(ctx, s.db, orgID, jobID)
	if err != nil {
		return nil, err
	}
	if !claimed {
		job, err := s.repo.FindByID(ctx, s.db, orgID, jobID)
		if err != nil {
			return nil, err
		}
		if job == nil {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrNotPending
	}

	job, err := s.repo.FindByID(ctx, s.db, orgID, jobID)
	if err != nil {
		return nil, s.failJob(ctx, orgID, jobID, err)
	}
	if job == nil {
		// Deleted between claim and read; nothing left to update.
		return nil, domain.ErrNotFound
	}

	records, err := s.repo.ListRecords(ctx, s.db, orgID, domain.RecordFilter{
		DateFrom:    job.DateFrom,
		DateTo:      job.DateTo,
		EventTypes:  job.EventTypes,
		UserIDs:     job.UserIDs,
		EntityTypes: job.EntityTypes,
	})
	if err != nil {
		return nil, s.failJob(ctx, orgID, jobID, err)
	}

	data, err := export.Generate(records, job.Format)
	if err != nil {
		return nil, s.failJob(ctx, orgID, jobID, err)
	}

	now := s.clock.Now(ctx)
	total := int64(len(records))
	size := int64(len(data))
	checksum := export.Checksum(data)
	expiresAt := now.AddDate(0, 0, s.cfg.ExportRetentionDays)

	job.TotalRecords = &total
	job.FileSizeBytes = &size
	job.FileContent = snappy.Encode(nil, data)
	job.Checksum = &checksum
	job.ExpiresAt = &expiresAt
	job.CompletedAt = &now

	// A storage failure here is the one unrecoverable case; the claim row
	// stays in processing and the error propagates.
	if err := s.repo.MarkCompleted(ctx, s.db, job); err != nil {
		return nil, err
	}

	s.log.Info("export job completed",
		zap.String("job_id", id),
		zap.Int64("records", total),
		zap.Int64("file_size_bytes", size),
	)

	return &domain.ProcessResult{Records: total, FileSizeBytes: size}, nil
}

func (s *Service) Download(ctx context.Context, id string) (*domain.DownloadResult, error) {
	orgID, jobID, err := s.scope(ctx, id)
	if err != nil {
		return nil, err
	}

	job, err := s.repo.FindByID(ctx, s.db, orgID, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, domain.ErrNotFound
	}
	if job.Status != domain.ExportStatusCompleted || job.FileContent == nil || job.CompletedAt == nil {
		return nil, domain.ErrNotCompleted
	}
	if job.ExpiresAt != nil && s.clock.Now(ctx).After(*job.ExpiresAt) {
		return nil, domain.ErrExportExpired
	}

	data, err := snappy.Decode(nil, job.FileContent)
	if err != nil {
		return nil, fmt.Errorf("decode export content: %w", err)
	}
	if job.FileSizeBytes != nil && int64(len(data)) != *job.FileSizeBytes {
		return nil, fmt.Errorf("export content length mismatch: got %d want %d", len(data), *job.FileSizeBytes)
	}

	var actor orgcontext.Actor
	if a, ok := orgcontext.ActorFromContext(ctx); ok {
		actor = a
	}

	// The access log entry lands before any content leaves the service.
	entry := &domain.ExportAccessLog{
		ID:         ulid.Make().String(),
		JobID:      jobID,
		OrgID:      orgID,
		UserID:     actor.UserID,
		IPAddress:  actor.IPAddress,
		UserAgent:  actor.UserAgent,
		AccessedAt: s.clock.Now(ctx),
	}
	if err := s.repo.InsertAccessLog(ctx, s.db, entry); err != nil {
		return nil, err
	}

	return &domain.DownloadResult{
		Content:     data,
		ContentType: export.ContentType(job.Format),
		Filename:    export.Filename(job.Format, *job.CompletedAt),
	}, nil
}

func (s *Service) ListAccess(ctx context.Context, id string) ([]domain.AccessEntry, error) {
	orgID, jobID, err := s.scope(ctx, id)
	if err != nil {
		return nil, err
	}

	job, err := s.repo.FindByID(ctx, s.db, orgID, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, domain.ErrNotFound
	}

	entries, err := s.repo.ListAccessLogs(ctx, s.db, orgID, jobID)
	if err != nil {
		return nil, err
	}

	out := make([]domain.AccessEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, domain.AccessEntry{
			ID:         e.ID,
			UserID:     e.UserID,
			IPAddress:  e.IPAddress,
			UserAgent:  e.UserAgent,
			AccessedAt: e.AccessedAt,
		})
	}
	return out, nil
}

// failJob moves a claimed job to failed, keeping the original error as the
// caller-visible one. The failed write itself must not mask the cause.
func (s *Service) failJob(ctx context.Context, orgID, jobID int64, cause error) error {
	// The cause may be the processing context itself dying (caller disconnect,
	// processTimeout). The failure write runs detached from that cancellation
	// so the job cannot stay stuck in processing.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	message := cause.Error()
	if len(message) > 2000 {
		message = message[:2000]
	}
	if err := s.repo.MarkFailed(ctx, s.db, orgID, jobID, message, s.clock.Now(ctx)); err != nil {
		s.log.Error("failed to mark export job failed",
			zap.String("job_id", snowflake.ID(jobID).String()),
			zap.NamedError("cause", cause),
			zap.Error(err),
		)
		return cause
	}
	s.log.Warn("export job failed",
		zap.String("job_id", snowflake.ID(jobID).String()),
		zap.String("error", message),
	)
	return cause
}

// scope resolves the caller's org and parses the job id. An unparseable id is
// reported as not found, the same as a job owned by another organization.
func (s *Service) scope(ctx context.Context, id string) (int64, int64, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return 0, 0, domain.ErrInvalidOrganization
	}
	jobID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil {
		return 0, 0, domain.ErrNotFound
	}
	return orgID, jobID.Int64(), nil
}

func (s *Service) toResponse(job *domain.ExportJob) domain.Response {
	return domain.Response{
		ID:             snowflake.ID(job.ID).String(),
		OrganizationID: snowflake.ID(job.OrgID).String(),
		RequestedBy:    job.RequestedBy,
		Status:         string(job.Status),
		Format:         string(job.Format),
		DateFrom:       job.DateFrom,
		DateTo:         job.DateTo,
		EventTypes:     job.EventTypes,
		UserIDs:        job.UserIDs,
		EntityTypes:    job.EntityTypes,
		TotalRecords:   job.TotalRecords,
		FileSizeBytes:  job.FileSizeBytes,
		Checksum:       job.Checksum,
		ErrorMessage:   job.ErrorMessage,
		ExpiresAt:      job.ExpiresAt,
		CreatedAt:      job.CreatedAt,
		CompletedAt:    job.CompletedAt,
	}
}

func trimAll(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v != "" {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
