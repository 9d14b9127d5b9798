package domain

import (
	"context"
	"errors"
	"time"

	"github.com/coursekitlabs/coursekit/pkg/db/pagination"
)

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*Response, error)
	List(ctx context.Context, req ListRequest) (ListResponse, error)
	Get(ctx context.Context, id string) (*Response, error)
	Delete(ctx context.Context, id string) error
	Process(ctx context.Context, id string) (*ProcessResult, error)
	Download(ctx context.Context, id string) (*DownloadResult, error)
	ListAccess(ctx context.Context, id string) ([]AccessEntry, error)
}

type CreateRequest struct {
	Format      string    `json:"format"`
	DateFrom    time.Time `json:"date_from"`
	DateTo      time.Time `json:"date_to"`
	EventTypes  []string  `json:"event_types,omitempty"`
	UserIDs     []string  `json:"user_ids,omitempty"`
	EntityTypes []string  `json:"entity_types,omitempty"`
}

type ListRequest struct {
	PageToken string
	PageSize  int32
}

type ListResponse struct {
	PageInfo pagination.PageInfo `json:"page_info"`
	Jobs     []Response          `json:"jobs"`
}

type Response struct {
	ID             string     `json:"id"`
	OrganizationID string     `json:"organization_id"`
	RequestedBy    string     `json:"requested_by"`
	Status         string     `json:"status"`
	Format         string     `json:"format"`
	DateFrom       time.Time  `json:"date_from"`
	DateTo         time.Time  `json:"date_to"`
	EventTypes     []string   `json:"event_types,omitempty"`
	UserIDs        []string   `json:"user_ids,omitempty"`
	EntityTypes    []string   `json:"entity_types,omitempty"`
	TotalRecords   *int64     `json:"total_records,omitempty"`
	FileSizeBytes  *int64     `json:"file_size_bytes,omitempty"`
	Checksum       *string    `json:"checksum,omitempty"`
	ErrorMessage   *string    `json:"error_message,omitempty"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// ProcessResult summarizes one completed processing run for the trigger
// endpoint response.
type ProcessResult struct {
	Records       int64 `json:"records"`
	FileSizeBytes int64 `json:"file_size_bytes"`
}

type DownloadResult struct {
	Content     []byte
	ContentType string
	Filename    string
}

type AccessEntry struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	IPAddress  string    `json:"ip_address,omitempty"`
	UserAgent  string    `json:"user_agent,omitempty"`
	AccessedAt time.Time `json:"accessed_at"`
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidDateRange    = errors.New("invalid_date_range")
	ErrInvalidFormat       = errors.New("invalid_format")
	ErrNotFound            = errors.New("not_found")
	ErrNotPending          = errors.New("export_not_pending")
	ErrNotCompleted        = errors.New("export_not_completed")
	ErrExportExpired       = errors.New("export_expired")
)
