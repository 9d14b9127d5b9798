package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/coursekitlabs/coursekit/internal/audit/domain"
	"github.com/coursekitlabs/coursekit/pkg/db/pagination"
)

type createExportJobRequest struct {
	Format      string   `json:"format"`
	DateFrom    string   `json:"date_from"`
	DateTo      string   `json:"date_to"`
	EventTypes  []string `json:"event_types,omitempty"`
	UserIDs     []string `json:"user_ids,omitempty"`
	EntityTypes []string `json:"entity_types,omitempty"`
}

// @Summary      Create Audit Export Job
// @Description  Queue an export of the organization's audit log. Processing happens out of band.
// @Tags         audit-export
// @Accept       json
// @Produce      json
// @Param        org_id   path  string  true  "Organization ID"
// @Param        request  body  createExportJobRequest  true  "Create Export Job Request"
// @Success      201  {object}  map[string]any
// @Router       /organizations/{org_id}/audit/export [post]
func (s *Server) CreateExportJob(c *gin.Context) {
	var req createExportJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	dateFrom, err := time.Parse("2006-01-02", strings.TrimSpace(req.DateFrom))
	if err != nil {
		AbortWithError(c, newValidationError("date_from", "invalid_date", "expected YYYY-MM-DD"))
		return
	}
	dateTo, err := time.Parse("2006-01-02", strings.TrimSpace(req.DateTo))
	if err != nil {
		AbortWithError(c, newValidationError("date_to", "invalid_date", "expected YYYY-MM-DD"))
		return
	}
	// Check the ordering on the raw days; widening date_to to the end of its
	// day below would otherwise let a one-day-reversed range through as an
	// empty window.
	if dateTo.Before(dateFrom) {
		AbortWithError(c, auditdomain.ErrInvalidDateRange)
		return
	}

	resp, err := s.auditSvc.Create(c.Request.Context(), auditdomain.CreateRequest{
		Format:   req.Format,
		DateFrom: dateFrom,
		// The end of the range is inclusive at day granularity.
		DateTo:      dateTo.Add(24 * time.Hour),
		EventTypes:  req.EventTypes,
		UserIDs:     req.UserIDs,
		EntityTypes: req.EntityTypes,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	respondCreated(c, resp)
}

// @Summary      List Audit Export Jobs
// @Tags         audit-export
// @Produce      json
// @Param        org_id      path   string  true   "Organization ID"
// @Param        page_token  query  string  false  "Page Token"
// @Param        page_size   query  int     false  "Page Size"
// @Success      200  {object}  map[string]any
// @Router       /organizations/{org_id}/audit/export [get]
func (s *Server) ListExportJobs(c *gin.Context) {
	var query pagination.Pagination
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.auditSvc.List(c.Request.Context(), auditdomain.ListRequest{
		PageToken: query.PageToken,
		PageSize:  int32(query.PageSize),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	respondList(c, resp.Jobs, &resp.PageInfo)
}

// @Summary      Get Audit Export Job
// @Tags         audit-export
// @Produce      json
// @Param        org_id  path  string  true  "Organization ID"
// @Param        job_id  path  string  true  "Export Job ID"
// @Success      200  {object}  map[string]any
// @Router       /organizations/{org_id}/audit/export/{job_id} [get]
func (s *Server) GetExportJob(c *gin.Context) {
	resp, err := s.auditSvc.Get(c.Request.Context(), c.Param("job_id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, resp)
}

// @Summary      Delete Audit Export Job
// @Tags         audit-export
// @Produce      json
// @Param        org_id  path  string  true  "Organization ID"
// @Param        job_id  path  string  true  "Export Job ID"
// @Success      200  {object}  map[string]any
// @Router       /organizations/{org_id}/audit/export/{job_id} [delete]
func (s *Server) DeleteExportJob(c *gin.Context) {
	jobID := strings.TrimSpace(c.Param("job_id"))
	if err := s.auditSvc.Delete(c.Request.Context(), jobID); err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, gin.H{"id": jobID, "deleted": true})
}

// @Summary      Process Audit Export Job
// @Description  Scheduler-only trigger that drives one pending job to a terminal state.
// @Tags         audit-export
// @Produce      json
// @Param        org_id  path    string  true  "Organization ID"
// @Param        job_id  path    string  true  "Export Job ID"
// @Param        X-Scheduler-Secret  header  string  true  "Shared trigger secret"
// @Success      200  {object}  map[string]any
// @Router       /organizations/{org_id}/audit/export/{job_id}/process [post]
func (s *Server) ProcessExportJob(c *gin.Context) {
	result, err := s.auditSvc.Process(c.Request.Context(), c.Param("job_id"))
	if err != nil {
		s.metrics.exportOutcomes.WithLabelValues(triggerOutcome(err)).Inc()
		AbortWithError(c, err)
		return
	}

	s.metrics.exportOutcomes.WithLabelValues("completed").Inc()
	respondData(c, result)
}

// @Summary      Download Audit Export
// @Description  Returns the generated file for a completed job and records the access.
// @Tags         audit-export
// @Produce      octet-stream
// @Param        org_id  path  string  true  "Organization ID"
// @Param        job_id  path  string  true  "Export Job ID"
// @Success      200  {file}  byte
// @Router       /organizations/{org_id}/audit/export/{job_id}/download [get]
func (s *Server) DownloadExport(c *gin.Context) {
	result, err := s.auditSvc.Download(c.Request.Context(), c.Param("job_id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Header("Content-Disposition", `attachment; filename="`+result.Filename+`"`)
	c.Header("Content-Length", strconv.Itoa(len(result.Content)))
	c.Data(http.StatusOK, result.ContentType, result.Content)
}

// @Summary      List Export Access Log
// @Description  Who downloaded this export, and when.
// @Tags         audit-export
// @Produce      json
// @Param        org_id  path  string  true  "Organization ID"
// @Param        job_id  path  string  true  "Export Job ID"
// @Success      200  {object}  map[string]any
// @Router       /organizations/{org_id}/audit/export/{job_id}/access [get]
func (s *Server) ListExportAccess(c *gin.Context) {
	entries, err := s.auditSvc.ListAccess(c.Request.Context(), c.Param("job_id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, entries)
}

func triggerOutcome(err error) string {
	switch toAPIError(err).Code {
	case "export_not_pending":
		return "conflict"
	case "not_found":
		return "not_found"
	default:
		return "failed"
	}
}
