package server_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/coursekitlabs/coursekit/internal/audit/domain"
	"github.com/coursekitlabs/coursekit/internal/audit/repository"
	auditservice "github.com/coursekitlabs/coursekit/internal/audit/service"
	"github.com/coursekitlabs/coursekit/internal/clock"
	"github.com/coursekitlabs/coursekit/internal/config"
	"github.com/coursekitlabs/coursekit/internal/ratelimit"
	"github.com/coursekitlabs/coursekit/internal/server"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	org1ID = "101"
	org2ID = "202"

	triggerSecret = "trigger-secret-for-tests"
)

type testServer struct {
	router http.Handler
	db     *gorm.DB
	clock  *clock.Manual
	node   *snowflake.Node
	srv    *server.Server
}

func newTestServer(t *testing.T, limiter *ratelimit.Limiter) *testServer {
	t.Helper()

	gdb, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "server.db")), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, gdb.AutoMigrate(
		&domain.ExportJob{},
		&domain.AuditRecord{},
		&domain.ExportAccessLog{},
		&domain.OrganizationMember{},
	))

	members := []domain.OrganizationMember{
		{OrgID: 101, UserID: "admin-1", Role: "admin"},
		{OrgID: 101, UserID: "viewer-1", Role: "member"},
		{OrgID: 202, UserID: "admin-2", Role: "owner"},
	}
	for i := range members {
		require.NoError(t, gdb.Create(&members[i]).Error)
	}

	node, err := snowflake.NewNode(2)
	require.NoError(t, err)
	manual := clock.NewManual(time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC))
	cfg := config.Config{
		TriggerSecret:       triggerSecret,
		ExportRetentionDays: 30,
	}

	svc := auditservice.New(auditservice.Params{
		DB:    gdb,
		Log:   zap.NewNop(),
		GenID: node,
		Repo:  repository.Provide(),
		Clock: manual,
		Cfg:   cfg,
	})

	if limiter == nil {
		limiter = ratelimit.NewWithClient(nil, 0, time.Minute)
	}

	srv := server.New(server.Params{
		Cfg:      cfg,
		Log:      zap.NewNop(),
		DB:       gdb,
		AuditSvc: svc,
		Limiter:  limiter,
	})

	return &testServer{router: srv.Router(), db: gdb, clock: manual, node: node, srv: srv}
}

func (ts *testServer) seedRecords(t *testing.T, orgID int64, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		rec := domain.AuditRecord{
			ID:         ts.node.Generate().Int64(),
			OrgID:      orgID,
			EventType:  "course.created",
			EntityType: "course",
			EntityID:   fmt.Sprintf("c-%d", i),
			UserID:     "u-1",
			OccurredAt: time.Date(2024, 1, 10, 9, 0, i, 0, time.UTC),
		}
		require.NoError(t, ts.db.Create(&rec).Error)
	}
}

func (ts *testServer) do(method, path, user string, body any, headers map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if user != "" {
		req.Header.Set(server.HeaderUser, user)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func (ts *testServer) createJob(t *testing.T, orgID, user string) string {
	t.Helper()
	w := ts.do(http.MethodPost, exportPath(orgID, ""), user, map[string]any{
		"format":    "csv",
		"date_from": "2024-01-01",
		"date_to":   "2024-01-31",
	}, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return dataField(t, w, "id")
}

func exportPath(orgID, suffix string) string {
	return "/api/v1/organizations/" + orgID + "/audit/export" + suffix
}

func dataField(t *testing.T, w *httptest.ResponseRecorder, field string) string {
	t.Helper()
	var body struct {
		Data map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	value, ok := body.Data[field].(string)
	require.True(t, ok, "missing data.%s in %s", field, w.Body.String())
	return value
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body.Error.Code
}

func TestAdminGate(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(http.MethodGet, exportPath(org1ID, ""), "", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// A plain member is not enough.
	w = ts.do(http.MethodGet, exportPath(org1ID, ""), "viewer-1", nil, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	// A non-member sees the same not-found as a missing resource.
	w = ts.do(http.MethodGet, exportPath(org1ID, ""), "admin-2", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(http.MethodGet, exportPath("not-an-id", ""), "admin-1", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(http.MethodGet, exportPath(org1ID, ""), "admin-1", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCreateExportJob(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(http.MethodPost, exportPath(org1ID, ""), "admin-1", map[string]any{
		"format":    "json",
		"date_from": "2024-01-01",
		"date_to":   "2024-01-31",
	}, nil)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "pending", dataField(t, w, "status"))
	assert.Equal(t, "json", dataField(t, w, "format"))

	w = ts.do(http.MethodPost, exportPath(org1ID, ""), "admin-1", map[string]any{
		"format":    "pdf",
		"date_from": "2024-01-01",
		"date_to":   "2024-01-31",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_format", errorCode(t, w))

	w = ts.do(http.MethodPost, exportPath(org1ID, ""), "admin-1", map[string]any{
		"format":    "csv",
		"date_from": "2024-01-31",
		"date_to":   "2024-01-01",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_date_range", errorCode(t, w))

	// One day reversed: must be rejected as a bad range, not widened into an
	// empty-but-valid window by the inclusive end-of-day adjustment.
	w = ts.do(http.MethodPost, exportPath(org1ID, ""), "admin-1", map[string]any{
		"format":    "csv",
		"date_from": "2024-01-02",
		"date_to":   "2024-01-01",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_date_range", errorCode(t, w))

	w = ts.do(http.MethodPost, exportPath(org1ID, ""), "admin-1", map[string]any{
		"format":    "csv",
		"date_from": "January 1st",
		"date_to":   "2024-01-31",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTriggerEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.seedRecords(t, 101, 3)
	jobID := ts.createJob(t, org1ID, "admin-1")

	processPath := exportPath(org1ID, "/"+jobID+"/process")

	// The trigger is machine-to-machine: no secret, no access, admin or not.
	w := ts.do(http.MethodPost, processPath, "admin-1", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = ts.do(http.MethodPost, processPath, "", nil, map[string]string{
		server.HeaderTriggerSecret: "wrong",
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = ts.do(http.MethodPost, processPath, "", nil, map[string]string{
		server.HeaderTriggerSecret: triggerSecret,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var body struct {
		Data struct {
			Records       int64 `json:"records"`
			FileSizeBytes int64 `json:"file_size_bytes"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, int64(3), body.Data.Records)
	assert.Positive(t, body.Data.FileSizeBytes)

	// Second trigger is a conflict, not a retry.
	w = ts.do(http.MethodPost, processPath, "", nil, map[string]string{
		server.HeaderTriggerSecret: triggerSecret,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "export_not_pending", errorCode(t, w))

	// Unknown job under the right org.
	w = ts.do(http.MethodPost, exportPath(org1ID, "/"+ts.node.Generate().String()+"/process"), "", nil, map[string]string{
		server.HeaderTriggerSecret: triggerSecret,
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDownloadFlow(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.seedRecords(t, 101, 2)
	jobID := ts.createJob(t, org1ID, "admin-1")

	downloadPath := exportPath(org1ID, "/"+jobID+"/download")

	// Scenario C: download before processing is a conflict.
	w := ts.do(http.MethodGet, downloadPath, "admin-1", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "export_not_completed", errorCode(t, w))

	w = ts.do(http.MethodPost, exportPath(org1ID, "/"+jobID+"/process"), "", nil, map[string]string{
		server.HeaderTriggerSecret: triggerSecret,
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = ts.do(http.MethodGet, downloadPath, "admin-1", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="audit-log-2024-02-01.csv"`, w.Header().Get("Content-Disposition"))
	assert.Equal(t, fmt.Sprint(w.Body.Len()), w.Header().Get("Content-Length"))
	assert.Positive(t, w.Body.Len())

	// The download is on the access log.
	w = ts.do(http.MethodGet, exportPath(org1ID, "/"+jobID+"/access"), "admin-1", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var accessBody struct {
		Data []struct {
			UserID string `json:"user_id"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &accessBody))
	require.Len(t, accessBody.Data, 1)
	assert.Equal(t, "admin-1", accessBody.Data[0].UserID)
}

func TestTenantIsolationOverHTTP(t *testing.T) {
	ts := newTestServer(t, nil)
	jobID := ts.createJob(t, org1ID, "admin-1")

	// org2's owner cannot reach org1's job through their own org path.
	w := ts.do(http.MethodGet, exportPath(org2ID, "/"+jobID), "admin-2", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(http.MethodGet, exportPath(org2ID, "/"+jobID+"/download"), "admin-2", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(http.MethodDelete, exportPath(org2ID, "/"+jobID), "admin-2", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// And the trigger respects the org scope too.
	w = ts.do(http.MethodPost, exportPath(org2ID, "/"+jobID+"/process"), "", nil, map[string]string{
		server.HeaderTriggerSecret: triggerSecret,
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeleteExportJob(t *testing.T) {
	ts := newTestServer(t, nil)
	jobID := ts.createJob(t, org1ID, "admin-1")

	w := ts.do(http.MethodDelete, exportPath(org1ID, "/"+jobID), "admin-1", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = ts.do(http.MethodDelete, exportPath(org1ID, "/"+jobID), "admin-1", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(http.MethodGet, exportPath(org1ID, "/"+jobID), "admin-1", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t, nil)
	w := ts.do(http.MethodGet, "/healthz", "", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
