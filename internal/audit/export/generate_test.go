package export_test

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"testing"
	"time"

	"github.com/coursekitlabs/coursekit/internal/audit/domain"
	"github.com/coursekitlabs/coursekit/internal/audit/export"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"gorm.io/datatypes"
)

func sampleRecords() []domain.AuditRecord {
	ip := "10.0.0.1"
	ua := `Mozilla/5.0 "quoted"`
	return []domain.AuditRecord{
		{
			ID:         1,
			OrgID:      42,
			EventType:  "course.published",
			EntityType: "course",
			EntityID:   "c-100",
			UserID:     "u-1",
			IPAddress:  &ip,
			UserAgent:  &ua,
			Metadata:   datatypes.JSONMap{"title": "Intro, part 1"},
			OccurredAt: time.Date(2024, 1, 5, 10, 30, 0, 0, time.UTC),
		},
		{
			ID:         2,
			OrgID:      42,
			EventType:  "member.removed",
			EntityType: "member",
			EntityID:   "m-7",
			UserID:     "u-2",
			OccurredAt: time.Date(2024, 1, 6, 8, 0, 0, 0, time.UTC),
		},
	}
}

func TestGenerateCSV(t *testing.T) {
	data, err := export.Generate(sampleRecords(), domain.ExportFormatCSV)
	require.NoError(t, err)

	rows, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	require.NoError(t, err)

	require.Len(t, rows, 3) // header + 2 records
	assert.Equal(t, []string{
		"timestamp", "event_type", "entity_type", "entity_id",
		"user_id", "ip_address", "user_agent", "metadata",
	}, rows[0])

	assert.Equal(t, "2024-01-05T10:30:00Z", rows[1][0])
	assert.Equal(t, "course.published", rows[1][1])
	assert.Equal(t, "c-100", rows[1][3])
	// Embedded quotes and commas survive the round trip.
	assert.Equal(t, `Mozilla/5.0 "quoted"`, rows[1][6])
	assert.JSONEq(t, `{"title":"Intro, part 1"}`, rows[1][7])

	assert.Equal(t, "member.removed", rows[2][1])
	assert.Equal(t, "", rows[2][5])
	assert.Equal(t, "", rows[2][7])
}

func TestGenerateCSVEscapesNewlines(t *testing.T) {
	ua := "line one\nline two"
	records := []domain.AuditRecord{{
		EventType:  "note.created",
		EntityType: "note",
		UserAgent:  &ua,
		OccurredAt: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
	}}

	data, err := export.Generate(records, domain.ExportFormatCSV)
	require.NoError(t, err)

	rows, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, ua, rows[1][6])
}

func TestGenerateJSON(t *testing.T) {
	data, err := export.Generate(sampleRecords(), domain.ExportFormatJSON)
	require.NoError(t, err)

	var out []map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	require.Len(t, out, 2)

	assert.Equal(t, "2024-01-05T10:30:00Z", out[0]["timestamp"])
	assert.Equal(t, "course.published", out[0]["event_type"])
	assert.Equal(t, "course", out[0]["entity_type"])
	assert.Equal(t, "c-100", out[0]["entity_id"])
	assert.Equal(t, "u-1", out[0]["user_id"])
	assert.Equal(t, "10.0.0.1", out[0]["ip_address"])

	// Optional fields are omitted, not emitted as empty strings.
	_, hasIP := out[1]["ip_address"]
	assert.False(t, hasIP)
}

func TestGenerateJSONEmpty(t *testing.T) {
	data, err := export.Generate(nil, domain.ExportFormatJSON)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))
}

func TestGenerateXLSX(t *testing.T) {
	data, err := export.Generate(sampleRecords(), domain.ExportFormatXLSX)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("Audit Log")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "timestamp", rows[0][0])
	assert.Equal(t, "course.published", rows[1][1])
	assert.Equal(t, "member.removed", rows[2][1])
}

func TestGenerateUnsupportedFormat(t *testing.T) {
	_, err := export.Generate(nil, domain.ExportFormat("pdf"))
	assert.Error(t, err)
}

func TestChecksumIsStable(t *testing.T) {
	data, err := export.Generate(sampleRecords(), domain.ExportFormatCSV)
	require.NoError(t, err)

	again, err := export.Generate(sampleRecords(), domain.ExportFormatCSV)
	require.NoError(t, err)

	assert.Equal(t, export.Checksum(data), export.Checksum(again))
	assert.Len(t, export.Checksum(data), 64)
}

func TestContentTypeAndFilename(t *testing.T) {
	completed := time.Date(2024, 3, 15, 23, 50, 0, 0, time.UTC)

	assert.Equal(t, "text/csv", export.ContentType(domain.ExportFormatCSV))
	assert.Equal(t, "application/json", export.ContentType(domain.ExportFormatJSON))
	assert.Equal(t,
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		export.ContentType(domain.ExportFormatXLSX))

	assert.Equal(t, "audit-log-2024-03-15.csv", export.Filename(domain.ExportFormatCSV, completed))
	assert.Equal(t, "audit-log-2024-03-15.xlsx", export.Filename(domain.ExportFormatXLSX, completed))
}
