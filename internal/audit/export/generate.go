// Package export turns audit records into downloadable file content. The
// generators are pure: records in, bytes out, no storage access.
package export

import (
	"bytes"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/coursekitlabs/coursekit/internal/audit/domain"
)

// Column order is part of the download contract; keep header, CSV rows and
// the XLSX sheet in sync.
var header = []string{
	"timestamp",
	"event_type",
	"entity_type",
	"entity_id",
	"user_id",
	"ip_address",
	"user_agent",
	"metadata",
}

func Generate(records []domain.AuditRecord, format domain.ExportFormat) ([]byte, error) {
	switch format {
	case domain.ExportFormatCSV:
		return generateCSV(records)
	case domain.ExportFormatJSON:
		return generateJSON(records)
	case domain.ExportFormatXLSX:
		return generateXLSX(records)
	default:
		return nil, fmt.Errorf("unsupported export format: %s", format)
	}
}

func generateCSV(records []domain.AuditRecord) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(header); err != nil {
		return nil, err
	}
	for _, rec := range records {
		if err := w.Write(row(rec)); err != nil {
			return nil, err
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func generateJSON(records []domain.AuditRecord) ([]byte, error) {
	type exportRecord struct {
		Timestamp  string         `json:"timestamp"`
		EventType  string         `json:"event_type"`
		EntityType string         `json:"entity_type"`
		EntityID   string         `json:"entity_id"`
		UserID     string         `json:"user_id"`
		IPAddress  string         `json:"ip_address,omitempty"`
		UserAgent  string         `json:"user_agent,omitempty"`
		Metadata   map[string]any `json:"metadata,omitempty"`
	}

	out := make([]exportRecord, 0, len(records))
	for _, rec := range records {
		out = append(out, exportRecord{
			Timestamp:  rec.OccurredAt.UTC().Format(time.RFC3339),
			EventType:  rec.EventType,
			EntityType: rec.EntityType,
			EntityID:   rec.EntityID,
			UserID:     rec.UserID,
			IPAddress:  stringPtrValue(rec.IPAddress),
			UserAgent:  stringPtrValue(rec.UserAgent),
			Metadata:   rec.Metadata,
		})
	}

	return json.MarshalIndent(out, "", "  ")
}

func row(rec domain.AuditRecord) []string {
	var metadata string
	if len(rec.Metadata) > 0 {
		raw, _ := json.Marshal(rec.Metadata)
		metadata = string(raw)
	}
	return []string{
		rec.OccurredAt.UTC().Format(time.RFC3339),
		rec.EventType,
		rec.EntityType,
		rec.EntityID,
		rec.UserID,
		stringPtrValue(rec.IPAddress),
		stringPtrValue(rec.UserAgent),
		metadata,
	}
}

func stringPtrValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// Checksum returns the hex sha256 of the generated content, exposed on the
// job for integrity verification by consumers.
func Checksum(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// ContentType maps a format to the MIME type sent on download.
func ContentType(format domain.ExportFormat) string {
	switch format {
	case domain.ExportFormatJSON:
		return "application/json"
	case domain.ExportFormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return "text/csv"
	}
}

// Filename derives the attachment name from the job's completion date.
func Filename(format domain.ExportFormat, completedAt time.Time) string {
	return fmt.Sprintf("audit-log-%s.%s", completedAt.UTC().Format("2006-01-02"), format)
}
