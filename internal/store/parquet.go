package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/parquet-go/parquet-go"

	"mirrord/internal/domain"
)

// AuditExporter dumps the order-mapping audit trail to Parquet files for
// offline analysis. One file per day; re-exports merge by row id so the
// export is safe to run repeatedly.
type AuditExporter struct {
	DataDir string
}

// NewAuditExporter creates an AuditExporter rooted at the given directory.
func NewAuditExporter(dataDir string) *AuditExporter {
	return &AuditExporter{DataDir: dataDir}
}

// MappingRecord is the Parquet schema for the mapping audit trail.
type MappingRecord struct {
	ID                int64  `parquet:"id"`
	MasterOrderID     string `parquet:"master_order_id"`
	FollowerOrderID   string `parquet:"follower_order_id"`
	FollowerAccountID int64  `parquet:"follower_account_id"`
	SyncState         string `parquet:"sync_state"`
	Reason            string `parquet:"reason"`
	CreatedAt         int64  `parquet:"created_at,timestamp(millisecond)"` // Unix ms
	UpdatedAt         int64  `parquet:"updated_at,timestamp(millisecond)"` // Unix ms
}

// ExportMappings writes the given rows into the day file for now, merged
// with any rows already exported. Returns the file path.
func (e *AuditExporter) ExportMappings(mappings []domain.Mapping, now time.Time) (string, error) {
	path := e.auditPath(now)

	records := make([]MappingRecord, 0, len(mappings))
	for _, m := range mappings {
		records = append(records, MappingRecord{
			ID:                m.ID,
			MasterOrderID:     m.MasterOrderID,
			FollowerOrderID:   m.FollowerOrderID,
			FollowerAccountID: m.FollowerAccountID,
			SyncState:         string(m.SyncState),
			Reason:            m.Reason,
			CreatedAt:         m.CreatedAt.UnixMilli(),
			UpdatedAt:         m.UpdatedAt.UnixMilli(),
		})
	}

	existing, _ := ReadMappingRecords(path)
	merged := mergeMappingRecords(existing, records)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	if err := parquet.WriteFile(path, merged); err != nil {
		return "", fmt.Errorf("writing audit export: %w", err)
	}
	return path, nil
}

// ReadMappingRecords reads back one exported audit file.
func ReadMappingRecords(path string) ([]MappingRecord, error) {
	return parquet.ReadFile[MappingRecord](path)
}

// auditPath returns the file for one day's export.
// Layout: <dataDir>/audit/order_maps/<YYYY-MM-DD>.parquet
func (e *AuditExporter) auditPath(t time.Time) string {
	return filepath.Join(e.DataDir, "audit", "order_maps", t.UTC().Format("2006-01-02")+".parquet")
}

// mergeMappingRecords deduplicates records by row id, preferring incoming
// over existing (the later export carries the fresher sync state). Results
// are sorted by id.
func mergeMappingRecords(existing, incoming []MappingRecord) []MappingRecord {
	seen := make(map[int64]MappingRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[r.ID] = r
	}
	for _, r := range incoming {
		seen[r.ID] = r
	}

	merged := make([]MappingRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].ID < merged[j].ID
	})
	return merged
}
