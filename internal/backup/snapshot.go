// Package backup writes and restores JSON snapshots of the request table and
// exports it as a spreadsheet.
package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/hpnt/matreq/internal/db"
	"github.com/hpnt/matreq/internal/models"
)

// Columns lists the snapshot fields in table order.
var Columns = []string{
	"id", "request_date", "item_name", "specifications", "quantity", "urgency",
	"reason", "vendor", "status", "images", "created_at",
}

// Snapshot is the portable backup format, also accepted from DB_BACKUP_JSON.
type Snapshot struct {
	BackupDate   string   `json:"backup_date"`
	TotalRecords int      `json:"total_records"`
	Columns      []string `json:"columns"`
	Data         []Record `json:"data"`
}

// Record is one request row in a snapshot.
type Record struct {
	ID             uint      `json:"id"`
	RequestDate    string    `json:"request_date"`
	ItemName       string    `json:"item_name"`
	Specifications string    `json:"specifications"`
	Quantity       int       `json:"quantity"`
	Urgency        string    `json:"urgency"`
	Reason         string    `json:"reason"`
	Vendor         string    `json:"vendor"`
	Status         string    `json:"status"`
	Images         *string   `json:"images"`
	CreatedAt      Timestamp `json:"created_at"`
}

// Timestamp accepts RFC 3339 as well as the "YYYY-MM-DD HH:MM:SS" form
// older backups used. It marshals as RFC 3339.
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	models.DateLayout,
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Format(time.RFC3339))
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var s string
	if string(data) == "null" {
		t.Time = time.Time{}
		return nil
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("backup: created_at: %w", err)
	}
	if s == "" {
		t.Time = time.Time{}
		return nil
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("backup: created_at %q: unrecognized time format", s)
}

// Create reads every request, ordered by id.
func Create(ctx context.Context, gdb *gorm.DB) (*Snapshot, error) {
	var rows []models.MaterialRequest
	if err := gdb.WithContext(ctx).Order("id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("backup: read requests: %w", err)
	}
	snap := &Snapshot{
		BackupDate:   time.Now().Format(time.RFC3339),
		TotalRecords: len(rows),
		Columns:      Columns,
		Data:         make([]Record, len(rows)),
	}
	for i, r := range rows {
		snap.Data[i] = Record{
			ID:             r.ID,
			RequestDate:    r.RequestDate,
			ItemName:       r.ItemName,
			Specifications: r.Specifications,
			Quantity:       r.Quantity,
			Urgency:        r.Urgency,
			Reason:         r.Reason,
			Vendor:         r.Vendor,
			Status:         r.Status,
			Images:         r.Images,
			CreatedAt:      Timestamp{r.CreatedAt},
		}
	}
	return snap, nil
}

// Parse decodes a snapshot. A document without a data array is rejected.
func Parse(data []byte) (*Snapshot, error) {
	var raw struct {
		Snapshot
		Data *[]Record `json:"data"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("backup: parse snapshot: %w", err)
	}
	if raw.Data == nil {
		return nil, fmt.Errorf("backup: parse snapshot: missing data")
	}
	snap := raw.Snapshot
	snap.Data = *raw.Data
	snap.TotalRecords = len(snap.Data)
	if _, err := snap.Rows(); err != nil {
		return nil, err
	}
	return &snap, nil
}

// legacyStatuses maps the Korean labels older exports stored to statuses.
var legacyStatuses = map[string]string{
	"대기중":  models.StatusPending,
	"승인됨":  models.StatusApproved,
	"발주완료": models.StatusOrdered,
	"입고완료": models.StatusReceived,
	"반려":   models.StatusRejected,
}

// legacyUrgencies maps Korean urgency labels to urgency levels.
var legacyUrgencies = map[string]string{
	"낮음": models.UrgencyLow,
	"보통": models.UrgencyNormal,
	"높음": models.UrgencyHigh,
}

// normalizeEnum folds case and whitespace, maps legacy labels and reports
// whether the result is a known value. Empty becomes def.
func normalizeEnum(v, def string, legacy map[string]string, known func(string) bool) (string, bool) {
	v = strings.ToLower(strings.TrimSpace(v))
	if v == "" {
		return def, true
	}
	if mapped, ok := legacy[v]; ok {
		v = mapped
	}
	return v, known(v)
}

// Rows converts the snapshot records into models. Ids are kept when they are
// all set and distinct; otherwise rows are numbered 1..N in snapshot order.
// A status or urgency that is neither known nor a legacy label is an error.
func (s *Snapshot) Rows() ([]models.MaterialRequest, error) {
	now := time.Now()
	keepIDs := true
	seen := make(map[uint]bool, len(s.Data))
	for _, r := range s.Data {
		if r.ID == 0 || seen[r.ID] {
			keepIDs = false
			break
		}
		seen[r.ID] = true
	}

	rows := make([]models.MaterialRequest, len(s.Data))
	for i, r := range s.Data {
		row := models.MaterialRequest{
			ID:             r.ID,
			RequestDate:    r.RequestDate,
			ItemName:       r.ItemName,
			Specifications: r.Specifications,
			Quantity:       r.Quantity,
			Urgency:        r.Urgency,
			Reason:         r.Reason,
			Vendor:         r.Vendor,
			Status:         r.Status,
			CreatedAt:      r.CreatedAt.Time,
		}
		if !keepIDs {
			row.ID = uint(i + 1)
		}
		if r.Images != nil && strings.TrimSpace(*r.Images) != "" {
			img := *r.Images
			row.Images = &img
		}
		if row.Quantity < 1 {
			row.Quantity = 1
		}
		var ok bool
		if row.Urgency, ok = normalizeEnum(r.Urgency, models.UrgencyNormal, legacyUrgencies, models.IsUrgency); !ok {
			return nil, fmt.Errorf("backup: record %d (id %d): unknown urgency %q", i+1, r.ID, r.Urgency)
		}
		if row.Status, ok = normalizeEnum(r.Status, models.StatusPending, legacyStatuses, models.IsStatus); !ok {
			return nil, fmt.Errorf("backup: record %d (id %d): unknown status %q", i+1, r.ID, r.Status)
		}
		if row.CreatedAt.IsZero() {
			row.CreatedAt = now
		}
		rows[i] = row
	}
	return rows, nil
}

// Restore replaces every request with the snapshot contents in one
// transaction and moves the id sequence past the highest restored id.
// It returns the number of restored rows.
func Restore(ctx context.Context, gdb *gorm.DB, dialect db.Dialect, snap *Snapshot) (int, error) {
	var n int
	err := gdb.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		n, err = RestoreTx(tx, dialect, snap)
		return err
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// RestoreTx is Restore inside a transaction the caller already holds. The
// sequence reset runs last, since MySQL commits implicitly on ALTER TABLE.
func RestoreTx(tx *gorm.DB, dialect db.Dialect, snap *Snapshot) (int, error) {
	rows, err := snap.Rows()
	if err != nil {
		return 0, err
	}
	var maxID uint
	for _, r := range rows {
		if r.ID > maxID {
			maxID = r.ID
		}
	}

	if err := tx.Where("1 = 1").Delete(&models.MaterialRequest{}).Error; err != nil {
		return 0, fmt.Errorf("backup: clear requests: %w", err)
	}
	if len(rows) > 0 {
		if err := tx.CreateInBatches(&rows, 100).Error; err != nil {
			return 0, fmt.Errorf("backup: insert requests: %w", err)
		}
	}
	if err := dialect.ResetSequence(tx, models.MaterialRequest{}.TableName(), maxID); err != nil {
		return 0, err
	}
	return len(rows), nil
}

// SeedFrom returns a seed function that restores snap into an empty table.
func SeedFrom(dialect db.Dialect, snap *Snapshot) db.SeedFunc {
	return func(tx *gorm.DB) error {
		_, err := RestoreTx(tx, dialect, snap)
		return err
	}
}
