package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"

	"github.com/hpnt/matreq/internal/config"
	"github.com/hpnt/matreq/internal/db"
	"github.com/hpnt/matreq/internal/models"
)

func openTestDB(t *testing.T, seed db.SeedFunc) (*gorm.DB, db.Dialect) {
	t.Helper()
	gdb, dialect, err := db.Open(config.DatabaseConfig{Path: filepath.Join(t.TempDir(), "test.db")}, nil)
	if err != nil {
		t.Fatalf("db.Open: %v", err)
	}
	t.Cleanup(func() { db.Close(gdb) })
	schema := db.Schema{Seed: seed}
	if err := schema.Ensure(context.Background(), gdb); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	return gdb, dialect
}

// legacyBackup is a snapshot as written by the earlier deployment, with
// space-separated timestamps and empty image strings.
const legacyBackup = `{
  "backup_date": "2025-01-15T09:00:00.123456",
  "total_records": 2,
  "columns": ["id", "request_date", "item_name", "specifications", "quantity", "urgency", "reason", "vendor", "status", "images", "created_at"],
  "data": [
    {"id": 3, "request_date": "2025-01-14", "item_name": "안전모", "specifications": "흰색", "quantity": 15, "urgency": "high", "reason": "현장 안전", "vendor": "안전용품공급", "status": "pending", "images": "", "created_at": "2025-01-14 10:11:12"},
    {"id": 7, "request_date": "2025-01-13", "item_name": "전선", "specifications": null, "quantity": 5, "urgency": "normal", "reason": "배선", "vendor": "", "status": "ordered", "images": "20250113_101010_전선.png", "created_at": "2025-01-13 08:00:00"}
  ]
}`

func TestCreate(t *testing.T) {
	gdb, _ := openTestDB(t, db.SeedSamples)
	snap, err := Create(context.Background(), gdb)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if snap.TotalRecords != 3 || len(snap.Data) != 3 {
		t.Fatalf("records = %d/%d, want 3", snap.TotalRecords, len(snap.Data))
	}
	if snap.Data[0].ID != 1 || snap.Data[0].ItemName != "안전모" {
		t.Errorf("first record = %+v", snap.Data[0])
	}
	if len(snap.Columns) != len(Columns) {
		t.Errorf("columns = %v", snap.Columns)
	}
	if _, err := time.Parse(time.RFC3339, snap.BackupDate); err != nil {
		t.Errorf("BackupDate %q: %v", snap.BackupDate, err)
	}
}

func TestParse_LegacyFormat(t *testing.T) {
	snap, err := Parse([]byte(legacyBackup))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(snap.Data) != 2 {
		t.Fatalf("records = %d, want 2", len(snap.Data))
	}
	want := time.Date(2025, 1, 14, 10, 11, 12, 0, time.Local)
	if !snap.Data[0].CreatedAt.Equal(want) {
		t.Errorf("CreatedAt = %v, want %v", snap.Data[0].CreatedAt, want)
	}
	if snap.Data[1].Specifications != "" {
		t.Errorf("null specifications = %q", snap.Data[1].Specifications)
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{name: "not json", in: "backup"},
		{name: "no data", in: `{"backup_date": "x"}`},
		{name: "bad timestamp", in: `{"data": [{"id": 1, "created_at": "yesterday"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.in)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestParse_EmptyData(t *testing.T) {
	snap, err := Parse([]byte(`{"data": []}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if snap.TotalRecords != 0 {
		t.Errorf("TotalRecords = %d", snap.TotalRecords)
	}
}

func TestRows_Normalizes(t *testing.T) {
	snap := &Snapshot{Data: []Record{
		{ID: 5, ItemName: "a", Quantity: 0, Images: strPtr("")},
		{ID: 5, ItemName: "b", Quantity: 2, Urgency: "high", Status: "approved"},
		{ID: 6, ItemName: "c", Quantity: 1, Urgency: " High ", Status: "Ordered"},
		{ID: 7, ItemName: "d", Quantity: 1, Urgency: "높음", Status: "입고완료"},
	}}
	rows, err := snap.Rows()
	if err != nil {
		t.Fatalf("Rows: %v", err)
	}
	if rows[2].Urgency != "high" || rows[2].Status != "ordered" {
		t.Errorf("case not folded: %q/%q", rows[2].Urgency, rows[2].Status)
	}
	if rows[3].Urgency != "high" || rows[3].Status != "received" {
		t.Errorf("legacy labels not mapped: %q/%q", rows[3].Urgency, rows[3].Status)
	}
	if rows[0].ID != 1 || rows[1].ID != 2 {
		t.Errorf("duplicate ids not renumbered: %d, %d", rows[0].ID, rows[1].ID)
	}
	if rows[0].Images != nil {
		t.Error("empty image string not cleared")
	}
	if rows[0].Quantity != 1 || rows[0].Urgency != "normal" || rows[0].Status != "pending" {
		t.Errorf("defaults = %+v", rows[0])
	}
	if rows[0].CreatedAt.IsZero() {
		t.Error("CreatedAt left zero")
	}
}

func TestRows_RejectsUnknownValues(t *testing.T) {
	tests := []struct {
		name string
		rec  Record
		want string
	}{
		{"status", Record{ID: 1, ItemName: "a", Quantity: 2, Status: "bogus"}, `unknown status "bogus"`},
		{"urgency", Record{ID: 1, ItemName: "a", Quantity: 2, Urgency: "extreme"}, `unknown urgency "extreme"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := &Snapshot{Data: []Record{tt.rec}}
			if _, err := snap.Rows(); err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Rows err = %v, want %q", err, tt.want)
			}
		})
	}
}

func TestParse_RejectsUnknownStatus(t *testing.T) {
	_, err := Parse([]byte(`{"data":[{"id":1,"item_name":"a","quantity":2,"status":"bogus","urgency":"extreme"}]}`))
	if err == nil {
		t.Fatal("expected error for unknown status")
	}
}

func TestRestoreTx_RejectsUnknownStatusAndKeepsRows(t *testing.T) {
	gdb, dialect := openTestDB(t, db.SeedSamples)
	snap := &Snapshot{Data: []Record{{ID: 1, ItemName: "a", Quantity: 2, Status: "bogus"}}}
	if _, err := Restore(context.Background(), gdb, dialect, snap); err == nil {
		t.Fatal("expected error")
	}
	var n int64
	gdb.Model(&models.MaterialRequest{}).Count(&n)
	if n != 3 {
		t.Errorf("rows = %d, want the 3 seeded rows untouched", n)
	}
}

func TestRestore_ReplacesTableAndSequence(t *testing.T) {
	gdb, dialect := openTestDB(t, db.SeedSamples)
	ctx := context.Background()
	snap, err := Parse([]byte(legacyBackup))
	if err != nil {
		t.Fatal(err)
	}

	n, err := Restore(ctx, gdb, dialect, snap)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if n != 2 {
		t.Errorf("restored = %d, want 2", n)
	}

	var rows []models.MaterialRequest
	gdb.Order("id").Find(&rows)
	if len(rows) != 2 || rows[0].ID != 3 || rows[1].ID != 7 {
		t.Fatalf("rows = %+v", rows)
	}
	if rows[1].ImageName() != "20250113_101010_전선.png" || rows[0].Images != nil {
		t.Errorf("images = %v / %q", rows[0].Images, rows[1].ImageName())
	}

	next := models.MaterialRequest{ItemName: "new", Quantity: 1}
	if err := gdb.Create(&next).Error; err != nil {
		t.Fatal(err)
	}
	if next.ID != 8 {
		t.Errorf("next id = %d, want 8", next.ID)
	}
}

func TestRoundTrip(t *testing.T) {
	src, _ := openTestDB(t, db.SeedSamples)
	ctx := context.Background()
	snap, err := Create(ctx, src)
	if err != nil {
		t.Fatal(err)
	}
	data, err := json.Marshal(snap)
	if err != nil {
		t.Fatal(err)
	}
	parsed, err := Parse(data)
	if err != nil {
		t.Fatal(err)
	}

	dst, dialect := openTestDB(t, db.NoSeed)
	if _, err := Restore(ctx, dst, dialect, parsed); err != nil {
		t.Fatal(err)
	}
	var a, b []models.MaterialRequest
	src.Order("id").Find(&a)
	dst.Order("id").Find(&b)
	if len(a) != len(b) {
		t.Fatalf("len = %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i].ID != b[i].ID || a[i].ItemName != b[i].ItemName || a[i].Status != b[i].Status {
			t.Errorf("row %d: %+v vs %+v", i, a[i], b[i])
		}
		if a[i].CreatedAt.Unix() != b[i].CreatedAt.Unix() {
			t.Errorf("row %d created_at: %v vs %v", i, a[i].CreatedAt, b[i].CreatedAt)
		}
	}
}

func TestSeedFrom(t *testing.T) {
	snap, _ := Parse([]byte(legacyBackup))
	gdb, dialect, err := db.Open(config.DatabaseConfig{Path: filepath.Join(t.TempDir(), "seed.db")}, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close(gdb)
	schema := db.Schema{Seed: SeedFrom(dialect, snap)}
	if err := schema.Ensure(context.Background(), gdb); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	var count int64
	gdb.Model(&models.MaterialRequest{}).Count(&count)
	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}
}

func TestWriteExcel(t *testing.T) {
	gdb, _ := openTestDB(t, db.SeedSamples)
	var rows []models.MaterialRequest
	gdb.Order("id").Find(&rows)

	var buf bytes.Buffer
	if err := WriteExcel(&buf, rows); err != nil {
		t.Fatalf("WriteExcel: %v", err)
	}
	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer f.Close()

	got, err := f.GetRows(sheetName)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 4 {
		t.Fatalf("rows = %d, want 4 (header + 3)", len(got))
	}
	if got[0][2] != "자재명" || got[1][2] != "안전모" || got[2][4] != "25" {
		t.Errorf("cells = %v", got)
	}
}

func TestWriteExcel_Empty(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteExcel(&buf, nil); err != nil {
		t.Fatalf("WriteExcel: %v", err)
	}
	if buf.Len() == 0 {
		t.Error("empty workbook")
	}
}

func TestParseSchedule(t *testing.T) {
	if _, err := ParseSchedule("0 3 * * *"); err != nil {
		t.Errorf("valid spec: %v", err)
	}
	for _, bad := range []string{"", "every day", "0 0 3 * * *"} {
		if _, err := ParseSchedule(bad); err == nil {
			t.Errorf("ParseSchedule(%q) succeeded", bad)
		}
	}
}

func TestWriteFileAndPrune(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "backups")
	snap := &Snapshot{Columns: Columns, Data: []Record{}}
	base := time.Date(2025, 1, 1, 3, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		path, err := WriteFile(dir, snap, base.Add(time.Duration(i)*24*time.Hour))
		if err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
		if !strings.HasPrefix(filepath.Base(path), "material_requests_2025010") {
			t.Errorf("path = %q", path)
		}
	}
	os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("keep me"), 0o644)

	if err := Prune(dir, 2); err != nil {
		t.Fatalf("Prune: %v", err)
	}
	entries, _ := os.ReadDir(dir)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	if len(names) != 3 {
		t.Fatalf("files = %v, want 2 snapshots + notes.txt", names)
	}
	if names[0] != FileName(base.Add(3*24*time.Hour)) || names[1] != FileName(base.Add(4*24*time.Hour)) {
		t.Errorf("kept = %v", names)
	}
}

func TestSchedulerRunOnce(t *testing.T) {
	gdb, _ := openTestDB(t, db.SeedSamples)
	dir := t.TempDir()
	s := &Scheduler{Spec: "* * * * *", Dir: dir, Keep: 3, DB: gdb}

	path, err := s.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	snap, err := Parse(data)
	if err != nil {
		t.Fatal(err)
	}
	if snap.TotalRecords != 3 {
		t.Errorf("TotalRecords = %d, want 3", snap.TotalRecords)
	}
}

func TestSchedulerRun_StopsOnCancel(t *testing.T) {
	gdb, _ := openTestDB(t, db.NoSeed)
	s := &Scheduler{Spec: "0 3 * * *", Dir: t.TempDir(), DB: gdb}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestSchedulerRun_BadSpec(t *testing.T) {
	s := &Scheduler{Spec: "nonsense"}
	if err := s.Run(context.Background()); err == nil {
		t.Fatal("expected error for bad spec")
	}
}

func strPtr(s string) *string { return &s }
