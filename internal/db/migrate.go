package db

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/hpnt/matreq/internal/models"
)

// AllModels returns the GORM models managed by AutoMigrate.
func AllModels() []interface{} {
	return []interface{}{
		&models.MaterialRequest{},
	}
}

// AutoMigrate creates or updates all tables and their indexes.
func AutoMigrate(gdb *gorm.DB) error {
	if err := gdb.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}

// SeedFunc fills an empty material_requests table.
type SeedFunc func(tx *gorm.DB) error

// Schema creates the schema once per process. Concurrent callers block on
// the first attempt; a failed attempt is retried by the next call.
type Schema struct {
	// Seed runs when the table is empty after migration. Nil means
	// SeedSamples.
	Seed SeedFunc

	mu    sync.Mutex
	ready bool
}

// Ready reports whether Ensure has completed successfully.
func (s *Schema) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

// Ensure migrates the schema and seeds an empty table. It never touches
// existing rows.
func (s *Schema) Ensure(ctx context.Context, gdb *gorm.DB) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready {
		return nil
	}

	gdb = gdb.WithContext(ctx)
	if err := AutoMigrate(gdb); err != nil {
		return err
	}

	var count int64
	if err := gdb.Model(&models.MaterialRequest{}).Count(&count).Error; err != nil {
		return fmt.Errorf("db: count material requests: %w", err)
	}
	if count == 0 {
		seed := s.Seed
		if seed == nil {
			seed = SeedSamples
		}
		if err := gdb.Transaction(func(tx *gorm.DB) error { return seed(tx) }); err != nil {
			return fmt.Errorf("db: seed: %w", err)
		}
	}

	s.ready = true
	return nil
}

// SeedSamples inserts three example requests so a fresh install has
// something to show.
func SeedSamples(tx *gorm.DB) error {
	now := time.Now()
	rows := []models.MaterialRequest{
		{
			ItemName:       "안전모",
			Quantity:       15,
			Specifications: "흰색, CE 인증, 대형",
			Reason:         "현장 안전 강화",
			Urgency:        models.UrgencyHigh,
			RequestDate:    "2025-01-14",
			Vendor:         "안전용품공급",
			Status:         models.StatusPending,
			CreatedAt:      now,
		},
		{
			ItemName:       "작업장갑",
			Quantity:       25,
			Specifications: "면장갑, L사이즈, 내구성 강화",
			Reason:         "작업자 보호용",
			Urgency:        models.UrgencyNormal,
			RequestDate:    "2025-01-14",
			Vendor:         "보호용품공급",
			Status:         models.StatusApproved,
			CreatedAt:      now,
		},
		{
			ItemName:       "전선",
			Quantity:       5,
			Specifications: "2.5sq, 100m, 빨간색",
			Reason:         "전기 배선 작업용",
			Urgency:        models.UrgencyNormal,
			RequestDate:    "2025-01-13",
			Vendor:         "전기재료공급",
			Status:         models.StatusPending,
			CreatedAt:      now,
		},
	}
	if err := tx.Create(&rows).Error; err != nil {
		return fmt.Errorf("insert samples: %w", err)
	}
	return nil
}

// NoSeed leaves an empty table empty.
func NoSeed(*gorm.DB) error { return nil }
