// Package request provides the material request repository.
package request

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"gorm.io/gorm"

	"github.com/hpnt/matreq/internal/db"
	"github.com/hpnt/matreq/internal/models"
)

// CreateOpts holds parameters for creating a new request.
type CreateOpts struct {
	ItemName       string
	Quantity       int
	Specifications string
	Reason         string
	Urgency        string // low, normal, high; empty means normal
	Vendor         string // preferred vendor, optional
	Images         string // filename in the image directory, optional
}

// FieldUpdate holds the editable descriptive fields of a request.
type FieldUpdate struct {
	ItemName       string
	Quantity       int
	Specifications string
	Reason         string
	Urgency        string // empty keeps the current value
}

// ListFilters holds optional filters for listing requests.
type ListFilters struct {
	Status string // empty or "all" for every status
	Search string // case-insensitive substring of name, specifications or reason
}

// Options configures a Store. Zero values pick the defaults.
type Options struct {
	Locker Locker
	Policy Policy
	Now    func() time.Time
}

// Store reads and writes material requests.
type Store struct {
	db      *gorm.DB
	dialect db.Dialect
	locker  Locker
	policy  Policy
	now     func() time.Time
}

// NewStore returns a Store over gdb. Writes are serialized with opts.Locker,
// an in-process mutex when nil.
func NewStore(gdb *gorm.DB, dialect db.Dialect, opts Options) *Store {
	s := &Store{
		db:      gdb,
		dialect: dialect,
		locker:  opts.Locker,
		policy:  opts.Policy,
		now:     opts.Now,
	}
	if s.locker == nil {
		s.locker = NewMutexLocker()
	}
	if s.policy == "" {
		s.policy = Permissive
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Policy returns the status transition policy in effect.
func (s *Store) Policy() Policy { return s.policy }

// List returns requests matching filters, newest id first.
func (s *Store) List(ctx context.Context, filters ListFilters) ([]models.MaterialRequest, error) {
	q := s.db.WithContext(ctx).Model(&models.MaterialRequest{})

	if filters.Status != "" && filters.Status != "all" {
		q = q.Where("status = ?", filters.Status)
	}
	if term := strings.TrimSpace(filters.Search); term != "" {
		like := "%" + likeEscaper.Replace(strings.ToLower(term)) + "%"
		q = q.Where("LOWER(item_name) LIKE ? ESCAPE '!' OR LOWER(specifications) LIKE ? ESCAPE '!' OR LOWER(reason) LIKE ? ESCAPE '!'", like, like, like)
	}

	var rows []models.MaterialRequest
	if err := q.Order("id DESC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("request: list: %w", err)
	}
	return rows, nil
}

// StatusCounts returns the number of requests per status. Statuses with no
// requests are absent.
func (s *Store) StatusCounts(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		Status string
		Count  int64
	}
	err := s.db.WithContext(ctx).Model(&models.MaterialRequest{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("request: status counts: %w", err)
	}
	counts := make(map[string]int64, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.Count
	}
	return counts, nil
}

// Total sums a StatusCounts result.
func Total(counts map[string]int64) int64 {
	var n int64
	for _, c := range counts {
		n += c
	}
	return n
}

// Get retrieves a request by id.
func (s *Store) Get(ctx context.Context, id uint) (*models.MaterialRequest, error) {
	return get(s.db.WithContext(ctx), id)
}

func get(tx *gorm.DB, id uint) (*models.MaterialRequest, error) {
	var row models.MaterialRequest
	if err := tx.Where("id = ?", id).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound(id)
		}
		return nil, fmt.Errorf("request: get %d: %w", id, err)
	}
	return &row, nil
}

// Create validates opts and inserts a pending request dated today.
func (s *Store) Create(ctx context.Context, opts CreateOpts) (uint, error) {
	name, err := validateName(opts.ItemName)
	if err != nil {
		return 0, err
	}
	if err := validateQuantity(opts.Quantity); err != nil {
		return 0, err
	}
	urgency, err := validateUrgency(opts.Urgency)
	if err != nil {
		return 0, err
	}
	vendor, err := validateVendor(opts.Vendor)
	if err != nil {
		return 0, err
	}

	now := s.now()
	row := models.MaterialRequest{
		ItemName:       name,
		Quantity:       opts.Quantity,
		Specifications: opts.Specifications,
		Reason:         opts.Reason,
		Urgency:        urgency,
		Vendor:         vendor,
		RequestDate:    now.Format(models.DateLayout),
		Status:         models.StatusPending,
		CreatedAt:      now,
	}
	if opts.Images != "" {
		img := opts.Images
		row.Images = &img
	}

	err = s.write(ctx, func(tx *gorm.DB) error {
		return tx.Create(&row).Error
	})
	if err != nil {
		return 0, fmt.Errorf("request: create: %w", err)
	}
	return row.ID, nil
}

// UpdateStatus overwrites the status and vendor of a request. An empty status
// means pending.
func (s *Store) UpdateStatus(ctx context.Context, id uint, status, vendor string) error {
	if status == "" {
		status = models.StatusPending
	}
	if !models.IsStatus(status) {
		return invalid("status", "%q is not one of %s", status, strings.Join(models.Statuses, ", "))
	}

	return s.write(ctx, func(tx *gorm.DB) error {
		cur, err := get(tx, id)
		if err != nil {
			return err
		}
		if !s.policy.Allows(cur.Status, status) {
			return invalid("status", "cannot move from %s to %s; valid: %v", cur.Status, status, ValidTransitions[cur.Status])
		}
		err = tx.Model(&models.MaterialRequest{}).Where("id = ?", id).
			Updates(map[string]interface{}{"status": status, "vendor": vendor}).Error
		if err != nil {
			return fmt.Errorf("request: update status %d: %w", id, err)
		}
		return nil
	})
}

// UpdateFields replaces the descriptive fields of a request.
func (s *Store) UpdateFields(ctx context.Context, id uint, u FieldUpdate) error {
	name, err := validateName(u.ItemName)
	if err != nil {
		return err
	}
	if err := validateQuantity(u.Quantity); err != nil {
		return err
	}
	updates := map[string]interface{}{
		"item_name":      name,
		"quantity":       u.Quantity,
		"specifications": u.Specifications,
		"reason":         u.Reason,
	}
	if u.Urgency != "" {
		urgency, err := validateUrgency(u.Urgency)
		if err != nil {
			return err
		}
		updates["urgency"] = urgency
	}

	return s.write(ctx, func(tx *gorm.DB) error {
		if _, err := get(tx, id); err != nil {
			return err
		}
		if err := tx.Model(&models.MaterialRequest{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return fmt.Errorf("request: update fields %d: %w", id, err)
		}
		return nil
	})
}

// AttachImage points a request at filename.
func (s *Store) AttachImage(ctx context.Context, id uint, filename string) error {
	if filename == "" {
		return invalid("images", "filename is empty")
	}
	return s.setImage(ctx, id, &filename)
}

// ClearImage removes the image reference of a request. The file is not
// touched.
func (s *Store) ClearImage(ctx context.Context, id uint) error {
	return s.setImage(ctx, id, nil)
}

func (s *Store) setImage(ctx context.Context, id uint, filename *string) error {
	return s.write(ctx, func(tx *gorm.DB) error {
		res := tx.Model(&models.MaterialRequest{}).Where("id = ?", id).Update("images", filename)
		if res.Error != nil {
			return fmt.Errorf("request: set image %d: %w", id, res.Error)
		}
		if res.RowsAffected == 0 {
			// MySQL reports zero affected rows when the value is unchanged.
			if _, err := get(tx, id); err != nil {
				return err
			}
		}
		return nil
	})
}

// Copy duplicates a request as a new pending one dated today. The image
// filename is shared, not duplicated on disk.
func (s *Store) Copy(ctx context.Context, id uint) (uint, error) {
	var newID uint
	err := s.write(ctx, func(tx *gorm.DB) error {
		src, err := get(tx, id)
		if err != nil {
			return err
		}
		now := s.now()
		dup := models.MaterialRequest{
			ItemName:       src.ItemName,
			Quantity:       src.Quantity,
			Specifications: src.Specifications,
			Reason:         src.Reason,
			Urgency:        src.Urgency,
			RequestDate:    now.Format(models.DateLayout),
			Vendor:         "",
			Status:         models.StatusPending,
			Images:         src.Images,
			CreatedAt:      now,
		}
		if err := tx.Create(&dup).Error; err != nil {
			return fmt.Errorf("request: copy %d: %w", id, err)
		}
		newID = dup.ID
		return nil
	})
	if err != nil {
		return 0, err
	}
	return newID, nil
}

// Delete removes a request and renumbers the survivors to 1..N in the same
// transaction. The removed row is returned so its image can be released.
func (s *Store) Delete(ctx context.Context, id uint) (*models.MaterialRequest, error) {
	var removed *models.MaterialRequest
	err := s.write(ctx, func(tx *gorm.DB) error {
		row, err := get(tx, id)
		if err != nil {
			return err
		}
		if err := tx.Delete(&models.MaterialRequest{}, id).Error; err != nil {
			return fmt.Errorf("request: delete %d: %w", id, err)
		}
		removed = row
		return s.renumber(tx)
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

// Renumber rewrites ids to 1..N in id order, keeping created_at, and resets
// the id sequence to N.
func (s *Store) Renumber(ctx context.Context) error {
	return s.write(ctx, s.renumber)
}

func (s *Store) renumber(tx *gorm.DB) error {
	var rows []models.MaterialRequest
	if err := tx.Order("id ASC").Find(&rows).Error; err != nil {
		return fmt.Errorf("request: renumber: read: %w", err)
	}

	dense := true
	for i := range rows {
		if rows[i].ID != uint(i+1) {
			dense = false
			break
		}
	}
	if !dense {
		if err := tx.Where("1 = 1").Delete(&models.MaterialRequest{}).Error; err != nil {
			return fmt.Errorf("request: renumber: clear: %w", err)
		}
		for i := range rows {
			rows[i].ID = uint(i + 1)
		}
		if err := tx.CreateInBatches(&rows, 100).Error; err != nil {
			return fmt.Errorf("request: renumber: reinsert: %w", err)
		}
	}

	if err := s.dialect.ResetSequence(tx, models.MaterialRequest{}.TableName(), uint(len(rows))); err != nil {
		return fmt.Errorf("request: renumber: %w", err)
	}
	return nil
}

// CountImageRefs returns how many requests other than excludeID reference
// filename. Pass 0 to count every reference.
func (s *Store) CountImageRefs(ctx context.Context, filename string, excludeID uint) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.MaterialRequest{}).
		Where("images = ? AND id <> ?", filename, excludeID).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("request: count image refs %s: %w", filename, err)
	}
	return n, nil
}

// Exclusive runs fn in a transaction while holding the write lock, with the
// dialect needed to reset the id sequence. Bulk replacements use it.
func (s *Store) Exclusive(ctx context.Context, fn func(tx *gorm.DB, dialect db.Dialect) error) error {
	return s.write(ctx, func(tx *gorm.DB) error { return fn(tx, s.dialect) })
}

// write runs fn in a transaction while holding the write lock.
func (s *Store) write(ctx context.Context, fn func(tx *gorm.DB) error) error {
	release, err := s.locker.Lock(ctx)
	if err != nil {
		return err
	}
	defer release()
	return s.db.WithContext(ctx).Transaction(fn)
}

// likeEscaper makes LIKE wildcards in a search term literal. '!' is the
// escape character because a backslash literal is not portable to MySQL.
var likeEscaper = strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")

func validateName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", invalid("item_name", "item name is required")
	}
	return name, nil
}

func validateQuantity(q int) error {
	if q < 1 {
		return invalid("quantity", "must be at least 1, got %d", q)
	}
	return nil
}

func validateVendor(v string) (string, error) {
	v = strings.TrimSpace(v)
	if utf8.RuneCountInString(v) > 255 {
		return "", invalid("vendor", "must be at most 255 characters")
	}
	return v, nil
}

func validateUrgency(u string) (string, error) {
	if u == "" {
		return models.UrgencyNormal, nil
	}
	if !models.IsUrgency(u) {
		return "", invalid("urgency", "%q is not one of %s", u, strings.Join(models.Urgencies, ", "))
	}
	return u, nil
}
