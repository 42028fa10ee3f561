// Package service coordinates the request repository, the image directory
// and chat notifications.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/hpnt/matreq/internal/backup"
	"github.com/hpnt/matreq/internal/db"
	"github.com/hpnt/matreq/internal/imagestore"
	"github.com/hpnt/matreq/internal/logging"
	"github.com/hpnt/matreq/internal/notify"
	"github.com/hpnt/matreq/internal/request"
)

// ErrNoImage is returned when removing the image of a request that has none.
var ErrNoImage = errors.New("request has no image")

// notifyTimeout bounds each chat delivery.
const notifyTimeout = 10 * time.Second

// CreateInput is a submitted request form.
type CreateInput struct {
	ItemName       string
	Quantity       int
	Specifications string
	Reason         string
	Urgency        string
	Vendor         string
	ImageData      string // optional data:image/...;base64 URL
}

// Service is the write path used by the web layer and the CLI.
type Service struct {
	Store    *request.Store
	Images   *imagestore.Store
	Notifier notify.Notifier
	Log      logrus.FieldLogger
}

// New wires a Service. A nil notifier disables notifications.
func New(store *request.Store, images *imagestore.Store, n notify.Notifier, log logrus.FieldLogger) *Service {
	if n == nil {
		n = notify.Nop{}
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Service{Store: store, Images: images, Notifier: n, Log: logging.Component(log, "service")}
}

// Create saves the optional photo, then the request. A photo that cannot be
// saved is logged and the request is created without it.
func (s *Service) Create(ctx context.Context, in CreateInput) (uint, error) {
	var image string
	if in.ImageData != "" {
		name, err := s.Images.SaveDataURL(in.ImageData, in.ItemName)
		if err != nil {
			s.Log.WithError(err).WithField("item", in.ItemName).Warn("image not saved; creating request without it")
		} else {
			image = name
		}
	}

	id, err := s.Store.Create(ctx, request.CreateOpts{
		ItemName:       in.ItemName,
		Quantity:       in.Quantity,
		Specifications: in.Specifications,
		Reason:         in.Reason,
		Urgency:        in.Urgency,
		Vendor:         in.Vendor,
		Images:         image,
	})
	if err != nil {
		if image != "" {
			if derr := s.Images.Delete(image); derr != nil {
				s.Log.WithError(derr).WithField("file", image).Warn("orphaned image not removed")
			}
		}
		return 0, err
	}

	s.Log.WithFields(logrus.Fields{"id": id, "item": in.ItemName, "image": image}).Info("request created")
	if row, err := s.Store.Get(ctx, id); err == nil {
		s.notify(ctx, notify.RequestCreated(row))
	}
	return id, nil
}

// UpdateStatus sets status and vendor. A change of status is announced.
func (s *Service) UpdateStatus(ctx context.Context, id uint, status, vendor string) error {
	before, err := s.Store.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.Store.UpdateStatus(ctx, id, status, vendor); err != nil {
		return err
	}
	after, err := s.Store.Get(ctx, id)
	if err != nil {
		return err
	}
	s.Log.WithFields(logrus.Fields{"id": id, "from": before.Status, "to": after.Status, "vendor": vendor}).Info("status updated")
	if after.Status != before.Status {
		s.notify(ctx, notify.StatusChanged(after, before.Status))
	}
	return nil
}

// UpdateFields edits the descriptive fields of a request.
func (s *Service) UpdateFields(ctx context.Context, id uint, u request.FieldUpdate) error {
	if err := s.Store.UpdateFields(ctx, id, u); err != nil {
		return err
	}
	s.Log.WithField("id", id).Info("request edited")
	return nil
}

// ReplaceImage stores an uploaded photo for a request and releases the
// previous one. It returns the new filename.
func (s *Service) ReplaceImage(ctx context.Context, id uint, r io.Reader, up imagestore.Upload) (string, error) {
	row, err := s.Store.Get(ctx, id)
	if err != nil {
		return "", err
	}
	previous := row.ImageName()

	name, err := s.Images.SaveUpload(r, up, id)
	if err != nil {
		return "", err
	}
	if err := s.Store.AttachImage(ctx, id, name); err != nil {
		if derr := s.Images.Delete(name); derr != nil {
			s.Log.WithError(derr).WithField("file", name).Warn("orphaned image not removed")
		}
		return "", err
	}

	if previous != "" && previous != name {
		s.releaseImage(ctx, previous, id)
	}
	s.Log.WithFields(logrus.Fields{"id": id, "file": name, "previous": previous}).Info("image replaced")
	return name, nil
}

// RemoveImage detaches the photo of a request and releases the file.
func (s *Service) RemoveImage(ctx context.Context, id uint) error {
	row, err := s.Store.Get(ctx, id)
	if err != nil {
		return err
	}
	name := row.ImageName()
	if name == "" {
		return fmt.Errorf("service: request %d: %w", id, ErrNoImage)
	}
	if err := s.Store.ClearImage(ctx, id); err != nil {
		return err
	}
	s.releaseImage(ctx, name, id)
	s.Log.WithFields(logrus.Fields{"id": id, "file": name}).Info("image removed")
	return nil
}

// Copy duplicates a request. The copy shares the photo file.
func (s *Service) Copy(ctx context.Context, id uint) (uint, error) {
	newID, err := s.Store.Copy(ctx, id)
	if err != nil {
		return 0, err
	}
	s.Log.WithFields(logrus.Fields{"id": id, "new_id": newID}).Info("request copied")
	return newID, nil
}

// Delete removes a request, renumbers the rest and releases its photo.
func (s *Service) Delete(ctx context.Context, id uint) error {
	removed, err := s.Store.Delete(ctx, id)
	if err != nil {
		return err
	}
	if name := removed.ImageName(); name != "" {
		// Rows were renumbered, so count references from every row.
		s.releaseImage(ctx, name, 0)
	}
	s.Log.WithFields(logrus.Fields{"id": id, "item": removed.ItemName}).Info("request deleted")
	return nil
}

// Restore replaces every request with the rows of snap and returns how many
// were written. Image files are left untouched.
func (s *Service) Restore(ctx context.Context, snap *backup.Snapshot) (int, error) {
	var n int
	err := s.Store.Exclusive(ctx, func(tx *gorm.DB, dialect db.Dialect) error {
		var err error
		n, err = backup.RestoreTx(tx, dialect, snap)
		return err
	})
	if err != nil {
		return 0, err
	}
	s.Log.WithField("records", n).Info("backup restored")
	return n, nil
}

// releaseImage deletes filename unless a request other than excludeID still
// references it. Failures are logged; the database is already consistent.
func (s *Service) releaseImage(ctx context.Context, filename string, excludeID uint) {
	log := s.Log.WithField("file", filename)
	refs, err := s.Store.CountImageRefs(ctx, filename, excludeID)
	if err != nil {
		log.WithError(err).Warn("image kept: reference count failed")
		return
	}
	if refs > 0 {
		log.WithField("refs", refs).Debug("image kept: still referenced")
		return
	}
	if err := s.Images.Delete(filename); err != nil {
		log.WithError(err).Warn("image not deleted")
	}
}

func (s *Service) notify(ctx context.Context, evt notify.Event) {
	// Delivery outlives a cancelled request but not the timeout.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()
	if err := s.Notifier.Notify(ctx, evt); err != nil {
		s.Log.WithError(err).WithField("title", evt.Title).Warn("notification failed")
	}
}
