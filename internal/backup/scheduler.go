package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/hpnt/matreq/internal/logging"
)

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

const filePrefix = "material_requests_"

// ParseSchedule validates a 5-field cron expression.
func ParseSchedule(spec string) (cron.Schedule, error) {
	sched, err := cronParser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("backup: schedule %q: %w", spec, err)
	}
	return sched, nil
}

// Scheduler writes a snapshot file to Dir on every tick of Spec and keeps the
// newest Keep files.
type Scheduler struct {
	Spec string
	Dir  string
	Keep int
	DB   *gorm.DB
	Log  logrus.FieldLogger
}

// Run blocks until ctx is cancelled. Failed backups are logged and the
// schedule continues.
func (s *Scheduler) Run(ctx context.Context) error {
	sched, err := ParseSchedule(s.Spec)
	if err != nil {
		return err
	}
	log := s.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	log = logging.Component(log, "backup")

	for {
		next := sched.Next(time.Now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}

		path, err := s.RunOnce(ctx)
		if err != nil {
			log.WithError(err).Error("scheduled backup failed")
			continue
		}
		log.WithField("file", path).Info("scheduled backup written")
	}
}

// RunOnce writes one snapshot file and prunes old ones.
func (s *Scheduler) RunOnce(ctx context.Context) (string, error) {
	snap, err := Create(ctx, s.DB)
	if err != nil {
		return "", err
	}
	path, err := WriteFile(s.Dir, snap, time.Now())
	if err != nil {
		return "", err
	}
	if err := Prune(s.Dir, s.Keep); err != nil {
		return path, err
	}
	return path, nil
}

// WriteFile stores snap as material_requests_<timestamp>.json in dir.
func WriteFile(dir string, snap *Snapshot, at time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("backup: create dir: %w", err)
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return "", fmt.Errorf("backup: encode snapshot: %w", err)
	}
	path := filepath.Join(dir, FileName(at))
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("backup: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("backup: rename %s: %w", tmp, err)
	}
	return path, nil
}

// FileName is the snapshot file name for a moment in time.
func FileName(at time.Time) string {
	return filePrefix + at.Format("20060102_150405") + ".json"
}

// Prune deletes all but the newest keep snapshot files in dir. keep <= 0
// keeps everything.
func Prune(dir string, keep int) error {
	if keep <= 0 {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("backup: read dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		n := e.Name()
		if e.Type().IsRegular() && strings.HasPrefix(n, filePrefix) && strings.HasSuffix(n, ".json") {
			names = append(names, n)
		}
	}
	if len(names) <= keep {
		return nil
	}
	// Timestamped names sort chronologically.
	sort.Strings(names)
	for _, n := range names[:len(names)-keep] {
		if err := os.Remove(filepath.Join(dir, n)); err != nil {
			return fmt.Errorf("backup: prune %s: %w", n, err)
		}
	}
	return nil
}
