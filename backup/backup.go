package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/jmossahebi/jello2/domain"
)

const (
	// LastBackupKey records the unix millisecond time of the last backup.
	LastBackupKey = "jello.lastBackup"

	filePrefix = "jello-backup-"
	fileSuffix = ".json"

	DefaultInterval = 24 * time.Hour
	DefaultKeep     = 30
)

// KV stores the last-backup timestamp.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error
}

// Snapshotter supplies the tree to back up.
type Snapshotter interface {
	Snapshot() domain.State
}

type Options struct {
	Dir      string
	Interval time.Duration
	Keep     int
	Now      func() time.Time
	Logger   *log.Logger
}

// Scheduler writes dated export files into a directory when a backup is
// due and prunes old ones.
type Scheduler struct {
	kv       KV
	src      Snapshotter
	dir      string
	interval time.Duration
	keep     int
	now      func() time.Time
	logger   *log.Logger

	mu sync.Mutex
}

func New(kv KV, src Snapshotter, opts Options) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Keep <= 0 {
		opts.Keep = DefaultKeep
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = log.StandardLogger()
	}
	return &Scheduler{
		kv:       kv,
		src:      src,
		dir:      opts.Dir,
		interval: opts.Interval,
		keep:     opts.Keep,
		now:      opts.Now,
		logger:   opts.Logger,
	}
}

// Filename names the backup written at t.
func Filename(t time.Time) string {
	return filePrefix + t.UTC().Format("2006-01-02") + fileSuffix
}

// Due reports whether no backup was recorded or the last one is at least
// one interval old.
func (s *Scheduler) Due(ctx context.Context) (bool, error) {
	raw, ok, err := s.kv.Get(ctx, LastBackupKey)
	if err != nil {
		return false, err
	}
	if !ok {
		return true, nil
	}
	ms, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return true, nil
	}
	return s.now().Sub(time.UnixMilli(ms)) >= s.interval, nil
}

// MaybeBackup backs up the current tree when a backup is due. An empty
// tree (no session, or nothing created yet) is never backed up.
func (s *Scheduler) MaybeBackup(ctx context.Context) (string, error) {
	if s.src == nil {
		return "", nil
	}
	st := s.src.Snapshot()
	if len(st.Boards) == 0 {
		return "", nil
	}
	return s.maybeBackupState(ctx, st)
}

// AfterPersist has the signature of the sync controller's persist hook.
func (s *Scheduler) AfterPersist(ctx context.Context, st domain.State) {
	if path, err := s.maybeBackupState(ctx, st); err != nil {
		s.logger.WithError(err).Error("backup failed")
	} else if path != "" {
		s.logger.WithField("path", path).Info("backup saved")
	}
}

func (s *Scheduler) maybeBackupState(ctx context.Context, st domain.State) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	due, err := s.Due(ctx)
	if err != nil || !due {
		return "", err
	}
	return s.backupLocked(ctx, st)
}

// Backup writes st unconditionally and returns the file path.
func (s *Scheduler) Backup(ctx context.Context, st domain.State) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backupLocked(ctx, st)
}

func (s *Scheduler) backupLocked(ctx context.Context, st domain.State) (string, error) {
	if s.dir == "" {
		return "", errors.New("backup directory is not configured")
	}
	now := s.now()
	data, err := domain.EncodeExport(domain.NewExport(st, now))
	if err != nil {
		return "", fmt.Errorf("encode backup: %w", err)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("create backup dir: %w", err)
	}
	path := filepath.Join(s.dir, Filename(now))
	if err := writeFileAtomic(path, data); err != nil {
		return "", err
	}
	if err := s.kv.Put(ctx, LastBackupKey, []byte(strconv.FormatInt(now.UnixMilli(), 10))); err != nil {
		return path, fmt.Errorf("record backup time: %w", err)
	}
	if err := s.cleanup(); err != nil {
		s.logger.WithError(err).Warn("backup cleanup failed")
	}
	return path, nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".jello-backup-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write backup: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync backup: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close backup: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename backup: %w", err)
	}
	return nil
}

// cleanup keeps the newest backups. Dated names sort chronologically.
func (s *Scheduler) cleanup() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return err
	}
	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() && strings.HasPrefix(e.Name(), filePrefix) && strings.HasSuffix(e.Name(), fileSuffix) {
			names = append(names, e.Name())
		}
	}
	if len(names) <= s.keep {
		return nil
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	var errs []error
	for _, name := range names[s.keep:] {
		if err := os.Remove(filepath.Join(s.dir, name)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Run checks hourly (or every tick) whether a backup is due until ctx ends.
func (s *Scheduler) Run(ctx context.Context, tick time.Duration) {
	if tick <= 0 {
		tick = time.Hour
	}
	t := time.NewTicker(tick)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if path, err := s.MaybeBackup(ctx); err != nil {
				s.logger.WithError(err).Error("scheduled backup failed")
			} else if path != "" {
				s.logger.WithField("path", path).Info("backup saved")
			}
		}
	}
}
