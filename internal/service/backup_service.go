package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"selftreat/internal/domain"
	"selftreat/internal/metrics"
	"selftreat/internal/storage"
)

// ErrBackupDisabled is returned when no object storage is configured.
var ErrBackupDisabled = errors.New("backup storage not configured")

// Snapshotter yields a consistent copy of the catalog document.
type Snapshotter interface {
	Snapshot(ctx context.Context) (*domain.Document, error)
}

type BackupConfig struct {
	Bucket    string
	KeyPrefix string
	// Retain is how many backups to keep; older ones are pruned after each
	// upload. Zero keeps everything.
	Retain    int
	URLExpiry time.Duration
}

// Backup describes one stored document copy.
type Backup struct {
	Key          string     `json:"key"`
	Size         int64      `json:"size"`
	LastModified *time.Time `json:"last_modified,omitempty"`
	URL          string     `json:"url,omitempty"`
}

// BackupService copies the document to object storage on demand.
type BackupService interface {
	Create(ctx context.Context) (*Backup, error)
	List(ctx context.Context) ([]Backup, error)
}

type backupService struct {
	snapshots Snapshotter
	storage   storage.Service
	cfg       BackupConfig
	logger    *logrus.Logger
	now       func() time.Time
}

// NewBackupService returns a service that reports ErrBackupDisabled when
// store is nil.
func NewBackupService(snapshots Snapshotter, store storage.Service, cfg BackupConfig, logger *logrus.Logger) BackupService {
	if logger == nil {
		logger = logrus.New()
	}
	cfg.KeyPrefix = strings.Trim(cfg.KeyPrefix, "/")
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "backups"
	}
	return &backupService{
		snapshots: snapshots,
		storage:   store,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

func (s *backupService) Create(ctx context.Context) (*Backup, error) {
	if s.storage == nil {
		return nil, ErrBackupDisabled
	}
	backup, err := s.create(ctx)
	metrics.Backups.WithLabelValues(metrics.Result(err)).Inc()
	if err != nil {
		return nil, err
	}

	if s.cfg.Retain > 0 {
		if err := s.prune(ctx); err != nil {
			s.logger.Warnf("prune backups: %v", err)
		}
	}
	return backup, nil
}

func (s *backupService) create(ctx context.Context) (*Backup, error) {
	doc, err := s.snapshots.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot document: %w", err)
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}

	// keys sort chronologically, which prune relies on
	name := fmt.Sprintf("%s-%s.json", s.now().UTC().Format("20060102T150405Z"), uuid.NewString()[:8])
	key := path.Join(s.cfg.KeyPrefix, name)
	location, err := s.storage.PutObject(ctx, bytes.NewReader(data), storage.PutOptions{
		Bucket:      s.cfg.Bucket,
		Key:         key,
		ContentType: "application/json",
	})
	if err != nil {
		return nil, err
	}
	s.logger.Infof("document backed up to %s (%d diseases)", location, len(doc.Diseases))
	return &Backup{Key: key, Size: int64(len(data))}, nil
}

func (s *backupService) prune(ctx context.Context) error {
	objects, err := s.storage.ListObjects(ctx, s.cfg.Bucket, s.cfg.KeyPrefix+"/")
	if err != nil {
		return err
	}
	if len(objects) <= s.cfg.Retain {
		return nil
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })

	stale := make([]string, 0, len(objects)-s.cfg.Retain)
	for _, obj := range objects[:len(objects)-s.cfg.Retain] {
		stale = append(stale, obj.Key)
	}
	if err := s.storage.DeleteObjects(ctx, s.cfg.Bucket, stale); err != nil {
		return err
	}
	s.logger.Infof("pruned %d old backups", len(stale))
	return nil
}

// List returns stored backups, newest first.
func (s *backupService) List(ctx context.Context) ([]Backup, error) {
	if s.storage == nil {
		return nil, ErrBackupDisabled
	}
	objects, err := s.storage.ListObjects(ctx, s.cfg.Bucket, s.cfg.KeyPrefix+"/")
	if err != nil {
		return nil, err
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].Key > objects[j].Key })

	backups := make([]Backup, 0, len(objects))
	for _, obj := range objects {
		b := Backup{Key: obj.Key, Size: obj.Size, LastModified: obj.LastModified}
		url, err := s.storage.GetObjectURL(ctx, s.cfg.Bucket, obj.Key, s.cfg.URLExpiry)
		if err != nil {
			s.logger.Warnf("presign backup %s: %v", obj.Key, err)
		} else {
			b.URL = url
		}
		backups = append(backups, b)
	}
	return backups, nil
}
