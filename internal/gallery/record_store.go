package gallery

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/aperturelabs/livegateway/pkg/commons"
)

// JSONMap is a small database/sql.Scanner/driver.Valuer pair for the
// metadata and tags columns. The corpus has no JSON-column library
// (gorm.io/datatypes is not among its dependencies), so this column type is
// hand-rolled on encoding/json + database/sql — the standard-library
// fallback documented in DESIGN.md for this one concern.
type JSONMap map[string]interface{}

func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	return string(b), err
}

func (m *JSONMap) Scan(value interface{}) error {
	if value == nil {
		*m = JSONMap{}
		return nil
	}
	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported JSONMap source type %T", value)
	}
	if len(raw) == 0 {
		*m = JSONMap{}
		return nil
	}
	return json.Unmarshal(raw, m)
}

func metadataToMap(md SurfaceMetadata) JSONMap {
	return JSONMap{
		"surface_type": md.SurfaceType,
		"material":     md.Material,
		"color":        md.Color,
		"bounding_box": md.BoundingBox,
	}
}

func tagsToMap(tags []string) JSONMap {
	m := make(JSONMap, len(tags))
	for _, t := range tags {
		m[t] = true
	}
	return m
}

func newRecordID() string {
	return uuid.New().String()
}

// BeforeCreate mirrors the teacher's CallContext.BeforeCreate (generated id
// + created timestamp set on insert, not by the caller).
func (r *GalleryRecord) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = newRecordID()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	return nil
}

// gormRecordStore is C9's RecordStore implementation, grounded on the
// teacher's postgresStore (api/assistant-api/internal/callcontext/store.go):
// same Create/Get shape, same atomic-Updates pattern for counter bumps.
type gormRecordStore struct {
	db     *gorm.DB
	logger commons.Logger
}

func NewGormRecordStore(db *gorm.DB, logger commons.Logger) RecordStore {
	return &gormRecordStore{db: db, logger: logger}
}

func (s *gormRecordStore) Create(ctx context.Context, rec *GalleryRecord) error {
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("create gallery record %s: %w", rec.ID, err)
	}
	s.logger.Infow("saved gallery record", "id", rec.ID, "owner", rec.Owner)
	return nil
}

func (s *gormRecordStore) Get(ctx context.Context, id string) (*GalleryRecord, error) {
	var rec GalleryRecord
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error; err != nil {
		return nil, fmt.Errorf("gallery record not found: %s: %w", id, err)
	}
	return &rec, nil
}

// ListPublic returns up to limit public records, newest-first (spec.md
// §4.9 "newest-first where available").
func (s *gormRecordStore) ListPublic(ctx context.Context, limit int) ([]*GalleryRecord, error) {
	var recs []*GalleryRecord
	err := s.db.WithContext(ctx).
		Where("visibility = ?", VisibilityPublic).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("list public gallery records: %w", err)
	}
	return recs, nil
}

// IncrementViews performs an atomic UPDATE ... SET views = views + 1,
// mirroring the teacher's status-guarded Updates call shape in Claim/Complete.
func (s *gormRecordStore) IncrementViews(ctx context.Context, id string) error {
	result := s.db.WithContext(ctx).Model(&GalleryRecord{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"views":      gorm.Expr("views + 1"),
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("increment views for %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("gallery record not found: %s", id)
	}
	return nil
}

func (s *gormRecordStore) IncrementLikes(ctx context.Context, id string) error {
	result := s.db.WithContext(ctx).Model(&GalleryRecord{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"likes":      gorm.Expr("likes + 1"),
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("increment likes for %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("gallery record not found: %s", id)
	}
	return nil
}
