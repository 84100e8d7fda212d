// Package gallery implements C9 GalleryStore: it translates gallery domain
// operations onto a BlobStore and a RecordStore (spec.md §4.9), both opaque
// collaborators per spec.md §1. Grounded on the teacher's
// internal_callcontext.Store (api/assistant-api/internal/callcontext/store.go)
// for the Postgres-backed record shape, and on the teacher's go.mod-only S3
// and JWT dependencies, which the teacher's retrieved files never exercise.
package gallery

import (
	"context"
	"fmt"
	"time"

	"github.com/aperturelabs/livegateway/pkg/commons"
)

// Visibility is the closed set of GalleryRecord visibility values.
type Visibility string

const (
	VisibilityPrivate Visibility = "private"
	VisibilityPublic  Visibility = "public"
)

// SurfaceMetadata is the spatial-analysis attribution attached to a
// GalleryRecord (spec.md §3 "metadata (surface type, material, color,
// bounding box in normalized 0..1000 coordinates)").
type SurfaceMetadata struct {
	SurfaceType string     `json:"surface_type,omitempty"`
	Material    string     `json:"material,omitempty"`
	Color       string     `json:"color,omitempty"`
	BoundingBox [4]float64 `json:"bounding_box,omitempty"` // [ymin, xmin, ymax, xmax], 0..1000
}

// GalleryRecord is the persisted analysis artifact from spec.md §3.
type GalleryRecord struct {
	ID          string     `json:"id" gorm:"column:id;type:varchar(36);primaryKey"`
	Owner        string     `json:"owner" gorm:"column:owner;type:varchar(200);not null;index"`
	Title        string     `json:"title" gorm:"column:title;type:varchar(200);not null;default:''"`
	Description  string     `json:"description" gorm:"column:description;type:text;not null;default:''"`
	BeforeRef    string     `json:"-" gorm:"column:before_blob_ref;type:varchar(500);not null"`
	AfterRef     string     `json:"-" gorm:"column:after_blob_ref;type:varchar(500);not null"`
	ThumbnailRef string     `json:"-" gorm:"column:thumbnail_blob_ref;type:varchar(500);not null;default:''"`
	Metadata     JSONMap    `json:"metadata" gorm:"column:metadata;type:text"`
	Tags         JSONMap    `json:"tags" gorm:"column:tags;type:text"`
	Visibility   Visibility `json:"visibility" gorm:"column:visibility;type:varchar(10);not null;default:private;index"`
	Likes        int64      `json:"likes" gorm:"column:likes;not null;default:0"`
	Views        int64      `json:"views" gorm:"column:views;not null;default:0"`
	CreatedAt    time.Time  `json:"created_at" gorm:"column:created_at;type:timestamp;not null;default:NOW();<-:create"`
	UpdatedAt    time.Time  `json:"updated_at" gorm:"column:updated_at;type:timestamp"`
}

func (GalleryRecord) TableName() string { return "gallery_records" }

// RecordView is what GalleryStore.Get returns: the record plus minted,
// time-bounded download URLs — never raw blob locations (spec.md §4.9 "the
// store exposes no raw blob locations; only minted URLs").
type RecordView struct {
	*GalleryRecord
	BeforeURL    string `json:"before_url"`
	AfterURL     string `json:"after_url"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
}

// BlobStore is the opaque object-storage collaborator (spec.md §1).
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, string, error)
	Delete(ctx context.Context, key string) error
}

// RecordStore is the opaque document/row-storage collaborator (spec.md §1).
type RecordStore interface {
	Create(ctx context.Context, rec *GalleryRecord) error
	Get(ctx context.Context, id string) (*GalleryRecord, error)
	ListPublic(ctx context.Context, limit int) ([]*GalleryRecord, error)
	IncrementViews(ctx context.Context, id string) error
	IncrementLikes(ctx context.Context, id string) error
}

// URLMinter issues a short-lived, opaque download URL for one blob key
// (spec.md §4.9 default 15 min TTL).
type URLMinter interface {
	Mint(key string, ttl time.Duration) (string, error)
}

// Config pins the default download URL TTL (spec.md §4.9).
type Config struct {
	DownloadURLTTL time.Duration
}

func DefaultConfig() Config {
	return Config{DownloadURLTTL: 15 * time.Minute}
}

// Store is C9 GalleryStore. It is stateless; every operation dispatches to
// its collaborators (spec.md §3 "Ownership summary").
type Store struct {
	blobs   BlobStore
	records RecordStore
	minter  URLMinter
	cfg     Config
	logger  commons.Logger
}

func New(blobs BlobStore, records RecordStore, minter URLMinter, cfg Config, logger commons.Logger) *Store {
	return &Store{blobs: blobs, records: records, minter: minter, cfg: cfg, logger: logger}
}

// SaveInput is the write-side request shape for Save.
type SaveInput struct {
	Owner       string
	Title       string
	Description string
	Before      []byte
	After       []byte
	Thumbnail   []byte
	Metadata    SurfaceMetadata
	Tags        []string
	Visibility  Visibility
}

// Save writes the two image blobs under snapshots/{owner}/{id}/{before|after}.jpg,
// then writes the GalleryRecord (spec.md §4.9). Per spec.md §3's invariant,
// both blob refs must be present or the record is rejected before anything
// is written. If the record write fails after blobs were written, the blobs
// are scheduled for deletion (at-least-once compensating cleanup; the
// object store's own 30-day lifecycle is the safety net per spec.md §4.9).
func (s *Store) Save(ctx context.Context, in SaveInput) (string, error) {
	if len(in.Before) == 0 || len(in.After) == 0 {
		return "", commons.BadRequest("both before and after images are required")
	}
	if in.Visibility == "" {
		in.Visibility = VisibilityPrivate
	}

	id := newRecordID()
	beforeKey := fmt.Sprintf("snapshots/%s/%s/before.jpg", in.Owner, id)
	afterKey := fmt.Sprintf("snapshots/%s/%s/after.jpg", in.Owner, id)
	thumbKey := ""

	if err := s.blobs.Put(ctx, beforeKey, in.Before, "image/jpeg"); err != nil {
		return "", commons.StorageFailed("write before blob", err)
	}
	if err := s.blobs.Put(ctx, afterKey, in.After, "image/jpeg"); err != nil {
		s.compensate(ctx, beforeKey)
		return "", commons.StorageFailed("write after blob", err)
	}
	if len(in.Thumbnail) > 0 {
		thumbKey = fmt.Sprintf("snapshots/%s/%s/thumbnail.jpg", in.Owner, id)
		if err := s.blobs.Put(ctx, thumbKey, in.Thumbnail, "image/jpeg"); err != nil {
			s.compensate(ctx, beforeKey, afterKey)
			return "", commons.StorageFailed("write thumbnail blob", err)
		}
	}

	rec := &GalleryRecord{
		ID:           id,
		Owner:        in.Owner,
		Title:        in.Title,
		Description:  in.Description,
		BeforeRef:    beforeKey,
		AfterRef:     afterKey,
		ThumbnailRef: thumbKey,
		Metadata:     metadataToMap(in.Metadata),
		Tags:         tagsToMap(in.Tags),
		Visibility:   in.Visibility,
	}
	if err := s.records.Create(ctx, rec); err != nil {
		s.compensate(ctx, beforeKey, afterKey, thumbKey)
		return "", commons.StorageFailed("write gallery record", err)
	}

	return rec.ID, nil
}

// compensate deletes already-written blobs after a failed record write.
// Best-effort: a delete failure is logged, not returned, since the object
// store's lifecycle policy is the safety net.
func (s *Store) compensate(ctx context.Context, keys ...string) {
	for _, key := range keys {
		if key == "" {
			continue
		}
		if err := s.blobs.Delete(ctx, key); err != nil {
			s.logger.Warnw("compensating blob cleanup failed, relying on lifecycle policy", "key", key, "error", err)
		}
	}
}

// ListPublic returns up to limit public records (spec.md §4.9).
func (s *Store) ListPublic(ctx context.Context, limit int) ([]*GalleryRecord, error) {
	if limit <= 0 {
		return nil, commons.BadRequest("limit must be positive")
	}
	recs, err := s.records.ListPublic(ctx, limit)
	if err != nil {
		return nil, commons.StorageFailed("list public gallery records", err)
	}
	return recs, nil
}

// Get returns the record with minted download URLs for before/after/thumbnail.
func (s *Store) Get(ctx context.Context, id string) (*RecordView, error) {
	rec, err := s.records.Get(ctx, id)
	if err != nil {
		return nil, commons.StorageFailed("gallery record not found", err)
	}

	view := &RecordView{GalleryRecord: rec}
	view.BeforeURL, err = s.minter.Mint(rec.BeforeRef, s.cfg.DownloadURLTTL)
	if err != nil {
		return nil, commons.Internal("mint before url", err)
	}
	view.AfterURL, err = s.minter.Mint(rec.AfterRef, s.cfg.DownloadURLTTL)
	if err != nil {
		return nil, commons.Internal("mint after url", err)
	}
	if rec.ThumbnailRef != "" {
		view.ThumbnailURL, err = s.minter.Mint(rec.ThumbnailRef, s.cfg.DownloadURLTTL)
		if err != nil {
			return nil, commons.Internal("mint thumbnail url", err)
		}
	}
	return view, nil
}

// IncrementViews bumps a record's view counter. Monotone non-decreasing
// per spec.md §4.9.
func (s *Store) IncrementViews(ctx context.Context, id string) error {
	if err := s.records.IncrementViews(ctx, id); err != nil {
		return commons.StorageFailed("increment views", err)
	}
	return nil
}

// ToggleLike bumps a record's like counter. The client owns the toggled
// on/off display state; the store only ever increments so the persisted
// counter stays monotone non-decreasing per spec.md §4.9's invariant.
func (s *Store) ToggleLike(ctx context.Context, id string) error {
	if err := s.records.IncrementLikes(ctx, id); err != nil {
		return commons.StorageFailed("toggle like", err)
	}
	return nil
}

// ResolveBlob reads the blob stored under key (a key recovered from a
// verified download token) and returns its bytes and content type. Exposed
// so internal/httpapi can serve the minted-URL download endpoint without
// reaching into the BlobStore directly.
func (s *Store) ResolveBlob(ctx context.Context, key string) ([]byte, string, error) {
	data, contentType, err := s.blobs.Get(ctx, key)
	if err != nil {
		return nil, "", commons.StorageFailed("read blob", err)
	}
	return data, contentType, nil
}
