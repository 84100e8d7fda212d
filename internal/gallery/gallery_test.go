package gallery

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aperturelabs/livegateway/pkg/commons"
)

type fakeBlob struct {
	data       map[string][]byte
	puts       []string
	dels       []string
	failSuffix string
}

func newFakeBlob() *fakeBlob { return &fakeBlob{data: map[string][]byte{}} }

func (f *fakeBlob) Put(_ context.Context, key string, data []byte, _ string) error {
	if f.failSuffix != "" && strings.HasSuffix(key, f.failSuffix) {
		return errors.New("boom")
	}
	f.puts = append(f.puts, key)
	f.data[key] = data
	return nil
}

func (f *fakeBlob) Get(_ context.Context, key string) ([]byte, string, error) {
	d, ok := f.data[key]
	if !ok {
		return nil, "", errors.New("not found")
	}
	return d, "image/jpeg", nil
}

func (f *fakeBlob) Delete(_ context.Context, key string) error {
	f.dels = append(f.dels, key)
	delete(f.data, key)
	return nil
}

type fakeRecords struct {
	byID       map[string]*GalleryRecord
	createErr  error
}

func newFakeRecords() *fakeRecords { return &fakeRecords{byID: map[string]*GalleryRecord{}} }

func (f *fakeRecords) Create(_ context.Context, rec *GalleryRecord) error {
	if f.createErr != nil {
		return f.createErr
	}
	if rec.ID == "" {
		rec.ID = newRecordID()
	}
	f.byID[rec.ID] = rec
	return nil
}

func (f *fakeRecords) Get(_ context.Context, id string) (*GalleryRecord, error) {
	rec, ok := f.byID[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return rec, nil
}

func (f *fakeRecords) ListPublic(_ context.Context, limit int) ([]*GalleryRecord, error) {
	var out []*GalleryRecord
	for _, r := range f.byID {
		if r.Visibility == VisibilityPublic {
			out = append(out, r)
		}
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (f *fakeRecords) IncrementViews(_ context.Context, id string) error {
	rec, ok := f.byID[id]
	if !ok {
		return errors.New("not found")
	}
	rec.Views++
	return nil
}

func (f *fakeRecords) IncrementLikes(_ context.Context, id string) error {
	rec, ok := f.byID[id]
	if !ok {
		return errors.New("not found")
	}
	rec.Likes++
	return nil
}

type fakeMinter struct{ mintedFor []string }

func (f *fakeMinter) Mint(key string, _ time.Duration) (string, error) {
	f.mintedFor = append(f.mintedFor, key)
	return "https://cdn.example/" + key, nil
}

func testLogger(t *testing.T) commons.Logger {
	t.Helper()
	logger, err := commons.NewLogger("error", "")
	require.NoError(t, err)
	return logger
}

func TestStore_Save_RejectsMissingImages(t *testing.T) {
	blobs, records, minter := newFakeBlob(), newFakeRecords(), &fakeMinter{}
	s := New(blobs, records, minter, DefaultConfig(), testLogger(t))

	_, err := s.Save(context.Background(), SaveInput{Owner: "alice", Before: []byte("x")})
	require.Error(t, err)

	var fault *commons.Fault
	require.ErrorAs(t, err, &fault)
	assert.Equal(t, commons.KindBadRequest, fault.Kind)
	assert.Empty(t, blobs.puts)
}

func TestStore_Save_Success(t *testing.T) {
	blobs, records, minter := newFakeBlob(), newFakeRecords(), &fakeMinter{}
	s := New(blobs, records, minter, DefaultConfig(), testLogger(t))

	id, err := s.Save(context.Background(), SaveInput{
		Owner:      "alice",
		Title:      "kitchen countertop",
		Before:     []byte("before-bytes"),
		After:      []byte("after-bytes"),
		Visibility: VisibilityPublic,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Len(t, blobs.puts, 2)

	rec, err := records.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "alice", rec.Owner)
	assert.Equal(t, VisibilityPublic, rec.Visibility)
}

func TestStore_Save_CompensatesBlobsOnRecordWriteFailure(t *testing.T) {
	blobs, records, minter := newFakeBlob(), newFakeRecords(), &fakeMinter{}
	records.createErr = errors.New("db down")
	s := New(blobs, records, minter, DefaultConfig(), testLogger(t))

	_, err := s.Save(context.Background(), SaveInput{
		Owner:  "alice",
		Before: []byte("before-bytes"),
		After:  []byte("after-bytes"),
	})
	require.Error(t, err)

	assert.Len(t, blobs.puts, 2)
	assert.Len(t, blobs.dels, 2)
	assert.Empty(t, blobs.data)
}

func TestStore_Save_CompensatesBeforeBlobWhenAfterWriteFails(t *testing.T) {
	blobs, records, minter := newFakeBlob(), newFakeRecords(), &fakeMinter{}
	blobs.failSuffix = "after.jpg"
	s := New(blobs, records, minter, DefaultConfig(), testLogger(t))

	_, err := s.Save(context.Background(), SaveInput{Owner: "bob", Before: []byte("b"), After: []byte("a")})
	require.Error(t, err)

	assert.Len(t, blobs.puts, 1)
	assert.Len(t, blobs.dels, 1)
	assert.Empty(t, blobs.data)
}

func TestStore_ListPublic_RejectsNonPositiveLimit(t *testing.T) {
	s := New(newFakeBlob(), newFakeRecords(), &fakeMinter{}, DefaultConfig(), testLogger(t))
	_, err := s.ListPublic(context.Background(), 0)
	require.Error(t, err)
}

func TestStore_Get_MintsURLsForBeforeAfterAndThumbnail(t *testing.T) {
	blobs, records, minter := newFakeBlob(), newFakeRecords(), &fakeMinter{}
	s := New(blobs, records, minter, DefaultConfig(), testLogger(t))

	id, err := s.Save(context.Background(), SaveInput{
		Owner:     "alice",
		Before:    []byte("b"),
		After:     []byte("a"),
		Thumbnail: []byte("t"),
	})
	require.NoError(t, err)

	view, err := s.Get(context.Background(), id)
	require.NoError(t, err)
	assert.NotEmpty(t, view.BeforeURL)
	assert.NotEmpty(t, view.AfterURL)
	assert.NotEmpty(t, view.ThumbnailURL)
	assert.Len(t, minter.mintedFor, 3)
}

func TestStore_IncrementViewsAndToggleLike_AreMonotone(t *testing.T) {
	blobs, records, minter := newFakeBlob(), newFakeRecords(), &fakeMinter{}
	s := New(blobs, records, minter, DefaultConfig(), testLogger(t))

	id, err := s.Save(context.Background(), SaveInput{Owner: "alice", Before: []byte("b"), After: []byte("a")})
	require.NoError(t, err)

	require.NoError(t, s.IncrementViews(context.Background(), id))
	require.NoError(t, s.IncrementViews(context.Background(), id))
	require.NoError(t, s.ToggleLike(context.Background(), id))

	rec, err := records.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, int64(2), rec.Views)
	assert.Equal(t, int64(1), rec.Likes)
}

func TestVerifyToken_RoundTrip(t *testing.T) {
	key := []byte("test-signing-key")
	minter := NewJWTMinter(key, "https://gateway.example/gallery/blob")

	url, err := minter.Mint("snapshots/alice/abc/before.jpg", time.Minute)
	require.NoError(t, err)
	assert.Contains(t, url, "token=")

	token := url[len("https://gateway.example/gallery/blob?token="):]
	resolvedKey, err := VerifyToken(key, token)
	require.NoError(t, err)
	assert.Equal(t, "snapshots/alice/abc/before.jpg", resolvedKey)
}

func TestVerifyToken_RejectsBadSignature(t *testing.T) {
	minter := NewJWTMinter([]byte("key-a"), "https://gateway.example/gallery/blob")
	url, err := minter.Mint("snapshots/alice/abc/before.jpg", time.Minute)
	require.NoError(t, err)
	token := url[len("https://gateway.example/gallery/blob?token="):]

	_, err = VerifyToken([]byte("key-b"), token)
	require.Error(t, err)
}
