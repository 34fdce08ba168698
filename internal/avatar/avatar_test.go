package avatar

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/learnhub/lmsapi/internal/logging"
	"github.com/learnhub/lmsapi/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	mu        sync.Mutex
	objects   map[string][]byte
	deleted   []string
	putErr    error
	deleteErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: map[string][]byte{}}
}

func (f *fakeStore) Put(_ context.Context, key string, r io.Reader, size int64, contentType string) error {
	if f.putErr != nil {
		return f.putErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if int64(len(data)) != size || contentType != "image/jpeg" {
		return errors.New("bad put")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = data
	return nil
}

func (f *fakeStore) Delete(_ context.Context, key string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, key)
	f.deleted = append(f.deleted, key)
	return nil
}

func (f *fakeStore) PublicURL(key string) string {
	return "http://assets.test/" + key
}

func writePNG(t *testing.T, w, h int) *Upload {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	path := filepath.Join(t.TempDir(), "upload.png")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
	return &Upload{Path: path, Filename: "me.png"}
}

func assertRemoved(t *testing.T, path string) {
	t.Helper()
	_, err := os.Stat(path)
	assert.True(t, errors.Is(err, os.ErrNotExist), "temp file %s still present", path)
}

func TestUpload_CropsAndStores(t *testing.T) {
	store := newFakeStore()
	m := NewManager(store, logging.Discard())
	up := writePNG(t, 600, 400)

	av, err := m.Upload(context.Background(), up)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(av.AssetID, "lms/"))
	assert.True(t, strings.HasSuffix(av.AssetID, ".jpg"))
	assert.Equal(t, "http://assets.test/"+av.AssetID, av.URL)

	img, err := jpeg.Decode(bytes.NewReader(store.objects[av.AssetID]))
	require.NoError(t, err)
	assert.Equal(t, Width, img.Bounds().Dx())
	assert.Equal(t, Height, img.Bounds().Dy())

	assertRemoved(t, up.Path)
}

func TestUpload_InvalidImage(t *testing.T) {
	store := newFakeStore()
	m := NewManager(store, logging.Discard())
	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("not an image"), 0o600))

	_, err := m.Upload(context.Background(), &Upload{Path: path})
	assert.ErrorIs(t, err, ErrInvalidImage)
	assert.NotErrorIs(t, err, ErrUploadFailed, "a bad file is the client's to fix")
	assert.Empty(t, store.objects)
	assertRemoved(t, path)
}

func TestUpload_StoreFailure(t *testing.T) {
	store := newFakeStore()
	store.putErr = errors.New("bucket unavailable")
	m := NewManager(store, logging.Discard())
	up := writePNG(t, 50, 50)

	_, err := m.Upload(context.Background(), up)
	assert.ErrorIs(t, err, ErrUploadFailed)
	assert.NotErrorIs(t, err, ErrInvalidImage)
	assertRemoved(t, up.Path)
}

func TestDelete_IgnoresPlaceholder(t *testing.T) {
	store := newFakeStore()
	m := NewManager(store, logging.Discard())

	require.NoError(t, m.Delete(context.Background(), types.PlaceholderAvatar("ana@x.com").AssetID))
	assert.Empty(t, store.deleted)
}

func TestDelete_Failure(t *testing.T) {
	store := newFakeStore()
	store.deleteErr = errors.New("boom")
	m := NewManager(store, logging.Discard())

	err := m.Delete(context.Background(), "lms/old.jpg")
	assert.ErrorIs(t, err, ErrDeleteFailed)
}

func TestReplace_SwapsThenDeletesOld(t *testing.T) {
	store := newFakeStore()
	store.objects["lms/old.jpg"] = []byte("old")
	m := NewManager(store, logging.Discard())

	var persisted types.Avatar
	av, err := m.Replace(context.Background(), "lms/old.jpg", writePNG(t, 300, 300), func(next types.Avatar) error {
		_, oldStillThere := store.objects["lms/old.jpg"]
		assert.True(t, oldStillThere, "old avatar deleted before swap")
		persisted = next
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, persisted, av)
	assert.Equal(t, []string{"lms/old.jpg"}, store.deleted)
	assert.Contains(t, store.objects, av.AssetID)
}

func TestReplace_SwapFailureKeepsOld(t *testing.T) {
	store := newFakeStore()
	store.objects["lms/old.jpg"] = []byte("old")
	m := NewManager(store, logging.Discard())
	swapErr := errors.New("db down")

	var uploaded string
	_, err := m.Replace(context.Background(), "lms/old.jpg", writePNG(t, 300, 300), func(next types.Avatar) error {
		uploaded = next.AssetID
		return swapErr
	})
	assert.ErrorIs(t, err, swapErr)
	assert.Contains(t, store.objects, "lms/old.jpg")
	assert.NotContains(t, store.objects, uploaded)
}

func TestReplace_UploadFailureLeavesOldAndSkipsSwap(t *testing.T) {
	store := newFakeStore()
	store.putErr = errors.New("bucket unavailable")
	m := NewManager(store, logging.Discard())

	called := false
	_, err := m.Replace(context.Background(), "lms/old.jpg", writePNG(t, 10, 10), func(types.Avatar) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrUploadFailed)
	assert.False(t, called)
	assert.Empty(t, store.deleted)
}

func TestRemove_Idempotent(t *testing.T) {
	up := writePNG(t, 1, 1)
	up.Remove()
	up.Remove()
	assertRemoved(t, up.Path)

	var nilUpload *Upload
	nilUpload.Remove()
}
