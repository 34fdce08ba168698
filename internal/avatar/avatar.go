package avatar

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"github.com/learnhub/lmsapi/types"
)

const (
	// Folder prefixes every stored avatar key.
	Folder = "lms"

	Width       = 250
	Height      = 250
	jpegQuality = 85
	contentType = "image/jpeg"
)

var (
	ErrUploadFailed = errors.New("avatar upload failed")
	ErrDeleteFailed = errors.New("avatar delete failed")
	ErrInvalidImage = errors.New("invalid image")
)

// Store is the subset of object storage the manager needs.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Delete(ctx context.Context, key string) error
	PublicURL(key string) string
}

// Upload is an image received from a client and spooled to a local temp file.
type Upload struct {
	Path     string
	Filename string
}

// Remove deletes the temp file. It is safe to call more than once.
func (u *Upload) Remove() {
	if u == nil || u.Path == "" {
		return
	}
	if err := os.Remove(u.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("avatar: remove temp file", slog.String("path", u.Path), slog.Any("error", err))
	}
}

// Manager owns the lifecycle of avatar assets in the object store.
type Manager struct {
	store Store
	log   *slog.Logger
}

func NewManager(store Store, log *slog.Logger) *Manager {
	return &Manager{store: store, log: log}
}

// Upload crops the image to Width x Height, stores it under Folder and
// returns its reference. The temp file is removed on every path. A file that
// does not decode fails with ErrInvalidImage; anything else with ErrUploadFailed.
func (m *Manager) Upload(ctx context.Context, upload *Upload) (types.Avatar, error) {
	const op = "avatar.Upload"
	defer upload.Remove()

	data, err := render(upload.Path)
	if err != nil {
		return types.Avatar{}, fmt.Errorf("%s: %w", op, err)
	}

	key := fmt.Sprintf("%s/%s.jpg", Folder, uuid.NewString())
	if err := m.store.Put(ctx, key, bytes.NewReader(data), int64(len(data)), contentType); err != nil {
		return types.Avatar{}, fmt.Errorf("%s: %w: %w", op, ErrUploadFailed, err)
	}

	return types.Avatar{AssetID: key, URL: m.store.PublicURL(key)}, nil
}

// Delete releases a stored avatar. References that never named an object
// in Folder, such as the signup placeholder, are ignored.
func (m *Manager) Delete(ctx context.Context, assetID string) error {
	const op = "avatar.Delete"

	if !Owned(assetID) {
		return nil
	}
	if err := m.store.Delete(ctx, assetID); err != nil {
		return fmt.Errorf("%s: %w: %w", op, ErrDeleteFailed, err)
	}
	return nil
}

// Replace uploads the new image, hands it to swap for persistence and only
// then deletes the previous asset. If swap fails the new asset is deleted
// and the old one is left in place.
func (m *Manager) Replace(ctx context.Context, oldAssetID string, upload *Upload, swap func(types.Avatar) error) (types.Avatar, error) {
	log := m.log.With(slog.String("op", "avatar.Replace"))

	next, err := m.Upload(ctx, upload)
	if err != nil {
		return types.Avatar{}, err
	}

	if err := swap(next); err != nil {
		if delErr := m.Delete(ctx, next.AssetID); delErr != nil {
			log.Error("failed to remove orphaned avatar", slog.String("asset_id", next.AssetID), slog.Any("error", delErr))
		}
		return types.Avatar{}, err
	}

	if err := m.Delete(ctx, oldAssetID); err != nil {
		log.Error("failed to remove previous avatar", slog.String("asset_id", oldAssetID), slog.Any("error", err))
	}
	return next, nil
}

// Owned reports whether assetID names an object this manager stored.
func Owned(assetID string) bool {
	return strings.HasPrefix(assetID, Folder+"/")
}

// render fills a Width x Height frame anchored at the top edge, where faces
// sit in most portrait shots, and encodes it as JPEG.
func render(path string) ([]byte, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidImage, err)
	}

	cropped := imaging.Fill(img, Width, Height, imaging.Top, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, cropped, imaging.JPEG, imaging.JPEGQuality(jpegQuality)); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUploadFailed, err)
	}
	return buf.Bytes(), nil
}
