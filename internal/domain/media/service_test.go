package media_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nbrain-team/vid/internal/config"
	"github.com/nbrain-team/vid/internal/domain/media"
	"github.com/nbrain-team/vid/internal/mock"
	"github.com/nbrain-team/vid/internal/utils/platformerrors"
	"github.com/nbrain-team/vid/utils/assetid"
)

type serviceFixture struct {
	service *media.Service
	repo    *mock.Repository
	blobs   *mock.BlobStore
	index   *mock.VectorIndex
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	f := &serviceFixture{
		repo:  mock.NewRepository(),
		blobs: mock.NewBlobStore(),
		index: mock.NewVectorIndex(),
	}
	f.service = media.NewService(&config.Config{S3PresignTTL: time.Hour}, f.repo, f.blobs, f.index, zerolog.Nop())
	t.Cleanup(f.service.Close)
	return f
}

// seedProcessed creates a committed asset with blob, thumbnail and vector.
func (f *serviceFixture) seedProcessed(t *testing.T, ownerID string) *media.MediaAsset {
	t.Helper()
	ctx := context.Background()
	id := assetid.New()
	storagePath := "users/" + ownerID + "/" + id + ".jpg"
	thumbPath := "thumbnails/" + id + ".jpg"

	require.NoError(t, f.blobs.Put(ctx, storagePath, newBlob("primary"), 7, "image/jpeg"))
	require.NoError(t, f.blobs.Put(ctx, thumbPath, newBlob("thumb"), 5, "image/jpeg"))
	embeddingID, err := f.index.Upsert(ctx, "", make([]float32, 4), media.VectorPayload{AssetID: id, FileType: "image", Tags: []string{"sunset"}})
	require.NoError(t, err)

	asset := &media.MediaAsset{
		ID:               id,
		OriginalFilename: "photo.jpg",
		FileType:         media.FileTypeImage,
		MimeType:         "image/jpeg",
		FileSize:         7,
		StoragePath:      storagePath,
		OwnerID:          ownerID,
		LicenseType:      "standard",
	}
	require.NoError(t, f.repo.Create(ctx, asset))
	require.NoError(t, f.repo.CommitDerived(ctx, id, media.DerivedFields{
		Caption:       "a sunset over hills",
		Tags:          []string{"sunset"},
		EmbeddingID:   embeddingID,
		ThumbnailPath: &thumbPath,
		ProcessedAt:   time.Now().UTC(),
	}))

	committed, err := f.repo.GetByID(ctx, id)
	require.NoError(t, err)
	return committed
}

func TestGetEnforcesOwnership(t *testing.T) {
	f := newServiceFixture(t)
	asset := f.seedProcessed(t, "owner-1")

	_, err := f.service.Get(context.Background(), asset.ID, "owner-2")
	require.Error(t, err)
	assert.True(t, platformerrors.IsType(err, platformerrors.ErrorTypeNotFound),
		"foreign assets are indistinguishable from missing ones")

	got, err := f.service.Get(context.Background(), asset.ID, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, asset.ID, got.ID)
}

func TestUpdatePropagatesTagsToIndex(t *testing.T) {
	f := newServiceFixture(t)
	asset := f.seedProcessed(t, "owner-1")

	updated, err := f.service.Update(context.Background(), asset.ID, "owner-1", media.AssetUpdate{
		Tags: []string{"beach", "dusk"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"beach", "dusk"}, updated.Tags)

	// The index write is asynchronous and best-effort.
	require.Eventually(t, func() bool {
		payload, ok := f.index.Payload(*asset.EmbeddingID)
		return ok && len(payload.Tags) == 2 && payload.Tags[0] == "beach"
	}, 2*time.Second, 10*time.Millisecond, "tag update must reach the vector payload")
}

func TestUpdateWithoutTagsSkipsIndex(t *testing.T) {
	f := newServiceFixture(t)
	asset := f.seedProcessed(t, "owner-1")
	title := "Evening shot"

	_, err := f.service.Update(context.Background(), asset.ID, "owner-1", media.AssetUpdate{Title: &title})
	require.NoError(t, err)

	payload, ok := f.index.Payload(*asset.EmbeddingID)
	require.True(t, ok)
	assert.Equal(t, []string{"sunset"}, payload.Tags, "payload untouched when tags did not change")
}

func TestCloseWaitsForInFlightTagSync(t *testing.T) {
	f := newServiceFixture(t)
	asset := f.seedProcessed(t, "owner-1")

	_, err := f.service.Update(context.Background(), asset.ID, "owner-1", media.AssetUpdate{
		Tags: []string{"beach"},
	})
	require.NoError(t, err)

	// Close must block on the async payload write, never race its send.
	require.NotPanics(t, f.service.Close)

	payload, ok := f.index.Payload(*asset.EmbeddingID)
	require.True(t, ok)
	assert.Equal(t, []string{"beach"}, payload.Tags)
}

func TestDeleteRemovesEverything(t *testing.T) {
	f := newServiceFixture(t)
	asset := f.seedProcessed(t, "owner-1")
	ctx := context.Background()

	require.NoError(t, f.service.Delete(ctx, asset.ID, "owner-1"))

	_, err := f.repo.GetByID(ctx, asset.ID)
	assert.True(t, platformerrors.IsType(err, platformerrors.ErrorTypeNotFound))
	assert.Equal(t, 0, f.index.Len())
	assert.Equal(t, 0, f.blobs.Len())
}

func TestDeleteAbortsBeforeRowOnVectorFailure(t *testing.T) {
	f := newServiceFixture(t)
	asset := f.seedProcessed(t, "owner-1")
	f.index.FailDelete = errors.New("qdrant unavailable")
	ctx := context.Background()

	err := f.service.Delete(ctx, asset.ID, "owner-1")
	require.Error(t, err)
	assert.True(t, platformerrors.IsType(err, platformerrors.ErrorTypeExternal))

	// Nothing may be removed: the delete must be retryable in full.
	_, err = f.repo.GetByID(ctx, asset.ID)
	require.NoError(t, err, "row must survive an aborted delete")
	assert.Equal(t, 2, f.blobs.Len(), "blobs must survive an aborted delete")
}

func TestDeleteAbortsBeforeRowOnBlobFailure(t *testing.T) {
	f := newServiceFixture(t)
	asset := f.seedProcessed(t, "owner-1")
	f.blobs.FailDelete = errors.New("bucket unavailable")
	ctx := context.Background()

	err := f.service.Delete(ctx, asset.ID, "owner-1")
	require.Error(t, err)

	_, err = f.repo.GetByID(ctx, asset.ID)
	require.NoError(t, err, "row must survive so references stay resolvable")
}

func TestDeleteEnforcesOwnership(t *testing.T) {
	f := newServiceFixture(t)
	asset := f.seedProcessed(t, "owner-1")

	err := f.service.Delete(context.Background(), asset.ID, "owner-2")
	require.Error(t, err)
	assert.True(t, platformerrors.IsType(err, platformerrors.ErrorTypeNotFound))
	assert.Equal(t, 1, f.index.Len(), "foreign delete must not touch the vector")
}

func TestListClampsPagination(t *testing.T) {
	f := newServiceFixture(t)
	f.seedProcessed(t, "owner-1")

	assets, total, err := f.service.List(context.Background(), "owner-1", media.ListQuery{Page: -5, PageSize: 10000})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Len(t, assets, 1)
}

func newBlob(s string) *strings.Reader {
	return strings.NewReader(s)
}
