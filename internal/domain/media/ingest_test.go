package media_test

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/jpeg"
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
)

func testConfig() *config.Config {
	return &config.Config{
		MaxUploadBytes:    1 << 20,
		AllowedExtensions: []string{"jpg", "jpeg", "png", "gif", "webp", "mp4", "mov", "avi", "webm"},
		MaxBulkFiles:      10,
	}
}

type ingestFixture struct {
	ingestor *media.Ingestor
	repo     *mock.Repository
	blobs    *mock.BlobStore
	queue    *mock.TaskQueue
}

func newIngestFixture(cfg *config.Config) *ingestFixture {
	f := &ingestFixture{
		repo:  mock.NewRepository(),
		blobs: mock.NewBlobStore(),
		queue: mock.NewTaskQueue(),
	}
	f.ingestor = media.NewIngestor(cfg, f.repo, f.blobs, f.queue, zerolog.Nop())
	return f
}

func smallJPEG(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 10, 10)), nil))
	return buf.Bytes()
}

func TestSubmitAcceptsImage(t *testing.T) {
	f := newIngestFixture(testConfig())
	data := smallJPEG(t)

	asset, err := f.ingestor.Submit(context.Background(), bytes.NewReader(data), "photo.jpg", "", "owner-1")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(asset.ID, "vid_"))
	assert.Equal(t, media.FileTypeImage, asset.FileType)
	assert.Equal(t, "image/jpeg", asset.MimeType, "mime comes from content sniffing")
	assert.Equal(t, int64(len(data)), asset.FileSize)
	assert.True(t, strings.HasPrefix(asset.StoragePath, "users/owner-1/"))
	assert.False(t, asset.IsProcessed())

	exists, err := f.blobs.Exists(context.Background(), asset.StoragePath)
	require.NoError(t, err)
	assert.True(t, exists, "blob must be stored before the row")

	stored, err := f.repo.GetByID(context.Background(), asset.ID)
	require.NoError(t, err)
	assert.Equal(t, asset.StoragePath, stored.StoragePath)

	ready, _ := f.queue.Pending()
	assert.Equal(t, 1, ready, "processing task must be enqueued")
}

func TestSubmitClassifiesVideoByExtension(t *testing.T) {
	f := newIngestFixture(testConfig())

	asset, err := f.ingestor.Submit(context.Background(), strings.NewReader("binary video bytes"), "clip.mp4", "", "owner-1")
	require.NoError(t, err)
	assert.Equal(t, media.FileTypeVideo, asset.FileType)
}

func TestSubmitValidation(t *testing.T) {
	cfg := testConfig()
	cfg.MaxUploadBytes = 64

	tests := []struct {
		name     string
		filename string
		body     string
	}{
		{name: "disallowed extension", filename: "malware.exe", body: "x"},
		{name: "missing extension", filename: "noext", body: "x"},
		{name: "empty file", filename: "empty.jpg", body: ""},
		{name: "oversized file", filename: "big.jpg", body: strings.Repeat("a", 65)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newIngestFixture(cfg)
			_, err := f.ingestor.Submit(context.Background(), strings.NewReader(tt.body), tt.filename, "", "owner-1")
			require.Error(t, err)
			assert.True(t, platformerrors.IsType(err, platformerrors.ErrorTypeValidation), "got %v", err)

			assert.Equal(t, 0, f.blobs.Len(), "rejected upload must leave no blob")
			ready, delayed := f.queue.Pending()
			assert.Zero(t, ready+delayed, "rejected upload must enqueue nothing")
		})
	}
}

func TestSubmitEnqueueFailureKeepsRow(t *testing.T) {
	f := newIngestFixture(testConfig())
	f.queue.FailEnqueue = errors.New("redis unavailable")

	asset, err := f.ingestor.Submit(context.Background(), bytes.NewReader(smallJPEG(t)), "photo.jpg", "", "owner-1")
	require.NoError(t, err, "enqueue failure must not fail the upload")

	stored, err := f.repo.GetByID(context.Background(), asset.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsProcessed(), "asset stays pending, recoverable by the sweep")
}

func TestRequeueStale(t *testing.T) {
	f := newIngestFixture(testConfig())
	f.queue.FailEnqueue = errors.New("redis unavailable")

	asset, err := f.ingestor.Submit(context.Background(), bytes.NewReader(smallJPEG(t)), "photo.jpg", "", "owner-1")
	require.NoError(t, err)

	f.queue.FailEnqueue = nil
	// Backdate the row so the sweep picks it up.
	asset.CreatedAt = time.Now().Add(-2 * time.Hour)
	require.NoError(t, f.repo.Create(context.Background(), asset))

	n, err := f.ingestor.RequeueStale(context.Background(), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	ready, _ := f.queue.Pending()
	assert.Equal(t, 1, ready)
}
