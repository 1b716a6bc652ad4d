package processing_test

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nbrain-team/vid/internal/config"
	"github.com/nbrain-team/vid/internal/domain/media"
	"github.com/nbrain-team/vid/internal/domain/processing"
	"github.com/nbrain-team/vid/internal/mock"
	"github.com/nbrain-team/vid/internal/utils/platformerrors"
	"github.com/nbrain-team/vid/utils/assetid"
)

const vectorDim = 512

type workerFixture struct {
	worker   *processing.Worker
	repo     *mock.Repository
	blobs    *mock.BlobStore
	index    *mock.VectorIndex
	embedder *mock.Embedder
	prober   *mock.VideoProber
	queue    *mock.TaskQueue
	cancel   context.CancelFunc
}

func newWorkerFixture(t *testing.T) *workerFixture {
	t.Helper()
	cfg := &config.Config{
		WorkerCount:      2,
		MaxAttempts:      3,
		RetryBaseDelay:   time.Millisecond,
		RetryMaxDelay:    10 * time.Millisecond,
		TaskSoftTimeout:  5 * time.Second,
		ThumbnailMaxEdge: 300,
	}
	f := &workerFixture{
		repo:     mock.NewRepository(),
		blobs:    mock.NewBlobStore(),
		index:    mock.NewVectorIndex(),
		embedder: mock.NewEmbedder(vectorDim),
		prober:   &mock.VideoProber{},
		queue:    mock.NewTaskQueue(),
	}
	worker, err := processing.NewWorker(cfg, f.repo, f.blobs, f.index, f.embedder, f.prober, f.queue, zerolog.Nop())
	require.NoError(t, err)
	f.worker = worker

	ctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	go f.worker.Run(ctx)
	t.Cleanup(func() {
		cancel()
		f.worker.Close()
	})
	return f
}

func jpegBytes(t *testing.T, width, height int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, width, height)), nil))
	return buf.Bytes()
}

// seedAsset creates an unprocessed asset row plus its blob.
func (f *workerFixture) seedAsset(t *testing.T, fileType media.FileType, blob []byte) *media.MediaAsset {
	t.Helper()
	id := assetid.New()
	asset := &media.MediaAsset{
		ID:               id,
		OriginalFilename: "clip.dat",
		FileType:         fileType,
		MimeType:         "application/octet-stream",
		FileSize:         int64(len(blob)),
		StoragePath:      "users/owner-1/" + id,
		OwnerID:          "owner-1",
		LicenseType:      "standard",
	}
	require.NoError(t, f.repo.Create(context.Background(), asset))
	require.NoError(t, f.blobs.Put(context.Background(), asset.StoragePath, bytes.NewReader(blob), int64(len(blob)), "application/octet-stream"))
	return asset
}

func (f *workerFixture) enqueue(t *testing.T, asset *media.MediaAsset) {
	t.Helper()
	require.NoError(t, f.queue.Enqueue(context.Background(), media.Task{AssetID: asset.ID, StoragePath: asset.StoragePath}))
}

func (f *workerFixture) waitProcessed(t *testing.T, id string) *media.MediaAsset {
	t.Helper()
	var processed *media.MediaAsset
	require.Eventually(t, func() bool {
		asset, err := f.repo.GetByID(context.Background(), id)
		if err != nil || !asset.IsProcessed() {
			return false
		}
		processed = asset
		return true
	}, 5*time.Second, 10*time.Millisecond, "asset was never committed")
	return processed
}

func TestWorkerProcessesImage(t *testing.T) {
	f := newWorkerFixture(t)
	asset := f.seedAsset(t, media.FileTypeImage, jpegBytes(t, 10, 10))
	f.enqueue(t, asset)

	got := f.waitProcessed(t, asset.ID)

	require.NotNil(t, got.Width)
	require.NotNil(t, got.Height)
	assert.Equal(t, 10, *got.Width)
	assert.Equal(t, 10, *got.Height)
	assert.Nil(t, got.Duration)
	require.NotNil(t, got.Caption)
	assert.Equal(t, "a sunset over hills", *got.Caption)
	assert.Equal(t, []string{"sunset", "hills"}, got.Tags)
	assert.Nil(t, got.LastError)

	require.NotNil(t, got.EmbeddingID)
	assert.Equal(t, 1, f.index.Len())
	payload, ok := f.index.Payload(*got.EmbeddingID)
	require.True(t, ok)
	assert.Equal(t, asset.ID, payload.AssetID)
	assert.Equal(t, "image", payload.FileType)

	require.NotNil(t, got.ThumbnailPath)
	exists, err := f.blobs.Exists(context.Background(), *got.ThumbnailPath)
	require.NoError(t, err)
	assert.True(t, exists, "thumbnail must be stored")
}

func TestWorkerProcessesVideo(t *testing.T) {
	f := newWorkerFixture(t)
	f.prober.Info = &processing.VideoInfo{Width: 640, Height: 480, FrameCount: 100, FPS: 25}
	f.prober.Frame = jpegBytes(t, 640, 480)

	asset := f.seedAsset(t, media.FileTypeVideo, []byte("fake video container"))
	f.enqueue(t, asset)

	got := f.waitProcessed(t, asset.ID)

	require.NotNil(t, got.Duration)
	assert.InDelta(t, 4.0, *got.Duration, 0.001)
	assert.Equal(t, 640, *got.Width)
	assert.Equal(t, 480, *got.Height)
	require.NotNil(t, got.Caption)
	assert.Equal(t, "Video: a sunset over hills", *got.Caption)
	assert.Equal(t, 30, f.prober.LastFrameIndex(), "representative frame is min(30, frames/2)")
}

func TestWorkerRedeliveryIsIdempotent(t *testing.T) {
	f := newWorkerFixture(t)
	asset := f.seedAsset(t, media.FileTypeImage, jpegBytes(t, 10, 10))

	// Deliver the same task twice, as a lost ack would.
	f.enqueue(t, asset)
	f.waitProcessed(t, asset.ID)
	f.enqueue(t, asset)

	require.Eventually(t, func() bool {
		acked, _ := f.queue.Counts()
		return acked == 2
	}, 5*time.Second, 10*time.Millisecond, "redelivery must be acked")

	assert.Equal(t, 1, f.index.Len(), "exactly one vector per asset")
	assert.Equal(t, 1, f.embedder.ImageCalls(), "processed asset must not be re-derived")
}

func TestWorkerRetriesTransientFailure(t *testing.T) {
	f := newWorkerFixture(t)
	transient := platformerrors.NewError(context.Background(), platformerrors.LayerInfrastructure,
		platformerrors.ErrorTypeExternal, "sidecar down", nil, "")
	f.embedder.SetFailImage(transient)

	asset := f.seedAsset(t, media.FileTypeImage, jpegBytes(t, 10, 10))
	f.enqueue(t, asset)

	require.Eventually(t, func() bool {
		_, nacked := f.queue.Counts()
		return nacked >= 1
	}, 5*time.Second, 10*time.Millisecond, "transient failure must be nacked")

	got, err := f.repo.GetByID(context.Background(), asset.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.LastError, "attempt error is recorded")
	assert.False(t, got.IsProcessed())

	f.embedder.SetFailImage(nil)
	f.queue.Advance()

	got = f.waitProcessed(t, asset.ID)
	assert.Nil(t, got.LastError, "commit clears the last error")
	assert.Equal(t, 1, f.index.Len())
}

func TestWorkerExhaustsRetries(t *testing.T) {
	f := newWorkerFixture(t)
	transient := platformerrors.NewError(context.Background(), platformerrors.LayerInfrastructure,
		platformerrors.ErrorTypeExternal, "sidecar down", nil, "")
	f.embedder.SetFailImage(transient)

	asset := f.seedAsset(t, media.FileTypeImage, jpegBytes(t, 10, 10))
	f.enqueue(t, asset)

	// Drive redeliveries until the attempt ceiling acks the task.
	require.Eventually(t, func() bool {
		f.queue.Advance()
		acked, _ := f.queue.Counts()
		return acked == 1
	}, 5*time.Second, 10*time.Millisecond, "exhausted task must be acked")

	_, nacked := f.queue.Counts()
	assert.Equal(t, 2, nacked, "two retries before the third attempt fails")

	got, err := f.repo.GetByID(context.Background(), asset.ID)
	require.NoError(t, err)
	assert.False(t, got.IsProcessed(), "asset stays pending after exhaustion")
	require.NotNil(t, got.LastError)
	assert.Contains(t, *got.LastError, "sidecar down")
	assert.Equal(t, 0, f.index.Len())
}

func TestWorkerPermanentFailureShortCircuits(t *testing.T) {
	f := newWorkerFixture(t)
	asset := f.seedAsset(t, media.FileTypeImage, []byte("not a decodable image"))
	f.enqueue(t, asset)

	require.Eventually(t, func() bool {
		acked, _ := f.queue.Counts()
		return acked == 1
	}, 5*time.Second, 10*time.Millisecond)

	_, nacked := f.queue.Counts()
	assert.Equal(t, 0, nacked, "permanent failures are never retried")

	got, err := f.repo.GetByID(context.Background(), asset.ID)
	require.NoError(t, err)
	assert.False(t, got.IsProcessed())
	assert.NotNil(t, got.LastError)
}

func TestWorkerCompensatesWhenRowVanishes(t *testing.T) {
	f := newWorkerFixture(t)
	f.repo.FailCommit = platformerrors.NewError(context.Background(), platformerrors.LayerRepository,
		platformerrors.ErrorTypeNotFound, "media asset vanished before commit", nil, "")

	asset := f.seedAsset(t, media.FileTypeImage, jpegBytes(t, 10, 10))
	f.enqueue(t, asset)

	require.Eventually(t, func() bool {
		acked, _ := f.queue.Counts()
		return acked == 1
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, 0, f.index.Len(), "orphaned vector must be compensated away")
	thumbExists, err := f.blobs.Exists(context.Background(), fmt.Sprintf("thumbnails/%s.jpg", asset.ID))
	require.NoError(t, err)
	assert.False(t, thumbExists, "orphaned thumbnail must be compensated away")
}

func TestWorkerConcurrentDuplicateDelivery(t *testing.T) {
	f := newWorkerFixture(t)
	asset := f.seedAsset(t, media.FileTypeImage, jpegBytes(t, 10, 10))

	// Two simultaneous deliveries of the same asset; the in-process dedup
	// defers one of them.
	f.enqueue(t, asset)
	f.enqueue(t, asset)

	f.waitProcessed(t, asset.ID)
	require.Eventually(t, func() bool {
		f.queue.Advance()
		acked, _ := f.queue.Counts()
		return acked == 2
	}, 5*time.Second, 10*time.Millisecond, "deferred duplicate must eventually settle")

	assert.Equal(t, 1, f.index.Len(), "exactly one vector despite duplicate delivery")
	assert.Equal(t, 1, f.embedder.ImageCalls())
}
