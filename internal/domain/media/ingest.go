package media

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"

	"github.com/nbrain-team/vid/internal/config"
	"github.com/nbrain-team/vid/internal/infrastructure/metrics"
	"github.com/nbrain-team/vid/internal/utils/platformerrors"
	"github.com/nbrain-team/vid/utils/assetid"
)

var imageExtensions = map[string]bool{
	"jpg": true, "jpeg": true, "png": true, "gif": true, "webp": true,
}

// Ingestor accepts validated uploads: it stages the blob, creates the pending
// metadata row and enqueues the processing task.
type Ingestor struct {
	cfg   *config.Config
	repo  Repository
	blobs BlobStore
	queue TaskQueue
	log   zerolog.Logger
}

func NewIngestor(cfg *config.Config, repo Repository, blobs BlobStore, queue TaskQueue, log zerolog.Logger) *Ingestor {
	return &Ingestor{
		cfg:   cfg,
		repo:  repo,
		blobs: blobs,
		queue: queue,
		log:   log.With().Str("component", "ingestor").Logger(),
	}
}

// Submit validates and stores one upload, returning the pending asset.
//
// Ordering: blob write first, row insert second, enqueue last. A failed blob
// write creates no row; a failed enqueue keeps the row (the asset stays
// pending and is picked up by RequeueStale). The staged temp copy is removed
// on every exit path once the blob upload is settled.
func (s *Ingestor) Submit(ctx context.Context, fileStream io.Reader, originalFilename, declaredMime, ownerID string) (*MediaAsset, error) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(originalFilename), "."))
	if ext == "" || !s.cfg.ExtensionAllowed(ext) {
		return nil, platformerrors.NewError(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeValidation,
			fmt.Sprintf("file type not allowed: %q (allowed: %s)", ext, strings.Join(s.cfg.AllowedExtensions, ", ")), nil, "")
	}

	// Classified from extension before any content is inspected.
	fileType := FileTypeVideo
	if imageExtensions[ext] {
		fileType = FileTypeImage
	}

	staged, size, err := s.stage(ctx, fileStream)
	if err != nil {
		return nil, err
	}
	defer os.Remove(staged)

	mime, err := mimetype.DetectFile(staged)
	if err != nil {
		return nil, platformerrors.NewError(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeValidation,
			"unreadable upload", err, "")
	}
	mimeType := mime.String()
	if declaredMime != "" && declaredMime != mimeType {
		s.log.Debug().Str("declared", declaredMime).Str("detected", mimeType).Msg("declared mime overridden by sniffed type")
	}

	id := assetid.New()
	key := objectKey(ownerID, id, ext)

	f, err := os.Open(staged)
	if err != nil {
		return nil, platformerrors.NewError(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeInternal,
			"reopen staged upload", err, "")
	}
	defer f.Close()

	if err := s.blobs.Put(ctx, key, f, size, mimeType); err != nil {
		return nil, platformerrors.AsError(ctx, platformerrors.LayerDomain, err, "store blob")
	}

	asset := &MediaAsset{
		ID:               id,
		OriginalFilename: originalFilename,
		FileType:         fileType,
		MimeType:         mimeType,
		FileSize:         size,
		StoragePath:      key,
		OwnerID:          ownerID,
		LicenseType:      "standard",
	}
	if err := s.repo.Create(ctx, asset); err != nil {
		return nil, platformerrors.AsError(ctx, platformerrors.LayerDomain, err, "create asset row")
	}
	metrics.UploadsTotal.WithLabelValues(string(fileType), "accepted").Inc()
	metrics.UploadBytesTotal.WithLabelValues(string(fileType)).Add(float64(size))

	if err := s.queue.Enqueue(ctx, Task{AssetID: id, StoragePath: key}); err != nil {
		// The row stays; the asset remains pending and recoverable by the
		// re-enqueue sweep.
		s.log.Error().Err(err).Str("asset_id", id).Msg("enqueue processing task failed; asset left pending")
		metrics.EnqueueFailuresTotal.Inc()
	}

	s.log.Info().
		Str("asset_id", id).
		Str("file_type", string(fileType)).
		Str("mime", mimeType).
		Int64("bytes", size).
		Msg("asset ingested")

	return asset, nil
}

// RequeueStale re-enqueues processing for pending assets older than maxAge.
// Safe to run repeatedly: the worker's in-flight dedup and the idempotent
// vector upsert absorb duplicate deliveries.
func (s *Ingestor) RequeueStale(ctx context.Context, maxAge time.Duration) (int, error) {
	stale, err := s.repo.ListStalePending(ctx, time.Now().Add(-maxAge))
	if err != nil {
		return 0, platformerrors.AsError(ctx, platformerrors.LayerDomain, err, "list stale pending")
	}
	requeued := 0
	for _, asset := range stale {
		if err := s.queue.Enqueue(ctx, Task{AssetID: asset.ID, StoragePath: asset.StoragePath}); err != nil {
			s.log.Error().Err(err).Str("asset_id", asset.ID).Msg("requeue failed")
			continue
		}
		requeued++
	}
	return requeued, nil
}

// stage spools the upload to a temp file, enforcing the size ceiling as it
// copies so oversized streams are cut off early.
func (s *Ingestor) stage(ctx context.Context, r io.Reader) (string, int64, error) {
	tmp, err := os.CreateTemp("", "vid-upload-*")
	if err != nil {
		return "", 0, platformerrors.NewError(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeInternal,
			"create staging file", err, "")
	}
	defer tmp.Close()

	size, err := io.Copy(tmp, io.LimitReader(r, s.cfg.MaxUploadBytes+1))
	if err != nil {
		os.Remove(tmp.Name())
		return "", 0, platformerrors.NewError(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeInternal,
			"spool upload", err, "")
	}
	if size > s.cfg.MaxUploadBytes {
		os.Remove(tmp.Name())
		return "", 0, platformerrors.NewError(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeValidation,
			fmt.Sprintf("file too large: maximum size is %d bytes", s.cfg.MaxUploadBytes), nil, "")
	}
	if size == 0 {
		os.Remove(tmp.Name())
		return "", 0, platformerrors.NewError(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeValidation,
			"file is empty", nil, "")
	}
	return tmp.Name(), size, nil
}

// objectKey builds the owner- and date-scoped storage path. The object name is
// a fresh ULID, independent of the original filename.
func objectKey(ownerID, id, ext string) string {
	datePath := time.Now().UTC().Format("2006/01/02")
	return fmt.Sprintf("users/%s/%s/%s.%s", ownerID, datePath, id, ext)
}
