package media

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nbrain-team/vid/internal/config"
	"github.com/nbrain-team/vid/internal/utils/platformerrors"
)

// Service serves owner-facing reads and edits of media assets, and owns the
// cross-store ordering for updates and deletes.
type Service struct {
	cfg   *config.Config
	repo  Repository
	blobs BlobStore
	index VectorIndex
	log   zerolog.Logger

	// tagSyncErrs receives failures from best-effort vector payload writes.
	// Drained by a logging loop; never surfaced to callers. tagSync tracks
	// in-flight writers so Close never closes the channel under a send.
	tagSync     sync.WaitGroup
	tagSyncErrs chan error
	closeOnce   sync.Once
}

func NewService(cfg *config.Config, repo Repository, blobs BlobStore, index VectorIndex, log zerolog.Logger) *Service {
	s := &Service{
		cfg:         cfg,
		repo:        repo,
		blobs:       blobs,
		index:       index,
		log:         log.With().Str("component", "media-service").Logger(),
		tagSyncErrs: make(chan error, 16),
	}
	go s.drainTagSyncErrors()
	return s
}

func (s *Service) drainTagSyncErrors() {
	for err := range s.tagSyncErrs {
		s.log.Warn().Err(err).Msg("vector payload tag sync failed; relational record stays authoritative")
	}
}

// Get returns the owner's asset or a NOT_FOUND error.
func (s *Service) Get(ctx context.Context, id, ownerID string) (*MediaAsset, error) {
	return s.repo.GetForOwner(ctx, id, ownerID)
}

// List returns one page of the owner's assets plus the total count.
func (s *Service) List(ctx context.Context, ownerID string, q ListQuery) ([]*MediaAsset, int64, error) {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize < 1 || q.PageSize > 100 {
		q.PageSize = 20
	}
	return s.repo.List(ctx, ownerID, q)
}

// Update applies owner edits. The relational record is authoritative; when the
// tag set changes and a vector exists, the new tags are propagated to the
// index payload as a fire-and-forget write whose failure never reaches the
// caller.
func (s *Service) Update(ctx context.Context, id, ownerID string, u AssetUpdate) (*MediaAsset, error) {
	if _, err := s.repo.GetForOwner(ctx, id, ownerID); err != nil {
		return nil, err
	}

	asset, err := s.repo.UpdateBusiness(ctx, id, u)
	if err != nil {
		return nil, platformerrors.AsError(ctx, platformerrors.LayerDomain, err, "update asset")
	}

	if u.Tags != nil && asset.EmbeddingID != nil {
		embeddingID := *asset.EmbeddingID
		tags := append([]string(nil), u.Tags...)
		s.tagSync.Add(1)
		go func() {
			defer s.tagSync.Done()
			syncCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := s.index.UpdatePayload(syncCtx, embeddingID, map[string]any{"tags": tags}); err != nil {
				select {
				case s.tagSyncErrs <- err:
				default:
				}
			}
		}()
	}

	return asset, nil
}

// Delete removes the asset and everything it owns. Ordering per the
// compensation discipline: vector first, then thumbnail blob, then primary
// blob, then the relational row. Any failure aborts before the row is removed
// so the remaining references stay valid and the delete is retryable in full.
func (s *Service) Delete(ctx context.Context, id, ownerID string) error {
	asset, err := s.repo.GetForOwner(ctx, id, ownerID)
	if err != nil {
		return err
	}

	if asset.EmbeddingID != nil {
		if err := s.index.Delete(ctx, *asset.EmbeddingID); err != nil {
			return platformerrors.NewError(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeExternal,
				"delete vector; asset left intact for retry", err, "")
		}
	}
	if asset.ThumbnailPath != nil {
		if err := s.blobs.Delete(ctx, *asset.ThumbnailPath); err != nil {
			return platformerrors.NewError(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeExternal,
				"delete thumbnail blob; asset left intact for retry", err, "")
		}
	}
	if err := s.blobs.Delete(ctx, asset.StoragePath); err != nil {
		return platformerrors.NewError(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeExternal,
			"delete primary blob; asset left intact for retry", err, "")
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return platformerrors.AsError(ctx, platformerrors.LayerDomain, err, "delete asset row")
	}

	s.log.Info().Str("asset_id", id).Msg("asset deleted")
	return nil
}

// PreviewURL returns a presigned URL for the primary blob.
func (s *Service) PreviewURL(ctx context.Context, asset *MediaAsset) (string, error) {
	return s.blobs.PresignedURL(ctx, asset.StoragePath, s.cfg.S3PresignTTL)
}

// ThumbnailURL returns a presigned URL for the thumbnail, or "" when none exists.
func (s *Service) ThumbnailURL(ctx context.Context, asset *MediaAsset) (string, error) {
	if asset.ThumbnailPath == nil {
		return "", nil
	}
	return s.blobs.PresignedURL(ctx, *asset.ThumbnailPath, s.cfg.S3PresignTTL)
}

// Close waits for in-flight tag syncs and stops the error drain.
func (s *Service) Close() {
	s.closeOnce.Do(func() {
		s.tagSync.Wait()
		close(s.tagSyncErrs)
	})
}
