package processing

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/nbrain-team/vid/internal/domain/media"
	"github.com/nbrain-team/vid/internal/utils/platformerrors"
)

// extraction holds what the Extracting step produced for the later steps.
type extraction struct {
	width    int
	height   int
	duration *float64
	// repImage is the image standing in for the asset downstream: the
	// original image, or the extracted video frame.
	repImage []byte
}

// runAttempt executes one full pass of the state machine for the task. Every
// failure restarts from Extracting on the next delivery, so each step must be
// idempotent; the vector upsert checks for an existing embedding before
// inserting. Returns the asset's file type for metric labelling.
func (w *Worker) runAttempt(ctx context.Context, t media.Task) (string, error) {
	state := StateReceived

	asset, err := w.repo.GetByID(ctx, t.AssetID)
	if err != nil {
		if platformerrors.IsType(err, platformerrors.ErrorTypeNotFound) {
			// Row gone before processing started: nothing to converge.
			return "", platformerrors.NewError(ctx, platformerrors.LayerWorker, platformerrors.ErrorTypePermanent,
				"asset row missing", err, "")
		}
		return "", err
	}
	fileType := string(asset.FileType)
	if asset.IsProcessed() {
		// Redelivered after a successful commit; the ack was lost.
		w.log.Debug().Str("asset_id", asset.ID).Msg("asset already processed, dropping redelivery")
		return fileType, nil
	}

	state = w.advance(asset.ID, state, StateExtracting)
	local, cleanup, err := w.stageLocal(ctx, asset)
	if err != nil {
		return fileType, err
	}
	defer cleanup()

	ex, err := w.extract(ctx, asset, local)
	if err != nil {
		return fileType, err
	}

	state = w.advance(asset.ID, state, StateDeriving)
	analysis, err := w.embedder.EmbedImage(ctx, ex.repImage)
	if err != nil {
		return fileType, platformerrors.AsError(ctx, platformerrors.LayerWorker, err, "embed image")
	}
	caption := analysis.Caption
	if asset.FileType == media.FileTypeVideo {
		caption = "Video: " + caption
	}

	// A missing thumbnail is acceptable degraded service, unlike a missing
	// embedding: failures here are logged and processing continues.
	var thumbnailPath *string
	thumb, thumbErr := makeThumbnail(ctx, ex.repImage, w.cfg.ThumbnailMaxEdge)
	if thumbErr == nil {
		key := fmt.Sprintf("thumbnails/%s.jpg", asset.ID)
		if putErr := w.blobs.Put(ctx, key, bytes.NewReader(thumb), int64(len(thumb)), "image/jpeg"); putErr == nil {
			thumbnailPath = &key
		} else {
			w.log.Warn().Err(putErr).Str("asset_id", asset.ID).Msg("thumbnail upload failed, continuing without")
		}
	} else {
		w.log.Warn().Err(thumbErr).Str("asset_id", asset.ID).Msg("thumbnail generation failed, continuing without")
	}

	state = w.advance(asset.ID, state, StateIndexing)
	existing, err := w.index.FindByAsset(ctx, asset.ID)
	if err != nil {
		return fileType, platformerrors.AsError(ctx, platformerrors.LayerWorker, err, "look up existing vector")
	}
	payload := media.VectorPayload{
		AssetID:   asset.ID,
		FileType:  string(asset.FileType),
		Caption:   caption,
		Tags:      analysis.Tags,
		Filename:  asset.OriginalFilename,
		CreatedAt: asset.CreatedAt.UTC().Format(time.RFC3339),
	}
	embeddingID, err := w.index.Upsert(ctx, existing, analysis.Embedding, payload)
	if err != nil {
		return fileType, platformerrors.AsError(ctx, platformerrors.LayerWorker, err, "upsert embedding")
	}
	if embeddingID == "" {
		return fileType, platformerrors.NewError(ctx, platformerrors.LayerWorker, platformerrors.ErrorTypeConsistency,
			"vector index returned empty embedding id", nil, "")
	}

	w.advance(asset.ID, state, StateCommitted)
	derived := media.DerivedFields{
		Caption:       caption,
		Tags:          analysis.Tags,
		EmbeddingID:   embeddingID,
		ThumbnailPath: thumbnailPath,
		Duration:      ex.duration,
		ProcessedAt:   time.Now().UTC(),
	}
	derived.Width = &ex.width
	derived.Height = &ex.height

	if err := w.repo.CommitDerived(ctx, asset.ID, derived); err != nil {
		if platformerrors.IsType(err, platformerrors.ErrorTypeNotFound) {
			// The asset was deleted while we processed it. Compensate by
			// removing the external objects we just created, otherwise the
			// vector and thumbnail would be orphaned forever.
			w.compensate(asset.ID, embeddingID, thumbnailPath)
			return fileType, platformerrors.NewError(ctx, platformerrors.LayerWorker, platformerrors.ErrorTypePermanent,
				"asset deleted during processing; external writes compensated", err, "")
		}
		return fileType, platformerrors.AsError(ctx, platformerrors.LayerWorker, err, "commit derived fields")
	}

	w.log.Info().
		Str("asset_id", asset.ID).
		Str("embedding_id", embeddingID).
		Msg("asset processed")
	return fileType, nil
}

// extract reads dimensions and picks the representative image.
func (w *Worker) extract(ctx context.Context, asset *media.MediaAsset, localPath string) (*extraction, error) {
	if asset.FileType == media.FileTypeImage {
		data, err := os.ReadFile(localPath)
		if err != nil {
			return nil, platformerrors.NewError(ctx, platformerrors.LayerWorker, platformerrors.ErrorTypeExternal,
				"read staged image", err, "")
		}
		width, height, err := imageDimensions(ctx, data)
		if err != nil {
			return nil, err
		}
		return &extraction{width: width, height: height, repImage: data}, nil
	}

	info, err := w.prober.Probe(ctx, localPath)
	if err != nil {
		return nil, platformerrors.AsError(ctx, platformerrors.LayerWorker, err, "probe video")
	}
	duration := VideoDuration(info.FrameCount, info.FPS)
	frame, err := w.prober.ExtractFrame(ctx, localPath, RepresentativeFrameIndex(info.FrameCount))
	if err != nil {
		return nil, platformerrors.AsError(ctx, platformerrors.LayerWorker, err, "extract representative frame")
	}
	return &extraction{
		width:    info.Width,
		height:   info.Height,
		duration: &duration,
		repImage: frame,
	}, nil
}

// stageLocal downloads the blob to a temp file for local inspection. The
// returned cleanup removes the copy and is safe to call on every exit path.
func (w *Worker) stageLocal(ctx context.Context, asset *media.MediaAsset) (string, func(), error) {
	body, _, err := w.blobs.Get(ctx, asset.StoragePath)
	if err != nil {
		return "", func() {}, platformerrors.NewError(ctx, platformerrors.LayerWorker, platformerrors.ErrorTypeExternal,
			"fetch staged blob", err, "")
	}
	defer body.Close()

	tmp, err := os.CreateTemp("", "vid-proc-*")
	if err != nil {
		return "", func() {}, platformerrors.NewError(ctx, platformerrors.LayerWorker, platformerrors.ErrorTypeInternal,
			"create local staging file", err, "")
	}
	if _, err := io.Copy(tmp, body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", func() {}, platformerrors.NewError(ctx, platformerrors.LayerWorker, platformerrors.ErrorTypeExternal,
			"spool staged blob", err, "")
	}
	tmp.Close()

	name := tmp.Name()
	return name, func() { os.Remove(name) }, nil
}

// compensate undoes external writes after a commit that can never succeed.
// Failures are logged and left to operator reconciliation; they must not mask
// the original error.
func (w *Worker) compensate(assetID, embeddingID string, thumbnailPath *string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := w.index.Delete(ctx, embeddingID); err != nil {
		w.log.Error().Err(err).Str("asset_id", assetID).Str("embedding_id", embeddingID).
			Msg("compensation failed: orphaned vector needs manual reconciliation")
	}
	if thumbnailPath != nil {
		if err := w.blobs.Delete(ctx, *thumbnailPath); err != nil {
			w.log.Error().Err(err).Str("asset_id", assetID).Str("thumbnail", *thumbnailPath).
				Msg("compensation failed: orphaned thumbnail blob")
		}
	}
}

// advance logs a state transition, guarding against programming errors in the
// step ordering.
func (w *Worker) advance(assetID string, from, to State) State {
	if !from.CanTransitionTo(to) {
		w.log.Error().Str("asset_id", assetID).Str("from", from.String()).Str("to", to.String()).
			Msg("illegal state transition")
		return from
	}
	w.log.Debug().Str("asset_id", assetID).Str("state", to.String()).Msg("task state")
	return to
}
