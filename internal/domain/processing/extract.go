package processing

import (
	"bytes"
	"context"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/nbrain-team/vid/internal/utils/platformerrors"
)

// VideoInfo carries the stream properties read during extraction.
type VideoInfo struct {
	Width      int
	Height     int
	FrameCount int
	FPS        float64
}

// VideoProber inspects video files and extracts single frames. Implemented by
// the ffmpeg wrapper; faked in tests.
type VideoProber interface {
	Probe(ctx context.Context, path string) (*VideoInfo, error)
	// ExtractFrame returns the frame at the given index, JPEG-encoded.
	ExtractFrame(ctx context.Context, path string, frameIndex int) ([]byte, error)
}

// VideoDuration computes seconds from frame count and fps. A zero or negative
// fps yields 0, not a division fault.
func VideoDuration(frameCount int, fps float64) float64 {
	if fps <= 0 {
		return 0
	}
	return float64(frameCount) / fps
}

// RepresentativeFrameIndex picks the frame that stands in for the video in
// captioning, embedding and the thumbnail: min(30, frameCount/2).
func RepresentativeFrameIndex(frameCount int) int {
	half := frameCount / 2
	if half < 30 {
		return half
	}
	return 30
}

// imageDimensions decodes only the header of an image.
func imageDimensions(ctx context.Context, data []byte) (int, int, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, platformerrors.NewError(ctx, platformerrors.LayerWorker, platformerrors.ErrorTypePermanent,
			"undecodable image", err, "")
	}
	return cfg.Width, cfg.Height, nil
}

// makeThumbnail re-encodes the image into a JPEG bounded by maxEdge on its
// longer side, preserving aspect ratio.
func makeThumbnail(ctx context.Context, data []byte, maxEdge int) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, platformerrors.NewError(ctx, platformerrors.LayerWorker, platformerrors.ErrorTypePermanent,
			"undecodable image for thumbnail", err, "")
	}

	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= 0 || h <= 0 {
		return nil, platformerrors.NewError(ctx, platformerrors.LayerWorker, platformerrors.ErrorTypePermanent,
			"degenerate image bounds", nil, "")
	}

	tw, th := w, h
	if w > maxEdge || h > maxEdge {
		if w >= h {
			tw = maxEdge
			th = h * maxEdge / w
		} else {
			th = maxEdge
			tw = w * maxEdge / h
		}
		if tw < 1 {
			tw = 1
		}
		if th < 1 {
			th = 1
		}
	}

	dst := image.NewRGBA(image.Rect(0, 0, tw, th))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: 85}); err != nil {
		return nil, platformerrors.NewError(ctx, platformerrors.LayerWorker, platformerrors.ErrorTypeInternal,
			"encode thumbnail", err, "")
	}
	return buf.Bytes(), nil
}
