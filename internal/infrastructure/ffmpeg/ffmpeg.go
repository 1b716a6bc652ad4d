// Package ffmpeg shells out to ffprobe and ffmpeg for video inspection and
// frame extraction.
package ffmpeg

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/nbrain-team/vid/internal/domain/processing"
	"github.com/nbrain-team/vid/internal/utils/platformerrors"
)

// Prober implements processing.VideoProber.
type Prober struct {
	ffprobeBin string
	ffmpegBin  string
	log        zerolog.Logger
}

func NewProber(log zerolog.Logger) *Prober {
	return &Prober{
		ffprobeBin: "ffprobe",
		ffmpegBin:  "ffmpeg",
		log:        log.With().Str("component", "ffmpeg").Logger(),
	}
}

type probeOutput struct {
	Streams []struct {
		Width      int    `json:"width"`
		Height     int    `json:"height"`
		NbFrames   string `json:"nb_frames"`
		RFrameRate string `json:"r_frame_rate"`
		Duration   string `json:"duration"`
	} `json:"streams"`
}

// Probe reads the first video stream's properties. A file ffprobe cannot parse
// is permanently unprocessable.
func (p *Prober) Probe(ctx context.Context, path string) (*processing.VideoInfo, error) {
	cmd := exec.CommandContext(ctx, p.ffprobeBin,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height,nb_frames,r_frame_rate,duration",
		"-of", "json",
		path,
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, platformerrors.NewError(ctx, platformerrors.LayerInfrastructure, platformerrors.ErrorTypeExternal,
				"ffprobe timed out", err, "")
		}
		return nil, platformerrors.NewError(ctx, platformerrors.LayerInfrastructure, platformerrors.ErrorTypePermanent,
			fmt.Sprintf("ffprobe failed: %s", strings.TrimSpace(stderr.String())), err, "")
	}

	var out probeOutput
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return nil, platformerrors.NewError(ctx, platformerrors.LayerInfrastructure, platformerrors.ErrorTypePermanent,
			"ffprobe produced unparseable output", err, "")
	}
	if len(out.Streams) == 0 {
		return nil, platformerrors.NewError(ctx, platformerrors.LayerInfrastructure, platformerrors.ErrorTypePermanent,
			"file has no video stream", nil, "")
	}

	stream := out.Streams[0]
	fps := parseFrameRate(stream.RFrameRate)
	frameCount := parseFrameCount(stream.NbFrames, stream.Duration, fps)

	return &processing.VideoInfo{
		Width:      stream.Width,
		Height:     stream.Height,
		FrameCount: frameCount,
		FPS:        fps,
	}, nil
}

// ExtractFrame decodes the frame at the given index and returns it as JPEG.
func (p *Prober) ExtractFrame(ctx context.Context, path string, frameIndex int) ([]byte, error) {
	if frameIndex < 0 {
		frameIndex = 0
	}
	cmd := exec.CommandContext(ctx, p.ffmpegBin,
		"-v", "error",
		"-i", path,
		"-vf", fmt.Sprintf("select=eq(n\\,%d)", frameIndex),
		"-frames:v", "1",
		"-f", "image2",
		"-c:v", "mjpeg",
		"pipe:1",
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, platformerrors.NewError(ctx, platformerrors.LayerInfrastructure, platformerrors.ErrorTypeExternal,
				"ffmpeg timed out", err, "")
		}
		return nil, platformerrors.NewError(ctx, platformerrors.LayerInfrastructure, platformerrors.ErrorTypePermanent,
			fmt.Sprintf("ffmpeg frame extraction failed: %s", strings.TrimSpace(stderr.String())), err, "")
	}
	if stdout.Len() == 0 {
		return nil, platformerrors.NewError(ctx, platformerrors.LayerInfrastructure, platformerrors.ErrorTypePermanent,
			fmt.Sprintf("ffmpeg produced no frame at index %d", frameIndex), nil, "")
	}
	return stdout.Bytes(), nil
}

// parseFrameRate evaluates ffprobe's rational frame rate, e.g. "30000/1001".
func parseFrameRate(raw string) float64 {
	parts := strings.SplitN(raw, "/", 2)
	num, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return 0
	}
	if len(parts) == 1 {
		return num
	}
	den, err := strconv.ParseFloat(parts[1], 64)
	if err != nil || den == 0 {
		return 0
	}
	return num / den
}

// parseFrameCount prefers the container's nb_frames; some containers omit it,
// in which case it is estimated from duration and fps.
func parseFrameCount(nbFrames, duration string, fps float64) int {
	if n, err := strconv.Atoi(nbFrames); err == nil && n > 0 {
		return n
	}
	if d, err := strconv.ParseFloat(duration, 64); err == nil && d > 0 && fps > 0 {
		return int(d * fps)
	}
	return 0
}
