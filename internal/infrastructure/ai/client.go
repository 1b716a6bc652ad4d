// Package ai is the client for the captioning/embedding sidecar. The sidecar
// runs the vision models and exposes them over a small JSON API; image and
// text embeddings share one vector space.
package ai

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/nbrain-team/vid/internal/config"
	"github.com/nbrain-team/vid/internal/domain/media"
	"github.com/nbrain-team/vid/internal/utils/platformerrors"
)

// Client implements media.Embedder against the sidecar.
type Client struct {
	http      *resty.Client
	vectorDim int
	log       zerolog.Logger
}

func NewClient(cfg *config.Config, log zerolog.Logger) *Client {
	return &Client{
		http: resty.New().
			SetBaseURL(cfg.AIServiceURL).
			SetTimeout(cfg.AIServiceTimeout),
		vectorDim: cfg.VectorDim,
		log:       log.With().Str("component", "ai-client").Logger(),
	}
}

type analyzeRequest struct {
	ImageBase64 string `json:"image_base64"`
}

type analyzeResponse struct {
	Caption   string    `json:"caption"`
	Embedding []float32 `json:"embedding"`
	Tags      []string  `json:"tags"`
}

// EmbedImage sends the image for captioning and embedding. Tags returned by
// the sidecar are merged with tags derived from the caption text.
func (c *Client) EmbedImage(ctx context.Context, image []byte) (*media.ImageAnalysis, error) {
	var out analyzeResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(analyzeRequest{ImageBase64: base64.StdEncoding.EncodeToString(image)}).
		SetResult(&out).
		Post("/analyze")
	if err != nil {
		return nil, platformerrors.NewError(ctx, platformerrors.LayerInfrastructure, platformerrors.ErrorTypeExternal,
			"embedding sidecar unreachable", err, "")
	}
	if err := c.checkResponse(ctx, resp, "analyze image"); err != nil {
		return nil, err
	}
	if len(out.Embedding) != c.vectorDim {
		return nil, platformerrors.NewError(ctx, platformerrors.LayerInfrastructure, platformerrors.ErrorTypeExternal,
			fmt.Sprintf("sidecar returned %d-dim embedding, expected %d", len(out.Embedding), c.vectorDim), nil, "")
	}

	return &media.ImageAnalysis{
		Caption:   out.Caption,
		Tags:      mergeTags(TagsFromCaption(out.Caption), out.Tags),
		Embedding: out.Embedding,
	}, nil
}

type embedTextRequest struct {
	Query string `json:"query"`
}

type embedTextResponse struct {
	Embedding []float32 `json:"embedding"`
}

func (c *Client) EmbedText(ctx context.Context, query string) ([]float32, error) {
	var out embedTextResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(embedTextRequest{Query: query}).
		SetResult(&out).
		Post("/embed-text")
	if err != nil {
		return nil, platformerrors.NewError(ctx, platformerrors.LayerInfrastructure, platformerrors.ErrorTypeExternal,
			"embedding sidecar unreachable", err, "")
	}
	if err := c.checkResponse(ctx, resp, "embed text"); err != nil {
		return nil, err
	}
	if len(out.Embedding) != c.vectorDim {
		return nil, platformerrors.NewError(ctx, platformerrors.LayerInfrastructure, platformerrors.ErrorTypeExternal,
			fmt.Sprintf("sidecar returned %d-dim embedding, expected %d", len(out.Embedding), c.vectorDim), nil, "")
	}
	return out.Embedding, nil
}

// Health pings the sidecar.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	resp, err := c.http.R().SetContext(ctx).Get("/health")
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("sidecar unhealthy: %s", resp.Status())
	}
	return nil
}

// checkResponse classifies HTTP failures: a 4xx means the input can never be
// processed, a 5xx is transient.
func (c *Client) checkResponse(ctx context.Context, resp *resty.Response, op string) error {
	if resp.IsSuccess() {
		return nil
	}
	msg := fmt.Sprintf("%s: sidecar returned %s: %s", op, resp.Status(), resp.String())
	if resp.StatusCode() >= 400 && resp.StatusCode() < 500 {
		return platformerrors.NewError(ctx, platformerrors.LayerInfrastructure, platformerrors.ErrorTypePermanent, msg, nil, "")
	}
	return platformerrors.NewError(ctx, platformerrors.LayerInfrastructure, platformerrors.ErrorTypeExternal, msg, nil, "")
}

func mergeTags(primary, extra []string) []string {
	seen := make(map[string]struct{}, len(primary)+len(extra))
	merged := make([]string, 0, len(primary)+len(extra))
	for _, set := range [][]string{primary, extra} {
		for _, tag := range set {
			if tag == "" {
				continue
			}
			if _, dup := seen[tag]; dup {
				continue
			}
			seen[tag] = struct{}{}
			merged = append(merged, tag)
		}
	}
	return merged
}
