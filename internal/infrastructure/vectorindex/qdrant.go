// Package vectorindex implements the similarity index on Qdrant's REST API.
package vectorindex

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nbrain-team/vid/internal/config"
	"github.com/nbrain-team/vid/internal/domain/media"
)

// Qdrant talks to a Qdrant instance over HTTP. One collection holds all
// embeddings; assets are identified by the asset_id payload field.
type Qdrant struct {
	client     *resty.Client
	collection string
	vectorDim  int
	log        zerolog.Logger
}

func NewQdrant(cfg *config.Config, log zerolog.Logger) *Qdrant {
	client := resty.New().
		SetBaseURL(cfg.QdrantURL).
		SetTimeout(30 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond)
	if cfg.QdrantAPIKey != "" {
		client.SetHeader("api-key", cfg.QdrantAPIKey)
	}
	return &Qdrant{
		client:     client,
		collection: cfg.QdrantCollection,
		vectorDim:  cfg.VectorDim,
		log:        log.With().Str("component", "qdrant").Logger(),
	}
}

type qdrantStatus struct {
	Status any `json:"status"`
}

// EnsureCollection creates the collection with cosine distance if it does not
// exist yet. Safe to call on every startup.
func (q *Qdrant) EnsureCollection(ctx context.Context) error {
	resp, err := q.client.R().SetContext(ctx).Get(fmt.Sprintf("/collections/%s", q.collection))
	if err != nil {
		return fmt.Errorf("check collection: %w", err)
	}
	if resp.IsSuccess() {
		return nil
	}

	body := map[string]any{
		"vectors": map[string]any{
			"size":     q.vectorDim,
			"distance": "Cosine",
		},
	}
	resp, err = q.client.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&qdrantStatus{}).
		Put(fmt.Sprintf("/collections/%s", q.collection))
	if err != nil {
		return fmt.Errorf("create collection: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("create collection: qdrant returned %s: %s", resp.Status(), resp.String())
	}
	q.log.Info().Str("collection", q.collection).Int("dim", q.vectorDim).Msg("vector collection created")
	return nil
}

type qdrantPoint struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

func (q *Qdrant) Upsert(ctx context.Context, embeddingID string, vector []float32, payload media.VectorPayload) (string, error) {
	if len(vector) != q.vectorDim {
		return "", fmt.Errorf("vector has %d dimensions, collection expects %d", len(vector), q.vectorDim)
	}
	if embeddingID == "" {
		embeddingID = uuid.NewString()
	}

	point := qdrantPoint{
		ID:     embeddingID,
		Vector: vector,
		Payload: map[string]any{
			"asset_id":   payload.AssetID,
			"file_type":  payload.FileType,
			"caption":    payload.Caption,
			"tags":       payload.Tags,
			"filename":   payload.Filename,
			"created_at": payload.CreatedAt,
		},
	}
	resp, err := q.client.R().
		SetContext(ctx).
		SetBody(map[string]any{"points": []qdrantPoint{point}}).
		SetQueryParam("wait", "true").
		Put(fmt.Sprintf("/collections/%s/points", q.collection))
	if err != nil {
		return "", fmt.Errorf("upsert point: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("upsert point: qdrant returned %s: %s", resp.Status(), resp.String())
	}
	return embeddingID, nil
}

type qdrantSearchResult struct {
	Result []struct {
		ID      any            `json:"id"`
		Score   float32        `json:"score"`
		Payload map[string]any `json:"payload"`
	} `json:"result"`
}

func (q *Qdrant) Search(ctx context.Context, vector []float32, limit int, minScore float32, filter *media.VectorFilter) ([]media.Neighbor, error) {
	body := map[string]any{
		"vector":       vector,
		"limit":        limit,
		"with_payload": true,
	}
	if minScore > 0 {
		body["score_threshold"] = minScore
	}
	if conditions := filterConditions(filter); len(conditions) > 0 {
		body["filter"] = map[string]any{"must": conditions}
	}

	var out qdrantSearchResult
	resp, err := q.client.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&out).
		Post(fmt.Sprintf("/collections/%s/points/search", q.collection))
	if err != nil {
		return nil, fmt.Errorf("search points: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("search points: qdrant returned %s: %s", resp.Status(), resp.String())
	}

	neighbors := make([]media.Neighbor, 0, len(out.Result))
	for _, hit := range out.Result {
		neighbors = append(neighbors, media.Neighbor{
			EmbeddingID: fmt.Sprintf("%v", hit.ID),
			Score:       hit.Score,
			Payload:     payloadFromMap(hit.Payload),
		})
	}
	return neighbors, nil
}

func (q *Qdrant) UpdatePayload(ctx context.Context, embeddingID string, patch map[string]any) error {
	body := map[string]any{
		"payload": patch,
		"points":  []string{embeddingID},
	}
	resp, err := q.client.R().
		SetContext(ctx).
		SetBody(body).
		SetQueryParam("wait", "true").
		Post(fmt.Sprintf("/collections/%s/points/payload", q.collection))
	if err != nil {
		return fmt.Errorf("update payload: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("update payload: qdrant returned %s: %s", resp.Status(), resp.String())
	}
	return nil
}

func (q *Qdrant) Delete(ctx context.Context, embeddingID string) error {
	resp, err := q.client.R().
		SetContext(ctx).
		SetBody(map[string]any{"points": []string{embeddingID}}).
		SetQueryParam("wait", "true").
		Post(fmt.Sprintf("/collections/%s/points/delete", q.collection))
	if err != nil {
		return fmt.Errorf("delete point: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("delete point: qdrant returned %s: %s", resp.Status(), resp.String())
	}
	return nil
}

type qdrantScrollResult struct {
	Result struct {
		Points []struct {
			ID any `json:"id"`
		} `json:"points"`
	} `json:"result"`
}

func (q *Qdrant) FindByAsset(ctx context.Context, assetID string) (string, error) {
	body := map[string]any{
		"filter": map[string]any{
			"must": []map[string]any{
				{"key": "asset_id", "match": map[string]any{"value": assetID}},
			},
		},
		"limit":        1,
		"with_payload": false,
	}
	var out qdrantScrollResult
	resp, err := q.client.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&out).
		Post(fmt.Sprintf("/collections/%s/points/scroll", q.collection))
	if err != nil {
		return "", fmt.Errorf("scroll points: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("scroll points: qdrant returned %s: %s", resp.Status(), resp.String())
	}
	if len(out.Result.Points) == 0 {
		return "", nil
	}
	return fmt.Sprintf("%v", out.Result.Points[0].ID), nil
}

// Health checks the instance root endpoint.
func (q *Qdrant) Health(ctx context.Context) error {
	resp, err := q.client.R().SetContext(ctx).Get("/healthz")
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("qdrant unhealthy: %s", resp.Status())
	}
	return nil
}

func filterConditions(filter *media.VectorFilter) []map[string]any {
	if filter == nil {
		return nil
	}
	var conditions []map[string]any
	if filter.FileType != "" {
		conditions = append(conditions, map[string]any{
			"key":   "file_type",
			"match": map[string]any{"value": filter.FileType},
		})
	}
	if len(filter.Tags) > 0 {
		conditions = append(conditions, map[string]any{
			"key":   "tags",
			"match": map[string]any{"any": filter.Tags},
		})
	}
	return conditions
}

func payloadFromMap(m map[string]any) media.VectorPayload {
	p := media.VectorPayload{}
	if v, ok := m["asset_id"].(string); ok {
		p.AssetID = v
	}
	if v, ok := m["file_type"].(string); ok {
		p.FileType = v
	}
	if v, ok := m["caption"].(string); ok {
		p.Caption = v
	}
	if v, ok := m["filename"].(string); ok {
		p.Filename = v
	}
	if v, ok := m["created_at"].(string); ok {
		p.CreatedAt = v
	}
	if raw, ok := m["tags"].([]any); ok {
		tags := make([]string, 0, len(raw))
		for _, t := range raw {
			if s, ok := t.(string); ok {
				tags = append(tags, s)
			}
		}
		p.Tags = tags
	}
	return p
}
