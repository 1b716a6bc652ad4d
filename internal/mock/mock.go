// Package mock provides in-memory implementations of the domain ports for
// tests. All fakes are safe for concurrent use and record enough state for
// assertions.
package mock

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nbrain-team/vid/internal/domain/media"
	"github.com/nbrain-team/vid/internal/domain/processing"
	"github.com/nbrain-team/vid/internal/utils/platformerrors"
)

// Repository is an in-memory media.Repository.
type Repository struct {
	mu     sync.Mutex
	assets map[string]*media.MediaAsset

	// FailCommit forces CommitDerived to fail with the given error.
	FailCommit error
}

func NewRepository() *Repository {
	return &Repository{assets: make(map[string]*media.MediaAsset)}
}

func (r *Repository) Create(ctx context.Context, asset *media.MediaAsset) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if asset.CreatedAt.IsZero() {
		asset.CreatedAt = time.Now().UTC()
	}
	cp := *asset
	r.assets[asset.ID] = &cp
	return nil
}

func (r *Repository) GetByID(ctx context.Context, id string) (*media.MediaAsset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	asset, ok := r.assets[id]
	if !ok {
		return nil, notFound(ctx)
	}
	cp := *asset
	return &cp, nil
}

func (r *Repository) GetForOwner(ctx context.Context, id, ownerID string) (*media.MediaAsset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	asset, ok := r.assets[id]
	if !ok || asset.OwnerID != ownerID {
		return nil, notFound(ctx)
	}
	cp := *asset
	return &cp, nil
}

func (r *Repository) GetMany(ctx context.Context, ids []string) ([]*media.MediaAsset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*media.MediaAsset, 0, len(ids))
	for _, id := range ids {
		if asset, ok := r.assets[id]; ok {
			cp := *asset
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *Repository) List(ctx context.Context, ownerID string, q media.ListQuery) ([]*media.MediaAsset, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var matched []*media.MediaAsset
	for _, asset := range r.assets {
		if asset.OwnerID != ownerID {
			continue
		}
		if q.FileType != "" && asset.FileType != q.FileType {
			continue
		}
		if q.ProcessedOnly && !asset.IsProcessed() {
			continue
		}
		cp := *asset
		matched = append(matched, &cp)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })
	total := int64(len(matched))

	start := (q.Page - 1) * q.PageSize
	if start >= len(matched) {
		return []*media.MediaAsset{}, total, nil
	}
	end := start + q.PageSize
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], total, nil
}

func (r *Repository) KeywordSearch(ctx context.Context, ownerID string, q media.KeywordQuery) ([]*media.MediaAsset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	needle := strings.ToLower(q.Query)
	var matched []*media.MediaAsset
	for _, asset := range r.assets {
		if asset.OwnerID != ownerID {
			continue
		}
		if q.FileType != "" && asset.FileType != q.FileType {
			continue
		}
		if !keywordMatches(asset, needle) {
			continue
		}
		if !containsAllTags(asset.Tags, q.Tags) {
			continue
		}
		cp := *asset
		matched = append(matched, &cp)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}
	return matched, nil
}

func (r *Repository) TagSets(ctx context.Context, ownerID string) ([][]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var owned []*media.MediaAsset
	for _, asset := range r.assets {
		if asset.OwnerID == ownerID && asset.IsProcessed() && asset.Tags != nil {
			owned = append(owned, asset)
		}
	}
	sort.Slice(owned, func(i, j int) bool { return owned[i].CreatedAt.Before(owned[j].CreatedAt) })
	sets := make([][]string, 0, len(owned))
	for _, asset := range owned {
		sets = append(sets, append([]string(nil), asset.Tags...))
	}
	return sets, nil
}

func (r *Repository) CommitDerived(ctx context.Context, id string, d media.DerivedFields) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailCommit != nil {
		return r.FailCommit
	}
	asset, ok := r.assets[id]
	if !ok {
		return notFound(ctx)
	}
	asset.Width = d.Width
	asset.Height = d.Height
	asset.Duration = d.Duration
	asset.ThumbnailPath = d.ThumbnailPath
	caption := d.Caption
	asset.Caption = &caption
	asset.Tags = append([]string(nil), d.Tags...)
	embeddingID := d.EmbeddingID
	asset.EmbeddingID = &embeddingID
	asset.LastError = nil
	processedAt := d.ProcessedAt
	asset.ProcessedAt = &processedAt
	return nil
}

func (r *Repository) UpdateBusiness(ctx context.Context, id string, u media.AssetUpdate) (*media.MediaAsset, error) {
	r.mu.Lock()
	asset, ok := r.assets[id]
	if !ok {
		r.mu.Unlock()
		return nil, notFound(ctx)
	}
	if u.Title != nil {
		asset.Title = u.Title
	}
	if u.Description != nil {
		asset.Description = u.Description
	}
	if u.LicenseType != nil {
		asset.LicenseType = *u.LicenseType
	}
	if u.Price != nil {
		asset.Price = *u.Price
	}
	if u.Tags != nil {
		asset.Tags = append([]string(nil), u.Tags...)
	}
	r.mu.Unlock()
	return r.GetByID(ctx, id)
}

func (r *Repository) RecordError(ctx context.Context, id string, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	asset, ok := r.assets[id]
	if !ok {
		return notFound(ctx)
	}
	asset.LastError = &message
	return nil
}

func (r *Repository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.assets[id]; !ok {
		return notFound(ctx)
	}
	delete(r.assets, id)
	return nil
}

func (r *Repository) ListStalePending(ctx context.Context, cutoff time.Time) ([]*media.MediaAsset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var stale []*media.MediaAsset
	for _, asset := range r.assets {
		if !asset.IsProcessed() && asset.CreatedAt.Before(cutoff) {
			cp := *asset
			stale = append(stale, &cp)
		}
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i].CreatedAt.Before(stale[j].CreatedAt) })
	return stale, nil
}

func keywordMatches(asset *media.MediaAsset, needle string) bool {
	if strings.Contains(strings.ToLower(asset.OriginalFilename), needle) {
		return true
	}
	if asset.Caption != nil && strings.Contains(strings.ToLower(*asset.Caption), needle) {
		return true
	}
	if asset.Title != nil && strings.Contains(strings.ToLower(*asset.Title), needle) {
		return true
	}
	if asset.Description != nil && strings.Contains(strings.ToLower(*asset.Description), needle) {
		return true
	}
	for _, tag := range asset.Tags {
		if strings.Contains(strings.ToLower(tag), needle) {
			return true
		}
	}
	return false
}

func containsAllTags(have, want []string) bool {
	for _, w := range want {
		found := false
		for _, h := range have {
			if h == w {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func notFound(ctx context.Context) error {
	return platformerrors.NewError(ctx, platformerrors.LayerRepository, platformerrors.ErrorTypeNotFound,
		"media asset not found", nil, "")
}

// BlobStore is an in-memory media.BlobStore.
type BlobStore struct {
	mu    sync.Mutex
	blobs map[string][]byte
	types map[string]string

	// FailPut and FailDelete force the corresponding operations to fail.
	FailPut    error
	FailDelete error
}

func NewBlobStore() *BlobStore {
	return &BlobStore{blobs: make(map[string][]byte), types: make(map[string]string)}
}

func (b *BlobStore) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	if b.FailPut != nil {
		return b.FailPut
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.blobs[key] = data
	b.types[key] = contentType
	b.mu.Unlock()
	return nil
}

func (b *BlobStore) Get(ctx context.Context, key string) (io.ReadCloser, string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.blobs[key]
	if !ok {
		return nil, "", fmt.Errorf("blob not found: %s", key)
	}
	return io.NopCloser(bytes.NewReader(data)), b.types[key], nil
}

func (b *BlobStore) Delete(ctx context.Context, key string) error {
	if b.FailDelete != nil {
		return b.FailDelete
	}
	b.mu.Lock()
	delete(b.blobs, key)
	delete(b.types, key)
	b.mu.Unlock()
	return nil
}

func (b *BlobStore) PresignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.blobs[key]; !ok {
		return "", fmt.Errorf("blob not found: %s", key)
	}
	return "https://blobs.test/" + key, nil
}

func (b *BlobStore) Exists(ctx context.Context, key string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.blobs[key]
	return ok, nil
}

// Len returns the number of stored blobs.
func (b *BlobStore) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.blobs)
}

// VectorIndex is an in-memory media.VectorIndex. Search returns entries in
// insertion order with descending synthetic scores; tests that care about
// ordering seed scores via SetScore.
type VectorIndex struct {
	mu      sync.Mutex
	points  map[string]indexPoint
	order   []string
	nextID  int
	scores  map[string]float32

	// FailUpsert and FailDelete force the corresponding operations to fail.
	FailUpsert error
	FailDelete error
}

type indexPoint struct {
	vector  []float32
	payload media.VectorPayload
}

func NewVectorIndex() *VectorIndex {
	return &VectorIndex{points: make(map[string]indexPoint), scores: make(map[string]float32)}
}

func (v *VectorIndex) Upsert(ctx context.Context, embeddingID string, vector []float32, payload media.VectorPayload) (string, error) {
	if v.FailUpsert != nil {
		return "", v.FailUpsert
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if embeddingID == "" {
		v.nextID++
		embeddingID = fmt.Sprintf("emb-%d", v.nextID)
	}
	if _, exists := v.points[embeddingID]; !exists {
		v.order = append(v.order, embeddingID)
	}
	v.points[embeddingID] = indexPoint{vector: append([]float32(nil), vector...), payload: payload}
	return embeddingID, nil
}

func (v *VectorIndex) Search(ctx context.Context, vector []float32, limit int, minScore float32, filter *media.VectorFilter) ([]media.Neighbor, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	var hits []media.Neighbor
	for i, id := range v.order {
		point, ok := v.points[id]
		if !ok {
			continue
		}
		if filter != nil {
			if filter.FileType != "" && point.payload.FileType != filter.FileType {
				continue
			}
			if len(filter.Tags) > 0 && !anyTagMatch(point.payload.Tags, filter.Tags) {
				continue
			}
		}
		score, seeded := v.scores[id]
		if !seeded {
			score = 1 - float32(i)*0.01
		}
		if score < minScore {
			continue
		}
		hits = append(hits, media.Neighbor{EmbeddingID: id, Score: score, Payload: point.payload})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (v *VectorIndex) UpdatePayload(ctx context.Context, embeddingID string, patch map[string]any) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	point, ok := v.points[embeddingID]
	if !ok {
		return fmt.Errorf("point not found: %s", embeddingID)
	}
	if tags, ok := patch["tags"].([]string); ok {
		point.payload.Tags = append([]string(nil), tags...)
	}
	if caption, ok := patch["caption"].(string); ok {
		point.payload.Caption = caption
	}
	v.points[embeddingID] = point
	return nil
}

func (v *VectorIndex) Delete(ctx context.Context, embeddingID string) error {
	if v.FailDelete != nil {
		return v.FailDelete
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.points, embeddingID)
	return nil
}

func (v *VectorIndex) FindByAsset(ctx context.Context, assetID string) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, id := range v.order {
		if point, ok := v.points[id]; ok && point.payload.AssetID == assetID {
			return id, nil
		}
	}
	return "", nil
}

// SetScore seeds the similarity score returned for a point.
func (v *VectorIndex) SetScore(embeddingID string, score float32) {
	v.mu.Lock()
	v.scores[embeddingID] = score
	v.mu.Unlock()
}

// Len returns the number of live points.
func (v *VectorIndex) Len() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.points)
}

// Payload returns the stored payload for a point.
func (v *VectorIndex) Payload(embeddingID string) (media.VectorPayload, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	point, ok := v.points[embeddingID]
	return point.payload, ok
}

func anyTagMatch(have, want []string) bool {
	for _, w := range want {
		for _, h := range have {
			if h == w {
				return true
			}
		}
	}
	return false
}

// Embedder is a deterministic media.Embedder fake.
type Embedder struct {
	Dim     int
	Caption string
	// FailText forces EmbedText to fail.
	FailText error

	mu         sync.Mutex
	failImage  error
	imageCalls int
}

func NewEmbedder(dim int) *Embedder {
	return &Embedder{Dim: dim, Caption: "a sunset over hills"}
}

// SetFailImage makes subsequent EmbedImage calls fail with err; nil restores
// normal behavior. Safe to call while a worker is running.
func (e *Embedder) SetFailImage(err error) {
	e.mu.Lock()
	e.failImage = err
	e.mu.Unlock()
}

func (e *Embedder) EmbedImage(ctx context.Context, image []byte) (*media.ImageAnalysis, error) {
	e.mu.Lock()
	failErr := e.failImage
	if failErr == nil {
		e.imageCalls++
	}
	e.mu.Unlock()
	if failErr != nil {
		return nil, failErr
	}
	return &media.ImageAnalysis{
		Caption:   e.Caption,
		Tags:      []string{"sunset", "hills"},
		Embedding: make([]float32, e.Dim),
	}, nil
}

func (e *Embedder) EmbedText(ctx context.Context, query string) ([]float32, error) {
	if e.FailText != nil {
		return nil, e.FailText
	}
	return make([]float32, e.Dim), nil
}

// ImageCalls returns how many EmbedImage calls were made.
func (e *Embedder) ImageCalls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.imageCalls
}

// TaskQueue is an in-memory media.TaskQueue with immediate delivery. Delayed
// tasks are tracked but only delivered when Advance is called, so tests
// control time.
type TaskQueue struct {
	mu      sync.Mutex
	ready   []media.Task
	delayed []media.Task
	acked   int
	nacked  int

	// FailEnqueue forces Enqueue to fail.
	FailEnqueue error
}

func NewTaskQueue() *TaskQueue {
	return &TaskQueue{}
}

func (q *TaskQueue) Enqueue(ctx context.Context, task media.Task) error {
	if q.FailEnqueue != nil {
		return q.FailEnqueue
	}
	q.mu.Lock()
	q.ready = append(q.ready, task)
	q.mu.Unlock()
	return nil
}

func (q *TaskQueue) EnqueueIn(ctx context.Context, task media.Task, delay time.Duration) error {
	q.mu.Lock()
	q.delayed = append(q.delayed, task)
	q.mu.Unlock()
	return nil
}

func (q *TaskQueue) Dequeue(ctx context.Context) (*media.LeasedTask, error) {
	for {
		q.mu.Lock()
		if len(q.ready) > 0 {
			task := q.ready[0]
			q.ready = q.ready[1:]
			q.mu.Unlock()
			return &media.LeasedTask{Task: task, Receipt: fmt.Sprintf("r-%s-%d", task.AssetID, task.Attempt)}, nil
		}
		q.mu.Unlock()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func (q *TaskQueue) Ack(ctx context.Context, lt *media.LeasedTask) error {
	q.mu.Lock()
	q.acked++
	q.mu.Unlock()
	return nil
}

func (q *TaskQueue) Nack(ctx context.Context, lt *media.LeasedTask, delay time.Duration) error {
	q.mu.Lock()
	q.nacked++
	q.delayed = append(q.delayed, lt.Task)
	q.mu.Unlock()
	return nil
}

// Advance moves all delayed tasks to the ready list.
func (q *TaskQueue) Advance() {
	q.mu.Lock()
	q.ready = append(q.ready, q.delayed...)
	q.delayed = nil
	q.mu.Unlock()
}

// Counts returns acked and nacked totals.
func (q *TaskQueue) Counts() (acked, nacked int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.acked, q.nacked
}

// Pending returns the numbers of ready and delayed tasks.
func (q *TaskQueue) Pending() (ready, delayed int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ready), len(q.delayed)
}

// VideoProber is a canned processing.VideoProber.
type VideoProber struct {
	Info  *processing.VideoInfo
	Frame []byte
	// FailProbe forces Probe to fail.
	FailProbe error

	mu         sync.Mutex
	frameIndex int
}

func (p *VideoProber) Probe(ctx context.Context, path string) (*processing.VideoInfo, error) {
	if p.FailProbe != nil {
		return nil, p.FailProbe
	}
	return p.Info, nil
}

func (p *VideoProber) ExtractFrame(ctx context.Context, path string, frameIndex int) ([]byte, error) {
	p.mu.Lock()
	p.frameIndex = frameIndex
	p.mu.Unlock()
	return p.Frame, nil
}

// LastFrameIndex returns the frame index of the most recent ExtractFrame call.
func (p *VideoProber) LastFrameIndex() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.frameIndex
}
