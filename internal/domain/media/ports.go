package media

import (
	"context"
	"io"
	"time"
)

// Repository defines persistence operations for media assets.
type Repository interface {
	Create(ctx context.Context, asset *MediaAsset) error
	// GetByID fetches without owner scoping; used by the processing worker.
	GetByID(ctx context.Context, id string) (*MediaAsset, error)
	// GetForOwner returns a NOT_FOUND error when the asset is missing or
	// belongs to another owner.
	GetForOwner(ctx context.Context, id, ownerID string) (*MediaAsset, error)
	GetMany(ctx context.Context, ids []string) ([]*MediaAsset, error)
	List(ctx context.Context, ownerID string, q ListQuery) ([]*MediaAsset, int64, error)
	KeywordSearch(ctx context.Context, ownerID string, q KeywordQuery) ([]*MediaAsset, error)
	// TagSets returns the tag set of each processed asset for the owner,
	// ordered by creation time ascending.
	TagSets(ctx context.Context, ownerID string) ([][]string, error)
	// CommitDerived writes all derived fields and processed_at in one update.
	CommitDerived(ctx context.Context, id string, d DerivedFields) error
	UpdateBusiness(ctx context.Context, id string, u AssetUpdate) (*MediaAsset, error)
	RecordError(ctx context.Context, id string, message string) error
	Delete(ctx context.Context, id string) error
	// ListStalePending returns unprocessed assets created before the cutoff,
	// for the out-of-band re-enqueue sweep.
	ListStalePending(ctx context.Context, cutoff time.Time) ([]*MediaAsset, error)
}

// BlobStore defines durable object storage operations.
type BlobStore interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, string, error)
	Delete(ctx context.Context, key string) error
	PresignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
	Exists(ctx context.Context, key string) (bool, error)
}

// VectorPayload is stored alongside each embedding in the index.
type VectorPayload struct {
	AssetID   string   `json:"asset_id"`
	FileType  string   `json:"file_type"`
	Caption   string   `json:"caption"`
	Tags      []string `json:"tags"`
	Filename  string   `json:"filename"`
	CreatedAt string   `json:"created_at"`
}

// VectorFilter pushes metadata constraints down to the index.
type VectorFilter struct {
	FileType string
	Tags     []string
}

// Neighbor is one nearest-neighbor hit, ordered by the index.
type Neighbor struct {
	EmbeddingID string
	Score       float32
	Payload     VectorPayload
}

// VectorIndex defines nearest-neighbor similarity search over fixed-dimension
// embeddings. The index is not owner-partitioned; callers must re-filter
// hydrated results by owner.
type VectorIndex interface {
	// Upsert writes the vector under embeddingID, or under a freshly assigned
	// id when embeddingID is empty. Returns the effective id.
	Upsert(ctx context.Context, embeddingID string, vector []float32, payload VectorPayload) (string, error)
	Search(ctx context.Context, vector []float32, limit int, minScore float32, filter *VectorFilter) ([]Neighbor, error)
	UpdatePayload(ctx context.Context, embeddingID string, patch map[string]any) error
	Delete(ctx context.Context, embeddingID string) error
	// FindByAsset returns the embedding id already stored for the asset, or ""
	// when none exists. Used to keep re-delivered tasks idempotent.
	FindByAsset(ctx context.Context, assetID string) (string, error)
}

// ImageAnalysis is the embedding service's result for one image.
type ImageAnalysis struct {
	Caption   string
	Tags      []string
	Embedding []float32
}

// Embedder is the external captioning/embedding collaborator. Image and text
// embeddings share one vector space and dimensionality.
type Embedder interface {
	EmbedImage(ctx context.Context, image []byte) (*ImageAnalysis, error)
	EmbedText(ctx context.Context, query string) ([]float32, error)
}

// Task is one unit of processing work, keyed by asset id.
type Task struct {
	AssetID string `json:"asset_id"`
	// StoragePath references the staged blob in the object store. Workers
	// download it to a local temp copy for inspection.
	StoragePath string `json:"storage_path"`
	Attempt     int    `json:"attempt"`
}

// LeasedTask is a dequeued task under a visibility lease. It must be Acked or
// Nacked; abandoned leases are redelivered after the lease TTL.
type LeasedTask struct {
	Task
	Receipt string
}

// TaskQueue is an at-least-once delivery queue with per-message leases and
// scheduled redelivery for backoff.
type TaskQueue interface {
	Enqueue(ctx context.Context, task Task) error
	EnqueueIn(ctx context.Context, task Task, delay time.Duration) error
	// Dequeue blocks until a task is available or ctx is done.
	Dequeue(ctx context.Context) (*LeasedTask, error)
	Ack(ctx context.Context, lt *LeasedTask) error
	Nack(ctx context.Context, lt *LeasedTask, delay time.Duration) error
}
