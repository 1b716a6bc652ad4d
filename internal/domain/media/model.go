package media

import "time"

// FileType classifies an asset by its container family.
type FileType string

const (
	FileTypeImage FileType = "image"
	FileTypeVideo FileType = "video"
)

// MediaAsset is the central entity: one uploaded image or video plus the
// metadata derived for it during background processing.
type MediaAsset struct {
	ID string `json:"id"`

	// Immutable provenance, set at ingestion.
	OriginalFilename string   `json:"original_filename"`
	FileType         FileType `json:"file_type"`
	MimeType         string   `json:"mime_type"`
	FileSize         int64    `json:"file_size"`
	StoragePath      string   `json:"storage_path"`
	OwnerID          string   `json:"owner_id"`

	// Derived during processing; nil until the worker commits.
	Width         *int     `json:"width"`
	Height        *int     `json:"height"`
	Duration      *float64 `json:"duration"`
	ThumbnailPath *string  `json:"thumbnail_path"`
	Caption       *string  `json:"caption"`
	Tags          []string `json:"tags"`
	EmbeddingID   *string  `json:"embedding_id"`

	// Business passthrough, owner-mutable at any time, never touched by the pipeline.
	Title       *string `json:"title"`
	Description *string `json:"description"`
	LicenseType string  `json:"license_type"`
	Price       float64 `json:"price"`

	// LastError records the final error of an exhausted or permanently failed
	// processing run for operator visibility. The asset itself stays pending.
	LastError *string `json:"last_error,omitempty"`

	ProcessedAt *time.Time `json:"processed_at"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// IsProcessed reports whether the background pipeline has committed.
func (a *MediaAsset) IsProcessed() bool {
	return a.ProcessedAt != nil
}

// DerivedFields is the atomic field set written by the worker on commit.
type DerivedFields struct {
	Width         *int
	Height        *int
	Duration      *float64
	ThumbnailPath *string
	Caption       string
	Tags          []string
	EmbeddingID   string
	ProcessedAt   time.Time
}

// AssetUpdate carries owner edits. Nil fields are left unchanged.
type AssetUpdate struct {
	Title       *string
	Description *string
	LicenseType *string
	Price       *float64
	Tags        []string
}

// ListQuery narrows an owner's asset listing.
type ListQuery struct {
	FileType      FileType
	ProcessedOnly bool
	Page          int
	PageSize      int
}

// KeywordQuery is a case-insensitive metadata search.
type KeywordQuery struct {
	Query    string
	FileType FileType
	Tags     []string
	Limit    int
}
