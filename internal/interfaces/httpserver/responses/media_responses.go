package responses

import (
	"time"

	"github.com/nbrain-team/vid/internal/domain/media"
	"github.com/nbrain-team/vid/internal/domain/search"
)

// MediaAssetResponse is the wire shape of one asset.
type MediaAssetResponse struct {
	ID               string     `json:"id"`
	OriginalFilename string     `json:"original_filename"`
	FileType         string     `json:"file_type"`
	MimeType         string     `json:"mime_type"`
	FileSize         int64      `json:"file_size"`
	Width            *int       `json:"width,omitempty"`
	Height           *int       `json:"height,omitempty"`
	Duration         *float64   `json:"duration,omitempty"`
	Caption          *string    `json:"caption,omitempty"`
	Tags             []string   `json:"tags,omitempty"`
	Title            *string    `json:"title,omitempty"`
	Description      *string    `json:"description,omitempty"`
	LicenseType      string     `json:"license_type"`
	Price            float64    `json:"price"`
	Processed        bool       `json:"processed"`
	LastError        *string    `json:"last_error,omitempty"`
	ProcessedAt      *time.Time `json:"processed_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	PreviewURL       string     `json:"preview_url,omitempty"`
	ThumbnailURL     string     `json:"thumbnail_url,omitempty"`
}

// FromAsset maps a domain asset to its response shape.
func FromAsset(a *media.MediaAsset) MediaAssetResponse {
	return MediaAssetResponse{
		ID:               a.ID,
		OriginalFilename: a.OriginalFilename,
		FileType:         string(a.FileType),
		MimeType:         a.MimeType,
		FileSize:         a.FileSize,
		Width:            a.Width,
		Height:           a.Height,
		Duration:         a.Duration,
		Caption:          a.Caption,
		Tags:             a.Tags,
		Title:            a.Title,
		Description:      a.Description,
		LicenseType:      a.LicenseType,
		Price:            a.Price,
		Processed:        a.IsProcessed(),
		LastError:        a.LastError,
		ProcessedAt:      a.ProcessedAt,
		CreatedAt:        a.CreatedAt,
		UpdatedAt:        a.UpdatedAt,
	}
}

// FromAssets maps a slice of domain assets.
func FromAssets(assets []*media.MediaAsset) []MediaAssetResponse {
	out := make([]MediaAssetResponse, 0, len(assets))
	for _, a := range assets {
		out = append(out, FromAsset(a))
	}
	return out
}

// ListResponse is a paginated asset listing.
type ListResponse struct {
	Items    []MediaAssetResponse `json:"items"`
	Total    int64                `json:"total"`
	Page     int                  `json:"page"`
	PageSize int                  `json:"page_size"`
}

// UploadResponse acknowledges one accepted upload.
type UploadResponse struct {
	ID       string `json:"id"`
	FileType string `json:"file_type"`
	MimeType string `json:"mime_type"`
	FileSize int64  `json:"file_size"`
	Status   string `json:"status"`
}

// UploadStatusResponse reports how far processing has advanced.
type UploadStatusResponse struct {
	ID          string     `json:"id"`
	Status      string     `json:"status"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
	Caption     *string    `json:"caption,omitempty"`
	Tags        []string   `json:"tags,omitempty"`
}

// BulkUploadResponse reports per-file outcomes of a bulk upload.
type BulkUploadResponse struct {
	Accepted []UploadResponse  `json:"accepted"`
	Rejected []BulkUploadError `json:"rejected"`
}

// BulkUploadError is one rejected file in a bulk upload.
type BulkUploadError struct {
	Filename string `json:"filename"`
	Error    string `json:"error"`
}

// SemanticHitResponse is one semantic search result.
type SemanticHitResponse struct {
	Asset MediaAssetResponse `json:"asset"`
	Score float32            `json:"score"`
}

// SemanticSearchResponse is the semantic search result list.
type SemanticSearchResponse struct {
	Results []SemanticHitResponse `json:"results"`
}

// FromHits maps semantic hits to their response shape.
func FromHits(hits []search.SemanticHit) []SemanticHitResponse {
	out := make([]SemanticHitResponse, 0, len(hits))
	for _, h := range hits {
		out = append(out, SemanticHitResponse{Asset: FromAsset(h.Asset), Score: h.Score})
	}
	return out
}

// KeywordSearchResponse is the keyword search result list.
type KeywordSearchResponse struct {
	Results []MediaAssetResponse `json:"results"`
}

// TagsResponse is the tag aggregation result.
type TagsResponse struct {
	Tags []search.TagCount `json:"tags"`
}

// URLResponse carries a presigned access URL.
type URLResponse struct {
	ID        string `json:"id"`
	URL       string `json:"url"`
	ExpiresIn int    `json:"expires_in"`
}
