package requests

// UpdateAssetRequest carries owner edits. Absent fields stay unchanged.
type UpdateAssetRequest struct {
	Title       *string  `json:"title"`
	Description *string  `json:"description"`
	LicenseType *string  `json:"license_type"`
	Price       *float64 `json:"price"`
	Tags        []string `json:"tags"`
}

// SemanticSearchRequest is the body of a semantic search. MinScore is a
// pointer so an absent field is distinguishable from an explicit 0.
type SemanticSearchRequest struct {
	Query    string   `json:"query" binding:"required"`
	FileType string   `json:"file_type"`
	Tags     []string `json:"tags"`
	Limit    int      `json:"limit"`
	MinScore *float32 `json:"min_score"`
}
