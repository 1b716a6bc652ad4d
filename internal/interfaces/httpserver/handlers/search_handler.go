package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/nbrain-team/vid/internal/domain/media"
	"github.com/nbrain-team/vid/internal/domain/search"
	"github.com/nbrain-team/vid/internal/interfaces/httpserver/requests"
	"github.com/nbrain-team/vid/internal/interfaces/httpserver/responses"
	"github.com/nbrain-team/vid/internal/utils/platformerrors"
)

// defaultMinScore cuts weak semantic matches when the caller does not set one.
const defaultMinScore float32 = 0.7

// SearchHandler exposes the keyword, semantic and tag search endpoints.
type SearchHandler struct {
	service *search.Service
	log     zerolog.Logger
}

func NewSearchHandler(service *search.Service, log zerolog.Logger) *SearchHandler {
	return &SearchHandler{
		service: service,
		log:     log.With().Str("component", "search-handler").Logger(),
	}
}

// Keyword handles GET /v1/search/keyword?q=...
func (h *SearchHandler) Keyword(c *gin.Context) {
	owner, ok := ownerID(c)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	q := media.KeywordQuery{
		Query:    c.Query("q"),
		FileType: media.FileType(c.Query("file_type")),
		Tags:     splitTags(c.Query("tags")),
		Limit:    limit,
	}

	assets, err := h.service.Keyword(c.Request.Context(), owner, q)
	if err != nil {
		responses.HandleError(c, err, "keyword search failed")
		return
	}
	c.JSON(http.StatusOK, responses.KeywordSearchResponse{Results: responses.FromAssets(assets)})
}

// Semantic handles POST /v1/search/semantic.
func (h *SearchHandler) Semantic(c *gin.Context) {
	owner, ok := ownerID(c)
	if !ok {
		return
	}

	var req requests.SemanticSearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		responses.HandleNewError(c, platformerrors.ErrorTypeValidation, "invalid request body: "+err.Error(), "")
		return
	}

	minScore := defaultMinScore
	if req.MinScore != nil {
		minScore = *req.MinScore
	}
	hits, err := h.service.Semantic(c.Request.Context(), owner, search.SemanticQuery{
		Query:    req.Query,
		FileType: media.FileType(req.FileType),
		Tags:     req.Tags,
		Limit:    req.Limit,
		MinScore: minScore,
	})
	if err != nil {
		responses.HandleError(c, err, "semantic search failed")
		return
	}
	c.JSON(http.StatusOK, responses.SemanticSearchResponse{Results: responses.FromHits(hits)})
}

// Tags handles GET /v1/search/tags.
func (h *SearchHandler) Tags(c *gin.Context) {
	owner, ok := ownerID(c)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	tags, err := h.service.TopTags(c.Request.Context(), owner, limit)
	if err != nil {
		responses.HandleError(c, err, "tag aggregation failed")
		return
	}
	c.JSON(http.StatusOK, responses.TagsResponse{Tags: tags})
}

func splitTags(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	tags := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			tags = append(tags, p)
		}
	}
	return tags
}
