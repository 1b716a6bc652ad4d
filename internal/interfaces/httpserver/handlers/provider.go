package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/nbrain-team/vid/internal/config"
	"github.com/nbrain-team/vid/internal/domain/media"
	"github.com/nbrain-team/vid/internal/domain/search"
	"github.com/nbrain-team/vid/internal/interfaces/httpserver/responses"
	"github.com/nbrain-team/vid/internal/utils/platformerrors"
)

// Provider aggregates all HTTP handlers.
type Provider struct {
	Upload *UploadHandler
	Media  *MediaHandler
	Search *SearchHandler
}

func NewProvider(cfg *config.Config, ingestor *media.Ingestor, mediaService *media.Service, searchService *search.Service, log zerolog.Logger) *Provider {
	return &Provider{
		Upload: NewUploadHandler(cfg, ingestor, mediaService, log),
		Media:  NewMediaHandler(cfg, mediaService, log),
		Search: NewSearchHandler(searchService, log),
	}
}

// ownerID extracts the calling owner from the X-Owner-ID header. Aborts with a
// validation error when absent; every data route is owner scoped.
func ownerID(c *gin.Context) (string, bool) {
	owner := c.GetHeader("X-Owner-ID")
	if owner == "" {
		responses.HandleNewError(c, platformerrors.ErrorTypeValidation, "X-Owner-ID header is required", "")
		return "", false
	}
	return owner, true
}
