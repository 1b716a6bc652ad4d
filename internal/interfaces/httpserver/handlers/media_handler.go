package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/nbrain-team/vid/internal/config"
	"github.com/nbrain-team/vid/internal/domain/media"
	"github.com/nbrain-team/vid/internal/interfaces/httpserver/requests"
	"github.com/nbrain-team/vid/internal/interfaces/httpserver/responses"
	"github.com/nbrain-team/vid/internal/utils/platformerrors"
	"github.com/nbrain-team/vid/utils/assetid"
)

// MediaHandler exposes asset read, edit and delete endpoints.
type MediaHandler struct {
	cfg     *config.Config
	service *media.Service
	log     zerolog.Logger
}

func NewMediaHandler(cfg *config.Config, service *media.Service, log zerolog.Logger) *MediaHandler {
	return &MediaHandler{
		cfg:     cfg,
		service: service,
		log:     log.With().Str("component", "media-handler").Logger(),
	}
}

// List returns one page of the owner's assets.
func (h *MediaHandler) List(c *gin.Context) {
	owner, ok := ownerID(c)
	if !ok {
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	q := media.ListQuery{
		FileType:      media.FileType(c.Query("file_type")),
		ProcessedOnly: c.Query("processed") == "true",
		Page:          page,
		PageSize:      pageSize,
	}

	assets, total, err := h.service.List(c.Request.Context(), owner, q)
	if err != nil {
		responses.HandleError(c, err, "failed to list assets")
		return
	}
	c.JSON(http.StatusOK, responses.ListResponse{
		Items:    responses.FromAssets(assets),
		Total:    total,
		Page:     q.Page,
		PageSize: q.PageSize,
	})
}

// Get returns one asset with access URLs.
func (h *MediaHandler) Get(c *gin.Context) {
	owner, ok := ownerID(c)
	if !ok {
		return
	}
	id := c.Param("id")
	if !assetid.IsValid(id) {
		responses.HandleNewError(c, platformerrors.ErrorTypeValidation, "invalid asset id", "")
		return
	}

	asset, err := h.service.Get(c.Request.Context(), id, owner)
	if err != nil {
		responses.HandleError(c, err, "failed to get asset")
		return
	}

	resp := responses.FromAsset(asset)
	if url, err := h.service.PreviewURL(c.Request.Context(), asset); err == nil {
		resp.PreviewURL = url
	} else {
		h.log.Warn().Err(err).Str("asset_id", id).Msg("preview URL unavailable")
	}
	if url, err := h.service.ThumbnailURL(c.Request.Context(), asset); err == nil {
		resp.ThumbnailURL = url
	} else {
		h.log.Warn().Err(err).Str("asset_id", id).Msg("thumbnail URL unavailable")
	}
	c.JSON(http.StatusOK, resp)
}

// Update applies owner edits to business fields and tags.
func (h *MediaHandler) Update(c *gin.Context) {
	owner, ok := ownerID(c)
	if !ok {
		return
	}
	id := c.Param("id")

	var req requests.UpdateAssetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		responses.HandleNewError(c, platformerrors.ErrorTypeValidation, "invalid request body: "+err.Error(), "")
		return
	}

	asset, err := h.service.Update(c.Request.Context(), id, owner, media.AssetUpdate{
		Title:       req.Title,
		Description: req.Description,
		LicenseType: req.LicenseType,
		Price:       req.Price,
		Tags:        req.Tags,
	})
	if err != nil {
		responses.HandleError(c, err, "failed to update asset")
		return
	}
	c.JSON(http.StatusOK, responses.FromAsset(asset))
}

// Delete removes an asset and all of its derived artifacts.
func (h *MediaHandler) Delete(c *gin.Context) {
	owner, ok := ownerID(c)
	if !ok {
		return
	}
	id := c.Param("id")

	if err := h.service.Delete(c.Request.Context(), id, owner); err != nil {
		responses.HandleError(c, err, "failed to delete asset")
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "deleted": true})
}

// Presign returns a temporary download URL for the primary blob.
func (h *MediaHandler) Presign(c *gin.Context) {
	owner, ok := ownerID(c)
	if !ok {
		return
	}
	id := c.Param("id")

	asset, err := h.service.Get(c.Request.Context(), id, owner)
	if err != nil {
		responses.HandleError(c, err, "failed to get asset")
		return
	}
	url, err := h.service.PreviewURL(c.Request.Context(), asset)
	if err != nil {
		responses.HandleError(c, err, "failed to presign asset")
		return
	}
	c.JSON(http.StatusOK, responses.URLResponse{
		ID:        id,
		URL:       url,
		ExpiresIn: int(h.cfg.S3PresignTTL.Seconds()),
	})
}
