package handlers

import (
	"fmt"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/nbrain-team/vid/internal/config"
	"github.com/nbrain-team/vid/internal/domain/media"
	"github.com/nbrain-team/vid/internal/interfaces/httpserver/responses"
	"github.com/nbrain-team/vid/internal/utils/platformerrors"
	"github.com/nbrain-team/vid/utils/assetid"
)

// UploadHandler exposes the upload endpoints.
type UploadHandler struct {
	cfg      *config.Config
	ingestor *media.Ingestor
	service  *media.Service
	log      zerolog.Logger
}

func NewUploadHandler(cfg *config.Config, ingestor *media.Ingestor, service *media.Service, log zerolog.Logger) *UploadHandler {
	return &UploadHandler{
		cfg:      cfg,
		ingestor: ingestor,
		service:  service,
		log:      log.With().Str("component", "upload-handler").Logger(),
	}
}

// Upload accepts one multipart file and returns 202 with the pending asset.
func (h *UploadHandler) Upload(c *gin.Context) {
	owner, ok := ownerID(c)
	if !ok {
		return
	}

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		responses.HandleNewError(c, platformerrors.ErrorTypeValidation, "file is required", "")
		return
	}
	defer file.Close()

	asset, err := h.ingestor.Submit(c.Request.Context(), file, header.Filename, header.Header.Get("Content-Type"), owner)
	if err != nil {
		h.log.Error().Err(err).Str("filename", header.Filename).Msg("upload rejected")
		responses.HandleError(c, err, "upload failed")
		return
	}

	c.JSON(http.StatusAccepted, responses.UploadResponse{
		ID:       asset.ID,
		FileType: string(asset.FileType),
		MimeType: asset.MimeType,
		FileSize: asset.FileSize,
		Status:   "processing",
	})
}

// BulkUpload accepts up to MaxBulkFiles files in one request. Each file is
// ingested independently; one rejection does not fail the batch.
func (h *UploadHandler) BulkUpload(c *gin.Context) {
	owner, ok := ownerID(c)
	if !ok {
		return
	}

	form, err := c.MultipartForm()
	if err != nil {
		responses.HandleNewError(c, platformerrors.ErrorTypeValidation, "multipart form is required", "")
		return
	}
	files := form.File["files"]
	if len(files) == 0 {
		responses.HandleNewError(c, platformerrors.ErrorTypeValidation, "at least one file is required", "")
		return
	}
	if len(files) > h.cfg.MaxBulkFiles {
		responses.HandleNewError(c, platformerrors.ErrorTypeValidation,
			fmt.Sprintf("too many files: maximum is %d per request", h.cfg.MaxBulkFiles), "")
		return
	}

	result := responses.BulkUploadResponse{
		Accepted: []responses.UploadResponse{},
		Rejected: []responses.BulkUploadError{},
	}
	for _, header := range files {
		asset, err := h.ingestOne(c, header, owner)
		if err != nil {
			h.log.Warn().Err(err).Str("filename", header.Filename).Msg("bulk upload file rejected")
			result.Rejected = append(result.Rejected, responses.BulkUploadError{
				Filename: header.Filename,
				Error:    err.Error(),
			})
			continue
		}
		result.Accepted = append(result.Accepted, responses.UploadResponse{
			ID:       asset.ID,
			FileType: string(asset.FileType),
			MimeType: asset.MimeType,
			FileSize: asset.FileSize,
			Status:   "processing",
		})
	}

	status := http.StatusAccepted
	if len(result.Accepted) == 0 {
		status = http.StatusBadRequest
	}
	c.JSON(status, result)
}

// Status reports whether a pending upload has finished processing.
func (h *UploadHandler) Status(c *gin.Context) {
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
		responses.HandleError(c, err, "failed to get upload status")
		return
	}

	status := "processing"
	if asset.IsProcessed() {
		status = "completed"
	}
	c.JSON(http.StatusOK, responses.UploadStatusResponse{
		ID:          asset.ID,
		Status:      status,
		ProcessedAt: asset.ProcessedAt,
		Caption:     asset.Caption,
		Tags:        asset.Tags,
	})
}

func (h *UploadHandler) ingestOne(c *gin.Context, header *multipart.FileHeader, owner string) (*media.MediaAsset, error) {
	file, err := header.Open()
	if err != nil {
		return nil, fmt.Errorf("open uploaded file: %w", err)
	}
	defer file.Close()
	return h.ingestor.Submit(c.Request.Context(), file, header.Filename, header.Header.Get("Content-Type"), owner)
}
