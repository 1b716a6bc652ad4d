// Package media implements the asset repository on PostgreSQL via gorm.
package media

import (
	"context"
	"errors"
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"

	"github.com/nbrain-team/vid/internal/domain/media"
	"github.com/nbrain-team/vid/internal/infrastructure/database/entities"
	"github.com/nbrain-team/vid/internal/utils/platformerrors"
)

type repository struct {
	db *gorm.DB
}

// NewRepository returns a media.Repository backed by the given database.
func NewRepository(db *gorm.DB) media.Repository {
	return &repository{db: db}
}

func (r *repository) Create(ctx context.Context, asset *media.MediaAsset) error {
	ent := toEntity(asset)
	if err := r.db.WithContext(ctx).Create(ent).Error; err != nil {
		return platformerrors.NewError(ctx, platformerrors.LayerRepository, platformerrors.ErrorTypeDatabaseError,
			"failed to create media asset", err, "")
	}
	asset.CreatedAt = ent.CreatedAt
	asset.UpdatedAt = ent.UpdatedAt
	return nil
}

func (r *repository) GetByID(ctx context.Context, id string) (*media.MediaAsset, error) {
	var ent entities.MediaAsset
	err := r.db.WithContext(ctx).First(&ent, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, platformerrors.NewError(ctx, platformerrors.LayerRepository, platformerrors.ErrorTypeNotFound,
				"media asset not found", err, "")
		}
		return nil, platformerrors.NewError(ctx, platformerrors.LayerRepository, platformerrors.ErrorTypeDatabaseError,
			"failed to get media asset", err, "")
	}
	return toDomain(&ent), nil
}

func (r *repository) GetForOwner(ctx context.Context, id, ownerID string) (*media.MediaAsset, error) {
	var ent entities.MediaAsset
	err := r.db.WithContext(ctx).First(&ent, "id = ? AND owner_id = ?", id, ownerID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Assets of other owners are indistinguishable from missing ones.
			return nil, platformerrors.NewError(ctx, platformerrors.LayerRepository, platformerrors.ErrorTypeNotFound,
				"media asset not found", err, "")
		}
		return nil, platformerrors.NewError(ctx, platformerrors.LayerRepository, platformerrors.ErrorTypeDatabaseError,
			"failed to get media asset", err, "")
	}
	return toDomain(&ent), nil
}

func (r *repository) GetMany(ctx context.Context, ids []string) ([]*media.MediaAsset, error) {
	if len(ids) == 0 {
		return []*media.MediaAsset{}, nil
	}
	var ents []entities.MediaAsset
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&ents).Error; err != nil {
		return nil, platformerrors.NewError(ctx, platformerrors.LayerRepository, platformerrors.ErrorTypeDatabaseError,
			"failed to get media assets", err, "")
	}
	return toDomainSlice(ents), nil
}

func (r *repository) List(ctx context.Context, ownerID string, q media.ListQuery) ([]*media.MediaAsset, int64, error) {
	query := r.db.WithContext(ctx).Model(&entities.MediaAsset{}).Where("owner_id = ?", ownerID)
	if q.FileType != "" {
		query = query.Where("file_type = ?", string(q.FileType))
	}
	if q.ProcessedOnly {
		query = query.Where("processed_at IS NOT NULL")
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, platformerrors.NewError(ctx, platformerrors.LayerRepository, platformerrors.ErrorTypeDatabaseError,
			"failed to count media assets", err, "")
	}

	var ents []entities.MediaAsset
	err := query.
		Order("created_at DESC").
		Offset((q.Page - 1) * q.PageSize).
		Limit(q.PageSize).
		Find(&ents).Error
	if err != nil {
		return nil, 0, platformerrors.NewError(ctx, platformerrors.LayerRepository, platformerrors.ErrorTypeDatabaseError,
			"failed to list media assets", err, "")
	}
	return toDomainSlice(ents), total, nil
}

func (r *repository) KeywordSearch(ctx context.Context, ownerID string, q media.KeywordQuery) ([]*media.MediaAsset, error) {
	pattern := "%" + q.Query + "%"
	query := r.db.WithContext(ctx).Model(&entities.MediaAsset{}).
		Where("owner_id = ?", ownerID).
		Where(
			r.db.Where("original_filename ILIKE ?", pattern).
				Or("title ILIKE ?", pattern).
				Or("description ILIKE ?", pattern).
				Or("caption ILIKE ?", pattern).
				Or("EXISTS (SELECT 1 FROM unnest(tags) AS t WHERE t ILIKE ?)", pattern),
		)
	if q.FileType != "" {
		query = query.Where("file_type = ?", string(q.FileType))
	}
	for _, tag := range q.Tags {
		query = query.Where("? = ANY(tags)", tag)
	}

	var ents []entities.MediaAsset
	if err := query.Order("created_at DESC").Limit(q.Limit).Find(&ents).Error; err != nil {
		return nil, platformerrors.NewError(ctx, platformerrors.LayerRepository, platformerrors.ErrorTypeDatabaseError,
			"keyword search failed", err, "")
	}
	return toDomainSlice(ents), nil
}

func (r *repository) TagSets(ctx context.Context, ownerID string) ([][]string, error) {
	var rows []struct {
		Tags pq.StringArray `gorm:"type:text[]"`
	}
	err := r.db.WithContext(ctx).Model(&entities.MediaAsset{}).
		Select("tags").
		Where("owner_id = ? AND processed_at IS NOT NULL AND tags IS NOT NULL", ownerID).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, platformerrors.NewError(ctx, platformerrors.LayerRepository, platformerrors.ErrorTypeDatabaseError,
			"failed to load tag sets", err, "")
	}
	sets := make([][]string, 0, len(rows))
	for _, row := range rows {
		sets = append(sets, []string(row.Tags))
	}
	return sets, nil
}

func (r *repository) CommitDerived(ctx context.Context, id string, d media.DerivedFields) error {
	updates := map[string]any{
		"width":          d.Width,
		"height":         d.Height,
		"duration":       d.Duration,
		"thumbnail_path": d.ThumbnailPath,
		"caption":        d.Caption,
		"tags":           pq.StringArray(d.Tags),
		"embedding_id":   d.EmbeddingID,
		"last_error":     nil,
		"processed_at":   d.ProcessedAt,
	}
	res := r.db.WithContext(ctx).Model(&entities.MediaAsset{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return platformerrors.NewError(ctx, platformerrors.LayerRepository, platformerrors.ErrorTypeDatabaseError,
			"failed to commit derived fields", res.Error, "")
	}
	if res.RowsAffected == 0 {
		return platformerrors.NewError(ctx, platformerrors.LayerRepository, platformerrors.ErrorTypeNotFound,
			"media asset vanished before commit", gorm.ErrRecordNotFound, "")
	}
	return nil
}

func (r *repository) UpdateBusiness(ctx context.Context, id string, u media.AssetUpdate) (*media.MediaAsset, error) {
	updates := map[string]any{}
	if u.Title != nil {
		updates["title"] = *u.Title
	}
	if u.Description != nil {
		updates["description"] = *u.Description
	}
	if u.LicenseType != nil {
		updates["license_type"] = *u.LicenseType
	}
	if u.Price != nil {
		updates["price"] = *u.Price
	}
	if u.Tags != nil {
		updates["tags"] = pq.StringArray(u.Tags)
	}
	if len(updates) > 0 {
		res := r.db.WithContext(ctx).Model(&entities.MediaAsset{}).Where("id = ?", id).Updates(updates)
		if res.Error != nil {
			return nil, platformerrors.NewError(ctx, platformerrors.LayerRepository, platformerrors.ErrorTypeDatabaseError,
				"failed to update media asset", res.Error, "")
		}
		if res.RowsAffected == 0 {
			return nil, platformerrors.NewError(ctx, platformerrors.LayerRepository, platformerrors.ErrorTypeNotFound,
				"media asset not found", gorm.ErrRecordNotFound, "")
		}
	}
	return r.GetByID(ctx, id)
}

func (r *repository) RecordError(ctx context.Context, id string, message string) error {
	// Keep the column bounded; Redis redeliveries could otherwise grow it.
	const maxLen = 2000
	if len(message) > maxLen {
		message = message[:maxLen]
	}
	err := r.db.WithContext(ctx).Model(&entities.MediaAsset{}).
		Where("id = ?", id).
		Update("last_error", message).Error
	if err != nil {
		return platformerrors.NewError(ctx, platformerrors.LayerRepository, platformerrors.ErrorTypeDatabaseError,
			"failed to record processing error", err, "")
	}
	return nil
}

func (r *repository) Delete(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Delete(&entities.MediaAsset{}, "id = ?", id)
	if res.Error != nil {
		return platformerrors.NewError(ctx, platformerrors.LayerRepository, platformerrors.ErrorTypeDatabaseError,
			"failed to delete media asset", res.Error, "")
	}
	if res.RowsAffected == 0 {
		return platformerrors.NewError(ctx, platformerrors.LayerRepository, platformerrors.ErrorTypeNotFound,
			"media asset not found", gorm.ErrRecordNotFound, "")
	}
	return nil
}

func (r *repository) ListStalePending(ctx context.Context, cutoff time.Time) ([]*media.MediaAsset, error) {
	var ents []entities.MediaAsset
	err := r.db.WithContext(ctx).
		Where("processed_at IS NULL AND created_at < ?", cutoff).
		Order("created_at ASC").
		Find(&ents).Error
	if err != nil {
		return nil, platformerrors.NewError(ctx, platformerrors.LayerRepository, platformerrors.ErrorTypeDatabaseError,
			"failed to list stale pending assets", err, "")
	}
	return toDomainSlice(ents), nil
}

func toEntity(a *media.MediaAsset) *entities.MediaAsset {
	return &entities.MediaAsset{
		ID:               a.ID,
		OriginalFilename: a.OriginalFilename,
		FileType:         string(a.FileType),
		MimeType:         a.MimeType,
		FileSize:         a.FileSize,
		StoragePath:      a.StoragePath,
		OwnerID:          a.OwnerID,
		Width:            a.Width,
		Height:           a.Height,
		Duration:         a.Duration,
		ThumbnailPath:    a.ThumbnailPath,
		Caption:          a.Caption,
		Tags:             pq.StringArray(a.Tags),
		EmbeddingID:      a.EmbeddingID,
		Title:            a.Title,
		Description:      a.Description,
		LicenseType:      a.LicenseType,
		Price:            a.Price,
		LastError:        a.LastError,
		ProcessedAt:      a.ProcessedAt,
		CreatedAt:        a.CreatedAt,
		UpdatedAt:        a.UpdatedAt,
	}
}

func toDomain(e *entities.MediaAsset) *media.MediaAsset {
	return &media.MediaAsset{
		ID:               e.ID,
		OriginalFilename: e.OriginalFilename,
		FileType:         media.FileType(e.FileType),
		MimeType:         e.MimeType,
		FileSize:         e.FileSize,
		StoragePath:      e.StoragePath,
		OwnerID:          e.OwnerID,
		Width:            e.Width,
		Height:           e.Height,
		Duration:         e.Duration,
		ThumbnailPath:    e.ThumbnailPath,
		Caption:          e.Caption,
		Tags:             []string(e.Tags),
		EmbeddingID:      e.EmbeddingID,
		Title:            e.Title,
		Description:      e.Description,
		LicenseType:      e.LicenseType,
		Price:            e.Price,
		LastError:        e.LastError,
		ProcessedAt:      e.ProcessedAt,
		CreatedAt:        e.CreatedAt,
		UpdatedAt:        e.UpdatedAt,
	}
}

func toDomainSlice(ents []entities.MediaAsset) []*media.MediaAsset {
	out := make([]*media.MediaAsset, 0, len(ents))
	for i := range ents {
		out = append(out, toDomain(&ents[i]))
	}
	return out
}
