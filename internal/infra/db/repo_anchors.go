package db

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"vorion/internal/domain"
)

type AnchorRepository struct {
	db *gorm.DB
}

func (r *AnchorRepository) Create(ctx context.Context, anchor domain.MerkleAnchor) error {
	if r.db == nil {
		return errDBUnavailable
	}
	model := AnchorModel{
		ID:            anchor.ID,
		EntityID:      anchor.EntityID,
		StartPosition: anchor.StartPosition,
		EndPosition:   anchor.EndPosition,
		RootHash:      anchor.RootHash,
		TreeDepth:     anchor.TreeDepth,
		LeafCount:     anchor.LeafCount,
		ExternalRef:   stringPtrIfNotEmpty(anchor.ExternalRef),
		AnchoredAt:    anchor.AnchoredAt,
		CreatedAt:     anchor.CreatedAt.UTC(),
	}
	return r.db.WithContext(ctx).Create(&model).Error
}

func (r *AnchorRepository) GetByID(ctx context.Context, entityID, anchorID string) (*domain.MerkleAnchor, error) {
	return r.firstWhere(ctx, "entity_id = ? AND id = ?", entityID, anchorID)
}

func (r *AnchorRepository) GetByRange(ctx context.Context, entityID string, start, end int64) (*domain.MerkleAnchor, error) {
	return r.firstWhere(ctx, "entity_id = ? AND start_position = ? AND end_position = ?", entityID, start, end)
}

func (r *AnchorRepository) FindCovering(ctx context.Context, entityID string, position int64) (*domain.MerkleAnchor, error) {
	return r.firstWhere(ctx, "entity_id = ? AND start_position <= ? AND end_position >= ?", entityID, position, position)
}

func (r *AnchorRepository) Latest(ctx context.Context, entityID string) (*domain.MerkleAnchor, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var model AnchorModel
	err := r.db.WithContext(ctx).
		Where("entity_id = ?", entityID).
		Order("end_position DESC").
		Limit(1).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	anchor := anchorFromModel(model)
	return &anchor, nil
}

func (r *AnchorRepository) ListByEntity(ctx context.Context, entityID string) ([]domain.MerkleAnchor, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var models []AnchorModel
	err := r.db.WithContext(ctx).
		Where("entity_id = ?", entityID).
		Order("start_position ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return anchorsFromModels(models), nil
}

func (r *AnchorRepository) ListUnanchored(ctx context.Context, limit int) ([]domain.MerkleAnchor, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	query := r.db.WithContext(ctx).
		Where("external_ref IS NULL").
		Order("created_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var models []AnchorModel
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}
	return anchorsFromModels(models), nil
}

func (r *AnchorRepository) SetExternalRef(ctx context.Context, entityID, anchorID, externalRef string, at time.Time) error {
	if r.db == nil {
		return errDBUnavailable
	}
	result := r.db.WithContext(ctx).
		Model(&AnchorModel{}).
		Where("entity_id = ? AND id = ?", entityID, anchorID).
		Updates(map[string]any{"external_ref": externalRef, "anchored_at": at.UTC()})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *AnchorRepository) firstWhere(ctx context.Context, query string, args ...any) (*domain.MerkleAnchor, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var model AnchorModel
	if err := r.db.WithContext(ctx).Where(query, args...).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	anchor := anchorFromModel(model)
	return &anchor, nil
}

func anchorFromModel(model AnchorModel) domain.MerkleAnchor {
	return domain.MerkleAnchor{
		ID:            model.ID,
		EntityID:      model.EntityID,
		StartPosition: model.StartPosition,
		EndPosition:   model.EndPosition,
		RootHash:      model.RootHash,
		TreeDepth:     model.TreeDepth,
		LeafCount:     model.LeafCount,
		ExternalRef:   stringValue(model.ExternalRef),
		AnchoredAt:    model.AnchoredAt,
		CreatedAt:     model.CreatedAt,
	}
}

func anchorsFromModels(models []AnchorModel) []domain.MerkleAnchor {
	out := make([]domain.MerkleAnchor, 0, len(models))
	for _, model := range models {
		out = append(out, anchorFromModel(model))
	}
	return out
}

type AttemptRepository struct {
	db *gorm.DB
}

func (r *AttemptRepository) Append(ctx context.Context, attempt domain.AnchorAttempt) error {
	if r.db == nil {
		return errDBUnavailable
	}
	model := AnchorAttemptModel{
		EntityID:    attempt.EntityID,
		AnchorID:    attempt.AnchorID,
		Provider:    attempt.Provider,
		Status:      attempt.Status,
		ErrorCode:   stringPtrIfNotEmpty(attempt.ErrorCode),
		RootHashHex: attempt.RootHashHex,
		CreatedAt:   attempt.CreatedAt.UTC(),
	}
	return r.db.WithContext(ctx).Create(&model).Error
}

func (r *AttemptRepository) ListByAnchor(ctx context.Context, entityID, anchorID string) ([]domain.AnchorAttempt, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var models []AnchorAttemptModel
	err := r.db.WithContext(ctx).
		Where("entity_id = ? AND anchor_id = ?", entityID, anchorID).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make([]domain.AnchorAttempt, 0, len(models))
	for _, model := range models {
		out = append(out, domain.AnchorAttempt{
			EntityID:    model.EntityID,
			AnchorID:    model.AnchorID,
			Provider:    model.Provider,
			Status:      model.Status,
			ErrorCode:   stringValue(model.ErrorCode),
			RootHashHex: model.RootHashHex,
			CreatedAt:   model.CreatedAt,
		})
	}
	return out, nil
}
