package db

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"vorion/internal/domain"
)

type EntityRepository struct {
	db *gorm.DB
}

func (r *EntityRepository) Create(ctx context.Context, entity domain.Entity) error {
	if r.db == nil {
		return errDBUnavailable
	}
	model := EntityModel{
		ID:        entity.ID,
		Creation:  string(entity.Creation),
		Revoked:   entity.Revoked,
		RevokedAt: entity.RevokedAt,
		CreatedAt: entity.CreatedAt.UTC(),
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model).Error
}

func (r *EntityRepository) GetByID(ctx context.Context, id string) (*domain.Entity, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var model EntityModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &domain.Entity{
		ID:        model.ID,
		Creation:  domain.CreationType(model.Creation),
		Revoked:   model.Revoked,
		RevokedAt: model.RevokedAt,
		CreatedAt: model.CreatedAt,
	}, nil
}

func (r *EntityRepository) SetRevoked(ctx context.Context, id string, at time.Time) error {
	if r.db == nil {
		return errDBUnavailable
	}
	result := r.db.WithContext(ctx).
		Model(&EntityModel{}).
		Where("id = ?", id).
		Updates(map[string]any{"revoked": true, "revoked_at": at.UTC()})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *EntityRepository) ListIDs(ctx context.Context) ([]string, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var ids []string
	if err := r.db.WithContext(ctx).Model(&EntityModel{}).Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

type ProfileRepository struct {
	db *gorm.DB
}

func (r *ProfileRepository) Get(ctx context.Context, entityID string) (*domain.TrustProfile, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var model ProfileModel
	if err := r.db.WithContext(ctx).Where("entity_id = ?", entityID).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &domain.TrustProfile{
		EntityID: model.EntityID,
		Score:    model.Score,
		Dimensions: map[domain.Dimension]int{
			domain.DimensionBehavioral: model.Behavioral,
			domain.DimensionCompliance: model.Compliance,
			domain.DimensionIdentity:   model.Identity,
			domain.DimensionContext:    model.Context,
		},
		Band:           domain.TrustBand(model.Band),
		DecayBase:      model.DecayBase,
		DecayMilestone: model.DecayMilestone,
		LastActivityAt: model.LastActivityAt,
		ChainPosition:  model.ChainPosition,
		UpdatedAt:      model.UpdatedAt,
	}, nil
}

func (r *ProfileRepository) Save(ctx context.Context, profile *domain.TrustProfile) error {
	if r.db == nil {
		return errDBUnavailable
	}
	model := ProfileModel{
		EntityID:       profile.EntityID,
		Score:          profile.Score,
		Behavioral:     profile.Dimensions[domain.DimensionBehavioral],
		Compliance:     profile.Dimensions[domain.DimensionCompliance],
		Identity:       profile.Dimensions[domain.DimensionIdentity],
		Context:        profile.Dimensions[domain.DimensionContext],
		Band:           int(profile.Band),
		DecayBase:      profile.DecayBase,
		DecayMilestone: profile.DecayMilestone,
		LastActivityAt: profile.LastActivityAt.UTC(),
		ChainPosition:  profile.ChainPosition,
		UpdatedAt:      profile.UpdatedAt.UTC(),
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "entity_id"}},
			UpdateAll: true,
		}).
		Create(&model).Error
}

type SignalRepository struct {
	db *gorm.DB
}

func (r *SignalRepository) Append(ctx context.Context, signal domain.TrustSignal) error {
	if r.db == nil {
		return errDBUnavailable
	}
	model := SignalModel{
		ID:         signal.ID,
		EntityID:   signal.EntityID,
		Kind:       string(signal.Kind),
		Impact:     signal.Impact,
		Weight:     signal.Weight,
		Source:     signal.Source,
		ObservedAt: signal.ObservedAt.UTC(),
	}
	return r.db.WithContext(ctx).Create(&model).Error
}

func (r *SignalRepository) ListByEntity(ctx context.Context, entityID string, limit int) ([]domain.TrustSignal, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	query := r.db.WithContext(ctx).
		Where("entity_id = ?", entityID).
		Order("observed_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var models []SignalModel
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]domain.TrustSignal, 0, len(models))
	for _, model := range models {
		out = append(out, domain.TrustSignal{
			ID:         model.ID,
			EntityID:   model.EntityID,
			Kind:       domain.SignalKind(model.Kind),
			Impact:     model.Impact,
			Weight:     model.Weight,
			Source:     model.Source,
			ObservedAt: model.ObservedAt,
		})
	}
	return out, nil
}
