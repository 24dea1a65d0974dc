package db

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"vorion/internal/domain"
)

type AttestationRepository struct {
	db *gorm.DB
}

func (r *AttestationRepository) Put(ctx context.Context, att domain.Attestation) error {
	if r.db == nil {
		return errDBUnavailable
	}
	var expires *time.Time
	if !att.ExpiresAt.IsZero() {
		t := att.ExpiresAt.UTC()
		expires = &t
	}
	model := AttestationModel{
		ID:           att.ID,
		EntityID:     att.EntityID,
		Issuer:       att.Issuer,
		Tier:         int(att.Tier),
		Domains:      strings.Join(att.Domains, ","),
		EvidenceRefs: strings.Join(att.EvidenceRefs, ","),
		IssuedAt:     att.IssuedAt.UTC(),
		ExpiresAt:    expires,
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).
		Create(&model).Error
}

func (r *AttestationRepository) ListByEntity(ctx context.Context, entityID string) ([]domain.Attestation, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var models []AttestationModel
	err := r.db.WithContext(ctx).
		Where("entity_id = ?", entityID).
		Order("issued_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make([]domain.Attestation, 0, len(models))
	for _, model := range models {
		att := domain.Attestation{
			ID:           model.ID,
			EntityID:     model.EntityID,
			Issuer:       model.Issuer,
			Tier:         domain.Tier(model.Tier),
			Domains:      splitList(model.Domains),
			EvidenceRefs: splitList(model.EvidenceRefs),
			IssuedAt:     model.IssuedAt,
		}
		if model.ExpiresAt != nil {
			att.ExpiresAt = *model.ExpiresAt
		}
		out = append(out, att)
	}
	return out, nil
}

type CompetenceRepository struct {
	db *gorm.DB
}

func (r *CompetenceRepository) Put(ctx context.Context, comp domain.Competence) error {
	if r.db == nil {
		return errDBUnavailable
	}
	model := CompetenceModel{
		EntityID:   comp.EntityID,
		Domain:     comp.Domain,
		Level:      int(comp.Level),
		AssessedAt: comp.AssessedAt.UTC(),
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "entity_id"}, {Name: "domain"}},
			UpdateAll: true,
		}).
		Create(&model).Error
}

func (r *CompetenceRepository) Get(ctx context.Context, entityID, capabilityDomain string) (*domain.Competence, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var model CompetenceModel
	err := r.db.WithContext(ctx).
		Where("entity_id = ? AND domain = ?", entityID, capabilityDomain).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &domain.Competence{
		EntityID:   model.EntityID,
		Domain:     model.Domain,
		Level:      domain.Tier(model.Level),
		AssessedAt: model.AssessedAt,
	}, nil
}

func splitList(joined string) []string {
	if joined == "" {
		return nil
	}
	return strings.Split(joined, ",")
}
