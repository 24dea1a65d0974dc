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

type ProofChainRepository struct {
	db *gorm.DB
}

func NewProofChainRepository(db *gorm.DB) *ProofChainRepository {
	return &ProofChainRepository{db: db}
}

// AppendIfTip inserts the record inside a transaction that locks the
// current tip row. The unique (entity_id, position) index is the second
// line of defense: a race that slips past the lock surfaces as a
// duplicate-key error and is reported as a concurrent append.
func (r *ProofChainRepository) AppendIfTip(ctx context.Context, record domain.ProofRecord) (domain.ProofRecord, error) {
	if r.db == nil {
		return domain.ProofRecord{}, errDBUnavailable
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		wantPrev := domain.GenesisHash
		wantPos := int64(0)

		var tip ProofRecordModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("entity_id = ?", record.EntityID).
			Order("position DESC").
			Limit(1).
			First(&tip).Error
		switch {
		case err == nil:
			wantPrev = tip.RecordHash
			wantPos = tip.Position + 1
		case errors.Is(err, gorm.ErrRecordNotFound):
		default:
			return err
		}

		if record.PrevHash != wantPrev || record.Position != wantPos {
			return domain.ErrConcurrentAppend
		}
		return tx.Create(proofRecordToModel(record)).Error
	})
	if err != nil {
		if isDuplicateKey(err) {
			return domain.ProofRecord{}, domain.ErrConcurrentAppend
		}
		return domain.ProofRecord{}, err
	}
	return record, nil
}

func (r *ProofChainRepository) Tip(ctx context.Context, entityID string) (*domain.ProofRecord, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var model ProofRecordModel
	err := r.db.WithContext(ctx).
		Where("entity_id = ?", entityID).
		Order("position DESC").
		Limit(1).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	record := proofRecordFromModel(model)
	return &record, nil
}

func (r *ProofChainRepository) GetByPosition(ctx context.Context, entityID string, position int64) (*domain.ProofRecord, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var model ProofRecordModel
	err := r.db.WithContext(ctx).
		Where("entity_id = ? AND position = ?", entityID, position).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	record := proofRecordFromModel(model)
	return &record, nil
}

func (r *ProofChainRepository) ListRange(ctx context.Context, entityID string, from, to int64) ([]domain.ProofRecord, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var models []ProofRecordModel
	err := r.db.WithContext(ctx).
		Where("entity_id = ? AND position >= ? AND position <= ?", entityID, from, to).
		Order("position ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make([]domain.ProofRecord, 0, len(models))
	for _, model := range models {
		out = append(out, proofRecordFromModel(model))
	}
	return out, nil
}

func (r *ProofChainRepository) SetBlocked(ctx context.Context, entityID, reason string) error {
	if r.db == nil {
		return errDBUnavailable
	}
	block := ChainBlockModel{
		EntityID:  entityID,
		Reason:    reason,
		CreatedAt: time.Now().UTC(),
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&block).Error
}

func (r *ProofChainRepository) Blocked(ctx context.Context, entityID string) (bool, string, error) {
	if r.db == nil {
		return false, "", errDBUnavailable
	}
	var block ChainBlockModel
	err := r.db.WithContext(ctx).
		Where("entity_id = ?", entityID).
		First(&block).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, "", nil
		}
		return false, "", err
	}
	return true, block.Reason, nil
}

func (r *ProofChainRepository) ClearBlocked(ctx context.Context, entityID string) error {
	if r.db == nil {
		return errDBUnavailable
	}
	return r.db.WithContext(ctx).
		Where("entity_id = ?", entityID).
		Delete(&ChainBlockModel{}).Error
}

func proofRecordToModel(record domain.ProofRecord) *ProofRecordModel {
	return &ProofRecordModel{
		EntityID:    record.EntityID,
		Position:    record.Position,
		Kind:        string(record.Kind),
		Payload:     record.Payload,
		PayloadHash: record.PayloadHash,
		PrevHash:    record.PrevHash,
		RecordHash:  record.RecordHash,
		Signature:   record.Signature,
		SignerKID:   record.SignerKID,
		RecordedAt:  record.RecordedAt.UTC(),
	}
}

func proofRecordFromModel(model ProofRecordModel) domain.ProofRecord {
	return domain.ProofRecord{
		EntityID:    model.EntityID,
		Position:    model.Position,
		Kind:        domain.RecordKind(model.Kind),
		Payload:     model.Payload,
		PayloadHash: model.PayloadHash,
		PrevHash:    model.PrevHash,
		RecordHash:  model.RecordHash,
		Signature:   model.Signature,
		SignerKID:   model.SignerKID,
		RecordedAt:  model.RecordedAt,
	}
}

func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return err != nil && strings.Contains(err.Error(), "duplicate key")
}
