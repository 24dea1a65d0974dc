package db

import "time"

type EntityModel struct {
	ID        string `gorm:"primaryKey"`
	Creation  string `gorm:"not null"`
	Revoked   bool   `gorm:"not null;default:false"`
	RevokedAt *time.Time
	CreatedAt time.Time `gorm:"not null"`
}

func (EntityModel) TableName() string {
	return "entities"
}

type ProofRecordModel struct {
	ID          int64     `gorm:"primaryKey;autoIncrement"`
	EntityID    string    `gorm:"uniqueIndex:idx_chain_position;index;not null"`
	Position    int64     `gorm:"uniqueIndex:idx_chain_position;not null"`
	Kind        string    `gorm:"not null"`
	Payload     []byte    `gorm:"type:bytea;not null"`
	PayloadHash string    `gorm:"not null"`
	PrevHash    string    `gorm:"not null"`
	RecordHash  string    `gorm:"index;not null"`
	Signature   []byte    `gorm:"type:bytea;not null"`
	SignerKID   string    `gorm:"column:signer_kid;not null"`
	RecordedAt  time.Time `gorm:"not null"`
}

func (ProofRecordModel) TableName() string {
	return "proof_records"
}

type ChainBlockModel struct {
	EntityID  string    `gorm:"primaryKey"`
	Reason    string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
}

func (ChainBlockModel) TableName() string {
	return "chain_blocks"
}

type ProfileModel struct {
	EntityID       string    `gorm:"primaryKey"`
	Score          int       `gorm:"not null"`
	Behavioral     int       `gorm:"not null"`
	Compliance     int       `gorm:"not null"`
	Identity       int       `gorm:"not null"`
	Context        int       `gorm:"column:context_score;not null"`
	Band           int       `gorm:"not null"`
	DecayBase      int       `gorm:"not null"`
	DecayMilestone int       `gorm:"not null"`
	LastActivityAt time.Time `gorm:"not null"`
	ChainPosition  int64     `gorm:"not null"`
	UpdatedAt      time.Time `gorm:"not null"`
}

func (ProfileModel) TableName() string {
	return "trust_profiles"
}

type SignalModel struct {
	ID         string    `gorm:"primaryKey"`
	EntityID   string    `gorm:"index;not null"`
	Kind       string    `gorm:"not null"`
	Impact     int       `gorm:"not null"`
	Weight     float64   `gorm:"not null"`
	Source     string    `gorm:"not null"`
	ObservedAt time.Time `gorm:"not null"`
}

func (SignalModel) TableName() string {
	return "trust_signals"
}

type AnchorModel struct {
	ID            string `gorm:"primaryKey"`
	EntityID      string `gorm:"uniqueIndex:idx_anchor_range;uniqueIndex:idx_anchor_start;index;not null"`
	StartPosition int64  `gorm:"uniqueIndex:idx_anchor_range;uniqueIndex:idx_anchor_start;not null"`
	EndPosition   int64  `gorm:"uniqueIndex:idx_anchor_range;not null"`
	RootHash      []byte `gorm:"type:bytea;not null"`
	TreeDepth     int    `gorm:"not null"`
	LeafCount     int    `gorm:"not null"`
	ExternalRef   *string
	AnchoredAt    *time.Time
	CreatedAt     time.Time `gorm:"not null"`
}

func (AnchorModel) TableName() string {
	return "merkle_anchors"
}

type AnchorAttemptModel struct {
	ID          int64  `gorm:"primaryKey;autoIncrement"`
	EntityID    string `gorm:"index:idx_attempt_anchor;not null"`
	AnchorID    string `gorm:"index:idx_attempt_anchor;not null"`
	Provider    string `gorm:"not null"`
	Status      string `gorm:"not null"`
	ErrorCode   *string
	RootHashHex string    `gorm:"not null"`
	CreatedAt   time.Time `gorm:"not null"`
}

func (AnchorAttemptModel) TableName() string {
	return "anchor_attempts"
}

type AttestationModel struct {
	ID           string `gorm:"primaryKey"`
	EntityID     string `gorm:"index;not null"`
	Issuer       string `gorm:"not null"`
	Tier         int    `gorm:"not null"`
	Domains      string
	EvidenceRefs string
	IssuedAt     time.Time `gorm:"not null"`
	ExpiresAt    *time.Time
}

func (AttestationModel) TableName() string {
	return "attestations"
}

type CompetenceModel struct {
	EntityID   string    `gorm:"primaryKey"`
	Domain     string    `gorm:"primaryKey"`
	Level      int       `gorm:"not null"`
	AssessedAt time.Time `gorm:"not null"`
}

func (CompetenceModel) TableName() string {
	return "competences"
}
