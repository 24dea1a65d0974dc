package db

import (
	"errors"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var errDBUnavailable = errors.New("database unavailable")

// Store bundles the gorm handle and hands out repositories over it.
type Store struct {
	db *gorm.DB
}

func Open(dsn string) (*Store, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}
	conn, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}
	return &Store{db: conn}, nil
}

func NewStore(conn *gorm.DB) *Store {
	return &Store{db: conn}
}

func (s *Store) AutoMigrate() error {
	return s.db.AutoMigrate(
		&EntityModel{},
		&ProofRecordModel{},
		&ChainBlockModel{},
		&ProfileModel{},
		&SignalModel{},
		&AnchorModel{},
		&AnchorAttemptModel{},
		&AttestationModel{},
		&CompetenceModel{},
	)
}

func (s *Store) Entities() *EntityRepository          { return &EntityRepository{db: s.db} }
func (s *Store) ProofRecords() *ProofChainRepository  { return &ProofChainRepository{db: s.db} }
func (s *Store) Profiles() *ProfileRepository         { return &ProfileRepository{db: s.db} }
func (s *Store) Signals() *SignalRepository           { return &SignalRepository{db: s.db} }
func (s *Store) Anchors() *AnchorRepository           { return &AnchorRepository{db: s.db} }
func (s *Store) AnchorAttempts() *AttemptRepository   { return &AttemptRepository{db: s.db} }
func (s *Store) Attestations() *AttestationRepository { return &AttestationRepository{db: s.db} }
func (s *Store) Competences() *CompetenceRepository   { return &CompetenceRepository{db: s.db} }

func stringPtrIfNotEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func stringValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
