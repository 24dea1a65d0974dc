package domain

import "time"

type CreationType string

const (
	CreationFresh    CreationType = "fresh"
	CreationCloned   CreationType = "cloned"
	CreationEvolved  CreationType = "evolved"
	CreationPromoted CreationType = "promoted"
	CreationImported CreationType = "imported"
)

// ProvenanceModifiers adjust the seed score of a new profile based on how
// the entity came into existence. Clones and imports start below the base;
// evolved and promoted entities carry earned trust forward.
var ProvenanceModifiers = map[CreationType]int{
	CreationFresh:    0,
	CreationCloned:   -50,
	CreationEvolved:  100,
	CreationPromoted: 150,
	CreationImported: -100,
}

// Entity is a governed agent or principal. Entities are never deleted;
// revocation is a flag, and the proof chain survives it.
type Entity struct {
	ID        string
	CreatedAt time.Time
	Creation  CreationType
	Revoked   bool
	RevokedAt *time.Time
}
