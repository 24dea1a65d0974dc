package anchor

import (
	"encoding/hex"
	"errors"

	"vorion/internal/domain"
)

// Payload is the provider-facing commitment: the merkle root plus enough
// range metadata to locate the anchored records later. Providers never see
// record contents.
type Payload struct {
	EntityID      string `json:"entity_id"`
	AnchorID      string `json:"anchor_id"`
	RootHashHex   string `json:"root_hash"`
	StartPosition int64  `json:"start_position"`
	EndPosition   int64  `json:"end_position"`
	LeafCount     int    `json:"leaf_count"`
}

func BuildPayload(anchor domain.MerkleAnchor) (Payload, error) {
	if anchor.EntityID == "" || anchor.ID == "" {
		return Payload{}, errors.New("anchor missing entity or id")
	}
	if len(anchor.RootHash) != 32 {
		return Payload{}, errors.New("anchor root hash must be 32 bytes")
	}
	if anchor.EndPosition < anchor.StartPosition {
		return Payload{}, errors.New("anchor range is inverted")
	}
	return Payload{
		EntityID:      anchor.EntityID,
		AnchorID:      anchor.ID,
		RootHashHex:   hex.EncodeToString(anchor.RootHash),
		StartPosition: anchor.StartPosition,
		EndPosition:   anchor.EndPosition,
		LeafCount:     anchor.LeafCount,
	}, nil
}
