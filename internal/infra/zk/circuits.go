package zk

import (
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/std/hash/mimc"
)

// Each claim type gets its own circuit, hence its own proving and
// verifying key pair. Every circuit binds the private witness to the
// public commitment with MiMC: a verifier learns that the committed
// values satisfy the claim, never the values themselves. The artifact's
// nonce and expiry are folded into the same commitment, so a proof
// re-presented under a different nonce or a stretched expiry no longer
// matches its public inputs. A second MiMC digest over the entity and
// the salt ties the proof to the entity it was issued for without
// naming it.

const maxScore = 1000

// bindEntity constrains the public entity commitment to MiMC(entity, salt).
func bindEntity(api frontend.API, entity, salt, entityCommitment frontend.Variable) error {
	h, err := mimc.NewMiMC(api)
	if err != nil {
		return err
	}
	h.Write(entity, salt)
	api.AssertIsEqual(h.Sum(), entityCommitment)
	return nil
}

// scoreAtLeastCircuit proves committed score >= threshold.
type scoreAtLeastCircuit struct {
	Score  frontend.Variable `gnark:",secret"`
	Salt   frontend.Variable `gnark:",secret"`
	Entity frontend.Variable `gnark:",secret"`

	Threshold        frontend.Variable `gnark:",public"`
	Nonce            frontend.Variable `gnark:",public"`
	ExpiresAt        frontend.Variable `gnark:",public"`
	Commitment       frontend.Variable `gnark:",public"`
	EntityCommitment frontend.Variable `gnark:",public"`
}

func (c *scoreAtLeastCircuit) Define(api frontend.API) error {
	h, err := mimc.NewMiMC(api)
	if err != nil {
		return err
	}
	h.Write(c.Score, c.Salt, c.Nonce, c.ExpiresAt)
	api.AssertIsEqual(h.Sum(), c.Commitment)
	api.AssertIsLessOrEqual(c.Score, maxScore)
	api.AssertIsLessOrEqual(c.Threshold, c.Score)
	return bindEntity(api, c.Entity, c.Salt, c.EntityCommitment)
}

// scoreInRangeCircuit proves low <= committed score <= high.
type scoreInRangeCircuit struct {
	Score  frontend.Variable `gnark:",secret"`
	Salt   frontend.Variable `gnark:",secret"`
	Entity frontend.Variable `gnark:",secret"`

	Low              frontend.Variable `gnark:",public"`
	High             frontend.Variable `gnark:",public"`
	Nonce            frontend.Variable `gnark:",public"`
	ExpiresAt        frontend.Variable `gnark:",public"`
	Commitment       frontend.Variable `gnark:",public"`
	EntityCommitment frontend.Variable `gnark:",public"`
}

func (c *scoreInRangeCircuit) Define(api frontend.API) error {
	h, err := mimc.NewMiMC(api)
	if err != nil {
		return err
	}
	h.Write(c.Score, c.Salt, c.Nonce, c.ExpiresAt)
	api.AssertIsEqual(h.Sum(), c.Commitment)
	api.AssertIsLessOrEqual(c.Score, maxScore)
	api.AssertIsLessOrEqual(c.Low, c.Score)
	api.AssertIsLessOrEqual(c.Score, c.High)
	return bindEntity(api, c.Entity, c.Salt, c.EntityCommitment)
}

// levelAtLeastCircuit proves committed score >= the floor of a trust
// band, which is how "at least band X" is stated without naming a score.
type levelAtLeastCircuit struct {
	Score  frontend.Variable `gnark:",secret"`
	Salt   frontend.Variable `gnark:",secret"`
	Entity frontend.Variable `gnark:",secret"`

	MinScore         frontend.Variable `gnark:",public"`
	Nonce            frontend.Variable `gnark:",public"`
	ExpiresAt        frontend.Variable `gnark:",public"`
	Commitment       frontend.Variable `gnark:",public"`
	EntityCommitment frontend.Variable `gnark:",public"`
}

func (c *levelAtLeastCircuit) Define(api frontend.API) error {
	h, err := mimc.NewMiMC(api)
	if err != nil {
		return err
	}
	h.Write(c.Score, c.Salt, c.Nonce, c.ExpiresAt)
	api.AssertIsEqual(h.Sum(), c.Commitment)
	api.AssertIsLessOrEqual(c.Score, maxScore)
	api.AssertIsLessOrEqual(c.MinScore, c.Score)
	return bindEntity(api, c.Entity, c.Salt, c.EntityCommitment)
}

// chainValidCircuit binds a chain tip, verified outside the circuit
// before proving is allowed, to the commitment together with the as-of
// timestamp. The proof attests "the prover held a fully verified chain
// with this committed tip at this time".
type chainValidCircuit struct {
	TipPosition frontend.Variable `gnark:",secret"`
	TipDigest   frontend.Variable `gnark:",secret"`
	Salt        frontend.Variable `gnark:",secret"`
	Entity      frontend.Variable `gnark:",secret"`

	AsOf             frontend.Variable `gnark:",public"`
	Nonce            frontend.Variable `gnark:",public"`
	ExpiresAt        frontend.Variable `gnark:",public"`
	Commitment       frontend.Variable `gnark:",public"`
	EntityCommitment frontend.Variable `gnark:",public"`
}

func (c *chainValidCircuit) Define(api frontend.API) error {
	h, err := mimc.NewMiMC(api)
	if err != nil {
		return err
	}
	h.Write(c.TipPosition, c.TipDigest, c.AsOf, c.Salt, c.Nonce, c.ExpiresAt)
	api.AssertIsEqual(h.Sum(), c.Commitment)
	return bindEntity(api, c.Entity, c.Salt, c.EntityCommitment)
}

// noDenialsCircuit proves the committed denial count since the public
// cutoff is zero.
type noDenialsCircuit struct {
	DenialCount frontend.Variable `gnark:",secret"`
	Salt        frontend.Variable `gnark:",secret"`
	Entity      frontend.Variable `gnark:",secret"`

	Since            frontend.Variable `gnark:",public"`
	Nonce            frontend.Variable `gnark:",public"`
	ExpiresAt        frontend.Variable `gnark:",public"`
	Commitment       frontend.Variable `gnark:",public"`
	EntityCommitment frontend.Variable `gnark:",public"`
}

func (c *noDenialsCircuit) Define(api frontend.API) error {
	h, err := mimc.NewMiMC(api)
	if err != nil {
		return err
	}
	h.Write(c.DenialCount, c.Since, c.Salt, c.Nonce, c.ExpiresAt)
	api.AssertIsEqual(h.Sum(), c.Commitment)
	api.AssertIsEqual(c.DenialCount, 0)
	return bindEntity(api, c.Entity, c.Salt, c.EntityCommitment)
}
