package zk

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	frmimc "github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"

	"vorion/internal/domain"
	"vorion/internal/usecase"
)

// Backend is the Groth16 proving backend over BN254. One circuit, and so
// one key pair, per claim type; artifacts pin the verifying key by hash.
type Backend struct {
	circuits map[domain.ClaimType]*circuitSetup
}

type circuitSetup struct {
	ccs    constraint.ConstraintSystem
	pk     groth16.ProvingKey
	vk     groth16.VerifyingKey
	vkRaw  []byte
	vkHash string
}

// NewBackend compiles and key-sets every claim circuit. The setup here is
// unilateral and suits a single-operator deployment; a multi-party
// ceremony would load keys from disk instead.
func NewBackend() (*Backend, error) {
	templates := map[domain.ClaimType]frontend.Circuit{
		domain.ClaimScoreAtLeast:   &scoreAtLeastCircuit{},
		domain.ClaimScoreInRange:   &scoreInRangeCircuit{},
		domain.ClaimLevelAtLeast:   &levelAtLeastCircuit{},
		domain.ClaimChainValidAsOf: &chainValidCircuit{},
		domain.ClaimNoDenialsSince: &noDenialsCircuit{},
	}
	b := &Backend{circuits: make(map[domain.ClaimType]*circuitSetup, len(templates))}
	for claimType, template := range templates {
		ccs, err := frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, template)
		if err != nil {
			return nil, fmt.Errorf("compile %s circuit: %w", claimType, err)
		}
		pk, vk, err := groth16.Setup(ccs)
		if err != nil {
			return nil, fmt.Errorf("setup %s circuit: %w", claimType, err)
		}
		var raw bytes.Buffer
		if _, err := vk.WriteTo(&raw); err != nil {
			return nil, fmt.Errorf("serialize %s verifying key: %w", claimType, err)
		}
		sum := sha256.Sum256(raw.Bytes())
		b.circuits[claimType] = &circuitSetup{
			ccs:    ccs,
			pk:     pk,
			vk:     vk,
			vkRaw:  raw.Bytes(),
			vkHash: hex.EncodeToString(sum[:]),
		}
	}
	return b, nil
}

// Prove fills in the witness commitment, runs the prover, and returns the
// serialized proof plus the verifying key hash it verifies against.
// Proving runs off the calling goroutine so a cancelled context returns
// immediately.
func (b *Backend) Prove(ctx context.Context, claimType domain.ClaimType, public domain.ClaimPublicInputs, private usecase.PrivateWitness) ([]byte, domain.ClaimPublicInputs, string, error) {
	setup, ok := b.circuits[claimType]
	if !ok {
		return nil, domain.ClaimPublicInputs{}, "", fmt.Errorf("no circuit for claim type %q", claimType)
	}
	commitment, err := commitmentFor(claimType, public, private)
	if err != nil {
		return nil, domain.ClaimPublicInputs{}, "", err
	}
	public.Commitment = hex.EncodeToString(commitment)
	entityCommitment, err := entityCommitmentFor(private)
	if err != nil {
		return nil, domain.ClaimPublicInputs{}, "", err
	}
	public.EntityCommitment = hex.EncodeToString(entityCommitment)

	assignment, err := assignmentFor(claimType, public, &private)
	if err != nil {
		return nil, domain.ClaimPublicInputs{}, "", err
	}
	witness, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField())
	if err != nil {
		return nil, domain.ClaimPublicInputs{}, "", fmt.Errorf("build witness: %w", err)
	}

	type proveResult struct {
		proof groth16.Proof
		err   error
	}
	done := make(chan proveResult, 1)
	go func() {
		proof, err := groth16.Prove(setup.ccs, setup.pk, witness)
		done <- proveResult{proof: proof, err: err}
	}()
	select {
	case <-ctx.Done():
		return nil, domain.ClaimPublicInputs{}, "", ctx.Err()
	case res := <-done:
		if res.err != nil {
			return nil, domain.ClaimPublicInputs{}, "", fmt.Errorf("groth16 prove: %w", res.err)
		}
		var buf bytes.Buffer
		if _, err := res.proof.WriteTo(&buf); err != nil {
			return nil, domain.ClaimPublicInputs{}, "", fmt.Errorf("serialize proof: %w", err)
		}
		return buf.Bytes(), public, setup.vkHash, nil
	}
}

// Verify checks the proof against the registered verifying key for the
// claim type. A vkHash that does not match the registered key is rejected
// before any pairing work.
func (b *Backend) Verify(ctx context.Context, claimType domain.ClaimType, public domain.ClaimPublicInputs, proofBytes []byte, vkHash string) error {
	setup, ok := b.circuits[claimType]
	if !ok {
		return fmt.Errorf("no circuit for claim type %q", claimType)
	}
	if vkHash != setup.vkHash {
		return usecase.ErrVerifyingKeyMismatch
	}
	proof := groth16.NewProof(ecc.BN254)
	if _, err := proof.ReadFrom(bytes.NewReader(proofBytes)); err != nil {
		return fmt.Errorf("decode proof: %w", err)
	}
	assignment, err := assignmentFor(claimType, public, nil)
	if err != nil {
		return err
	}
	witness, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField(), frontend.PublicOnly())
	if err != nil {
		return fmt.Errorf("build public witness: %w", err)
	}
	if err := groth16.Verify(proof, setup.vk, witness); err != nil {
		return fmt.Errorf("groth16 verify: %w", err)
	}
	return nil
}

// VerifyingKey returns the serialized verifying key and its hash.
func (b *Backend) VerifyingKey(claimType domain.ClaimType) ([]byte, string, error) {
	setup, ok := b.circuits[claimType]
	if !ok {
		return nil, "", fmt.Errorf("no circuit for claim type %q", claimType)
	}
	out := make([]byte, len(setup.vkRaw))
	copy(out, setup.vkRaw)
	return out, setup.vkHash, nil
}

// commitmentFor recomputes, outside the circuit, the same MiMC digest the
// circuit enforces. The preimage layout per claim type must match the
// Write order in the corresponding Define; every layout ends with the
// artifact nonce and expiry so the proof is bound to one artifact.
func commitmentFor(claimType domain.ClaimType, public domain.ClaimPublicInputs, private usecase.PrivateWitness) ([]byte, error) {
	h := frmimc.NewMiMC()
	write := func(values ...*fr.Element) error {
		for _, v := range values {
			b := v.Bytes()
			if _, err := h.Write(b[:]); err != nil {
				return err
			}
		}
		return nil
	}
	salt := elementFromBytes(private.Salt)
	nonce := elementFromString(public.Nonce)
	expiry := elementFromInt64(public.ExpiresAtUnix)

	var err error
	switch claimType {
	case domain.ClaimScoreAtLeast, domain.ClaimScoreInRange, domain.ClaimLevelAtLeast:
		err = write(elementFromInt64(int64(private.Score)), salt, nonce, expiry)
	case domain.ClaimChainValidAsOf:
		err = write(elementFromInt64(private.TipPosition), elementFromBytes(private.TipDigest), elementFromInt64(public.AsOfUnix), salt, nonce, expiry)
	case domain.ClaimNoDenialsSince:
		err = write(elementFromInt64(int64(private.DenialCount)), elementFromInt64(public.SinceUnix), salt, nonce, expiry)
	default:
		return nil, fmt.Errorf("no commitment layout for claim type %q", claimType)
	}
	if err != nil {
		return nil, fmt.Errorf("hash commitment preimage: %w", err)
	}
	return h.Sum(nil), nil
}

// entityCommitmentFor hashes the entity and the salt into the opaque
// entity binding every circuit enforces alongside the main commitment.
func entityCommitmentFor(private usecase.PrivateWitness) ([]byte, error) {
	h := frmimc.NewMiMC()
	for _, v := range []*fr.Element{elementFromString(private.EntityID), elementFromBytes(private.Salt)} {
		b := v.Bytes()
		if _, err := h.Write(b[:]); err != nil {
			return nil, fmt.Errorf("hash entity commitment preimage: %w", err)
		}
	}
	return h.Sum(nil), nil
}

// assignmentFor builds a witness assignment. With private == nil only the
// public variables are set, which is what PublicOnly extraction needs.
func assignmentFor(claimType domain.ClaimType, public domain.ClaimPublicInputs, private *usecase.PrivateWitness) (frontend.Circuit, error) {
	commitment, err := commitmentValue(public.Commitment)
	if err != nil {
		return nil, err
	}
	entityCommitment, err := commitmentValue(public.EntityCommitment)
	if err != nil {
		return nil, err
	}
	nonce := elementFromString(public.Nonce).BigInt(new(big.Int))
	expiry := public.ExpiresAtUnix

	switch claimType {
	case domain.ClaimScoreAtLeast:
		c := &scoreAtLeastCircuit{Threshold: public.Threshold, Nonce: nonce, ExpiresAt: expiry, Commitment: commitment, EntityCommitment: entityCommitment}
		if private != nil {
			c.Score = private.Score
			c.Salt = saltValue(private.Salt)
			c.Entity = elementFromString(private.EntityID).BigInt(new(big.Int))
		}
		return c, nil
	case domain.ClaimScoreInRange:
		c := &scoreInRangeCircuit{Low: public.Low, High: public.High, Nonce: nonce, ExpiresAt: expiry, Commitment: commitment, EntityCommitment: entityCommitment}
		if private != nil {
			c.Score = private.Score
			c.Salt = saltValue(private.Salt)
			c.Entity = elementFromString(private.EntityID).BigInt(new(big.Int))
		}
		return c, nil
	case domain.ClaimLevelAtLeast:
		c := &levelAtLeastCircuit{MinScore: public.MinScore, Nonce: nonce, ExpiresAt: expiry, Commitment: commitment, EntityCommitment: entityCommitment}
		if private != nil {
			c.Score = private.Score
			c.Salt = saltValue(private.Salt)
			c.Entity = elementFromString(private.EntityID).BigInt(new(big.Int))
		}
		return c, nil
	case domain.ClaimChainValidAsOf:
		c := &chainValidCircuit{AsOf: public.AsOfUnix, Nonce: nonce, ExpiresAt: expiry, Commitment: commitment, EntityCommitment: entityCommitment}
		if private != nil {
			c.TipPosition = private.TipPosition
			c.TipDigest = elementFromBytes(private.TipDigest).BigInt(new(big.Int))
			c.Salt = saltValue(private.Salt)
			c.Entity = elementFromString(private.EntityID).BigInt(new(big.Int))
		}
		return c, nil
	case domain.ClaimNoDenialsSince:
		c := &noDenialsCircuit{Since: public.SinceUnix, Nonce: nonce, ExpiresAt: expiry, Commitment: commitment, EntityCommitment: entityCommitment}
		if private != nil {
			c.DenialCount = private.DenialCount
			c.Salt = saltValue(private.Salt)
			c.Entity = elementFromString(private.EntityID).BigInt(new(big.Int))
		}
		return c, nil
	}
	return nil, fmt.Errorf("no circuit for claim type %q", claimType)
}

// elementFromBytes reduces arbitrary bytes (salts, SHA-256 digests) into
// the scalar field.
func elementFromBytes(raw []byte) *fr.Element {
	var e fr.Element
	e.SetBytes(raw)
	return &e
}

func elementFromInt64(v int64) *fr.Element {
	var e fr.Element
	e.SetInt64(v)
	return &e
}

// elementFromString reduces a string (entity ids, nonces) into the scalar
// field through SHA-256 so arbitrary-length inputs hash consistently on
// both sides of the circuit.
func elementFromString(s string) *fr.Element {
	sum := sha256.Sum256([]byte(s))
	return elementFromBytes(sum[:])
}

func saltValue(raw []byte) *big.Int {
	return elementFromBytes(raw).BigInt(new(big.Int))
}

func commitmentValue(hexCommitment string) (*big.Int, error) {
	raw, err := hex.DecodeString(hexCommitment)
	if err != nil {
		return nil, fmt.Errorf("malformed commitment: %w", err)
	}
	return elementFromBytes(raw).BigInt(new(big.Int)), nil
}
