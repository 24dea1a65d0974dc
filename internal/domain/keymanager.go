package domain

import "context"

type KeyPurpose string

const (
	KeyPurposeChain  KeyPurpose = "chain"
	KeyPurposeAnchor KeyPurpose = "anchor"
)

type KeyRef struct {
	Purpose KeyPurpose
	KID     string
}

// KeyManager performs cryptographic operations using keys resolved by
// KeyRef. Verify accepts a public key so offline verification does not
// depend on a key store.
type KeyManager interface {
	Sign(ctx context.Context, ref KeyRef, payload []byte) ([]byte, error)
	Verify(ctx context.Context, ref KeyRef, payload []byte, sig []byte, pubKey []byte) error
	PublicKey(ctx context.Context, ref KeyRef) ([]byte, error)
}
