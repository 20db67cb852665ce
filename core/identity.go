package core

import (
	"crypto/ed25519"
	crand "crypto/rand"
	"fmt"
	"os"

	bls "github.com/herumi/bls-eth-go-binary/bls"
	"golang.org/x/crypto/sha3"
)

// NodeName is the 32-byte XOR-name derived from a node's public key. It
// determines the node's position in the name space and is immutable for the
// node's lifetime unless the node is relocated (which produces a new name).
type NodeName [32]byte

func (n NodeName) String() string { return fmt.Sprintf("%x", n[:4]) }

// Bit returns the i-th most-significant bit of the name (0 = MSB of byte 0).
func (n NodeName) Bit(i int) int {
	byteIdx := i / 8
	bitIdx := 7 - (i % 8)
	return int((n[byteIdx] >> uint(bitIdx)) & 1)
}

// XOR returns the bitwise XOR distance between two names, itself
// interpretable as an unsigned 256-bit integer (see xor.go for comparisons).
func (n NodeName) XOR(other NodeName) NodeName {
	var out NodeName
	for i := range n {
		out[i] = n[i] ^ other[i]
	}
	return out
}

// NameOf hashes a public key into its 32-byte XOR name using SHA3-256, the
// address encoding named in the wire format.
func NameOf(pub ed25519.PublicKey) NodeName {
	return NodeName(sha3.Sum256(pub))
}

// NodeIdentity is the process-wide, stable Ed25519 keypair a node is
// constructed with at startup and destroyed with on shutdown.
type NodeIdentity struct {
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
	name    NodeName
}

// Name returns the identity's derived XOR-routing name.
func (id *NodeIdentity) Name() NodeName { return id.name }

// GenerateIdentity creates a fresh random Ed25519 identity.
func GenerateIdentity() (*NodeIdentity, error) {
	pub, priv, err := ed25519.GenerateKey(crand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate identity: %w", err)
	}
	return &NodeIdentity{Public: pub, Private: priv, name: NameOf(pub)}, nil
}

// Sign signs msg with the node's Ed25519 key, producing a NodeMsg(single)
// level signature.
func (id *NodeIdentity) Sign(msg []byte) []byte {
	return ed25519.Sign(id.Private, msg)
}

// SaveIdentity persists the 32-byte Ed25519 secret key to disk, per the
// persisted-state layout named in the design (`identity` file).
func SaveIdentity(path string, id *NodeIdentity) error {
	seed := id.Private.Seed()
	return os.WriteFile(path, seed, 0o600)
}

// LoadIdentity reconstructs a NodeIdentity from a persisted 32-byte seed.
func LoadIdentity(path string) (*NodeIdentity, error) {
	seed, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load identity: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("load identity: expected %d byte seed, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)
	return &NodeIdentity{Public: pub, Private: priv, name: NameOf(pub)}, nil
}

// ElderKeyShare is the BLS secret/public share an elder holds for its
// section's current generation, produced by DKG (see dkg.go).
type ElderKeyShare struct {
	Index      int // 1-based share index, matches the DKG participant order
	SecretKey  bls.SecretKey
	PublicKey  bls.PublicKey
	GroupPK    bls.PublicKey // the section's combined public key
}

// Sign produces a BLS share signature over msg using this elder's secret share.
func (s *ElderKeyShare) Sign(msg []byte) []byte {
	sig := s.SecretKey.SignByte(msg)
	return sig.Serialize()
}
