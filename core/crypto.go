// Package core — shared cryptographic primitives for the section-node stack.
//
// Exposes:
//   - Sign / Verify      – Ed25519 (nodes) + BLS12-381 (elder key shares).
//   - BLS aggregation    – threshold signature combination.
//   - XChaCha20-Poly1305 – authenticated encryption for self-encrypted chunks.
//
// All crypto comes from Go std-lib, golang.org/x/crypto (chacha20poly1305)
// or herumi BLS (battle-tested).
package core

import (
	"crypto/ed25519"
	crand "crypto/rand"
	"errors"
	"fmt"
	"io"
	"log"

	bls "github.com/herumi/bls-eth-go-binary/bls"

	"golang.org/x/crypto/chacha20poly1305"
)

//---------------------------------------------------------------------
// Package-level init – BLS curve setup
//---------------------------------------------------------------------

func init() {
	if err := bls.Init(bls.BLS12_381); err != nil {
		panic(fmt.Errorf("bls init: %w", err))
	}
	bls.SetETHmode(bls.EthModeDraft07)
}

//---------------------------------------------------------------------
// Logger
//---------------------------------------------------------------------

var cryptoLogger = log.New(io.Discard, "[crypto] ", log.LstdFlags)

func SetCryptoLogger(l *log.Logger) { cryptoLogger = l }

//---------------------------------------------------------------------
// Sign / Verify – Ed25519 (node) & BLS12-381 (elder share / section key)
//---------------------------------------------------------------------

type KeyAlgo uint8

const (
	AlgoEd25519 KeyAlgo = iota
	AlgoBLS
)

// Sign signs msg with priv.
//   - For Ed25519: priv must be ed25519.PrivateKey.
//   - For BLS:     priv must be *bls.SecretKey.
func Sign(algo KeyAlgo, priv interface{}, msg []byte) ([]byte, error) {
	switch algo {
	case AlgoEd25519:
		pk, ok := priv.(ed25519.PrivateKey)
		if !ok {
			return nil, errors.New("invalid ed25519 private key type")
		}
		return ed25519.Sign(pk, msg), nil

	case AlgoBLS:
		sk, ok := priv.(*bls.SecretKey)
		if !ok {
			return nil, errors.New("invalid BLS secret key type")
		}
		sig := sk.SignByte(msg)
		return sig.Serialize(), nil

	default:
		return nil, errors.New("unknown algo")
	}
}

// Verify checks sig for msg with pub.
// pub may be ed25519.PublicKey, *bls.PublicKey, or compressed []byte (BLS).
func Verify(algo KeyAlgo, pub interface{}, msg, sig []byte) (bool, error) {
	switch algo {
	case AlgoEd25519:
		pk, ok := pub.(ed25519.PublicKey)
		if !ok {
			return false, errors.New("invalid ed25519 pubkey type")
		}
		return ed25519.Verify(pk, msg, sig), nil

	case AlgoBLS:
		var pk bls.PublicKey
		switch v := pub.(type) {
		case *bls.PublicKey:
			pk = *v
		case []byte:
			if err := pk.Deserialize(v); err != nil {
				return false, err
			}
		default:
			return false, errors.New("invalid BLS pubkey type")
		}

		var s bls.Sign
		if err := s.Deserialize(sig); err != nil {
			return false, err
		}
		return s.VerifyByte(&pk, msg), nil

	default:
		return false, errors.New("unknown algo")
	}
}

//---------------------------------------------------------------------
// BLS aggregation helpers
//---------------------------------------------------------------------

// AggregateBLSSigs merges multiple **compressed** BLS signature shares into
// one section signature. Order does not matter; combination is deterministic
// once the same set of distinct shares is present (commutative group add).
func AggregateBLSSigs(sigs [][]byte) ([]byte, error) {
	if len(sigs) == 0 {
		return nil, errors.New("no sigs to aggregate")
	}
	var agg bls.Sign
	for i, raw := range sigs {
		var s bls.Sign
		if err := s.Deserialize(raw); err != nil {
			return nil, fmt.Errorf("sig %d: %w", i, err)
		}
		if i == 0 {
			agg = s
		} else {
			agg.Add(&s)
		}
	}
	return agg.Serialize(), nil
}

// VerifyAggregated verifies a combined section signature for identical msg.
func VerifyAggregated(aggSig, pubAgg, msg []byte) (bool, error) {
	var pk bls.PublicKey
	if err := pk.Deserialize(pubAgg); err != nil {
		return false, err
	}
	var sig bls.Sign
	if err := sig.Deserialize(aggSig); err != nil {
		return false, err
	}
	return sig.VerifyByte(&pk, msg), nil
}

// AggregatePublicKeys combines elder public-key shares into the section's
// combined public key, mirroring AggregateBLSSigs for the public side.
func AggregatePublicKeys(pubs []bls.PublicKey) bls.PublicKey {
	var agg bls.PublicKey
	for i, pk := range pubs {
		if i == 0 {
			agg = pk
		} else {
			agg.Add(&pk)
		}
	}
	return agg
}

//---------------------------------------------------------------------
// Encryption – XChaCha20-Poly1305 (used by self-encryption, crypto.go)
//---------------------------------------------------------------------

// Encrypt returns nonce || ciphertext || tag using XChaCha20-Poly1305.
func Encrypt(key, plaintext, aad []byte) ([]byte, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, errors.New("key must be 32 bytes")
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := crand.Read(nonce); err != nil {
		return nil, err
	}

	ct := aead.Seal(nil, nonce, plaintext, aad)
	return append(nonce, ct...), nil
}

// Decrypt verifies and opens a blob produced by Encrypt.
func Decrypt(key, blob, aad []byte) ([]byte, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, errors.New("key must be 32 bytes")
	}
	minLen := chacha20poly1305.NonceSizeX + chacha20poly1305.Overhead
	if len(blob) < minLen {
		return nil, errors.New("ciphertext too short")
	}

	nonce, ciphertext := blob[:chacha20poly1305.NonceSizeX], blob[chacha20poly1305.NonceSizeX:]
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	return aead.Open(nil, nonce, ciphertext, aad)
}

// EncryptDeterministic encrypts plaintext with a nonce derived from the key
// itself rather than randomly, which is what self-encryption requires: the
// same (key, plaintext) pair must always yield the same ciphertext so that
// chunk addresses stay stable across runs (see selfencryption.go).
func EncryptDeterministic(key, plaintext, aad []byte) ([]byte, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, errors.New("key must be 32 bytes")
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	nonce := key[:chacha20poly1305.NonceSizeX]
	return aead.Seal(nil, nonce, plaintext, aad), nil
}

// DecryptDeterministic opens a blob produced by EncryptDeterministic.
func DecryptDeterministic(key, ciphertext, aad []byte) ([]byte, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, errors.New("key must be 32 bytes")
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	nonce := key[:chacha20poly1305.NonceSizeX]
	return aead.Open(nil, nonce, ciphertext, aad)
}
