package kem

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// SimulatedProvider is a NON-PRODUCTION stand-in for environments where the
// native ML-KEM scheme is unavailable. It mirrors the ML-KEM-768 byte sizes
// so the rest of the system is oblivious to the backend, but it provides NO
// cryptographic security: the shared secret is computable from public data.
// NewProvider refuses to construct it when strict post-quantum mode is on.
type SimulatedProvider struct{}

// NewSimulatedProvider creates the simulated backend.
func NewSimulatedProvider() *SimulatedProvider {
	return &SimulatedProvider{}
}

// Name implements Provider.
func (p *SimulatedProvider) Name() string { return "simulated-insecure" }

// GenerateKeyPair implements Provider. The public key is deterministically
// expanded from the private key so Decapsulate can recover it.
func (p *SimulatedProvider) GenerateKeyPair() ([]byte, []byte, error) {
	priv := make([]byte, PrivateKeySize)
	if _, err := rand.Read(priv); err != nil {
		return nil, nil, fmt.Errorf("%w: keypair generation: %v", ErrCrypto, err)
	}
	pub, err := simulatedPublicKey(priv)
	if err != nil {
		return nil, nil, err
	}
	return pub, priv, nil
}

// Encapsulate implements Provider.
func (p *SimulatedProvider) Encapsulate(peerPub []byte) ([]byte, []byte, error) {
	if len(peerPub) != PublicKeySize {
		return nil, nil, ErrInvalidPublicKeySize
	}
	ct := make([]byte, CiphertextSize)
	if _, err := rand.Read(ct); err != nil {
		return nil, nil, fmt.Errorf("%w: encapsulation: %v", ErrCrypto, err)
	}
	return ct, simulatedSharedSecret(peerPub, ct), nil
}

// Decapsulate implements Provider.
func (p *SimulatedProvider) Decapsulate(priv, ciphertext []byte) ([]byte, error) {
	if len(priv) != PrivateKeySize {
		return nil, ErrInvalidPrivateKeySize
	}
	if len(ciphertext) != CiphertextSize {
		return nil, ErrInvalidCiphertextSize
	}
	pub, err := simulatedPublicKey(priv)
	if err != nil {
		return nil, err
	}
	return simulatedSharedSecret(pub, ciphertext), nil
}

func simulatedPublicKey(priv []byte) ([]byte, error) {
	pub := make([]byte, PublicKeySize)
	r := hkdf.New(sha512.New, priv, nil, []byte("kem:simulated:pub:v1"))
	if _, err := io.ReadFull(r, pub); err != nil {
		return nil, fmt.Errorf("%w: public key expansion: %v", ErrCrypto, err)
	}
	return pub, nil
}

func simulatedSharedSecret(pub, ct []byte) []byte {
	h := sha256.New()
	h.Write([]byte("kem:simulated:ss:v1"))
	h.Write(pub)
	h.Write(ct)
	return h.Sum(nil)
}
