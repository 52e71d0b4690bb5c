package kem

import (
	"fmt"

	"github.com/cloudflare/circl/kem/mlkem/mlkem768"
)

// MLKEMProvider is the production backend: ML-KEM-768 (NIST FIPS 203) via
// cloudflare/circl.
type MLKEMProvider struct{}

// NewMLKEMProvider creates the native ML-KEM-768 provider.
func NewMLKEMProvider() *MLKEMProvider {
	return &MLKEMProvider{}
}

// Name implements Provider.
func (p *MLKEMProvider) Name() string { return "ml-kem-768" }

// GenerateKeyPair implements Provider.
func (p *MLKEMProvider) GenerateKeyPair() ([]byte, []byte, error) {
	pub, priv, err := mlkem768.GenerateKeyPair(nil)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: keypair generation: %v", ErrCrypto, err)
	}

	// MarshalBinary never fails for freshly generated keys
	pubBytes, _ := pub.MarshalBinary()
	privBytes, _ := priv.MarshalBinary()
	return pubBytes, privBytes, nil
}

// Encapsulate implements Provider.
func (p *MLKEMProvider) Encapsulate(peerPub []byte) ([]byte, []byte, error) {
	if len(peerPub) != PublicKeySize {
		return nil, nil, ErrInvalidPublicKeySize
	}

	var pub mlkem768.PublicKey
	if err := pub.Unpack(peerPub); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidKeyMaterial, err)
	}

	ct := make([]byte, CiphertextSize)
	ss := make([]byte, SharedSecretSize)
	pub.EncapsulateTo(ct, ss, nil)
	return ct, ss, nil
}

// Decapsulate implements Provider.
func (p *MLKEMProvider) Decapsulate(priv, ciphertext []byte) ([]byte, error) {
	if len(priv) != PrivateKeySize {
		return nil, ErrInvalidPrivateKeySize
	}
	if len(ciphertext) != CiphertextSize {
		return nil, ErrInvalidCiphertextSize
	}

	var sk mlkem768.PrivateKey
	if err := sk.Unpack(priv); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKeyMaterial, err)
	}

	ss := make([]byte, SharedSecretSize)
	sk.DecapsulateTo(ss, ciphertext)
	return ss, nil
}
