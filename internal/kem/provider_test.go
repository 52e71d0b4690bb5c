package kem

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMLKEMRoundTrip(t *testing.T) {
	p := NewMLKEMProvider()

	for i := 0; i < 10; i++ {
		pub, priv, err := p.GenerateKeyPair()
		require.NoError(t, err)
		require.Len(t, pub, PublicKeySize)
		require.Len(t, priv, PrivateKeySize)

		ct, ssEnc, err := p.Encapsulate(pub)
		require.NoError(t, err)
		require.Len(t, ct, CiphertextSize)
		require.Len(t, ssEnc, SharedSecretSize)

		ssDec, err := p.Decapsulate(priv, ct)
		require.NoError(t, err)
		assert.True(t, bytes.Equal(ssEnc, ssDec), "trial %d: decapsulated secret must match encapsulated secret", i)
	}
}

func TestMLKEMFreshSecretsDiffer(t *testing.T) {
	p := NewMLKEMProvider()
	pub, _, err := p.GenerateKeyPair()
	require.NoError(t, err)

	_, ss1, err := p.Encapsulate(pub)
	require.NoError(t, err)
	_, ss2, err := p.Encapsulate(pub)
	require.NoError(t, err)
	assert.False(t, bytes.Equal(ss1, ss2), "two encapsulations must produce different secrets")
}

func TestMLKEMFailsClosedOnMalformedInput(t *testing.T) {
	p := NewMLKEMProvider()
	pub, priv, err := p.GenerateKeyPair()
	require.NoError(t, err)
	ct, _, err := p.Encapsulate(pub)
	require.NoError(t, err)

	_, _, err = p.Encapsulate(pub[:PublicKeySize-1])
	assert.ErrorIs(t, err, ErrInvalidPublicKeySize)
	assert.ErrorIs(t, err, ErrCrypto)

	_, _, err = p.Encapsulate(nil)
	assert.ErrorIs(t, err, ErrInvalidPublicKeySize)

	_, err = p.Decapsulate(priv[:10], ct)
	assert.ErrorIs(t, err, ErrInvalidPrivateKeySize)

	_, err = p.Decapsulate(priv, ct[:CiphertextSize-1])
	assert.ErrorIs(t, err, ErrInvalidCiphertextSize)
}

func TestSimulatedRoundTrip(t *testing.T) {
	p := NewSimulatedProvider()

	pub, priv, err := p.GenerateKeyPair()
	require.NoError(t, err)
	require.Len(t, pub, PublicKeySize)
	require.Len(t, priv, PrivateKeySize)

	ct, ssEnc, err := p.Encapsulate(pub)
	require.NoError(t, err)
	require.Len(t, ct, CiphertextSize)

	ssDec, err := p.Decapsulate(priv, ct)
	require.NoError(t, err)
	assert.Equal(t, ssEnc, ssDec)
}

func TestNewProviderStrictPQ(t *testing.T) {
	tests := []struct {
		name     string
		backend  string
		strictPQ bool
		wantName string
		wantErr  error
	}{
		{"default is native", "", true, "ml-kem-768", nil},
		{"native always allowed", BackendMLKEM, true, "ml-kem-768", nil},
		{"simulated refused in strict mode", BackendSimulated, true, "", ErrSimulatedNotPermitted},
		{"simulated allowed otherwise", BackendSimulated, false, "simulated-insecure", nil},
		{"unknown backend", "rot13", false, "", ErrUnknownBackend},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewProvider(tt.backend, tt.strictPQ)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, p)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, p.Name())
		})
	}
}
