package tests

import (
	"encoding/base64"
	"net/http"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestPairingIntegration exercises the same HTTP flow against a real
// PostgreSQL instance, covering the SQL repositories, the advisory locks and
// the goose migrations. Skips when DATABASE_URL is not set.
func TestPairingIntegration(t *testing.T) {
	if os.Getenv("DATABASE_URL") == "" {
		t.Skip("DATABASE_URL not set; skipping integration test")
	}

	ts := newDBTestServer(t)
	userID := uuid.New()
	token := ts.Token(t, userID)

	deviceA := ts.AddDevice(t, userID)
	deviceB := ts.AddDevice(t, userID)

	var initRes initiateResponse
	resp := doJSON(t, ts, http.MethodPost, "/pairing/initiate", token, map[string]string{
		"device_a_id": deviceA.String(),
		"device_b_id": deviceB.String(),
	}, &initRes)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	pubB, _, err := ts.KEM.GenerateKeyPair()
	require.NoError(t, err)

	var compRes completeResponse
	resp = doJSON(t, ts, http.MethodPost, "/pairing/complete", token, map[string]string{
		"session_id":              initRes.SessionID,
		"verification_code":       initRes.VerificationCode,
		"device_b_public_key_b64": base64.StdEncoding.EncodeToString(pubB),
	}, &compRes)
	require.Equal(t, http.StatusOK, resp.StatusCode, "complete must succeed; body was decoded above")
	pairID := compRes.PairID

	// Rotation goes through the advisory-lock path in the pair repository.
	var rotRes syncResponse
	resp = doJSON(t, ts, http.MethodPost, "/pairs/"+pairID+"/rotate", token, map[string]string{
		"device_id": deviceA.String(),
	}, &rotRes)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.True(t, rotRes.Success, "rotate failed: %s", rotRes.ErrorMessage)
	assert.Equal(t, uint64(1), rotRes.NewGeneration)

	// The active-pair partial unique index rejects a duplicate pairing.
	resp = doJSON(t, ts, http.MethodPost, "/pairing/initiate", token, map[string]string{
		"device_a_id": deviceB.String(),
		"device_b_id": deviceA.String(),
	}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var status statusResponse
	resp = doJSON(t, ts, http.MethodGet, "/pairs/"+pairID+"/status", token, nil, &status)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, uint64(1), status.CurrentGeneration)
	assert.Equal(t, "healthy", status.EntropyHealth)

	var revRes map[string]any
	resp = doJSON(t, ts, http.MethodPost, "/pairs/"+pairID+"/revoke", token, map[string]string{
		"reason": "integration teardown",
	}, &revRes)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, revRes["success"])
}
