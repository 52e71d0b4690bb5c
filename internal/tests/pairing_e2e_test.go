package tests

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entanglekey/server/internal/kem"
)

type initiateResponse struct {
	SessionID        string `json:"session_id"`
	VerificationCode string `json:"verification_code"`
	ExpiresAt        string `json:"expires_at"`
}

type completeResponse struct {
	PairID        string `json:"pair_id"`
	Status        string `json:"status"`
	Generation    uint64 `json:"generation"`
	CiphertextB64 string `json:"ciphertext_b64"`
}

type syncResponse struct {
	Success       bool   `json:"success"`
	NewGeneration uint64 `json:"new_generation"`
	EntropyStatus string `json:"entropy_status"`
	ErrorMessage  string `json:"error_message"`
}

type statusResponse struct {
	PairID            string  `json:"pair_id"`
	Status            string  `json:"status"`
	CurrentGeneration uint64  `json:"current_generation"`
	EntropyHealth     string  `json:"entropy_health"`
	EntropyScore      float64 `json:"entropy_score"`
}

type eventsResponse struct {
	Events []struct {
		EventType string `json:"event_type"`
		Success   bool   `json:"success"`
		Details   string `json:"details"`
	} `json:"events"`
}

type historyResponse struct {
	Measurements []struct {
		DeviceID   string  `json:"device_id"`
		Entropy    float64 `json:"entropy"`
		IsWarning  bool    `json:"is_warning"`
		IsCritical bool    `json:"is_critical"`
	} `json:"measurements"`
}

// doJSON sends an authenticated JSON request and decodes the response into out.
func doJSON(t *testing.T, ts *testServer, method, path, token string, body any, out any) *http.Response {
	t.Helper()
	var reqBody bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&reqBody).Encode(body))
	}
	req, err := http.NewRequest(method, ts.BaseURL()+path, &reqBody)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := ts.Server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out), "decoding %s %s response", method, path)
	}
	return resp
}

// TestPairingE2E runs the complete flow over HTTP on in-memory stores:
// health, initiate, complete, status, rotate, sync, revoke.
func TestPairingE2E(t *testing.T) {
	ts := newMemoryTestServer(t)
	userID := uuid.New()
	token := ts.Token(t, userID)

	t.Run("A_Health", func(t *testing.T) {
		resp, err := ts.Server.Client().Get(ts.BaseURL() + "/health")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		var body map[string]bool
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.True(t, body["ok"])
	})

	t.Run("B_AuthRequired", func(t *testing.T) {
		resp := doJSON(t, ts, http.MethodGet, "/pairs", "", nil, nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	var pairID string
	var deviceA, deviceB uuid.UUID

	t.Run("C_FullFlow", func(t *testing.T) {
		deviceA = ts.AddDevice(t, userID)
		deviceB = ts.AddDevice(t, userID)

		var initRes initiateResponse
		resp := doJSON(t, ts, http.MethodPost, "/pairing/initiate", token, map[string]string{
			"device_a_id": deviceA.String(),
			"device_b_id": deviceB.String(),
		}, &initRes)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Len(t, initRes.VerificationCode, 6)

		pubB, privB, err := ts.KEM.GenerateKeyPair()
		require.NoError(t, err)
		require.Len(t, pubB, kem.PublicKeySize)

		var compRes completeResponse
		resp = doJSON(t, ts, http.MethodPost, "/pairing/complete", token, map[string]string{
			"session_id":              initRes.SessionID,
			"verification_code":       initRes.VerificationCode,
			"device_b_public_key_b64": base64.StdEncoding.EncodeToString(pubB),
		}, &compRes)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "active", compRes.Status)
		assert.Equal(t, uint64(0), compRes.Generation)
		pairID = compRes.PairID

		// The peer recovers the shared secret from the returned ciphertext.
		ct, err := base64.StdEncoding.DecodeString(compRes.CiphertextB64)
		require.NoError(t, err)
		ss, err := ts.KEM.Decapsulate(privB, ct)
		require.NoError(t, err)
		assert.Len(t, ss, kem.SharedSecretSize)

		var status statusResponse
		resp = doJSON(t, ts, http.MethodGet, "/pairs/"+pairID+"/status", token, nil, &status)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "active", status.Status)
		assert.Equal(t, uint64(0), status.CurrentGeneration)
		assert.Equal(t, "healthy", status.EntropyHealth)
	})

	t.Run("D_RotateAndSync", func(t *testing.T) {
		var rotRes syncResponse
		resp := doJSON(t, ts, http.MethodPost, "/pairs/"+pairID+"/rotate", token, map[string]string{
			"device_id": deviceA.String(),
		}, &rotRes)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.True(t, rotRes.Success, "rotate failed: %s", rotRes.ErrorMessage)
		assert.Equal(t, uint64(1), rotRes.NewGeneration)

		var syncRes syncResponse
		resp = doJSON(t, ts, http.MethodPost, "/pairs/"+pairID+"/sync", token, map[string]string{
			"device_id": deviceB.String(),
		}, &syncRes)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.True(t, syncRes.Success)
		assert.Equal(t, uint64(1), syncRes.NewGeneration)
	})

	t.Run("E_EntropyReport", func(t *testing.T) {
		var report map[string]any
		resp := doJSON(t, ts, http.MethodGet, "/pairs/"+pairID+"/entropy", token, nil, &report)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, false, report["has_anomaly"])
	})

	t.Run("F_Revoke", func(t *testing.T) {
		var revRes map[string]any
		resp := doJSON(t, ts, http.MethodPost, "/pairs/"+pairID+"/revoke", token, map[string]string{
			"compromised_device_id": deviceA.String(),
			"reason":                "device lost",
		}, &revRes)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, true, revRes["success"])

		// Post-revocation syncs answer 200 with an advisory failure body.
		var syncRes syncResponse
		resp = doJSON(t, ts, http.MethodPost, "/pairs/"+pairID+"/sync", token, map[string]string{
			"device_id": deviceB.String(),
		}, &syncRes)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.False(t, syncRes.Success)
		assert.NotEmpty(t, syncRes.ErrorMessage)

		// A second revoke conflicts.
		resp = doJSON(t, ts, http.MethodPost, "/pairs/"+pairID+"/revoke", token, map[string]string{
			"reason": "again",
		}, nil)
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})

	t.Run("G_AuditAndHistory", func(t *testing.T) {
		var events eventsResponse
		resp := doJSON(t, ts, http.MethodGet, "/pairs/"+pairID+"/events", token, nil, &events)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.NotEmpty(t, events.Events)

		// The whole lifecycle is on the trail, newest first; the most
		// recent entry is the failed post-revocation sync.
		assert.Equal(t, "sync", events.Events[0].EventType)
		assert.False(t, events.Events[0].Success)
		types := make(map[string]bool)
		for _, e := range events.Events {
			types[e.EventType] = true
		}
		for _, want := range []string{"pairing_complete", "rotate", "sync", "revoke"} {
			assert.True(t, types[want], "audit trail missing %s", want)
		}

		var history historyResponse
		resp = doJSON(t, ts, http.MethodGet, "/pairs/"+pairID+"/entropy/history?limit=3", token, nil, &history)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Len(t, history.Measurements, 3)
		for _, m := range history.Measurements {
			assert.Greater(t, m.Entropy, 7.5)
			assert.False(t, m.IsCritical)
		}

		resp = doJSON(t, ts, http.MethodGet, "/pairs/"+uuid.NewString()+"/events", token, nil, nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

// TestSyncDeviceClaimFallback exercises sync without an explicit device_id:
// the device claim in the bearer token identifies the caller.
func TestSyncDeviceClaimFallback(t *testing.T) {
	ts := newMemoryTestServer(t)
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
	require.Equal(t, http.StatusOK, resp.StatusCode)

	t.Run("token device claim fills in device_id", func(t *testing.T) {
		deviceToken := ts.DeviceToken(t, userID, deviceA)
		req, err := http.NewRequest(http.MethodPost, ts.BaseURL()+"/pairs/"+compRes.PairID+"/sync", bytes.NewBufferString("{}"))
		require.NoError(t, err)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+deviceToken)

		resp, err := ts.Server.Client().Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		raw := readBody(resp)
		require.Equal(t, http.StatusOK, resp.StatusCode, raw)

		var syncRes syncResponse
		require.NoError(t, json.Unmarshal([]byte(raw), &syncRes))
		assert.True(t, syncRes.Success, raw)
		assert.Equal(t, uint64(0), syncRes.NewGeneration)
	})

	t.Run("no claim and no body device_id is a 400", func(t *testing.T) {
		resp := doJSON(t, ts, http.MethodPost, "/pairs/"+compRes.PairID+"/sync", token, map[string]string{}, nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestPairingHTTPErrors(t *testing.T) {
	ts := newMemoryTestServer(t)
	userID := uuid.New()
	token := ts.Token(t, userID)

	deviceA := ts.AddDevice(t, userID)
	deviceB := ts.AddDevice(t, userID)

	t.Run("wrong code is a generic 401", func(t *testing.T) {
		var initRes initiateResponse
		resp := doJSON(t, ts, http.MethodPost, "/pairing/initiate", token, map[string]string{
			"device_a_id": deviceA.String(),
			"device_b_id": deviceB.String(),
		}, &initRes)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		pubB, _, err := ts.KEM.GenerateKeyPair()
		require.NoError(t, err)

		var errBody map[string]string
		resp = doJSON(t, ts, http.MethodPost, "/pairing/complete", token, map[string]string{
			"session_id":              initRes.SessionID,
			"verification_code":       "000000",
			"device_b_public_key_b64": base64.StdEncoding.EncodeToString(pubB),
		}, &errBody)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Equal(t, "pairing failed", errBody["error"])
	})

	t.Run("undersized public key is a 400", func(t *testing.T) {
		var initRes initiateResponse
		resp := doJSON(t, ts, http.MethodPost, "/pairing/initiate", token, map[string]string{
			"device_a_id": deviceA.String(),
			"device_b_id": deviceB.String(),
		}, &initRes)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		resp = doJSON(t, ts, http.MethodPost, "/pairing/complete", token, map[string]string{
			"session_id":              initRes.SessionID,
			"verification_code":       initRes.VerificationCode,
			"device_b_public_key_b64": base64.StdEncoding.EncodeToString(make([]byte, 31)),
		}, nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("same device pairing is a 400", func(t *testing.T) {
		resp := doJSON(t, ts, http.MethodPost, "/pairing/initiate", token, map[string]string{
			"device_a_id": deviceA.String(),
			"device_b_id": deviceA.String(),
		}, nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("unknown pair status is a 404", func(t *testing.T) {
		resp := doJSON(t, ts, http.MethodGet, "/pairs/"+uuid.NewString()+"/status", token, nil, nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("malformed pair id is a 400", func(t *testing.T) {
		resp := doJSON(t, ts, http.MethodGet, "/pairs/not-a-uuid/status", token, nil, nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}
