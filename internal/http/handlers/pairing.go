package handlers

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/entanglekey/server/internal/kem"
	"github.com/entanglekey/server/internal/middleware"
	"github.com/entanglekey/server/internal/pairing"
)

// PairingHandler exposes the pairing core over HTTP. Initiate and complete
// carry their own IP rate limiters to blunt brute-forcing of the 6-digit
// verification code.
type PairingHandler struct {
	orch            *pairing.Orchestrator
	initiateLimiter *middleware.RateLimiter
	completeLimiter *middleware.RateLimiter
	log             *zap.Logger
}

// NewPairingHandler creates a new pairing handler
func NewPairingHandler(orch *pairing.Orchestrator, log *zap.Logger) *PairingHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &PairingHandler{
		orch:            orch,
		initiateLimiter: middleware.NewRateLimiter(10*time.Minute, 10),
		completeLimiter: middleware.NewRateLimiter(10*time.Minute, 20),
		log:             log,
	}
}

// initiateRequest is the request body for POST /pairing/initiate
type initiateRequest struct {
	DeviceAID string `json:"device_a_id"`
	DeviceBID string `json:"device_b_id"`
}

// completeRequest is the request body for POST /pairing/complete
type completeRequest struct {
	SessionID        string `json:"session_id"`
	VerificationCode string `json:"verification_code"`
	DeviceBPublicKey string `json:"device_b_public_key_b64"`
}

// completeResponse is the JSON response for complete
type completeResponse struct {
	PairID        string `json:"pair_id"`
	Status        string `json:"status"`
	Generation    uint64 `json:"generation"`
	CiphertextB64 string `json:"ciphertext_b64"`
}

// syncRequest is the request body for sync and rotate. Entropy and histogram
// are the device's optional self-reported measurement of its local pool.
type syncRequest struct {
	DeviceID  string   `json:"device_id"`
	Entropy   float64  `json:"entropy,omitempty"`
	Histogram []uint64 `json:"histogram,omitempty"`
}

// revokeRequest is the request body for POST /pairs/{pairID}/revoke
type revokeRequest struct {
	CompromisedDeviceID string `json:"compromised_device_id,omitempty"`
	Reason              string `json:"reason"`
}

// HandleInitiate handles POST /pairing/initiate
func (h *PairingHandler) HandleInitiate(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if !h.initiateLimiter.Allow(middleware.GetIPKey(r)) {
		respondWithError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	var req initiateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	deviceA, err := uuid.Parse(strings.TrimSpace(req.DeviceAID))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid device_a_id")
		return
	}
	deviceB, err := uuid.Parse(strings.TrimSpace(req.DeviceBID))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid device_b_id")
		return
	}

	result, err := h.orch.InitiatePairing(r.Context(), userID, deviceA, deviceB)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// HandleComplete handles POST /pairing/complete
func (h *PairingHandler) HandleComplete(w http.ResponseWriter, r *http.Request) {
	if !h.completeLimiter.Allow(middleware.GetIPKey(r)) {
		respondWithError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	var req completeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sessionID, err := uuid.Parse(strings.TrimSpace(req.SessionID))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid session_id")
		return
	}
	code := strings.TrimSpace(req.VerificationCode)
	if code == "" {
		respondWithError(w, http.StatusBadRequest, "verification_code is required")
		return
	}
	publicKey, err := base64.StdEncoding.DecodeString(req.DeviceBPublicKey)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid device_b_public_key_b64")
		return
	}

	result, err := h.orch.CompletePairing(r.Context(), sessionID, code, publicKey)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, completeResponse{
		PairID:        result.PairID.String(),
		Status:        result.Status,
		Generation:    result.Generation,
		CiphertextB64: base64.StdEncoding.EncodeToString(result.Ciphertext),
	})
}

// HandleSync handles POST /pairs/{pairID}/sync
func (h *PairingHandler) HandleSync(w http.ResponseWriter, r *http.Request) {
	h.handleAdvisory(w, r, func(pairID, deviceID uuid.UUID, sub *pairing.Submission) (pairing.SyncResult, error) {
		return h.orch.SynchronizeKeys(r.Context(), pairID, deviceID, sub)
	})
}

// HandleRotate handles POST /pairs/{pairID}/rotate
func (h *PairingHandler) HandleRotate(w http.ResponseWriter, r *http.Request) {
	h.handleAdvisory(w, r, func(pairID, deviceID uuid.UUID, _ *pairing.Submission) (pairing.SyncResult, error) {
		return h.orch.RotateKeys(r.Context(), pairID, deviceID)
	})
}

func (h *PairingHandler) handleAdvisory(w http.ResponseWriter, r *http.Request, op func(uuid.UUID, uuid.UUID, *pairing.Submission) (pairing.SyncResult, error)) {
	pairID, ok := parsePairID(w, r)
	if !ok {
		return
	}

	var req syncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	// The body's device_id wins; without one, fall back to the token's
	// device claim.
	var deviceID uuid.UUID
	if s := strings.TrimSpace(req.DeviceID); s != "" {
		var err error
		if deviceID, err = uuid.Parse(s); err != nil {
			respondWithError(w, http.StatusBadRequest, "invalid device_id")
			return
		}
	} else {
		var ok bool
		if deviceID, ok = middleware.GetDeviceID(r.Context()); !ok {
			respondWithError(w, http.StatusBadRequest, "device_id is required")
			return
		}
	}

	var sub *pairing.Submission
	if len(req.Histogram) > 0 {
		sub = &pairing.Submission{Entropy: req.Entropy, Histogram: req.Histogram}
	}

	result, err := op(pairID, deviceID, sub)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	// Advisory results are 200 even on failure; the body carries the outcome.
	writeJSON(w, http.StatusOK, result)
}

// HandleStatus handles GET /pairs/{pairID}/status
func (h *PairingHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	pairID, ok := parsePairID(w, r)
	if !ok {
		return
	}
	status, err := h.orch.GetPairStatus(r.Context(), pairID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// HandleEntropyReport handles GET /pairs/{pairID}/entropy
func (h *PairingHandler) HandleEntropyReport(w http.ResponseWriter, r *http.Request) {
	pairID, ok := parsePairID(w, r)
	if !ok {
		return
	}
	report, err := h.orch.DetectEavesdropping(r.Context(), pairID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// HandleListEvents handles GET /pairs/{pairID}/events
func (h *PairingHandler) HandleListEvents(w http.ResponseWriter, r *http.Request) {
	pairID, ok := parsePairID(w, r)
	if !ok {
		return
	}
	entries, err := h.orch.AuditTrail(r.Context(), pairID, parseLimit(r))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": entries})
}

// HandleEntropyHistory handles GET /pairs/{pairID}/entropy/history
func (h *PairingHandler) HandleEntropyHistory(w http.ResponseWriter, r *http.Request) {
	pairID, ok := parsePairID(w, r)
	if !ok {
		return
	}
	points, err := h.orch.EntropyHistory(r.Context(), pairID, parseLimit(r))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"measurements": points})
}

// HandleRevoke handles POST /pairs/{pairID}/revoke
func (h *PairingHandler) HandleRevoke(w http.ResponseWriter, r *http.Request) {
	pairID, ok := parsePairID(w, r)
	if !ok {
		return
	}

	var req revokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Reason = strings.TrimSpace(req.Reason)
	if req.Reason == "" {
		respondWithError(w, http.StatusBadRequest, "reason is required")
		return
	}

	compromised := uuid.Nil
	if s := strings.TrimSpace(req.CompromisedDeviceID); s != "" {
		var err error
		if compromised, err = uuid.Parse(s); err != nil {
			respondWithError(w, http.StatusBadRequest, "invalid compromised_device_id")
			return
		}
	}

	result, err := h.orch.RevokeInstantly(r.Context(), pairID, compromised, req.Reason)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// HandleListPairs handles GET /pairs
func (h *PairingHandler) HandleListPairs(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	list, err := h.orch.ListPairs(r.Context(), userID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// HandleListAnomalies handles GET /pairs/{pairID}/anomalies
func (h *PairingHandler) HandleListAnomalies(w http.ResponseWriter, r *http.Request) {
	pairID, ok := parsePairID(w, r)
	if !ok {
		return
	}
	anomalies, err := h.orch.OpenAnomalies(r.Context(), pairID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"anomalies": anomalies})
}

// HandleResolveAnomaly handles POST /anomalies/{anomalyID}/resolve
func (h *PairingHandler) HandleResolveAnomaly(w http.ResponseWriter, r *http.Request) {
	anomalyID, err := uuid.Parse(chi.URLParam(r, "anomalyID"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid anomaly id")
		return
	}
	if err := h.orch.ResolveAnomaly(r.Context(), anomalyID); err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "anomaly resolved"})
}

// writeDomainError maps core errors to HTTP responses. Error messages never
// include key material or internals; full context stays server-side.
func (h *PairingHandler) writeDomainError(w http.ResponseWriter, err error) {
	var vErr *pairing.ValidationError
	switch {
	case errors.As(err, &vErr):
		respondWithError(w, http.StatusBadRequest, vErr.Error())
	case errors.Is(err, pairing.ErrPairingFailed):
		respondWithError(w, http.StatusUnauthorized, "pairing failed")
	case errors.Is(err, pairing.ErrPairNotFound), errors.Is(err, pairing.ErrAnomalyNotFound):
		respondWithError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, pairing.ErrPairRevoked):
		respondWithError(w, http.StatusConflict, err.Error())
	case errors.Is(err, pairing.ErrDeviceMismatch):
		respondWithError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, kem.ErrCrypto):
		respondWithError(w, http.StatusBadRequest, "invalid key material")
	default:
		h.log.Error("pairing operation failed", zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "internal error")
	}
}

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// parseLimit reads the optional limit query parameter for history endpoints.
func parseLimit(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return defaultHistoryLimit
	}
	if n > maxHistoryLimit {
		return maxHistoryLimit
	}
	return n
}

func parsePairID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	pairID, err := uuid.Parse(chi.URLParam(r, "pairID"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid pair id")
		return uuid.Nil, false
	}
	return pairID, true
}

// writeJSON sends a JSON response
func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(body)
}

// respondWithError sends a JSON error response
func respondWithError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}
