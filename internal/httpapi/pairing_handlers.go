package httpapi

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ktiyab/coheara/internal/errs"
	"github.com/ktiyab/coheara/internal/pairing"
	"github.com/ktiyab/coheara/internal/types"
)

// pairStartResponse is the desktop-facing response to /pairing/start.
type pairStartResponse struct {
	QR     pairing.QrPayload `json:"qr"`
	ExpiresAt string      `json:"expires_at"`
}

// handlePairingStart begins a new pairing session (spec §4.G: start).
func (s *Server) handlePairingStart(c *gin.Context) {
	result, err := s.Pairing.Start(s.ServerURL, s.CertFingerprint)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, pairStartResponse{QR: result.QrData, ExpiresAt: result.ExpiresAt.UTC().Format("2006-01-02T15:04:05Z07:00")})
}

// handlePairingQR returns the QR payload for the active session, if any
// (spec §4.G: active_qr_data).
func (s *Server) handlePairingQR(c *gin.Context) {
	qr, ok := s.Pairing.ActiveQrData()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no active pairing session"})
		return
	}
	c.JSON(http.StatusOK, qr)
}

// pairRequestBody is the phone's pairing submission (spec §6.2).
type pairRequestBody struct {
	Token     string `json:"token" binding:"required"`
	PhonePubKey string `json:"phone_pubkey" binding:"required"`
	DeviceName  string `json:"device_name"`
	DeviceModel string `json:"device_model"`
}

// accessibleProfileResponse mirrors types.AccessibleProfile's wire shape.
type accessibleProfileResponse struct {
	ProfileID   types.ID `json:"profile_id"`
	ProfileName  string  `json:"profile_name"`
	Relationship string  `json:"relationship"`
	ColorIndex  int    `json:"color_index"`
}

// pairResponse is the wire shape returned to the phone after approval
// (spec §6.2).
type pairResponse struct {
	SessionToken    string            `json:"session_token"`
	CacheKeyEncrypted string            `json:"cache_key_encrypted"`
	ProfileName    string            `json:"profile_name"`
	AccessibleProfiles []accessibleProfileResponse `json:"accessible_profiles"`
}

// handlePairRequest submits the phone's pairing request and blocks, up to
// the approval timeout, for the desktop user's decision (spec §4.G:
// submit_pair_request then await approval).
func (s *Server) handlePairRequest(c *gin.Context) {
	var body pairRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		writeError(c, errs.Wrap(errs.KindInvalidArgument, "malformed pair request", err))
		return
	}

	ch, err := s.Pairing.SubmitPairRequest(pairing.PairRequest{
		Token:      body.Token,
		PhonePubKeyB64: body.PhonePubKey,
		DeviceName:   body.DeviceName,
		DeviceModel:  body.DeviceModel,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), pairing.ApprovalTimeout())
	defer cancel()
	approved, err := pairing.AwaitApproval(ctx, ch)
	if err != nil {
		writeError(c, err)
		return
	}
	if !approved {
		c.JSON(http.StatusForbidden, gin.H{"error": "pairing request denied"})
		return
	}

	completed, err := s.Pairing.CompletePairing()
	if err != nil {
		writeError(c, err)
		return
	}
	_, session, err := pairing.RegisterDevice(c.Request.Context(), s.Repo, completed)
	if err != nil {
		writeError(c, err)
		return
	}
	_ = session

	cacheKeyEncrypted, err := pairing.EncryptCacheKeyForTransport(completed.CacheKey, completed.SharedSecret)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, pairResponse{
		SessionToken:    completed.SessionToken,
		CacheKeyEncrypted: cacheKeyEncrypted,
		ProfileName:    s.ProfileName,
		AccessibleProfiles: []accessibleProfileResponse{
			{ProfileID: s.ProfileID, ProfileName: s.ProfileName, Relationship: "self", ColorIndex: 0},
		},
	})
}

// handlePairingApprove signals the desktop user's approval of the pending
// request (spec §4.G: signal_approval).
func (s *Server) handlePairingApprove(c *gin.Context) {
	if err := s.Pairing.SignalApproval(); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// handlePairingDeny rejects the pending request (spec §4.G: deny).
func (s *Server) handlePairingDeny(c *gin.Context) {
	s.Pairing.Deny()
	c.Status(http.StatusNoContent)
}
