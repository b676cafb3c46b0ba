// Package pairing implements the desktop/mobile pairing handshake (spec
// §4.G): an ephemeral X25519 key exchange gated by a one-time QR token and
// an explicit desktop-user approval step, producing a bearer session token
// and an encrypted cache key for the newly paired device.
package pairing

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"io"
	"sync"
	"time"

	"golang.org/x/crypto/hkdf"

	"github.com/ktiyab/coheara/internal/errs"
	"github.com/ktiyab/coheara/internal/types"
)

const (
	pairingTokenTTL  = 5 * time.Minute
	approvalTimeout  = 60 * time.Second
	cacheKeySalt   = "coheara-cache-key"
	transportKeySalt = "coheara-transport-key"
	hkdfInfo     = "v1"
)

// ApprovalTimeout returns the duration an HTTP handler should wait for
// desktop-user approval before treating the request as timed out.
func ApprovalTimeout() time.Duration { return approvalTimeout }

// QrPayload is the data a desktop displays (as a QR code, by an external
// collaborator) for a phone to scan. Rendering the QR image itself is out
// of scope here (spec §1).
type QrPayload struct {
	Version  int    `json:"v"`
	URL     string `json:"url"`
	Token    string `json:"token"`
	CertFP   string `json:"cert_fp"`
	PubKeyB64 string `json:"pubkey"`
}

// StartResult is returned to the desktop UI after starting a session.
type StartResult struct {
	QrData   QrPayload
	ExpiresAt time.Time
}

// PairRequest is the phone's pairing submission.
type PairRequest struct {
	Token      string
	PhonePubKeyB64 string
	DeviceName   string
	DeviceModel  string
}

// PendingApproval is shown to the desktop user while a request awaits a
// decision.
type PendingApproval struct {
	DeviceName string
	DeviceModel string
}

// ApprovedPairing carries everything needed to register the device and
// respond to the phone once the handshake completes.
type ApprovedPairing struct {
	DeviceName   string
	DeviceModel   string
	PhonePublicKey [32]byte
	SessionToken  string
	TokenHash    [32]byte
	CacheKey     [32]byte
	SharedSecret  []byte
}

type activeSession struct {
	token      string
	createdAt    time.Time
	desktopSecret *ecdh.PrivateKey
	desktopPublic *ecdh.PublicKey
	certFingerprint string
	serverURL    string
	consumed    bool
}

type pendingRequest struct {
	deviceName    string
	deviceModel    string
	phonePublicBytes [32]byte
	responseCh    chan bool
	signaled     bool
}

// Manager holds at most one active pairing session and at most one pending
// approval at a time, guarded by a mutex (spec §4.G state model). It lives
// as a per-profile singleton behind the profile's lock, per §9 design note.
type Manager struct {
	mu   sync.Mutex
	active *activeSession
	pending *pendingRequest
}

// NewManager constructs an empty pairing manager.
func NewManager() *Manager {
	return &Manager{}
}

// Start begins a new pairing session: generates an ephemeral X25519 keypair
// and a one-time token, and returns the QR payload for display.
func (m *Manager) Start(serverURL, certFingerprint string) (StartResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cleanupExpiredLocked()

	if m.active != nil {
		return StartResult{}, errs.New(errs.KindPairingError, "a pairing session is already in progress")
	}

	priv, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		return StartResult{}, errs.Wrap(errs.KindPairingError, "failed to generate pairing keypair", err)
	}
	token, err := generatePairingToken()
	if err != nil {
		return StartResult{}, errs.Wrap(errs.KindPairingError, "failed to generate pairing token", err)
	}

	qr := QrPayload{
		Version:  1,
		URL:     serverURL,
		Token:    token,
		CertFP:   certFingerprint,
		PubKeyB64: base64.StdEncoding.EncodeToString(priv.PublicKey().Bytes()),
	}

	expiresAt := time.Now().Add(pairingTokenTTL)

	m.active = &activeSession{
		token:      token,
		createdAt:    time.Now(),
		desktopSecret: priv,
		desktopPublic: priv.PublicKey(),
		certFingerprint: certFingerprint,
		serverURL:    serverURL,
		consumed:    false,
	}

	return StartResult{QrData: qr, ExpiresAt: expiresAt}, nil
}

// Cancel clears any active session and pending approval (a waiting phone
// handler, if any, observes its channel close without a value).
func (m *Manager) Cancel() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clearPendingLocked()
	m.active = nil
}

// ActiveQrData returns the current QR payload, or ok=false when no session
// is active, it has expired, or its token was already consumed.
func (m *Manager) ActiveQrData() (QrPayload, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session := m.active
	if session == nil {
		return QrPayload{}, false
	}
	if time.Since(session.createdAt) > pairingTokenTTL {
		return QrPayload{}, false
	}
	if session.consumed {
		return QrPayload{}, false
	}
	return QrPayload{
		Version:  1,
		URL:     session.serverURL,
		Token:    session.token,
		CertFP:   session.certFingerprint,
		PubKeyB64: base64.StdEncoding.EncodeToString(session.desktopPublic.Bytes()),
	}, true
}

// SubmitPairRequest validates and consumes the pairing token, stores the
// phone's submitted info as a pending approval, and returns a channel the
// caller should await for the desktop user's decision (true=approved).
func (m *Manager) SubmitPairRequest(request PairRequest) (<-chan bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session := m.active
	if session == nil {
		return nil, errs.New(errs.KindPairingError, "no active pairing session")
	}
	if session.consumed {
		return nil, errs.New(errs.KindPairingError, "pairing token already consumed")
	}

	storedHash := hashToken(session.token)
	requestHash := hashToken(request.Token)
	if subtle.ConstantTimeCompare(storedHash[:], requestHash[:]) == 0 {
		return nil, errs.New(errs.KindPairingError, "pairing token invalid")
	}
	if time.Since(session.createdAt) > pairingTokenTTL {
		m.active = nil
		return nil, errs.New(errs.KindPairingError, "pairing token expired")
	}

	pubKeyBytes, err := base64.StdEncoding.DecodeString(request.PhonePubKeyB64)
	if err != nil || len(pubKeyBytes) != 32 {
		return nil, errs.New(errs.KindPairingError, "invalid phone public key")
	}
	var phonePublic [32]byte
	copy(phonePublic[:], pubKeyBytes)

	session.consumed = true

	ch := make(chan bool, 1)
	m.pending = &pendingRequest{
		deviceName:    request.DeviceName,
		deviceModel:    request.DeviceModel,
		phonePublicBytes: phonePublic,
		responseCh:    ch,
	}

	return ch, nil
}

// PendingApproval returns the current pending request's display info, if any.
func (m *Manager) PendingApproval() (PendingApproval, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending == nil {
		return PendingApproval{}, false
	}
	return PendingApproval{DeviceName: m.pending.deviceName, DeviceModel: m.pending.deviceModel}, true
}

// SignalApproval wakes the phone's waiting handler with a positive result.
// It does not itself perform the key exchange — call CompletePairing next.
// The split exists to avoid a race where the HTTP handler's wakeup runs
// before the desktop approval command has finished its own bookkeeping.
func (m *Manager) SignalApproval() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending == nil {
		return errs.New(errs.KindPairingError, "no pending pairing approval")
	}
	if m.pending.signaled {
		return errs.New(errs.KindPairingError, "pairing approval already signaled")
	}
	m.pending.signaled = true
	m.pending.responseCh <- true
	return nil
}

// Deny rejects the pending request and clears the active session.
func (m *Manager) Deny() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending != nil && !m.pending.signaled {
		m.pending.signaled = true
		m.pending.responseCh <- false
	}
	m.pending = nil
	m.active = nil
}

// CompletePairing performs the X25519 ECDH exchange, derives the cache key
// via HKDF-SHA256, and issues a new bearer session token. Called by the
// HTTP handler once its wait on the SubmitPairRequest channel unblocks.
func (m *Manager) CompletePairing() (ApprovedPairing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session := m.active
	pending := m.pending
	if session == nil {
		return ApprovedPairing{}, errs.New(errs.KindPairingError, "no active pairing session")
	}
	if pending == nil {
		return ApprovedPairing{}, errs.New(errs.KindPairingError, "no pending approval to complete")
	}
	m.active = nil
	m.pending = nil

	phonePublic, err := ecdh.X25519().NewPublicKey(pending.phonePublicBytes[:])
	if err != nil {
		return ApprovedPairing{}, errs.Wrap(errs.KindPairingError, "invalid phone public key", err)
	}
	sharedSecret, err := session.desktopSecret.ECDH(phonePublic)
	if err != nil {
		return ApprovedPairing{}, errs.Wrap(errs.KindPairingError, "ECDH key exchange failed", err)
	}

	cacheKey, err := deriveKey(sharedSecret, cacheKeySalt)
	if err != nil {
		return ApprovedPairing{}, errs.Wrap(errs.KindPairingError, "cache key derivation failed", err)
	}

	sessionToken, err := generatePairingToken()
	if err != nil {
		return ApprovedPairing{}, errs.Wrap(errs.KindPairingError, "session token generation failed", err)
	}

	return ApprovedPairing{
		DeviceName:   pending.deviceName,
		DeviceModel:   pending.deviceModel,
		PhonePublicKey: pending.phonePublicBytes,
		SessionToken:  sessionToken,
		TokenHash:    hashToken(sessionToken),
		CacheKey:    cacheKey,
		SharedSecret:  sharedSecret,
	}, nil
}

// IsActive reports whether a pairing session is currently active.
func (m *Manager) IsActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active != nil
}

// HasPending reports whether a phone request awaits desktop approval.
func (m *Manager) HasPending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending != nil
}

// CleanupExpired drops the active session (and any pending request) if its
// token TTL has elapsed. Intended to be called periodically.
func (m *Manager) CleanupExpired() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleanupExpiredLocked()
}

func (m *Manager) cleanupExpiredLocked() {
	if m.active != nil && time.Since(m.active.createdAt) > pairingTokenTTL {
		m.clearPendingLocked()
		m.active = nil
	}
}

func (m *Manager) clearPendingLocked() {
	if m.pending != nil && !m.pending.signaled {
		m.pending.signaled = true
		close(m.pending.responseCh)
	}
	m.pending = nil
}

// AwaitApproval blocks until the phone's pending approval channel resolves
// or ctx is done, returning a KindPairingError ("approval timed out") once
// ctx is done.
func AwaitApproval(ctx context.Context, ch <-chan bool) (bool, error) {
	select {
	case approved, ok := <-ch:
		if !ok {
			return false, errs.New(errs.KindPairingError, "pairing session was cancelled")
		}
		return approved, nil
	case <-ctx.Done():
		return false, errs.New(errs.KindPairingError, "approval timed out")
	}
}

// generatePairingToken returns 32 bytes of entropy, URL-safe base64 encoded.
func generatePairingToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func hashToken(token string) [32]byte {
	return sha256.Sum256([]byte(token))
}

// HashToken exposes the session-token hash so callers outside this package
// (the HTTP auth middleware) can resolve a bearer token against stored
// DeviceSession rows without duplicating the hash scheme.
func HashToken(token string) [32]byte {
	return hashToken(token)
}

// deriveKey expands an HKDF-SHA256 stream over secret, salted with salt and
// using the fixed "v1" info string, into a 32-byte key.
func deriveKey(secret []byte, salt string) ([32]byte, error) {
	var key [32]byte
	reader := hkdf.New(sha256.New, secret, []byte(salt), []byte(hkdfInfo))
	if _, err := io.ReadFull(reader, key[:]); err != nil {
		return key, err
	}
	return key, nil
}

// EncryptCacheKeyForTransport derives a transport key from the ECDH shared
// secret (distinct from the cache key itself) and AES-256-GCM encrypts the
// cache key with a random 12-byte nonce, returning base64(nonce ∥ ciphertext).
func EncryptCacheKeyForTransport(cacheKey [32]byte, sharedSecret []byte) (string, error) {
	transportKey, err := deriveKey(sharedSecret, transportKeySalt)
	if err != nil {
		return "", errs.Wrap(errs.KindPairingError, "transport key derivation failed", err)
	}

	block, err := aes.NewCipher(transportKey[:])
	if err != nil {
		return "", errs.Wrap(errs.KindPairingError, "cipher init failed", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", errs.Wrap(errs.KindPairingError, "GCM init failed", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", errs.Wrap(errs.KindPairingError, "nonce generation failed", err)
	}

	ciphertext := gcm.Seal(nil, nonce, cacheKey[:], nil)
	combined := append(nonce, ciphertext...)
	return base64.StdEncoding.EncodeToString(combined), nil
}

// DeviceStore persists paired devices and their sessions, backed by
// internal/store (spec §6.3: the SQL-equivalent persisted-state layout,
// re-targeted here to the badger-backed core store).
type DeviceStore interface {
	StorePairedDevice(ctx context.Context, device types.PairedDevice) error
	StoreSession(ctx context.Context, session types.DeviceSession) error
	RevokeDevice(ctx context.Context, deviceID types.ID) error
	ListPairedDevices(ctx context.Context) ([]types.PairedDevice, error)
}

// RegisterDevice builds and persists the PairedDevice/DeviceSession rows for
// a just-approved pairing.
func RegisterDevice(ctx context.Context, store DeviceStore, approved ApprovedPairing) (types.PairedDevice, types.DeviceSession, error) {
	now := time.Now().UTC()
	device := types.PairedDevice{
		DeviceID:   types.NewID(),
		DeviceName:  approved.DeviceName,
		DeviceModel: approved.DeviceModel,
		PublicKey:  approved.PhonePublicKey,
		PairedAt:   now,
		LastSeen:   now,
		IsRevoked:  false,
	}
	session := types.DeviceSession{
		SessionID: types.NewID(),
		DeviceID:  device.DeviceID,
		TokenHash: approved.TokenHash,
		CreatedAt: now,
		ExpiresAt: now.Add(24 * time.Hour),
		LastUsed:  now,
	}
	if err := store.StorePairedDevice(ctx, device); err != nil {
		return types.PairedDevice{}, types.DeviceSession{}, errs.Wrap(errs.KindDatabaseError, "failed to store paired device", err)
	}
	if err := store.StoreSession(ctx, session); err != nil {
		return types.PairedDevice{}, types.DeviceSession{}, errs.Wrap(errs.KindDatabaseError, "failed to store device session", err)
	}
	return device, session, nil
}
