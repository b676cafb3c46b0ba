package pairing

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"testing"
	"time"
)

func phoneKeypair(t *testing.T) (*ecdh.PrivateKey, string) {
	t.Helper()
	priv, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate phone keypair: %v", err)
	}
	return priv, base64.StdEncoding.EncodeToString(priv.PublicKey().Bytes())
}

// S8 / invariant 6-8 (spec §8): token is one-time use, approval requires a
// pending request, deny/timeout clears both active and pending state.
func TestStartThenSubmitThenComplete(t *testing.T) {
	m := NewManager()

	started, err := m.Start("https://192.168.1.5:8443", "AA:BB:CC")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !m.IsActive() {
		t.Fatal("expected manager to report an active session")
	}

	_, phonePubB64 := phoneKeypair(t)

	ch, err := m.SubmitPairRequest(PairRequest{
		Token:      started.QrData.Token,
		PhonePubKeyB64: phonePubB64,
		DeviceName:   "Pixel 8",
		DeviceModel:  "Pixel8Pro",
	})
	if err != nil {
		t.Fatalf("SubmitPairRequest: %v", err)
	}
	if !m.HasPending() {
		t.Fatal("expected a pending approval")
	}

	if err := m.SignalApproval(); err != nil {
		t.Fatalf("SignalApproval: %v", err)
	}

	approved, ok, err := recvApproval(t, ch)
	if err != nil {
		t.Fatalf("awaiting approval: %v", err)
	}
	if !ok || !approved {
		t.Fatal("expected approval to resolve true")
	}

	result, err := m.CompletePairing()
	if err != nil {
		t.Fatalf("CompletePairing: %v", err)
	}
	if result.DeviceName != "Pixel 8" {
		t.Errorf("expected device name to round-trip, got %q", result.DeviceName)
	}
	if result.SessionToken == "" {
		t.Error("expected a non-empty session token")
	}
	if m.IsActive() || m.HasPending() {
		t.Error("expected active session and pending approval to be cleared after completion")
	}
}

func recvApproval(t *testing.T, ch <-chan bool) (bool, bool, error) {
	t.Helper()
	select {
	case v, ok := <-ch:
		return v, ok, nil
	case <-time.After(2 * time.Second):
		return false, false, context.DeadlineExceeded
	}
}

func TestSubmitPairRequestRejectsWrongToken(t *testing.T) {
	m := NewManager()
	if _, err := m.Start("https://host:8443", "fp"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	_, phonePubB64 := phoneKeypair(t)

	_, err := m.SubmitPairRequest(PairRequest{
		Token:      "not-the-real-token",
		PhonePubKeyB64: phonePubB64,
		DeviceName:   "phone",
		DeviceModel:  "model",
	})
	if err == nil {
		t.Fatal("expected an error for an invalid token")
	}
}

func TestTokenIsOneTimeUse(t *testing.T) {
	m := NewManager()
	started, err := m.Start("https://host:8443", "fp")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	_, phonePubB64 := phoneKeypair(t)

	req := PairRequest{Token: started.QrData.Token, PhonePubKeyB64: phonePubB64, DeviceName: "d", DeviceModel: "m"}
	if _, err := m.SubmitPairRequest(req); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if _, err := m.SubmitPairRequest(req); err == nil {
		t.Fatal("expected second submission of the same token to fail")
	}
}

func TestDenyClearsActiveAndPending(t *testing.T) {
	m := NewManager()
	started, err := m.Start("https://host:8443", "fp")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	_, phonePubB64 := phoneKeypair(t)

	ch, err := m.SubmitPairRequest(PairRequest{Token: started.QrData.Token, PhonePubKeyB64: phonePubB64, DeviceName: "d", DeviceModel: "m"})
	if err != nil {
		t.Fatalf("SubmitPairRequest: %v", err)
	}

	m.Deny()

	approved, ok, err := recvApproval(t, ch)
	if err != nil {
		t.Fatalf("awaiting denial: %v", err)
	}
	if !ok || approved {
		t.Fatal("expected denial to resolve false")
	}
	if m.IsActive() || m.HasPending() {
		t.Error("expected both active and pending to be cleared after deny")
	}
}

func TestApprovalCannotFireWithoutPending(t *testing.T) {
	m := NewManager()
	if err := m.SignalApproval(); err == nil {
		t.Fatal("expected an error signaling approval with no pending request")
	}
}

func TestActiveQrDataHiddenAfterConsumption(t *testing.T) {
	m := NewManager()
	started, err := m.Start("https://host:8443", "fp")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, ok := m.ActiveQrData(); !ok {
		t.Fatal("expected QR data to be visible before consumption")
	}
	_, phonePubB64 := phoneKeypair(t)
	if _, err := m.SubmitPairRequest(PairRequest{Token: started.QrData.Token, PhonePubKeyB64: phonePubB64, DeviceName: "d", DeviceModel: "m"}); err != nil {
		t.Fatalf("SubmitPairRequest: %v", err)
	}
	if _, ok := m.ActiveQrData(); ok {
		t.Error("expected QR data to be hidden once the token is consumed")
	}
}

func TestStartRejectsWhenAlreadyActive(t *testing.T) {
	m := NewManager()
	if _, err := m.Start("https://host:8443", "fp"); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	if _, err := m.Start("https://host:8443", "fp"); err == nil {
		t.Fatal("expected second Start to fail while a session is active")
	}
}

func TestEncryptCacheKeyForTransportRoundTripsLength(t *testing.T) {
	var cacheKey [32]byte
	if _, err := rand.Read(cacheKey[:]); err != nil {
		t.Fatalf("rand.Read: %v", err)
	}
	sharedSecret := make([]byte, 32)
	if _, err := rand.Read(sharedSecret); err != nil {
		t.Fatalf("rand.Read: %v", err)
	}

	encoded, err := EncryptCacheKeyForTransport(cacheKey, sharedSecret)
	if err != nil {
		t.Fatalf("EncryptCacheKeyForTransport: %v", err)
	}
	if encoded == "" {
		t.Fatal("expected a non-empty encoded result")
	}
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		t.Fatalf("decoding result: %v", err)
	}
	// 12-byte nonce + 32-byte plaintext + 16-byte GCM tag.
	if len(decoded) != 12+32+16 {
		t.Errorf("expected combined length 60, got %d", len(decoded))
	}
}
